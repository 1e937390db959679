package menu

import (
	"sort"

	"github.com/riverbase/authgate/pkg/permission"
)

// Operation is one permission-sheet entry: an atomic permission identifier
// plus the metadata needed to render it as a menu item.
type Operation struct {
	Key    string `json:"key" yaml:"key"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Icon   string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Order  int    `json:"order,omitempty" yaml:"order,omitempty"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
	App    bool   `json:"app,omitempty" yaml:"app,omitempty"`
}

// Node is a rendering-ready menu entry. Children are sorted ascending by
// Order, ties keeping input order.
type Node struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	Path     string  `json:"path,omitempty"`
	Icon     string  `json:"icon,omitempty"`
	Order    int     `json:"order"`
	Parent   string  `json:"parent,omitempty"`
	Children []*Node `json:"children"`
}

// Build transforms a permission sheet into a menu tree containing only the
// operations present in allowed. When appContext is set, entries not marked
// app-visible are dropped as well.
//
// The returned map is keyed by top-level operation key. A child whose parent
// appears later in the sheet is attached to an auto-vivified placeholder that
// the later entry fills in. A parent key that never appears as its own
// top-level entry leaves its subtree unreachable from the returned map; such
// orphans are dropped silently, matching the upstream sheet contract.
func Build(sheet []Operation, appContext bool, allowed *permission.Set) map[string]*Node {
	working := make(map[string]*Node)
	top := make(map[string]*Node)

	for _, op := range sheet {
		if op.Key == "" || !allowed.Contains(op.Key) {
			continue
		}
		if appContext && !op.App {
			continue
		}

		node, ok := working[op.Key]
		if !ok {
			node = &Node{Key: op.Key, Children: []*Node{}}
			working[op.Key] = node
		}
		node.Name = op.Name
		if node.Name == "" {
			node.Name = op.Key
		}
		node.Path = op.Path
		node.Icon = op.Icon
		node.Order = op.Order
		node.Parent = op.Parent

		if op.Parent != "" {
			parent, ok := working[op.Parent]
			if !ok {
				parent = &Node{Key: op.Parent, Name: op.Parent, Children: []*Node{}}
				working[op.Parent] = parent
			}
			parent.Children = append(parent.Children, node)
			continue
		}
		top[op.Key] = node
	}

	for _, node := range top {
		sortChildren(node)
	}
	return top
}

// BuildAll merges several named sheets, namespacing each sheet's tree under
// the sheet's own key one level up.
func BuildAll(sheets map[string][]Operation, appContext bool, allowed *permission.Set) map[string]map[string]*Node {
	merged := make(map[string]map[string]*Node, len(sheets))
	for name, sheet := range sheets {
		merged[name] = Build(sheet, appContext, allowed)
	}
	return merged
}

func sortChildren(node *Node) {
	sort.SliceStable(node.Children, func(i, j int) bool {
		return node.Children[i].Order < node.Children[j].Order
	})
	for _, child := range node.Children {
		sortChildren(child)
	}
}
