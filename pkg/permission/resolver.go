// Package permission resolves a user's effective operation set from the
// streamed role listing produced by the auth backend.
//
// The backend does not return one JSON document; it streams one JSON object
// per line, each optionally carrying a nested operation list. Malformed lines
// are skipped rather than failing the whole resolution, so a partially corrupt
// stream degrades to a smaller permission set instead of a login outage.
package permission

import (
	"encoding/json"
	"strings"
)

// record is the shape of one streamed line: { result: { operations: [...] } }.
type record struct {
	Result struct {
		Operations []string `json:"operations"`
	} `json:"result"`
}

// Set is a deduplicated collection of operation identifiers. Insertion order
// is preserved so resolutions are deterministic.
type Set struct {
	keys  []string
	index map[string]struct{}
}

// NewSet builds a set from the given operations, dropping duplicates.
func NewSet(ops ...string) *Set {
	s := &Set{index: make(map[string]struct{}, len(ops))}
	for _, op := range ops {
		s.Add(op)
	}
	return s
}

// Add inserts op unless already present.
func (s *Set) Add(op string) {
	if _, ok := s.index[op]; ok {
		return
	}
	s.index[op] = struct{}{}
	s.keys = append(s.keys, op)
}

// Contains reports whether op is in the set.
func (s *Set) Contains(op string) bool {
	_, ok := s.index[op]
	return ok
}

// ContainsAny reports whether at least one of ops is in the set. An empty ops
// list matches nothing.
func (s *Set) ContainsAny(ops ...string) bool {
	for _, op := range ops {
		if s.Contains(op) {
			return true
		}
	}
	return false
}

// Values returns the operations in first-seen order.
func (s *Set) Values() []string {
	return append([]string(nil), s.keys...)
}

// Len returns the number of distinct operations.
func (s *Set) Len() int {
	return len(s.keys)
}

// Resolve parses a newline-delimited stream of permission records into the
// deduplicated set of operation identifiers. Blank and unparseable lines are
// skipped. Empty input yields an empty set, never an error.
func Resolve(raw string) *Set {
	set := NewSet()
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// corrupt line, keep going
			continue
		}
		for _, op := range rec.Result.Operations {
			set.Add(op)
		}
	}
	return set
}
