package menu

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/riverbase/authgate/pkg/remote"
)

// SheetSource loads a named permission sheet.
type SheetSource interface {
	LoadSheet(ctx context.Context, name string) ([]Operation, error)
}

// sheetDocument is the wire shape of a sheet response:
// { result: { operations: [...] } }, matching the permission stream records.
type sheetDocument struct {
	Result struct {
		Operations []Operation `json:"operations"`
	} `json:"result"`
}

// RemoteSource fetches sheets from the RDB collaborator, keeping recently
// used sheets in an in-process LRU. Sheet definitions change rarely; the
// cache saves a backend round trip per profile request.
type RemoteSource struct {
	caller remote.Caller
	cache  *lru.Cache[string, []Operation]
}

// NewRemoteSource builds a remote sheet source with an LRU of cacheSize
// sheets (minimum 1).
func NewRemoteSource(caller remote.Caller, cacheSize int) (*RemoteSource, error) {
	if cacheSize < 1 {
		cacheSize = 16
	}
	cache, err := lru.New[string, []Operation](cacheSize)
	if err != nil {
		return nil, err
	}
	return &RemoteSource{caller: caller, cache: cache}, nil
}

// LoadSheet returns the named sheet, from cache when possible.
func (s *RemoteSource) LoadSheet(ctx context.Context, name string) ([]Operation, error) {
	if sheet, ok := s.cache.Get(name); ok {
		return sheet, nil
	}

	result, err := s.caller.Call(ctx, remote.OpLoadSheet, "", map[string]string{"sheet": name}, false)
	if err != nil {
		return nil, fmt.Errorf("menu: loading sheet %q: %w", name, err)
	}

	var doc sheetDocument
	if err := json.Unmarshal(result.Body, &doc); err != nil {
		return nil, fmt.Errorf("menu: decoding sheet %q: %w", name, err)
	}

	s.cache.Add(name, doc.Result.Operations)
	return doc.Result.Operations, nil
}

// Invalidate drops a cached sheet, forcing a refetch on next load.
func (s *RemoteSource) Invalidate(name string) {
	s.cache.Remove(name)
}
