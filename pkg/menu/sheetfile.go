package menu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/riverbase/authgate/pkg/observability"
)

// FileSource serves permission sheets from a local YAML file and hot-reloads
// it when the file changes. The file maps sheet names to operation lists:
//
//	admin:
//	  - key: admin.users
//	    name: Users
//	    order: 1
//	  - key: admin.users.create
//	    parent: admin.users
type FileSource struct {
	path   string
	logger *observability.Logger

	mu     sync.RWMutex
	sheets map[string][]Operation

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileSource loads the file once and starts watching it for changes.
func NewFileSource(path string, logger *observability.Logger) (*FileSource, error) {
	s := &FileSource{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("menu: starting sheet watcher: %w", err)
	}
	// watch the directory: editors replace files rather than writing in place
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("menu: watching %s: %w", path, err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

// LoadSheet returns the named sheet from the current file snapshot. An
// unknown name yields an empty sheet, not an error.
func (s *FileSource) LoadSheet(_ context.Context, name string) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sheets[name], nil
}

// SheetNames lists the sheets defined in the file.
func (s *FileSource) SheetNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sheets))
	for name := range s.sheets {
		names = append(names, name)
	}
	return names
}

// Close stops the watcher.
func (s *FileSource) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *FileSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("menu: reading sheet file: %w", err)
	}

	var sheets map[string][]Operation
	if err := yaml.Unmarshal(data, &sheets); err != nil {
		return fmt.Errorf("menu: parsing sheet file: %w", err)
	}

	s.mu.Lock()
	s.sheets = sheets
	s.mu.Unlock()
	return nil
}

func (s *FileSource) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				// keep serving the previous snapshot
				s.logger.WithError(err).Warn("sheet file reload failed")
				continue
			}
			s.logger.WithField("path", s.path).Info("sheet file reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("sheet file watcher error")
		}
	}
}
