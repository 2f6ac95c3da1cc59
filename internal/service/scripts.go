package service

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mmcdole/bundlesync/internal/domain"
)

// Scripts is the in-memory table of script chunks loaded from the
// script directory, keyed by path relative to that directory without
// suffixes (e.g. "ui/main").
type Scripts struct {
	resources domain.ResourceStore
	logger    *slog.Logger

	mu     sync.RWMutex
	chunks map[string][]byte
}

// NewScripts creates an empty script table. resources, if non-nil,
// serves chunks packaged with the build under "Lua/{name}.lua".
func NewScripts(resources domain.ResourceStore, logger *slog.Logger) *Scripts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scripts{
		resources: resources,
		logger:    logger,
		chunks:    make(map[string][]byte),
	}
}

// Replace swaps the whole table.
func (s *Scripts) Replace(chunks map[string][]byte) {
	if chunks == nil {
		chunks = make(map[string][]byte)
	}
	s.mu.Lock()
	s.chunks = chunks
	s.mu.Unlock()
}

// Len returns the number of loaded chunks.
func (s *Scripts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Names lists the loaded chunk names, sorted.
func (s *Scripts) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.chunks))
	for name := range s.chunks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bytes returns the source of the named script or nil. Dots in name
// are path separators. The last path segment is tried first, then the
// full path, then the packaged store.
func (s *Scripts) Bytes(name string) []byte {
	name = strings.ReplaceAll(name, ".", "/")
	sub := name[strings.LastIndex(name, "/")+1:]

	s.mu.RLock()
	if b, ok := s.chunks[sub]; ok {
		s.mu.RUnlock()
		return b
	}
	if b, ok := s.chunks[name]; ok {
		s.mu.RUnlock()
		return b
	}
	s.mu.RUnlock()

	if s.resources != nil {
		if asset, ok := s.resources.Get("Lua/" + name + ".lua"); ok {
			return asset.Data
		}
	}

	s.logger.Debug("script not found", "name", name, "suggestions", Suggest(name, s.Names(), 3))
	return nil
}
