package autotrigger

import (
	"sort"
	"sync"
	"time"
)

// Suppressions keeps the paths whose auto-trigger was disabled for this
// process or until a given time. Nothing here is persisted.
type Suppressions struct {
	mu      sync.Mutex
	session map[string]struct{}
	until   map[string]time.Time
}

// NewSuppressions returns an empty set.
func NewSuppressions() *Suppressions {
	return &Suppressions{
		session: make(map[string]struct{}),
		until:   make(map[string]time.Time),
	}
}

// DisableSession suppresses path until the process exits.
func (s *Suppressions) DisableSession(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session[path] = struct{}{}
}

// DisableFor suppresses path until the given time.
func (s *Suppressions) DisableFor(path string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until[path] = until
}

// Suppressed reports whether path may not trigger at now. Expired entries
// are dropped.
func (s *Suppressions) Suppressed(path string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.session[path]; ok {
		return true
	}
	if until, ok := s.until[path]; ok {
		if now.Before(until) {
			return true
		}
		delete(s.until, path)
	}
	return false
}

// Clear removes every suppression of path, or all of them when path is empty.
func (s *Suppressions) Clear(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == "" {
		s.session = make(map[string]struct{})
		s.until = make(map[string]time.Time)
		return
	}
	delete(s.session, path)
	delete(s.until, path)
}

// Paths lists the suppressed paths in order.
func (s *Suppressions) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.session)+len(s.until))
	for p := range s.session {
		seen[p] = struct{}{}
	}
	for p := range s.until {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
