// Package fakerepo provides an in-memory ports.ScriptRepository.
package fakerepo

import (
	"context"
	"sort"
	"sync"

	"github.com/acolita/rotinas/internal/ports"
)

// Repository keeps scripts in memory, listed user first then public, each
// group sorted by path.
type Repository struct {
	mu      sync.Mutex
	scripts map[ports.Origin]map[string]string
	saves   []ports.Script

	// ListErr is returned by List when set.
	ListErr error
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{scripts: map[ports.Origin]map[string]string{
		ports.OriginUser:   {},
		ports.OriginPublic: {},
	}}
}

// Add stores a script without recording a save.
func (r *Repository) Add(origin ports.Origin, path, source string) *Repository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[origin][path] = source
	return r
}

// List returns every script.
func (r *Repository) List(ctx context.Context) ([]ports.Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var out []ports.Script
	for _, origin := range []ports.Origin{ports.OriginUser, ports.OriginPublic} {
		paths := make([]string, 0, len(r.scripts[origin]))
		for p := range r.scripts[origin] {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			out = append(out, ports.Script{Path: p, Source: r.scripts[origin][p], Origin: origin})
		}
	}
	return out, nil
}

// Get returns one script. An empty origin searches user then public.
func (r *Repository) Get(ctx context.Context, origin ports.Origin, path string) (ports.Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	origins := []ports.Origin{origin}
	if origin == "" {
		origins = []ports.Origin{ports.OriginUser, ports.OriginPublic}
	}
	for _, o := range origins {
		if src, ok := r.scripts[o][path]; ok {
			return ports.Script{Path: path, Source: src, Origin: o}, nil
		}
	}
	return ports.Script{}, ports.ErrScriptNotFound
}

// Save stores a script and records the call.
func (r *Repository) Save(ctx context.Context, s ports.Script) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[s.Origin]; !ok {
		r.scripts[s.Origin] = map[string]string{}
	}
	r.scripts[s.Origin][s.Path] = s.Source
	r.saves = append(r.saves, s)
	return nil
}

// Delete removes a script.
func (r *Repository) Delete(ctx context.Context, origin ports.Origin, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[origin][path]; !ok {
		return ports.ErrScriptNotFound
	}
	delete(r.scripts[origin], path)
	return nil
}

// Saves returns every saved script in order.
func (r *Repository) Saves() []ports.Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.Script(nil), r.saves...)
}

// Ensure Repository implements ports.ScriptRepository.
var _ ports.ScriptRepository = (*Repository)(nil)
