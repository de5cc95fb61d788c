package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/acolita/rotinas/internal/ports"
)

// KV persists scripts in a KeyValueStore: the source under
// rotina:<origin>:<path> and the path list of each origin under
// indice:<origin>.
type KV struct {
	store ports.KeyValueStore
	mu    sync.Mutex
}

// NewKV returns a repository over store.
func NewKV(store ports.KeyValueStore) *KV {
	return &KV{store: store}
}

func scriptKey(origin ports.Origin, p string) string {
	return fmt.Sprintf("rotina:%s:%s", origin, p)
}

func indexKey(origin ports.Origin) string {
	return fmt.Sprintf("indice:%s", origin)
}

func (r *KV) index(ctx context.Context, origin ports.Origin) ([]string, error) {
	k := indexKey(origin)
	vals, err := r.store.Get(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	raw, ok := vals[k]
	if !ok || raw == "" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", origin, err)
	}
	return paths, nil
}

func encodeIndex(paths []string) string {
	sort.Strings(paths)
	data, _ := json.Marshal(paths)
	return string(data)
}

// List returns user scripts then public ones, each sorted by path.
func (r *KV) List(ctx context.Context) ([]ports.Script, error) {
	var out []ports.Script
	for _, origin := range origins {
		paths, err := r.index(ctx, origin)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			continue
		}
		keys := make([]string, len(paths))
		for i, p := range paths {
			keys[i] = scriptKey(origin, p)
		}
		vals, err := r.store.Get(ctx, keys...)
		if err != nil {
			return nil, fmt.Errorf("read scripts: %w", err)
		}
		sort.Strings(paths)
		for _, p := range paths {
			src, ok := vals[scriptKey(origin, p)]
			if !ok {
				continue
			}
			out = append(out, ports.Script{Path: p, Source: src, Origin: origin})
		}
	}
	return out, nil
}

// Get returns one script. An empty origin searches user then public.
func (r *KV) Get(ctx context.Context, origin ports.Origin, p string) (ports.Script, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return ports.Script{}, err
	}
	order, err := searchOrder(origin)
	if err != nil {
		return ports.Script{}, err
	}
	for _, o := range order {
		k := scriptKey(o, clean)
		vals, err := r.store.Get(ctx, k)
		if err != nil {
			return ports.Script{}, fmt.Errorf("read %s: %w", clean, err)
		}
		if src, ok := vals[k]; ok {
			return ports.Script{Path: clean, Source: src, Origin: o}, nil
		}
	}
	return ports.Script{}, ports.ErrScriptNotFound
}

// Save writes the source and adds the path to the index.
func (r *KV) Save(ctx context.Context, s ports.Script) error {
	clean, err := cleanPath(s.Path)
	if err != nil {
		return err
	}
	if s.Origin == "" {
		s.Origin = ports.OriginUser
	}
	if _, err := searchOrder(s.Origin); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	paths, err := r.index(ctx, s.Origin)
	if err != nil {
		return err
	}
	values := map[string]string{scriptKey(s.Origin, clean): s.Source}
	if !contains(paths, clean) {
		values[indexKey(s.Origin)] = encodeIndex(append(paths, clean))
	}
	if err := r.store.Set(ctx, values); err != nil {
		return fmt.Errorf("save %s: %w", clean, err)
	}
	return nil
}

// Delete removes the script and its index entry.
func (r *KV) Delete(ctx context.Context, origin ports.Origin, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	if origin == "" {
		origin = ports.OriginUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	paths, err := r.index(ctx, origin)
	if err != nil {
		return err
	}
	if !contains(paths, clean) {
		return ports.ErrScriptNotFound
	}
	kept := paths[:0]
	for _, existing := range paths {
		if existing != clean {
			kept = append(kept, existing)
		}
	}
	if err := r.store.Set(ctx, map[string]string{indexKey(origin): encodeIndex(kept)}); err != nil {
		return fmt.Errorf("update index: %w", err)
	}
	if err := r.store.Remove(ctx, scriptKey(origin, clean)); err != nil {
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var _ ports.ScriptRepository = (*KV)(nil)
