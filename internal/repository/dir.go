package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/acolita/rotinas/internal/ports"
)

// Ext is the file extension of a rotina.
const Ext = ".rotina"

// Dir keeps each script in <root>/<path>.rotina. Listings are cached until
// a file under a root changes.
type Dir struct {
	roots          map[ports.Origin]string
	writablePublic bool
	logger         *slog.Logger
	onChange       func()

	mu     sync.Mutex
	cached []ports.Script
	valid  bool
}

// DirOption configures a Dir.
type DirOption func(*Dir)

// WithWritablePublic allows Save and Delete on the public directory.
func WithWritablePublic() DirOption {
	return func(d *Dir) { d.writablePublic = true }
}

// WithDirLogger overrides slog.Default.
func WithDirLogger(l *slog.Logger) DirOption {
	return func(d *Dir) { d.logger = l }
}

// WithChangeHook is called after Watch sees a change.
func WithChangeHook(fn func()) DirOption {
	return func(d *Dir) { d.onChange = fn }
}

// NewDir returns a repository over userRoot and publicRoot. An empty root
// disables that origin.
func NewDir(userRoot, publicRoot string, opts ...DirOption) *Dir {
	d := &Dir{
		roots:  map[ports.Origin]string{ports.OriginUser: userRoot, ports.OriginPublic: publicRoot},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dir) file(origin ports.Origin, p string) string {
	return filepath.Join(d.roots[origin], filepath.FromSlash(p)+Ext)
}

func (d *Dir) invalidate() {
	d.mu.Lock()
	d.valid = false
	d.cached = nil
	d.mu.Unlock()
}

// List returns user scripts then public ones, each sorted by path.
func (d *Dir) List(ctx context.Context) ([]ports.Script, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.valid {
		return append([]ports.Script(nil), d.cached...), nil
	}

	var out []ports.Script
	for _, origin := range origins {
		scripts, err := scan(d.roots[origin], origin)
		if err != nil {
			return nil, err
		}
		out = append(out, scripts...)
	}
	d.cached, d.valid = out, true
	return append([]ports.Script(nil), out...), nil
}

func scan(root string, origin ports.Origin) ([]ports.Script, error) {
	if root == "" {
		return nil, nil
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, "**/*"+Ext)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	sort.Strings(matches)

	scripts := make([]ports.Script, 0, len(matches))
	for _, m := range matches {
		data, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m, err)
		}
		scripts = append(scripts, ports.Script{
			Path:   strings.TrimSuffix(m, Ext),
			Source: string(data),
			Origin: origin,
		})
	}
	return scripts, nil
}

// Get returns one script. An empty origin searches user then public.
func (d *Dir) Get(ctx context.Context, origin ports.Origin, p string) (ports.Script, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return ports.Script{}, err
	}
	order, err := searchOrder(origin)
	if err != nil {
		return ports.Script{}, err
	}
	for _, o := range order {
		if d.roots[o] == "" {
			continue
		}
		data, err := os.ReadFile(d.file(o, clean))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return ports.Script{}, fmt.Errorf("read %s: %w", clean, err)
		}
		return ports.Script{Path: clean, Source: string(data), Origin: o}, nil
	}
	return ports.Script{}, ports.ErrScriptNotFound
}

func (d *Dir) writable(origin ports.Origin) error {
	if _, err := searchOrder(origin); err != nil || origin == "" {
		return fmt.Errorf("unknown origin %q", origin)
	}
	if d.roots[origin] == "" {
		return fmt.Errorf("no directory for origin %s", origin)
	}
	if origin == ports.OriginPublic && !d.writablePublic {
		return ErrReadOnly
	}
	return nil
}

// Save writes the script through a temporary file and a rename.
func (d *Dir) Save(ctx context.Context, s ports.Script) error {
	clean, err := cleanPath(s.Path)
	if err != nil {
		return err
	}
	if s.Origin == "" {
		s.Origin = ports.OriginUser
	}
	if err := d.writable(s.Origin); err != nil {
		return err
	}

	target := d.file(s.Origin, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(s.Source), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", clean, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", clean, err)
	}
	d.invalidate()
	return nil
}

// Delete removes the script file.
func (d *Dir) Delete(ctx context.Context, origin ports.Origin, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	if origin == "" {
		origin = ports.OriginUser
	}
	if err := d.writable(origin); err != nil {
		return err
	}
	if err := os.Remove(d.file(origin, clean)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ports.ErrScriptNotFound
		}
		return fmt.Errorf("delete %s: %w", clean, err)
	}
	d.invalidate()
	return nil
}

// Watch invalidates the listing cache whenever a file under a root
// changes. It blocks until ctx is done.
func (d *Dir) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, origin := range origins {
		root := d.roots[origin]
		if root == "" {
			continue
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", root, err)
		}
		if err := addTree(w, root); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(w, event.Name); err != nil {
						d.logger.Warn("cannot watch directory", slog.String("path", event.Name), slog.String("error", err.Error()))
					}
				}
			}
			if strings.HasSuffix(event.Name, ".tmp") || event.Op == fsnotify.Chmod {
				continue
			}
			d.invalidate()
			d.logger.Debug("script directory changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			if d.onChange != nil {
				d.onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("script watcher error", slog.String("error", err.Error()))
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if err := w.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
		}
		return nil
	})
}

var _ ports.ScriptRepository = (*Dir)(nil)
