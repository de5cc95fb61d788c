// Package autotrigger starts rotinas automatically when the text they
// declare with autoExecutar appears on screen.
package autotrigger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/keys"
	"github.com/acolita/rotinas/internal/pattern"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
	"github.com/acolita/rotinas/internal/screen"
	"github.com/acolita/rotinas/internal/supervisor"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultDebounce = 300 * time.Millisecond
	// defaultDisableMinutes applies when a timed suppression has no duration.
	defaultDisableMinutes = 30
)

// Executor starts runs and reports the execution state.
type Executor interface {
	State() supervisor.State
	Execute(ctx context.Context, req supervisor.Request) error
}

// Deps are the collaborators of a Watcher.
type Deps struct {
	Repository ports.ScriptRepository
	Terminal   ports.Terminal
	Executor   Executor
	Clock      ports.Clock
	Dialog     ports.DialogProvider
	Codec      *keys.Codec
}

// Waiter blocks a path from triggering again until its reactivation key
// is pressed.
type Waiter struct {
	Path         string
	Origin       ports.Origin
	Reactivation string
	RegisteredAt time.Time
}

type cached struct {
	source string
	decls  []rotina.Declaration
}

// Watcher scans the screen for declared triggers.
type Watcher struct {
	deps         Deps
	interval     time.Duration
	debounce     time.Duration
	suppressions *Suppressions
	logger       *slog.Logger
	onFire       func(path string)

	mu      sync.Mutex
	waiters map[string]Waiter
	cache   map[string]cached
	paused  int
	pending bool
	runs    sync.WaitGroup

	reset chan time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the scan interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets how long after registration keystrokes are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithSuppressions shares a suppression set.
func WithSuppressions(s *Suppressions) Option {
	return func(w *Watcher) { w.suppressions = s }
}

// WithFireObserver is called with the path of every triggered rotina.
func WithFireObserver(fn func(path string)) Option {
	return func(w *Watcher) { w.onFire = fn }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher.
func New(deps Deps, opts ...Option) *Watcher {
	if deps.Codec == nil {
		deps.Codec = keys.Default
	}
	w := &Watcher{
		deps:         deps,
		interval:     DefaultInterval,
		debounce:     DefaultDebounce,
		suppressions: NewSuppressions(),
		logger:       slog.Default(),
		waiters:      make(map[string]Waiter),
		cache:        make(map[string]cached),
		reset:        make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Suppressions returns the suppression set.
func (w *Watcher) Suppressions() *Suppressions {
	return w.suppressions
}

// SetInterval changes the scan interval. A running Run restarts its
// ticker with the new value.
func (w *Watcher) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	changed := w.interval != d
	w.interval = d
	w.mu.Unlock()
	if !changed {
		return
	}
	select {
	case w.reset <- d:
	default:
		// A reset is already queued; Run reads the latest interval.
	}
}

// Interval returns the current scan interval.
func (w *Watcher) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// Run scans every interval until ctx is done, then waits for the runs it
// started to return.
func (w *Watcher) Run(ctx context.Context) error {
	stop := w.Listen()
	defer stop()

	interval := w.Interval()
	ticker := w.deps.Clock.NewTicker(interval)
	defer func() { ticker.Stop() }()

	w.logger.Info("auto-trigger watcher started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			w.runs.Wait()
			return ctx.Err()
		case <-w.reset:
			next := w.Interval()
			if next == interval {
				continue
			}
			ticker.Stop()
			interval = next
			ticker = w.deps.Clock.NewTicker(interval)
			w.logger.Info("auto-trigger interval changed", slog.Duration("interval", interval))
		case <-ticker.C():
			if _, err := w.Scan(ctx); err != nil {
				w.logger.Warn("auto-trigger scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Listen registers the reactivation listener on the terminal input. The
// returned function removes it.
func (w *Watcher) Listen() func() {
	remove := w.deps.Terminal.OnRawInput(w.observeInput)
	return remove
}

// Wait blocks until every run started by Scan has returned.
func (w *Watcher) Wait() {
	w.runs.Wait()
}

// PauseMonitoring stops triggering until a matching ResumeMonitoring.
// Calls nest.
func (w *Watcher) PauseMonitoring() {
	w.mu.Lock()
	w.paused++
	w.mu.Unlock()
}

// ResumeMonitoring undoes one PauseMonitoring.
func (w *Watcher) ResumeMonitoring() {
	w.mu.Lock()
	if w.paused > 0 {
		w.paused--
	}
	w.mu.Unlock()
}

// Monitoring reports whether scans may trigger.
func (w *Watcher) Monitoring() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused == 0
}

// idle reports whether monitoring is on and no triggered run is pending.
func (w *Watcher) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused == 0 && !w.pending
}

// Waiters returns the registered waiters ordered by path.
func (w *Watcher) Waiters() []Waiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Waiter, 0, len(w.waiters))
	for _, wt := range w.waiters {
		out = append(out, wt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// WaitingPaths returns the paths that are waiting for their reactivation
// key.
func (w *Watcher) WaitingPaths() []string {
	waiters := w.Waiters()
	paths := make([]string, len(waiters))
	for i, wt := range waiters {
		paths[i] = wt.Path
	}
	return paths
}

// Scan performs one pass and returns the path it triggered, if any. At
// most one rotina is triggered per pass, and nothing happens while a run
// is active or monitoring is paused.
func (w *Watcher) Scan(ctx context.Context) (string, error) {
	if w.deps.Executor.State() != supervisor.Stopped || !w.idle() {
		return "", nil
	}

	scripts, err := w.deps.Repository.List(ctx)
	if err != nil {
		return "", err
	}
	snap := w.deps.Terminal.Snapshot()
	now := w.deps.Clock.Now()

	for _, script := range scripts {
		decls := w.declarations(script)
		if len(decls) == 0 {
			continue
		}
		if w.suppressions.Suppressed(script.Path, now) || w.hasWaiter(script.Path) {
			continue
		}
		decl, ok := firstVisible(snap, decls)
		if !ok {
			continue
		}
		w.fire(ctx, script, decl, now)
		return script.Path, nil
	}
	return "", nil
}

// firstVisible returns the first declaration whose trigger is on screen,
// matched like a plain localizarTexto.
func firstVisible(snap *screen.Snapshot, decls []rotina.Declaration) (rotina.Declaration, bool) {
	for _, d := range decls {
		if pattern.Match(snap, []pattern.Target{pattern.Text(d.Trigger)}, pattern.Options{}) != nil {
			return d, true
		}
	}
	return rotina.Declaration{}, false
}

func (w *Watcher) fire(ctx context.Context, script ports.Script, decl rotina.Declaration, now time.Time) {
	w.mu.Lock()
	w.waiters[script.Path] = Waiter{
		Path:         script.Path,
		Origin:       script.Origin,
		Reactivation: decl.Reactivation,
		RegisteredAt: now,
	}
	w.pending = true
	w.mu.Unlock()

	w.logger.Info("auto-trigger fired",
		slog.String("path", script.Path),
		slog.String("trigger", decl.Trigger),
		slog.String("reactivation", decl.Reactivation))
	if w.onFire != nil {
		w.onFire(script.Path)
	}

	req := supervisor.Request{Path: script.Path, Origin: script.Origin, AutoRun: true}
	w.runs.Add(1)
	go func() {
		defer w.runs.Done()
		err := w.deps.Executor.Execute(ctx, req)
		w.mu.Lock()
		w.pending = false
		if errors.Is(err, supervisor.ErrBusy) {
			// The run never started, so the trigger stays armed.
			delete(w.waiters, req.Path)
		}
		w.mu.Unlock()
		if err != nil && !errors.Is(err, rotina.ErrUserCancelled) {
			w.logger.Debug("auto-run ended with error", slog.String("path", req.Path), slog.String("error", err.Error()))
		}
	}()
}

func (w *Watcher) hasWaiter(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.waiters[path]
	return ok
}

// declarations parses a script once per distinct source.
func (w *Watcher) declarations(script ports.Script) []rotina.Declaration {
	key := string(script.Origin) + ":" + script.Path
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.cache[key]; ok && c.source == script.Source {
		return c.decls
	}
	decls := rotina.Declarations(script.Source)
	w.cache[key] = cached{source: script.Source, decls: decls}
	return decls
}

// observeInput removes waiters whose reactivation key was pressed after
// the debounce window.
func (w *Watcher) observeInput(data []byte) {
	if len(data) == 0 {
		return
	}
	tokens := w.deps.Codec.Tokenize(data)
	now := w.deps.Clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, wt := range w.waiters {
		if now.Before(wt.RegisteredAt.Add(w.debounce)) {
			continue
		}
		if w.reactivates(wt.Reactivation, tokens) {
			delete(w.waiters, path)
			w.logger.Debug("auto-trigger re-armed", slog.String("path", path))
		}
	}
}

func (w *Watcher) reactivates(key string, tokens []keys.Token) bool {
	if key == rotina.AnyKey {
		return true
	}
	want, known := w.canonical(key)
	if !known {
		return true
	}
	for _, t := range tokens {
		if t.Kind == keys.KindKey && t.Name == want {
			return true
		}
	}
	return false
}

// canonical maps a key name to the name the tokenizer reports.
func (w *Watcher) canonical(key string) (string, bool) {
	seq, ok := w.deps.Codec.Sequence(key)
	if !ok {
		return "", false
	}
	return w.deps.Codec.Name(seq)
}
