// Package commands implements the primitive vocabulary scripts use to
// drive the terminal.
//
// Every primitive passes the execution gate first, so a paused run blocks
// at the next call and a stopped run raises rotina.ErrUserCancelled there.
// Ordinary failures are reported with a notification and a falsy return;
// only explicit lancarErro requests and nested failures raise.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/keys"
	"github.com/acolita/rotinas/internal/pattern"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
)

const (
	defaultWait          = time.Second
	defaultVerifyTimeout = time.Second
	defaultNotification  = 3 * time.Second
)

// Gate holds primitives while a run is paused.
type Gate interface {
	Checkpoint(ctx context.Context) error
}

// Runner executes another rotina inline.
type Runner interface {
	ExecuteNested(ctx context.Context, path string) error
}

// FailureHandler decides what happens when a primitive is about to raise.
// Returning nil swallows the failure; otherwise the returned error is
// raised into the script.
type FailureHandler interface {
	RecoverFailure(ctx context.Context, path string, err error) error
}

// Clipboard is the copy/paste backend.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Deps are the collaborators a Surface drives.
type Deps struct {
	Terminal ports.Terminal
	Clock    ports.Clock
	Dialog   ports.DialogProvider
	Files    ports.FileSystem
	Codec    *keys.Codec
}

// Surface binds the primitives to one top-level run.
type Surface struct {
	ctx  context.Context
	path string
	deps Deps

	gate      Gate
	runner    Runner
	failures  FailureHandler
	clipboard Clipboard
	locator   *pattern.Locator

	workspace     string
	pollInterval  time.Duration
	verifyTimeout time.Duration
	observer      func(time.Duration, bool)

	mu    sync.Mutex
	delay time.Duration
	clip  string
}

// Option configures a Surface.
type Option func(*Surface)

// WithGate installs the pause/cancel gate.
func WithGate(g Gate) Option {
	return func(s *Surface) { s.gate = g }
}

// WithRunner enables executarRotina.
func WithRunner(r Runner) Option {
	return func(s *Surface) { s.runner = r }
}

// WithFailureHandler installs the recovery hook.
func WithFailureHandler(h FailureHandler) Option {
	return func(s *Surface) { s.failures = h }
}

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) Option {
	return func(s *Surface) { s.clipboard = c }
}

// WithWorkspace roots relative file paths and forbids escaping the root.
func WithWorkspace(dir string) Option {
	return func(s *Surface) { s.workspace = dir }
}

// WithSpeed sets the initial delay after input primitives.
func WithSpeed(d time.Duration) Option {
	return func(s *Surface) { s.delay = d }
}

// WithPollInterval sets how often searches re-read the screen.
func WithPollInterval(d time.Duration) Option {
	return func(s *Surface) { s.pollInterval = d }
}

// WithVerifyTimeout bounds how long digitar waits for its echo.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *Surface) { s.verifyTimeout = d }
}

// WithLocateObserver receives the duration and outcome of every search.
func WithLocateObserver(fn func(time.Duration, bool)) Option {
	return func(s *Surface) { s.observer = fn }
}

// New creates a surface for the run identified by path. ctx is cancelled
// when the run is stopped.
func New(ctx context.Context, path string, deps Deps, opts ...Option) *Surface {
	s := &Surface{
		ctx:           ctx,
		path:          path,
		deps:          deps,
		pollInterval:  pattern.DefaultPollInterval,
		verifyTimeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.Codec == nil {
		s.deps.Codec = keys.Default
	}
	if s.clipboard == nil {
		s.clipboard = defaultClipboard()
	}

	locOpts := []pattern.LocatorOption{
		pattern.WithPollInterval(s.pollInterval),
		pattern.WithDialog(deps.Dialog),
	}
	if s.gate != nil {
		locOpts = append(locOpts, pattern.WithGate(s.gate.Checkpoint))
	}
	if s.observer != nil {
		locOpts = append(locOpts, pattern.WithObserver(s.observer))
	}
	s.locator = pattern.NewLocator(deps.Terminal.Snapshot, deps.Clock, locOpts...)
	return s
}

// Path returns the top-level rotina this surface belongs to.
func (s *Surface) Path() string {
	return s.path
}

// Context returns the run context.
func (s *Surface) Context() context.Context {
	return s.ctx
}

// enter is the suspension point every primitive starts with.
func (s *Surface) enter(name string) {
	if s.gate != nil {
		if err := s.gate.Checkpoint(s.ctx); err != nil {
			panic(err)
		}
	} else if s.ctx.Err() != nil {
		panic(rotina.ErrUserCancelled)
	}
	slog.Debug("primitive", slog.String("name", name), slog.String("path", s.path))
}

// raise hands err to the failure handler and panics unless it swallows it.
func (s *Surface) raise(err error) {
	if s.failures != nil {
		err = s.failures.RecoverFailure(s.ctx, s.path, err)
		if err == nil {
			return
		}
	}
	panic(err)
}

// abortOn panics with cancellation when err comes from a stopped run.
func (s *Surface) abortOn(err error) {
	if errors.Is(err, rotina.ErrUserCancelled) || errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		panic(rotina.ErrUserCancelled)
	}
}

func (s *Surface) notify(ok bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.deps.Dialog != nil {
		s.deps.Dialog.Notify(msg, ok, defaultNotification)
	}
	if !ok {
		slog.Warn("primitive failed", slog.String("path", s.path), slog.String("reason", msg))
	}
}

// sleep waits d or until the run is stopped.
func (s *Surface) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-s.ctx.Done():
		panic(rotina.ErrUserCancelled)
	case <-s.deps.Clock.After(d):
	}
}

// pace applies the configured speed after an input primitive.
func (s *Surface) pace() {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	s.sleep(d)
}

func (s *Surface) write(data []byte) bool {
	if err := s.deps.Terminal.WriteInput(data); err != nil {
		s.notify(false, "Falha ao enviar ao terminal: %v", err)
		return false
	}
	return true
}

// Ensure Surface implements rotina.Surface.
var _ rotina.Surface = (*Surface)(nil)
