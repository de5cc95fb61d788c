// Package supervisor owns the single execution state of the runtime and
// drives every top-level and nested rotina run.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acolita/rotinas/internal/commands"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/rotina"
)

// maxNesting bounds executarRotina chains, including a rotina calling itself.
const maxNesting = 8

// Deps are the collaborators shared by every run.
type Deps struct {
	Repository ports.ScriptRepository
	Terminal   ports.Terminal
	Dialog     ports.DialogProvider
	Clock      ports.Clock
	Files      ports.FileSystem
}

// Supervisor runs at most one top-level rotina at a time.
type Supervisor struct {
	deps     Deps
	policy   AutoRunPolicy
	observer Observer
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	current     *run
	resume      chan struct{}
	subscribers map[int]chan State
	nextSub     int
	surfaceOpts []commands.Option
}

type run struct {
	id      string
	req     Request
	script  ports.Script
	ctx     context.Context
	cancel  context.CancelFunc
	surface *commands.Surface
	logger  *slog.Logger
	started time.Time
	depth   int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithAutoRunPolicy installs the handler for failed auto-runs.
func WithAutoRunPolicy(p AutoRunPolicy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithSurfaceOptions sets options applied to the command surface of every run.
func WithSurfaceOptions(opts ...commands.Option) Option {
	return func(s *Supervisor) { s.surfaceOpts = opts }
}

// New creates a stopped supervisor.
func New(deps Deps, opts ...Option) *Supervisor {
	s := &Supervisor{
		deps:        deps,
		observer:    nopObserver{},
		logger:      slog.Default(),
		subscribers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPolicy replaces the auto-run policy. The watcher and the supervisor
// depend on each other, so the policy is usually attached after both exist.
func (s *Supervisor) SetPolicy(p AutoRunPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// SetSurfaceOptions replaces the surface options used by the next runs.
func (s *Supervisor) SetSurfaceOptions(opts ...commands.Option) {
	s.mu.Lock()
	s.surfaceOpts = opts
	s.mu.Unlock()
}

// State returns the current execution state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the state together with the active run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Name: s.state.String()}
	if r := s.current; r != nil {
		st.RunID = r.id
		st.Path = r.script.Path
		st.Origin = string(r.script.Origin)
		st.AutoRun = r.req.AutoRun
		st.Started = r.started
	}
	return st
}

// Subscribe returns a channel receiving every state change and a function
// that cancels the subscription. Slow subscribers miss intermediate states.
func (s *Supervisor) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan State, 8)
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// setStateLocked changes the state and notifies subscribers. s.mu must be held.
func (s *Supervisor) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.observer.StateChanged(st)
	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}

// Execute runs a rotina and returns when it ends.
//
// A nested request while something is running compiles the script and runs
// it inline on the current surface. A top-level request while busy returns
// ErrBusy; manual requests also notify the user.
func (s *Supervisor) Execute(ctx context.Context, req Request) error {
	if req.Nested && s.State() != Stopped {
		return s.ExecuteNested(ctx, req.Path)
	}

	r, err := s.begin(ctx, req)
	if err != nil {
		return err
	}
	err = s.runTopLevel(r)
	return s.finish(r, err)
}

// begin reserves the execution state for a new top-level run.
func (s *Supervisor) begin(ctx context.Context, req Request) (*run, error) {
	s.mu.Lock()
	// A stopped run stays current until its processor returns.
	if s.state != Stopped || s.current != nil {
		s.mu.Unlock()
		s.observer.RunFinished(string(req.Origin), OutcomeBusy, 0)
		if req.AutoRun {
			s.logger.Debug("auto-run ignored while busy", slog.String("path", req.Path))
			return nil, ErrBusy
		}
		s.notify(false, "Já existe uma rotina em execução")
		return nil, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:      uuid.NewString(),
		req:     req,
		ctx:     runCtx,
		cancel:  cancel,
		started: s.now(),
	}
	r.logger = s.logger.With(slog.String("run_id", r.id), slog.String("path", req.Path))
	s.current = r
	s.resume = nil
	s.setStateLocked(Running)
	opts := append([]commands.Option{}, s.surfaceOpts...)
	s.mu.Unlock()

	opts = append(opts, commands.WithGate(s), commands.WithRunner(s), commands.WithFailureHandler(s))
	r.surface = commands.New(runCtx, req.Path, commands.Deps{
		Terminal: s.deps.Terminal,
		Clock:    s.deps.Clock,
		Dialog:   s.deps.Dialog,
		Files:    s.deps.Files,
	}, opts...)

	s.deps.Terminal.SetPassThrough(false)
	s.showControls(controls(true, false, req.TestRun, req.Path))
	s.observer.RunStarted(string(req.Origin), req.AutoRun)
	r.logger.Info("rotina started", slog.Bool("auto", req.AutoRun), slog.Bool("test", req.TestRun))
	return r, nil
}

func (s *Supervisor) runTopLevel(r *run) error {
	script, err := s.load(r.ctx, r.req.Origin, r.req.Path, r.req.Source)
	r.script = script
	if err != nil {
		return err
	}
	unit, err := rotina.Compile(script.Path, script.Source)
	if err != nil {
		return err
	}
	return unit.Run(r.surface)
}

// finish applies the end-of-run rules and returns what Execute reports.
func (s *Supervisor) finish(r *run, err error) error {
	defer r.cancel()
	elapsed := s.now().Sub(r.started)
	origin := string(r.script.Origin)
	if origin == "" {
		origin = string(r.req.Origin)
	}

	switch {
	case err == nil:
		if s.complete(r) {
			s.notify(true, fmt.Sprintf("Rotina %s concluída", r.req.Path))
		}
		r.logger.Info("rotina completed", slog.Duration("elapsed", elapsed))
		s.observer.RunFinished(origin, OutcomeCompleted, elapsed)
		return nil

	case errors.Is(err, rotina.ErrUserCancelled), r.ctx.Err() != nil:
		// A stopped run may surface its cancellation as any error.
		s.settle(r, Stopped)
		r.logger.Info("rotina cancelled", slog.Duration("elapsed", elapsed))
		s.observer.RunFinished(origin, OutcomeCancelled, elapsed)
		return rotina.ErrUserCancelled
	}

	r.logger.Warn("rotina failed", slog.String("error", err.Error()))
	if !s.isCurrent(r) {
		s.observer.RunFinished(origin, OutcomeFailed, elapsed)
		return err
	}

	var action ports.RecoveryAction
	if r.req.AutoRun {
		action = s.autoRunDecision(r, err)
	} else {
		action = s.manualDecision(r, err)
	}

	switch action {
	case ports.RecoveryPause:
		s.settle(r, Paused)
		s.observer.RunFinished(origin, OutcomePaused, elapsed)
		return nil
	case ports.RecoveryContinue:
		s.settle(r, Stopped)
		s.observer.RunFinished(origin, OutcomeContinued, elapsed)
		return nil
	case ports.RecoveryEdit:
		s.settle(r, Stopped)
		s.openEditor(r)
	default:
		s.settle(r, Stopped)
	}
	s.observer.RunFinished(origin, OutcomeFailed, elapsed)
	return err
}

func (s *Supervisor) autoRunDecision(r *run, err error) ports.RecoveryAction {
	s.mu.Lock()
	policy := s.policy
	s.mu.Unlock()
	if policy == nil {
		s.notify(false, err.Error())
		return ports.RecoveryStop
	}
	script := r.script
	if script.Path == "" {
		script = ports.Script{Path: r.req.Path, Origin: r.req.Origin}
	}
	return policy.HandleAutoRunError(script, err)
}

func (s *Supervisor) manualDecision(r *run, err error) ports.RecoveryAction {
	var syntax *rotina.SyntaxError
	if errors.As(err, &syntax) || errors.Is(err, ports.ErrScriptNotFound) {
		s.notify(false, err.Error())
		return ports.RecoveryStop
	}
	rec, derr := s.deps.Dialog.Choose(ports.RecoveryPrompt{
		Path:    r.req.Path,
		Message: err.Error(),
		Actions: ports.ManualRecoveryActions,
	})
	if derr != nil {
		r.logger.Warn("recovery dialog failed", slog.String("error", derr.Error()))
		return ports.RecoveryStop
	}
	return rec.Action
}

// settle moves the state out of Running when r is still the active run. A
// paused result keeps the controls visible with no processor attached.
// It reports whether r was still active.
func (s *Supervisor) settle(r *run, st State) bool {
	s.mu.Lock()
	if s.current != r {
		s.mu.Unlock()
		return false
	}
	if st == Paused {
		s.current = nil
		s.resume = make(chan struct{})
		s.setStateLocked(Paused)
		s.mu.Unlock()
		s.deps.Terminal.SetPassThrough(true)
		s.showControls(controls(true, true, false, r.req.Path))
		return true
	}
	wasRunning := s.state == Running
	s.current = nil
	s.resume = nil
	s.setStateLocked(Stopped)
	s.mu.Unlock()

	s.deps.Terminal.SetPassThrough(true)
	s.showControls(ports.Controls{})
	return wasRunning
}

// complete ends a finished run. A run left paused stays paused with no
// processor attached until Resume or Stop.
func (s *Supervisor) complete(r *run) bool {
	s.mu.Lock()
	if s.current != r {
		s.mu.Unlock()
		return false
	}
	if s.state == Paused {
		s.current = nil
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return s.settle(r, Stopped)
}

func (s *Supervisor) isCurrent(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == r
}

// Pause blocks the running script at its next primitive.
func (s *Supervisor) Pause() error {
	s.mu.Lock()
	if s.state != Running || s.current == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	r := s.current
	s.resume = make(chan struct{})
	s.setStateLocked(Paused)
	s.mu.Unlock()

	// The user may act on the screen while the script waits.
	s.deps.Terminal.SetPassThrough(true)
	s.showControls(controls(true, true, r.req.TestRun, r.req.Path))
	r.logger.Info("rotina paused")
	return nil
}

// Resume continues a paused script from the call it was blocked in. With
// no script attached it returns the state to Stopped.
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	if s.state != Paused {
		s.mu.Unlock()
		return ErrNotRunning
	}
	r := s.current
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
	if r == nil {
		s.setStateLocked(Stopped)
		s.mu.Unlock()
		s.deps.Terminal.SetPassThrough(true)
		s.showControls(ports.Controls{})
		return nil
	}
	s.setStateLocked(Running)
	s.mu.Unlock()

	s.deps.Terminal.SetPassThrough(false)
	s.showControls(controls(true, false, r.req.TestRun, r.req.Path))
	r.logger.Info("rotina resumed")
	return nil
}

// Stop cancels the active run. The script raises rotina.ErrUserCancelled
// at its next suspension point, including when it is paused.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	r := s.current
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
	wasStopped := s.state == Stopped
	s.setStateLocked(Stopped)
	s.mu.Unlock()

	if r != nil {
		r.cancel()
		if c, ok := s.deps.Dialog.(ports.DialogCanceller); ok {
			c.CancelPending()
		}
		r.logger.Info("rotina stop requested")
	}
	if !wasStopped {
		s.deps.Terminal.SetPassThrough(true)
		s.showControls(ports.Controls{})
	}
}

// Checkpoint is the pause gate passed by every primitive. It blocks while
// paused and returns rotina.ErrUserCancelled once the run is stopped.
func (s *Supervisor) Checkpoint(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return rotina.ErrUserCancelled
		}
		s.mu.Lock()
		st, resume := s.state, s.resume
		s.mu.Unlock()

		switch st {
		case Stopped:
			return rotina.ErrUserCancelled
		case Running:
			return nil
		}
		if resume == nil {
			return rotina.ErrUserCancelled
		}
		select {
		case <-ctx.Done():
			return rotina.ErrUserCancelled
		case <-resume:
		}
	}
}

// RecoverFailure asks the user how to handle a failing primitive of a
// manual run. Continue swallows the failure so the script proceeds at its
// next statement; Pause swallows it after the user resumes. Auto-runs
// always raise.
func (s *Supervisor) RecoverFailure(ctx context.Context, path string, err error) error {
	if errors.Is(err, rotina.ErrUserCancelled) {
		return err
	}
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil || r.req.AutoRun {
		return err
	}

	rec, derr := s.deps.Dialog.Choose(ports.RecoveryPrompt{
		Path:    path,
		Message: err.Error(),
		Actions: ports.ManualRecoveryActions,
	})
	if ctx.Err() != nil {
		return rotina.ErrUserCancelled
	}
	if derr != nil {
		r.logger.Warn("recovery dialog failed", slog.String("error", derr.Error()))
		return err
	}
	r.logger.Info("primitive failure handled", slog.String("action", rec.Action.String()), slog.String("error", err.Error()))

	switch rec.Action {
	case ports.RecoveryContinue:
		return nil
	case ports.RecoveryPause:
		if perr := s.Pause(); perr != nil {
			return rotina.ErrUserCancelled
		}
		if cerr := s.Checkpoint(ctx); cerr != nil {
			return cerr
		}
		return nil
	case ports.RecoveryEdit:
		s.Stop()
		s.openEditor(r)
		return rotina.ErrUserCancelled
	default:
		s.Stop()
		return rotina.ErrUserCancelled
	}
}

// ExecuteNested runs another rotina inline on the active surface and
// returns its error to the caller.
func (s *Supervisor) ExecuteNested(ctx context.Context, path string) error {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return fmt.Errorf("executar %s: %w", path, ErrNotRunning)
	}
	if r.depth >= maxNesting {
		return fmt.Errorf("executar %s: limite de %d rotinas aninhadas", path, maxNesting)
	}

	script, err := s.load(ctx, r.script.Origin, path, "")
	if err != nil {
		return err
	}
	unit, err := rotina.Compile(script.Path, script.Source)
	if err != nil {
		return err
	}

	r.depth++
	defer func() { r.depth-- }()
	r.logger.Info("nested rotina started", slog.String("nested", script.Path), slog.Int("depth", r.depth))
	return unit.Run(r.surface)
}

// load resolves the script of a request. Nested lookups prefer the origin
// of the calling script and fall back to any origin.
func (s *Supervisor) load(ctx context.Context, origin ports.Origin, path, source string) (ports.Script, error) {
	if source != "" {
		if origin == "" {
			origin = ports.OriginUser
		}
		return ports.Script{Path: path, Source: source, Origin: origin}, nil
	}
	if s.deps.Repository == nil {
		return ports.Script{Path: path, Origin: origin}, fmt.Errorf("carregar %s: %w", path, ports.ErrScriptNotFound)
	}
	script, err := s.deps.Repository.Get(ctx, origin, path)
	if errors.Is(err, ports.ErrScriptNotFound) && origin != "" {
		script, err = s.deps.Repository.Get(ctx, "", path)
	}
	if err != nil {
		return ports.Script{Path: path, Origin: origin}, fmt.Errorf("carregar %s: %w", path, err)
	}
	return script, nil
}

func (s *Supervisor) openEditor(r *run) {
	script := r.script
	if script.Source == "" {
		loaded, err := s.load(context.Background(), r.req.Origin, r.req.Path, r.req.Source)
		if err != nil {
			r.logger.Warn("cannot open editor", slog.String("error", err.Error()))
			return
		}
		script = loaded
	}
	if err := s.deps.Dialog.OpenEditor(script.Path, script.Source, script.Origin == ports.OriginPublic); err != nil {
		r.logger.Warn("cannot open editor", slog.String("error", err.Error()))
	}
}

func (s *Supervisor) notify(ok bool, msg string) {
	if s.deps.Dialog != nil {
		s.deps.Dialog.Notify(msg, ok, 3*time.Second)
	}
}

func (s *Supervisor) showControls(c ports.Controls) {
	if s.deps.Dialog != nil {
		s.deps.Dialog.ShowControls(c)
	}
}

func (s *Supervisor) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now()
}

func controls(visible, paused, editable bool, path string) ports.Controls {
	return ports.Controls{Visible: visible, Paused: paused, Editable: editable, Path: path}
}

var (
	_ commands.Gate           = (*Supervisor)(nil)
	_ commands.Runner         = (*Supervisor)(nil)
	_ commands.FailureHandler = (*Supervisor)(nil)
)
