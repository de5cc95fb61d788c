// Package app wires a configured rotinas runtime: the terminal transport,
// script storage, supervisor, auto-trigger watcher, keep-alive pulse,
// recorder and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/adapters/realfs"
	"github.com/acolita/rotinas/internal/autotrigger"
	"github.com/acolita/rotinas/internal/commands"
	"github.com/acolita/rotinas/internal/config"
	"github.com/acolita/rotinas/internal/keepalive"
	"github.com/acolita/rotinas/internal/keys"
	"github.com/acolita/rotinas/internal/logging"
	"github.com/acolita/rotinas/internal/metrics"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/recording"
	"github.com/acolita/rotinas/internal/repository"
	"github.com/acolita/rotinas/internal/security"
	"github.com/acolita/rotinas/internal/supervisor"
	"github.com/acolita/rotinas/internal/terminal"
)

// App is a running runtime bound to one terminal session.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	level  *slog.LevelVar
	clock  ports.Clock
	fs     ports.FileSystem
	files  ports.FileSystem
	dialog ports.DialogProvider
	mirror io.Writer

	transport   io.ReadWriteCloser
	secrets     security.SecretStore
	keyring     *security.Keyring
	credentials *security.Credentials

	Session    *terminal.Session
	Repository ports.ScriptRepository
	Supervisor *supervisor.Supervisor
	Watcher    *autotrigger.Watcher
	Pulse      *keepalive.Pulse
	Recorder   *recording.Recorder
	Metrics    *metrics.Metrics

	repoDir *repository.Dir

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// Option configures an App.
type Option func(*App)

// WithDialog sets the user interaction backend. The default only logs
// notifications and cancels every question.
func WithDialog(d ports.DialogProvider) Option {
	return func(a *App) { a.dialog = d }
}

// WithTransport uses rwc instead of dialing the configured transport.
func WithTransport(rwc io.ReadWriteCloser) Option {
	return func(a *App) { a.transport = rwc }
}

// WithClock replaces the real clock.
func WithClock(c ports.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithFileSystem replaces the local file system.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(a *App) { a.fs = fs }
}

// WithLogger sets the logger and the level variable hot reload adjusts.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.logger = l
		a.level = level
	}
}

// WithMirror copies terminal output to w.
func WithMirror(w io.Writer) Option {
	return func(a *App) { a.mirror = w }
}

// WithSecretStore replaces the system keyring used for gateway passwords.
func WithSecretStore(s security.SecretStore) Option {
	return func(a *App) { a.secrets = s }
}

// New validates cfg and connects everything. The caller must Close the
// returned App.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  realclock.New(),
		fs:     realfs.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(logging.ParseLevel(cfg.Logging.Level))
	}
	if a.dialog == nil {
		a.dialog = logDialog{a.logger}
	}
	a.files = a.fs
	a.Metrics = metrics.New()
	a.setupSecurity()

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setupSecurity() {
	sec := a.cfg.Security
	if a.secrets == nil && sec.UseKeyring {
		a.keyring = security.NewKeyring()
		a.secrets = a.keyring
	}
	a.credentials = security.NewCredentials(a.secrets, a.dialog, a.clock, sec.CredentialTTL)
	a.credentials.SetLimits(sec.MaxAuthFailures, sec.AuthLockoutDuration)
}

func (a *App) build(ctx context.Context) error {
	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	a.Repository = repo

	if a.transport == nil {
		rwc, err := a.openTransport(ctx)
		if err != nil {
			return err
		}
		a.transport = rwc
	}

	tc := a.cfg.Terminal
	a.Session = terminal.New(a.transport,
		terminal.WithSize(tc.Cols, tc.Rows),
		terminal.WithClock(a.clock),
		terminal.WithLogger(a.logger),
		terminal.WithUnderscoreFields(tc.UnderscoreFields),
		terminal.WithMirror(a.mirror),
	)
	a.addCloser(a.Session.Close)
	a.Session.Start()

	a.Supervisor = supervisor.New(supervisor.Deps{
		Repository: a.Repository,
		Terminal:   a.Session,
		Dialog:     a.dialog,
		Clock:      a.clock,
		Files:      a.files,
	},
		supervisor.WithObserver(a.Metrics),
		supervisor.WithLogger(a.logger),
		supervisor.WithSurfaceOptions(a.surfaceOptions(a.cfg)...),
	)

	at := a.cfg.AutoTrigger
	a.Watcher = autotrigger.New(autotrigger.Deps{
		Repository: a.Repository,
		Terminal:   a.Session,
		Executor:   a.Supervisor,
		Clock:      a.clock,
		Dialog:     a.dialog,
		Codec:      keys.Default,
	},
		autotrigger.WithInterval(at.Interval),
		autotrigger.WithDebounce(at.Debounce),
		autotrigger.WithFireObserver(a.Metrics.AutoTriggerFired),
		autotrigger.WithLogger(a.logger),
	)
	a.Supervisor.SetPolicy(a.Watcher)

	ka := a.cfg.KeepAlive
	a.Pulse = keepalive.New(a.Session, a.Supervisor, a.Session, a.clock, ka.Interval, ka.Key)

	a.Recorder = recording.New(recording.WithCastFactory(a.newCast), recording.WithLogger(a.logger))
	remove := a.Session.OnRawInput(a.Recorder.Observe)
	a.addCloser(func() error { remove(); return nil })

	a.logger.Info("runtime ready",
		slog.String("transport", a.cfg.Terminal.Transport),
		slog.String("storage", a.cfg.Storage.Backend),
	)
	return nil
}

// newCast opens an asciicast archive for a recording when enabled.
func (a *App) newCast() *recording.Cast {
	if !a.cfg.Recording.Cast {
		return nil
	}
	cols, rows := a.Session.Size()
	c, err := recording.NewCast(config.ExpandHome(a.cfg.Recording.Dir), "gravacao", cols, rows, a.fs, a.clock)
	if err != nil {
		a.logger.Warn("cannot open cast file", slog.String("error", err.Error()))
		return nil
	}
	return c
}

func (a *App) surfaceOptions(cfg *config.Config) []commands.Option {
	c := cfg.Commands
	return []commands.Option{
		commands.WithPollInterval(c.PollInterval),
		commands.WithSpeed(c.Speed),
		commands.WithVerifyTimeout(c.VerifyTimeout),
		commands.WithWorkspace(config.ExpandHome(c.Workspace)),
		commands.WithLocateObserver(a.Metrics.Located),
	}
}

// Config returns the configuration in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ApplyConfig applies the tunables that can change without reconnecting:
// logging level, command pacing, trigger interval and keep-alive.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.level.Set(logging.ParseLevel(cfg.Logging.Level))
	a.Supervisor.SetSurfaceOptions(a.surfaceOptions(cfg)...)
	a.Watcher.SetInterval(cfg.AutoTrigger.Interval)
	a.Pulse.Configure(cfg.KeepAlive.Interval, cfg.KeepAlive.Key)
	a.credentials.SetLimits(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration)

	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if old.Terminal.Transport != cfg.Terminal.Transport || old.Storage.Backend != cfg.Storage.Backend {
		a.logger.Warn("transport and storage changes need a restart")
	}
	a.logger.Info("configuration reloaded", slog.String("level", cfg.Logging.Level))
}

// WatchConfig reloads path when it changes. override, when set, adjusts
// every reloaded config before it is applied.
func (a *App) WatchConfig(path string, override func(*config.Config)) error {
	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		if override != nil {
			override(cfg)
		}
		a.ApplyConfig(cfg)
	}, config.WithWatcherLogger(a.logger))
	if err != nil {
		return err
	}
	a.addCloser(w.Close)
	a.logger.Info("config hot-reload enabled", slog.String("path", path))
	return nil
}

// Run starts the background loops and blocks until ctx is done or the
// terminal session ends. A session closed by the remote side returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("background loop stopped", slog.String("loop", name), slog.String("error", err.Error()))
			}
		}()
	}

	if a.cfg.AutoTrigger.Enabled {
		start("autotrigger", a.Watcher.Run)
	}
	start("keepalive", a.Pulse.Run)
	if a.repoDir != nil && a.cfg.Repository.Watch {
		start("repository", a.repoDir.Watch)
	}
	if addr := a.cfg.Metrics.Addr; addr != "" {
		handler := metrics.NewHandler(a.Metrics, a.Supervisor, a.Watcher)
		start("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, addr, handler, a.logger)
		})
	}

	var err error
	select {
	case <-ctx.Done():
	case <-a.Session.Done():
		err = a.Session.Err()
		a.logger.Info("terminal session ended")
	}
	a.Supervisor.Stop()
	cancel()
	wg.Wait()
	return err
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	if a.Supervisor != nil {
		a.Supervisor.Stop()
	}
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// logDialog is the dialog of a runtime without a user: notifications are
// logged and questions are declined.
type logDialog struct{ logger *slog.Logger }

func (d logDialog) Notify(message string, ok bool, duration time.Duration) {
	d.logger.Info("notification", slog.String("message", message), slog.Bool("ok", ok))
}

func (logDialog) Confirm(title, message string) (bool, error) { return false, nil }

func (logDialog) Choose(prompt ports.RecoveryPrompt) (ports.Recovery, error) {
	return ports.Recovery{Action: ports.RecoveryStop}, nil
}

func (logDialog) Form(title string, fields []ports.FormField) (map[string]string, error) {
	return nil, nil
}

func (logDialog) OpenEditor(name, content string, readOnly bool) error { return nil }

func (logDialog) ShowControls(c ports.Controls) {}
