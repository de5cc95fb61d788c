package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acolita/rotinas/internal/config"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/repository"
	"github.com/acolita/rotinas/internal/supervisor"
	"github.com/acolita/rotinas/internal/testing/fakes/fakefs"
)

// pipeTransport is a remote end the test writes screen output into and
// reads typed input from.
type pipeTransport struct {
	r      *io.PipeReader
	remote *io.PipeWriter

	mu sync.Mutex
	in bytes.Buffer
}

func newPipeTransport() *pipeTransport {
	r, w := io.Pipe()
	return &pipeTransport{r: r, remote: w}
}

func (p *pipeTransport) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipeTransport) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Write(b)
}

func (p *pipeTransport) Close() error { return p.r.Close() }

func (p *pipeTransport) input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.String()
}

func quietLogger() (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})), level
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Terminal.Command = "c3270"
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.File = "/dados/rotinas.json"
	cfg.Security.UseKeyring = false
	cfg.AutoTrigger.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) (*App, *pipeTransport) {
	t.Helper()
	tr := newPipeTransport()
	logger, level := quietLogger()
	opts = append([]Option{
		WithTransport(tr),
		WithFileSystem(fakefs.New()),
		WithLogger(logger, level),
	}, opts...)
	a, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, tr
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Terminal.Transport = "telnet"
	_, err := New(context.Background(), cfg, WithTransport(newPipeTransport()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNew_RunsRotinaEndToEnd(t *testing.T) {
	a, tr := newTestApp(t, testConfig())
	ctx := context.Background()

	require.NoError(t, a.Repository.Save(ctx, ports.Script{
		Path:   "ola",
		Origin: ports.OriginUser,
		Source: "digitar(\"abc\", false)\nteclar(\"ENTER\")\n",
	}))

	require.NoError(t, a.Supervisor.Execute(ctx, supervisor.Request{Path: "ola"}))

	assert.Equal(t, "abc\r", tr.input())
	assert.Equal(t, supervisor.Stopped, a.Supervisor.State())
	n, err := testutil.GatherAndCount(a.Metrics.Registry(), "rotinas_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_RecorderObservesUserInput(t *testing.T) {
	a, tr := newTestApp(t, testConfig())

	a.Recorder.Start(1, 1)
	require.NoError(t, a.Session.HandleUserInput([]byte("xy\r")))
	src := a.Recorder.Stop()

	assert.Equal(t, "clicar(1, 1)\ndigitar(\"xy\")\nteclar(\"ENTER\")\n", src)
	assert.Equal(t, "xy\r", tr.input(), "user input is forwarded while nothing runs")
}

func TestNew_CastPerRecording(t *testing.T) {
	cfg := testConfig()
	cfg.Recording.Cast = true
	cfg.Recording.Dir = "/gravacoes"
	fs := fakefs.New()
	a, _ := newTestApp(t, cfg, WithFileSystem(fs))

	a.Recorder.Start(1, 1)
	require.NoError(t, a.Session.HandleUserInput([]byte("a")))
	a.Recorder.Stop()

	var casts []string
	for _, f := range fs.Files() {
		if filepath.Ext(f) == ".cast" {
			casts = append(casts, f)
		}
	}
	assert.Len(t, casts, 1)
}

func TestApplyConfig(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	next := testConfig()
	next.Logging.Level = "debug"
	next.Commands.Speed = 50 * time.Millisecond
	next.KeepAlive.Key = "ENTER"
	next.AutoTrigger.Interval = 2 * time.Second
	a.ApplyConfig(next)

	assert.Equal(t, slog.LevelDebug, a.level.Level())
	assert.Equal(t, 2*time.Second, a.Watcher.Interval())
	assert.Same(t, next, a.Config())
}

func TestWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(level string) {
		data := "terminal:\n  transport: local\n  command: c3270\nlogging:\n  level: " + level + "\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
	write("info")

	a, _ := newTestApp(t, testConfig())
	var overridden bool
	var mu sync.Mutex
	require.NoError(t, a.WatchConfig(path, func(cfg *config.Config) {
		mu.Lock()
		overridden = true
		mu.Unlock()
	}))

	write("error")
	require.Eventually(t, func() bool {
		return a.level.Level() == slog.LevelError
	}, 5*time.Second, 20*time.Millisecond)
	mu.Lock()
	assert.True(t, overridden)
	mu.Unlock()
}

func TestRun_EndsWithSession(t *testing.T) {
	cfg := testConfig()
	cfg.AutoTrigger.Enabled = true
	a, tr := newTestApp(t, cfg)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	_, err := tr.remote.Write([]byte("MENU\r\n"))
	require.NoError(t, err)
	require.NoError(t, tr.remote.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the session ended")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOpenRepository_Dir(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = config.BackendDir
	cfg.Repository.UserDir = t.TempDir()
	cfg.Repository.PublicDir = t.TempDir()
	a, _ := newTestApp(t, cfg)

	_, ok := a.Repository.(*repository.Dir)
	assert.True(t, ok, "dir backend should use repository.Dir")
	err := a.Repository.Save(context.Background(), ports.Script{Path: "x", Origin: ports.OriginPublic, Source: "x"})
	assert.ErrorIs(t, err, repository.ErrReadOnly)
}

func TestOpenRepository_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.Redis.Addr = mr.Addr()
	a, _ := newTestApp(t, cfg)

	ctx := context.Background()
	require.NoError(t, a.Repository.Save(ctx, ports.Script{Path: "r", Origin: ports.OriginUser, Source: "teclar(\"ENTER\")"}))
	got, err := a.Repository.Get(ctx, "", "r")
	require.NoError(t, err)
	assert.Equal(t, "teclar(\"ENTER\")", got.Source)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		assert.Contains(t, k, "rotinas:")
	}
}

func TestOpenRepository_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Storage.Backend = config.BackendRedis
	cfg.Storage.Redis.Addr = addr
	_, err := New(context.Background(), cfg, WithTransport(newPipeTransport()), WithFileSystem(fakefs.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestRetryWithPassword(t *testing.T) {
	assert.True(t, retryWithPassword(&authError{errors.New("ssh: unable to authenticate")}))
	assert.False(t, retryWithPassword(errors.New("dial tcp: connection refused")))
}

func TestSecretFromEnv(t *testing.T) {
	fs := fakefs.New()
	fs.SetEnv("GW_PASS", "s3nha")
	a, _ := newTestApp(t, testConfig(), WithFileSystem(fs))

	assert.Equal(t, "s3nha", a.secret("GW_PASS"))
	assert.Empty(t, a.secret(""))
}

func TestLogDialog(t *testing.T) {
	d := logDialog{slog.New(slog.NewTextHandler(io.Discard, nil))}
	ok, err := d.Confirm("x", "y")
	assert.False(t, ok)
	assert.NoError(t, err)

	rec, err := d.Choose(ports.RecoveryPrompt{Path: "x"})
	assert.NoError(t, err)
	assert.Equal(t, ports.RecoveryStop, rec.Action)

	values, err := d.Form("x", []ports.FormField{{Name: "a"}})
	assert.NoError(t, err)
	assert.Nil(t, values)
}
