package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acolita/rotinas/internal/supervisor"
)

// StatusSource reports the execution state.
type StatusSource interface {
	Status() supervisor.Status
}

// MonitorSource reports the auto-trigger watcher state.
type MonitorSource interface {
	Monitoring() bool
	WaitingPaths() []string
}

// Estado is the body of GET /estado.
type Estado struct {
	supervisor.Status
	Monitorando bool     `json:"monitorando"`
	Aguardando  []string `json:"aguardando,omitempty"`
}

// NewHandler routes /metrics, /healthz and /estado. monitor may be nil.
func NewHandler(m *Metrics, status StatusSource, monitor MonitorSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})

	r.Get("/estado", func(w http.ResponseWriter, r *http.Request) {
		body := Estado{Status: status.Status()}
		if monitor != nil {
			body.Monitorando = monitor.Monitoring()
			body.Aguardando = monitor.WaitingPaths()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Warn("encode estado", slog.String("error", err.Error()))
		}
	})

	return r
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, handler, logger)
}

// ServeListener serves on ln until ctx is done, then shuts down gracefully.
func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("status endpoint listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
