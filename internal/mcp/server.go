// Package mcp implements the MCP control server for rotinas.
package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/rotinas/internal/keys"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/recording"
	"github.com/acolita/rotinas/internal/screen"
	"github.com/acolita/rotinas/internal/supervisor"
)

// Version is reported to MCP clients.
var Version = "dev"

// Supervisor is the execution control the tools drive.
type Supervisor interface {
	Execute(ctx context.Context, req supervisor.Request) error
	Pause() error
	Resume() error
	Stop()
	Status() supervisor.Status
}

// Terminal is the screen and keyboard the tools read and type into.
type Terminal interface {
	Snapshot() *screen.Snapshot
	CursorPosition() screen.Position
	HandleUserInput(data []byte) error
}

// Monitor is the auto-trigger watcher.
type Monitor interface {
	PauseMonitoring()
	ResumeMonitoring()
	Monitoring() bool
	WaitingPaths() []string
}

// Deps are the runtime parts exposed over MCP. Monitor and Recorder may
// be nil; the matching tools then report an error.
type Deps struct {
	Supervisor Supervisor
	Repository ports.ScriptRepository
	Terminal   Terminal
	Dialog     *Dialog
	Monitor    Monitor
	Recorder   *recording.Recorder
}

// RunResult is the outcome of the last run started over MCP.
type RunResult struct {
	Path     string    `json:"caminho"`
	Started  time.Time `json:"inicio"`
	Finished time.Time `json:"fim,omitempty"`
	Running  bool      `json:"executando"`
	Error    string    `json:"erro,omitempty"`
}

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	deps      Deps
	codec     *keys.Codec
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	lastRun *RunResult
	runs    sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithCodec sets the key codec used by terminal_input.
func WithCodec(c *keys.Codec) ServerOption {
	return func(s *Server) { s.codec = c }
}

// WithClock sets the time source for run results.
func WithClock(c ports.Clock) ServerOption {
	return func(s *Server) { s.now = c.Now }
}

// NewServer creates the MCP server and registers every tool.
func NewServer(deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"rotinas",
			Version,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
		deps:   deps,
		codec:  keys.Default,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// Run serves MCP on stdio until the client disconnects.
func (s *Server) Run() error {
	s.logger.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// Wait blocks until every run started over MCP has returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) setLastRun(r RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &r
}

func (s *Server) lastResult() *RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	r := *s.lastRun
	return &r
}
