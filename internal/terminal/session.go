// Package terminal couples a byte transport with a VT emulator and exposes
// the result as a character grid that scripts can read and type into.
package terminal

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hinshun/vt10x"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/screen"
)

const (
	DefaultCols = 80
	DefaultRows = 24
)

// vt10x glyph mode bits.
const (
	modeReverse   int16 = 1 << 0
	modeUnderline int16 = 1 << 1
	modeBold      int16 = 1 << 2
)

// Resizer is implemented by transports that can change the remote window.
type Resizer interface {
	Resize(cols, rows int) error
}

// Session is a live terminal connection.
type Session struct {
	transport io.ReadWriteCloser
	vt        vt10x.Terminal
	clock     ports.Clock
	logger    *slog.Logger
	mirror    io.Writer
	cols      int
	rows      int

	underscoreFields bool

	writeMu sync.Mutex

	mu          sync.Mutex
	handlers    map[int]func([]byte)
	nextID      int
	passThrough bool
	lastInput   time.Time

	updated   chan struct{}
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

// WithSize sets the emulator size.
func WithSize(cols, rows int) Option {
	return func(s *Session) {
		if cols > 0 && rows > 0 {
			s.cols, s.rows = cols, rows
		}
	}
}

// WithClock replaces the real clock.
func WithClock(c ports.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMirror copies every byte received from the transport to w.
func WithMirror(w io.Writer) Option {
	return func(s *Session) { s.mirror = w }
}

// WithUnderscoreFields also treats runs of '_' as input fields, for
// gateways that draw fields with placeholders instead of attributes.
func WithUnderscoreFields(enabled bool) Option {
	return func(s *Session) { s.underscoreFields = enabled }
}

// New creates a session over transport. Call Start to begin reading.
func New(transport io.ReadWriteCloser, opts ...Option) *Session {
	s := &Session{
		transport:   transport,
		clock:       realclock.New(),
		logger:      slog.Default(),
		cols:        DefaultCols,
		rows:        DefaultRows,
		handlers:    make(map[int]func([]byte)),
		passThrough: true,
		updated:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.vt = vt10x.New(vt10x.WithSize(s.cols, s.rows), vt10x.WithWriter(replyWriter{s}))
	return s
}

// replyWriter sends the emulator's answers to terminal queries upstream.
type replyWriter struct{ s *Session }

func (w replyWriter) Write(p []byte) (int, error) {
	w.s.writeMu.Lock()
	defer w.s.writeMu.Unlock()
	return w.s.transport.Write(p)
}

// Start launches the read loop.
func (s *Session) Start() {
	go s.readLoop()
}

func (s *Session) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := s.vt.Write(chunk); werr != nil {
				s.logger.Debug("emulator write failed", slog.String("error", werr.Error()))
			}
			if s.mirror != nil {
				_, _ = s.mirror.Write(chunk)
			}
			select {
			case s.updated <- struct{}{}:
			default:
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("terminal read failed", slog.String("error", err.Error()))
			}
			s.finish(err)
			return
		}
	}
}

func (s *Session) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Updated receives a value after new output was applied to the screen.
// Bursts are coalesced.
func (s *Session) Updated() <-chan struct{} {
	return s.updated
}

// Done is closed when the transport ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, nil while it is alive or on EOF.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// WriteInput sends data upstream. Writes are serialized.
func (s *Session) WriteInput(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	s.writeMu.Lock()
	_, err := s.transport.Write(data)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastInput = s.clock.Now()
	s.mu.Unlock()
	return nil
}

// HandleUserInput receives raw keystrokes from the interactive user. Every
// handler sees them; they reach the transport only while pass-through is on.
func (s *Session) HandleUserInput(data []byte) error {
	s.mu.Lock()
	handlers := make([]func([]byte), 0, len(s.handlers))
	for id := 0; id < s.nextID; id++ {
		if h, ok := s.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	forward := s.passThrough
	s.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	if !forward {
		return nil
	}
	return s.WriteInput(data)
}

// OnRawInput registers a handler for user keystrokes and returns a
// function removing it.
func (s *Session) OnRawInput(handler func([]byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// SetPassThrough enables or disables forwarding of user keystrokes.
func (s *Session) SetPassThrough(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passThrough = enabled
}

// PassThrough reports whether user keystrokes are forwarded.
func (s *Session) PassThrough() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passThrough
}

// LastInput returns when input was last written upstream.
func (s *Session) LastInput() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

// Snapshot captures the screen. Reverse and underlined cells are reported
// as unprotected, which is how gateways render input fields.
func (s *Session) Snapshot() *screen.Snapshot {
	s.vt.Lock()
	defer s.vt.Unlock()

	cols, rows := s.vt.Size()
	grid := make([][]screen.Cell, rows)
	for y := 0; y < rows; y++ {
		row := make([]screen.Cell, cols)
		for x := 0; x < cols; x++ {
			g := s.vt.Cell(x, y)
			ch := g.Char
			if ch == 0 {
				ch = ' '
			}
			cell := screen.Cell{Char: ch}
			if g.Mode&(modeReverse|modeUnderline) != 0 {
				cell.Attr |= screen.AttrUnprotected
			}
			if g.Mode&modeBold != 0 {
				cell.Attr |= screen.AttrIntensified
			}
			if s.underscoreFields && ch == '_' {
				cell.Attr |= screen.AttrUnprotected
			}
			row[x] = cell
		}
		grid[y] = row
	}
	cur := s.vt.Cursor()
	return screen.New(grid, screen.Position{Row: cur.Y + 1, Col: cur.X + 1})
}

// CursorPosition returns the 1-based cursor position.
func (s *Session) CursorPosition() screen.Position {
	s.vt.Lock()
	defer s.vt.Unlock()
	cur := s.vt.Cursor()
	return screen.Position{Row: cur.Y + 1, Col: cur.X + 1}
}

// Size returns columns and rows.
func (s *Session) Size() (int, int) {
	s.vt.Lock()
	defer s.vt.Unlock()
	return s.vt.Size()
}

// Resize changes the emulator and, when supported, the remote window.
func (s *Session) Resize(cols, rows int) error {
	s.vt.Resize(cols, rows)
	if r, ok := s.transport.(Resizer); ok {
		return r.Resize(cols, rows)
	}
	return nil
}

// Close ends the session and closes the transport.
func (s *Session) Close() error {
	s.finish(io.EOF)
	return s.transport.Close()
}

// Ensure Session implements ports.Terminal.
var _ ports.Terminal = (*Session)(nil)
