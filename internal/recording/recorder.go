// Package recording turns a live user session into a rotina.
package recording

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/acolita/rotinas/internal/keys"
)

// Recorder converts observed raw input into script statements. Printable
// text accumulates until a key, a click, a pause or the stop flushes it
// into a single digitar call.
type Recorder struct {
	codec   *keys.Codec
	cast    *Cast
	newCast func() *Cast
	logger  *slog.Logger

	mu         sync.Mutex
	active     bool
	paused     bool
	castFailed bool
	statements []string
	pending    strings.Builder
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCodec replaces keys.Default.
func WithCodec(c *keys.Codec) Option {
	return func(r *Recorder) { r.codec = c }
}

// WithCast also archives every observed input in an asciicast file.
func WithCast(c *Cast) Option {
	return func(r *Recorder) { r.cast = c }
}

// WithCastFactory opens a fresh cast for every recording. A nil cast
// disables archiving for that recording.
func WithCastFactory(fn func() *Cast) Option {
	return func(r *Recorder) { r.newCast = fn }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// New creates an idle Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{codec: keys.Default, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a recording. The first statement clicks the starting cursor
// position so the rotina positions itself.
func (r *Recorder) Start(row, col int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.newCast != nil {
		r.cast = r.newCast()
	}
	r.active = true
	r.paused = false
	r.castFailed = false
	r.pending.Reset()
	r.statements = []string{clickStatement(row, col)}
}

// Pause stops observing input until Resume.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.flushLocked()
	r.paused = true
}

// Resume continues a paused recording.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.paused = false
	}
}

// Stop ends the recording and returns the script source, one statement
// per line.
func (r *Recorder) Stop() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return ""
	}
	r.flushLocked()
	r.active = false
	r.paused = false
	if r.cast != nil {
		if err := r.cast.Close(); err != nil {
			r.logger.Warn("cast close failed", slog.String("path", r.cast.Path()), slog.String("error", err.Error()))
		}
	}
	return strings.Join(r.statements, "\n") + "\n"
}

// Active reports whether a recording is in progress, paused or not.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Paused reports whether the recording is paused.
func (r *Recorder) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active && r.paused
}

// Statements returns the statements emitted so far, without pending text.
func (r *Recorder) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

// Observe consumes one chunk of raw user input. It is meant to be
// registered with ports.Terminal.OnRawInput.
func (r *Recorder) Observe(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.paused || len(data) == 0 {
		return
	}
	if r.cast != nil {
		// Reported once per recording; the script itself is unaffected.
		if err := r.cast.RecordInput(string(data)); err != nil && !r.castFailed {
			r.castFailed = true
			r.logger.Warn("cast write failed", slog.String("path", r.cast.Path()), slog.String("error", err.Error()))
		}
	}

	for _, tok := range r.codec.Tokenize(data) {
		switch tok.Kind {
		case keys.KindText:
			r.pending.WriteString(tok.Text)
		case keys.KindKey:
			if tok.Name == "" {
				continue
			}
			r.flushLocked()
			r.statements = append(r.statements, fmt.Sprintf("teclar(%s)", strconv.Quote(tok.Name)))
		case keys.KindClick:
			r.flushLocked()
			r.statements = append(r.statements, clickStatement(tok.Row, tok.Col))
		}
	}
}

func (r *Recorder) flushLocked() {
	if r.pending.Len() == 0 {
		return
	}
	r.statements = append(r.statements, fmt.Sprintf("digitar(%s)", strconv.Quote(r.pending.String())))
	r.pending.Reset()
}

func clickStatement(row, col int) string {
	return fmt.Sprintf("clicar(%d, %d)", row, col)
}
