package pattern

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/screen"
)

// DefaultPollInterval is how often Locate re-reads the screen.
const DefaultPollInterval = 100 * time.Millisecond

// Direction selects where PositionNear looks for a field.
type Direction string

const (
	After  Direction = "depois"
	Before Direction = "antes"
	Above  Direction = "acima"
	Below  Direction = "abaixo"
)

// ParseDirection accepts the Portuguese names and their English equivalents.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "depois", "after", "direita", "right":
		return After, nil
	case "antes", "before", "esquerda", "left":
		return Before, nil
	case "acima", "above", "cima", "up":
		return Above, nil
	case "abaixo", "below", "baixo", "down":
		return Below, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Options control matching and waiting.
type Options struct {
	// Wait is how long to keep polling. Zero means a single check.
	Wait time.Duration
	// RaiseOnMiss turns a miss into an error instead of a nil result.
	RaiseOnMiss bool
	// CaseSensitive disables case folding for literal targets.
	CaseSensitive bool
	// IgnoreAccents folds accented letters to their base letter.
	IgnoreAccents bool
	Area          Area
	// OnMiss, when not empty, is the question asked before giving up.
	// Answering yes starts another full wait.
	OnMiss    string
	Direction Direction
	// Offset skips this many additional fields forward.
	Offset int
}

// TextNotFoundError reports that no alternative appeared in time.
type TextNotFoundError struct {
	Targets []string
	Wait    time.Duration
}

func (e *TextNotFoundError) Error() string {
	return fmt.Sprintf("texto não encontrado: %s (aguardou %s)", strings.Join(e.Targets, " | "), e.Wait)
}

// LabelNotFoundError reports that a label, or a field near it, was missing.
type LabelNotFoundError struct {
	Label   string
	NoField bool
}

func (e *LabelNotFoundError) Error() string {
	if e.NoField {
		return fmt.Sprintf("nenhum campo encontrado perto do rótulo %q", e.Label)
	}
	return fmt.Sprintf("rótulo não encontrado: %q", e.Label)
}

// Locator waits for text on a live screen.
type Locator struct {
	source   func() *screen.Snapshot
	clock    ports.Clock
	dialog   ports.DialogProvider
	interval time.Duration
	gate     func(context.Context) error
	observe  func(time.Duration, bool)
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithDialog enables the keep-waiting question.
func WithDialog(d ports.DialogProvider) LocatorOption {
	return func(l *Locator) {
		l.dialog = d
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) LocatorOption {
	return func(l *Locator) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithGate installs a check run before every poll; a non-nil error aborts
// the wait. The execution supervisor uses it to hold polling while paused.
func WithGate(gate func(context.Context) error) LocatorOption {
	return func(l *Locator) {
		l.gate = gate
	}
}

// WithObserver receives the duration and outcome of every Locate.
func WithObserver(fn func(time.Duration, bool)) LocatorOption {
	return func(l *Locator) {
		l.observe = fn
	}
}

// NewLocator creates a Locator reading snapshots from source.
func NewLocator(source func() *screen.Snapshot, clock ports.Clock, opts ...LocatorOption) *Locator {
	l := &Locator{
		source:   source,
		clock:    clock,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the first alternative found within opts.Wait. A miss
// returns nil, or *TextNotFoundError when opts.RaiseOnMiss is set.
func (l *Locator) Locate(ctx context.Context, targets []Target, opts Options) (*Result, error) {
	start := l.clock.Now()
	var result *Result
	_, err := l.poll(ctx, opts, func(snap *screen.Snapshot) bool {
		result = Match(snap, targets, opts)
		return result != nil
	})
	if l.observe != nil {
		l.observe(l.clock.Now().Sub(start), result != nil)
	}
	if err != nil {
		return nil, err
	}
	if result == nil && opts.RaiseOnMiss {
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.String()
		}
		return nil, &TextNotFoundError{Targets: names, Wait: opts.Wait}
	}
	return result, nil
}

// PositionNear waits for label and returns the editable field nearest to it
// in opts.Direction, skipping opts.Offset further fields forward.
func (l *Locator) PositionNear(ctx context.Context, label Target, opts Options) (*screen.Field, error) {
	var match *Result
	snap, err := l.poll(ctx, opts, func(snap *screen.Snapshot) bool {
		match = Match(snap, []Target{label}, opts)
		return match != nil
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		if opts.RaiseOnMiss {
			return nil, &LabelNotFoundError{Label: label.String()}
		}
		return nil, nil
	}

	field := nearestField(snap.Fields(), match, opts.Direction, opts.Offset)
	if field == nil && opts.RaiseOnMiss {
		return nil, &LabelNotFoundError{Label: label.String(), NoField: true}
	}
	return field, nil
}

// poll runs check until it succeeds or the wall-clock deadline passes.
// The deadline is fixed when polling starts; slow checks do not extend it.
func (l *Locator) poll(ctx context.Context, opts Options, check func(*screen.Snapshot) bool) (*screen.Snapshot, error) {
	for {
		deadline := l.clock.Now().Add(opts.Wait)
		for {
			if l.gate != nil {
				if err := l.gate(ctx); err != nil {
					return nil, err
				}
			}
			snap := l.source()
			if check(snap) {
				return snap, nil
			}

			now := l.clock.Now()
			if !now.Before(deadline) {
				break
			}
			wait := l.interval
			if remaining := deadline.Sub(now); remaining < wait {
				wait = remaining
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-l.clock.After(wait):
			}
		}

		if opts.OnMiss == "" || l.dialog == nil {
			return nil, nil
		}
		again, err := l.dialog.Confirm("Texto não encontrado", opts.OnMiss)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, fmt.Errorf("ask to keep waiting: %w", err)
		}
		if !again {
			return nil, nil
		}
	}
}

func nearestField(fields []screen.Field, label *Result, dir Direction, offset int) *screen.Field {
	if len(fields) == 0 {
		return nil
	}
	idx := -1
	switch dir {
	case Before:
		for i := len(fields) - 1; i >= 0; i-- {
			f := fields[i]
			if f.Row < label.Row || (f.Row == label.Row && f.End() < label.Col) {
				idx = i
				break
			}
		}
	case Above, Below:
		best := 0
		for i, f := range fields {
			rowDelta := label.Row - f.Row
			if dir == Below {
				rowDelta = f.Row - label.Row
			}
			if rowDelta <= 0 {
				continue
			}
			score := rowDelta*1000 + horizontalGap(f, label)
			if idx < 0 || score < best {
				idx, best = i, score
			}
		}
	default:
		for i, f := range fields {
			if f.Row > label.Row || (f.Row == label.Row && f.Col > label.End()) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil
	}
	idx += max(offset, 0)
	if idx >= len(fields) {
		return nil
	}
	f := fields[idx]
	return &f
}

// horizontalGap is zero when the field overlaps the label columns.
func horizontalGap(f screen.Field, label *Result) int {
	switch {
	case f.End() < label.Col:
		return label.Col - f.End()
	case f.Col > label.End():
		return f.Col - label.End()
	}
	return 0
}
