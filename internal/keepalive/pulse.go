// Package keepalive keeps an idle terminal session from timing out.
package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/keys"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/supervisor"
)

// StateSource reports the execution state.
type StateSource interface {
	State() supervisor.State
}

// Activity reports when input was last written to the session.
type Activity interface {
	LastInput() time.Time
}

// Pulse sends a key after Interval without input, only while no rotina
// is running.
type Pulse struct {
	term     ports.Terminal
	state    StateSource
	activity Activity
	clock    ports.Clock
	codec    *keys.Codec
	logger   *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	key      string
	last     time.Time
}

// New creates a pulse sending key every interval of inactivity. An empty
// key or a non-positive interval disables it. activity may be nil, in
// which case only the pulse's own writes count as input.
func New(term ports.Terminal, state StateSource, activity Activity, clock ports.Clock, interval time.Duration, key string) *Pulse {
	return &Pulse{
		term:     term,
		state:    state,
		activity: activity,
		clock:    clock,
		codec:    keys.Default,
		logger:   slog.Default(),
		interval: interval,
		key:      key,
		last:     clock.Now(),
	}
}

// Configure changes the interval and key.
func (p *Pulse) Configure(interval time.Duration, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = interval
	p.key = key
}

// Run checks once per second until ctx is done.
func (p *Pulse) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.Tick()
		}
	}
}

// Tick sends the key when the session has been idle long enough. It
// reports whether it did.
func (p *Pulse) Tick() bool {
	p.mu.Lock()
	interval, key := p.interval, p.key
	last := p.last
	p.mu.Unlock()

	if key == "" || interval <= 0 {
		return false
	}
	if p.state.State() != supervisor.Stopped {
		return false
	}
	if p.activity != nil {
		if t := p.activity.LastInput(); t.After(last) {
			last = t
		}
	}
	now := p.clock.Now()
	if now.Sub(last) < interval {
		return false
	}

	seq, ok := p.codec.Sequence(key)
	if !ok {
		p.logger.Warn("unknown keep-alive key", slog.String("tecla", key))
		return false
	}
	if err := p.term.WriteInput(seq); err != nil {
		p.logger.Warn("keep-alive failed", slog.String("error", err.Error()))
		return false
	}
	p.mu.Lock()
	p.last = now
	p.mu.Unlock()
	p.logger.Debug("keep-alive sent", slog.String("tecla", key))
	return true
}
