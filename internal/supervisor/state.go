package supervisor

import (
	"errors"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

// State is the global execution state.
type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// ErrBusy is returned when a top-level run is requested while another one
// is active.
var ErrBusy = errors.New("uma rotina já está em execução")

// ErrNotRunning is returned by Pause and Resume when there is nothing to act on.
var ErrNotRunning = errors.New("nenhuma rotina em execução")

// Run outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeContinued = "continued"
	OutcomePaused    = "paused"
	OutcomeBusy      = "busy"
)

// Request describes one execution.
type Request struct {
	Path   string
	Origin ports.Origin
	// AutoRun marks runs started by the auto-trigger watcher.
	AutoRun bool
	// Source overrides the stored source when not empty.
	Source string
	// TestRun shows the edit affordance in the controls.
	TestRun bool
	// Nested runs inline on the current surface when something is running.
	Nested bool
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State   State     `json:"-"`
	Name    string    `json:"estado"`
	RunID   string    `json:"run_id,omitempty"`
	Path    string    `json:"caminho,omitempty"`
	Origin  string    `json:"origem,omitempty"`
	AutoRun bool      `json:"auto,omitempty"`
	Started time.Time `json:"inicio,omitempty"`
}

// AutoRunPolicy decides what happens when an auto-triggered run fails.
// It returns RecoveryStop or RecoveryPause; disable actions are carried
// out by the policy itself and end the run.
type AutoRunPolicy interface {
	HandleAutoRunError(script ports.Script, err error) ports.RecoveryAction
}

// Observer receives run lifecycle events, typically for metrics.
type Observer interface {
	RunStarted(origin string, autoRun bool)
	RunFinished(origin, outcome string, elapsed time.Duration)
	StateChanged(state State)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, bool)                    {}
func (nopObserver) RunFinished(string, string, time.Duration) {}
func (nopObserver) StateChanged(State)                         {}
