package ports

import "time"

// RecoveryAction is a user's answer to a failed rotina.
type RecoveryAction int

const (
	// RecoveryStop ends the run.
	RecoveryStop RecoveryAction = iota
	// RecoveryPause leaves the run paused with the controls visible.
	RecoveryPause
	// RecoveryContinue swallows the error.
	RecoveryContinue
	// RecoveryEdit ends the run and opens the source in the editor.
	RecoveryEdit
	// RecoveryDisablePermanently comments out the auto-run declaration.
	RecoveryDisablePermanently
	// RecoveryDisableSession suppresses the auto-run until restart.
	RecoveryDisableSession
	// RecoveryDisableFor suppresses the auto-run for Recovery.Minutes.
	RecoveryDisableFor
)

var recoveryLabels = map[RecoveryAction]string{
	RecoveryStop:               "Parar",
	RecoveryPause:              "Pausar",
	RecoveryContinue:           "Continuar",
	RecoveryEdit:               "Editar",
	RecoveryDisablePermanently: "Desativar permanentemente",
	RecoveryDisableSession:     "Desativar nesta sessão",
	RecoveryDisableFor:         "Desativar por alguns minutos",
}

// String returns the label shown to the user.
func (a RecoveryAction) String() string {
	if l, ok := recoveryLabels[a]; ok {
		return l
	}
	return "desconhecido"
}

// ManualRecoveryActions are offered when a manually started rotina fails.
var ManualRecoveryActions = []RecoveryAction{RecoveryStop, RecoveryPause, RecoveryContinue, RecoveryEdit}

// AutoRunRecoveryActions are offered when an auto-triggered rotina fails.
var AutoRunRecoveryActions = []RecoveryAction{
	RecoveryStop, RecoveryPause, RecoveryDisablePermanently, RecoveryDisableSession, RecoveryDisableFor,
}

// RecoveryPrompt describes a failure awaiting a decision.
type RecoveryPrompt struct {
	Path    string
	Message string
	AutoRun bool
	Actions []RecoveryAction
}

// Recovery is the decision taken for a RecoveryPrompt.
type Recovery struct {
	Action  RecoveryAction
	Minutes int
}

// FormField is one input of a modal form.
type FormField struct {
	Name    string
	Label   string
	Default string
}

// Controls describes the execution controls overlay.
type Controls struct {
	Visible  bool
	Paused   bool
	Editable bool
	Path     string
}

// DialogProvider abstracts every user-facing interaction of the runtime.
// Implementations may use TUI forms, a remote control channel, or test fakes.
type DialogProvider interface {
	// Notify shows a transient message. It must not block.
	Notify(message string, ok bool, duration time.Duration)

	// Confirm asks a yes/no question.
	Confirm(title, message string) (bool, error)

	// Choose asks the user how to recover from a failure.
	Choose(prompt RecoveryPrompt) (Recovery, error)

	// Form collects the given fields. A nil map means the user cancelled.
	Form(title string, fields []FormField) (map[string]string, error)

	// OpenEditor shows a script source for editing or inspection.
	OpenEditor(name, content string, readOnly bool) error

	// ShowControls updates the execution controls overlay.
	ShowControls(c Controls)
}

// DialogCanceller is implemented by providers whose open questions can be
// withdrawn. A withdrawn question returns as if the user cancelled it.
type DialogCanceller interface {
	CancelPending()
}
