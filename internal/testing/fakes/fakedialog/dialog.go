// Package fakedialog provides a test fake for ports.DialogProvider.
package fakedialog

import (
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

// Notification is one recorded Notify call.
type Notification struct {
	Message  string
	OK       bool
	Duration time.Duration
}

// Edit is one recorded OpenEditor call.
type Edit struct {
	Name     string
	Content  string
	ReadOnly bool
}

// Provider is a controllable fake DialogProvider for testing.
// Configure the exported answer fields before use; inspect calls through
// the accessor methods, which are safe while a run is in progress.
type Provider struct {
	mu sync.Mutex

	// ConfirmAnswers are returned by Confirm in order; once exhausted
	// ConfirmDefault is used.
	ConfirmAnswers []bool
	ConfirmDefault bool

	// Recovery is returned by Choose unless RecoveryFunc is set.
	Recovery     ports.Recovery
	RecoveryFunc func(ports.RecoveryPrompt) ports.Recovery

	// FormResult is returned by Form; nil simulates a cancelled form.
	FormResult map[string]string

	// Err is returned by every blocking method when set.
	Err error

	notifications []Notification
	confirms      []string
	prompts       []ports.RecoveryPrompt
	forms         [][]ports.FormField
	edits         []Edit
	controls      []ports.Controls
}

// New returns a new fake dialog provider.
func New() *Provider {
	return &Provider{}
}

// Notify records the notification.
func (p *Provider) Notify(message string, ok bool, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, Notification{Message: message, OK: ok, Duration: duration})
}

// Confirm returns the next queued answer.
func (p *Provider) Confirm(title, message string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms = append(p.confirms, message)
	if p.Err != nil {
		return false, p.Err
	}
	if len(p.ConfirmAnswers) > 0 {
		answer := p.ConfirmAnswers[0]
		p.ConfirmAnswers = p.ConfirmAnswers[1:]
		return answer, nil
	}
	return p.ConfirmDefault, nil
}

// Choose returns the configured recovery.
func (p *Provider) Choose(prompt ports.RecoveryPrompt) (ports.Recovery, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	fn, rec, err := p.RecoveryFunc, p.Recovery, p.Err
	p.mu.Unlock()

	if err != nil {
		return ports.Recovery{}, err
	}
	if fn != nil {
		return fn(prompt), nil
	}
	return rec, nil
}

// Form returns FormResult.
func (p *Provider) Form(title string, fields []ports.FormField) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forms = append(p.forms, fields)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.FormResult == nil {
		return nil, nil
	}
	out := make(map[string]string, len(p.FormResult))
	for k, v := range p.FormResult {
		out[k] = v
	}
	return out, nil
}

// OpenEditor records the request.
func (p *Provider) OpenEditor(name, content string, readOnly bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, Edit{Name: name, Content: content, ReadOnly: readOnly})
	return p.Err
}

// ShowControls records the overlay state.
func (p *Provider) ShowControls(c ports.Controls) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = append(p.controls, c)
}

// --- Test inspection methods ---

// Notifications returns every recorded notification.
func (p *Provider) Notifications() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notification(nil), p.notifications...)
}

// Confirms returns the messages passed to Confirm.
func (p *Provider) Confirms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.confirms...)
}

// Prompts returns every recovery prompt shown.
func (p *Provider) Prompts() []ports.RecoveryPrompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.RecoveryPrompt(nil), p.prompts...)
}

// Forms returns the fields of every form shown.
func (p *Provider) Forms() [][]ports.FormField {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]ports.FormField(nil), p.forms...)
}

// Edits returns every editor request.
func (p *Provider) Edits() []Edit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Edit(nil), p.edits...)
}

// Controls returns every overlay update.
func (p *Provider) Controls() []ports.Controls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.Controls(nil), p.controls...)
}

// LastControls returns the most recent overlay state.
func (p *Provider) LastControls() (ports.Controls, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.controls) == 0 {
		return ports.Controls{}, false
	}
	return p.controls[len(p.controls)-1], true
}

// Ensure Provider implements ports.DialogProvider.
var _ ports.DialogProvider = (*Provider)(nil)
