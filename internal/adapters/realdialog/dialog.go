// Package realdialog provides a DialogProvider that runs charmbracelet/huh
// forms on the controlling terminal.
//
// While a rotina runs the terminal is usually attached to the remote
// session in raw mode. Every blocking dialog therefore asks the Suspender
// to release the terminal first and restores it afterwards.
package realdialog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/acolita/rotinas/internal/logging"
	"github.com/acolita/rotinas/internal/ports"
)

// DefaultDisableMinutes is proposed when the user chooses to disable an
// auto-run for a while.
const DefaultDisableMinutes = 30

// Suspender hands the terminal over to a dialog. The returned function
// gives it back.
type Suspender interface {
	Suspend() (resume func())
}

// Provider implements ports.DialogProvider with huh forms.
type Provider struct {
	in         io.Reader
	out        io.Writer
	suspender  Suspender
	accessible bool
	editor     string
	onSave     func(path, content string) error

	formMu sync.Mutex
	outMu  sync.Mutex

	activeMu sync.Mutex
	active   context.CancelFunc
}

// Option configures a Provider.
type Option func(*Provider)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(p *Provider) {
		p.in = in
		p.out = out
	}
}

// WithSuspender sets who owns the terminal outside dialogs.
func WithSuspender(s Suspender) Option {
	return func(p *Provider) { p.suspender = s }
}

// WithAccessible runs forms in huh's line-based accessible mode, for
// terminals without cursor addressing.
func WithAccessible(enabled bool) Option {
	return func(p *Provider) { p.accessible = enabled }
}

// WithEditor overrides $EDITOR.
func WithEditor(cmd string) Option {
	return func(p *Provider) { p.editor = cmd }
}

// WithSaveHook receives the edited source of a writable script.
func WithSaveHook(fn func(path, content string) error) Option {
	return func(p *Provider) { p.onSave = fn }
}

// New returns a provider on stdin/stdout.
func New(opts ...Option) *Provider {
	p := &Provider{
		in:     os.Stdin,
		out:    os.Stdout,
		editor: os.Getenv("EDITOR"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.editor == "" {
		p.editor = "vi"
	}
	return p
}

// run shows form with the terminal released. A user abort or a
// CancelPending yields huh.ErrUserAborted.
func (p *Provider) run(form *huh.Form) error {
	p.formMu.Lock()
	defer p.formMu.Unlock()
	ctx, done := p.begin()
	defer done()
	if p.suspender != nil {
		resume := p.suspender.Suspend()
		defer resume()
	}
	err := form.WithInput(p.in).WithOutput(p.out).WithAccessible(p.accessible).RunWithContext(ctx)
	if err != nil && ctx.Err() != nil {
		return huh.ErrUserAborted
	}
	return err
}

// begin registers the context of the form about to run.
func (p *Provider) begin() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	p.activeMu.Lock()
	p.active = cancel
	p.activeMu.Unlock()
	return ctx, func() {
		p.activeMu.Lock()
		p.active = nil
		p.activeMu.Unlock()
		cancel()
	}
}

// CancelPending closes the form on screen, if any. Accessible mode reads
// lines synchronously and is not interrupted.
func (p *Provider) CancelPending() {
	p.activeMu.Lock()
	cancel := p.active
	p.activeMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Notify prints a one-line message.
func (p *Provider) Notify(message string, ok bool, duration time.Duration) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprint(p.out, formatNotification(message, ok))
}

func formatNotification(message string, ok bool) string {
	mark := "✔"
	if !ok {
		mark = "✘"
	}
	return fmt.Sprintf("\r\n%s %s\r\n", mark, strings.TrimSpace(message))
}

// Confirm asks a yes/no question.
func (p *Provider) Confirm(title, message string) (bool, error) {
	var answer bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(message).
			Affirmative("Sim").
			Negative("Não").
			Value(&answer),
	))
	if err := p.run(form); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return answer, nil
}

// Choose asks how to recover from a failed rotina. Aborting the form
// stops the run.
func (p *Provider) Choose(prompt ports.RecoveryPrompt) (ports.Recovery, error) {
	actions := prompt.Actions
	if len(actions) == 0 {
		actions = ports.ManualRecoveryActions
	}

	action := actions[0]
	minutes := strconv.Itoa(DefaultDisableMinutes)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ports.RecoveryAction]().
				Title(recoveryTitle(prompt)).
				Description(prompt.Message).
				Options(recoveryOptions(actions)...).
				Value(&action),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Desativar por quantos minutos?").
				Validate(func(s string) error {
					_, err := parseMinutes(s)
					return err
				}).
				Value(&minutes),
		).WithHideFunc(func() bool { return action != ports.RecoveryDisableFor }),
	)
	if err := p.run(form); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ports.Recovery{Action: ports.RecoveryStop}, nil
		}
		return ports.Recovery{}, err
	}

	rec := ports.Recovery{Action: action}
	if action == ports.RecoveryDisableFor {
		rec.Minutes, _ = parseMinutes(minutes)
	}
	return rec, nil
}

func recoveryTitle(prompt ports.RecoveryPrompt) string {
	if prompt.AutoRun {
		return fmt.Sprintf("A rotina automática %q falhou", prompt.Path)
	}
	return fmt.Sprintf("A rotina %q falhou", prompt.Path)
}

func recoveryOptions(actions []ports.RecoveryAction) []huh.Option[ports.RecoveryAction] {
	opts := make([]huh.Option[ports.RecoveryAction], len(actions))
	for i, a := range actions {
		opts[i] = huh.NewOption(a.String(), a)
	}
	return opts
}

func parseMinutes(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("informe um número de minutos maior que zero")
	}
	return n, nil
}

// Form collects fields. Fields whose name looks like a secret are masked.
// A nil map means the user cancelled.
func (p *Provider) Form(title string, fields []ports.FormField) (map[string]string, error) {
	values := make([]string, len(fields))
	inputs := make([]huh.Field, len(fields))
	for i, f := range fields {
		values[i] = f.Default
		label := f.Label
		if label == "" {
			label = f.Name
		}
		input := huh.NewInput().Title(label).Value(&values[i])
		if logging.Sensitive(f.Name) {
			input = input.EchoMode(huh.EchoModePassword)
		}
		inputs[i] = input
	}
	if len(inputs) == 0 {
		return map[string]string{}, nil
	}

	form := huh.NewForm(huh.NewGroup(inputs...).Title(title))
	if err := p.run(form); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, err
	}

	out := make(map[string]string, len(fields))
	for i, f := range fields {
		out[f.Name] = values[i]
	}
	return out, nil
}

// OpenEditor opens content in $EDITOR. The edited text of a writable
// script goes to the save hook when it changed.
func (p *Provider) OpenEditor(name, content string, readOnly bool) error {
	f, err := os.CreateTemp("", "rotina-*.go")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	_, err = f.WriteString(content)
	f.Close()
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if readOnly {
		if err := os.Chmod(tmpPath, 0o400); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
	}

	if err := p.runEditor(tmpPath); err != nil {
		return err
	}
	if readOnly || p.onSave == nil {
		return nil
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("read edited script: %w", err)
	}
	if string(edited) == content {
		return nil
	}
	return p.onSave(name, string(edited))
}

func (p *Provider) runEditor(path string) error {
	p.formMu.Lock()
	defer p.formMu.Unlock()
	if p.suspender != nil {
		resume := p.suspender.Suspend()
		defer resume()
	}

	parts := strings.Fields(p.editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = p.in
	cmd.Stdout = p.out
	cmd.Stderr = p.out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run editor %s: %w", parts[0], err)
	}
	return nil
}

// ShowControls prints the execution state on its own line.
func (p *Provider) ShowControls(c ports.Controls) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprint(p.out, formatControls(c))
}

func formatControls(c ports.Controls) string {
	if !c.Visible {
		return "\r\n[rotina encerrada]\r\n"
	}
	state := "executando"
	if c.Paused {
		state = "pausada"
	}
	hint := ""
	if c.Editable {
		hint = " (teste)"
	}
	return fmt.Sprintf("\r\n[rotina %s %s%s]\r\n", c.Path, state, hint)
}

var (
	_ ports.DialogProvider  = (*Provider)(nil)
	_ ports.DialogCanceller = (*Provider)(nil)
)
