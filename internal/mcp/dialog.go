package mcp

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/acolita/rotinas/internal/ports"
)

// DefaultDecisionTimeout bounds how long a run waits for rotina_decide.
const DefaultDecisionTimeout = 10 * time.Minute

const maxNotices = 20

// Decision kinds.
const (
	KindConfirm = "confirmar"
	KindChoose  = "escolher"
	KindForm    = "formulario"
)

var (
	// ErrDecisionTimeout is returned to the run when nobody answered.
	ErrDecisionTimeout = errors.New("tempo esgotado aguardando decisão")
	// ErrUnknownDecision is returned by Decide for ids that are not pending.
	ErrUnknownDecision = errors.New("decisão inexistente ou já respondida")
)

// actionNames are the stable identifiers clients send back for each
// recovery action.
var actionNames = map[ports.RecoveryAction]string{
	ports.RecoveryStop:               "parar",
	ports.RecoveryPause:              "pausar",
	ports.RecoveryContinue:           "continuar",
	ports.RecoveryEdit:               "editar",
	ports.RecoveryDisablePermanently: "desativar",
	ports.RecoveryDisableSession:     "desativar_sessao",
	ports.RecoveryDisableFor:         "desativar_por",
}

func actionByName(name string) (ports.RecoveryAction, bool) {
	for a, n := range actionNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// Pending is a question waiting for rotina_decide.
type Pending struct {
	ID      string            `json:"id"`
	Kind    string            `json:"tipo"`
	Title   string            `json:"titulo"`
	Message string            `json:"mensagem,omitempty"`
	Path    string            `json:"caminho,omitempty"`
	AutoRun bool              `json:"auto,omitempty"`
	Actions []string          `json:"acoes,omitempty"`
	Fields  []ports.FormField `json:"campos,omitempty"`
	Created time.Time         `json:"criada"`
}

// Decision is the answer carried by rotina_decide.
type Decision struct {
	Action    string            `mapstructure:"action"`
	Minutes   int               `mapstructure:"minutes"`
	Confirmed bool              `mapstructure:"confirmed"`
	Values    map[string]string `mapstructure:"values"`
	Cancel    bool              `mapstructure:"cancel"`
}

// Notice is a recorded notification.
type Notice struct {
	Message string    `json:"mensagem"`
	OK      bool      `json:"ok"`
	At      time.Time `json:"em"`
}

// EditRequest asks the client to show a script for editing.
type EditRequest struct {
	Path     string `json:"caminho"`
	Source   string `json:"fonte"`
	ReadOnly bool   `json:"somente_leitura"`
}

type pendingDecision struct {
	Pending
	actions []ports.RecoveryAction
	answer  chan Decision
}

// Dialog implements ports.DialogProvider for a remote client: blocking
// questions become pending decisions answered through rotina_decide.
type Dialog struct {
	clock   ports.Clock
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingDecision
	notices  []Notice
	edits    []EditRequest
	controls ports.Controls
}

// DialogOption configures a Dialog.
type DialogOption func(*Dialog)

// WithDecisionTimeout overrides DefaultDecisionTimeout.
func WithDecisionTimeout(d time.Duration) DialogOption {
	return func(dl *Dialog) { dl.timeout = d }
}

// NewDialog creates a dialog with no pending decisions.
func NewDialog(clock ports.Clock, opts ...DialogOption) *Dialog {
	d := &Dialog{
		clock:   clock,
		timeout: DefaultDecisionTimeout,
		pending: make(map[string]*pendingDecision),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialog) ask(p *pendingDecision) (Decision, error) {
	p.ID = uuid.NewString()
	p.Created = d.clock.Now()
	p.answer = make(chan Decision, 1)

	d.mu.Lock()
	d.pending[p.ID] = p
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, p.ID)
		d.mu.Unlock()
	}()

	select {
	case dec := <-p.answer:
		return dec, nil
	case <-d.clock.After(d.timeout):
		return Decision{}, ErrDecisionTimeout
	}
}

// Decide answers the pending decision id. raw is decoded into a Decision.
func (d *Dialog) Decide(id string, raw map[string]any) error {
	var dec Decision
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &dec,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decisão inválida: %w", err)
	}

	d.mu.Lock()
	p, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if !ok {
		return ErrUnknownDecision
	}

	if err := validate(p, dec); err != nil {
		d.mu.Lock()
		d.pending[id] = p
		d.mu.Unlock()
		return err
	}
	p.answer <- dec
	return nil
}

func validate(p *pendingDecision, dec Decision) error {
	if p.Kind != KindChoose || dec.Cancel {
		return nil
	}
	action, ok := actionByName(dec.Action)
	if !ok {
		return fmt.Errorf("ação desconhecida %q", dec.Action)
	}
	offered := false
	for _, a := range p.actions {
		if a == action {
			offered = true
		}
	}
	if !offered {
		return fmt.Errorf("ação %q não está disponível", dec.Action)
	}
	if action == ports.RecoveryDisableFor && dec.Minutes <= 0 {
		return errors.New("informe minutes maior que zero")
	}
	return nil
}

// CancelPending withdraws every open question. Each waiting call returns
// as cancelled and the question disappears from Pending.
func (d *Dialog) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.pending {
		delete(d.pending, id)
		select {
		case p.answer <- Decision{Cancel: true}:
		default:
		}
	}
}

// Pending returns the open questions, oldest first.
func (d *Dialog) Pending() []Pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Pending, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, p.Pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Notify records the message for the next rotina_status.
func (d *Dialog) Notify(message string, ok bool, duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, Notice{Message: message, OK: ok, At: d.clock.Now()})
	if len(d.notices) > maxNotices {
		d.notices = d.notices[len(d.notices)-maxNotices:]
	}
}

// Notices returns and clears the recorded notifications.
func (d *Dialog) Notices() []Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.notices
	d.notices = nil
	return out
}

// Confirm waits for {"confirmed": bool}.
func (d *Dialog) Confirm(title, message string) (bool, error) {
	dec, err := d.ask(&pendingDecision{Pending: Pending{Kind: KindConfirm, Title: title, Message: message}})
	if err != nil {
		return false, err
	}
	return dec.Confirmed && !dec.Cancel, nil
}

// Choose waits for {"action": name, "minutes": n}. Cancel stops the run.
func (d *Dialog) Choose(prompt ports.RecoveryPrompt) (ports.Recovery, error) {
	actions := prompt.Actions
	if len(actions) == 0 {
		actions = ports.ManualRecoveryActions
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = actionNames[a]
	}

	dec, err := d.ask(&pendingDecision{
		Pending: Pending{
			Kind:    KindChoose,
			Title:   "A rotina falhou",
			Message: prompt.Message,
			Path:    prompt.Path,
			AutoRun: prompt.AutoRun,
			Actions: names,
		},
		actions: actions,
	})
	if err != nil {
		return ports.Recovery{}, err
	}
	if dec.Cancel {
		return ports.Recovery{Action: ports.RecoveryStop}, nil
	}
	action, _ := actionByName(dec.Action)
	return ports.Recovery{Action: action, Minutes: dec.Minutes}, nil
}

// Form waits for {"values": {...}}. Cancel yields a nil map.
func (d *Dialog) Form(title string, fields []ports.FormField) (map[string]string, error) {
	dec, err := d.ask(&pendingDecision{Pending: Pending{Kind: KindForm, Title: title, Fields: fields}})
	if err != nil {
		return nil, err
	}
	if dec.Cancel {
		return nil, nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		v, ok := dec.Values[f.Name]
		if !ok {
			v = f.Default
		}
		out[f.Name] = v
	}
	return out, nil
}

// OpenEditor records the request for the client.
func (d *Dialog) OpenEditor(name, content string, readOnly bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edits = append(d.edits, EditRequest{Path: name, Source: content, ReadOnly: readOnly})
	return nil
}

// Edits returns and clears the editor requests.
func (d *Dialog) Edits() []EditRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.edits
	d.edits = nil
	return out
}

// ShowControls keeps the latest overlay state.
func (d *Dialog) ShowControls(c ports.Controls) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controls = c
}

// Controls returns the latest overlay state.
func (d *Dialog) Controls() ports.Controls {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controls
}

var (
	_ ports.DialogProvider  = (*Dialog)(nil)
	_ ports.DialogCanceller = (*Dialog)(nil)
)
