package realdialog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

func TestNotifyWritesLine(t *testing.T) {
	var out bytes.Buffer
	p := New(WithIO(strings.NewReader(""), &out))

	p.Notify("  Rotina concluída ", true, time.Second)
	p.Notify("Falhou", false, time.Second)

	got := out.String()
	if !strings.Contains(got, "✔ Rotina concluída\r\n") {
		t.Errorf("success notification missing: %q", got)
	}
	if !strings.Contains(got, "✘ Falhou\r\n") {
		t.Errorf("failure notification missing: %q", got)
	}
}

func TestFormatControls(t *testing.T) {
	tests := []struct {
		name string
		c    ports.Controls
		want string
	}{
		{"hidden", ports.Controls{}, "[rotina encerrada]"},
		{"running", ports.Controls{Visible: true, Path: "login"}, "[rotina login executando]"},
		{"paused", ports.Controls{Visible: true, Paused: true, Path: "login"}, "[rotina login pausada]"},
		{"test run", ports.Controls{Visible: true, Editable: true, Path: "x"}, "[rotina x executando (teste)]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatControls(tt.c); !strings.Contains(got, tt.want) {
				t.Errorf("formatControls() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"30", 30, false},
		{" 5 ", 5, false},
		{"0", 0, true},
		{"-2", 0, true},
		{"meia hora", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMinutes(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMinutes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseMinutes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRecoveryOptionsUseLabels(t *testing.T) {
	opts := recoveryOptions(ports.AutoRunRecoveryActions)
	if len(opts) != len(ports.AutoRunRecoveryActions) {
		t.Fatalf("got %d options, want %d", len(opts), len(ports.AutoRunRecoveryActions))
	}
	for i, o := range opts {
		if o.Value != ports.AutoRunRecoveryActions[i] {
			t.Errorf("option %d value = %v", i, o.Value)
		}
		if o.Key != ports.AutoRunRecoveryActions[i].String() {
			t.Errorf("option %d label = %q", i, o.Key)
		}
	}
}

func TestRecoveryTitle(t *testing.T) {
	if got := recoveryTitle(ports.RecoveryPrompt{Path: "a", AutoRun: true}); !strings.Contains(got, "automática") {
		t.Errorf("auto-run title = %q", got)
	}
	if got := recoveryTitle(ports.RecoveryPrompt{Path: "a"}); strings.Contains(got, "automática") {
		t.Errorf("manual title = %q", got)
	}
}

func TestFormWithoutFields(t *testing.T) {
	p := New(WithIO(strings.NewReader(""), &bytes.Buffer{}))
	got, err := p.Form("Vazio", nil)
	if err != nil {
		t.Fatalf("Form() error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Form() = %v, want empty non-nil map", got)
	}
}

func TestCancelPendingClosesActiveForm(t *testing.T) {
	p := New(WithIO(strings.NewReader(""), &bytes.Buffer{}))
	p.CancelPending() // nothing on screen

	ctx, done := p.begin()
	p.CancelPending()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("CancelPending did not cancel the active form")
	}
	done()

	next, done := p.begin()
	defer done()
	if next.Err() != nil {
		t.Error("a form started after CancelPending must not start cancelled")
	}
}

type countingSuspender struct{ suspended, resumed int }

func (s *countingSuspender) Suspend() func() {
	s.suspended++
	return func() { s.resumed++ }
}

// writeEditor creates a shell script that appends a line to its argument.
func writeEditor(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.sh")
	script := "#!/bin/sh\nprintf 'teclar(\"ENTER\")\\n' >> \"$1\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenEditorSavesChanges(t *testing.T) {
	var savedPath, savedContent string
	susp := &countingSuspender{}
	p := New(
		WithIO(strings.NewReader(""), &bytes.Buffer{}),
		WithEditor("sh "+writeEditor(t)),
		WithSuspender(susp),
		WithSaveHook(func(path, content string) error {
			savedPath, savedContent = path, content
			return nil
		}),
	)

	if err := p.OpenEditor("login", "digitar(\"x\")\n", false); err != nil {
		t.Fatalf("OpenEditor() error: %v", err)
	}
	if savedPath != "login" {
		t.Errorf("saved path = %q, want login", savedPath)
	}
	if savedContent != "digitar(\"x\")\nteclar(\"ENTER\")\n" {
		t.Errorf("saved content = %q", savedContent)
	}
	if susp.suspended != 1 || susp.resumed != 1 {
		t.Errorf("suspend/resume = %d/%d, want 1/1", susp.suspended, susp.resumed)
	}
}

func TestOpenEditorReadOnlyDoesNotSave(t *testing.T) {
	saved := false
	p := New(
		WithIO(strings.NewReader(""), &bytes.Buffer{}),
		WithEditor("true"),
		WithSaveHook(func(string, string) error {
			saved = true
			return nil
		}),
	)

	if err := p.OpenEditor("publica", "x", true); err != nil {
		t.Fatalf("OpenEditor() error: %v", err)
	}
	if saved {
		t.Error("read-only script was saved")
	}
}

func TestOpenEditorUnchangedDoesNotSave(t *testing.T) {
	saved := false
	p := New(
		WithIO(strings.NewReader(""), &bytes.Buffer{}),
		WithEditor("true"),
		WithSaveHook(func(string, string) error {
			saved = true
			return nil
		}),
	)

	if err := p.OpenEditor("login", "x", false); err != nil {
		t.Fatalf("OpenEditor() error: %v", err)
	}
	if saved {
		t.Error("unchanged script was saved")
	}
}

func TestOpenEditorFailure(t *testing.T) {
	p := New(WithIO(strings.NewReader(""), &bytes.Buffer{}), WithEditor("false"))
	if err := p.OpenEditor("login", "x", false); err == nil {
		t.Error("OpenEditor() expected error from failing editor")
	}
}
