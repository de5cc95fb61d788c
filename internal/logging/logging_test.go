package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func parseLogOutput(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse log output: %v\nraw: %s", err, buf.String())
	}
	return result
}

func newTestLogger(buf *bytes.Buffer, sanitize bool) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewSanitizingHandler(inner, sanitize))
}

func TestSanitizingHandler_Enabled_DelegatesToInner(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewSanitizingHandler(inner, true)
	ctx := context.Background()

	if handler.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected info to be disabled")
	}
	if !handler.Enabled(ctx, slog.LevelWarn) {
		t.Error("expected warn to be enabled")
	}
}

func TestHandle_RedactsSensitiveKeys(t *testing.T) {
	tests := []struct {
		key      string
		redacted bool
	}{
		{"password", true},
		{"senha", true},
		{"SENHA_GATEWAY", true},
		{"segredo", true},
		{"token", true},
		{"ssh_key_path", true},
		{"passphrase", true},
		{"auth_method", true},
		{"path", false},
		{"run_id", false},
		{"tecla", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			newTestLogger(&buf, true).Info("test", slog.String(tt.key, "valor"))

			got := parseLogOutput(t, &buf)[tt.key]
			if tt.redacted && got != Redacted {
				t.Errorf("%s = %v, want %s", tt.key, got, Redacted)
			}
			if !tt.redacted && got != "valor" {
				t.Errorf("%s = %v, want valor", tt.key, got)
			}
		})
	}
}

func TestHandle_SanitizeFalse_NothingRedacted(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, false).Info("test", slog.String("senha", "1234"))

	if got := parseLogOutput(t, &buf)["senha"]; got != "1234" {
		t.Errorf("senha = %v, want 1234", got)
	}
}

func TestHandle_NestedGroups(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, true).Info("login",
		slog.Group("gateway",
			slog.String("host", "gw"),
			slog.Group("form", slog.String("senha", "1234")),
		),
	)

	gateway := parseLogOutput(t, &buf)["gateway"].(map[string]interface{})
	if gateway["host"] != "gw" {
		t.Errorf("host = %v, want gw", gateway["host"])
	}
	form := gateway["form"].(map[string]interface{})
	if form["senha"] != Redacted {
		t.Errorf("nested senha = %v, want %s", form["senha"], Redacted)
	}
}

func TestWithAttrs_Sanitizes(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true).With(slog.String("token", "abc"), slog.String("run_id", "r1"))
	logger.Info("test")

	result := parseLogOutput(t, &buf)
	if result["token"] != Redacted {
		t.Errorf("token = %v, want %s", result["token"], Redacted)
	}
	if result["run_id"] != "r1" {
		t.Errorf("run_id = %v, want r1", result["run_id"])
	}
}

func TestWithGroup_SanitizesAttrsInGroup(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, true).WithGroup("ssh").Info("test", slog.String("password", "x"))

	group := parseLogOutput(t, &buf)["ssh"].(map[string]interface{})
	if group["password"] != Redacted {
		t.Errorf("ssh.password = %v, want %s", group["password"], Redacted)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_LevelCanChange(t *testing.T) {
	var buf bytes.Buffer
	logger, lv := New(&buf, "warn", true)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	lv.Set(slog.LevelDebug)
	logger.Debug("visible", slog.String("senha", "x"))
	result := parseLogOutput(t, &buf)
	if result["msg"] != "visible" || result["senha"] != Redacted {
		t.Errorf("unexpected record: %v", result)
	}
}

func TestSetup_SetsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	lv := Setup("error", true)
	if lv.Level() != slog.LevelError {
		t.Errorf("level = %v, want error", lv.Level())
	}
	if slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("default logger should not log warn at error level")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rotinas.log")

	for i := 0; i < 2; i++ {
		w, err := OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile() error: %v", err)
		}
		logger, _ := New(w, "info", true)
		logger.Info("linha")
		w.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("got %d lines, want 2 (append mode)", n)
	}
}
