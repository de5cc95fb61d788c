package pty

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// readUntil reads from the PTY until the output contains want or the
// timeout expires.
func readUntil(p *LocalPTY, want string, timeout time.Duration) (string, bool) {
	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		buf := make([]byte, 4096)
		for {
			n, err := p.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				ch <- cp
			}
			if err != nil {
				return
			}
		}
	}()

	var sb strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return sb.String(), strings.Contains(sb.String(), want)
			}
			sb.Write(data)
			if strings.Contains(sb.String(), want) {
				return sb.String(), true
			}
		case <-deadline:
			return sb.String(), false
		}
	}
}

func requireSh(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

func TestStart_RequiresCommand(t *testing.T) {
	if _, err := Start(Options{}); err == nil {
		t.Error("Start() with empty command should fail")
	}
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{Command: "x"}
	opts.applyDefaults()

	if opts.Term != "xterm-256color" {
		t.Errorf("Term = %q", opts.Term)
	}
	if opts.Rows != 24 || opts.Cols != 80 {
		t.Errorf("size = %dx%d, want 80x24", opts.Cols, opts.Rows)
	}
}

func TestLocalPTY_Echo(t *testing.T) {
	sh := requireSh(t)
	p, err := Start(Options{Command: sh, Args: []string{"-c", "printf 'TELA PRONTA'; read linha; printf \"recebido:$linha\""}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Close()

	if out, ok := readUntil(p, "TELA PRONTA", 5*time.Second); !ok {
		t.Fatalf("did not see prompt, got %q", out)
	}
	if _, err := p.Write([]byte("abc\r")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if out, ok := readUntil(p, "recebido:abc", 5*time.Second); !ok {
		t.Errorf("did not see echo, got %q", out)
	}
}

func TestLocalPTY_Env(t *testing.T) {
	sh := requireSh(t)
	p, err := Start(Options{
		Command: sh,
		Args:    []string{"-c", "printf \"$TERM:$GATEWAY\"; sleep 1"},
		Term:    "vt100",
		Env:     []string{"GATEWAY=tn5250"},
		Dir:     os.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Close()

	if out, ok := readUntil(p, "vt100:tn5250", 5*time.Second); !ok {
		t.Errorf("env not applied, got %q", out)
	}
}

func TestLocalPTY_Resize(t *testing.T) {
	sh := requireSh(t)
	p, err := Start(Options{Command: sh, Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Close()

	if err := p.Resize(132, 27); err != nil {
		t.Errorf("Resize() error = %v", err)
	}
}

func TestLocalPTY_CloseTwice(t *testing.T) {
	sh := requireSh(t)
	p, err := Start(Options{Command: sh, Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
