// Package pty runs a local terminal gateway (c3270, tn5250, ssh, ...) in a
// pseudo-terminal and exposes it as a session transport.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// LocalPTY is a command attached to a pseudo-terminal.
type LocalPTY struct {
	cmd  *exec.Cmd
	pty  *os.File
	mu   sync.Mutex
	done bool
}

// Options configures the gateway command.
type Options struct {
	Command string   // program to run
	Args    []string // program arguments
	Term    string   // TERM value (default xterm-256color)
	Rows    uint16   // default 24
	Cols    uint16   // default 80
	Dir     string   // working directory
	Env     []string // extra environment variables
}

func (o *Options) applyDefaults() {
	if o.Term == "" {
		o.Term = "xterm-256color"
	}
	if o.Rows == 0 {
		o.Rows = 24
	}
	if o.Cols == 0 {
		o.Cols = 80
	}
}

// Start launches the command in a new PTY.
func Start(opts Options) (*LocalPTY, error) {
	if opts.Command == "" {
		return nil, errors.New("pty: command is required")
	}
	opts.applyDefaults()

	cmd := exec.Command(opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = append(os.Environ(), fmt.Sprintf("TERM=%s", opts.Term))
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &LocalPTY{cmd: cmd, pty: ptmx}, nil
}

// Read reads gateway output.
func (p *LocalPTY) Read(b []byte) (int, error) {
	return p.pty.Read(b)
}

// Write sends input to the gateway.
func (p *LocalPTY) Write(b []byte) (int, error) {
	return p.pty.Write(b)
}

// Resize changes the PTY window.
func (p *LocalPTY) Resize(cols, rows int) error {
	return pty.Setsize(p.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Interrupt sends SIGINT to the gateway.
func (p *LocalPTY) Interrupt() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Signal(syscall.SIGINT)
}

// Wait waits for the gateway to exit.
func (p *LocalPTY) Wait() error {
	return p.cmd.Wait()
}

// Close closes the PTY and kills the gateway if it is still running.
func (p *LocalPTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true

	var errs []error
	if err := p.pty.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill process: %w", err))
		}
	}
	return errors.Join(errs...)
}
