package ssh

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Shell is an interactive shell channel with a PTY. It satisfies
// io.ReadWriteCloser and can be resized.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	mu   sync.Mutex
	cols int
	rows int
}

// ShellOptions configures the remote PTY.
type ShellOptions struct {
	Term string            // default xterm-256color
	Rows int               // default 24
	Cols int               // default 80
	Env  map[string]string // servers may ignore these
}

// OpenShell starts a shell on a connected client.
func OpenShell(client *Client, opts ShellOptions) (*Shell, error) {
	if !client.Connected() {
		return nil, ErrNotConnected
	}
	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	for k, v := range opts.Env {
		_ = session.Setenv(k, v)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		cols:    opts.Cols,
		rows:    opts.Rows,
	}, nil
}

// Read reads gateway output.
func (s *Shell) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// Write sends input.
func (s *Shell) Write(b []byte) (int, error) {
	return s.stdin.Write(b)
}

// Resize sends a window-change request.
func (s *Shell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.session.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("window change: %w", err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Size returns columns and rows.
func (s *Shell) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Close closes the session channel.
func (s *Shell) Close() error {
	err := s.session.Close()
	if err == io.EOF {
		return nil
	}
	return err
}
