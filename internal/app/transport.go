package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/acolita/rotinas/internal/config"
	"github.com/acolita/rotinas/internal/pty"
	"github.com/acolita/rotinas/internal/security"
	"github.com/acolita/rotinas/internal/sftp"
	"github.com/acolita/rotinas/internal/ssh"
	"github.com/acolita/rotinas/internal/wsterm"
)

// openTransport connects the configured terminal transport.
func (a *App) openTransport(ctx context.Context) (io.ReadWriteCloser, error) {
	tc := a.cfg.Terminal
	switch tc.Transport {
	case config.TransportLocal:
		p, err := pty.Start(pty.Options{
			Command: tc.Command,
			Args:    tc.Args,
			Term:    tc.Term,
			Rows:    uint16(tc.Rows),
			Cols:    uint16(tc.Cols),
		})
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", tc.Command, err)
		}
		return p, nil
	case config.TransportSSH:
		return a.openSSH(ctx)
	case config.TransportWebSocket:
		return a.openWebSocket(ctx)
	default:
		return nil, fmt.Errorf("unknown transport %q", tc.Transport)
	}
}

func (a *App) openWebSocket(ctx context.Context) (io.ReadWriteCloser, error) {
	wc := a.cfg.WebSocket
	header := http.Header{}
	for k, v := range wc.Headers {
		header.Set(k, v)
	}
	conn, err := wsterm.Dial(ctx, wc.URL, wsterm.WithHeader(header), wsterm.WithWriteTimeout(wc.WriteTimeout))
	if err != nil {
		return nil, err
	}
	if err := conn.Resize(a.cfg.Terminal.Cols, a.cfg.Terminal.Rows); err != nil {
		a.logger.Debug("initial resize failed", slog.String("error", err.Error()))
	}
	return conn, nil
}

// openSSH connects with the configured key, agent or password. When that
// is rejected and a password can be obtained from the keyring or the user,
// it retries once with it.
func (a *App) openSSH(ctx context.Context) (io.ReadWriteCloser, error) {
	sc := a.cfg.SSH
	auth := ssh.AuthConfig{
		KeyPath:       sc.KeyPath,
		KeyPassphrase: a.secret(sc.PassphraseEnv),
		UseAgent:      sc.UseAgent,
		Password:      a.secret(sc.PasswordEnv),
		Host:          sc.Host,
	}
	if auth.KeyPassphrase == "" && sc.KeyPath != "" && a.keyring != nil {
		if pp, err := a.keyring.SSHPassphrase(sc.KeyPath); err == nil && pp != nil {
			auth.KeyPassphrase = string(pp)
		}
	}

	client, err := a.dialSSH(ctx, auth)
	if err != nil && auth.Password == "" && retryWithPassword(err) {
		a.logger.Info("ssh key auth rejected, asking for password", slog.String("host", sc.Host))
		pw, perr := a.credentials.Password(sc.Host, sc.User)
		if perr != nil {
			return nil, fmt.Errorf("ssh %s: %w", sc.Host, perr)
		}
		auth.Password = string(pw)
		security.WipeBytes(pw)
		client, err = a.dialSSH(ctx, auth)
		if err != nil {
			a.credentials.Rejected(sc.Host, sc.User)
		} else {
			a.credentials.Accepted(sc.Host, sc.User)
		}
	}
	if err != nil {
		return nil, err
	}
	a.addCloser(client.Close)

	shell, err := ssh.OpenShell(client, ssh.ShellOptions{
		Term: a.cfg.Terminal.Term,
		Rows: a.cfg.Terminal.Rows,
		Cols: a.cfg.Terminal.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("open shell: %w", err)
	}
	if a.cfg.Commands.RemoteFiles {
		a.files = sftp.New(client)
		a.logger.Info("file primitives use sftp", slog.String("host", sc.Host))
	}
	return shell, nil
}

func (a *App) dialSSH(ctx context.Context, auth ssh.AuthConfig) (*ssh.Client, error) {
	sc := a.cfg.SSH
	methods, err := ssh.BuildAuthMethods(a.fs, auth)
	if err != nil {
		return nil, &authError{err}
	}
	hostKeys, err := ssh.BuildHostKeyCallback(a.fs, sc.KnownHosts)
	if err != nil {
		return nil, err
	}
	client, err := ssh.NewClient(ssh.ClientOptions{
		Host:              sc.Host,
		Port:              sc.Port,
		User:              sc.User,
		AuthMethods:       methods,
		HostKeyCallback:   hostKeys,
		Timeout:           sc.Timeout,
		KeepaliveInterval: sc.KeepaliveInterval,
		Clock:             a.clock,
		Logger:            a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &authError{err}
		}
		return nil, err
	}
	return client, nil
}

// authError marks failures a password might fix.
type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

func retryWithPassword(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

// secret reads a credential from the named environment variable.
func (a *App) secret(env string) string {
	if env == "" {
		return ""
	}
	return a.fs.Getenv(env)
}
