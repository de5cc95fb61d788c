// Package ssh connects to terminal gateways over SSH. A Client holds the
// connection; Shell is the interactive channel a terminal session reads and
// writes, and the same connection serves SFTP for the file primitives.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/acolita/rotinas/internal/adapters/realclock"
	"github.com/acolita/rotinas/internal/ports"
)

// ErrNotConnected is returned when the client has no live connection.
var ErrNotConnected = errors.New("ssh: not connected")

// Client manages one SSH connection.
type Client struct {
	config *ssh.ClientConfig
	host   string
	port   int
	clock  ports.Clock
	logger *slog.Logger

	keepaliveInterval time.Duration

	mu            sync.Mutex
	conn          *ssh.Client
	sftp          *sftp.Client
	keepaliveStop chan struct{}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Host              string
	Port              int
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Logger            *slog.Logger
}

// NewClient validates opts. Call Connect to dial.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Host == "" {
		return nil, errors.New("host is required")
	}
	if opts.User == "" {
		return nil, errors.New("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, errors.New("at least one auth method is required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.HostKeyCallback == nil {
		opts.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		host:              opts.Host,
		port:              opts.Port,
		clock:             opts.Clock,
		logger:            opts.Logger.With(slog.String("host", opts.Host)),
		keepaliveInterval: opts.KeepaliveInterval,
	}, nil
}

// Connect dials the host. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	d := net.Dialer{Timeout: c.config.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, c.config)
	if err != nil {
		netConn.Close()
		return fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.keepaliveStop = make(chan struct{})
	go c.keepalive(c.conn, c.keepaliveStop)

	c.logger.Info("ssh connected", slog.String("addr", addr))
	return nil
}

func (c *Client) keepalive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Debug("ssh keepalive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NewSession opens a session channel.
func (c *Client) NewSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// SFTP returns an SFTP client sharing the connection, created on first use.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if c.sftp == nil {
		client, err := sftp.NewClient(c.conn)
		if err != nil {
			return nil, fmt.Errorf("sftp: %w", err)
		}
		c.sftp = client
	}
	return c.sftp, nil
}

// Connected reports whether Connect succeeded and Close was not called.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the SFTP client and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	if c.sftp != nil {
		c.sftp.Close()
		c.sftp = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
