// Package mockssh provides an in-process SSH server for testing. Shell
// channels behave like a terminal gateway: they draw a banner screen and
// echo input back. The sftp subsystem is served from the local disk.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a mock SSH server.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	banner   string
	users    map[string]string // username -> password
	hostKey  ssh.PublicKey
	done     chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	input    []byte
	sizes    [][2]int
	terms    []string
	channels []ssh.Channel
}

// Option configures the mock server.
type Option func(*Server)

// WithUser adds a user/password pair.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithBanner sets the text written when a shell starts.
func WithBanner(banner string) Option {
	return func(s *Server) {
		s.banner = banner
	}
}

// New starts a server on a random local port.
func New(opts ...Option) (*Server, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}

	s := &Server{
		banner:  "SISTEMA PRONTO\r\n",
		users:   map[string]string{"test": "test"},
		hostKey: sshPub,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if want, ok := s.users[c.User()]; ok && string(password) == want {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.addr }

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the listening port.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// HostKey returns the server public key.
func (s *Server) HostKey() ssh.PublicKey { return s.hostKey }

// Input returns every byte received on shell channels.
func (s *Server) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.input)
}

// Sizes returns the requested window sizes as {cols, rows}, the pty
// request first.
func (s *Server) Sizes() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]int(nil), s.sizes...)
}

// Terms returns the TERM values of pty requests.
func (s *Server) Terms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.terms...)
}

// Close shuts the server down.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for _, ch := range s.channels {
		ch.Close()
	}
	s.channels = nil
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("ssh handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.channels = append(s.channels, channel)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	for req := range requests {
		ok := true
		switch req.Type {
		case "pty-req":
			term, cols, rows := parsePtyRequest(req.Payload)
			s.mu.Lock()
			s.terms = append(s.terms, term)
			s.sizes = append(s.sizes, [2]int{cols, rows})
			s.mu.Unlock()
		case "window-change":
			if len(req.Payload) >= 8 {
				cols := int(binary.BigEndian.Uint32(req.Payload[0:4]))
				rows := int(binary.BigEndian.Uint32(req.Payload[4:8]))
				s.mu.Lock()
				s.sizes = append(s.sizes, [2]int{cols, rows})
				s.mu.Unlock()
			}
		case "env":
		case "shell":
			s.wg.Add(1)
			go s.serveShell(channel)
		case "subsystem":
			if len(req.Payload) < 4 || string(req.Payload[4:]) != "sftp" {
				ok = false
				break
			}
			s.wg.Add(1)
			go s.serveSFTP(channel)
		default:
			ok = false
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

func (s *Server) serveShell(channel ssh.Channel) {
	defer s.wg.Done()
	if _, err := io.WriteString(channel, s.banner); err != nil {
		return
	}
	buf := make([]byte, 1024)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.input = append(s.input, buf[:n]...)
			s.mu.Unlock()
			if _, werr := channel.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) serveSFTP(channel ssh.Channel) {
	defer s.wg.Done()
	server, err := sftp.NewServer(channel)
	if err != nil {
		slog.Debug("sftp server failed", slog.String("error", err.Error()))
		return
	}
	if err := server.Serve(); err != nil && err != io.EOF {
		slog.Debug("sftp serve ended", slog.String("error", err.Error()))
	}
	server.Close()
}

func parsePtyRequest(payload []byte) (term string, cols, rows int) {
	if len(payload) < 4 {
		return "", 80, 24
	}
	termLen := int(binary.BigEndian.Uint32(payload[0:4]))
	if len(payload) < 4+termLen+8 {
		return "", 80, 24
	}
	term = string(payload[4 : 4+termLen])
	cols = int(binary.BigEndian.Uint32(payload[4+termLen:]))
	rows = int(binary.BigEndian.Uint32(payload[8+termLen:]))
	return term, cols, rows
}
