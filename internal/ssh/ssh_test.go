package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/acolita/rotinas/internal/testing/fakes/fakefs"
	"github.com/acolita/rotinas/internal/testing/mockssh"
)

func generateKey(t *testing.T, passphrase string) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var block *pem.Block
	if passphrase != "" {
		block, err = gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = gossh.MarshalPrivateKey(priv, "")
	}
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(block)
}

func homeFS() *fakefs.FS {
	fs := fakefs.New()
	fs.SetHomeDir("/home/op")
	return fs
}

func TestBuildAuthMethods(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, fs *fakefs.FS)
		cfg     AuthConfig
		want    int
		wantErr bool
	}{
		{
			name:    "nothing available",
			cfg:     AuthConfig{},
			wantErr: true,
		},
		{
			name: "password adds keyboard-interactive",
			cfg:  AuthConfig{Password: "segredo"},
			want: 2,
		},
		{
			name: "explicit key",
			setup: func(t *testing.T, fs *fakefs.FS) {
				fs.AddFile("/keys/gw", generateKey(t, ""), 0o600)
			},
			cfg:  AuthConfig{KeyPath: "/keys/gw"},
			want: 1,
		},
		{
			name:    "explicit key missing",
			cfg:     AuthConfig{KeyPath: "/keys/none"},
			wantErr: true,
		},
		{
			name: "encrypted key with passphrase",
			setup: func(t *testing.T, fs *fakefs.FS) {
				fs.AddFile("/home/op/.ssh/gw", generateKey(t, "frase"), 0o600)
			},
			cfg:  AuthConfig{KeyPath: "~/.ssh/gw", KeyPassphrase: "frase"},
			want: 1,
		},
		{
			name: "default key",
			setup: func(t *testing.T, fs *fakefs.FS) {
				fs.AddFile("/home/op/.ssh/id_rsa", generateKey(t, ""), 0o600)
			},
			want: 1,
		},
		{
			name: "ssh config identity",
			setup: func(t *testing.T, fs *fakefs.FS) {
				fs.AddFile("/home/op/.ssh/config", []byte("# gateways\nHost outro\n  IdentityFile ~/.ssh/outro\nHost gw-*\n  IdentityFile ~/.ssh/gw\n"), 0o600)
				fs.AddFile("/home/op/.ssh/gw", generateKey(t, ""), 0o600)
			},
			cfg:  AuthConfig{Host: "gw-producao", Password: "x"},
			want: 3,
		},
		{
			name: "agent without socket is skipped",
			cfg:  AuthConfig{UseAgent: true, Password: "x"},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := homeFS()
			if tt.setup != nil {
				tt.setup(t, fs)
			}
			methods, err := BuildAuthMethods(fs, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildAuthMethods() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(methods) != tt.want {
				t.Errorf("got %d methods, want %d", len(methods), tt.want)
			}
		})
	}
}

func TestMatchHostPatterns(t *testing.T) {
	tests := []struct {
		host     string
		patterns []string
		want     bool
	}{
		{"mainframe", []string{"mainframe"}, true},
		{"gw-01", []string{"gw-*"}, true},
		{"gw-01", []string{"gw-?1"}, true},
		{"gw-101", []string{"gw-?1"}, false},
		{"outro", []string{"gw-*", "out*"}, true},
		{"qualquer", []string{"*"}, true},
		{"host", []string{"other"}, false},
	}
	for _, tt := range tests {
		if got := matchHostPatterns(tt.host, tt.patterns); got != tt.want {
			t.Errorf("matchHostPatterns(%q, %v) = %v, want %v", tt.host, tt.patterns, got, tt.want)
		}
	}
}

func TestBuildHostKeyCallback_MissingFileAcceptsAll(t *testing.T) {
	cb, err := BuildHostKeyCallback(homeFS(), "")
	if err != nil {
		t.Fatalf("BuildHostKeyCallback() error = %v", err)
	}
	if cb == nil {
		t.Fatal("callback is nil")
	}
}

func TestNewClient_Validation(t *testing.T) {
	auth := []gossh.AuthMethod{gossh.Password("x")}
	tests := []struct {
		name string
		opts ClientOptions
	}{
		{"no host", ClientOptions{User: "u", AuthMethods: auth}},
		{"no user", ClientOptions{Host: "h", AuthMethods: auth}},
		{"no auth", ClientOptions{Host: "h", User: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts); err == nil {
				t.Error("NewClient() should fail")
			}
		})
	}
}

func connect(t *testing.T, server *mockssh.Server) *Client {
	t.Helper()
	port, _ := strconv.Atoi(server.Port())
	client, err := NewClient(ClientOptions{
		Host:            server.Host(),
		Port:            port,
		User:            "test",
		AuthMethods:     []gossh.AuthMethod{gossh.Password("test")},
		HostKeyCallback: gossh.FixedHostKey(server.HostKey()),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_ConnectAndClose(t *testing.T) {
	server, err := mockssh.New()
	if err != nil {
		t.Fatalf("mockssh.New() error = %v", err)
	}
	defer server.Close()

	client := connect(t, server)
	if !client.Connected() {
		t.Fatal("Connected() = false after Connect")
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("second Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := client.NewSession(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("NewSession() after Close error = %v", err)
	}
	if _, err := OpenShell(client, ShellOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("OpenShell() after Close error = %v", err)
	}
}

func TestClient_WrongPassword(t *testing.T) {
	server, err := mockssh.New()
	if err != nil {
		t.Fatalf("mockssh.New() error = %v", err)
	}
	defer server.Close()

	port, _ := strconv.Atoi(server.Port())
	client, _ := NewClient(ClientOptions{
		Host:        server.Host(),
		Port:        port,
		User:        "test",
		AuthMethods: []gossh.AuthMethod{gossh.Password("errada")},
		Timeout:     5 * time.Second,
	})
	if err := client.Connect(context.Background()); err == nil {
		t.Error("Connect() with wrong password should fail")
	}
}

func TestShell_ReadWriteResize(t *testing.T) {
	server, err := mockssh.New(mockssh.WithBanner("TELA INICIAL\r\n"))
	if err != nil {
		t.Fatalf("mockssh.New() error = %v", err)
	}
	defer server.Close()

	client := connect(t, server)
	shell, err := OpenShell(client, ShellOptions{Term: "vt220", Cols: 132, Rows: 27})
	if err != nil {
		t.Fatalf("OpenShell() error = %v", err)
	}
	defer shell.Close()

	if _, err := shell.Write([]byte("1\r")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := "TELA INICIAL\r\n1\r"
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(shell, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != want {
		t.Errorf("output = %q, want %q", buf, want)
	}

	if err := shell.Resize(100, 30); err != nil {
		t.Fatalf("Resize() error = %v", err)
	}
	if cols, rows := shell.Size(); cols != 100 || rows != 30 {
		t.Errorf("Size() = %d,%d", cols, rows)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(server.Sizes()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sizes := server.Sizes()
	if len(sizes) != 2 || sizes[0] != [2]int{132, 27} || sizes[1] != [2]int{100, 30} {
		t.Errorf("server sizes = %v", sizes)
	}
	if terms := server.Terms(); len(terms) != 1 || !strings.EqualFold(terms[0], "vt220") {
		t.Errorf("server terms = %v", terms)
	}
}
