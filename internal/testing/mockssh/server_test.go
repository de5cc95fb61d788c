package mockssh

import (
	"io"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func dial(t *testing.T, server *Server, user, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", server.Addr(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.FixedHostKey(server.HostKey()),
		Timeout:         5 * time.Second,
	})
}

func TestServer_StartStop(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer server.Close()

	if server.Host() != "127.0.0.1" {
		t.Errorf("Host() = %v, want 127.0.0.1", server.Host())
	}
	if server.Port() == "" {
		t.Error("Port() should not be empty")
	}
}

func TestServer_Authentication(t *testing.T) {
	server, err := New(WithUser("operador", "segredo"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer server.Close()

	client, err := dial(t, server, "operador", "segredo")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	client.Close()

	if _, err := dial(t, server, "operador", "errada"); err == nil {
		t.Error("Dial() with wrong password should fail")
	}
}

func TestServer_ShellEcho(t *testing.T) {
	server, err := New(WithBanner("MENU\r\n"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer server.Close()

	client, err := dial(t, server, "test", "test")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer session.Close()

	if err := session.RequestPty("vt100", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("RequestPty() error = %v", err)
	}
	stdin, _ := session.StdinPipe()
	stdout, _ := session.StdoutPipe()
	if err := session.Shell(); err != nil {
		t.Fatalf("Shell() error = %v", err)
	}

	if _, err := stdin.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, len("MENU\r\nabc"))
	if _, err := io.ReadFull(stdout, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if !strings.HasPrefix(string(buf), "MENU") || !strings.HasSuffix(string(buf), "abc") {
		t.Errorf("output = %q", buf)
	}

	if got := server.Terms(); len(got) != 1 || got[0] != "vt100" {
		t.Errorf("Terms() = %v", got)
	}
	if got := server.Sizes(); len(got) != 1 || got[0] != [2]int{80, 24} {
		t.Errorf("Sizes() = %v", got)
	}
}
