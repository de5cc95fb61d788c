package ssh

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/rotinas/internal/ports"
)

// AuthConfig holds authentication configuration for a gateway host.
type AuthConfig struct {
	KeyPath       string // private key file
	KeyPassphrase string // passphrase for encrypted keys
	UseAgent      bool   // try SSH_AUTH_SOCK first
	Password      string // password and keyboard-interactive auth
	Host          string // looked up in ~/.ssh/config for IdentityFile
}

var defaultKeys = []string{"~/.ssh/id_ed25519", "~/.ssh/id_rsa", "~/.ssh/id_ecdsa"}

// BuildAuthMethods constructs SSH auth methods from cfg. Key files are
// read through fsys.
func BuildAuthMethods(fsys ports.FileSystem, cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if a, err := agentAuth(fsys.Getenv("SSH_AUTH_SOCK")); err == nil {
			methods = append(methods, a)
		}
	}

	switch {
	case cfg.KeyPath != "":
		a, err := privateKeyAuth(fsys, cfg.KeyPath, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, a)
	case cfg.Host != "":
		if key := configIdentityFile(fsys, cfg.Host); key != "" {
			if a, err := privateKeyAuth(fsys, key, cfg.KeyPassphrase); err == nil {
				methods = append(methods, a)
			}
		}
	}

	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		for _, key := range defaultKeys {
			if a, err := privateKeyAuth(fsys, key, cfg.KeyPassphrase); err == nil {
				methods = append(methods, a)
				break
			}
		}
	}

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password), KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication methods available")
	}
	return methods, nil
}

func agentAuth(socket string) (ssh.AuthMethod, error) {
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(fsys ports.FileSystem, keyPath, passphrase string) (ssh.AuthMethod, error) {
	data, err := fsys.ReadFile(expandPath(fsys, keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback verifies hosts against known_hosts. When the file
// does not exist every host is accepted.
func BuildHostKeyCallback(fsys ports.FileSystem, knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	path := expandPath(fsys, knownHostsPath)
	if _, err := fsys.Stat(path); err != nil {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func expandPath(fsys ports.FileSystem, path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := fsys.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// configIdentityFile returns the IdentityFile ~/.ssh/config assigns to host.
func configIdentityFile(fsys ports.FileSystem, host string) string {
	data, err := fsys.ReadFile(expandPath(fsys, "~/.ssh/config"))
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	matches := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		value := strings.Join(parts[1:], " ")
		switch strings.ToLower(parts[0]) {
		case "host":
			matches = matchHostPatterns(host, parts[1:])
		case "identityfile":
			if matches {
				return expandPath(fsys, value)
			}
		}
	}
	return ""
}

// matchHostPatterns applies ssh_config Host patterns (* and ?).
func matchHostPatterns(host string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}

// KeyboardInteractiveAuth answers every question with password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
