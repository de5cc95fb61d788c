// Package security keeps gateway credentials out of configuration files:
// passwords live in the OS keyring, are cached briefly in memory and are
// asked for interactively when missing.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name of every keyring entry.
const KeyringService = "rotinas"

// ErrKeyringUnavailable is returned when the OS keyring cannot be used.
var ErrKeyringUnavailable = errors.New("keyring not available")

// Keyring stores secrets in the system keyring (macOS Keychain, Secret
// Service, Windows Credential Manager).
type Keyring struct {
	mu      sync.RWMutex
	enabled bool
}

// NewKeyring probes the system keyring. When it is unavailable the
// returned store is disabled and every call fails with
// ErrKeyringUnavailable.
func NewKeyring() *Keyring {
	const probe = "__rotinas_probe__"
	if err := keyring.Set(KeyringService, probe, "x"); err != nil {
		slog.Debug("keyring not available", slog.String("error", err.Error()))
		return &Keyring{}
	}
	_ = keyring.Delete(KeyringService, probe)
	return &Keyring{enabled: true}
}

// Enabled reports whether the keyring is usable.
func (k *Keyring) Enabled() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.enabled
}

// SetEnabled turns keyring use on or off.
func (k *Keyring) SetEnabled(enabled bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enabled = enabled
}

func gatewayKey(host, user string) string { return fmt.Sprintf("gateway:%s@%s", user, host) }

func passphraseKey(keyPath string) string { return "ssh-passphrase:" + keyPath }

// GatewayPassword returns the stored password for user@host. A missing
// entry yields nil and no error.
func (k *Keyring) GatewayPassword(host, user string) ([]byte, error) {
	return k.get(gatewayKey(host, user))
}

// SetGatewayPassword stores the password for user@host.
func (k *Keyring) SetGatewayPassword(host, user string, password []byte) error {
	return k.set(gatewayKey(host, user), password)
}

// DeleteGatewayPassword removes the password for user@host.
func (k *Keyring) DeleteGatewayPassword(host, user string) error {
	return k.delete(gatewayKey(host, user))
}

// SSHPassphrase returns the stored passphrase of a private key.
func (k *Keyring) SSHPassphrase(keyPath string) ([]byte, error) {
	return k.get(passphraseKey(keyPath))
}

// SetSSHPassphrase stores the passphrase of a private key.
func (k *Keyring) SetSSHPassphrase(keyPath string, passphrase []byte) error {
	return k.set(passphraseKey(keyPath), passphrase)
}

func (k *Keyring) get(key string) ([]byte, error) {
	if !k.Enabled() {
		return nil, ErrKeyringUnavailable
	}
	encoded, err := keyring.Get(KeyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring decode: %w", err)
	}
	return secret, nil
}

func (k *Keyring) set(key string, secret []byte) error {
	if !k.Enabled() {
		return ErrKeyringUnavailable
	}
	if err := keyring.Set(KeyringService, key, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	slog.Debug("stored secret in keyring", slog.String("entry", key))
	return nil
}

func (k *Keyring) delete(key string) error {
	if !k.Enabled() {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(KeyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
