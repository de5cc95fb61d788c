package security

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

// DefaultPasswordTTL bounds how long a resolved password stays in memory.
const DefaultPasswordTTL = 15 * time.Minute

// ErrNoPassword is returned when no password is stored and the user
// declined to type one.
var ErrNoPassword = errors.New("no password available")

// LockedError is returned while logins to a gateway are locked.
type LockedError struct {
	Host      string
	User      string
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("login %s@%s locked for %s", e.User, e.Host, e.Remaining.Round(time.Second))
}

// SecretStore persists gateway passwords. *Keyring implements it.
type SecretStore interface {
	GatewayPassword(host, user string) ([]byte, error)
	SetGatewayPassword(host, user string, password []byte) error
	DeleteGatewayPassword(host, user string) error
}

// Credentials resolves gateway passwords: memory cache first, then the
// store, then a prompt.
type Credentials struct {
	store   SecretStore
	dialog  ports.DialogProvider
	clock   ports.Clock
	limiter *AuthRateLimiter
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]*SecureCache
}

// NewCredentials creates a resolver. store and dialog may be nil.
func NewCredentials(store SecretStore, dialog ports.DialogProvider, clock ports.Clock, ttl time.Duration) *Credentials {
	if ttl <= 0 {
		ttl = DefaultPasswordTTL
	}
	return &Credentials{
		store:   store,
		dialog:  dialog,
		clock:   clock,
		limiter: NewAuthRateLimiter(0, 0, clock),
		ttl:     ttl,
		cache:   make(map[string]*SecureCache),
	}
}

// Password returns the password for user@host.
func (c *Credentials) Password(host, user string) ([]byte, error) {
	if locked, remaining := c.rateLimiter().Locked(host, user); locked {
		return nil, &LockedError{Host: host, User: user, Remaining: remaining}
	}

	k := gatewayKey(host, user)
	c.mu.Lock()
	if cached, ok := c.cache[k]; ok {
		if pw := cached.Get(); pw != nil {
			c.mu.Unlock()
			return pw, nil
		}
		delete(c.cache, k)
	}
	c.mu.Unlock()

	if c.store != nil {
		pw, err := c.store.GatewayPassword(host, user)
		switch {
		case err != nil && !errors.Is(err, ErrKeyringUnavailable):
			slog.Warn("keyring lookup failed", slog.String("host", host), slog.String("error", err.Error()))
		case pw != nil:
			c.remember(k, pw)
			return pw, nil
		}
	}

	pw, err := c.prompt(host, user)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.SetGatewayPassword(host, user, pw); err != nil && !errors.Is(err, ErrKeyringUnavailable) {
			slog.Warn("cannot store password", slog.String("host", host), slog.String("error", err.Error()))
		}
	}
	c.remember(k, pw)
	return pw, nil
}

func (c *Credentials) prompt(host, user string) ([]byte, error) {
	if c.dialog == nil {
		return nil, ErrNoPassword
	}
	values, err := c.dialog.Form(fmt.Sprintf("Senha de %s@%s", user, host), []ports.FormField{
		{Name: "senha", Label: "Senha"},
	})
	if err != nil {
		return nil, fmt.Errorf("password prompt: %w", err)
	}
	if values == nil || values["senha"] == "" {
		return nil, ErrNoPassword
	}
	return []byte(values["senha"]), nil
}

func (c *Credentials) remember(k string, pw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.cache[k]; ok {
		old.Clear()
	}
	c.cache[k] = NewSecureCache(pw, c.ttl, c.clock)
}

// Rejected records a failed login: the cached and stored password are
// dropped so the next attempt prompts again.
func (c *Credentials) Rejected(host, user string) {
	c.rateLimiter().RecordFailure(host, user)
	c.forget(host, user)
	if c.store != nil {
		_ = c.store.DeleteGatewayPassword(host, user)
	}
}

// Accepted records a successful login.
func (c *Credentials) Accepted(host, user string) {
	c.rateLimiter().RecordSuccess(host, user)
}

func (c *Credentials) forget(host, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := gatewayKey(host, user)
	if cached, ok := c.cache[k]; ok {
		cached.Clear()
		delete(c.cache, k)
	}
}

// SetLimits replaces the lockout policy. Recorded failures are reset.
func (c *Credentials) SetLimits(maxFailures int, lockout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = NewAuthRateLimiter(maxFailures, lockout, c.clock)
}

func (c *Credentials) rateLimiter() *AuthRateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiter
}
