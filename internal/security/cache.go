package security

import (
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

// SecureCache holds one secret until its TTL passes. Expired or cleared
// data is wiped.
type SecureCache struct {
	mu        sync.Mutex
	data      []byte
	createdAt time.Time
	ttl       time.Duration
	clock     ports.Clock
}

// NewSecureCache copies data into a cache valid for ttl.
func NewSecureCache(data []byte, ttl time.Duration, clock ports.Clock) *SecureCache {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return &SecureCache{
		data:      dataCopy,
		createdAt: clock.Now(),
		ttl:       ttl,
		clock:     clock,
	}
}

// Get returns a copy of the secret, or nil once expired.
func (sc *SecureCache) Get() []byte {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.validLocked() {
		return nil
	}
	result := make([]byte, len(sc.data))
	copy(result, sc.data)
	return result
}

// Valid reports whether the secret is still held.
func (sc *SecureCache) Valid() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.validLocked()
}

// ExpiresIn returns the time left before expiry.
func (sc *SecureCache) ExpiresIn() time.Duration {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.validLocked() {
		return 0
	}
	return sc.ttl - sc.clock.Now().Sub(sc.createdAt)
}

// Clear wipes the secret.
func (sc *SecureCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.clearLocked()
}

func (sc *SecureCache) validLocked() bool {
	if sc.data == nil {
		return false
	}
	if sc.clock.Now().Sub(sc.createdAt) > sc.ttl {
		sc.clearLocked()
		return false
	}
	return true
}

func (sc *SecureCache) clearLocked() {
	if sc.data != nil {
		WipeBytes(sc.data)
		sc.data = nil
	}
}
