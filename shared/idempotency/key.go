package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// GenerateKey creates an idempotency key from a source string.
// The ingress derives it from the Twilio message SID so redelivered webhooks map to one key.
func GenerateKey(source string) string {
	hash := sha256.Sum256([]byte(source))
	return fmt.Sprintf("idem_%s", hex.EncodeToString(hash[:16]))
}

// Tracker remembers recently processed keys so a redelivered utterance
// doesn't create the same task twice.
type Tracker struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewTracker creates a tracker that forgets keys after ttl
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Seen reports whether key was marked within the ttl window
func (t *Tracker) Seen(key string) bool {
	if key == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.seen[key]
	if !ok {
		return false
	}
	if t.now().Sub(at) > t.ttl {
		delete(t.seen, key)
		return false
	}
	return true
}

// Mark records key as processed and evicts expired entries
func (t *Tracker) Mark(key string) {
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, at := range t.seen {
		if now.Sub(at) > t.ttl {
			delete(t.seen, k)
		}
	}
	t.seen[key] = now
}
