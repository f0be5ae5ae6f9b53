package resultstore

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRecoveryTTL bounds how long an unpersisted payload stays
// recoverable. An operator reconciles it manually within this window.
const DefaultRecoveryTTL = time.Hour

// RecoveryCache holds score payloads whose durable write failed, keyed by
// job id, so a computed result is never silently discarded.
type RecoveryCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]recoveryEntry
	ttl     time.Duration
	now     func() time.Time
}

type recoveryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewRecoveryCache creates a cache. A non-positive ttl uses the default.
func NewRecoveryCache(ttl time.Duration) *RecoveryCache {
	if ttl <= 0 {
		ttl = DefaultRecoveryTTL
	}
	return &RecoveryCache{
		entries: make(map[uuid.UUID]recoveryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores the payload for jobID.
func (c *RecoveryCache) Put(jobID uuid.UUID, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jobID] = recoveryEntry{payload: payload, expiresAt: c.now().Add(c.ttl)}
}

// Get returns the cached payload for jobID, if still live.
func (c *RecoveryCache) Get(jobID uuid.UUID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	entry, ok := c.entries[jobID]
	if !ok {
		return nil, false
	}
	return entry.payload, true
}

func (c *RecoveryCache) pruneLocked() {
	now := c.now()
	for id, entry := range c.entries {
		if !entry.expiresAt.After(now) {
			delete(c.entries, id)
		}
	}
}
