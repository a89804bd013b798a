// Package dedup provides the idempotency ledger that guarantees at-most-once
// admission per request fingerprint within a retention window.
package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is the default retention window for processed fingerprints.
const DefaultTTL = 24 * time.Hour

// Ledger tracks request fingerprints with TTL expiry. The check-then-mark
// sequence must be atomic per fingerprint so that two concurrent deliveries
// of the same message cannot both be admitted; callers on the admission path
// use CheckAndMark instead of the separate IsDuplicate/MarkProcessed calls.
type Ledger interface {
	IsDuplicate(ctx context.Context, fingerprint string) (bool, error)
	MarkProcessed(ctx context.Context, fingerprint string, payload interface{}) error
	CheckAndMark(ctx context.Context, fingerprint string, payload interface{}) (duplicate bool, err error)
	Cleanup(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type memoryEntry struct {
	timestamp time.Time
	payload   interface{}
}

// MemoryLedger is the in-memory ledger implementation. It is the default when
// no Redis is configured and the swap point for persistent deployments.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryLedger creates an in-memory ledger. A non-positive ttl selects the
// 24h default.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// IsDuplicate reports whether the fingerprint was already admitted within the
// retention window. Expired entries are evicted lazily on lookup.
func (l *MemoryLedger) IsDuplicate(_ context.Context, fingerprint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isDuplicateLocked(fingerprint), nil
}

func (l *MemoryLedger) isDuplicateLocked(fingerprint string) bool {
	entry, ok := l.entries[fingerprint]
	if !ok {
		return false
	}
	if l.now().Sub(entry.timestamp) > l.ttl {
		delete(l.entries, fingerprint)
		return false
	}
	return true
}

// MarkProcessed records the fingerprint as admitted.
func (l *MemoryLedger) MarkProcessed(_ context.Context, fingerprint string, payload interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[fingerprint] = memoryEntry{timestamp: l.now(), payload: payload}
	return nil
}

// CheckAndMark atomically checks for a prior admission and records this one.
// Exactly one concurrent caller per fingerprint observes duplicate=false.
func (l *MemoryLedger) CheckAndMark(_ context.Context, fingerprint string, payload interface{}) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isDuplicateLocked(fingerprint) {
		return true, nil
	}
	l.entries[fingerprint] = memoryEntry{timestamp: l.now(), payload: payload}
	return false, nil
}

// Cleanup evicts all expired entries.
func (l *MemoryLedger) Cleanup(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for fingerprint, entry := range l.entries {
		if now.Sub(entry.timestamp) > l.ttl {
			delete(l.entries, fingerprint)
		}
	}
	return nil
}

// Size returns the number of tracked fingerprints, including not yet evicted
// expired ones.
func (l *MemoryLedger) Size(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), nil
}

// Clear removes all entries.
func (l *MemoryLedger) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]memoryEntry)
	return nil
}
