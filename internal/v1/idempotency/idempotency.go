// Package idempotency implements the Idempotency Cache used by write
// endpoints on the Agent Interface Contract: a request replayed with the
// same (agentId, txId) returns its recorded result instead of re-executing.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultTTL is how long a recorded (agentId, txId) pair is remembered.
const DefaultTTL = 10 * time.Minute

// ErrConflict is returned when the same (agentId, txId) is replayed with a
// different request body than the one originally recorded.
var ErrConflict = errors.New("idempotency key reused with a different request")

type record struct {
	digest    string
	result    any
	expiresAt time.Time
}

// keyLockStripes sizes the per-key lock table guarding concurrent retries
// of the same (agentId, txId); collisions across stripes only cost a brief
// serialization, never correctness.
const keyLockStripes = 64

// Cache memoizes request results keyed by (agentId, txId).
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]record

	keyLocks [keyLockStripes]sync.Mutex
}

// New builds an empty cache. ttl <= 0 defaults to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, records: make(map[string]record)}
}

func key(agentID, txID string) string { return agentID + "\x00" + txID }

// LockKey serializes callers operating on the same (agentID, txID) so that
// concurrent retries cannot both miss the cache and both execute. The
// returned func releases the lock; hold it across the whole
// lookup-execute-store sequence.
func (c *Cache) LockKey(agentID, txID string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key(agentID, txID)))
	lock := &c.keyLocks[h.Sum32()%keyLockStripes]
	lock.Lock()
	return lock.Unlock
}

func digest(request any) string {
	b, _ := json.Marshal(request)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Lookup checks whether (agentID, txID) has a live, non-expired record. If
// the recorded request digest matches the new request, it returns the
// stored result for replay. If the digest differs, it returns ErrConflict.
// A miss (not found, or found but expired) returns found=false, nil error:
// the caller should execute the request and call Store.
func (c *Cache) Lookup(agentID, txID string, request any) (result any, found bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(agentID, txID)
	rec, ok := c.records[k]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(rec.expiresAt) {
		delete(c.records, k)
		return nil, false, nil
	}

	if rec.digest != digest(request) {
		return nil, false, ErrConflict
	}
	return rec.result, true, nil
}

// Store records the result for (agentID, txID) alongside a digest of the
// request that produced it, so a later replay can be validated.
func (c *Cache) Store(agentID, txID string, request, result any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[key(agentID, txID)] = record{
		digest:    digest(request),
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Purge removes every record whose TTL has elapsed. Intended to be called
// periodically rather than on every lookup, to bound memory growth from
// agents that never replay.
func (c *Cache) Purge(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, rec := range c.records {
		if now.After(rec.expiresAt) {
			delete(c.records, k)
		}
	}
}
