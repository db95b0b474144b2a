package idempotency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_MissOnFirstCall(t *testing.T) {
	c := New(time.Minute)
	_, found, err := c.Lookup("agt_a", "tx_1", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookup_ReplaysStoredResultOnMatchingDigest(t *testing.T) {
	c := New(time.Minute)
	req := map[string]any{"x": 1}
	c.Store("agt_a", "tx_1", req, "the-result")

	result, found, err := c.Lookup("agt_a", "tx_1", req)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "the-result", result)
}

func TestLookup_ConflictOnDifferentRequestBody(t *testing.T) {
	c := New(time.Minute)
	c.Store("agt_a", "tx_1", map[string]any{"x": 1}, "result")

	_, found, err := c.Lookup("agt_a", "tx_1", map[string]any{"x": 2})
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, found)
}

func TestLookup_ExpiredEntryTreatedAsFresh(t *testing.T) {
	c := New(10 * time.Millisecond)
	req := map[string]any{"x": 1}
	c.Store("agt_a", "tx_1", req, "result")

	time.Sleep(20 * time.Millisecond)
	_, found, err := c.Lookup("agt_a", "tx_1", req)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookup_DifferentTxIDsAreIndependent(t *testing.T) {
	c := New(time.Minute)
	c.Store("agt_a", "tx_1", "req-1", "result-1")
	c.Store("agt_a", "tx_2", "req-2", "result-2")

	r1, found1, _ := c.Lookup("agt_a", "tx_1", "req-1")
	r2, found2, _ := c.Lookup("agt_a", "tx_2", "req-2")
	assert.True(t, found1)
	assert.True(t, found2)
	assert.Equal(t, "result-1", r1)
	assert.Equal(t, "result-2", r2)
}

func TestPurge_RemovesExpiredOnly(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Store("agt_a", "tx_1", "req", "result")
	c.Purge(time.Now().Add(20 * time.Millisecond))

	c.mu.Lock()
	n := len(c.records)
	c.mu.Unlock()
	assert.Equal(t, 0, n)
}

func TestLockKey_ConcurrentRetriesExecuteOnce(t *testing.T) {
	c := New(time.Minute)
	req := map[string]any{"x": 1}

	var executions atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := c.LockKey("agt_a", "tx_1")
			defer unlock()

			_, found, err := c.Lookup("agt_a", "tx_1", req)
			require.NoError(t, err)
			if found {
				return
			}
			executions.Add(1)
			c.Store("agt_a", "tx_1", req, "result")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), executions.Load(), "only the first retry may execute")
}
