// Package eventlog implements the per-room append-only event journal that
// backs the Agent Interface Contract's poll-events endpoint: a bounded ring
// with monotonic cursors and single-shot long-poll waiters.
package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
)

// DefaultCapacity is the ring size used when a room does not override it.
const DefaultCapacity = 1000

// DefaultTTL is how long an event remains retrievable before it ages out of
// the ring, independent of capacity pressure.
const DefaultTTL = 60 * time.Second

// Event is one journal entry. Cursor is assigned by the log itself and is
// strictly increasing within a room; agents resume polling from the last
// cursor they observed.
type Event struct {
	Cursor    int64          `json:"cursor,string"`
	Type      string         `json:"type"`
	RoomID    string         `json:"roomId"`
	TsMs      int64          `json:"tsMs"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"-"`
}

type waiter struct {
	sinceCursor int64
	ch          chan struct{}
}

// Log is a single room's event journal. All methods are safe for concurrent
// use, though in practice only the owning room's single writer goroutine
// calls Append.
type Log struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	nextSeq  int64
	events   []Event // ordered ascending by Cursor
	waiters  map[*waiter]struct{}
}

// New builds an empty log. capacity <= 0 defaults to DefaultCapacity; ttl <=
// 0 defaults to DefaultTTL.
func New(capacity int, ttl time.Duration) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Log{
		capacity: capacity,
		ttl:      ttl,
		waiters:  make(map[*waiter]struct{}),
	}
}

// Append assigns the next cursor to the event, stores it, evicts
// capacity/TTL-expired entries, and wakes any long-poll waiters whose cursor
// is now satisfied.
func (l *Log) Append(roomID, eventType string, payload map[string]any) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	now := time.Now()
	ev := Event{
		Cursor:    l.nextSeq,
		Type:      eventType,
		RoomID:    roomID,
		TsMs:      now.UnixMilli(),
		Payload:   payload,
		CreatedAt: now,
	}
	l.events = append(l.events, ev)
	l.pruneLocked()
	metrics.EventLogAppends.WithLabelValues(roomID, eventType).Inc()

	for w := range l.waiters {
		if ev.Cursor > w.sinceCursor {
			close(w.ch)
			delete(l.waiters, w)
		}
	}
	return ev
}

// pruneLocked drops events beyond capacity and events older than ttl. Must
// be called with mu held.
func (l *Log) pruneLocked() {
	if len(l.events) > l.capacity {
		drop := len(l.events) - l.capacity
		l.events = l.events[drop:]
	}
	cutoff := time.Now().Add(-l.ttl)
	firstLive := 0
	for firstLive < len(l.events) && l.events[firstLive].CreatedAt.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		l.events = l.events[firstLive:]
	}
}

// Since returns events with Cursor strictly greater than cursor, oldest
// first, capped at limit (limit <= 0 means unbounded). It also reports
// whether the cursor was older than the oldest retained event, meaning the
// caller may have missed events that already aged out.
func (l *Log) Since(cursor int64, limit int) (events []Event, truncated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked()

	if len(l.events) > 0 && cursor < l.events[0].Cursor-1 {
		truncated = true
	}

	start := len(l.events)
	for i, ev := range l.events {
		if ev.Cursor > cursor {
			start = i
			break
		}
	}
	out := l.events[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	events = make([]Event, len(out))
	copy(events, out)
	return events, truncated
}

// Cursor returns the most recently assigned cursor (0 if the log is empty).
func (l *Log) Cursor() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// Wait blocks until an event with Cursor > sinceCursor is appended, the
// timeout elapses, or ctx is cancelled. A cancellation or timeout releases
// the waiter without emitting any event: the caller gets an empty,
// non-truncated result and may poll again with the same cursor.
func (l *Log) Wait(ctx context.Context, sinceCursor int64, timeout time.Duration) (events []Event, truncated bool) {
	if events, truncated = l.Since(sinceCursor, 0); len(events) > 0 {
		return events, truncated
	}

	l.mu.Lock()
	if l.nextSeq > sinceCursor {
		l.mu.Unlock()
		return l.Since(sinceCursor, 0)
	}
	w := &waiter{sinceCursor: sinceCursor, ch: make(chan struct{})}
	l.waiters[w] = struct{}{}
	metrics.EventLogLongPollWaiters.Set(float64(len(l.waiters)))
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ch:
		return l.Since(sinceCursor, 0)
	case <-timer.C:
		l.removeWaiter(w)
		return nil, false
	case <-ctx.Done():
		l.removeWaiter(w)
		return nil, false
	}
}

func (l *Log) removeWaiter(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.waiters, w)
	metrics.EventLogLongPollWaiters.Set(float64(len(l.waiters)))
}
