package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/eventlog"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/grid"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	toRead  chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{toRead: make(chan []byte, 8)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.toRead
	if !ok {
		return 0, nil, assert.AnError
	}
	return 1, data, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.toRead)
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func testRuntime(t *testing.T) *room.Runtime {
	t.Helper()
	g, err := grid.Load(10, 10, make([]int, 100), make([]int, 100), nil)
	require.NoError(t, err)
	return room.New("room-1", g, room.Config{
		TickRate:         5 * time.Millisecond,
		EventLogCapacity: 10,
		ChatCapacity:     10,
	})
}

func TestClient_SendDiffDeliversOverWritePump(t *testing.T) {
	conn := newFakeConn()
	rt := testRuntime(t)
	c := newClient(conn, rt, "room-1", "agt_a")
	go c.writePump()
	defer c.Close()

	c.SendDiff(room.Diff{Tick: 1})
	time.Sleep(20 * time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.written, 1)

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(conn.written[0], &env))
	assert.Equal(t, "state.diff", env.Type)
	assert.Equal(t, float64(1), env.Data["tick"])
}

func TestClient_SendEventUsesEventTypeAsFrameType(t *testing.T) {
	conn := newFakeConn()
	rt := testRuntime(t)
	c := newClient(conn, rt, "room-1", "agt_a")
	go c.writePump()
	defer c.Close()

	c.SendEvent(eventlog.Event{Cursor: 1, Type: "chat.message", Payload: map[string]any{"text": "hi"}})
	time.Sleep(20 * time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.written, 1)

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(conn.written[0], &env))
	assert.Equal(t, "chat.message", env.Type)
	assert.Equal(t, "hi", env.Data["text"])
}

func TestClient_SendSnapshotCarriesEntities(t *testing.T) {
	conn := newFakeConn()
	rt := testRuntime(t)
	c := newClient(conn, rt, "room-1", "agt_a")
	go c.writePump()
	defer c.Close()

	c.SendSnapshot([]*types.Entity{{ID: "agt_a", Kind: types.EntityKindAgent}})
	time.Sleep(20 * time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.written, 1)

	var env struct {
		Type string `json:"type"`
		Data struct {
			Entities []map[string]any `json:"entities"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(conn.written[0], &env))
	assert.Equal(t, "state.snapshot", env.Type)
	require.Len(t, env.Data.Entities, 1)
	assert.Equal(t, "agt_a", env.Data.Entities[0]["id"])
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	rt := testRuntime(t)
	c := newClient(conn, rt, "room-1", "agt_a")
	c.Close()
	assert.NotPanics(t, func() { c.Close() })
}

func TestClient_ReadPumpForwardsChatSendToRoom(t *testing.T) {
	conn := newFakeConn()
	rt := testRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	defer func() { cancel(); rt.Stop() }()
	require.Eventually(t, rt.IsRunning, time.Second, time.Millisecond)
	c := newClient(conn, rt, "room-1", "agt_a")
	go c.writePump()

	done := make(chan struct{})
	go func() {
		c.readPump(func() {})
		close(done)
	}()

	msg, _ := json.Marshal(inboundMessage{Type: "chatSend", Payload: map[string]any{"channel": "global", "text": "hi"}})
	conn.toRead <- msg
	conn.Close()
	<-done

	require.Eventually(t, func() bool {
		return len(rt.Chat().ReadFor("agt_a", "", 0)) == 1
	}, time.Second, 5*time.Millisecond, "chatSend should reach the room's chat store")
}
