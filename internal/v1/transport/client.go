package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/eventlog"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection is the subset of *websocket.Conn the client pumps need,
// narrowed for fakeability in tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const writeWait = 10 * time.Second

// envelope is the single wire shape pushed to a human client: a journal
// event frame carrying the event's own type, a "state.snapshot" frame on
// connect, or a "state.diff" frame after each tick.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// snapshotData is the payload of the initial state.snapshot frame.
type snapshotData struct {
	Entities []*types.Entity `json:"entities"`
}

// Client is one connected human's realtime session: a websocket connection
// paired with the room it observes.
type Client struct {
	conn     wsConnection
	runtime  *room.Runtime
	EntityID string
	RoomID   string

	send         chan []byte
	prioritySend chan []byte
	closeOnce    sync.Once
	closed       bool
	mu           sync.Mutex
}

// newClient wraps a websocket connection for one room/entity pair.
func newClient(conn wsConnection, runtime *room.Runtime, roomID, entityID string) *Client {
	return &Client{
		conn:         conn,
		runtime:      runtime,
		EntityID:     entityID,
		RoomID:       roomID,
		send:         make(chan []byte, 64),
		prioritySend: make(chan []byte, 64),
	}
}

// Close shuts down the client's send channels exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
		close(c.prioritySend)
		c.conn.Close()
	})
}

// SendEvent enqueues a journal event for delivery, dropping it if the
// client's buffer is full rather than blocking the fan-out loop. The frame
// type is the event's own type; the event payload rides in data.
func (c *Client) SendEvent(ev eventlog.Event) {
	c.enqueue(envelope{Type: ev.Type, Data: ev.Payload}, c.prioritySend)
}

// SendSnapshot enqueues the full room state pushed once on connect, before
// any diff or event frame.
func (c *Client) SendSnapshot(entities []*types.Entity) {
	c.enqueue(envelope{Type: "state.snapshot", Data: snapshotData{Entities: entities}}, c.prioritySend)
}

// SendDiff enqueues a per-tick world diff for delivery.
func (c *Client) SendDiff(diff room.Diff) {
	c.enqueue(envelope{Type: "state.diff", Data: diff}, c.send)
}

func (c *Client) enqueue(env envelope, ch chan []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal transport envelope", zap.Error(err))
		return
	}
	select {
	case ch <- data:
	default:
		logging.Warn(context.Background(), "dropping transport message, client buffer full", zap.String("entityId", c.EntityID))
	}
}

// writePump drains both send channels, giving priority to event-log
// messages over bulk diffs.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			continue
		default:
		}
		select {
		case message, ok := <-c.prioritySend:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

// inboundMessage is the narrow control-plane shape humans may send: a chat
// send or a moveTo, routed straight into the room as an intent.
type inboundMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// readPump forwards inbound chatSend/moveTo control messages into the room
// as intents, ignores other message types, and exits (disconnecting the
// client) on any read error.
func (c *Client) readPump(onDisconnect func()) {
	defer func() {
		onDisconnect()
		c.Close()
		metrics.DecConnection()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "chatSend":
			c.runtime.Submit(room.Intent{
				Kind:     room.IntentChatSend,
				AgentID:  c.EntityID,
				EntityID: c.EntityID,
				Payload:  msg.Payload,
			})
		case "moveTo":
			c.runtime.Submit(room.Intent{
				Kind:     room.IntentMoveTo,
				AgentID:  c.EntityID,
				EntityID: c.EntityID,
				Payload:  msg.Payload,
			})
		}
	}
}
