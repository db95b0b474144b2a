// Package transport implements the Realtime Transport: the websocket
// session humans use to observe a room's per-tick diffs and event stream,
// and to submit moves and chat without going through the Agent Interface
// Contract's HTTP surface.
package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/auth"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/eventlog"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/registry"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// diffPollInterval is how often the hub checks a room's runtime for a new
// tick diff to fan out. It is independent of the room's own tick rate so
// the hub never needs a reference to room-internal timing.
const diffPollInterval = 50 * time.Millisecond

// eventWaitTimeout bounds each long-poll against a room's event journal so
// the fan-out goroutine notices a cancelled context promptly.
const eventWaitTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenValidator authenticates a human client's bearer token on connect.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// Hub fans out each room's per-tick diffs and event log to every connected
// human client, filtering chat delivery through that room's Safety
// Registry.
type Hub struct {
	reg       *registry.Registry
	validator TokenValidator

	mu      sync.Mutex
	clients map[string]map[string]*Client // roomID -> entityID -> client
}

// NewHub builds a Hub over an existing Room Registry. validator may be nil
// when authentication is disabled (development only); connections then
// identify themselves via the entityId query parameter.
func NewHub(reg *registry.Registry, validator TokenValidator) *Hub {
	return &Hub{reg: reg, validator: validator, clients: make(map[string]map[string]*Client)}
}

// ServeWs upgrades an authenticated request to a websocket connection and
// attaches it to the named room as entityID.
func (h *Hub) ServeWs(c *gin.Context) {
	roomID := c.Param("roomId")
	entityID, ok := h.identify(c)
	if !ok {
		return
	}
	if roomID == "" || entityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId and entityId are required"})
		return
	}

	rt, ok := h.reg.Get(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, rt, roomID, entityID)
	h.register(client)
	metrics.IncConnection()

	// The first frame a client sees is the full room state; diffs and
	// events only make sense against it.
	client.SendSnapshot(rt.Snapshot())

	ctx, cancel := context.WithCancel(context.Background())
	go h.fanoutDiffs(ctx, client, rt)
	go h.fanoutEvents(ctx, client, rt)
	go client.writePump()
	client.readPump(func() {
		cancel()
		h.unregister(client)
	})
}

// identify resolves the connecting human's entity id: from validated token
// claims when a validator is configured, otherwise from the entityId query
// parameter. The token rides the "token" query parameter because browser
// WebSocket clients cannot set an Authorization header.
func (h *Hub) identify(c *gin.Context) (string, bool) {
	if h.validator == nil {
		return c.Query("entityId"), true
	}

	token := c.Query("token")
	if token == "" {
		if header, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); found {
			token = header
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return "", false
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return "", false
	}
	return "hum_" + claims.Subject, true
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.RoomID] == nil {
		h.clients[c.RoomID] = make(map[string]*Client)
	}
	h.clients[c.RoomID][c.EntityID] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.clients[c.RoomID]; ok {
		delete(m, c.EntityID)
		if len(m) == 0 {
			delete(h.clients, c.RoomID)
		}
	}
}

// fanoutDiffs pushes each newly published tick diff to one client until ctx
// is cancelled.
func (h *Hub) fanoutDiffs(ctx context.Context, client *Client, rt *room.Runtime) {
	ticker := time.NewTicker(diffPollInterval)
	defer ticker.Stop()

	var lastTick uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			diff := rt.LastDiff()
			if diff.Tick == lastTick {
				continue
			}
			lastTick = diff.Tick
			client.SendDiff(diff)
		}
	}
}

// fanoutEvents long-polls the room's event journal and pushes each new
// event to the client, skipping chat messages the Safety Registry hides
// from this viewer.
func (h *Hub) fanoutEvents(ctx context.Context, client *Client, rt *room.Runtime) {
	cursor := rt.Events().Cursor()
	for {
		if ctx.Err() != nil {
			return
		}
		events, _ := rt.Events().Wait(ctx, cursor, eventWaitTimeout)
		for _, ev := range events {
			cursor = ev.Cursor
			if ev.Type == "chat.message" && h.shouldHideChat(rt, client.EntityID, ev) {
				continue
			}
			client.SendEvent(ev)
		}
	}
}

func (h *Hub) shouldHideChat(rt *room.Runtime, viewerID string, ev eventlog.Event) bool {
	senderID, _ := ev.Payload["senderId"].(string)
	if senderID == "" {
		return false
	}
	return rt.Safety().IsBlockedEitherWay(viewerID, senderID)
}
