package aic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/auth"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/grid"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/idempotency"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/registry"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/skill"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*gin.Engine, *Deps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w, h := 20, 20
	g, err := grid.Load(w, h, make([]int, w*h), make([]int, w*h), nil)
	require.NoError(t, err)

	sign := &types.Entity{
		ID: "obj_sign-1", Kind: types.EntityKindObject, Name: "Sign",
		Pos:         types.Point{X: 16, Y: 16},
		Affordances: []string{"read"},
		State:       map[string]string{"text": "welcome"},
	}
	reg := registry.New(registry.WorldPack{
		Grid:         g,
		MaxOccupancy: 4,
		RuntimeCfg: room.Config{
			TickRate:         5 * time.Millisecond,
			ProximityRadius:  128,
			InteractionRange: 64,
			EventLogCapacity: 100,
			EventLogTTL:      time.Minute,
			ChatCapacity:     100,
			Objects:          []*types.Entity{sign},
			Skills: []skill.Definition{
				{ID: "wave", Name: "Wave", Category: "social", Actions: []skill.Action{
					{ID: "wave.greet", CastTime: 10 * time.Millisecond, Cooldown: time.Second, Range: 1000},
				}},
			},
		},
	})
	t.Cleanup(reg.Shutdown)

	deps := &Deps{
		Registry:    reg,
		Sessions:    auth.NewSessionStore(),
		Idempotency: idempotency.New(time.Minute),
	}
	router := gin.New()
	deps.RegisterRoutes(router)
	return router, deps
}

type envelope struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func doPost(t *testing.T, router *gin.Engine, path, token string, body any) (int, envelope, string) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w.Code, env, w.Body.String()
}

type session struct {
	agentID string
	roomID  string
	token   string
}

func register(t *testing.T, router *gin.Engine, name string) session {
	t.Helper()
	code, env, _ := doPost(t, router, "/aic/v0.1/register", "", gin.H{"name": name, "roomId": "auto"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)
	return session{
		agentID: env.Data["agentId"].(string),
		roomID:  env.Data["roomId"].(string),
		token:   env.Data["sessionToken"].(string),
	}
}

func TestRegister_AllocatesAgentAndSession(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")
	assert.Regexp(t, `^agt_`, s.agentID)
	assert.Regexp(t, `^tok_`, s.token)
	assert.Equal(t, "channel-1", s.roomID)
}

func TestAuth_MissingOrWrongTokenRejected(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/observe", "", gin.H{"agentId": s.agentID, "roomId": s.roomID, "radius": 100})
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unauthorized", env.Error.Code)

	code, _, _ = doPost(t, router, "/aic/v0.1/observe", "tok_bogus", gin.H{"agentId": s.agentID, "roomId": s.roomID, "radius": 100})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestObserve_ReturnsSelfAndNearbyEntities(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")
	register(t, router, "B")
	time.Sleep(20 * time.Millisecond)

	code, env, _ := doPost(t, router, "/aic/v0.1/observe", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "radius": 2000, "includeGrid": true,
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)
	assert.NotNil(t, env.Data["self"])
	assert.NotNil(t, env.Data["grid"])
	entities := env.Data["entities"].([]any)
	assert.GreaterOrEqual(t, len(entities), 2, "other agent and the sign object")
}

func TestMoveTo_IdempotentReplayAndConflict(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	body := gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "txId": "tx_abcdef12",
		"dest": gin.H{"tx": 5, "ty": 5},
	}
	code, env, raw1 := doPost(t, router, "/aic/v0.1/moveTo", s.token, body)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)
	assert.Equal(t, "accepted", env.Data["result"])

	// Same body replays the recorded result verbatim.
	code, _, raw2 := doPost(t, router, "/aic/v0.1/moveTo", s.token, body)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, raw1, raw2)

	// Same txId with a different destination is a conflict.
	body["dest"] = gin.H{"tx": 6, "ty": 5}
	code, env, _ = doPost(t, router, "/aic/v0.1/moveTo", s.token, body)
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "conflict", env.Error.Code)
	assert.False(t, env.Error.Retryable)
}

func TestMoveTo_BadTxIDRejected(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/moveTo", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "txId": "nope",
		"dest": gin.H{"tx": 5, "ty": 5},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bad_request", env.Error.Code)
}

func TestMoveTo_OutOfBoundsIsOkEnvelopeRejection(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/moveTo", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "txId": "tx_oob00001",
		"dest": gin.H{"tx": 500, "ty": 500},
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)
	assert.Equal(t, "rejected", env.Data["result"])
	assert.Equal(t, "out_of_bounds", env.Data["reason"])
}

func TestInteract_SignRead(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/interact", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "txId": "tx_read0001",
		"targetId": "obj_sign-1", "action": "read",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)
	assert.Equal(t, "applied", env.Data["result"])
	state := env.Data["state"].(map[string]any)
	assert.Equal(t, "welcome", state["text"])
}

func TestChatSend_MessageLengthValidated(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, _, _ := doPost(t, router, "/aic/v0.1/chatSend", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "txId": "tx_chat0001",
		"channel": "global", "message": "",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChatBlocking_FiltersObserveForBlockerOnly(t *testing.T) {
	router, _ := newTestServer(t)
	a := register(t, router, "A")
	b := register(t, router, "B")
	c := register(t, router, "C")

	// A blocks B.
	code, _, _ := doPost(t, router, "/aic/v0.1/safety/block", a.token, gin.H{
		"agentId": a.agentID, "roomId": a.roomID, "targetId": b.agentID,
	})
	require.Equal(t, http.StatusOK, code)

	// B sends proximity chat.
	code, env, _ := doPost(t, router, "/aic/v0.1/chatSend", b.token, gin.H{
		"agentId": b.agentID, "roomId": b.roomID, "txId": "tx_chat0002",
		"channel": "proximity", "message": "hello all",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", env.Status)

	// A's chatObserve excludes it; C's includes it.
	_, env, _ = doPost(t, router, "/aic/v0.1/chatObserve", a.token, gin.H{
		"agentId": a.agentID, "roomId": a.roomID, "windowSec": 300,
	})
	assert.Empty(t, env.Data["messages"])

	_, env, _ = doPost(t, router, "/aic/v0.1/chatObserve", c.token, gin.H{
		"agentId": c.agentID, "roomId": c.roomID, "windowSec": 300,
	})
	msgs := env.Data["messages"].([]any)
	require.Len(t, msgs, 1)
}

func TestPollEvents_EmptyCursorStartsAtTail(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")
	time.Sleep(20 * time.Millisecond)

	code, env, _ := doPost(t, router, "/aic/v0.1/pollEvents", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "limit": 100, "waitMs": 0,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, env.Data["events"], "tail cursor should skip the agent's own join event")
	assert.Equal(t, false, env.Data["cursorExpired"])
}

func TestPollEvents_LongPollWakesOnChat(t *testing.T) {
	router, _ := newTestServer(t)
	a := register(t, router, "A")
	b := register(t, router, "B")
	time.Sleep(20 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		doPost(t, router, "/aic/v0.1/chatSend", b.token, gin.H{
			"agentId": b.agentID, "roomId": b.roomID, "txId": "tx_chat0003",
			"channel": "global", "message": "wake up",
		})
	}()

	start := time.Now()
	code, env, _ := doPost(t, router, "/aic/v0.1/pollEvents", a.token, gin.H{
		"agentId": a.agentID, "roomId": a.roomID, "limit": 100, "waitMs": 5000,
	})
	require.Equal(t, http.StatusOK, code)
	require.Less(t, time.Since(start), 3*time.Second, "long-poll should wake early")

	events := env.Data["events"].([]any)
	require.NotEmpty(t, events)
	var sawChat bool
	for _, raw := range events {
		ev := raw.(map[string]any)
		if ev["type"] == "chat.message" {
			sawChat = true
		}
	}
	assert.True(t, sawChat)
}

func TestSkillInstallInvokeOverHTTP(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/skill/install", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "skillId": "wave",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, env.Data["alreadyInstalled"])

	code, env, _ = doPost(t, router, "/aic/v0.1/skill/install", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "skillId": "wave",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, env.Data["alreadyInstalled"])

	code, env, _ = doPost(t, router, "/aic/v0.1/skill/invoke", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID, "txId": "tx_cast0001",
		"skillId": "wave", "actionId": "wave.greet", "targetId": s.agentID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", env.Data["outcome"])
	assert.NotZero(t, env.Data["completionTimeMs"])
}

func TestHeartbeat_AdvancesSession(t *testing.T) {
	router, deps := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/heartbeat", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.NotZero(t, env.Data["lastHeartbeatMs"])

	sess, ok := deps.Sessions.Get(s.agentID)
	require.True(t, ok)
	assert.Greater(t, sess.LastHeartbeatMs, int64(0))
}

func TestReconnect_RestoresSession(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	code, env, _ := doPost(t, router, "/aic/v0.1/reconnect", "", gin.H{
		"agentId": s.agentID, "sessionToken": s.token,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, s.agentID, env.Data["agentId"])
	assert.Equal(t, s.roomID, env.Data["roomId"])

	code, _, _ = doPost(t, router, "/aic/v0.1/reconnect", "", gin.H{
		"agentId": s.agentID, "sessionToken": "tok_wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUnregister_RemovesEntity(t *testing.T) {
	router, deps := newTestServer(t)
	s := register(t, router, "A")

	code, _, _ := doPost(t, router, "/aic/v0.1/unregister", s.token, gin.H{
		"agentId": s.agentID, "roomId": s.roomID,
	})
	require.Equal(t, http.StatusOK, code)

	_, ok := deps.Sessions.Get(s.agentID)
	assert.False(t, ok)
}

func TestChannels_ListedWithOccupancy(t *testing.T) {
	router, _ := newTestServer(t)
	s := register(t, router, "A")

	req := httptest.NewRequest(http.MethodGet, "/aic/v0.1/channels", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	channels := env.Data["channels"].(map[string]any)
	assert.Contains(t, channels, s.roomID)
}

func TestRegister_ChannelFullRollsToNextViaExplicitID(t *testing.T) {
	router, _ := newTestServer(t)
	// Capacity is 4 per room in this harness; the sign object occupies one
	// slot, so three agents fill channel-1.
	for i := 0; i < 3; i++ {
		register(t, router, fmt.Sprintf("agent-%d", i))
	}

	code, env, _ := doPost(t, router, "/aic/v0.1/register", "", gin.H{"name": "late", "roomId": "channel-1"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NotNil(t, env.Error)
	assert.True(t, env.Error.Retryable)

	// Auto placement skips the full channel and opens a new one.
	s := register(t, router, "late-auto")
	assert.Equal(t, "channel-2", s.roomID)
}
