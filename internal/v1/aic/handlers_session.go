package aic

import (
	"context"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/registry"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// RegisterRequest allocates a new agent identity and attaches it to a
// channel. An empty or "auto" roomId joins the first non-full channel, or a
// new one when every channel is full; a named channel is created if absent.
type RegisterRequest struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
	Kind   string `json:"kind"`
	TeamID string `json:"teamId"`
}

func (d *Deps) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid register request body")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultDeadline)
	defer cancel()

	channelID := req.RoomID
	if channelID == "auto" {
		channelID = ""
	}
	if channelID != "" && !types.RoomIDPattern.MatchString(channelID) {
		badRequest(c, "roomId does not match the required format")
		return
	}

	rt, roomID, err := d.Registry.JoinOrCreate(channelID)
	if err != nil {
		if err == registry.ErrChannelFull {
			fail(c, types.NewAPIError(types.ErrRoomNotReady, "channel is at capacity"))
			return
		}
		fail(c, types.NewAPIError(types.ErrInternal, "failed to join channel"))
		return
	}

	agentID, token, err := d.Sessions.Register(roomID, nowMs())
	if err != nil {
		fail(c, types.NewAPIError(types.ErrInternal, "failed to allocate session"))
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = "agent"
	}
	_, apiErr := submit(ctx, rt, room.Intent{
		Kind:     room.IntentJoin,
		AgentID:  agentID,
		EntityID: agentID,
		Payload:  map[string]any{"name": req.Name, "kind": kind, "teamId": req.TeamID},
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}

	ok(c, gin.H{"agentId": agentID, "roomId": roomID, "sessionToken": token})
}

type UnregisterRequest struct {
	baseRequest
}

func (d *Deps) Unregister(c *gin.Context) {
	var req UnregisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid unregister request body")
		return
	}
	if !d.gate(c, req.baseRequest, "") {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultDeadline)
	defer cancel()

	rt, ok2 := d.Registry.Get(req.RoomID)
	if !ok2 {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	submit(ctx, rt, room.Intent{
		Kind: room.IntentLeave, AgentID: req.AgentID, EntityID: req.AgentID,
		Payload: map[string]any{"reason": "unregister"},
	})
	d.Sessions.Unregister(req.AgentID)
	ok(c, gin.H{"unregistered": true})
}

type ReconnectRequest struct {
	AgentID      string `json:"agentId"`
	SessionToken string `json:"sessionToken"`
}

func (d *Deps) Reconnect(c *gin.Context) {
	var req ReconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid reconnect request body")
		return
	}

	sess, err := d.Sessions.Reconnect(req.AgentID, req.SessionToken, nowMs())
	if err != nil {
		fail(c, types.NewAPIError(types.ErrUnauthorized, "invalid reconnect credentials"))
		return
	}

	rt, found := d.Registry.Get(sess.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room no longer exists"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultDeadline)
	defer cancel()

	// Join is idempotent: if the entity is still present this restores it
	// unchanged, otherwise it respawns at a fresh default position.
	_, apiErr := submit(ctx, rt, room.Intent{
		Kind:     room.IntentJoin,
		AgentID:  sess.AgentID,
		EntityID: sess.AgentID,
		Payload:  map[string]any{"kind": "agent"},
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}

	ok(c, gin.H{"agentId": sess.AgentID, "roomId": sess.RoomID, "sessionToken": sess.Token})
}

type HeartbeatRequest struct {
	baseRequest
}

func (d *Deps) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid heartbeat request body")
		return
	}
	// Heartbeat is deliberately exempt from rate limiting.
	if !d.gate(c, req.baseRequest, "") {
		return
	}
	if err := d.Sessions.Heartbeat(req.AgentID, req.RoomID, nowMs()); err != nil {
		fail(c, types.NewAPIError(types.ErrUnauthorized, "heartbeat failed"))
		return
	}
	ok(c, gin.H{"lastHeartbeatMs": nowMs()})
}
