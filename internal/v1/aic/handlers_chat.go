package aic

import (
	"context"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/chat"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

type ChatSendRequest struct {
	baseRequest
	TxID      string `json:"txId"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
	TeamID    string `json:"teamId"`
	MeetingID string `json:"meetingId"`
	TargetID  string `json:"targetId"`
}

func (d *Deps) ChatSend(c *gin.Context) {
	var req ChatSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid chatSend request body")
		return
	}
	if len(req.Message) < 1 || len(req.Message) > 500 {
		badRequest(c, "message must be 1..500 characters")
		return
	}
	if apiErr := validateTxID(req.TxID); apiErr != nil {
		fail(c, apiErr)
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassChat) {
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultDeadline)
	defer cancel()

	data, apiErr := d.withIdempotency(req.AgentID, req.TxID, req, func() (any, *types.APIError) {
		return submit(ctx, rt, room.Intent{
			Kind:     room.IntentChatSend,
			AgentID:  req.AgentID,
			EntityID: req.AgentID,
			Payload: map[string]any{
				"channel": req.Channel, "text": req.Message,
				"teamId": req.TeamID, "meetingId": req.MeetingID, "targetId": req.TargetID,
			},
		})
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, data)
}

type ChatObserveRequest struct {
	baseRequest
	WindowSec int    `json:"windowSec"`
	Channel   string `json:"channel"`
}

func (d *Deps) ChatObserve(c *gin.Context) {
	var req ChatObserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid chatObserve request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassChat) {
		return
	}
	req.WindowSec = clampInt(req.WindowSec, 1, 300)

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	messages := rt.Chat().ReadFor(req.AgentID, chat.Channel(req.Channel), req.WindowSec)
	ok(c, gin.H{"messages": messages})
}
