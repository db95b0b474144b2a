package aic

import (
	"context"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

type SkillListRequest struct {
	baseRequest
}

func (d *Deps) SkillList(c *gin.Context) {
	var req SkillListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid skill/list request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassObservation) {
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}
	ok(c, gin.H{"skills": rt.Skills().List()})
}

type SkillInstallRequest struct {
	baseRequest
	SkillID string `json:"skillId"`
}

func (d *Deps) SkillInstall(c *gin.Context) {
	var req SkillInstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid skill/install request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassAction) {
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultDeadline)
	defer cancel()

	data, apiErr := submit(ctx, rt, room.Intent{
		Kind:     room.IntentSkillInstall,
		AgentID:  req.AgentID,
		EntityID: req.AgentID,
		Payload:  map[string]any{"skillId": req.SkillID},
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, data)
}

type SkillInvokeRequest struct {
	baseRequest
	TxID     string         `json:"txId"`
	SkillID  string         `json:"skillId"`
	ActionID string         `json:"actionId"`
	TargetID string         `json:"targetId"`
	Params   map[string]any `json:"params"`
}

func (d *Deps) SkillInvoke(c *gin.Context) {
	var req SkillInvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid skill/invoke request body")
		return
	}
	if apiErr := validateTxID(req.TxID); apiErr != nil {
		fail(c, apiErr)
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassAction) {
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
			Kind:     room.IntentSkillInvoke,
			AgentID:  req.AgentID,
			EntityID: req.AgentID,
			Payload: map[string]any{
				"skillId": req.SkillID, "actionId": req.ActionID,
				"targetId": req.TargetID, "txId": req.TxID, "params": req.Params,
			},
		})
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, data)
}

type SkillCancelRequest struct {
	baseRequest
}

// SkillCancel aborts the caller's pending cast, if any. No cooldown starts.
func (d *Deps) SkillCancel(c *gin.Context) {
	var req SkillCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid skill/cancel request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassAction) {
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), defaultDeadline)
	defer cancel()

	_, apiErr := submit(ctx, rt, room.Intent{
		Kind:     room.IntentSkillCancel,
		AgentID:  req.AgentID,
		EntityID: req.AgentID,
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, gin.H{"cancelled": true})
}
