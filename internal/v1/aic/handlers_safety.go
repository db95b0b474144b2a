package aic

import (
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

type SafetyReportRequest struct {
	baseRequest
	TargetID string `json:"targetId"`
	Reason   string `json:"reason"`
}

// SafetyReport files an abuse report against another entity in the room.
func (d *Deps) SafetyReport(c *gin.Context) {
	var req SafetyReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid safety/report request body")
		return
	}
	if req.TargetID == "" {
		badRequest(c, "targetId is required")
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

	rpt := rt.Safety().Report(req.AgentID, req.TargetID, req.Reason, time.Now())
	ok(c, gin.H{"id": rpt.ID, "status": rpt.Status})
}

type SafetyBlockRequest struct {
	baseRequest
	TargetID string `json:"targetId"`
	Unblock  bool   `json:"unblock"`
}

// SafetyBlock adds (or with unblock=true removes) a block on another entity.
// Blocks filter chat in both directions regardless of who initiated.
func (d *Deps) SafetyBlock(c *gin.Context) {
	var req SafetyBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid safety/block request body")
		return
	}
	if req.TargetID == "" {
		badRequest(c, "targetId is required")
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

	if req.Unblock {
		rt.Safety().Unblock(req.AgentID, req.TargetID)
	} else {
		rt.Safety().Block(req.AgentID, req.TargetID)
	}
	ok(c, gin.H{"blocked": !req.Unblock, "targetId": req.TargetID})
}

type SafetyMuteRequest struct {
	baseRequest
	TargetID   string `json:"targetId"`
	DurationMs int64  `json:"durationMs"`
	Unmute     bool   `json:"unmute"`
}

// SafetyMute silences another entity's chat for the caller, optionally for a
// bounded duration. A repeated mute replaces the prior record.
func (d *Deps) SafetyMute(c *gin.Context) {
	var req SafetyMuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid safety/mute request body")
		return
	}
	if req.TargetID == "" {
		badRequest(c, "targetId is required")
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

	if req.Unmute {
		rt.Safety().Unmute(req.AgentID, req.TargetID)
	} else {
		var expiresAt time.Time
		if req.DurationMs > 0 {
			expiresAt = time.Now().Add(time.Duration(req.DurationMs) * time.Millisecond)
		}
		rt.Safety().Mute(req.AgentID, req.TargetID, expiresAt)
	}
	ok(c, gin.H{"muted": !req.Unmute, "targetId": req.TargetID})
}
