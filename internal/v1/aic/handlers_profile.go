package aic

import (
	"context"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

type ProfileUpdateRequest struct {
	baseRequest
	Name       string `json:"name"`
	Status     string `json:"status"`
	Title      string `json:"title"`
	Department string `json:"department"`
}

func (d *Deps) ProfileUpdate(c *gin.Context) {
	var req ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid profile/update request body")
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
		Kind:     room.IntentProfileUpdate,
		AgentID:  req.AgentID,
		EntityID: req.AgentID,
		Payload:  map[string]any{"name": req.Name, "status": req.Status, "title": req.Title, "department": req.Department},
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, data)
}
