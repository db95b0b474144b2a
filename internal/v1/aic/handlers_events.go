package aic

import (
	"context"
	"strconv"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// pollEventsDeadline is tighter than defaultDeadline so a long-poll never
// outlives the handler's own context budget.
const pollEventsDeadline = 25 * time.Second

// maxWaitMs bounds how long a single pollEvents call may long-poll.
const maxWaitMs = 25000

type PollEventsRequest struct {
	baseRequest
	SinceCursor string `json:"sinceCursor"`
	Limit       int    `json:"limit"`
	WaitMs      int    `json:"waitMs"`
}

func (d *Deps) PollEvents(c *gin.Context) {
	var req PollEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid pollEvents request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassEvents) {
		return
	}
	req.Limit = clampInt(req.Limit, 1, 200)
	req.WaitMs = clampInt(req.WaitMs, 0, maxWaitMs)

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	// An empty cursor means "from the current tail": the agent starts
	// seeing only events appended after this call.
	var since int64
	if req.SinceCursor == "" {
		since = rt.Events().Cursor()
	} else {
		parsed, err := strconv.ParseInt(req.SinceCursor, 10, 64)
		if err != nil || parsed < 0 {
			badRequest(c, "sinceCursor is not a valid cursor")
			return
		}
		since = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pollEventsDeadline)
	defer cancel()

	events, truncated := rt.Events().Wait(ctx, since, time.Duration(req.WaitMs)*time.Millisecond)
	if len(events) > req.Limit {
		events = events[:req.Limit]
	}

	nextCursor := since
	if len(events) > 0 {
		nextCursor = events[len(events)-1].Cursor
	}

	ok(c, gin.H{
		"events":        events,
		"nextCursor":    strconv.FormatInt(nextCursor, 10),
		"cursorExpired": truncated,
	})
}
