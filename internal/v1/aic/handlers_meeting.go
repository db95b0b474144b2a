package aic

import (
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

type MeetingListRequest struct {
	baseRequest
}

func (d *Deps) MeetingList(c *gin.Context) {
	var req MeetingListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid meeting/list request body")
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
	ok(c, gin.H{"meetings": rt.ListMeetings()})
}

type MeetingJoinRequest struct {
	baseRequest
	MeetingID string `json:"meetingId"`
}

func (d *Deps) MeetingJoin(c *gin.Context) {
	var req MeetingJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid meeting/join request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassAction) {
		return
	}
	if req.MeetingID == "" {
		badRequest(c, "meetingId is required")
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	rt.JoinMeeting(req.MeetingID, req.AgentID)
	ok(c, gin.H{"meetingId": req.MeetingID, "members": rt.ListMeetings()[req.MeetingID]})
}

type MeetingLeaveRequest struct {
	baseRequest
	MeetingID string `json:"meetingId"`
}

func (d *Deps) MeetingLeave(c *gin.Context) {
	var req MeetingLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid meeting/leave request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassAction) {
		return
	}
	if req.MeetingID == "" {
		badRequest(c, "meetingId is required")
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	rt.LeaveMeeting(req.MeetingID, req.AgentID)
	ok(c, gin.H{"meetingId": req.MeetingID, "members": rt.ListMeetings()[req.MeetingID]})
}
