package aic

import (
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the Agent Interface Contract under /aic/v0.1.
// register and reconnect have no session yet, so their rate limit is keyed
// by client IP through the limiter middleware; every other endpoint keys by
// agent id inside its handler after authentication.
func (d *Deps) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/aic/v0.1")

	if d.RateLimit != nil {
		g.POST("/register", d.RateLimit.Middleware(ratelimit.ClassAction), d.Register)
		g.POST("/reconnect", d.RateLimit.Middleware(ratelimit.ClassAction), d.Reconnect)
	} else {
		g.POST("/register", d.Register)
		g.POST("/reconnect", d.Reconnect)
	}
	g.POST("/unregister", d.Unregister)
	g.POST("/heartbeat", d.Heartbeat)

	g.POST("/observe", d.Observe)
	g.POST("/moveTo", d.MoveTo)
	g.POST("/interact", d.Interact)
	g.POST("/chatSend", d.ChatSend)
	g.POST("/chatObserve", d.ChatObserve)
	g.POST("/pollEvents", d.PollEvents)
	g.POST("/profile/update", d.ProfileUpdate)

	g.POST("/skill/list", d.SkillList)
	g.POST("/skill/install", d.SkillInstall)
	g.POST("/skill/invoke", d.SkillInvoke)
	g.POST("/skill/cancel", d.SkillCancel)

	g.POST("/meeting/list", d.MeetingList)
	g.POST("/meeting/join", d.MeetingJoin)
	g.POST("/meeting/leave", d.MeetingLeave)

	g.POST("/safety/report", d.SafetyReport)
	g.POST("/safety/block", d.SafetyBlock)
	g.POST("/safety/mute", d.SafetyMute)

	g.GET("/channels", d.ListChannels)
}
