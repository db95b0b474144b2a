package aic

import (
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/auth"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/idempotency"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/registry"
)

// defaultDeadline is the fallback handler deadline; individual endpoints
// override it per §5's deadline policy.
const defaultDeadline = 30 * time.Second

// Deps collects the process-wide components the AIC handlers dispatch to.
type Deps struct {
	Registry    *registry.Registry
	Sessions    *auth.SessionStore
	RateLimit   *ratelimit.RateLimiter
	Idempotency *idempotency.Cache
}

// baseRequest is embedded by every authenticated request schema; agentId and
// roomId double as the bearer-token binding key.
type baseRequest struct {
	AgentID string `json:"agentId"`
	RoomID  string `json:"roomId"`
}
