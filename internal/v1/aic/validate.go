package aic

import (
	"strconv"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// validateBase checks the agentId/roomId formats shared by every
// authenticated request schema.
func validateBase(req baseRequest) *types.APIError {
	if !types.AgentIDPattern.MatchString(req.AgentID) {
		return types.NewAPIError(types.ErrBadRequest, "agentId does not match the required format")
	}
	if !types.RoomIDPattern.MatchString(req.RoomID) {
		return types.NewAPIError(types.ErrBadRequest, "roomId does not match the required format")
	}
	return nil
}

// validateTxID checks the tx_<8-128 url-safe chars> format required on
// every write endpoint.
func validateTxID(txID string) *types.APIError {
	if !types.TxIDPattern.MatchString(txID) {
		return types.NewAPIError(types.ErrBadRequest, "txId must match tx_ followed by 8-128 url-safe characters")
	}
	return nil
}

// allowRate enforces the per-(agent, endpoint-class) budget. A nil limiter
// (tests, limiting disabled) allows everything.
func (d *Deps) allowRate(c *gin.Context, agentID string, class ratelimit.Class) *types.APIError {
	if d.RateLimit == nil {
		return nil
	}
	allowed, retryAfter, err := d.RateLimit.Allow(c.Request.Context(), agentID, class)
	if err != nil || allowed {
		return nil
	}
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	return types.NewAPIError(types.ErrRateLimited, "rate limit exceeded for "+string(class))
}

// gate runs the validate-auth-ratelimit preamble shared by every
// authenticated endpoint, on a request body the handler has already bound.
// It reports whether the handler may proceed; on false the response has
// already been written.
func (d *Deps) gate(c *gin.Context, req baseRequest, class ratelimit.Class) bool {
	if apiErr := validateBase(req); apiErr != nil {
		fail(c, apiErr)
		return false
	}
	if apiErr := d.requireAuth(c, req.AgentID, req.RoomID); apiErr != nil {
		fail(c, apiErr)
		return false
	}
	if class != "" {
		if apiErr := d.allowRate(c, req.AgentID, class); apiErr != nil {
			fail(c, apiErr)
			return false
		}
	}
	return true
}
