package aic

import (
	"errors"
	"strings"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/auth"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// requireAuth validates the Authorization: Bearer <token> header against the
// stored (agentId, roomId) session, per every AIC call except register,
// reconnect, and GET /channels.
func (d *Deps) requireAuth(c *gin.Context, agentID, roomID string) *types.APIError {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return types.NewAPIError(types.ErrUnauthorized, "missing bearer token")
	}

	err := d.Sessions.Authenticate(agentID, roomID, token, nowMs())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrSessionNotFound):
		return types.NewAPIError(types.ErrUnauthorized, "no session for agent")
	case errors.Is(err, auth.ErrInvalidToken):
		return types.NewAPIError(types.ErrUnauthorized, "token does not match session")
	default:
		return types.NewAPIError(types.ErrUnauthorized, "authentication failed")
	}
}
