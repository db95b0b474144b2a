// Package aic implements the Agent Interface Contract: the stateless JSON
// HTTP surface AI agents use to join rooms, observe state, act, chat, and
// long-poll the event journal, layered over the same Room Runtime intents
// the realtime transport uses for humans.
package aic

import (
	"net/http"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// ok writes the {"status":"ok","data":...} envelope.
func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": data})
}

// fail writes the {"status":"error","error":{...}} envelope, mapping the
// error code to its HTTP status per the AIC status mapping.
func fail(c *gin.Context, apiErr *types.APIError) {
	c.JSON(statusFor(apiErr.Code), gin.H{
		"status": "error",
		"error": gin.H{
			"code":      apiErr.Code,
			"message":   apiErr.Message,
			"retryable": apiErr.Retryable,
			"details":   apiErr.Details,
		},
	})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrBadRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound, types.ErrAgentNotInRoom:
		return http.StatusNotFound
	case types.ErrConflict:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrRoomNotReady:
		return http.StatusServiceUnavailable
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, message string) {
	fail(c, types.NewAPIError(types.ErrBadRequest, message))
}
