package aic

import (
	"context"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// submit enqueues an intent on rt and blocks for its reply or the context
// deadline. A deadline that elapses before the reply arrives still lets an
// already-dequeued intent apply; the caller simply sees a timeout.
func submit(ctx context.Context, rt *room.Runtime, intent room.Intent) (any, *types.APIError) {
	intent.Result = make(chan room.Result, 1)
	if err := rt.Submit(intent); err != nil {
		return nil, err
	}
	select {
	case res := <-intent.Result:
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, types.NewAPIError(types.ErrTimeout, "request deadline exceeded")
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
