package aic

import (
	"errors"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/idempotency"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
)

// withIdempotency replays a prior result for (agentID, txID) when the
// request body matches, fails with conflict when it doesn't, and otherwise
// executes and records the result. A blank txID bypasses memoization
// entirely (not every intent is a write the caller needs to retry safely).
// The key lock is held across the whole lookup-execute-store sequence so
// two concurrent retries of the same txId cannot both execute.
func (d *Deps) withIdempotency(agentID, txID string, req any, exec func() (any, *types.APIError)) (any, *types.APIError) {
	if txID == "" {
		return exec()
	}

	unlock := d.Idempotency.LockKey(agentID, txID)
	defer unlock()

	cached, found, err := d.Idempotency.Lookup(agentID, txID, req)
	if err != nil {
		if errors.Is(err, idempotency.ErrConflict) {
			return nil, types.NewAPIError(types.ErrConflict, "txId reused with a different request body")
		}
		return nil, types.NewAPIError(types.ErrInternal, "idempotency lookup failed")
	}
	if found {
		return cached, nil
	}

	data, apiErr := exec()
	if apiErr == nil {
		d.Idempotency.Store(agentID, txID, req, data)
	}
	return data, apiErr
}
