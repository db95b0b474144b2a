package aic

import (
	"context"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/gin-gonic/gin"
)

type ObserveRequest struct {
	baseRequest
	Radius      int    `json:"radius"`
	Detail      string `json:"detail"`
	IncludeSelf bool   `json:"includeSelf"`
	IncludeGrid bool   `json:"includeGrid"`
}

// liteEntity is the reduced per-entity view returned for detail=lite.
type liteEntity struct {
	ID   types.EntityIDType    `json:"id"`
	Kind types.EntityKind      `json:"kind"`
	Name types.DisplayNameType `json:"name"`
	Pos  types.Point           `json:"pos"`
	Tile types.TileCoord       `json:"tile"`
}

func (d *Deps) Observe(c *gin.Context) {
	var req ObserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid observe request body")
		return
	}
	if !d.gate(c, req.baseRequest, ratelimit.ClassObservation) {
		return
	}
	req.Radius = clampInt(req.Radius, 1, 2000)
	if req.Detail == "" {
		req.Detail = "full"
	}
	if req.Detail != "lite" && req.Detail != "full" {
		badRequest(c, "detail must be lite or full")
		return
	}

	rt, found := d.Registry.Get(req.RoomID)
	if !found {
		fail(c, types.NewAPIError(types.ErrNotFound, "room not found"))
		return
	}

	self, inRoom := rt.Entity(req.AgentID)
	if !inRoom {
		fail(c, types.NewAPIError(types.ErrAgentNotInRoom, "agent has no entity in this room"))
		return
	}

	entities := rt.Snapshot()
	visible := entities[:0]
	for _, e := range entities {
		if !req.IncludeSelf && string(e.ID) == req.AgentID {
			continue
		}
		if chebyshev(self.Pos, e.Pos) > float64(req.Radius) {
			continue
		}
		visible = append(visible, e)
	}

	resp := gin.H{"self": self, "zone": self.CurrentZone}
	if req.Detail == "lite" {
		lite := make([]liteEntity, 0, len(visible))
		for _, e := range visible {
			lite = append(lite, liteEntity{ID: e.ID, Kind: e.Kind, Name: e.Name, Pos: e.Pos, Tile: e.Tile})
		}
		resp["entities"] = lite
	} else {
		resp["entities"] = visible
	}
	if req.IncludeGrid {
		g := rt.Grid()
		collision := make([]int, 0, g.Width()*g.Height())
		for ty := 0; ty < g.Height(); ty++ {
			for tx := 0; tx < g.Width(); tx++ {
				if g.IsBlocked(tx, ty) {
					collision = append(collision, 1)
				} else {
					collision = append(collision, 0)
				}
			}
		}
		resp["grid"] = gin.H{
			"width": g.Width(), "height": g.Height(), "tileSize": g.TileSize(),
			"collision": collision,
		}
	}
	ok(c, resp)
}

// chebyshev keeps the observe radius filter cheap and errs toward including
// entities near the boundary rather than computing a square root per pair.
func chebyshev(a, b types.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

type MoveToRequest struct {
	baseRequest
	TxID string `json:"txId"`
	Dest struct {
		TX int `json:"tx"`
		TY int `json:"ty"`
	} `json:"dest"`
	Mode string `json:"mode"`
}

func (d *Deps) MoveTo(c *gin.Context) {
	var req MoveToRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid moveTo request body")
		return
	}
	if apiErr := validateTxID(req.TxID); apiErr != nil {
		fail(c, apiErr)
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

	// Rejections (blocked, out of bounds, no path) ride in the ok envelope
	// as an outcome: the request succeeded even though the action did not
	// apply.
	data, apiErr := d.withIdempotency(req.AgentID, req.TxID, req, func() (any, *types.APIError) {
		return submit(ctx, rt, room.Intent{
			Kind:     room.IntentMoveTo,
			AgentID:  req.AgentID,
			EntityID: req.AgentID,
			Payload:  map[string]any{"tx": req.Dest.TX, "ty": req.Dest.TY},
		})
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, data)
}

type InteractRequest struct {
	baseRequest
	TxID     string         `json:"txId"`
	TargetID string         `json:"targetId"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params"`
}

func (d *Deps) Interact(c *gin.Context) {
	var req InteractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid interact request body")
		return
	}
	if req.TargetID == "" || req.Action == "" {
		badRequest(c, "targetId and action are required")
		return
	}
	if apiErr := validateTxID(req.TxID); apiErr != nil {
		fail(c, apiErr)
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

	data, apiErr := d.withIdempotency(req.AgentID, req.TxID, req, func() (any, *types.APIError) {
		return submit(ctx, rt, room.Intent{
			Kind:     room.IntentInteract,
			AgentID:  req.AgentID,
			EntityID: req.AgentID,
			Payload:  map[string]any{"targetId": req.TargetID, "action": req.Action, "params": req.Params},
		})
	})
	if apiErr != nil {
		fail(c, apiErr)
		return
	}
	ok(c, data)
}
