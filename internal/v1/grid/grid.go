// Package grid implements the immutable per-room tile and collision map:
// tile/world coordinate conversion, passability, and BFS path planning.
package grid

import (
	"errors"
	"fmt"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
)

// ErrInvalidMap is returned by Load when the source tilemap arrays are
// malformed: wrong length, or a collision cell outside {0,1}.
var ErrInvalidMap = errors.New("invalid map")

// TileType is the ground-layer tile identifier. The grid treats it as an
// opaque integer; only the collision layer determines passability.
type TileType int

// Tile is one cell of the map.
type Tile struct {
	Type     TileType
	Blocking bool
	IsDoor   bool
	ZoneID   string
}

// Grid is the immutable tile+collision map for one room. It never mutates
// after construction; a room's single writer only reads it.
type Grid struct {
	width, height int
	tileSize      float64
	tiles         [][]Tile // [ty][tx]
}

// Load validates and builds a Grid from Tiled-style flat layer arrays.
// ground and collision must both have length width*height; collision
// entries must be 0 or 1. zoneOf, if non-nil, assigns a zone id per tile
// index (ty*width+tx); used to stamp Tile.ZoneID from a manifest-driven
// zone layer.
func Load(width, height int, ground, collision []int, zoneOf func(idx int) string) (*Grid, error) {
	n := width * height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions", ErrInvalidMap)
	}
	if len(ground) != n || len(collision) != n {
		return nil, fmt.Errorf("%w: expected %d cells, got ground=%d collision=%d", ErrInvalidMap, n, len(ground), len(collision))
	}

	tiles := make([][]Tile, height)
	for ty := 0; ty < height; ty++ {
		row := make([]Tile, width)
		for tx := 0; tx < width; tx++ {
			idx := ty*width + tx
			c := collision[idx]
			if c != 0 && c != 1 {
				return nil, fmt.Errorf("%w: collision[%d]=%d not in {0,1}", ErrInvalidMap, idx, c)
			}
			tile := Tile{
				Type:     TileType(ground[idx]),
				Blocking: c == 1,
			}
			if zoneOf != nil {
				tile.ZoneID = zoneOf(idx)
			}
			row[tx] = tile
		}
		tiles[ty] = row
	}

	return &Grid{width: width, height: height, tileSize: 32, tiles: tiles}, nil
}

// WithTileSize overrides the default 32px tile size. Intended to be chained
// immediately after Load.
func (g *Grid) WithTileSize(size float64) *Grid {
	g.tileSize = size
	return g
}

func (g *Grid) Width() int        { return g.width }
func (g *Grid) Height() int       { return g.height }
func (g *Grid) TileSize() float64 { return g.tileSize }

// InBounds reports whether (tx, ty) is within the grid.
func (g *Grid) InBounds(tx, ty int) bool {
	return tx >= 0 && ty >= 0 && tx < g.width && ty < g.height
}

// IsBlocked reports true for out-of-bounds tiles and collision=1 tiles.
func (g *Grid) IsBlocked(tx, ty int) bool {
	if !g.InBounds(tx, ty) {
		return true
	}
	return g.tiles[ty][tx].Blocking
}

// TileAt returns the tile at (tx, ty) and whether it exists.
func (g *Grid) TileAt(tx, ty int) (Tile, bool) {
	if !g.InBounds(tx, ty) {
		return Tile{}, false
	}
	return g.tiles[ty][tx], true
}

// WorldToTile converts a world-space point to its containing tile.
func (g *Grid) WorldToTile(p types.Point) types.TileCoord {
	return types.TileCoord{
		TX: int(p.X / g.tileSize),
		TY: int(p.Y / g.tileSize),
	}
}

// TileCenter returns the world-space center of a tile.
func (g *Grid) TileCenter(t types.TileCoord) types.Point {
	return types.Point{
		X: float64(t.TX)*g.tileSize + g.tileSize/2,
		Y: float64(t.TY)*g.tileSize + g.tileSize/2,
	}
}

// CanMoveTo permits stepping from one tile to an orthogonal or diagonal
// neighbor. Diagonal steps additionally require at least one of the two
// orthogonal tiles adjacent to the step to be passable, preventing
// corner-cutting through a blocked pair.
func (g *Grid) CanMoveTo(from, to types.TileCoord) bool {
	dx := to.TX - from.TX
	dy := to.TY - from.TY
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 || (dx == 0 && dy == 0) {
		return false
	}
	if g.IsBlocked(to.TX, to.TY) {
		return false
	}
	if dx != 0 && dy != 0 {
		orthoA := !g.IsBlocked(from.TX+dx, from.TY)
		orthoB := !g.IsBlocked(from.TX, from.TY+dy)
		if !orthoA && !orthoB {
			return false
		}
	}
	return true
}

// MaxExploredNodes bounds a single FindPath call so one pathing request
// never stalls a tick against a huge or maze-like map.
const MaxExploredNodes = 4096

// cardinalSteps is the BFS expansion order: up, right, down, left. Ties in
// shortest-path length are broken by this order, so FindPath is deterministic
// across repeated calls on the same grid.
var cardinalSteps = []types.TileCoord{
	{TX: 0, TY: -1},
	{TX: 1, TY: 0},
	{TX: 0, TY: 1},
	{TX: -1, TY: 0},
}

// pathNode is a BFS frontier entry; prev chains back to the start tile so the
// final path can be reconstructed once the target is dequeued.
type pathNode struct {
	coord types.TileCoord
	prev  *pathNode
}

// FindPath runs a breadth-first search from "from" to "to" over 4-connected,
// non-diagonal steps (diagonal corner-cutting has no meaning for a planned
// route) and returns the tile sequence including both endpoints. It returns
// ok=false if "to" is unreachable within MaxExploredNodes expansions.
func (g *Grid) FindPath(from, to types.TileCoord) (path []types.TileCoord, ok bool) {
	if !g.InBounds(from.TX, from.TY) || !g.InBounds(to.TX, to.TY) {
		return nil, false
	}
	if g.IsBlocked(to.TX, to.TY) {
		return nil, false
	}
	if from == to {
		return []types.TileCoord{from}, true
	}

	visited := make(map[types.TileCoord]bool)
	visited[from] = true
	queue := []*pathNode{{coord: from}}
	explored := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		explored++
		if explored > MaxExploredNodes {
			return nil, false
		}

		for _, step := range cardinalSteps {
			next := types.TileCoord{TX: cur.coord.TX + step.TX, TY: cur.coord.TY + step.TY}
			if visited[next] || g.IsBlocked(next.TX, next.TY) {
				continue
			}
			n := &pathNode{coord: next, prev: cur}
			if next == to {
				return reconstructPath(n), true
			}
			visited[next] = true
			queue = append(queue, n)
		}
	}
	return nil, false
}

func reconstructPath(n *pathNode) []types.TileCoord {
	var rev []types.TileCoord
	for cur := n; cur != nil; cur = cur.prev {
		rev = append(rev, cur.coord)
	}
	path := make([]types.TileCoord, len(rev))
	for i, c := range rev {
		path[len(rev)-1-i] = c
	}
	return path
}
