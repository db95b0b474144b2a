// Package worldpack loads the on-disk map bundle a deployment serves: a
// manifest naming the zones and skill catalogue, plus Tiled-schema tilemap
// JSON files carrying the ground, collision, and objects layers.
package worldpack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/grid"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/skill"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/zone"
)

// ErrInvalidPack is wrapped by every Load failure caused by pack contents
// rather than I/O.
var ErrInvalidPack = errors.New("invalid world pack")

// Manifest is the pack-level index file (manifest.json).
type Manifest struct {
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	EntryZone string          `json:"entryZone"`
	Zones     []ManifestZone  `json:"zones"`
	Skills    []ManifestSkill `json:"skills"`
}

// ManifestZone names one zone, its tilemap file, and its world-space
// rectangle.
type ManifestZone struct {
	ID     string `json:"id"`
	File   string `json:"file"`
	Bounds struct {
		MinX float64 `json:"minX"`
		MinY float64 `json:"minY"`
		MaxX float64 `json:"maxX"`
		MaxY float64 `json:"maxY"`
	} `json:"bounds"`
}

// ManifestSkill is the data-driven skill catalogue entry.
type ManifestSkill struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Actions  []struct {
		ID         string  `json:"id"`
		CastTimeMs int64   `json:"castTimeMs"`
		CooldownMs int64   `json:"cooldownMs"`
		RangeUnits float64 `json:"rangeUnits"`
		Effect     *struct {
			Type            string  `json:"type"`
			SpeedMultiplier float64 `json:"speedMultiplier"`
			DurationMs      int64   `json:"durationMs"`
		} `json:"effect"`
	} `json:"actions"`
}

// tiledMap is the subset of the Tiled JSON schema the loader consumes.
type tiledMap struct {
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	TileWidth  int          `json:"tilewidth"`
	TileHeight int          `json:"tileheight"`
	Layers     []tiledLayer `json:"layers"`
}

type tiledLayer struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Data    []int         `json:"data"`
	Objects []tiledObject `json:"objects"`
}

type tiledObject struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	X          float64         `json:"x"`
	Y          float64         `json:"y"`
	Properties []tiledProperty `json:"properties"`
}

type tiledProperty struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Pack is a fully loaded map bundle, ready to back new rooms.
type Pack struct {
	Name      string
	Version   string
	EntryZone string
	Grid      *grid.Grid
	Zones     []zone.NamedBounds
	Spawn     *types.TileCoord
	Objects   []*types.Entity
	Skills    []skill.Definition
}

// Load reads manifest.json from dir and builds the pack from the entry
// zone's tilemap. The manifest's zone list is the canonical zone id set;
// nothing is hard-coded.
func Load(dir string) (*Pack, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrInvalidPack, err)
	}
	if manifest.EntryZone == "" {
		return nil, fmt.Errorf("%w: manifest has no entryZone", ErrInvalidPack)
	}

	pack := &Pack{
		Name:      manifest.Name,
		Version:   manifest.Version,
		EntryZone: manifest.EntryZone,
	}

	var entry *ManifestZone
	for i := range manifest.Zones {
		z := manifest.Zones[i]
		pack.Zones = append(pack.Zones, zone.NamedBounds{
			ID: z.ID,
			Bounds: zone.Bounds{
				MinX: z.Bounds.MinX, MinY: z.Bounds.MinY,
				MaxX: z.Bounds.MaxX, MaxY: z.Bounds.MaxY,
			},
		})
		if z.ID == manifest.EntryZone {
			entry = &manifest.Zones[i]
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: entryZone %q not in zones", ErrInvalidPack, manifest.EntryZone)
	}

	if err := pack.loadTilemap(filepath.Join(dir, entry.File), manifest.Zones); err != nil {
		return nil, err
	}

	for _, ms := range manifest.Skills {
		def := skill.Definition{ID: ms.ID, Name: ms.Name, Category: ms.Category}
		for _, a := range ms.Actions {
			action := skill.Action{
				ID:       a.ID,
				CastTime: time.Duration(a.CastTimeMs) * time.Millisecond,
				Cooldown: time.Duration(a.CooldownMs) * time.Millisecond,
				Range:    a.RangeUnits,
			}
			if a.Effect != nil {
				action.Effect = &skill.Effect{
					Type:            a.Effect.Type,
					SpeedMultiplier: a.Effect.SpeedMultiplier,
					Duration:        time.Duration(a.Effect.DurationMs) * time.Millisecond,
				}
			}
			def.Actions = append(def.Actions, action)
		}
		pack.Skills = append(pack.Skills, def)
	}

	return pack, nil
}

func (p *Pack) loadTilemap(path string, zones []ManifestZone) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tilemap: %w", err)
	}
	var tm tiledMap
	if err := json.Unmarshal(raw, &tm); err != nil {
		return fmt.Errorf("%w: tilemap %s: %v", ErrInvalidPack, filepath.Base(path), err)
	}

	var ground, collision []int
	var objects []tiledObject
	for _, layer := range tm.Layers {
		switch layer.Name {
		case "ground":
			ground = layer.Data
		case "collision":
			collision = layer.Data
		case "objects":
			objects = layer.Objects
		}
	}
	if ground == nil || collision == nil {
		return fmt.Errorf("%w: tilemap %s missing ground or collision layer", ErrInvalidPack, filepath.Base(path))
	}

	tileSize := float64(tm.TileWidth)
	if tileSize <= 0 {
		tileSize = 32
	}

	zoneOf := func(idx int) string {
		tx := idx % tm.Width
		ty := idx / tm.Width
		cx := float64(tx)*tileSize + tileSize/2
		cy := float64(ty)*tileSize + tileSize/2
		for _, z := range zones {
			if cx >= z.Bounds.MinX && cx <= z.Bounds.MaxX && cy >= z.Bounds.MinY && cy <= z.Bounds.MaxY {
				return z.ID
			}
		}
		return ""
	}

	g, err := grid.Load(tm.Width, tm.Height, ground, collision, zoneOf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}
	p.Grid = g.WithTileSize(tileSize)

	for _, obj := range objects {
		switch obj.Type {
		case "spawn":
			tile := p.Grid.WorldToTile(types.Point{X: obj.X, Y: obj.Y})
			p.Spawn = &tile
		case "npc":
			p.Objects = append(p.Objects, objectEntity(obj, types.EntityKindNPC, "npc_"))
		default:
			p.Objects = append(p.Objects, objectEntity(obj, types.EntityKindObject, "obj_"))
		}
	}
	return nil
}

// objectEntity converts one Tiled object into a facility/npc entity. The
// "affordances" property is a comma-separated action list; properties
// prefixed "state." seed the entity's mutable state.
func objectEntity(obj tiledObject, kind types.EntityKind, idPrefix string) *types.Entity {
	id := obj.Name
	if id == "" {
		id = fmt.Sprintf("%s%d", obj.Type, obj.ID)
	}
	if !strings.HasPrefix(id, idPrefix) {
		id = idPrefix + id
	}

	e := &types.Entity{
		ID:     types.EntityIDType(id),
		Kind:   kind,
		Name:   types.DisplayNameType(obj.Name),
		Pos:    types.Point{X: obj.X, Y: obj.Y},
		Status: types.StatusOnline,
		Facing: types.FacingDown,
	}
	for _, prop := range obj.Properties {
		val, ok := prop.Value.(string)
		if !ok {
			continue
		}
		switch {
		case prop.Name == "affordances":
			for _, a := range strings.Split(val, ",") {
				if a = strings.TrimSpace(a); a != "" {
					e.Affordances = append(e.Affordances, a)
				}
			}
		case strings.HasPrefix(prop.Name, "state."):
			if e.State == nil {
				e.State = make(map[string]string)
			}
			e.State[strings.TrimPrefix(prop.Name, "state.")] = val
		}
	}
	return e
}
