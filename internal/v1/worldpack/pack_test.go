package worldpack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultPackDir = "../../../assets/packs/default"

func TestLoad_DefaultPack(t *testing.T) {
	pack, err := Load(defaultPackDir)
	require.NoError(t, err)

	assert.Equal(t, "default", pack.Name)
	assert.Equal(t, "plaza", pack.EntryZone)
	require.NotNil(t, pack.Grid)
	assert.Equal(t, 40, pack.Grid.Width())
	assert.Equal(t, 40, pack.Grid.Height())
	assert.Equal(t, float64(32), pack.Grid.TileSize())

	// Border walls block, interior is passable.
	assert.True(t, pack.Grid.IsBlocked(0, 0))
	assert.False(t, pack.Grid.IsBlocked(20, 20))

	require.NotNil(t, pack.Spawn)
	assert.False(t, pack.Grid.IsBlocked(pack.Spawn.TX, pack.Spawn.TY))

	zoneIDs := make(map[string]bool)
	for _, z := range pack.Zones {
		zoneIDs[z.ID] = true
	}
	for _, want := range []string{"plaza", "north-block", "lobby", "office", "meeting-a", "meeting-b"} {
		assert.True(t, zoneIDs[want], "manifest should declare zone %s", want)
	}

	require.NotEmpty(t, pack.Skills)
	var hasHaste bool
	for _, s := range pack.Skills {
		if s.ID == "haste" {
			hasHaste = true
			require.Len(t, s.Actions, 1)
			require.NotNil(t, s.Actions[0].Effect)
			assert.InDelta(t, 1.5, s.Actions[0].Effect.SpeedMultiplier, 0.001)
		}
	}
	assert.True(t, hasHaste)
}

func TestLoad_ObjectsCarryAffordancesAndState(t *testing.T) {
	pack, err := Load(defaultPackDir)
	require.NoError(t, err)

	byID := make(map[string]bool)
	for _, obj := range pack.Objects {
		byID[string(obj.ID)] = true
		if string(obj.ID) == "obj_sign-welcome" {
			assert.Contains(t, obj.Affordances, "read")
			assert.Equal(t, "Welcome to the plaza", obj.State["text"])
		}
		if string(obj.ID) == "npc_greeter" {
			assert.Equal(t, "npc", string(obj.Kind))
		}
	}
	assert.True(t, byID["obj_sign-welcome"])
	assert.True(t, byID["obj_chest-plaza"])
	assert.True(t, byID["npc_greeter"])
}

func writePack(t *testing.T, manifest map[string]any, tilemaps map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644))
	for name, tm := range tilemaps {
		raw, err := json.Marshal(tm)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
	}
	return dir
}

func TestLoad_MissingManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_EntryZoneNotDeclared(t *testing.T) {
	dir := writePack(t, map[string]any{
		"name": "broken", "version": "1", "entryZone": "nowhere",
		"zones": []any{},
	}, nil)
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrInvalidPack)
}

func TestLoad_TilemapMissingCollisionLayer(t *testing.T) {
	dir := writePack(t, map[string]any{
		"name": "broken", "version": "1", "entryZone": "z",
		"zones": []any{map[string]any{
			"id": "z", "file": "z.json",
			"bounds": map[string]any{"minX": 0, "minY": 0, "maxX": 64, "maxY": 64},
		}},
	}, map[string]any{
		"z.json": map[string]any{
			"width": 2, "height": 2, "tilewidth": 32, "tileheight": 32,
			"layers": []any{
				map[string]any{"name": "ground", "type": "tilelayer", "data": []int{1, 1, 1, 1}},
			},
		},
	})
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrInvalidPack)
}

func TestLoad_BadCollisionValues(t *testing.T) {
	dir := writePack(t, map[string]any{
		"name": "broken", "version": "1", "entryZone": "z",
		"zones": []any{map[string]any{
			"id": "z", "file": "z.json",
			"bounds": map[string]any{"minX": 0, "minY": 0, "maxX": 64, "maxY": 64},
		}},
	}, map[string]any{
		"z.json": map[string]any{
			"width": 2, "height": 2, "tilewidth": 32, "tileheight": 32,
			"layers": []any{
				map[string]any{"name": "ground", "type": "tilelayer", "data": []int{1, 1, 1, 1}},
				map[string]any{"name": "collision", "type": "tilelayer", "data": []int{0, 1, 2, 0}},
			},
		},
	})
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrInvalidPack)
}

func TestLoad_ZoneStampedOnTiles(t *testing.T) {
	pack, err := Load(defaultPackDir)
	require.NoError(t, err)

	// (1024,1024) is plaza; (960,400) is north-block.
	tile, ok := pack.Grid.TileAt(32, 32)
	require.True(t, ok)
	assert.Equal(t, "plaza", tile.ZoneID)

	tile, ok = pack.Grid.TileAt(30, 12)
	require.True(t, ok)
	assert.Equal(t, "north-block", tile.ZoneID)
}
