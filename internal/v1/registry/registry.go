// Package registry implements the Room Registry: the process-wide map from
// channel id to its Room Runtime, channel listing, and auto-creation of new
// channels on join when no matching room exists yet.
package registry

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/grid"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/safety"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/skill"
	"go.uber.org/zap"
)

// DefaultMaxOccupancy is the per-room entity cap applied when a channel is
// created without an explicit override.
const DefaultMaxOccupancy = 64

// ErrChannelFull is returned by JoinOrCreate when a named channel exists and
// is already at its occupancy cap.
var ErrChannelFull = fmt.Errorf("channel is full")

// WorldPack supplies the shared tile map and skill catalogue new rooms are
// built from. One pack typically backs every channel in a deployment.
type WorldPack struct {
	Grid         *grid.Grid
	Skills       []skill.Definition
	RuntimeCfg   room.Config
	MaxOccupancy int
}

type entry struct {
	runtime  *room.Runtime
	cancel   context.CancelFunc
	capacity int
}

// Registry owns every live room in the process and the world pack new rooms
// are created from.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*entry
	pack     WorldPack
	nextAuto int
}

// New builds an empty registry over the given world pack. The Safety
// Registry is process-wide: if the pack's runtime config doesn't already
// carry one, a single shared instance is created here so a block or mute
// made in one channel holds in every channel.
func New(pack WorldPack) *Registry {
	if pack.MaxOccupancy <= 0 {
		pack.MaxOccupancy = DefaultMaxOccupancy
	}
	if pack.RuntimeCfg.Safety == nil {
		pack.RuntimeCfg.Safety = safety.New()
	}
	return &Registry{rooms: make(map[string]*entry), pack: pack}
}

// ListChannels returns every live channel id and its current occupancy.
func (reg *Registry) ListChannels() map[string]int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make(map[string]int, len(reg.rooms))
	for id, e := range reg.rooms {
		out[id] = e.runtime.EntityCount()
	}
	return out
}

// Get returns the runtime for an existing channel.
func (reg *Registry) Get(channelID string) (*room.Runtime, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.rooms[channelID]
	if !ok {
		return nil, false
	}
	return e.runtime, true
}

// JoinOrCreate returns the runtime for channelID, creating and starting it
// if it does not yet exist. An empty channelID attaches to the first
// non-full room (lowest channel id first) or, when every room is full,
// auto-generates the next "channel-N" id. It returns ErrChannelFull if a
// named channel exists and is already at capacity.
func (reg *Registry) JoinOrCreate(channelID string) (*room.Runtime, string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if channelID == "" {
		ids := make([]string, 0, len(reg.rooms))
		for id := range reg.rooms {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			e := reg.rooms[id]
			if e.runtime.EntityCount() < e.capacity {
				return e.runtime, id, nil
			}
		}
		reg.nextAuto++
		channelID = fmt.Sprintf("channel-%d", reg.nextAuto)
	}

	if e, ok := reg.rooms[channelID]; ok {
		if e.runtime.EntityCount() >= e.capacity {
			return nil, channelID, ErrChannelFull
		}
		return e.runtime, channelID, nil
	}

	rt := room.New(channelID, reg.pack.Grid, reg.pack.RuntimeCfg)
	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	// Run marks the runtime running as its first step; wait for it so a
	// Submit made right after this returns is not rejected.
	for !rt.IsRunning() {
		runtime.Gosched()
	}

	reg.rooms[channelID] = &entry{runtime: rt, cancel: cancel, capacity: reg.pack.MaxOccupancy}
	metrics.ActiveRooms.Inc()
	logging.Info(ctx, "created room", zap.String("channelId", channelID))
	return rt, channelID, nil
}

// Remove stops and discards a channel's room.
func (reg *Registry) Remove(channelID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.rooms[channelID]
	if !ok {
		return
	}
	e.cancel()
	e.runtime.Stop()
	delete(reg.rooms, channelID)
	metrics.ActiveRooms.Dec()
}

// Shutdown stops every room in the registry.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	reg.mu.Unlock()

	for _, id := range ids {
		reg.Remove(id)
	}
}

// Check implements health.RegistryChecker: the registry is healthy whenever
// its world pack grid has been loaded, independent of how many rooms are
// currently live.
func (reg *Registry) Check(ctx context.Context) (status string, roomCount int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.pack.Grid == nil {
		return "unhealthy: no world pack loaded", len(reg.rooms)
	}
	return "healthy", len(reg.rooms)
}
