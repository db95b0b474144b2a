// Package room implements the Room Runtime: the single-writer, fixed-tick
// authoritative simulation for one channel. Every entity mutation, chat
// delivery, skill cast, and zone transition for a room passes through its
// one tick goroutine; callers interact only by submitting intents and
// reading the room's published snapshots and diffs.
package room

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/chat"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/eventlog"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/grid"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/safety"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/skill"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/zone"
	"go.uber.org/zap"
)

// DefaultIntentQueueCapacity bounds the number of pending intents a room
// will buffer before rejecting new submissions with ErrRoomNotReady.
const DefaultIntentQueueCapacity = 4096

// defaultBaseSpeed is the base movement speed, in world units per second,
// every entity spawns with. Effective speed is base times the product of
// any active effect multipliers.
const defaultBaseSpeed = 120

// IntentKind is the closed set of mutations an agent (or human) may submit
// to a room.
type IntentKind string

const (
	IntentJoin          IntentKind = "join"
	IntentLeave         IntentKind = "leave"
	IntentMoveTo        IntentKind = "moveTo"
	IntentInteract      IntentKind = "interact"
	IntentChatSend      IntentKind = "chatSend"
	IntentProfileUpdate IntentKind = "profileUpdate"
	IntentSkillInstall  IntentKind = "skill.install"
	IntentSkillInvoke   IntentKind = "skill.invoke"
	IntentSkillCancel   IntentKind = "skill.cancel"
)

// Intent is one request queued for the room's tick loop to apply. Result, if
// non-nil, receives exactly one Result before the loop moves to the next
// intent; callers awaiting a synchronous AIC response block on it.
type Intent struct {
	Kind     IntentKind
	AgentID  string
	EntityID string
	Payload  map[string]any
	Result   chan Result
}

// Result is the synchronous outcome of applying one Intent. Action-level
// rejections (a blocked destination, a target out of range) travel in Data
// as an outcome, not in Err; Err is reserved for structural failures.
type Result struct {
	Data any
	Err  *types.APIError
}

func reply(intent Intent, data any, err *types.APIError) {
	if intent.Result == nil {
		return
	}
	select {
	case intent.Result <- Result{Data: data, Err: err}:
	default:
	}
}

// Diff is the per-tick world delta published to the realtime transport.
type Diff struct {
	Tick    uint64          `json:"tick"`
	Added   []*types.Entity `json:"added,omitempty"`
	Removed []string        `json:"removed,omitempty"`
	Changed []ChangedEntity `json:"changed,omitempty"`
}

// ChangedEntity carries a patch for one entity that moved or otherwise
// changed observable state this tick.
type ChangedEntity struct {
	ID    string        `json:"id"`
	Patch *types.Entity `json:"patch"`
}

// moveOrder tracks an in-flight walk toward a destination tile. The runtime
// advances one step per tick along a precomputed path.
type moveOrder struct {
	path []types.TileCoord
	next int
}

// Runtime is the authoritative simulation for one room. Exactly one
// goroutine (Run) ever mutates entities, chat, skills, or zones; all other
// access goes through Submit or the read-only snapshot/diff accessors.
type Runtime struct {
	RoomID string

	grid   *grid.Grid
	events *eventlog.Log
	chat   *chat.Store
	safety *safety.Registry
	zones  *zone.Tracker
	skills *skill.Engine
	roster *roster

	tickRate         time.Duration
	proximityRadius  float64
	interactionRange float64
	spawnPoint       *types.TileCoord

	staleAgents  func(roomID string, nowMs int64) []string
	evictSession func(agentID string)

	intents chan Intent
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu        sync.RWMutex
	entities  map[string]*types.Entity
	moves     map[string]*moveOrder
	proximity map[pairKey]bool
	prev      map[string]*types.Entity
	tick      uint64

	lastDiff atomic.Value // Diff
}

type pairKey struct{ a, b string }

func makePairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Config collects the runtime-tuning knobs a Runtime needs at construction.
type Config struct {
	TickRate         time.Duration
	ProximityRadius  float64
	InteractionRange float64
	IntentQueueSize  int
	EventLogCapacity int
	EventLogTTL      time.Duration
	ChatCapacity     int
	Skills           []skill.Definition

	// SpawnPoint, when set and passable, is where new entities appear;
	// otherwise the first passable tile in row-major scan order is used.
	SpawnPoint *types.TileCoord

	// Zones registers the pack manifest's named rectangles with the room's
	// zone tracker.
	Zones []zone.NamedBounds

	// Objects are the room's initial facility entities (signs, chests,
	// doors), placed before the first tick.
	Objects []*types.Entity

	// Safety is the process-wide block/mute/report registry shared by
	// every room, so a block made in one channel holds in all of them.
	// A nil Safety gets a private registry (tests).
	Safety *safety.Registry

	// StaleAgents, when set, is polled each tick with the room id and
	// current wall time and returns the agent ids in that room whose
	// sessions have exceeded the heartbeat timeout; each is force-removed
	// with reason "timeout". EvictSession, when set, tears down the
	// session record after the entity is removed.
	StaleAgents  func(roomID string, nowMs int64) []string
	EvictSession func(agentID string)
}

// New builds a Runtime over a fixed grid. The returned Runtime is idle until
// Run is called.
func New(roomID string, g *grid.Grid, cfg Config) *Runtime {
	queueSize := cfg.IntentQueueSize
	if queueSize <= 0 {
		queueSize = DefaultIntentQueueCapacity
	}
	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = 100 * time.Millisecond
	}

	safetyRegistry := cfg.Safety
	if safetyRegistry == nil {
		safetyRegistry = safety.New()
	}
	r := &Runtime{
		RoomID:           roomID,
		grid:             g,
		events:           eventlog.New(cfg.EventLogCapacity, cfg.EventLogTTL),
		safety:           safetyRegistry,
		zones:            zone.New(),
		skills:           skill.New(cfg.Skills),
		tickRate:         tickRate,
		proximityRadius:  cfg.ProximityRadius,
		interactionRange: cfg.InteractionRange,
		spawnPoint:       cfg.SpawnPoint,
		staleAgents:      cfg.StaleAgents,
		evictSession:     cfg.EvictSession,
		intents:          make(chan Intent, queueSize),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		entities:         make(map[string]*types.Entity),
		moves:            make(map[string]*moveOrder),
		proximity:        make(map[pairKey]bool),
		prev:             make(map[string]*types.Entity),
	}
	r.roster = newRoster()
	r.chat = chat.New(cfg.ChatCapacity, safetyRegistry, r.roster)
	r.lastDiff.Store(Diff{})

	for _, obj := range cfg.Objects {
		placed := obj.Clone()
		placed.RoomID = types.RoomIDType(roomID)
		placed.Tile = g.WorldToTile(placed.Pos)
		r.entities[string(placed.ID)] = placed
	}
	for _, z := range cfg.Zones {
		r.zones.AddZone(z.ID, z.Bounds)
	}
	return r
}

// roster tracks which agents belong to which teams and which have joined
// which meeting rooms. Team membership is assigned when an agent joins the
// room (or later via JoinTeam); meeting participation is always explicit.
type roster struct {
	mu       sync.Mutex
	teams    map[string]map[string]bool
	meetings map[string]map[string]bool
}

func newRoster() *roster {
	return &roster{
		teams:    make(map[string]map[string]bool),
		meetings: make(map[string]map[string]bool),
	}
}

func (m *roster) IsTeamMember(agentID, teamID string) bool {
	if teamID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teams[teamID][agentID]
}

func (m *roster) IsMeetingParticipant(agentID, meetingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetings[meetingID][agentID]
}

func (m *roster) joinGroup(groups map[string]map[string]bool, groupID, agentID string) {
	if groups[groupID] == nil {
		groups[groupID] = make(map[string]bool)
	}
	groups[groupID][agentID] = true
}

// JoinTeam adds agentID to teamID's membership.
func (m *roster) JoinTeam(teamID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinGroup(m.teams, teamID, agentID)
}

// LeaveTeam removes agentID from teamID's membership.
func (m *roster) LeaveTeam(teamID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.teams[teamID], agentID)
}

// JoinMeeting adds agentID to meetingID's roster.
func (m *roster) JoinMeeting(meetingID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinGroup(m.meetings, meetingID, agentID)
}

// LeaveMeeting removes agentID from meetingID's roster.
func (m *roster) LeaveMeeting(meetingID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.meetings[meetingID], agentID)
}

// RemoveAll drops agentID from every team and meeting, for entity removal.
func (m *roster) RemoveAll(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, members := range m.teams {
		delete(members, agentID)
	}
	for _, participants := range m.meetings {
		delete(participants, agentID)
	}
}

// ListMeetings returns every meeting id with at least one participant, and
// that meeting's current participant count.
func (m *roster) ListMeetings() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.meetings))
	for id, participants := range m.meetings {
		out[id] = len(participants)
	}
	return out
}

// Submit enqueues an intent for the next tick. It returns ErrRoomNotReady
// (via the returned APIError) if the room's queue is full or the tick loop
// is not running (not yet started, or stopped).
func (r *Runtime) Submit(intent Intent) *types.APIError {
	if !r.running.Load() {
		return types.NewAPIError(types.ErrRoomNotReady, "room is not running")
	}
	select {
	case r.intents <- intent:
		return nil
	default:
		return types.NewAPIError(types.ErrRoomNotReady, "room intent queue is full")
	}
}

// Run drives the fixed-rate tick loop until ctx is cancelled or Stop is
// called. It is meant to run in its own goroutine; Runtime owns no other
// goroutines.
func (r *Runtime) Run(ctx context.Context) {
	r.running.Store(true)
	defer func() {
		r.running.Store(false)
		close(r.doneCh)
	}()

	ticker := time.NewTicker(r.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.runTick(now)
		}
	}
}

// Stop signals the tick loop to exit and waits for it to finish.
func (r *Runtime) Stop() {
	if !r.running.Load() {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

// IsRunning reports whether the tick loop is active.
func (r *Runtime) IsRunning() bool { return r.running.Load() }

func (r *Runtime) runTick(now time.Time) {
	start := time.Now()
	r.mu.Lock()
	r.tick++
	tick := r.tick
	r.mu.Unlock()

	r.drainIntents(now)
	r.advanceMoves()
	r.updateZones()
	r.updateProximity()
	r.skillTick(now)
	r.sweepTimeouts(now)
	r.publishDiff(tick)

	elapsed := time.Since(start)
	metrics.TickDuration.WithLabelValues(r.RoomID).Observe(elapsed.Seconds())
	if elapsed > r.tickRate {
		metrics.TickOverruns.WithLabelValues(r.RoomID).Inc()
	}
}

// drainIntents processes every intent currently queued, recovering from a
// panic in any single intent so the tick loop itself never dies.
func (r *Runtime) drainIntents(now time.Time) {
	for {
		select {
		case intent := <-r.intents:
			r.applyIntent(intent, now)
			metrics.IntentsProcessed.WithLabelValues(string(intent.Kind), "applied").Inc()
		default:
			return
		}
	}
}

func (r *Runtime) applyIntent(intent Intent, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(context.Background(), "recovered panic applying intent",
				zap.String("room", r.RoomID), zap.String("kind", string(intent.Kind)), zap.Any("panic", rec))
			reply(intent, nil, types.NewAPIError(types.ErrInternal, "internal error applying intent"))
		}
	}()

	switch intent.Kind {
	case IntentJoin:
		r.applyJoin(intent)
	case IntentLeave:
		r.applyLeave(intent)
	case IntentMoveTo:
		r.applyMoveTo(intent)
	case IntentInteract:
		r.applyInteract(intent)
	case IntentChatSend:
		r.applyChatSend(intent)
	case IntentProfileUpdate:
		r.applyProfileUpdate(intent)
	case IntentSkillInstall:
		r.applySkillInstall(intent)
	case IntentSkillInvoke:
		r.applySkillInvoke(intent, now)
	case IntentSkillCancel:
		r.applySkillCancel(intent)
	default:
		reply(intent, nil, types.NewAPIError(types.ErrBadRequest, fmt.Sprintf("unknown intent kind %q", intent.Kind)))
	}
}

// spawnTileLocked picks where a newly joined entity appears: the configured
// spawn point when it is passable, otherwise the first passable tile in
// row-major scan order. Must be called with mu held.
func (r *Runtime) spawnTileLocked() (types.TileCoord, bool) {
	if sp := r.spawnPoint; sp != nil && !r.grid.IsBlocked(sp.TX, sp.TY) {
		return *sp, true
	}
	for ty := 0; ty < r.grid.Height(); ty++ {
		for tx := 0; tx < r.grid.Width(); tx++ {
			if !r.grid.IsBlocked(tx, ty) {
				return types.TileCoord{TX: tx, TY: ty}, true
			}
		}
	}
	return types.TileCoord{}, false
}

func (r *Runtime) applyJoin(intent Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.entities[intent.EntityID]; exists {
		reply(intent, existing.Clone(), nil)
		return
	}

	kind, _ := intent.Payload["kind"].(string)
	name, _ := intent.Payload["name"].(string)
	if kind == "" {
		kind = string(types.EntityKindAgent)
	}

	spawn, ok := r.spawnTileLocked()
	if !ok {
		reply(intent, nil, types.NewAPIError(types.ErrRoomNotReady, "no passable spawn tile in map"))
		return
	}

	e := &types.Entity{
		ID:     types.EntityIDType(intent.EntityID),
		Kind:   types.EntityKind(kind),
		Name:   types.DisplayNameType(name),
		RoomID: types.RoomIDType(r.RoomID),
		Pos:    r.grid.TileCenter(spawn),
		Tile:   spawn,
		Speed:  defaultBaseSpeed,
		Status: types.StatusOnline,
		Facing: types.FacingDown,
	}
	if teamID, _ := intent.Payload["teamId"].(string); teamID != "" {
		r.roster.JoinTeam(teamID, intent.EntityID)
		e.Meta = map[string]string{"team": teamID}
	}
	r.entities[intent.EntityID] = e
	metrics.RoomEntities.WithLabelValues(r.RoomID).Set(float64(len(r.entities)))

	r.events.Append(r.RoomID, "presence.join", map[string]any{"entityId": intent.EntityID, "kind": kind, "name": name})
	reply(intent, e.Clone(), nil)
}

// removeEntity tears down one entity: zone population, move order, skill
// state, and the presence.leave event carrying the removal reason.
func (r *Runtime) removeEntity(entityID, reason string) {
	r.mu.Lock()
	delete(r.entities, entityID)
	delete(r.moves, entityID)
	count := len(r.entities)
	r.mu.Unlock()

	metrics.RoomEntities.WithLabelValues(r.RoomID).Set(float64(count))
	r.roster.RemoveAll(entityID)
	r.skills.ClearEntity(entityID)
	for _, t := range r.zones.Remove(entityID) {
		r.events.Append(r.RoomID, string(t.Kind), map[string]any{"entityId": t.EntityID, "zoneId": t.ZoneID})
	}
	r.events.Append(r.RoomID, "presence.leave", map[string]any{"entityId": entityID, "reason": reason})
}

func (r *Runtime) applyLeave(intent Intent) {
	r.mu.RLock()
	_, exists := r.entities[intent.EntityID]
	r.mu.RUnlock()
	if !exists {
		reply(intent, nil, types.NewAPIError(types.ErrAgentNotInRoom, "entity is not in this room"))
		return
	}

	reason, _ := intent.Payload["reason"].(string)
	if reason == "" {
		reason = "leave"
	}
	r.removeEntity(intent.EntityID, reason)
	reply(intent, nil, nil)
}

// MoveOutcome is the action-level result of a moveTo intent.
type MoveOutcome struct {
	Result string            `json:"result"` // accepted | rejected | no_op
	Reason string            `json:"reason,omitempty"`
	Path   []types.TileCoord `json:"path,omitempty"`
}

func (r *Runtime) applyMoveTo(intent Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[intent.EntityID]
	if !ok {
		reply(intent, nil, types.NewAPIError(types.ErrAgentNotInRoom, "entity is not in this room"))
		return
	}

	dest := types.TileCoord{TX: asInt(intent.Payload["tx"]), TY: asInt(intent.Payload["ty"])}

	if e.Tile == dest {
		delete(r.moves, intent.EntityID)
		reply(intent, MoveOutcome{Result: "no_op"}, nil)
		return
	}
	if !r.grid.InBounds(dest.TX, dest.TY) {
		reply(intent, MoveOutcome{Result: "rejected", Reason: "out_of_bounds"}, nil)
		return
	}
	if r.grid.IsBlocked(dest.TX, dest.TY) {
		reply(intent, MoveOutcome{Result: "rejected", Reason: "blocked"}, nil)
		return
	}

	path, ok := r.grid.FindPath(e.Tile, dest)
	if !ok {
		reply(intent, MoveOutcome{Result: "rejected", Reason: "no_path"}, nil)
		return
	}

	// A new moveTo supersedes any in-flight plan.
	r.moves[intent.EntityID] = &moveOrder{path: path, next: 1}
	reply(intent, MoveOutcome{Result: "accepted", Path: path}, nil)
}

// InteractOutcome is the action-level result of an interact intent.
type InteractOutcome struct {
	Result string            `json:"result"` // applied | too_far | invalid_action
	State  map[string]string `json:"state,omitempty"`
}

func (r *Runtime) applyInteract(intent Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	actor, actorOK := r.entities[intent.EntityID]
	targetID, _ := intent.Payload["targetId"].(string)
	target, targetOK := r.entities[targetID]

	if !actorOK {
		reply(intent, nil, types.NewAPIError(types.ErrAgentNotInRoom, "entity is not in this room"))
		return
	}
	if !targetOK {
		reply(intent, nil, types.NewAPIError(types.ErrNotFound, "interaction target not found"))
		return
	}
	if distance(actor.Pos, target.Pos) > r.interactionRange {
		reply(intent, InteractOutcome{Result: "too_far"}, nil)
		return
	}

	action, _ := intent.Payload["action"].(string)
	if !target.Advertises(action) {
		reply(intent, InteractOutcome{Result: "invalid_action"}, nil)
		return
	}

	// A facility action may mutate the target's state; the params' "state"
	// object is merged in and the change journaled as a minimal patch.
	patch := map[string]any{}
	if params, ok := intent.Payload["params"].(map[string]any); ok {
		if stateUpdate, ok := params["state"].(map[string]any); ok {
			if target.State == nil {
				target.State = make(map[string]string)
			}
			for k, v := range stateUpdate {
				if s, ok := v.(string); ok {
					target.State[k] = s
					patch[k] = s
				}
			}
		}
	}

	if len(patch) > 0 {
		changeEvent := "object.state_changed"
		if target.Kind == types.EntityKindNPC {
			changeEvent = "npc.state_change"
		}
		r.events.Append(r.RoomID, changeEvent, map[string]any{
			"entityId": targetID, "patch": patch,
		})
	}
	r.events.Append(r.RoomID, "facility.interacted", map[string]any{
		"entityId": intent.EntityID, "targetId": targetID, "action": action,
	})
	reply(intent, InteractOutcome{Result: "applied", State: target.Clone().State}, nil)
}

func (r *Runtime) applyChatSend(intent Intent) {
	channel, _ := intent.Payload["channel"].(string)
	teamID, _ := intent.Payload["teamId"].(string)
	meetingID, _ := intent.Payload["meetingId"].(string)
	targetID, _ := intent.Payload["targetId"].(string)
	text, _ := intent.Payload["text"].(string)

	msg, err := r.chat.SendMessage(intent.AgentID, chat.Channel(channel), teamID, meetingID, targetID, text)
	if err != nil {
		reply(intent, nil, types.NewAPIError(types.ErrBadRequest, err.Error()))
		return
	}

	metrics.ChatMessages.WithLabelValues(channel).Inc()
	r.events.Append(r.RoomID, "chat.message", map[string]any{
		"id": msg.ID, "senderId": msg.SenderID, "channel": string(msg.Channel), "text": msg.Text,
	})
	if len(msg.Emotes) > 0 {
		r.events.Append(r.RoomID, "emote.triggered", map[string]any{
			"entityId": intent.EntityID, "emotes": msg.Emotes,
		})
	}
	reply(intent, msg, nil)
}

func (r *Runtime) applyProfileUpdate(intent Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[intent.EntityID]
	if !ok {
		reply(intent, nil, types.NewAPIError(types.ErrAgentNotInRoom, "entity is not in this room"))
		return
	}
	if name, ok := intent.Payload["name"].(string); ok && name != "" {
		e.Name = types.DisplayNameType(name)
	}
	if status, ok := intent.Payload["status"].(string); ok && status != "" {
		e.Status = types.PresenceStatus(status)
	}
	for _, key := range []string{"title", "department"} {
		if v, ok := intent.Payload[key].(string); ok && v != "" {
			if e.Meta == nil {
				e.Meta = make(map[string]string)
			}
			e.Meta[key] = v
		}
	}
	r.events.Append(r.RoomID, "profile.updated", map[string]any{"entityId": intent.EntityID})
	reply(intent, e.Clone(), nil)
}

func (r *Runtime) applySkillInstall(intent Intent) {
	skillID, _ := intent.Payload["skillId"].(string)
	already, err := r.skills.Install(intent.AgentID, skillID)
	if err != nil {
		reply(intent, nil, types.NewAPIError(types.ErrNotFound, err.Error()))
		return
	}
	metrics.SkillInvocations.WithLabelValues(skillID, "install").Inc()
	reply(intent, map[string]any{"alreadyInstalled": already}, nil)
}

// SkillOutcome is the action-level result of a skill.invoke intent.
type SkillOutcome struct {
	Outcome          string `json:"outcome"` // pending | rejected
	Reason           string `json:"reason,omitempty"`
	CompletionTimeMs int64  `json:"completionTimeMs,omitempty"`
}

func (r *Runtime) applySkillInvoke(intent Intent, now time.Time) {
	skillID, _ := intent.Payload["skillId"].(string)
	actionID, _ := intent.Payload["actionId"].(string)
	targetID, _ := intent.Payload["targetId"].(string)
	txID, _ := intent.Payload["txId"].(string)

	r.mu.RLock()
	actor, actorOK := r.entities[intent.EntityID]
	var dist float64
	var startPos types.Point
	if actorOK {
		startPos = actor.Pos
		if target, ok := r.entities[targetID]; ok {
			dist = distance(actor.Pos, target.Pos)
		}
	}
	r.mu.RUnlock()
	if !actorOK {
		reply(intent, nil, types.NewAPIError(types.ErrAgentNotInRoom, "entity is not in this room"))
		return
	}

	completesAt, err := r.skills.Invoke(intent.AgentID, skillID, actionID, targetID, txID, dist, startPos, now)
	if err != nil {
		switch {
		case err == skill.ErrUnknownSkill:
			reply(intent, nil, types.NewAPIError(types.ErrNotFound, err.Error()))
		case err == skill.ErrActionNotInstalled:
			reply(intent, SkillOutcome{Outcome: "rejected", Reason: "not_installed"}, nil)
		case err == skill.ErrOnCooldown:
			reply(intent, SkillOutcome{Outcome: "rejected", Reason: "on_cooldown"}, nil)
		case err == skill.ErrOutOfRange:
			reply(intent, SkillOutcome{Outcome: "rejected", Reason: "out_of_range"}, nil)
		case err == skill.ErrAlreadyCasting:
			reply(intent, SkillOutcome{Outcome: "rejected", Reason: "already_casting"}, nil)
		default:
			reply(intent, nil, types.NewAPIError(types.ErrBadRequest, err.Error()))
		}
		return
	}

	metrics.SkillInvocations.WithLabelValues(skillID, "invoke").Inc()
	r.events.Append(r.RoomID, "skill.cast_started", map[string]any{
		"agentId": intent.AgentID, "skillId": skillID, "actionId": actionID, "targetId": targetID,
	})
	reply(intent, SkillOutcome{Outcome: "pending", CompletionTimeMs: completesAt.UnixMilli()}, nil)
}

func (r *Runtime) applySkillCancel(intent Intent) {
	if err := r.skills.Cancel(intent.AgentID); err != nil {
		reply(intent, nil, types.NewAPIError(types.ErrBadRequest, err.Error()))
		return
	}
	r.events.Append(r.RoomID, "skill.cast_cancelled", map[string]any{
		"agentId": intent.AgentID, "reason": "user",
	})
	reply(intent, nil, nil)
}

// advanceMoves steps every in-flight move order one tile toward its
// destination. A step is skipped (retried next tick) while its tile is
// occupied by a non-object entity; a step that fails passability outright
// abandons the remaining plan.
func (r *Runtime) advanceMoves() {
	r.mu.Lock()
	defer r.mu.Unlock()

	occupied := make(map[types.TileCoord]string, len(r.entities))
	for id, e := range r.entities {
		if e.Kind != types.EntityKindObject {
			occupied[e.Tile] = id
		}
	}

	for entityID, mv := range r.moves {
		e, ok := r.entities[entityID]
		if !ok {
			delete(r.moves, entityID)
			continue
		}
		if mv.next >= len(mv.path) {
			delete(r.moves, entityID)
			continue
		}
		next := mv.path[mv.next]
		if !r.grid.CanMoveTo(e.Tile, next) {
			logging.Debug(context.Background(), "move blocked, abandoning plan",
				zap.String("room", r.RoomID), zap.String("entityId", entityID))
			delete(r.moves, entityID)
			continue
		}
		if holder, taken := occupied[next]; taken && holder != entityID {
			continue
		}

		delete(occupied, e.Tile)
		occupied[next] = entityID
		e.Tile = next
		e.Pos = r.grid.TileCenter(next)
		e.Facing = facingFor(mv.path[mv.next-1], next)
		mv.next++
		if mv.next >= len(mv.path) {
			delete(r.moves, entityID)
		}
	}
}

// asInt tolerates the float64 numbers JSON decoding produces for websocket
// clients alongside the native ints the AIC handlers pass through.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func facingFor(from, to types.TileCoord) types.Facing {
	switch {
	case to.TY < from.TY:
		return types.FacingUp
	case to.TY > from.TY:
		return types.FacingDown
	case to.TX < from.TX:
		return types.FacingLeft
	default:
		return types.FacingRight
	}
}

func (r *Runtime) updateZones() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entities {
		transitions := r.zones.Update(id, e.Pos.X, e.Pos.Y)
		if len(transitions) == 0 {
			continue
		}
		for _, t := range transitions {
			payload := map[string]any{"entityId": t.EntityID, "zoneId": t.ZoneID}
			switch t.Kind {
			case zone.TransitionExit:
				if t.OtherZoneID != "" {
					payload["nextZoneId"] = t.OtherZoneID
				}
			case zone.TransitionEnter:
				if t.OtherZoneID != "" {
					payload["previousZoneId"] = t.OtherZoneID
				}
			}
			r.events.Append(r.RoomID, string(t.Kind), payload)
		}
		e.CurrentZone = r.zones.Current(id)
	}
}

func distance(a, b types.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// updateProximity emits proximity.enter/proximity.exit as entity pairs cross
// the configured radius, without repeating an event for a pair that is
// already known to be within (or beyond) range.
func (r *Runtime) updateProximity() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proximityRadius <= 0 {
		return
	}

	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}

	seen := make(map[pairKey]bool, len(r.proximity))
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			key := makePairKey(a, b)
			within := distance(r.entities[a].Pos, r.entities[b].Pos) <= r.proximityRadius
			seen[key] = within

			was := r.proximity[key]
			if within && !was {
				r.events.Append(r.RoomID, "proximity.enter", map[string]any{"entityId": a, "otherId": b})
			} else if !within && was {
				r.events.Append(r.RoomID, "proximity.exit", map[string]any{"entityId": a, "otherId": b})
			}
		}
	}
	r.proximity = seen
}

// skillTick completes due casts, cancels casts whose caster moved, expires
// effects, and keeps each affected entity's effective speed in sync with
// its live multipliers.
func (r *Runtime) skillTick(now time.Time) {
	posOf := func(entityID string) (types.Point, bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		e, ok := r.entities[entityID]
		if !ok {
			return types.Point{}, false
		}
		return e.Pos, true
	}

	result := r.skills.Tick(now, posOf)

	for _, c := range result.Cancellations {
		r.events.Append(r.RoomID, "skill.cast_cancelled", map[string]any{
			"agentId": c.AgentID, "skillId": c.SkillID, "actionId": c.ActionID, "reason": c.Reason,
		})
	}
	for _, c := range result.Completions {
		metrics.SkillInvocations.WithLabelValues(c.SkillID, "complete").Inc()
		if c.Applied != nil {
			targetID := c.TargetID
			if targetID == "" {
				targetID = c.AgentID
			}
			r.events.Append(r.RoomID, "effect.applied", map[string]any{
				"targetId": targetID, "effectId": c.Applied.EffectID, "effectType": c.Applied.EffectType,
				"expiresAtMs": c.Applied.ExpiresAt.UnixMilli(),
			})
			r.refreshSpeed(targetID)
		}
		r.events.Append(r.RoomID, "skill.cast_complete", map[string]any{
			"agentId": c.AgentID, "skillId": c.SkillID, "actionId": c.ActionID, "targetId": c.TargetID,
		})
	}
	for _, x := range result.Expirations {
		r.events.Append(r.RoomID, "effect.expired", map[string]any{
			"entityId": x.EntityID, "effectId": x.EffectID, "effectType": x.EffectType,
		})
		r.refreshSpeed(x.EntityID)
	}
}

func (r *Runtime) refreshSpeed(entityID string) {
	multiplier := r.skills.SpeedMultiplier(entityID)
	r.mu.Lock()
	if e, ok := r.entities[entityID]; ok {
		e.Speed = defaultBaseSpeed * multiplier
	}
	r.mu.Unlock()
}

// sweepTimeouts force-removes entities whose sessions have gone silent past
// the heartbeat timeout.
func (r *Runtime) sweepTimeouts(now time.Time) {
	if r.staleAgents == nil {
		return
	}
	for _, agentID := range r.staleAgents(r.RoomID, now.UnixMilli()) {
		r.mu.RLock()
		_, present := r.entities[agentID]
		r.mu.RUnlock()
		if !present {
			continue
		}
		r.removeEntity(agentID, "timeout")
		if r.evictSession != nil {
			r.evictSession(agentID)
		}
	}
}

// publishDiff compares this tick's entity map with the previous tick's and
// publishes additions, removals, and per-entity changes.
func (r *Runtime) publishDiff(tick uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	diff := Diff{Tick: tick}
	for id, e := range r.entities {
		old, existed := r.prev[id]
		if !existed {
			diff.Added = append(diff.Added, e.Clone())
			continue
		}
		if entityChanged(old, e) {
			diff.Changed = append(diff.Changed, ChangedEntity{ID: id, Patch: e.Clone()})
		}
	}
	for id := range r.prev {
		if _, still := r.entities[id]; !still {
			diff.Removed = append(diff.Removed, id)
		}
	}

	next := make(map[string]*types.Entity, len(r.entities))
	for id, e := range r.entities {
		next[id] = e.Clone()
	}
	r.prev = next
	r.lastDiff.Store(diff)
}

func entityChanged(a, b *types.Entity) bool {
	if a.Pos != b.Pos || a.Tile != b.Tile || a.Facing != b.Facing ||
		a.Status != b.Status || a.Name != b.Name || a.CurrentZone != b.CurrentZone ||
		a.Speed != b.Speed {
		return true
	}
	if len(a.State) != len(b.State) {
		return true
	}
	for k, v := range a.State {
		if b.State[k] != v {
			return true
		}
	}
	if len(a.Meta) != len(b.Meta) {
		return true
	}
	for k, v := range a.Meta {
		if b.Meta[k] != v {
			return true
		}
	}
	return false
}

// LastDiff returns the most recently published per-tick diff.
func (r *Runtime) LastDiff() Diff {
	return r.lastDiff.Load().(Diff)
}

// Snapshot returns a deep-enough copy of every entity currently in the room,
// for the observe/poll-style AIC endpoints and for a newly joined client's
// initial world state.
func (r *Runtime) Snapshot() []*types.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.Clone())
	}
	return out
}

// Entity returns a copy of one entity's state.
func (r *Runtime) Entity(entityID string) (*types.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// EntityCount returns how many entities currently occupy the room.
func (r *Runtime) EntityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Grid exposes the room's immutable tile map for observation payloads.
func (r *Runtime) Grid() *grid.Grid { return r.grid }

// Events exposes the room's event journal for the AIC poll-events endpoint.
func (r *Runtime) Events() *eventlog.Log { return r.events }

// Chat exposes the room's chat store for the AIC chat endpoints.
func (r *Runtime) Chat() *chat.Store { return r.chat }

// Safety exposes the room's safety registry for block/mute/report endpoints.
func (r *Runtime) Safety() *safety.Registry { return r.safety }

// Skills exposes the room's skill engine for the skill/list endpoint.
func (r *Runtime) Skills() *skill.Engine { return r.skills }

// Zones exposes the room's zone tracker for observation payloads.
func (r *Runtime) Zones() *zone.Tracker { return r.zones }

// JoinMeeting adds agentID to meetingID's roster so it may post to the
// meeting chat channel.
func (r *Runtime) JoinMeeting(meetingID, agentID string) { r.roster.JoinMeeting(meetingID, agentID) }

// LeaveMeeting removes agentID from meetingID's roster.
func (r *Runtime) LeaveMeeting(meetingID, agentID string) { r.roster.LeaveMeeting(meetingID, agentID) }

// ListMeetings returns every meeting id with at least one participant and
// its current participant count.
func (r *Runtime) ListMeetings() map[string]int { return r.roster.ListMeetings() }

// JoinTeam adds agentID to teamID's membership so it may post to that
// team's chat channel.
func (r *Runtime) JoinTeam(teamID, agentID string) { r.roster.JoinTeam(teamID, agentID) }

// LeaveTeam removes agentID from teamID's membership.
func (r *Runtime) LeaveTeam(teamID, agentID string) { r.roster.LeaveTeam(teamID, agentID) }

// IsTeamMember reports whether agentID belongs to teamID.
func (r *Runtime) IsTeamMember(agentID, teamID string) bool {
	return r.roster.IsTeamMember(agentID, teamID)
}
