// Package skill implements the Skill Engine: install/invoke/cancel of
// per-agent abilities with cast timers, per-action cooldowns, range checks,
// timed effects, and move-cancellation, driven by the room's tick loop.
package skill

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
)

var (
	// ErrUnknownSkill is returned for a skill id outside the catalogue.
	ErrUnknownSkill = errors.New("unknown skill")
	// ErrUnknownAction is returned for an action id the skill does not define.
	ErrUnknownAction = errors.New("unknown action")
	// ErrActionNotInstalled is returned by Invoke when the agent has not installed the skill.
	ErrActionNotInstalled = errors.New("skill not installed")
	// ErrOnCooldown is returned by Invoke while the action's cooldown has not elapsed.
	ErrOnCooldown = errors.New("action on cooldown")
	// ErrOutOfRange is returned by Invoke when the target exceeds the action's range.
	ErrOutOfRange = errors.New("target out of range")
	// ErrAlreadyCasting is returned by Invoke when the agent already has a pending cast.
	ErrAlreadyCasting = errors.New("agent already casting")
	// ErrNoPendingCast is returned by Cancel when there is nothing to cancel.
	ErrNoPendingCast = errors.New("no pending cast to cancel")
)

// moveEpsilon is how far (in world units) a caster may drift from its cast
// start position before the completing cast is cancelled as "moved". Tile
// centering never moves a stationary entity this far.
const moveEpsilon = 1.0

// Effect is the optional timed consequence an action applies to its target
// when the cast completes.
type Effect struct {
	Type            string        `json:"type"`
	SpeedMultiplier float64       `json:"speedMultiplier,omitempty"`
	Duration        time.Duration `json:"-"`
}

// Action is one invocable verb of a skill.
type Action struct {
	ID       string        `json:"id"`
	CastTime time.Duration `json:"-"`
	Cooldown time.Duration `json:"-"`
	Range    float64       `json:"rangeUnits"`
	Effect   *Effect       `json:"effect,omitempty"`
}

// Definition is a catalogue entry: the static parameters of one installable
// skill, shared across every agent that installs it.
type Definition struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Actions  []Action `json:"actions"`
}

// ActiveEffect is one running effect on a target entity.
type ActiveEffect struct {
	EffectID        string    `json:"effectId"`
	EffectType      string    `json:"effectType"`
	SpeedMultiplier float64   `json:"speedMultiplier,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// pendingCast is an in-flight cast for one agent. startPos anchors the
// moved-while-casting check performed when the cast completes.
type pendingCast struct {
	txID        string
	skillID     string
	actionID    string
	targetID    string
	startPos    types.Point
	completesAt time.Time
}

// agentState is one agent's installed skills, per-action cooldown
// expirations, and at most one pending cast.
type agentState struct {
	installed map[string]bool
	cooldowns map[string]time.Time
	pending   *pendingCast
}

// Completion describes a cast that finished on a given tick, along with the
// effect it applied (if the action has one).
type Completion struct {
	AgentID  string
	SkillID  string
	ActionID string
	TargetID string
	Applied  *ActiveEffect
}

// Cancellation describes a pending cast torn down on a tick because its
// caster moved away from the cast start position.
type Cancellation struct {
	AgentID  string
	SkillID  string
	ActionID string
	TargetID string
	Reason   string
}

// Expiration describes an active effect that ran out on a given tick.
type Expiration struct {
	EntityID   string
	EffectID   string
	EffectType string
}

// TickResult is everything a single engine tick produced, in the order the
// room runtime should journal it.
type TickResult struct {
	Cancellations []Cancellation
	Completions   []Completion
	Expirations   []Expiration
}

// Engine is the room-scoped skill catalogue, per-agent cast state, and
// per-entity active effects.
type Engine struct {
	mu        sync.Mutex
	catalog   map[string]Definition
	agents    map[string]*agentState
	effects   map[string][]ActiveEffect // keyed by target entity id
	effectSeq uint64
}

// New builds an engine from a fixed skill catalogue.
func New(catalog []Definition) *Engine {
	c := make(map[string]Definition, len(catalog))
	for _, d := range catalog {
		c[d.ID] = d
	}
	return &Engine{
		catalog: c,
		agents:  make(map[string]*agentState),
		effects: make(map[string][]ActiveEffect),
	}
}

func (e *Engine) stateFor(agentID string) *agentState {
	st, ok := e.agents[agentID]
	if !ok {
		st = &agentState{installed: make(map[string]bool), cooldowns: make(map[string]time.Time)}
		e.agents[agentID] = st
	}
	return st
}

func (e *Engine) actionOf(skillID, actionID string) (Definition, Action, error) {
	def, ok := e.catalog[skillID]
	if !ok {
		return Definition{}, Action{}, ErrUnknownSkill
	}
	for _, a := range def.Actions {
		if a.ID == actionID {
			return def, a, nil
		}
	}
	return def, Action{}, fmt.Errorf("%w: %s/%s", ErrUnknownAction, skillID, actionID)
}

// List returns the full skill catalogue.
func (e *Engine) List() []Definition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Definition, 0, len(e.catalog))
	for _, d := range e.catalog {
		out = append(out, d)
	}
	return out
}

// Install adds skillID to agentID's installed set. It is idempotent: a
// repeat install reports alreadyInstalled=true rather than erroring.
func (e *Engine) Install(agentID, skillID string) (alreadyInstalled bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog[skillID]; !ok {
		return false, ErrUnknownSkill
	}
	st := e.stateFor(agentID)
	if st.installed[skillID] {
		return true, nil
	}
	st.installed[skillID] = true
	return false, nil
}

// Invoke begins a cast, rejecting in this order: skill not installed, action
// on cooldown, target out of range, agent already casting. distance is the
// caller-computed separation between agent and target; startPos anchors the
// moved-while-casting check. On success it returns the cast completion time.
func (e *Engine) Invoke(agentID, skillID, actionID, targetID, txID string, distance float64, startPos types.Point, now time.Time) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, action, err := e.actionOf(skillID, actionID)
	if err != nil {
		return time.Time{}, err
	}
	st := e.stateFor(agentID)

	if !st.installed[def.ID] {
		return time.Time{}, ErrActionNotInstalled
	}
	if expiry, onCooldown := st.cooldowns[action.ID]; onCooldown && now.Before(expiry) {
		return time.Time{}, ErrOnCooldown
	}
	if distance > action.Range {
		return time.Time{}, ErrOutOfRange
	}
	if st.pending != nil {
		return time.Time{}, ErrAlreadyCasting
	}

	completesAt := now.Add(action.CastTime)
	st.pending = &pendingCast{
		txID:        txID,
		skillID:     skillID,
		actionID:    actionID,
		targetID:    targetID,
		startPos:    startPos,
		completesAt: completesAt,
	}
	return completesAt, nil
}

// Cancel aborts an agent's pending cast at the agent's own request. No
// cooldown is applied.
func (e *Engine) Cancel(agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateFor(agentID)
	if st.pending == nil {
		return ErrNoPendingCast
	}
	st.pending = nil
	return nil
}

// SpeedMultiplier returns the product of every live effect multiplier on an
// entity; 1.0 when none apply.
func (e *Engine) SpeedMultiplier(entityID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := 1.0
	for _, eff := range e.effects[entityID] {
		if eff.SpeedMultiplier > 0 {
			m *= eff.SpeedMultiplier
		}
	}
	return m
}

// ActiveEffects returns a copy of the live effects on an entity.
func (e *Engine) ActiveEffects(entityID string) []ActiveEffect {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ActiveEffect, len(e.effects[entityID]))
	copy(out, e.effects[entityID])
	return out
}

// Tick completes due casts and expires elapsed effects. A cast whose caster
// drifted more than moveEpsilon from its start position is cancelled with
// reason "moved" instead of completing, and starts no cooldown. posOf
// resolves an entity's current position; an entity posOf cannot resolve is
// treated as not having moved.
func (e *Engine) Tick(now time.Time, posOf func(entityID string) (types.Point, bool)) TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result TickResult
	for agentID, st := range e.agents {
		if st.pending == nil || now.Before(st.pending.completesAt) {
			continue
		}
		pending := st.pending
		st.pending = nil

		if pos, ok := posOf(agentID); ok && moved(pos, pending.startPos) {
			result.Cancellations = append(result.Cancellations, Cancellation{
				AgentID:  agentID,
				SkillID:  pending.skillID,
				ActionID: pending.actionID,
				TargetID: pending.targetID,
				Reason:   "moved",
			})
			continue
		}

		_, action, err := e.actionOf(pending.skillID, pending.actionID)
		if err != nil {
			continue
		}
		st.cooldowns[action.ID] = now.Add(action.Cooldown)

		completion := Completion{
			AgentID:  agentID,
			SkillID:  pending.skillID,
			ActionID: pending.actionID,
			TargetID: pending.targetID,
		}
		if action.Effect != nil {
			target := pending.targetID
			if target == "" {
				target = agentID
			}
			e.effectSeq++
			applied := ActiveEffect{
				EffectID:        fmt.Sprintf("eff_%d", e.effectSeq),
				EffectType:      action.Effect.Type,
				SpeedMultiplier: action.Effect.SpeedMultiplier,
				ExpiresAt:       now.Add(action.Effect.Duration),
			}
			e.effects[target] = append(e.effects[target], applied)
			completion.Applied = &applied
		}
		result.Completions = append(result.Completions, completion)
	}

	for entityID, effs := range e.effects {
		live := effs[:0]
		for _, eff := range effs {
			if eff.ExpiresAt.After(now) {
				live = append(live, eff)
				continue
			}
			result.Expirations = append(result.Expirations, Expiration{
				EntityID:   entityID,
				EffectID:   eff.EffectID,
				EffectType: eff.EffectType,
			})
		}
		if len(live) == 0 {
			delete(e.effects, entityID)
		} else {
			e.effects[entityID] = live
		}
	}

	return result
}

// ClearEntity drops an entity's active effects and, if it was casting,
// abandons the cast. Used when an entity leaves the room.
func (e *Engine) ClearEntity(entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.effects, entityID)
	if st, ok := e.agents[entityID]; ok {
		st.pending = nil
	}
}

func moved(a, b types.Point) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx+dy*dy > moveEpsilon*moveEpsilon
}
