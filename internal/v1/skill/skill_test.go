package skill

import (
	"testing"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wave() []Definition {
	return []Definition{
		{ID: "wave", Name: "Wave", Category: "social", Actions: []Action{
			{ID: "wave.greet", CastTime: 100 * time.Millisecond, Cooldown: time.Second, Range: 5},
		}},
	}
}

func haste() []Definition {
	return []Definition{
		{ID: "haste", Name: "Haste", Category: "movement", Actions: []Action{
			{ID: "haste.boost", CastTime: 100 * time.Millisecond, Cooldown: time.Second, Range: 50,
				Effect: &Effect{Type: "speed_boost", SpeedMultiplier: 1.5, Duration: time.Second}},
		}},
	}
}

func stayPut(string) (types.Point, bool) { return types.Point{}, false }

func TestInstall_IsIdempotent(t *testing.T) {
	e := New(wave())
	already, err := e.Install("agt_a", "wave")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = e.Install("agt_a", "wave")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestInstall_UnknownSkill(t *testing.T) {
	e := New(wave())
	_, err := e.Install("agt_a", "bogus")
	assert.ErrorIs(t, err, ErrUnknownSkill)
}

func TestInvoke_RejectsNotInstalled(t *testing.T) {
	e := New(wave())
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, time.Now())
	assert.ErrorIs(t, err, ErrActionNotInstalled)
}

func TestInvoke_RejectsUnknownAction(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	_, err := e.Invoke("agt_a", "wave", "wave.bogus", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, time.Now())
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestInvoke_RejectsOutOfRange(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 10, types.Point{}, time.Now())
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestInvoke_RejectsAlreadyCasting(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	now := time.Now()
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)
	_, err = e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_bbbbbbbb", 1, types.Point{}, now)
	assert.ErrorIs(t, err, ErrAlreadyCasting)
}

func TestInvoke_RejectsOnCooldown(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	now := time.Now()
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)

	result := e.Tick(now.Add(200*time.Millisecond), stayPut)
	require.Len(t, result.Completions, 1)

	_, err = e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_bbbbbbbb", 1, types.Point{}, now.Add(201*time.Millisecond))
	assert.ErrorIs(t, err, ErrOnCooldown)
}

func TestInvoke_AllowedAfterCooldownElapses(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	now := time.Now()
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)
	e.Tick(now.Add(200*time.Millisecond), stayPut)

	_, err = e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_bbbbbbbb", 1, types.Point{}, now.Add(2*time.Second))
	assert.NoError(t, err)
}

func TestInvoke_ReturnsCompletionTime(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	now := time.Now()
	completesAt, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(100*time.Millisecond), completesAt)
}

func TestTick_AppliesEffectOnCompletion(t *testing.T) {
	e := New(haste())
	_, _ = e.Install("agt_a", "haste")
	now := time.Now()
	_, err := e.Invoke("agt_a", "haste", "haste.boost", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)

	result := e.Tick(now.Add(50*time.Millisecond), stayPut)
	assert.Empty(t, result.Completions, "cast not yet complete")

	result = e.Tick(now.Add(150*time.Millisecond), stayPut)
	require.Len(t, result.Completions, 1)
	require.NotNil(t, result.Completions[0].Applied)
	assert.Equal(t, "speed_boost", result.Completions[0].Applied.EffectType)
	assert.InDelta(t, 1.5, e.SpeedMultiplier("agt_b"), 0.001)
}

func TestTick_ExpiresEffects(t *testing.T) {
	e := New(haste())
	_, _ = e.Install("agt_a", "haste")
	now := time.Now()
	_, err := e.Invoke("agt_a", "haste", "haste.boost", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)
	e.Tick(now.Add(150*time.Millisecond), stayPut)
	require.Len(t, e.ActiveEffects("agt_b"), 1)

	result := e.Tick(now.Add(2*time.Second), stayPut)
	require.Len(t, result.Expirations, 1)
	assert.Equal(t, "agt_b", result.Expirations[0].EntityID)
	assert.Empty(t, e.ActiveEffects("agt_b"))
	assert.InDelta(t, 1.0, e.SpeedMultiplier("agt_b"), 0.001)
}

func TestTick_CancelsCastWhenCasterMoved(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	now := time.Now()
	start := types.Point{X: 16, Y: 16}
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, start, now)
	require.NoError(t, err)

	movedAway := func(string) (types.Point, bool) { return types.Point{X: 80, Y: 16}, true }
	result := e.Tick(now.Add(200*time.Millisecond), movedAway)
	assert.Empty(t, result.Completions)
	require.Len(t, result.Cancellations, 1)
	assert.Equal(t, "moved", result.Cancellations[0].Reason)

	// A move-cancelled cast starts no cooldown.
	_, err = e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_bbbbbbbb", 1, start, now.Add(300*time.Millisecond))
	assert.NoError(t, err)
}

func TestCancel_UserInitiatedNoCooldown(t *testing.T) {
	e := New(wave())
	_, _ = e.Install("agt_a", "wave")
	now := time.Now()
	_, err := e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_aaaaaaaa", 1, types.Point{}, now)
	require.NoError(t, err)
	require.NoError(t, e.Cancel("agt_a"))

	_, err = e.Invoke("agt_a", "wave", "wave.greet", "agt_b", "tx_bbbbbbbb", 1, types.Point{}, now)
	assert.NoError(t, err, "cancelling should not start a cooldown")
}

func TestCancel_NoPendingCast(t *testing.T) {
	e := New(wave())
	err := e.Cancel("agt_a")
	assert.ErrorIs(t, err, ErrNoPendingCast)
}

func TestClearEntity_DropsEffectsAndPendingCast(t *testing.T) {
	e := New(haste())
	_, _ = e.Install("agt_a", "haste")
	now := time.Now()
	_, err := e.Invoke("agt_a", "haste", "haste.boost", "agt_a", "tx_aaaaaaaa", 0, types.Point{}, now)
	require.NoError(t, err)
	e.Tick(now.Add(150*time.Millisecond), stayPut)
	require.Len(t, e.ActiveEffects("agt_a"), 1)

	e.ClearEntity("agt_a")
	assert.Empty(t, e.ActiveEffects("agt_a"))
}
