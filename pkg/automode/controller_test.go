package automode

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbridge/stbridge-go/pkg/persistence"
)

var evalTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	store := persistence.NewAutoModeStore(filepath.Join(t.TempDir(), "automode.json"))
	c := NewController(DefaultConfig(), store, nil, nil)
	c.now = func() time.Time { return evalTime }
	return c
}

func view(id string, temp, lower, upper, weight float64) DeviceView {
	return DeviceView{ID: id, Name: id, Temperature: temp, LowerBound: lower, UpperBound: upper, Weight: weight}
}

func TestEvaluate_FreezeProtectionBypassesLocks(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeCool
	// Every lock would normally block a cool-to-heat switch.
	c.lastSwitch = evalTime.Add(-time.Minute)
	c.lastOn = evalTime.Add(-time.Minute)

	dec := c.Evaluate([]DeviceView{view("garage", 45, 62, 78, 1)})
	assert.Equal(t, ModeHeat, dec.Mode)
	assert.False(t, dec.Suppressed)
	assert.Contains(t, dec.Reason, "freeze protection")
}

func TestEvaluate_OverheatProtection(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeHeat
	c.lastOn = evalTime.Add(-time.Minute)

	dec := c.Evaluate([]DeviceView{view("attic", 94, 62, 78, 1)})
	assert.Equal(t, ModeCool, dec.Mode)
	assert.False(t, dec.Suppressed)
	assert.Contains(t, dec.Reason, "overheat protection")
}

func TestEvaluate_MinOnSuppressesSwitchToOff(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeHeat
	c.lastOn = evalTime.Add(-120 * time.Second)

	// In band: no demand either way, so the desired mode is off.
	dec := c.Evaluate([]DeviceView{view("living", 70, 68, 74, 1)})
	assert.Equal(t, ModeHeat, dec.Mode)
	assert.True(t, dec.Suppressed)
	assert.Equal(t, 480, dec.SecondsUntilAllowed)
}

func TestEvaluate_MinOffSuppressesLeavingOff(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeOff
	c.lastOff = evalTime.Add(-100 * time.Second)

	dec := c.Evaluate([]DeviceView{view("living", 65, 68, 74, 1)})
	assert.Equal(t, ModeOff, dec.Mode)
	assert.True(t, dec.Suppressed)
	assert.Equal(t, 200, dec.SecondsUntilAllowed)
	assert.Greater(t, dec.TotalHeat, 0.0)
}

func TestEvaluate_HeatCoolSwitchNeedsMinLock(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeCool
	// min-on satisfied, min-lock not.
	c.lastOn = evalTime.Add(-700 * time.Second)
	c.lastSwitch = evalTime.Add(-700 * time.Second)

	// Far below the lower bound so the flip guard clears.
	dec := c.Evaluate([]DeviceView{view("living", 60, 68, 74, 1)})
	assert.Equal(t, ModeCool, dec.Mode)
	assert.True(t, dec.Suppressed)
	assert.Equal(t, 1100, dec.SecondsUntilAllowed)
}

func TestEvaluate_FlipGuardMutesDemandAgainstRunningMode(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeCool
	c.lastOn = evalTime.Add(-time.Minute)

	// 67.5 is below the 68 lower bound but inside the guard band
	// (68 - 0.7 - 2.0 = 65.3), so heat demand does not count.
	dec := c.Evaluate([]DeviceView{view("living", 67.5, 68, 74, 1)})
	assert.Zero(t, dec.TotalHeat)
	assert.Equal(t, ModeCool, dec.Mode)
}

func TestEvaluate_FlipGuardSymmetricForHeat(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeHeat
	c.lastOn = evalTime.Add(-time.Minute)

	// 75 is above the 74 upper bound but inside 74 + 2.7 = 76.7.
	dec := c.Evaluate([]DeviceView{view("living", 75, 68, 74, 1)})
	assert.Zero(t, dec.TotalCool)
	assert.Equal(t, ModeHeat, dec.Mode)
}

func TestEvaluate_SingleSidedDemand(t *testing.T) {
	c := newTestController(t)

	dec := c.Evaluate([]DeviceView{view("living", 64, 68, 74, 1)})
	assert.Equal(t, ModeHeat, dec.Mode)
	assert.InDelta(t, 4.0, dec.TotalHeat, 1e-9)
	assert.Zero(t, dec.TotalCool)

	dec = c.Evaluate([]DeviceView{view("living", 78, 68, 74, 1)})
	assert.Equal(t, ModeCool, dec.Mode)
	assert.InDelta(t, 4.0, dec.TotalCool, 1e-9)
}

func TestEvaluate_NoDemandElectsOff(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeHeat
	c.lastOn = evalTime.Add(-time.Hour)

	dec := c.Evaluate([]DeviceView{view("living", 70, 68, 74, 1)})
	assert.Equal(t, ModeOff, dec.Mode)
	assert.False(t, dec.Suppressed)
}

func TestEvaluate_RelativeDominance(t *testing.T) {
	c := newTestController(t)

	// Heat 2.0 vs cool 1.0: 2.0 >= 1.0 * 1.25.
	dec := c.Evaluate([]DeviceView{
		view("bedroom", 66, 68, 74, 1),
		view("office", 75, 68, 74, 1),
	})
	assert.InDelta(t, 2.0, dec.TotalHeat, 1e-9)
	assert.InDelta(t, 1.0, dec.TotalCool, 1e-9)
	assert.Equal(t, ModeHeat, dec.Mode)
	assert.Contains(t, dec.Reason, "dominant")
}

func TestEvaluate_AbsoluteDominance(t *testing.T) {
	c := newTestController(t)

	// Cool 12 vs heat 10: under 25% relative, but the 2.0 absolute gap
	// is met.
	dec := c.Evaluate([]DeviceView{
		view("bedroom", 58, 68, 74, 1),
		view("server", 86, 68, 74, 1),
	})
	assert.InDelta(t, 10.0, dec.TotalHeat, 1e-9)
	assert.InDelta(t, 12.0, dec.TotalCool, 1e-9)
	assert.Equal(t, ModeCool, dec.Mode)
}

func TestEvaluate_ConflictWithoutDominanceHolds(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeCool

	// Heat 4.0 vs cool 4.5: neither threshold reached. The bedroom sits
	// below the flip-guard band, so its heat demand counts even while
	// cooling runs.
	dec := c.Evaluate([]DeviceView{
		view("bedroom", 64, 68, 74, 1),
		view("office", 78.5, 68, 74, 1),
	})
	assert.Equal(t, ModeCool, dec.Mode)
	assert.False(t, dec.Suppressed)
	assert.Contains(t, dec.Reason, "holding")
}

func TestEvaluate_WeightsScaleDemand(t *testing.T) {
	c := newTestController(t)

	dec := c.Evaluate([]DeviceView{
		view("nursery", 66, 68, 74, 3), // heat 2 * 3 = 6
		view("hall", 77, 68, 74, 1),    // cool 3
	})
	assert.InDelta(t, 6.0, dec.TotalHeat, 1e-9)
	assert.InDelta(t, 3.0, dec.TotalCool, 1e-9)
	assert.Equal(t, ModeHeat, dec.Mode)

	require.Len(t, dec.Breakdown, 2)
	assert.Equal(t, "nursery", dec.Breakdown[0].ID)
	assert.InDelta(t, 6.0, dec.Breakdown[0].HeatDemand, 1e-9)
}

func TestApplyDecision_SameModeIsNoOp(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeHeat
	on := evalTime.Add(-time.Hour)
	c.lastOn = on
	c.lastSwitch = on

	switched := c.ApplyDecision(Decision{Mode: ModeHeat})
	assert.False(t, switched)
	assert.Equal(t, on, c.lastOn)
	assert.Equal(t, on, c.lastSwitch)
}

func TestApplyDecision_UpdatesInstants(t *testing.T) {
	c := newTestController(t)
	c.mode = ModeOff

	require.True(t, c.ApplyDecision(Decision{Mode: ModeHeat, Reason: "test"}))
	assert.Equal(t, ModeHeat, c.CurrentMode())
	assert.Equal(t, evalTime, c.lastSwitch)
	assert.Equal(t, evalTime, c.lastOn)

	require.True(t, c.ApplyDecision(Decision{Mode: ModeOff, Reason: "test"}))
	assert.Equal(t, evalTime, c.lastOff)
}

func TestEnrollment_IdempotentAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automode.json")
	store := persistence.NewAutoModeStore(path)
	c := NewController(DefaultConfig(), store, nil, nil)

	c.Enroll("d1")
	c.Enroll("d2")
	c.Enroll("d1")
	assert.Equal(t, []string{"d1", "d2"}, c.EnrolledIDs())
	assert.True(t, c.IsEnrolled("d1"))

	c.Unenroll("d2")
	c.Unenroll("d2")
	assert.Equal(t, []string{"d1"}, c.EnrolledIDs())

	restored := NewController(DefaultConfig(), persistence.NewAutoModeStore(path), nil, nil)
	require.NoError(t, restored.Load())
	assert.Equal(t, []string{"d1"}, restored.EnrolledIDs())
}

func TestLoad_RestoresModeAndRelocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automode.json")
	store := persistence.NewAutoModeStore(path)

	c := NewController(DefaultConfig(), store, nil, nil)
	c.now = func() time.Time { return evalTime }
	c.mode = ModeOff
	require.True(t, c.ApplyDecision(Decision{Mode: ModeCool, Reason: "test"}))

	// Simulate a restart 60s later: the switch instant persisted, so
	// a cool-to-heat flip is still held by min-on and min-lock.
	restored := NewController(DefaultConfig(), persistence.NewAutoModeStore(path), nil, nil)
	restored.now = func() time.Time { return evalTime.Add(60 * time.Second) }
	require.NoError(t, restored.Load())
	assert.Equal(t, ModeCool, restored.CurrentMode())

	dec := restored.Evaluate([]DeviceView{view("living", 55, 68, 74, 1)})
	assert.True(t, dec.Suppressed)
	assert.Equal(t, ModeCool, dec.Mode)
	assert.Equal(t, 1740, dec.SecondsUntilAllowed)
}

func TestLoad_MissingStateIsFine(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Load())
	assert.Equal(t, ModeOff, c.CurrentMode())
	assert.Empty(t, c.EnrolledIDs())
}
