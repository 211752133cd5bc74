package accessory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

func thermostat(id, name string) smartthings.Device {
	return smartthings.Device{ID: id, Name: name, Manufacturer: "Samsung Electronics",
		Capabilities: smartthings.NewCapabilitySet(
			smartthings.CapTemperatureMeasurement,
			smartthings.CapAirConditionerMode,
			smartthings.CapThermostatCoolingSetpoint,
		)}
}

func TestCache_IdentityStableAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c := NewCache(persistence.NewCacheStore(path), "1.0.0", nil)
	require.NoError(t, c.Load())
	first := c.Identity(thermostat("d1", "Living Room"))
	assert.NotEmpty(t, first.UUID)
	assert.Equal(t, "d1", first.SerialNumber)
	assert.Equal(t, "Thermostat", first.Model)

	reloaded := NewCache(persistence.NewCacheStore(path), "1.0.0", nil)
	require.NoError(t, reloaded.Load())
	second := reloaded.Identity(thermostat("d1", "Living Room"))
	assert.Equal(t, first.UUID, second.UUID)
}

func TestCache_NameTracksCloudLabel(t *testing.T) {
	c := NewCache(persistence.NewCacheStore(filepath.Join(t.TempDir(), "cache.json")), "1.0.0", nil)

	first := c.Identity(thermostat("d1", "Living Room"))
	renamed := c.Identity(thermostat("d1", "Den"))
	assert.Equal(t, first.UUID, renamed.UUID, "UUID survives rename")
	assert.Equal(t, "Den", renamed.Name)
}

func TestCache_ForgetMintsNewIdentity(t *testing.T) {
	c := NewCache(persistence.NewCacheStore(filepath.Join(t.TempDir(), "cache.json")), "1.0.0", nil)

	first := c.Identity(thermostat("d1", "Living Room"))
	c.Forget("d1")
	second := c.Identity(thermostat("d1", "Living Room"))
	assert.NotEqual(t, first.UUID, second.UUID)
}

func TestCooldown_AbsorbsRapidPushes(t *testing.T) {
	cd := NewCooldown(2 * time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	cd.now = func() time.Time { return now }

	assert.True(t, cd.Allow("d1"))
	now = base.Add(500 * time.Millisecond)
	assert.False(t, cd.Allow("d1"))
	assert.True(t, cd.Allow("d2"), "cooldown is per device")

	now = base.Add(2 * time.Second)
	assert.True(t, cd.Allow("d1"))
}

func TestCooldown_ResetReopensWindow(t *testing.T) {
	cd := NewCooldown(2 * time.Second)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cd.now = func() time.Time { return base }

	assert.True(t, cd.Allow("d1"))
	assert.False(t, cd.Allow("d1"))
	cd.Reset("d1")
	assert.True(t, cd.Allow("d1"))
}

func TestLoopbackBridge_PublishUpdateRemove(t *testing.T) {
	b := NewLoopbackBridge()

	identity := persistence.AccessoryIdentity{DeviceID: "d1", Name: "Living Room", UUID: "u1"}
	require.NoError(t, b.PublishAccessory(identity, thermostat("d1", "Living Room")))
	assert.True(t, b.Published("d1"))

	require.NoError(t, b.UpdateState("d1", smartthings.DeviceState{Temperature: 71}))
	state, ok := b.State("d1")
	require.True(t, ok)
	assert.Equal(t, 71.0, state.Temperature)
	assert.Equal(t, 1, b.UpdateCount("d1"))

	require.NoError(t, b.RemoveAccessory("d1"))
	assert.False(t, b.Published("d1"))
	_, ok = b.State("d1")
	assert.False(t, ok)
}

func TestLoopbackBridge_InjectDeliversEvents(t *testing.T) {
	b := NewLoopbackBridge()

	var got []ThermostatEvent
	b.OnThermostatEvent(func(ev ThermostatEvent) { got = append(got, ev) })

	mode := smartthings.ModeCool
	b.Inject(ThermostatEvent{DeviceID: "d1", Mode: &mode})
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].DeviceID)
	require.NotNil(t, got[0].Mode)
	assert.Equal(t, smartthings.ModeCool, *got[0].Mode)
}

func TestLoopbackBridge_InjectWithoutHandlerIsSafe(t *testing.T) {
	b := NewLoopbackBridge()
	b.Inject(ThermostatEvent{DeviceID: "d1"})
}
