package smartthings

import (
	"time"
)

// Capability IDs the bridge recognizes. Devices report many more;
// unrecognized ones are carried as opaque metadata in the capability set.
const (
	CapTemperatureMeasurement          = "temperatureMeasurement"
	CapThermostat                      = "thermostat"
	CapThermostatCoolingSetpoint       = "thermostatCoolingSetpoint"
	CapThermostatHeatingSetpoint       = "thermostatHeatingSetpoint"
	CapThermostatMode                  = "thermostatMode"
	CapSwitch                          = "switch"
	CapAirConditionerMode              = "airConditionerMode"
	CapCustomThermostatSetpointControl = "custom.thermostatSetpointControl"
	CapExecute                         = "execute"
)

// Mode is a thermostat operating mode.
type Mode string

// Operating modes.
const (
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeAuto Mode = "auto"
	ModeOff  Mode = "off"
)

// Valid reports whether m is one of the four operating modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeHeat, ModeCool, ModeAuto, ModeOff:
		return true
	}
	return false
}

// CapabilitySet is the set of capability IDs a device reports.
type CapabilitySet map[string]struct{}

// NewCapabilitySet builds a set from capability IDs.
func NewCapabilitySet(ids ...string) CapabilitySet {
	set := make(CapabilitySet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the capability.
func (c CapabilitySet) Has(id string) bool {
	_, ok := c[id]
	return ok
}

// Add inserts a capability ID.
func (c CapabilitySet) Add(id string) {
	c[id] = struct{}{}
}

// IDs returns the capability IDs in unspecified order.
func (c CapabilitySet) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	return ids
}

// Device is the bridge's view of a cloud device.
type Device struct {
	// ID is the stable cloud device identifier.
	ID string

	// Name is the user-visible label.
	Name string

	// Manufacturer is the vendor-reported manufacturer name.
	Manufacturer string

	// Capabilities is the union of the device's top-level and
	// per-component capability IDs.
	Capabilities CapabilitySet
}

// Has reports whether the device advertises the capability.
func (d Device) Has(id string) bool {
	return d.Capabilities.Has(id)
}

// hasSetpoint reports whether the device has at least one setpoint
// capability.
func (d Device) hasSetpoint() bool {
	return d.Has(CapThermostatCoolingSetpoint) || d.Has(CapThermostatHeatingSetpoint)
}

// IsThermostatLike reports whether the device qualifies as an HVAC
// accessory: it advertises a thermostat-ish mode capability, or it
// measures temperature and has at least one setpoint.
func (d Device) IsThermostatLike() bool {
	if d.Has(CapThermostat) || d.Has(CapThermostatMode) ||
		d.Has(CapAirConditionerMode) || d.Has(CapCustomThermostatSetpointControl) {
		return true
	}
	return d.Has(CapTemperatureMeasurement) && d.hasSetpoint()
}

// DeviceState is a device's last known state. Temperatures are degrees
// Fahrenheit. Absent setpoints are nil.
type DeviceState struct {
	Temperature     float64
	HeatingSetpoint *float64
	CoolingSetpoint *float64
	Mode            Mode
	SwitchOn        bool
	DisplayLightOn  bool
	UpdatedAt       time.Time
}

// EffectiveSetpoint is the single target temperature the accessory
// shows: the cooling setpoint in cool mode, otherwise the heating
// setpoint when present, otherwise the cooling setpoint.
func (s DeviceState) EffectiveSetpoint() (float64, bool) {
	if s.Mode == ModeCool && s.CoolingSetpoint != nil {
		return *s.CoolingSetpoint, true
	}
	if s.HeatingSetpoint != nil {
		return *s.HeatingSetpoint, true
	}
	if s.CoolingSetpoint != nil {
		return *s.CoolingSetpoint, true
	}
	return 0, false
}

// Clone returns a deep copy. Hook chains receive clones, never the
// registry's own pointers.
func (s DeviceState) Clone() DeviceState {
	out := s
	if s.HeatingSetpoint != nil {
		v := *s.HeatingSetpoint
		out.HeatingSetpoint = &v
	}
	if s.CoolingSetpoint != nil {
		v := *s.CoolingSetpoint
		out.CoolingSetpoint = &v
	}
	return out
}

// normalizeMode maps vendor air-conditioner modes onto thermostat modes.
// Samsung units report wind/dry variants that behave as cooling.
func normalizeMode(raw string) Mode {
	switch raw {
	case "wind", "dry":
		return ModeCool
	case string(ModeHeat), string(ModeCool), string(ModeAuto), string(ModeOff):
		return Mode(raw)
	default:
		return ModeAuto
	}
}

// Normalize applies the cross-capability invariants to a parsed state:
// an air conditioner whose switch is off is off, whatever its
// airConditionerMode attribute claims.
func Normalize(dev Device, state DeviceState) DeviceState {
	if dev.Has(CapAirConditionerMode) && !state.SwitchOn {
		state.Mode = ModeOff
	}
	return state
}
