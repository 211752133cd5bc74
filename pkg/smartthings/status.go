package smartthings

import (
	"encoding/json"
	"time"
)

// attrValue is a single capability attribute in a status document.
type attrValue struct {
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit,omitempty"`
}

// statusDocument is the wire shape of GET /devices/{id}/status:
// components -> capability -> attribute -> value.
type statusDocument struct {
	Components map[string]map[string]map[string]attrValue `json:"components"`
}

// mainComponent returns the "main" component's capability map, falling
// back to the first component present.
func (d *statusDocument) mainComponent() map[string]map[string]attrValue {
	if comp, ok := d.Components["main"]; ok {
		return comp
	}
	for _, comp := range d.Components {
		return comp
	}
	return nil
}

func floatAttr(comp map[string]map[string]attrValue, capability, attribute string) *float64 {
	attrs, ok := comp[capability]
	if !ok {
		return nil
	}
	raw, ok := attrs[attribute]
	if !ok || len(raw.Value) == 0 {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return nil
	}
	return &v
}

func stringAttr(comp map[string]map[string]attrValue, capability, attribute string) string {
	attrs, ok := comp[capability]
	if !ok {
		return ""
	}
	raw, ok := attrs[attribute]
	if !ok || len(raw.Value) == 0 {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return ""
	}
	return v
}

// executeData is the execute capability's data attribute carrying
// vendor-specific payloads.
type executeData struct {
	Payload map[string]json.RawMessage `json:"payload"`
}

// displayLightFromExecute extracts the display-light state from the
// execute capability payload. The reported token follows the same
// inverted vendor contract as the command: "Light_On" present means the
// display is OFF. Returns defaultOn when the payload says nothing.
func displayLightFromExecute(comp map[string]map[string]attrValue, defaultOn bool) bool {
	attrs, ok := comp[CapExecute]
	if !ok {
		return defaultOn
	}
	raw, ok := attrs["data"]
	if !ok || len(raw.Value) == 0 {
		return defaultOn
	}
	var data executeData
	if err := json.Unmarshal(raw.Value, &data); err != nil {
		return defaultOn
	}
	optsRaw, ok := data.Payload[executeOptionsKey]
	if !ok {
		return defaultOn
	}
	var opts []string
	if err := json.Unmarshal(optsRaw, &opts); err != nil {
		return defaultOn
	}
	for _, opt := range opts {
		switch opt {
		case lightTokenDisplayOff:
			return false
		case lightTokenDisplayOn:
			return true
		}
	}
	return defaultOn
}

// ParseStatus converts a raw status document into a normalized
// DeviceState for the given device.
func ParseStatus(dev Device, raw []byte, now time.Time) (DeviceState, error) {
	var doc statusDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return DeviceState{}, err
	}

	comp := doc.mainComponent()
	state := DeviceState{
		Mode:      ModeOff,
		SwitchOn:  true,
		UpdatedAt: now,
	}
	if comp == nil {
		return state, nil
	}

	if temp := floatAttr(comp, CapTemperatureMeasurement, "temperature"); temp != nil {
		state.Temperature = *temp
	}
	state.HeatingSetpoint = floatAttr(comp, CapThermostatHeatingSetpoint, "heatingSetpoint")
	state.CoolingSetpoint = floatAttr(comp, CapThermostatCoolingSetpoint, "coolingSetpoint")

	if sw := stringAttr(comp, CapSwitch, "switch"); sw != "" {
		state.SwitchOn = sw == "on"
	}

	if mode := stringAttr(comp, CapThermostatMode, "thermostatMode"); mode != "" {
		state.Mode = normalizeMode(mode)
	} else if acMode := stringAttr(comp, CapAirConditionerMode, "airConditionerMode"); acMode != "" {
		state.Mode = normalizeMode(acMode)
	}

	state.DisplayLightOn = displayLightFromExecute(comp, false)

	return Normalize(dev, state), nil
}
