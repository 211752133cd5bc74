package smartthings

// Command is one entry of a POST /devices/{id}/commands body.
type Command struct {
	Component  string `json:"component"`
	Capability string `json:"capability"`
	Command    string `json:"command"`
	Arguments  []any  `json:"arguments"`
}

// newCommand builds a main-component command. Arguments is always
// non-nil so it marshals as [] rather than null.
func newCommand(capability, command string, args ...any) Command {
	if args == nil {
		args = []any{}
	}
	return Command{
		Component:  "main",
		Capability: capability,
		Command:    command,
		Arguments:  args,
	}
}

// Display-light argument tokens. The token-to-effect mapping is a
// vendor contract verified empirically on Samsung window units:
// "Light_On" turns the display OFF and "Light_Off" turns it ON. Do not
// "fix" the inversion here; the public SetDisplayLight API exposes the
// intuitive polarity.
const (
	lightTokenDisplayOff = "Light_On"
	lightTokenDisplayOn  = "Light_Off"

	executeOptionsPath = "mode/vs/0"
	executeOptionsKey  = "x.com.samsung.da.options"
)

// DisplayLightCommand returns the execute command that sets the display
// light. on refers to the observable effect, not the wire token.
func DisplayLightCommand(on bool) Command {
	token := lightTokenDisplayOff
	if on {
		token = lightTokenDisplayOn
	}
	return newCommand(CapExecute, "execute",
		executeOptionsPath,
		map[string]any{executeOptionsKey: []string{token}},
	)
}

// TranslateThermostatCommands converts a thermostat intent (any of mode,
// heating setpoint, cooling setpoint; nil fields are not requested) into
// the cloud commands for the device's capability set. Returns zero
// commands when the device supports none of the requested intents.
//
// Mode commands come first: a Samsung air conditioner must be switched
// on before an airConditionerMode command is accepted.
func TranslateThermostatCommands(dev Device, mode *Mode, heatingSetpoint, coolingSetpoint *float64) []Command {
	var cmds []Command

	if mode != nil {
		cmds = append(cmds, translateMode(dev, *mode)...)
	}

	if heatingSetpoint != nil {
		switch {
		case dev.Has(CapThermostatHeatingSetpoint):
			cmds = append(cmds, newCommand(CapThermostatHeatingSetpoint, "setHeatingSetpoint", *heatingSetpoint))
		case dev.Has(CapAirConditionerMode) && dev.Has(CapThermostatCoolingSetpoint):
			// Single-setpoint air conditioner: a heating target lands on
			// the one setpoint it has.
			cmds = append(cmds, newCommand(CapThermostatCoolingSetpoint, "setCoolingSetpoint", *heatingSetpoint))
		}
	}

	if coolingSetpoint != nil && dev.Has(CapThermostatCoolingSetpoint) {
		cmds = append(cmds, newCommand(CapThermostatCoolingSetpoint, "setCoolingSetpoint", *coolingSetpoint))
	}

	return cmds
}

// translateMode builds the command sequence for a mode change.
func translateMode(dev Device, mode Mode) []Command {
	if dev.Has(CapThermostatMode) {
		return []Command{newCommand(CapThermostatMode, "setThermostatMode", string(mode))}
	}

	if dev.Has(CapAirConditionerMode) {
		// airConditionerMode has no "off"; power is the switch capability.
		if mode == ModeOff {
			return []Command{newCommand(CapSwitch, "off")}
		}
		return []Command{
			newCommand(CapSwitch, "on"),
			newCommand(CapAirConditionerMode, "setAirConditionerMode", string(mode)),
		}
	}

	return nil
}

// changesTemperatureOrMode reports whether the command batch contains a
// setpoint or mode change. Such batches get a best-effort display-light
// off chaser (the Samsung panel lights up on every remote command).
func changesTemperatureOrMode(cmds []Command) bool {
	for _, cmd := range cmds {
		switch cmd.Capability {
		case CapThermostatCoolingSetpoint, CapThermostatHeatingSetpoint,
			CapThermostatMode, CapAirConditionerMode, CapSwitch:
			return true
		}
	}
	return false
}
