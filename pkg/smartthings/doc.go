// Package smartthings is a typed wrapper over the SmartThings REST API:
// device enumeration, status reads, and command execution.
//
// The vendor's capability model is heterogeneous. Real thermostats
// expose thermostatMode and separate heating/cooling setpoints; Samsung
// window units expose airConditionerMode (which has no "off" - power is
// a separate switch capability) and a single setpoint. This package owns
// the translation from mode/setpoint intents to the per-device command
// shapes, including the empirically verified inverted display-light
// tokens (see commands.go).
package smartthings
