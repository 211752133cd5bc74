package coordinator

import (
	"context"
	"fmt"

	"github.com/stbridge/stbridge-go/pkg/accessory"
	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/plugin"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// HandleThermostatEvent routes a user intent from the accessory side to
// the cloud: the proposal runs through the plugin chain, translates
// into vendor commands, executes, and the result is mirrored locally so
// the registry does not wait a full poll to catch up.
func (c *Coordinator) HandleThermostatEvent(ctx context.Context, ev accessory.ThermostatEvent) error {
	dev, ok := c.Device(ev.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, ev.DeviceID)
	}

	c.eventLog.Log(log.NewAccessoryEvent(ev.DeviceID, "event", describeIntent(ev)))

	proposed, ok := c.chain.BeforeSetCloudState(dev, plugin.Proposal{
		Mode:            ev.Mode,
		HeatingSetpoint: ev.HeatingSetpoint,
		CoolingSetpoint: ev.CoolingSetpoint,
	})
	if !ok {
		c.logger.Debug("cloud write cancelled", "device_id", ev.DeviceID)
		return nil
	}

	return c.writeCloudState(ctx, dev, proposed)
}

// WriteMode pushes a mode change straight to the cloud, bypassing the
// hook chain. The auto-mode broadcast uses this: its switches are
// system decisions, not user intents, and must not re-trigger the
// enrollment hooks.
func (c *Coordinator) WriteMode(ctx context.Context, deviceID string, mode smartthings.Mode) error {
	dev, ok := c.Device(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return c.writeCloudState(ctx, dev, plugin.Proposal{Mode: &mode})
}

// writeCloudState translates a proposal into commands, executes them,
// and mirrors the accepted changes locally.
func (c *Coordinator) writeCloudState(ctx context.Context, dev smartthings.Device, proposed plugin.Proposal) error {
	cmds := smartthings.TranslateThermostatCommands(dev, proposed.Mode, proposed.HeatingSetpoint, proposed.CoolingSetpoint)
	if len(cmds) == 0 {
		c.logger.Debug("proposal translates to no commands", "device_id", dev.ID)
		return nil
	}

	if err := c.client.ExecuteThermostatCommands(ctx, dev, cmds); err != nil {
		return fmt.Errorf("execute commands for %s: %w", dev.ID, err)
	}

	c.mu.Lock()
	state := c.states[dev.ID]
	if proposed.Mode != nil {
		state.Mode = *proposed.Mode
		state.SwitchOn = *proposed.Mode != smartthings.ModeOff
	}
	if proposed.HeatingSetpoint != nil {
		v := *proposed.HeatingSetpoint
		state.HeatingSetpoint = &v
		// Single-setpoint vendors store this on the cooling slot.
		if dev.Has(smartthings.CapAirConditionerMode) && !dev.Has(smartthings.CapThermostatHeatingSetpoint) {
			state.HeatingSetpoint = nil
			state.CoolingSetpoint = &v
		}
	}
	if proposed.CoolingSetpoint != nil {
		v := *proposed.CoolingSetpoint
		state.CoolingSetpoint = &v
	}
	state.UpdatedAt = c.now()
	c.states[dev.ID] = state
	c.mu.Unlock()

	if err := c.persist(); err != nil {
		c.logger.Error("failed to persist coordinator state", "error", err)
	}
	return nil
}

func describeIntent(ev accessory.ThermostatEvent) string {
	desc := ""
	if ev.Mode != nil {
		desc += "mode=" + string(*ev.Mode)
	}
	if ev.HeatingSetpoint != nil {
		desc += fmt.Sprintf(" heat=%.1f", *ev.HeatingSetpoint)
	}
	if ev.CoolingSetpoint != nil {
		desc += fmt.Sprintf(" cool=%.1f", *ev.CoolingSetpoint)
	}
	return desc
}
