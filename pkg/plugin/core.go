package plugin

import (
	"log/slog"

	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// CorePassthrough handles every device no other built-in claims. It
// leaves state alone and only traces applied updates.
type CorePassthrough struct {
	BaseHandler
	logger *slog.Logger
}

// NewCorePassthrough creates the passthrough handler.
func NewCorePassthrough(logger *slog.Logger) *CorePassthrough {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorePassthrough{logger: logger}
}

func (p *CorePassthrough) Name() string { return "core" }

// ShouldHandle matches everything the HVAC handlers leave behind.
func (p *CorePassthrough) ShouldHandle(dev smartthings.Device) bool {
	return !dev.IsThermostatLike()
}

func (p *CorePassthrough) AfterDeviceUpdate(dev smartthings.Device, oldState, newState smartthings.DeviceState) {
	p.logger.Debug("device updated",
		"device_id", dev.ID,
		"temperature", newState.Temperature,
		"mode", newState.Mode)
}
