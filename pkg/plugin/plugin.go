package plugin

import (
	"context"
	"log/slog"

	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// DeviceSnapshot is a copy of one device's metadata and last known
// state; hooks never see the coordinator's live maps.
type DeviceSnapshot struct {
	Device smartthings.Device
	State  smartthings.DeviceState
}

// Proposal is a requested change travelling toward the cloud. Nil
// fields are left untouched.
type Proposal struct {
	Mode            *smartthings.Mode
	HeatingSetpoint *float64
	CoolingSetpoint *float64
}

// HookResult is the outcome of a before-hook: pass the value through
// unchanged, replace it, or cancel the operation entirely.
type HookResult[T any] struct {
	Value    T
	Modified bool
	Cancel   bool
}

// Pass leaves the proposed value unchanged.
func Pass[T any]() HookResult[T] {
	return HookResult[T]{}
}

// Modify replaces the proposed value.
func Modify[T any](v T) HookResult[T] {
	return HookResult[T]{Value: v, Modified: true}
}

// Abort cancels the operation.
func Abort[T any]() HookResult[T] {
	return HookResult[T]{Cancel: true}
}

// Handler is one link in the dispatch chain.
type Handler interface {
	// Name identifies the handler; it doubles as its persisted-state
	// namespace key.
	Name() string

	// ShouldHandle reports whether this handler wants the device.
	ShouldHandle(dev smartthings.Device) bool

	// BeforeSetCloudState runs before a proposal is translated into
	// cloud commands.
	BeforeSetCloudState(dev smartthings.Device, proposed Proposal) HookResult[Proposal]

	// BeforeSetAccessoryState runs before fresh state is pushed to the
	// local accessory.
	BeforeSetAccessoryState(dev smartthings.Device, proposed smartthings.DeviceState) HookResult[smartthings.DeviceState]

	// AfterDeviceUpdate observes an applied state change.
	AfterDeviceUpdate(dev smartthings.Device, oldState, newState smartthings.DeviceState)

	// OnPollCycle runs once after every poll cycle with a snapshot of
	// all known devices.
	OnPollCycle(ctx context.Context, devices []DeviceSnapshot)
}

// BaseHandler is a no-op Handler for embedding; it handles every device
// and passes every hook through.
type BaseHandler struct{}

func (BaseHandler) ShouldHandle(smartthings.Device) bool { return true }

func (BaseHandler) BeforeSetCloudState(smartthings.Device, Proposal) HookResult[Proposal] {
	return Pass[Proposal]()
}

func (BaseHandler) BeforeSetAccessoryState(smartthings.Device, smartthings.DeviceState) HookResult[smartthings.DeviceState] {
	return Pass[smartthings.DeviceState]()
}

func (BaseHandler) AfterDeviceUpdate(smartthings.Device, smartthings.DeviceState, smartthings.DeviceState) {
}

func (BaseHandler) OnPollCycle(context.Context, []DeviceSnapshot) {}

// Chain dispatches to handlers in registration order.
type Chain struct {
	handlers []Handler
	logger   *slog.Logger
}

// NewChain creates a dispatch chain.
func NewChain(logger *slog.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{handlers: handlers, logger: logger}
}

// Register appends a handler to the chain.
func (c *Chain) Register(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Handlers returns the chain in dispatch order.
func (c *Chain) Handlers() []Handler {
	return c.handlers
}

// BeforeSetCloudState folds the proposal through every matching
// handler. The second return is false when a handler cancelled.
func (c *Chain) BeforeSetCloudState(dev smartthings.Device, proposed Proposal) (Proposal, bool) {
	for _, h := range c.handlers {
		if !h.ShouldHandle(dev) {
			continue
		}
		res := h.BeforeSetCloudState(dev, proposed)
		if res.Cancel {
			c.logger.Debug("cloud write cancelled by handler", "handler", h.Name(), "device_id", dev.ID)
			return proposed, false
		}
		if res.Modified {
			proposed = res.Value
		}
	}
	return proposed, true
}

// BeforeSetAccessoryState folds fresh state through every matching
// handler. The second return is false when a handler cancelled.
func (c *Chain) BeforeSetAccessoryState(dev smartthings.Device, proposed smartthings.DeviceState) (smartthings.DeviceState, bool) {
	for _, h := range c.handlers {
		if !h.ShouldHandle(dev) {
			continue
		}
		res := h.BeforeSetAccessoryState(dev, proposed)
		if res.Cancel {
			c.logger.Debug("accessory push cancelled by handler", "handler", h.Name(), "device_id", dev.ID)
			return proposed, false
		}
		if res.Modified {
			proposed = res.Value
		}
	}
	return proposed, true
}

// AfterDeviceUpdate notifies every matching handler of an applied change.
func (c *Chain) AfterDeviceUpdate(dev smartthings.Device, oldState, newState smartthings.DeviceState) {
	for _, h := range c.handlers {
		if h.ShouldHandle(dev) {
			h.AfterDeviceUpdate(dev, oldState, newState)
		}
	}
}

// OnPollCycle notifies every handler that a poll cycle completed.
func (c *Chain) OnPollCycle(ctx context.Context, devices []DeviceSnapshot) {
	for _, h := range c.handlers {
		h.OnPollCycle(ctx, devices)
	}
}
