package accessory

import (
	"sync"

	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// ThermostatEvent is a user intent arriving from a local accessory.
// Nil fields were not part of the intent.
type ThermostatEvent struct {
	DeviceID        string
	Mode            *smartthings.Mode
	HeatingSetpoint *float64
	CoolingSetpoint *float64
}

// EventHandler consumes thermostat events. Events are delivered one at
// a time; the handler runs to completion before the next is delivered.
type EventHandler func(ev ThermostatEvent)

// Bridge is the accessory-protocol surface the coordinator drives.
type Bridge interface {
	// PublishAccessory makes the device visible to local controllers
	// under its cached identity.
	PublishAccessory(identity persistence.AccessoryIdentity, dev smartthings.Device) error

	// RemoveAccessory unpublishes the device.
	RemoveAccessory(deviceID string) error

	// UpdateState pushes fresh state to the published accessory.
	UpdateState(deviceID string, state smartthings.DeviceState) error

	// OnThermostatEvent registers the handler for user intents.
	OnThermostatEvent(fn EventHandler)

	// Stop unpublishes everything and releases resources.
	Stop() error
}

// LoopbackBridge is an in-process Bridge. It records publishes and
// state pushes, and lets callers inject thermostat events, which makes
// it both the test double and the headless fallback.
type LoopbackBridge struct {
	mu      sync.Mutex
	handler EventHandler

	published map[string]persistence.AccessoryIdentity
	states    map[string]smartthings.DeviceState
	updates   map[string]int
}

// NewLoopbackBridge creates an empty loopback bridge.
func NewLoopbackBridge() *LoopbackBridge {
	return &LoopbackBridge{
		published: make(map[string]persistence.AccessoryIdentity),
		states:    make(map[string]smartthings.DeviceState),
		updates:   make(map[string]int),
	}
}

func (b *LoopbackBridge) PublishAccessory(identity persistence.AccessoryIdentity, dev smartthings.Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[identity.DeviceID] = identity
	return nil
}

func (b *LoopbackBridge) RemoveAccessory(deviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.published, deviceID)
	delete(b.states, deviceID)
	delete(b.updates, deviceID)
	return nil
}

func (b *LoopbackBridge) UpdateState(deviceID string, state smartthings.DeviceState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[deviceID] = state
	b.updates[deviceID]++
	return nil
}

func (b *LoopbackBridge) OnThermostatEvent(fn EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *LoopbackBridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = make(map[string]persistence.AccessoryIdentity)
	return nil
}

// Inject delivers a thermostat event as if a user had touched the
// accessory. The handler runs synchronously.
func (b *LoopbackBridge) Inject(ev ThermostatEvent) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// Published reports whether the device is currently published.
func (b *LoopbackBridge) Published(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.published[deviceID]
	return ok
}

// State returns the last pushed state for the device.
func (b *LoopbackBridge) State(deviceID string) (smartthings.DeviceState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[deviceID]
	return state, ok
}

// UpdateCount returns how many state pushes the device received.
func (b *LoopbackBridge) UpdateCount(deviceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates[deviceID]
}

var _ Bridge = (*LoopbackBridge)(nil)
