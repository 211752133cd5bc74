package plugin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stbridge/stbridge-go/pkg/automode"
	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// ModeWriter pushes a mode change for one device down the regular
// cloud-write path.
type ModeWriter func(ctx context.Context, deviceID string, mode smartthings.Mode) error

// hvacState is the handler's persisted namespace payload.
type hvacState struct {
	Weights map[string]float64 `json:"weights"`
}

// HVACAutoMode bridges accessories and the auto-mode controller. A
// device whose accessory is set to "auto" enrolls; the handler then
// owns its mode: downward writes carry whatever the shared compressor
// currently runs, and upward reads report "auto" so the accessory
// keeps showing the user's choice.
type HVACAutoMode struct {
	BaseHandler

	ctrl  *automode.Controller
	store *persistence.PluginStateStore

	mu        sync.Mutex
	weights   map[string]float64
	writeMode ModeWriter

	logger *slog.Logger
}

// NewHVACAutoMode creates the handler and loads its persisted weights.
func NewHVACAutoMode(ctrl *automode.Controller, store *persistence.PluginStateStore, logger *slog.Logger) *HVACAutoMode {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HVACAutoMode{
		ctrl:    ctrl,
		store:   store,
		weights: make(map[string]float64),
		logger:  logger,
	}
	if store != nil {
		var state hvacState
		found, err := store.Get(h.Name(), &state)
		if err != nil {
			logger.Error("failed to load hvac auto-mode state", "error", err)
		} else if found && state.Weights != nil {
			h.weights = state.Weights
		}
	}
	return h
}

func (h *HVACAutoMode) Name() string { return "hvac-automode" }

func (h *HVACAutoMode) ShouldHandle(dev smartthings.Device) bool {
	return dev.IsThermostatLike()
}

// BindModeWriter completes wiring once the cloud-write path exists.
// The handler is constructed before the component that owns that path,
// so the closure arrives by reassignment rather than at construction.
func (h *HVACAutoMode) BindModeWriter(fn ModeWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeMode = fn
}

// Weight returns the device's demand weight, defaulting to 1.
func (h *HVACAutoMode) Weight(deviceID string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.weights[deviceID]; ok {
		return w
	}
	return 1
}

// SetWeight sets and persists the device's demand weight.
func (h *HVACAutoMode) SetWeight(deviceID string, weight float64) error {
	h.mu.Lock()
	h.weights[deviceID] = weight
	state := hvacState{Weights: make(map[string]float64, len(h.weights))}
	for id, w := range h.weights {
		state.Weights[id] = w
	}
	h.mu.Unlock()

	if h.store == nil {
		return nil
	}
	return h.store.Set(h.Name(), state)
}

// BeforeSetCloudState intercepts mode intents. "auto" enrolls the
// device and is rewritten to the compressor's running mode; any
// concrete mode unenrolls and passes through.
func (h *HVACAutoMode) BeforeSetCloudState(dev smartthings.Device, proposed Proposal) HookResult[Proposal] {
	if proposed.Mode == nil {
		return Pass[Proposal]()
	}

	if *proposed.Mode == smartthings.ModeAuto {
		h.ctrl.Enroll(dev.ID)
		translated := cloudMode(h.ctrl.CurrentMode())
		h.logger.Info("auto mode requested, translating to compressor mode",
			"device_id", dev.ID, "mode", translated)
		proposed.Mode = &translated
		return Modify(proposed)
	}

	h.ctrl.Unenroll(dev.ID)
	return Pass[Proposal]()
}

// BeforeSetAccessoryState reports "auto" upward for enrolled devices.
func (h *HVACAutoMode) BeforeSetAccessoryState(dev smartthings.Device, proposed smartthings.DeviceState) HookResult[smartthings.DeviceState] {
	if !h.ctrl.IsEnrolled(dev.ID) {
		return Pass[smartthings.DeviceState]()
	}
	proposed.Mode = smartthings.ModeAuto
	return Modify(proposed)
}

// OnPollCycle evaluates the shared-compressor mode from the enrolled
// devices' latest state and, on a switch, broadcasts the new mode to
// every enrolled device through the cloud-write path.
func (h *HVACAutoMode) OnPollCycle(ctx context.Context, devices []DeviceSnapshot) {
	var views []automode.DeviceView
	var enrolled []DeviceSnapshot
	for _, snap := range devices {
		if !h.ShouldHandle(snap.Device) || !h.ctrl.IsEnrolled(snap.Device.ID) {
			continue
		}
		enrolled = append(enrolled, snap)
		if view, ok := h.deviceView(snap); ok {
			views = append(views, view)
		}
	}
	if len(enrolled) == 0 {
		return
	}

	dec := h.ctrl.Evaluate(views)
	if !h.ctrl.ApplyDecision(dec) {
		return
	}

	h.mu.Lock()
	write := h.writeMode
	h.mu.Unlock()
	if write == nil {
		h.logger.Warn("mode switch decided but no cloud writer bound", "mode", dec.Mode)
		return
	}

	mode := cloudMode(dec.Mode)
	for _, snap := range enrolled {
		if err := write(ctx, snap.Device.ID, mode); err != nil {
			h.logger.Error("failed to broadcast mode switch",
				"device_id", snap.Device.ID, "mode", mode, "error", err)
		}
	}
}

// deviceView derives the demand inputs from a snapshot. Devices without
// any setpoint carry no demand and are left out.
func (h *HVACAutoMode) deviceView(snap DeviceSnapshot) (automode.DeviceView, bool) {
	state := snap.State

	lower, lowerOK := 0.0, false
	if state.HeatingSetpoint != nil {
		lower, lowerOK = *state.HeatingSetpoint, true
	}
	upper, upperOK := 0.0, false
	if state.CoolingSetpoint != nil {
		upper, upperOK = *state.CoolingSetpoint, true
	}

	// Single-setpoint devices use the one setpoint as both bounds; the
	// hysteresis and flip guard keep that from thrashing.
	if !lowerOK && upperOK {
		lower = upper
	}
	if !upperOK && lowerOK {
		upper = lower
	}
	if !lowerOK && !upperOK {
		return automode.DeviceView{}, false
	}

	return automode.DeviceView{
		ID:          snap.Device.ID,
		Name:        snap.Device.Name,
		Temperature: state.Temperature,
		LowerBound:  lower,
		UpperBound:  upper,
		Weight:      h.Weight(snap.Device.ID),
	}, true
}

// cloudMode maps a compressor mode onto the cloud's mode vocabulary.
func cloudMode(m automode.Mode) smartthings.Mode {
	switch m {
	case automode.ModeHeat:
		return smartthings.ModeHeat
	case automode.ModeCool:
		return smartthings.ModeCool
	default:
		return smartthings.ModeOff
	}
}
