package plugin

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// DefaultLightScanInterval is how often the display-light monitor
// sweeps when not configured otherwise.
const DefaultLightScanInterval = 15 * time.Minute

// LightClient is the slice of the cloud client the monitor needs.
type LightClient interface {
	GetStatus(ctx context.Context, dev smartthings.Device) (smartthings.DeviceState, error)
	SetDisplayLight(ctx context.Context, deviceID string, on bool) error
}

// DisplayLightMonitor periodically sweeps thermostat-like devices and
// turns their display panel back off when a command echo or a human at
// the unit lit it. It fetches fresh status per device rather than
// trusting the poll cache, since the panel state changes out of band.
type DisplayLightMonitor struct {
	BaseHandler

	client   LightClient
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	devices func() []DeviceSnapshot

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDisplayLightMonitor creates the monitor. A non-positive interval
// falls back to the default.
func NewDisplayLightMonitor(client LightClient, interval time.Duration, logger *slog.Logger) *DisplayLightMonitor {
	if interval <= 0 {
		interval = DefaultLightScanInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DisplayLightMonitor{
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

func (m *DisplayLightMonitor) Name() string { return "display-light-monitor" }

func (m *DisplayLightMonitor) ShouldHandle(dev smartthings.Device) bool {
	return dev.IsThermostatLike()
}

// BindDevices completes wiring once a device snapshot source exists.
func (m *DisplayLightMonitor) BindDevices(fn func() []DeviceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = fn
}

// Start launches the scheduled sweep. Stop with Stop.
func (m *DisplayLightMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the scheduled sweep and waits for an in-flight one.
func (m *DisplayLightMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

// Sweep runs one scan. A sweep that finds the previous one still
// running returns immediately instead of piling up.
func (m *DisplayLightMonitor) Sweep(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("display-light sweep still running, skipping tick")
		return
	}
	defer m.running.Store(false)

	m.mu.Lock()
	source := m.devices
	m.mu.Unlock()
	if source == nil {
		return
	}

	for _, snap := range source() {
		if !m.ShouldHandle(snap.Device) || !snap.Device.Has(smartthings.CapExecute) {
			continue
		}
		m.sweepDevice(ctx, snap.Device)
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *DisplayLightMonitor) sweepDevice(ctx context.Context, dev smartthings.Device) {
	state, err := m.client.GetStatus(ctx, dev)
	if err != nil {
		m.logger.Debug("display-light status fetch failed", "device_id", dev.ID, "error", err)
		return
	}
	if !state.DisplayLightOn {
		return
	}

	m.logger.Info("display light on, turning off", "device_id", dev.ID)
	if err := m.client.SetDisplayLight(ctx, dev.ID, false); err != nil {
		m.logger.Error("failed to turn display light off", "device_id", dev.ID, "error", err)
	}
}
