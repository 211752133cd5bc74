package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stbridge/stbridge-go/pkg/accessory"
	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/plugin"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// ErrUnknownDevice is returned for events naming a device the
// coordinator has no metadata for.
var ErrUnknownDevice = errors.New("coordinator: unknown device")

// CloudClient is the slice of the cloud client the coordinator uses.
type CloudClient interface {
	ListDevices(ctx context.Context) ([]smartthings.Device, error)
	GetStatus(ctx context.Context, dev smartthings.Device) (smartthings.DeviceState, error)
	ExecuteThermostatCommands(ctx context.Context, dev smartthings.Device, cmds []smartthings.Command) error
}

// materialDelta is the change threshold below which accessory pushes
// are suppressed, in °F.
const materialDelta = 0.5

// Config wires a Coordinator.
type Config struct {
	Client   CloudClient
	Bridge   accessory.Bridge
	Chain    *plugin.Chain
	Cache    *accessory.Cache
	Cooldown *accessory.Cooldown
	Store    *persistence.CoordinatorStore

	// PollIntervalSeconds is normalized via NormalizePollInterval.
	PollIntervalSeconds int

	// Include filters the cloud device list. Nil includes everything.
	Include func(dev smartthings.Device) bool

	// GlobalMode supplies the persisted currentMode field, typically
	// the auto-mode controller's running mode. Nil persists "off".
	GlobalMode func() string

	Logger   *slog.Logger
	EventLog log.Logger
}

// Coordinator owns the device registry and the poll loop.
type Coordinator struct {
	client   CloudClient
	bridge   accessory.Bridge
	chain    *plugin.Chain
	cache    *accessory.Cache
	cooldown *accessory.Cooldown
	store    *persistence.CoordinatorStore

	interval   time.Duration
	include    func(smartthings.Device) bool
	globalMode func() string

	mu      sync.Mutex
	devices map[string]smartthings.Device
	states  map[string]smartthings.DeviceState
	paired  map[string]struct{}

	polling atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	logger   *slog.Logger
	eventLog log.Logger
	now      func() time.Time
}

// NormalizePollInterval maps a configured interval in seconds onto the
// supported schedule: whole minutes when the value divides evenly,
// every minute otherwise. Sub-minute polling is not supported; the
// cloud's update latency gains nothing from it.
func NormalizePollInterval(seconds int) time.Duration {
	if seconds >= 60 && seconds%60 == 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Minute
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cooldown := cfg.Cooldown
	if cooldown == nil {
		cooldown = accessory.NewCooldown(accessory.DefaultCooldown)
	}
	return &Coordinator{
		client:     cfg.Client,
		bridge:     cfg.Bridge,
		chain:      cfg.Chain,
		cache:      cfg.Cache,
		cooldown:   cooldown,
		store:      cfg.Store,
		interval:   NormalizePollInterval(cfg.PollIntervalSeconds),
		include:    cfg.Include,
		globalMode: cfg.GlobalMode,
		devices:    make(map[string]smartthings.Device),
		states:     make(map[string]smartthings.DeviceState),
		paired:     make(map[string]struct{}),
		logger:     logger,
		eventLog:   log.OrNoop(cfg.EventLog),
		now:        time.Now,
	}
}

// PollInterval returns the normalized poll interval.
func (c *Coordinator) PollInterval() time.Duration {
	return c.interval
}

// Start launches the poll loop. Stop with Stop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Stop halts the poll loop. An in-flight cycle completes first.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
}

// tick runs one cycle unless the previous one is still going.
func (c *Coordinator) tick(ctx context.Context) {
	if !c.polling.CompareAndSwap(false, true) {
		c.logger.Warn("poll cycle still running, skipping tick")
		return
	}
	defer c.polling.Store(false)

	if err := c.PollOnce(ctx); err != nil {
		c.logger.Error("poll cycle failed", "error", err)
		c.eventLog.Log(log.NewErrorEvent("", "poll", err))
	}
}

// Reload fetches the device list and reconciles the paired set:
// accessories are removed for dropped devices and published for new
// thermostat-like ones, while metadata is kept for every included
// device so plugins can see the non-HVAC ones too.
func (c *Coordinator) Reload(ctx context.Context) error {
	all, err := c.client.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("reload device list: %w", err)
	}

	included := make([]smartthings.Device, 0, len(all))
	for _, dev := range all {
		if c.include == nil || c.include(dev) {
			included = append(included, dev)
		}
	}

	c.mu.Lock()
	next := make(map[string]struct{})
	metadata := make(map[string]smartthings.Device, len(included))
	for _, dev := range included {
		metadata[dev.ID] = dev
		if dev.IsThermostatLike() {
			next[dev.ID] = struct{}{}
		}
	}

	var added, dropped []smartthings.Device
	for id := range c.paired {
		if _, still := next[id]; !still {
			dropped = append(dropped, c.devices[id])
		}
	}
	for id := range next {
		if _, had := c.paired[id]; !had {
			added = append(added, metadata[id])
		}
	}

	c.devices = metadata
	c.paired = next
	for id := range c.states {
		if _, ok := metadata[id]; !ok {
			delete(c.states, id)
		}
	}
	c.mu.Unlock()

	for _, dev := range dropped {
		if err := c.bridge.RemoveAccessory(dev.ID); err != nil {
			c.logger.Error("failed to remove accessory", "device_id", dev.ID, "error", err)
		}
		c.cooldown.Reset(dev.ID)
		c.eventLog.Log(log.NewAccessoryEvent(dev.ID, "remove", ""))
	}
	for _, dev := range added {
		identity := c.cache.Identity(dev)
		if err := c.bridge.PublishAccessory(identity, dev); err != nil {
			c.logger.Error("failed to publish accessory", "device_id", dev.ID, "error", err)
			continue
		}
		c.eventLog.Log(log.NewAccessoryEvent(dev.ID, "publish", identity.Name))
	}

	c.logger.Info("device registry reloaded",
		"included", len(included), "paired", len(next),
		"added", len(added), "removed", len(dropped))

	if err := c.PollOnce(ctx); err != nil {
		return err
	}
	return nil
}

// Device returns the metadata for one device.
func (c *Coordinator) Device(deviceID string) (smartthings.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.devices[deviceID]
	return dev, ok
}

// PairedIDs returns the sorted paired-device set.
func (c *Coordinator) PairedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.paired))
	for id := range c.paired {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshots returns a copy of every known device and its last state,
// sorted by device ID.
func (c *Coordinator) Snapshots() []plugin.DeviceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]plugin.DeviceSnapshot, 0, len(c.devices))
	for id, dev := range c.devices {
		out = append(out, plugin.DeviceSnapshot{
			Device: dev,
			State:  c.states[id].Clone(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// StatesSnapshot returns a copy of the paired devices' states.
func (c *Coordinator) StatesSnapshot() map[string]smartthings.DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]smartthings.DeviceState, len(c.paired))
	for id := range c.paired {
		out[id] = c.states[id].Clone()
	}
	return out
}
