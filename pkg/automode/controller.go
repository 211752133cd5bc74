package automode

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/persistence"
)

// Mode is the shared compressor's global mode.
type Mode string

// Global modes. There is no "auto" here: auto is what enrolled devices
// report upward, not something a compressor can run.
const (
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeOff  Mode = "off"
)

// String returns the mode name.
func (m Mode) String() string { return string(m) }

// Default tuning.
const (
	DefaultHysteresis        = 0.7 // °F
	DefaultFlipGuard         = 2.0 // °F
	DefaultRelativeThreshold = 0.25
	DefaultAbsoluteThreshold = 2.0 // °F demand units

	DefaultMinOff  = 300 * time.Second
	DefaultMinOn   = 600 * time.Second
	DefaultMinLock = 1800 * time.Second

	DefaultFreezeLimit   = 50.0 // °F
	DefaultOverheatLimit = 90.0 // °F
)

// Config tunes the controller.
type Config struct {
	// Hysteresis is the deadband beyond a bound before demand counts
	// when flipping against the running mode.
	Hysteresis float64

	// FlipGuard is the extra margin beyond hysteresis required before
	// demand against the running mode counts at all.
	FlipGuard float64

	// RelativeThreshold: the winner must exceed the loser by this
	// fraction for relative dominance.
	RelativeThreshold float64

	// AbsoluteThreshold: alternatively the winner may exceed the loser
	// by this absolute demand gap.
	AbsoluteThreshold float64

	// MinOff must elapse since the last off before leaving off.
	MinOff time.Duration

	// MinOn must elapse since the last on before entering off or
	// switching between heat and cool.
	MinOn time.Duration

	// MinLock must elapse since the last switch before switching
	// between heat and cool.
	MinLock time.Duration

	// FreezeLimit: any enrolled device below this forces heat.
	FreezeLimit float64

	// OverheatLimit: any enrolled device above this forces cool.
	OverheatLimit float64
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Hysteresis:        DefaultHysteresis,
		FlipGuard:         DefaultFlipGuard,
		RelativeThreshold: DefaultRelativeThreshold,
		AbsoluteThreshold: DefaultAbsoluteThreshold,
		MinOff:            DefaultMinOff,
		MinOn:             DefaultMinOn,
		MinLock:           DefaultMinLock,
		FreezeLimit:       DefaultFreezeLimit,
		OverheatLimit:     DefaultOverheatLimit,
	}
}

// DeviceView is the per-evaluation snapshot of one enrolled device.
type DeviceView struct {
	ID   string
	Name string

	// Temperature is the current reading in °F.
	Temperature float64

	// LowerBound is the heating setpoint; below it heat demand accrues.
	LowerBound float64

	// UpperBound is the cooling setpoint; above it cool demand accrues.
	UpperBound float64

	// Weight scales this device's demand. Must be >= 0; 0 mutes it.
	Weight float64
}

// DeviceDemand is one device's contribution in a decision record.
type DeviceDemand struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	HeatDemand float64 `json:"heatDemand"`
	CoolDemand float64 `json:"coolDemand"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	// Mode is the decided global mode (the held mode when suppressed).
	Mode Mode

	// TotalHeat and TotalCool are the summed weighted demands.
	TotalHeat float64
	TotalCool float64

	// Breakdown is the per-device demand contribution.
	Breakdown []DeviceDemand

	// Reason explains the decision for humans.
	Reason string

	// Suppressed is set when a desired switch was blocked by a timing
	// lock; Mode then equals the current mode.
	Suppressed bool

	// SecondsUntilAllowed is the remaining lock time when suppressed.
	SecondsUntilAllowed int
}

// Controller elects the global mode. It exclusively owns its persisted
// state; callers treat it as opaque.
type Controller struct {
	mu sync.Mutex

	cfg   Config
	store *persistence.AutoModeStore

	mode       Mode
	lastSwitch time.Time
	lastOn     time.Time
	lastOff    time.Time
	enrolled   map[string]struct{}

	logger   *slog.Logger
	eventLog log.Logger
	now      func() time.Time
}

// NewController creates a controller persisting to store.
func NewController(cfg Config, store *persistence.AutoModeStore, logger *slog.Logger, eventLog log.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		mode:     ModeOff,
		enrolled: make(map[string]struct{}),
		logger:   logger,
		eventLog: log.OrNoop(eventLog),
		now:      time.Now,
	}
}

// Load restores persisted mode, instants, and enrollment. Missing state
// is not an error.
func (c *Controller) Load() error {
	state, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load auto-mode state: %w", err)
	}
	if state == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch Mode(state.CurrentMode) {
	case ModeHeat, ModeCool, ModeOff:
		c.mode = Mode(state.CurrentMode)
	}
	c.lastSwitch = time.UnixMilli(state.LastSwitchTime)
	c.lastOn = time.UnixMilli(state.LastOnTime)
	c.lastOff = time.UnixMilli(state.LastOffTime)
	for _, id := range state.EnrolledDeviceIDs {
		c.enrolled[id] = struct{}{}
	}
	return nil
}

// persistLocked writes the current state. Persistence failure is logged
// and swallowed; the in-memory state stays authoritative.
func (c *Controller) persistLocked() {
	ids := make([]string, 0, len(c.enrolled))
	for id := range c.enrolled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	state := &persistence.AutoModeState{
		CurrentMode:       string(c.mode),
		LastSwitchTime:    c.lastSwitch.UnixMilli(),
		LastOnTime:        c.lastOn.UnixMilli(),
		LastOffTime:       c.lastOff.UnixMilli(),
		EnrolledDeviceIDs: ids,
	}
	if err := c.store.Save(state); err != nil {
		c.logger.Error("failed to persist auto-mode state", "error", err)
	}
}

// CurrentMode returns the running global mode.
func (c *Controller) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Enroll opts a device into coordination. Idempotent.
func (c *Controller) Enroll(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.enrolled[deviceID]; ok {
		return
	}
	c.enrolled[deviceID] = struct{}{}
	c.logger.Info("device enrolled in auto mode", "device_id", deviceID)
	c.persistLocked()
}

// Unenroll opts a device out. Idempotent.
func (c *Controller) Unenroll(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.enrolled[deviceID]; !ok {
		return
	}
	delete(c.enrolled, deviceID)
	c.logger.Info("device unenrolled from auto mode", "device_id", deviceID)
	c.persistLocked()
}

// IsEnrolled reports membership.
func (c *Controller) IsEnrolled(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.enrolled[deviceID]
	return ok
}

// EnrolledIDs returns a sorted snapshot of the enrollment set.
func (c *Controller) EnrolledIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.enrolled))
	for id := range c.enrolled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate computes the desired global mode from the device views.
// It does not change controller state; pass the result to ApplyDecision.
func (c *Controller) Evaluate(devices []DeviceView) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Safety overrides bypass demand weighing and timing locks.
	for _, d := range devices {
		if d.Temperature < c.cfg.FreezeLimit {
			dec := Decision{
				Mode:   ModeHeat,
				Reason: fmt.Sprintf("freeze protection: %s at %.1f°F (limit %.1f°F)", d.Name, d.Temperature, c.cfg.FreezeLimit),
			}
			dec.TotalHeat, dec.TotalCool, dec.Breakdown = c.demandsLocked(devices)
			c.logDecision(dec)
			return dec
		}
	}
	for _, d := range devices {
		if d.Temperature > c.cfg.OverheatLimit {
			dec := Decision{
				Mode:   ModeCool,
				Reason: fmt.Sprintf("overheat protection: %s at %.1f°F (limit %.1f°F)", d.Name, d.Temperature, c.cfg.OverheatLimit),
			}
			dec.TotalHeat, dec.TotalCool, dec.Breakdown = c.demandsLocked(devices)
			c.logDecision(dec)
			return dec
		}
	}

	totalHeat, totalCool, breakdown := c.demandsLocked(devices)
	desired, reason := c.electLocked(totalHeat, totalCool)

	dec := Decision{
		Mode:      desired,
		TotalHeat: totalHeat,
		TotalCool: totalCool,
		Breakdown: breakdown,
		Reason:    reason,
	}

	if desired != c.mode {
		if remaining := c.lockRemainingLocked(desired, now); remaining > 0 {
			dec.Mode = c.mode
			dec.Suppressed = true
			dec.SecondsUntilAllowed = int(math.Ceil(remaining.Seconds()))
			dec.Reason = fmt.Sprintf("%s; switch to %s held for %ds by timing lock", reason, desired, dec.SecondsUntilAllowed)
		}
	}

	c.logDecision(dec)
	return dec
}

// demandsLocked computes weighted demands with the flip guard applied
// against the currently running mode.
func (c *Controller) demandsLocked(devices []DeviceView) (totalHeat, totalCool float64, breakdown []DeviceDemand) {
	guard := c.cfg.Hysteresis + c.cfg.FlipGuard

	for _, d := range devices {
		w := d.Weight
		if w < 0 {
			w = 0
		}

		rawHeat := math.Max(0, d.LowerBound-d.Temperature)
		rawCool := math.Max(0, d.Temperature-d.UpperBound)

		// Flip guard: demand against the running mode needs to clear
		// the hysteresis plus the guard margin.
		if c.mode == ModeCool && d.Temperature >= d.LowerBound-guard {
			rawHeat = 0
		}
		if c.mode == ModeHeat && d.Temperature <= d.UpperBound+guard {
			rawCool = 0
		}

		dd := DeviceDemand{
			ID:         d.ID,
			Name:       d.Name,
			HeatDemand: w * rawHeat,
			CoolDemand: w * rawCool,
		}
		totalHeat += dd.HeatDemand
		totalCool += dd.CoolDemand
		breakdown = append(breakdown, dd)
	}
	return totalHeat, totalCool, breakdown
}

// electLocked applies the decision rules to the demand totals.
func (c *Controller) electLocked(totalHeat, totalCool float64) (Mode, string) {
	switch {
	case totalHeat == 0 && totalCool == 0:
		return ModeOff, "no demand"
	case totalCool == 0:
		return ModeHeat, fmt.Sprintf("heat demand %.2f, no cool demand", totalHeat)
	case totalHeat == 0:
		return ModeCool, fmt.Sprintf("cool demand %.2f, no heat demand", totalCool)
	}

	winner, loser := ModeHeat, totalCool
	winning := totalHeat
	if totalCool > totalHeat {
		winner, winning, loser = ModeCool, totalCool, totalHeat
	}

	relative := winning >= loser*(1+c.cfg.RelativeThreshold)
	absolute := winning-loser >= c.cfg.AbsoluteThreshold
	if relative || absolute {
		return winner, fmt.Sprintf("conflicting demand, %s dominant (heat %.2f vs cool %.2f)", winner, totalHeat, totalCool)
	}
	return c.mode, fmt.Sprintf("conflicting demand without dominance (heat %.2f vs cool %.2f), holding %s", totalHeat, totalCool, c.mode)
}

// lockRemainingLocked returns how long the applicable timing guards
// still block a switch from the current mode to desired. Zero means the
// switch is allowed.
func (c *Controller) lockRemainingLocked(desired Mode, now time.Time) time.Duration {
	var remaining time.Duration

	hold := func(since time.Time, min time.Duration) {
		if r := min - now.Sub(since); r > remaining {
			remaining = r
		}
	}

	switch {
	case c.mode == ModeOff:
		// Leaving off requires min-off.
		hold(c.lastOff, c.cfg.MinOff)
	case desired == ModeOff:
		// Entering off requires min-on.
		hold(c.lastOn, c.cfg.MinOn)
	default:
		// heat <-> cool requires min-on and min-lock.
		hold(c.lastOn, c.cfg.MinOn)
		hold(c.lastSwitch, c.cfg.MinLock)
	}

	if remaining < 0 {
		return 0
	}
	return remaining
}

// ApplyDecision commits a decision. Applying a decision whose mode
// equals the current mode is a no-op and leaves the persisted instants
// untouched.
func (c *Controller) ApplyDecision(dec Decision) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dec.Mode == c.mode {
		return false
	}

	now := c.now()
	c.logger.Info("global mode switch", "from", c.mode, "to", dec.Mode, "reason", dec.Reason)

	c.mode = dec.Mode
	c.lastSwitch = now
	if dec.Mode == ModeOff {
		c.lastOff = now
	} else {
		c.lastOn = now
	}
	c.persistLocked()
	return true
}

func (c *Controller) logDecision(dec Decision) {
	c.eventLog.Log(log.NewDecisionEvent(string(dec.Mode), dec.TotalHeat, dec.TotalCool,
		dec.Suppressed, dec.SecondsUntilAllowed, dec.Reason))
}
