package accessory

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between state pushes to one
// accessory. Poll results and command echoes inside the window are
// absorbed.
const DefaultCooldown = 2 * time.Second

// Cooldown rate-limits accessory state pushes per device.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	lastPush map[string]time.Time
	now      func() time.Time
}

// NewCooldown creates a cooldown. A non-positive interval falls back to
// the default.
func NewCooldown(interval time.Duration) *Cooldown {
	if interval <= 0 {
		interval = DefaultCooldown
	}
	return &Cooldown{
		interval: interval,
		lastPush: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether the device may be pushed to now, and if so
// starts its window.
func (c *Cooldown) Allow(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastPush[deviceID]; ok && now.Sub(last) < c.interval {
		return false
	}
	c.lastPush[deviceID] = now
	return true
}

// Reset clears the device's window, typically after it is removed.
func (c *Cooldown) Reset(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastPush, deviceID)
}
