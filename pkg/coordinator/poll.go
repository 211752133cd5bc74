package coordinator

import (
	"context"
	"math"
	"sync"

	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

type fetchResult struct {
	dev   smartthings.Device
	state smartthings.DeviceState
	err   error
}

// PollOnce runs a single poll cycle: fetch every paired device's status
// in parallel, apply the results serially, push material changes to the
// accessory side, then give plugins their end-of-cycle hook and persist.
func (c *Coordinator) PollOnce(ctx context.Context) error {
	started := c.now()

	c.mu.Lock()
	targets := make([]smartthings.Device, 0, len(c.paired))
	for id := range c.paired {
		targets = append(targets, c.devices[id])
	}
	c.mu.Unlock()

	results := make([]fetchResult, len(targets))
	var wg sync.WaitGroup
	for i, dev := range targets {
		wg.Add(1)
		go func(i int, dev smartthings.Device) {
			defer wg.Done()
			state, err := c.client.GetStatus(ctx, dev)
			results[i] = fetchResult{dev: dev, state: state, err: err}
		}(i, dev)
	}
	wg.Wait()

	updated := 0
	for _, res := range results {
		if res.err != nil {
			c.logger.Warn("status fetch failed", "device_id", res.dev.ID, "error", res.err)
			c.eventLog.Log(log.NewErrorEvent(res.dev.ID, "status", res.err))
			continue
		}
		if c.applyUpdate(res.dev, res.state) {
			updated++
		}
	}

	c.chain.OnPollCycle(ctx, c.Snapshots())

	if err := c.persist(); err != nil {
		c.logger.Error("failed to persist coordinator state", "error", err)
	}

	c.eventLog.Log(log.NewPollEvent(len(targets), updated, c.now().Sub(started)))
	return nil
}

// applyUpdate stores the fresh state and, when the delta is material,
// pushes it through the accessory hook chain. Returns whether the
// device's accessory was updated.
func (c *Coordinator) applyUpdate(dev smartthings.Device, fresh smartthings.DeviceState) bool {
	fresh = smartthings.Normalize(dev, fresh)

	c.mu.Lock()
	old, known := c.states[dev.ID]
	c.states[dev.ID] = fresh
	c.mu.Unlock()

	if known && !isMaterial(old, fresh) {
		return false
	}

	proposed, ok := c.chain.BeforeSetAccessoryState(dev, fresh.Clone())
	if ok && c.cooldown.Allow(dev.ID) {
		if err := c.bridge.UpdateState(dev.ID, proposed); err != nil {
			c.logger.Error("accessory state push failed", "device_id", dev.ID, "error", err)
		}
	}

	c.chain.AfterDeviceUpdate(dev, old, fresh)
	return true
}

// isMaterial reports whether the change is worth pushing: a mode flip
// or any temperature/setpoint drift beyond the threshold.
func isMaterial(old, fresh smartthings.DeviceState) bool {
	if old.Mode != fresh.Mode {
		return true
	}
	if math.Abs(old.Temperature-fresh.Temperature) > materialDelta {
		return true
	}
	if setpointMoved(old.HeatingSetpoint, fresh.HeatingSetpoint) {
		return true
	}
	return setpointMoved(old.CoolingSetpoint, fresh.CoolingSetpoint)
}

func setpointMoved(old, fresh *float64) bool {
	switch {
	case old == nil && fresh == nil:
		return false
	case old == nil || fresh == nil:
		return true
	default:
		return math.Abs(*old-*fresh) > materialDelta
	}
}
