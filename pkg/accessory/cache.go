package accessory

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// Cache hands out stable accessory identities. A device keeps its UUID
// and serial number for as long as the cache file lives, so local
// controllers see the same accessory across restarts and re-pairings.
type Cache struct {
	mu       sync.Mutex
	store    *persistence.CacheStore
	firmware string
	byDevice map[string]persistence.AccessoryIdentity
	logger   *slog.Logger
}

// NewCache creates an identity cache. firmware is reported as the
// accessory firmware revision.
func NewCache(store *persistence.CacheStore, firmware string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:    store,
		firmware: firmware,
		byDevice: make(map[string]persistence.AccessoryIdentity),
		logger:   logger,
	}
}

// Load reads the persisted identities. Missing file is not an error.
func (c *Cache) Load() error {
	identities, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load accessory cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range identities {
		c.byDevice[id.DeviceID] = id
	}
	return nil
}

// Identity returns the device's accessory identity, minting and
// persisting a fresh one on first sight. The name tracks the cloud
// label; everything else is stable.
func (c *Cache) Identity(dev smartthings.Device) persistence.AccessoryIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()

	identity, ok := c.byDevice[dev.ID]
	if !ok {
		identity = persistence.AccessoryIdentity{
			DeviceID:     dev.ID,
			UUID:         uuid.NewString(),
			SerialNumber: dev.ID,
		}
		c.logger.Info("new accessory identity", "device_id", dev.ID, "uuid", identity.UUID)
	}

	identity.Name = dev.Name
	identity.Manufacturer = dev.Manufacturer
	identity.Model = deviceModel(dev)
	identity.FirmwareRevision = c.firmware

	c.byDevice[dev.ID] = identity
	c.persistLocked()
	return identity
}

// Forget drops the device's identity. A re-added device becomes a new
// accessory.
func (c *Cache) Forget(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byDevice[deviceID]; !ok {
		return
	}
	delete(c.byDevice, deviceID)
	c.persistLocked()
}

func (c *Cache) persistLocked() {
	identities := make([]persistence.AccessoryIdentity, 0, len(c.byDevice))
	for _, id := range c.byDevice {
		identities = append(identities, id)
	}
	if err := c.store.Save(identities); err != nil {
		c.logger.Error("failed to persist accessory cache", "error", err)
	}
}

func deviceModel(dev smartthings.Device) string {
	if dev.IsThermostatLike() {
		return "Thermostat"
	}
	return "Sensor"
}
