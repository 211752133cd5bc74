package accessory

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters for the accessory bridge.
const (
	serviceType = "_hap._tcp"
	domain      = "local."
)

// AdvertiserConfig configures the bridge advertisement.
type AdvertiserConfig struct {
	// Name is the mDNS instance name.
	Name string

	// Port is the accessory-protocol port.
	Port int

	// DeviceID is the bridge's stable identifier, published in TXT.
	DeviceID string

	// Interface restricts advertising to one network interface. Empty
	// means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Default 120 seconds.
	TTL time.Duration
}

// Advertiser announces the accessory bridge over mDNS so local
// controllers can discover it.
type Advertiser struct {
	cfg AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(cfg AdvertiserConfig) *Advertiser {
	if cfg.TTL <= 0 {
		cfg.TTL = 120 * time.Second
	}
	return &Advertiser{cfg: cfg}
}

// interfaces returns the interfaces to advertise on, nil meaning all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.cfg.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.cfg.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Start registers the service. Restarting replaces the previous
// registration.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		"id=" + a.cfg.DeviceID,
		"md=" + a.cfg.Name,
		"ci=2", // accessory category: bridge
	}

	server, err := zeroconf.Register(
		a.cfg.Name,
		serviceType,
		domain,
		a.cfg.Port,
		txt,
		a.interfaces(),
		zeroconf.TTL(uint32(a.cfg.TTL.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register bridge service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
