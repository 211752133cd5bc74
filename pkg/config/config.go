// Package config loads the bridge configuration: built-in defaults,
// overlaid by an optional YAML file, overlaid by STBRIDGE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultPollSeconds      = 300
	DefaultLightScanSeconds = 900
	DefaultBridgePort       = 51826
	DefaultWebPort          = 8080
	DefaultBridgeName       = "ST Bridge"
	DefaultBridgePIN        = "031-45-154"
)

// ErrMissingCredentials is returned by Validate when the cloud client
// credentials are absent.
var ErrMissingCredentials = errors.New("config: client ID and client secret are required")

// Config is the full bridge configuration.
type Config struct {
	// Cloud OAuth application credentials. Required.
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURI  string `yaml:"redirectUri"`

	// File locations. Empty paths are derived from PersistDir.
	PersistDir string `yaml:"persistDir"`
	TokenFile  string `yaml:"tokenFile"`
	StateFile  string `yaml:"stateFile"`

	// Polling and sweep intervals, in seconds.
	PollSeconds      int `yaml:"pollSeconds"`
	LightScanSeconds int `yaml:"lightScanSeconds"`

	// Accessory bridge parameters.
	BridgeName     string `yaml:"bridgeName"`
	BridgePort     int    `yaml:"bridgePort"`
	BridgePIN      string `yaml:"bridgePin"`
	BridgeUsername string `yaml:"bridgeUsername"`

	// Web API port.
	WebPort int `yaml:"webPort"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"logLevel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PersistDir:       defaultPersistDir(),
		PollSeconds:      DefaultPollSeconds,
		LightScanSeconds: DefaultLightScanSeconds,
		BridgeName:       DefaultBridgeName,
		BridgePort:       DefaultBridgePort,
		BridgePIN:        DefaultBridgePIN,
		WebPort:          DefaultWebPort,
		LogLevel:         "info",
	}
}

func defaultPersistDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stbridge"
	}
	return filepath.Join(home, ".stbridge")
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or the file is absent), then environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.fillDerived()
	return cfg, nil
}

// applyEnv overlays STBRIDGE_* environment variables.
func (c *Config) applyEnv() {
	envString("STBRIDGE_CLIENT_ID", &c.ClientID)
	envString("STBRIDGE_CLIENT_SECRET", &c.ClientSecret)
	envString("STBRIDGE_REDIRECT_URI", &c.RedirectURI)
	envString("STBRIDGE_TOKEN_FILE", &c.TokenFile)
	envString("STBRIDGE_STATE_FILE", &c.StateFile)
	envString("STBRIDGE_PERSIST_DIR", &c.PersistDir)
	envString("STBRIDGE_BRIDGE_PIN", &c.BridgePIN)
	envString("STBRIDGE_BRIDGE_USERNAME", &c.BridgeUsername)
	envString("STBRIDGE_LOG_LEVEL", &c.LogLevel)
	envInt("STBRIDGE_POLL_SECONDS", &c.PollSeconds)
	envInt("STBRIDGE_LIGHT_SCAN_SECONDS", &c.LightScanSeconds)
	envInt("STBRIDGE_BRIDGE_PORT", &c.BridgePort)
	envInt("STBRIDGE_WEB_PORT", &c.WebPort)
}

// fillDerived resolves empty file paths against PersistDir.
func (c *Config) fillDerived() {
	if c.TokenFile == "" {
		c.TokenFile = filepath.Join(c.PersistDir, "token.json")
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.PersistDir, "state.json")
	}
}

// AutoModeFile is the auto-mode controller state path.
func (c *Config) AutoModeFile() string {
	return filepath.Join(c.PersistDir, "automode.json")
}

// CacheFile is the accessory identity cache path.
func (c *Config) CacheFile() string {
	return filepath.Join(c.PersistDir, "accessory-cache.json")
}

// PluginStateFile is the namespaced plugin state path.
func (c *Config) PluginStateFile() string {
	return filepath.Join(c.PersistDir, "plugins.json")
}

// EventLogFile is the CBOR event log path.
func (c *Config) EventLogFile() string {
	return filepath.Join(c.PersistDir, "events.cborlog")
}

// Validate checks the invariants the bridge cannot start without.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}
	if c.PollSeconds < 0 {
		return fmt.Errorf("config: poll interval must not be negative, got %d", c.PollSeconds)
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}
