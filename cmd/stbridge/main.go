// Command stbridge bridges SmartThings HVAC devices to a local
// accessory controller.
//
// It polls the cloud for device status, exposes paired thermostats as
// local accessories, routes accessory intents back as cloud commands,
// and coordinates rooms sharing a single compressor through the
// auto-mode controller.
//
// Usage:
//
//	stbridge [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-state-dir string   Directory for persistent state
//	-log-level string   Log level: debug, info, warn, error (default from config)
//	-interactive        Enable interactive command mode
//	-reset              Clear persisted bridge state before starting (keeps the OAuth token)
//
// Examples:
//
//	# Start with a config file
//	stbridge -config /etc/stbridge.yaml
//
//	# Credentials from the environment, interactive console
//	STBRIDGE_CLIENT_ID=... STBRIDGE_CLIENT_SECRET=... stbridge -interactive
//
// Interactive Commands:
//
//	status              - Show bridge status
//	devices             - List known devices
//	mode <id> <mode>    - Set a device mode (heat, cool, auto, off)
//	automode            - Show auto-mode controller status
//	reload              - Re-fetch the device list
//	refresh             - Force an OAuth token refresh
//	quit                - Exit the bridge
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/stbridge/stbridge-go/cmd/stbridge/interactive"
	"github.com/stbridge/stbridge-go/pkg/accessory"
	"github.com/stbridge/stbridge-go/pkg/auth"
	"github.com/stbridge/stbridge-go/pkg/automode"
	"github.com/stbridge/stbridge-go/pkg/config"
	"github.com/stbridge/stbridge-go/pkg/coordinator"
	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/plugin"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
	"github.com/stbridge/stbridge-go/pkg/web"
)

const version = "1.0.0"

// authRefreshInterval is how often the refresh cron re-checks the
// token; the proactive margin inside the auth manager does the rest.
const authRefreshInterval = time.Hour

var flags struct {
	configFile  string
	stateDir    string
	logLevel    string
	interactive bool
	reset       bool
}

func init() {
	flag.StringVar(&flags.configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.stateDir, "state-dir", "", "Directory for persistent state")
	flag.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.interactive, "interactive", false, "Enable interactive command mode")
	flag.BoolVar(&flags.reset, "reset", false, "Clear persisted bridge state before starting (keeps the OAuth token)")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stbridge: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "stbridge: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

// applyFlagOverrides layers command-line flags over the loaded config;
// flags win over both file and environment.
func applyFlagOverrides(cfg *config.Config) {
	if flags.stateDir != "" {
		cfg.PersistDir = flags.stateDir
		cfg.TokenFile = filepath.Join(flags.stateDir, "token.json")
		cfg.StateFile = filepath.Join(flags.stateDir, "state.json")
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// Stores.
	tokenStore := persistence.NewTokenStore(cfg.TokenFile)
	coordStore := persistence.NewCoordinatorStore(cfg.StateFile)
	autoModeStore := persistence.NewAutoModeStore(cfg.AutoModeFile())
	cacheStore := persistence.NewCacheStore(cfg.CacheFile())
	pluginStore := persistence.NewPluginStateStore(cfg.PluginStateFile())

	if flags.reset {
		logger.Info("resetting persisted bridge state")
		for _, path := range []string{cfg.StateFile, cfg.AutoModeFile(), cfg.CacheFile(), cfg.PluginStateFile()} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to clear state file", "path", path, "error", err)
			}
		}
	}

	// Event log: always to file, mirrored to slog at debug level.
	fileLog, err := log.NewFileLogger(cfg.EventLogFile())
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer fileLog.Close()
	var eventLog log.Logger = fileLog
	if parseLogLevel(cfg.LogLevel) == slog.LevelDebug {
		eventLog = log.NewMultiLogger(fileLog, log.NewSlogAdapter(logger))
	}

	// Auth and cloud client.
	authMgr := auth.NewManager(auth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
	}, tokenStore, logger, eventLog)
	if err := authMgr.Load(); err != nil {
		logger.Warn("failed to load token", "error", err)
	}

	client := smartthings.NewClient(authMgr, smartthings.DefaultBaseURL, logger, eventLog)
	authMgr.OnChange(client.Invalidate)

	// Auto-mode controller.
	ctrl := automode.NewController(automode.DefaultConfig(), autoModeStore, logger, eventLog)
	if err := ctrl.Load(); err != nil {
		logger.Warn("failed to load auto-mode state", "error", err)
	}

	// Plugin chain: HVAC auto-mode first so it sees intents before the
	// passthrough, the light monitor piggybacking on the same chain.
	hvac := plugin.NewHVACAutoMode(ctrl, pluginStore, logger)
	monitor := plugin.NewDisplayLightMonitor(client, time.Duration(cfg.LightScanSeconds)*time.Second, logger)
	chain := plugin.NewChain(logger, hvac, monitor, plugin.NewCorePassthrough(logger))

	// Accessory side. The concrete protocol adapter is an external
	// collaborator; the loopback keeps everything downstream working.
	bridge := accessory.NewLoopbackBridge()
	cache := accessory.NewCache(cacheStore, version, logger)
	if err := cache.Load(); err != nil {
		logger.Warn("failed to load accessory cache", "error", err)
	}

	coord := coordinator.New(coordinator.Config{
		Client:              client,
		Bridge:              bridge,
		Chain:               chain,
		Cache:               cache,
		Store:               coordStore,
		PollIntervalSeconds: cfg.PollSeconds,
		GlobalMode:          func() string { return string(ctrl.CurrentMode()) },
		Logger:              logger,
		EventLog:            eventLog,
	})
	if err := coord.LoadState(); err != nil {
		logger.Warn("failed to load coordinator state", "error", err)
	}

	// Late binding: these closures need the coordinator, which is
	// constructed after the plugin chain.
	hvac.BindModeWriter(coord.WriteMode)
	monitor.BindDevices(coord.Snapshots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge.OnThermostatEvent(func(ev accessory.ThermostatEvent) {
		if err := coord.HandleThermostatEvent(ctx, ev); err != nil {
			logger.Error("thermostat event failed", "device_id", ev.DeviceID, "error", err)
		}
	})

	logger.Info("stbridge starting", "version", version,
		"poll_interval", coord.PollInterval(), "persist_dir", cfg.PersistDir)

	// Initial pairing pass when we already have credentials.
	if authMgr.EnsureValidToken(ctx) {
		if err := coord.Reload(ctx); err != nil {
			logger.Error("initial device reload failed", "error", err)
		}
	} else {
		logger.Warn("no valid token; waiting for authentication")
	}

	coord.Start(ctx)
	monitor.Start(ctx)
	go runAuthRefresh(ctx, authMgr, logger)

	advertiser := accessory.NewAdvertiser(accessory.AdvertiserConfig{
		Name:     cfg.BridgeName,
		Port:     cfg.BridgePort,
		DeviceID: cfg.BridgeUsername,
	})
	if err := advertiser.Start(); err != nil {
		logger.Warn("mDNS advertisement failed", "error", err)
	}

	webServer := web.NewServer(web.ServerConfig{
		Port:     cfg.WebPort,
		Version:  version,
		Devices:  coord,
		Auth:     authMgr,
		AutoMode: ctrl,
		Restart:  cancel,
		Logger:   logger,
	})
	go func() {
		if err := webServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("web server failed", "error", err)
		}
	}()

	if flags.interactive {
		console, err := interactive.New(interactive.Deps{
			Coordinator: coord,
			Auth:        authMgr,
			AutoMode:    ctrl,
		})
		if err != nil {
			return fmt.Errorf("start interactive console: %w", err)
		}
		// Route log output through readline so it does not mangle the prompt.
		slog.SetDefault(slog.New(slog.NewTextHandler(console.Stdout(), &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})))
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()

	// Shutdown order: poller, light monitor, then the outward surfaces.
	coord.Stop()
	monitor.Stop()
	advertiser.Stop()
	if err := bridge.Stop(); err != nil {
		logger.Warn("bridge stop failed", "error", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Close(shutdownCtx); err != nil {
		logger.Warn("web server shutdown failed", "error", err)
	}

	logger.Info("goodbye")
	return nil
}

// runAuthRefresh is the hourly token-refresh cron.
func runAuthRefresh(ctx context.Context, mgr *auth.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(authRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mgr.CheckAndRefreshToken(ctx); err != nil {
				logger.Warn("scheduled token refresh failed", "error", err)
			}
		}
	}
}
