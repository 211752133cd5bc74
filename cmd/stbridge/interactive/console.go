// Package interactive provides the interactive command-line interface
// for the bridge.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/stbridge/stbridge-go/pkg/accessory"
	"github.com/stbridge/stbridge-go/pkg/auth"
	"github.com/stbridge/stbridge-go/pkg/automode"
	"github.com/stbridge/stbridge-go/pkg/coordinator"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

// Deps are the bridge components the console drives.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Auth        *auth.Manager
	AutoMode    *automode.Controller
}

// Console handles interactive mode for stbridge.
type Console struct {
	deps Deps
	rl   *readline.Instance
}

// New creates a new interactive console.
func New(deps Deps) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "stbridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{deps: deps, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "status", "s":
			c.cmdStatus()

		case "devices", "d":
			c.cmdDevices()

		case "mode", "m":
			c.cmdMode(ctx, args)

		case "automode", "am":
			c.cmdAutoMode()

		case "reload":
			c.cmdReload(ctx)

		case "refresh":
			c.cmdRefresh(ctx)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Bridge Commands:
  status              - Show bridge status (auth, devices, auto-mode)
  devices             - List known devices and their state
  mode <id> <mode>    - Set a device mode (heat, cool, auto, off)
  automode            - Show auto-mode controller status
  reload              - Re-fetch the device list from the cloud
  refresh             - Force an OAuth token refresh
  help                - Show this help
  quit                - Exit the bridge`)
}

func (c *Console) cmdStatus() {
	out := c.rl.Stdout()

	if tok := c.deps.Auth.Token(); tok != nil {
		fmt.Fprintf(out, "Auth:       authenticated, token expires %s\n",
			tok.ExpiresAt.Local().Format(time.RFC1123))
	} else {
		fmt.Fprintln(out, "Auth:       not authenticated")
	}
	fmt.Fprintf(out, "Paired:     %d device(s)\n", len(c.deps.Coordinator.PairedIDs()))
	fmt.Fprintf(out, "Auto-mode:  %s (%d enrolled)\n",
		c.deps.AutoMode.CurrentMode(), len(c.deps.AutoMode.EnrolledIDs()))
	fmt.Fprintf(out, "Polling:    every %s\n", c.deps.Coordinator.PollInterval())
}

func (c *Console) cmdDevices() {
	out := c.rl.Stdout()

	snaps := c.deps.Coordinator.Snapshots()
	if len(snaps) == 0 {
		fmt.Fprintln(out, "No devices known. Try 'reload'.")
		return
	}

	for _, snap := range snaps {
		kind := "sensor"
		if snap.Device.IsThermostatLike() {
			kind = "thermostat"
		}
		fmt.Fprintf(out, "%s  %-20s [%s]\n", snap.Device.ID, snap.Device.Name, kind)
		if snap.State.UpdatedAt.IsZero() {
			fmt.Fprintln(out, "    (no status yet)")
			continue
		}
		fmt.Fprintf(out, "    %.1f°F  mode=%s%s%s\n",
			snap.State.Temperature, snap.State.Mode,
			fmtSetpoint("  heat=", snap.State.HeatingSetpoint),
			fmtSetpoint("  cool=", snap.State.CoolingSetpoint))
	}
}

func (c *Console) cmdMode(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) != 2 {
		fmt.Fprintln(out, "Usage: mode <device-id> <heat|cool|auto|off>")
		return
	}

	mode := smartthings.Mode(strings.ToLower(args[1]))
	switch mode {
	case smartthings.ModeHeat, smartthings.ModeCool, smartthings.ModeAuto, smartthings.ModeOff:
	default:
		fmt.Fprintf(out, "Unknown mode: %s\n", args[1])
		return
	}

	// Route through the event path so the handler chain sees it, same as
	// an accessory-originated change.
	ev := accessory.ThermostatEvent{DeviceID: args[0], Mode: &mode}
	if err := c.deps.Coordinator.HandleThermostatEvent(ctx, ev); err != nil {
		fmt.Fprintf(out, "Failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Set %s to %s\n", args[0], mode)
}

func (c *Console) cmdAutoMode() {
	out := c.rl.Stdout()

	fmt.Fprintf(out, "Mode: %s\n", c.deps.AutoMode.CurrentMode())
	enrolled := c.deps.AutoMode.EnrolledIDs()
	if len(enrolled) == 0 {
		fmt.Fprintln(out, "No devices enrolled. Set a device to 'auto' to enroll it.")
		return
	}
	fmt.Fprintf(out, "Enrolled (%d):\n", len(enrolled))
	for _, id := range enrolled {
		if dev, ok := c.deps.Coordinator.Device(id); ok {
			fmt.Fprintf(out, "  %s  %s\n", id, dev.Name)
		} else {
			fmt.Fprintf(out, "  %s\n", id)
		}
	}
}

func (c *Console) cmdReload(ctx context.Context) {
	out := c.rl.Stdout()
	if err := c.deps.Coordinator.Reload(ctx); err != nil {
		fmt.Fprintf(out, "Reload failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Reloaded, %d device(s) paired\n", len(c.deps.Coordinator.PairedIDs()))
}

func (c *Console) cmdRefresh(ctx context.Context) {
	out := c.rl.Stdout()
	if err := c.deps.Auth.RefreshToken(ctx); err != nil {
		fmt.Fprintf(out, "Refresh failed: %v\n", err)
		return
	}
	if tok := c.deps.Auth.Token(); tok != nil {
		fmt.Fprintf(out, "Token refreshed, expires %s\n", tok.ExpiresAt.Local().Format(time.RFC1123))
	}
}

func fmtSetpoint(label string, v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%s%.1f", label, *v)
}
