package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes bridge events to an slog.Logger.
// Useful during development to see event traffic on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}

	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}

	switch {
	case event.Poll != nil:
		attrs = append(attrs,
			slog.Int("devices", event.Poll.Devices),
			slog.Int("updated", event.Poll.Updated),
			slog.Int64("duration_ms", event.Poll.DurationMS),
		)
	case event.Command != nil:
		attrs = append(attrs,
			slog.String("capability", event.Command.Capability),
			slog.String("command", event.Command.Command),
			slog.Bool("success", event.Command.Success),
		)
		if event.Command.Arguments != "" {
			attrs = append(attrs, slog.String("arguments", event.Command.Arguments))
		}
	case event.Auth != nil:
		attrs = append(attrs,
			slog.String("action", event.Auth.Action),
			slog.Bool("success", event.Auth.Success),
		)
	case event.Decision != nil:
		attrs = append(attrs,
			slog.String("mode", event.Decision.Mode),
			slog.Float64("total_heat", event.Decision.TotalHeat),
			slog.Float64("total_cool", event.Decision.TotalCool),
			slog.Bool("suppressed", event.Decision.Suppressed),
		)
		if event.Decision.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Decision.Reason))
		}
	case event.Accessory != nil:
		attrs = append(attrs, slog.String("action", event.Accessory.Action))
		if event.Accessory.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.Accessory.Detail))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("operation", event.Error.Operation),
			slog.String("error", event.Error.Message),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "bridge event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
