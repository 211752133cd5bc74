package log

import (
	"time"
)

// Event represents a bridge log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"2,keyasint"`

	// DeviceID is the cloud device identifier, when the event concerns
	// a single device.
	DeviceID string `cbor:"3,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Poll      *PollEvent      `cbor:"4,keyasint,omitempty"`
	Command   *CommandEvent   `cbor:"5,keyasint,omitempty"`
	Auth      *AuthEvent      `cbor:"6,keyasint,omitempty"`
	Decision  *DecisionEvent  `cbor:"7,keyasint,omitempty"`
	Accessory *AccessoryEvent `cbor:"8,keyasint,omitempty"`
	Error     *ErrorEventData `cbor:"9,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryPoll marks a completed poll cycle.
	CategoryPoll Category = 0
	// CategoryCommand marks a command sent to the cloud.
	CategoryCommand Category = 1
	// CategoryAuth marks a token lifecycle event.
	CategoryAuth Category = 2
	// CategoryDecision marks an auto-mode evaluation.
	CategoryDecision Category = 3
	// CategoryAccessory marks accessory publish/remove/update traffic.
	CategoryAccessory Category = 4
	// CategoryError marks a failure at any layer.
	CategoryError Category = 5
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPoll:
		return "POLL"
	case CategoryCommand:
		return "COMMAND"
	case CategoryAuth:
		return "AUTH"
	case CategoryDecision:
		return "DECISION"
	case CategoryAccessory:
		return "ACCESSORY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PollEvent describes a completed poll cycle.
type PollEvent struct {
	// Devices is the number of paired devices polled.
	Devices int `cbor:"1,keyasint"`

	// Updated is the number of devices whose delta was material.
	Updated int `cbor:"2,keyasint"`

	// DurationMS is the cycle duration in milliseconds.
	DurationMS int64 `cbor:"3,keyasint"`
}

// CommandEvent describes a command executed against the cloud.
type CommandEvent struct {
	// Capability is the cloud capability the command targets.
	Capability string `cbor:"1,keyasint"`

	// Command is the command name.
	Command string `cbor:"2,keyasint"`

	// Arguments is a human-readable rendering of the arguments.
	Arguments string `cbor:"3,keyasint,omitempty"`

	// Success indicates whether the cloud accepted the command.
	Success bool `cbor:"4,keyasint"`
}

// AuthEvent describes a token lifecycle event.
type AuthEvent struct {
	// Action is one of "load", "refresh", "exchange", "clear".
	Action string `cbor:"1,keyasint"`

	// Success indicates whether the action succeeded.
	Success bool `cbor:"2,keyasint"`

	// ExpiresAt is the token expiry after the action, epoch ms.
	ExpiresAt int64 `cbor:"3,keyasint,omitempty"`
}

// DecisionEvent describes an auto-mode evaluation result.
type DecisionEvent struct {
	// Mode is the decided global mode.
	Mode string `cbor:"1,keyasint"`

	// TotalHeat is the summed weighted heat demand.
	TotalHeat float64 `cbor:"2,keyasint"`

	// TotalCool is the summed weighted cool demand.
	TotalCool float64 `cbor:"3,keyasint"`

	// Suppressed indicates a desired switch was blocked by a timing lock.
	Suppressed bool `cbor:"4,keyasint,omitempty"`

	// SecondsUntilAllowed is the remaining lock time when suppressed.
	SecondsUntilAllowed int `cbor:"5,keyasint,omitempty"`

	// Reason is the human-readable explanation.
	Reason string `cbor:"6,keyasint,omitempty"`
}

// AccessoryEvent describes accessory bridge traffic.
type AccessoryEvent struct {
	// Action is one of "publish", "remove", "update", "event".
	Action string `cbor:"1,keyasint"`

	// Detail carries action-specific context (e.g. requested mode).
	Detail string `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData describes a failure.
type ErrorEventData struct {
	// Operation names what was being attempted.
	Operation string `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`
}

// NewPollEvent creates a poll-cycle event.
func NewPollEvent(devices, updated int, duration time.Duration) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryPoll,
		Poll: &PollEvent{
			Devices:    devices,
			Updated:    updated,
			DurationMS: duration.Milliseconds(),
		},
	}
}

// NewCommandEvent creates a cloud-command event.
func NewCommandEvent(deviceID, capability, command, arguments string, success bool) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryCommand,
		DeviceID:  deviceID,
		Command: &CommandEvent{
			Capability: capability,
			Command:    command,
			Arguments:  arguments,
			Success:    success,
		},
	}
}

// NewAuthEvent creates a token lifecycle event.
func NewAuthEvent(action string, success bool, expiresAt int64) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryAuth,
		Auth: &AuthEvent{
			Action:    action,
			Success:   success,
			ExpiresAt: expiresAt,
		},
	}
}

// NewDecisionEvent creates an auto-mode decision event.
func NewDecisionEvent(mode string, totalHeat, totalCool float64, suppressed bool, secondsUntilAllowed int, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryDecision,
		Decision: &DecisionEvent{
			Mode:                mode,
			TotalHeat:           totalHeat,
			TotalCool:           totalCool,
			Suppressed:          suppressed,
			SecondsUntilAllowed: secondsUntilAllowed,
			Reason:              reason,
		},
	}
}

// NewAccessoryEvent creates an accessory traffic event.
func NewAccessoryEvent(deviceID, action, detail string) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryAccessory,
		DeviceID:  deviceID,
		Accessory: &AccessoryEvent{Action: action, Detail: detail},
	}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(deviceID, operation string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryError,
		DeviceID:  deviceID,
		Error:     &ErrorEventData{Operation: operation, Message: msg},
	}
}
