package log

// Logger is the interface components implement to receive bridge log events.
// Pass nil or NoopLogger to disable event logging.
type Logger interface {
	// Log records a bridge event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking stalls
	// the poll loop.
	Log(event Event)
}

// NoopLogger discards all events. Use when event logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// OrNoop returns l, or NoopLogger when l is nil. Components call this
// once at construction so call sites never nil-check.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
