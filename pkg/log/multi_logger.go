package log

// MultiLogger fans an event out to several sinks, typically the CBOR
// file log plus a SlogAdapter mirror when debugging.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a MultiLogger over the given sinks. Nil sinks
// are skipped.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	out := make([]Logger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiLogger{sinks: out}
}

// Log delivers the event to every sink in order.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
