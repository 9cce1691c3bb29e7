// Package monitoring provides the ops/diag/trace log streams shared by the
// pipeline packages.
//
// Each package owns a *Streams value and exposes SetLogWriters so the
// surrounding process decides where each stream goes:
//
//   - ops:   actionable warnings, errors, dropped work
//   - diag:  day-to-day diagnostics and tuning context
//   - trace: high-frequency per-frame telemetry
//
// A nil writer disables the stream.
package monitoring

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Streams is a set of three independently routed zerolog loggers for one
// component. The zero value is not usable; call NewStreams.
type Streams struct {
	component string
	ops       atomic.Pointer[zerolog.Logger]
	diag      atomic.Pointer[zerolog.Logger]
	trace     atomic.Pointer[zerolog.Logger]
}

// NewStreams returns streams for component with every stream disabled.
func NewStreams(component string) *Streams {
	return &Streams{component: component}
}

// Component returns the component tag attached to every record.
func (s *Streams) Component() string {
	return s.component
}

// SetWriters replaces the three writers. Safe to call while other
// goroutines are logging.
func (s *Streams) SetWriters(ops, diag, trace io.Writer) {
	s.ops.Store(NewStream(s.component, ops))
	s.diag.Store(NewStream(s.component, diag))
	s.trace.Store(NewStream(s.component, trace))
}

// Opsf logs to the ops stream at warn level.
func (s *Streams) Opsf(format string, args ...interface{}) {
	if l := s.ops.Load(); l != nil {
		l.Warn().Msgf(format, args...)
	}
}

// Diagf logs to the diag stream at info level.
func (s *Streams) Diagf(format string, args ...interface{}) {
	if l := s.diag.Load(); l != nil {
		l.Info().Msgf(format, args...)
	}
}

// Tracef logs to the trace stream at debug level.
func (s *Streams) Tracef(format string, args ...interface{}) {
	if l := s.trace.Load(); l != nil {
		l.Debug().Msgf(format, args...)
	}
}

// NewStream builds a structured logger tagged with component, or nil when
// w is nil. Writes are serialised so a plain buffer can be shared between
// goroutines.
func NewStream(component string, w io.Writer) *zerolog.Logger {
	if w == nil {
		return nil
	}
	l := zerolog.New(zerolog.SyncWriter(w)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return &l
}

// ParseLevel maps a level name to the writers a component should receive:
// "ops" enables ops only, "diag" enables ops and diag, "trace" enables all
// three. An empty name is treated as "ops".
func ParseLevel(name string, w io.Writer) (ops, diag, trace io.Writer, err error) {
	switch name {
	case "", "ops":
		return w, nil, nil, nil
	case "diag":
		return w, w, nil, nil
	case "trace":
		return w, w, w, nil
	case "off":
		return nil, nil, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", name)
	}
}
