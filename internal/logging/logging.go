// Package logging centralizes the zerolog field-name conventions used
// across the module (spec.md §7: "one line per request/response at info,
// full protocol dump at debug, never in between"). Library code never
// reaches for a global logger: the Receiver and Sender accept a
// zerolog.Logger, defaulting to zerolog.Nop() when the caller supplies none,
// and pass child loggers down to their connections, following the field-per-struct pattern of
// github.com/rs/zerolog as used by the SilvaMendes-go-rtpengine teacher
// dependency.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field names shared across packages so a log aggregator can correlate
// across the control plane, pairing engine, and RTP pipeline by a single
// key rather than each package inventing its own spelling.
const (
	FieldSession   = "session_id"
	FieldCSeq      = "cseq"
	FieldMethod    = "method"
	FieldURI       = "uri"
	FieldState     = "state"
	FieldStatus    = "status"
	FieldPeer      = "peer"
	FieldComponent = "component"
	FieldKind      = "kind"
)

// Nop is the zero-cost logger used when a caller does not supply one.
var Nop = zerolog.Nop()

// NewConsole returns a human-readable console logger writing to w at level,
// the shape a CLI host (out of scope for this module, but a common embedder)
// would configure. Library code should not call this directly; it exists so
// tests and examples don't each hand-roll console setup.
func NewConsole(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}

// Component returns a child logger tagged with FieldComponent, the
// convention NewReceiver and NewSender use to scope their log lines
// (e.g. logging.Component(base, "receiver")).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str(FieldComponent, name).Logger()
}

// ForSession returns a child logger tagged with the session correlation id,
// used by the receiver's per-connection handler and the sender's Stream so
// every line for one connection can be filtered together.
func ForSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().Str(FieldSession, sessionID).Logger()
}

// RequestEvent logs a single info-level line for one RTSP/HTTP
// request/response pair, matching spec.md §7's "one line per request/
// response at info" — never the full protocol dump, which callers emit
// separately at debug via DebugFrame.
func RequestEvent(logger zerolog.Logger, method, uri string, cseq string, status int) {
	logger.Info().
		Str(FieldMethod, method).
		Str(FieldURI, uri).
		Str(FieldCSeq, cseq).
		Int(FieldStatus, status).
		Msg("request handled")
}

// DebugFrame logs the full raw bytes of a frame at debug level, the other
// half of spec.md §7's layered logging policy.
func DebugFrame(logger zerolog.Logger, direction string, raw []byte) {
	logger.Debug().
		Str("direction", direction).
		Bytes("frame", raw).
		Msg("protocol frame")
}
