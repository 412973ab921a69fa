// Package aperrors defines the error taxonomy shared across the module
// (spec.md §7). Every fallible operation returns or wraps an *Error so
// callers can switch on Kind rather than parse strings.
package aperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for programmatic handling.
type Kind int

// Error kinds, matching spec.md §7's taxonomy.
const (
	KindUnknown Kind = iota
	KindDeviceNotFound
	KindDiscoveryFailed
	KindConnectionFailed
	KindDisconnected
	KindConnectionTimeout
	KindAuthenticationFailed
	KindPairingRequired
	KindPairingInvalid
	KindRTSPError
	KindRTPError
	KindUnexpectedResponse
	KindCodecError
	KindPlaybackError
	KindInvalidURL
	KindUnsupportedFormat
	KindQueueError
	KindSeekOutOfRange
	KindNetwork
	KindTimeout
	KindInvalidState
	KindDeviceBusy
	KindInternal
	KindNotImplemented
	KindInvalidParameter
)

func (k Kind) String() string {
	switch k {
	case KindDeviceNotFound:
		return "device-not-found"
	case KindDiscoveryFailed:
		return "discovery-failed"
	case KindConnectionFailed:
		return "connection-failed"
	case KindDisconnected:
		return "disconnected"
	case KindConnectionTimeout:
		return "connection-timeout"
	case KindAuthenticationFailed:
		return "authentication-failed"
	case KindPairingRequired:
		return "pairing-required"
	case KindPairingInvalid:
		return "pairing-invalid"
	case KindRTSPError:
		return "rtsp-error"
	case KindRTPError:
		return "rtp-error"
	case KindUnexpectedResponse:
		return "unexpected-response"
	case KindCodecError:
		return "codec-error"
	case KindPlaybackError:
		return "playback-error"
	case KindInvalidURL:
		return "invalid-url"
	case KindUnsupportedFormat:
		return "unsupported-format"
	case KindQueueError:
		return "queue-error"
	case KindSeekOutOfRange:
		return "seek-out-of-range"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindInvalidState:
		return "invalid-state"
	case KindDeviceBusy:
		return "device-busy"
	case KindInternal:
		return "internal"
	case KindNotImplemented:
		return "not-implemented"
	case KindInvalidParameter:
		return "invalid-parameter"
	default:
		return "unknown"
	}
}

// Details carries kind-specific structured context, e.g. the RTSP status
// code for KindRTSPError or whether an authentication failure is
// recoverable by retry.
type Details struct {
	RTSPStatus  int
	Recoverable bool
}

// Error is the single error type returned across the module's public API.
type Error struct {
	Kind    Kind
	Message string
	Details Details
	cause   error
}

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that wraps cause, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, aperrors.New(aperrors.KindPairingInvalid, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// Event is the single structured transition emitted per spec.md §7 so a
// caller UI can render a comprehensible message without protocol jargon.
type Event struct {
	Kind    Kind
	Details Details
}

// EventFromError builds the user-visible Event for an error, or the zero
// Event if err is nil.
func EventFromError(err error) Event {
	if err == nil {
		return Event{}
	}
	var ae *Error
	if errors.As(err, &ae) {
		return Event{Kind: ae.Kind, Details: ae.Details}
	}
	return Event{Kind: KindInternal}
}
