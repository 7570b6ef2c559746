package ami

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies an Error without requiring callers to match on
// wrapped sentinel values. See spec section 7 for the full taxonomy.
type Kind int

const (
	// KindTransport covers dial/read/write failures. Closes the session
	// and triggers the provider's reconnect loop.
	KindTransport Kind = iota
	// KindMalformedPacket is a logged-and-discarded parse failure; the
	// session continues.
	KindMalformedPacket
	// KindAuthenticationFailed means the login was rejected.
	KindAuthenticationFailed
	// KindProtocolMismatch means the greeting line wasn't recognised.
	KindProtocolMismatch
	// KindActionTimedOut means no terminator arrived within the deadline.
	KindActionTimedOut
	// KindActionCancelled means the action was cancelled through
	// Correlator.Cancel before it resolved.
	KindActionCancelled
	// KindDisconnected means the session closed with the action still
	// in flight.
	KindDisconnected
	// KindBusy means the session's write queue was saturated.
	KindBusy
	// KindInvalidArgument means a required action field was missing.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindMalformedPacket:
		return "MalformedPacket"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindProtocolMismatch:
		return "ProtocolMismatch"
	case KindActionTimedOut:
		return "ActionTimedOut"
	case KindActionCancelled:
		return "ActionCancelled"
	case KindDisconnected:
		return "Disconnected"
	case KindBusy:
		return "Busy"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the package. It
// carries a Kind for programmatic dispatch and wraps the underlying
// cause (via eris, so %+v still prints a stack trace from the point of
// origin) for humans reading logs.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps cause with eris at the call site so the stack trace
// reflects where the failure actually happened, not where it's logged.
func newError(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return &Error{Kind: kind, Err: eris.New(msg)}
	}
	return &Error{Kind: kind, Err: eris.Wrap(cause, msg)}
}

// KindOf extracts the Kind carried by err, if any, and reports whether
// one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
