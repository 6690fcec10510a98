package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is matched by every *ProtocolError.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCapabilityUnsupported is returned before any byte is sent when the
	// requested access mode was not advertised by the peer.
	ErrCapabilityUnsupported = errors.New("capability not supported by peer")

	// ErrAddressRange is returned when an address does not fit in the peer's addr_width.
	ErrAddressRange = fmt.Errorf("address out of range: %w", ErrCapabilityUnsupported)

	// ErrDesynchronized is returned by every call on a Client after an
	// exchange was abandoned part way. Close and reopen the transport.
	ErrDesynchronized = errors.New("connection is no longer synchronized with peer")
)

// ProtocolError reports an unexpected byte or malformed framing from the peer.
type ProtocolError struct {
	Op       string
	Expected byte
	Got      byte
	Reason   string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, ErrProtocolViolation, e.Reason)
	}
	return fmt.Sprintf("%s: %v: expected status %#02x, got %#02x", e.Op, ErrProtocolViolation, e.Expected, e.Got)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocolViolation }

// TransportError wraps a failure of the underlying byte channel.
type TransportError struct {
	Op      string
	wrapped error
}

func (e *TransportError) Unwrap() error { return e.wrapped }
func (e *TransportError) Error() string {
	if e.wrapped == nil {
		return fmt.Sprintf("%s: transport error", e.Op)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.wrapped)
}
