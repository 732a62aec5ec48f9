// Package transport provides the byte channel a stimulator session runs over:
// the Channel abstraction, its serial port implementation, and the port
// configuration surface.
package transport

import (
	"errors"
	"time"
)

// ErrReadTimeout is returned by Channel.Read when the deadline expires before
// any byte arrives. Callers distinguish it from transport failures: a timeout
// means the device stayed silent, not that the link is broken.
var ErrReadTimeout = errors.New("transport: read timed out")

// Channel is a half-duplex byte channel to a stimulator. Implementations are
// not required to be safe for concurrent use; the session layer serialises
// access.
type Channel interface {
	// Write transmits the frame in full or fails.
	Write(frame []byte) error

	// Read returns the bytes available within the timeout, up to max. It
	// returns ErrReadTimeout if nothing arrives in time, and may return
	// fewer than max bytes; callers accumulate until the frame is complete.
	Read(max int, timeout time.Duration) ([]byte, error)

	// Flush discards any unread input so a fresh exchange never consumes a
	// stale reply.
	Flush() error

	// Close releases the channel. Subsequent calls are errors.
	Close() error
}

// TriggerPinner is the optional capability of channels whose link exposes a
// hardware trigger line (the RTS pin on a serial port). Magstim units treat
// the line's rising edge as a fire trigger, so asserting it discharges an
// armed unit without a command round trip.
type TriggerPinner interface {
	// SetTriggerPin drives the trigger line high or low.
	SetTriggerPin(high bool) error
}
