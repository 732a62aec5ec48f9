package stimulator

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionClosed is returned by Connect on a facade whose session has
// already been disconnected. Sessions are single-use: reconnecting takes a
// fresh channel and a fresh facade.
var ErrSessionClosed = errors.New("session closed")

// ErrNoHardwareTrigger is returned by QuickFire and ResetQuickFire when the
// session's channel does not expose a hardware trigger line.
var ErrNoHardwareTrigger = errors.New("channel has no hardware trigger line")

// ChannelFailure wraps a transport-level error that persisted through the
// executor's single retry.
type ChannelFailure struct {
	Op  string
	Err error
}

func (e *ChannelFailure) Error() string {
	return fmt.Sprintf("channel failure during %s: %v", e.Op, e.Err)
}

func (e *ChannelFailure) Unwrap() error { return e.Err }

// ResponseTimeoutError indicates the device sent nothing within the
// transaction deadline. Timeouts are never retried: a silent device usually
// means lost remote control, and blind re-sends of lifecycle commands are not
// safe.
type ResponseTimeoutError struct {
	Timeout time.Duration
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("no response within %s", e.Timeout)
}

// InvalidParameterError indicates a caller-supplied value outside its
// declared range. The command is rejected before any byte reaches the
// channel.
type InvalidParameterError struct {
	Name   string
	Value  interface{}
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Name, e.Value, e.Reason)
}

// UnsupportedOnRevisionError indicates a feature request outside the
// connected firmware revision's capability table, rejected before any I/O.
type UnsupportedOnRevisionError struct {
	Feature  string
	Revision int
}

func (e *UnsupportedOnRevisionError) Error() string {
	return fmt.Sprintf("%s is not supported on firmware revision %d", e.Feature, e.Revision)
}

// InvalidStateError indicates an operation that is illegal in the session's
// current lifecycle state, rejected before any I/O.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

// NotReadyError indicates a fire request while the unit is not in the
// ArmedReady state. No frame is written.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("not ready to fire (state %s)", e.State)
}

// FaultedError indicates the unit reported a fault condition (coil
// replacement required or a hardware error). The fault is sticky: it clears
// only through a successful re-arm.
type FaultedError struct {
	ErrorType bool
}

func (e *FaultedError) Error() string {
	if e.ErrorType {
		return "device faulted: unrecoverable hardware error"
	}
	return "device faulted"
}

// ControlUncertainError indicates the keep-alive coordinator has failed
// enough consecutive pokes that remote control may have lapsed. Foreground
// commands are refused until a Poke succeeds.
type ControlUncertainError struct {
	Failures int
}

func (e *ControlUncertainError) Error() string {
	return fmt.Sprintf("remote control uncertain after %d consecutive keep-alive failures", e.Failures)
}
