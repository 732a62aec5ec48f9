package protocol

import "fmt"

// DeviceCode classifies an error the device itself reported in its reply.
type DeviceCode int

const (
	// CodeInvalidCommand: the unit did not recognise the command code
	CodeInvalidCommand DeviceCode = iota + 1

	// CodeInvalidData: the unit rejected the data field value
	CodeInvalidData

	// CodeConflict: the command conflicts with the current system
	// configuration (e.g. arming an already-armed unit)
	CodeConflict

	// CodeConfirmationMismatch: the reply echoed a different command code
	// than the one sent
	CodeConfirmationMismatch
)

func (c DeviceCode) String() string {
	switch c {
	case CodeInvalidCommand:
		return "invalid command"
	case CodeInvalidData:
		return "invalid data"
	case CodeConflict:
		return "settings conflict"
	case CodeConfirmationMismatch:
		return "confirmation mismatch"
	default:
		return fmt.Sprintf("unknown device code %d", int(c))
	}
}

// DeviceError is an error condition reported by the stimulator in its reply,
// as opposed to a transport or framing failure.
type DeviceError struct {
	Code DeviceCode
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device rejected command: %s", e.Code)
}

// ChecksumMismatchError indicates a reply whose trailing checksum does not
// match the computed value. The frame content is never interpreted.
type ChecksumMismatchError struct {
	Want byte
	Got  byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("reply checksum mismatch: computed 0x%02X, frame carries 0x%02X", e.Want, e.Got)
}

// MalformedFrameError indicates a reply whose length does not match the
// expected shape for the command's reply kind.
type MalformedFrameError struct {
	Len  int
	Want int
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed reply: got %d bytes, expected %d", e.Len, e.Want)
}
