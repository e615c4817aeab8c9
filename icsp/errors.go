package icsp

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrDeviceUnresponsive is returned when the programmer does not
	// answer the handshake.
	ErrDeviceUnresponsive = errors.New("icsp: device unresponsive")

	// ErrModeEntryFailed is returned when the chip does not acknowledge
	// the program mode entry sequence.
	ErrModeEntryFailed = errors.New("icsp: program mode entry failed")

	// ErrUnsupportedMode is returned before any command is issued when
	// the requested programming mode is incompatible with the profile,
	// e.g. socket mode for an ICSP-only part.
	ErrUnsupportedMode = errors.New("icsp: unsupported programming mode")

	// ErrDeviceIDUnsupported is returned for core families that predate
	// the device-ID word. It is an expected outcome, not a fault.
	ErrDeviceIDUnsupported = errors.New("icsp: device id not supported")

	// ErrNotErasable is returned when erase is requested for an OTP part.
	ErrNotErasable = errors.New("icsp: chip is not erasable")

	// ErrSessionClosed is returned for operations on a torn-down session.
	ErrSessionClosed = errors.New("icsp: session closed")
)

// StateError reports an operation attempted outside its required session
// state. No device I/O happens for such calls.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("icsp: %s: invalid in state %v", e.Op, e.State)
}

// SizeError reports a write payload that does not match the region size
// the profile declares. Nothing is sent to the device.
type SizeError struct {
	Region string
	Want   int
	Got    int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("icsp: %s write: payload is %d bytes, chip has %d", e.Region, e.Got, e.Want)
}

// TruncatedError reports a region read that delivered fewer bytes than the
// profile declares.
type TruncatedError struct {
	Region string
	Want   int
	Got    int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("icsp: %s read truncated: want %d bytes, got %d", e.Region, e.Want, e.Got)
}

// ChecksumError reports a block whose transfer checksum did not verify.
type ChecksumError struct {
	Region string
	Offset int
	Want   byte
	Got    byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("icsp: %s block at %#x: checksum %#02x, expected %#02x",
		e.Region, e.Offset, e.Got, e.Want)
}

// VerifyError reports a written block whose read-back did not match.
// The remaining blocks of the write are not attempted.
type VerifyError struct {
	Region string
	Offset int
	Want   byte
	Got    byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("icsp: %s verify failed at %#x: wrote %#02x, read %#02x",
		e.Region, e.Offset, e.Want, e.Got)
}

// EraseVerifyError reports a ROM byte that still holds data after a bulk
// erase.
type EraseVerifyError struct {
	Offset int
	Want   byte
	Got    byte
}

func (e *EraseVerifyError) Error() string {
	return fmt.Sprintf("icsp: erase verify failed at %#x: got %#02x, blank is %#02x",
		e.Offset, e.Got, e.Want)
}

// AckError reports an unexpected acknowledgement byte from the firmware.
type AckError struct {
	Cmd  byte
	Want byte
	Got  byte
}

func (e *AckError) Error() string {
	return fmt.Sprintf("icsp: command %#02x: firmware answered %#02x, expected %#02x",
		e.Cmd, e.Got, e.Want)
}
