package device

import (
	"errors"
	"fmt"
)

// StatusOK is the status word of a successful device response.
const StatusOK uint16 = 0x9000

var (
	// ErrProtocol is the root of every device protocol failure. A
	// protocol failure aborts the whole signing operation, since the
	// device signing context cannot be resumed.
	ErrProtocol = errors.New("device protocol error")

	// ErrIncorrectLength is returned for status word 0x6700.
	ErrIncorrectLength = errors.New("incorrect length")

	// ErrSecurityStatus is returned for status word 0x6982.
	ErrSecurityStatus = errors.New("security status not satisfied")

	// ErrConditionsNotSatisfied is returned for status word 0x6985, which
	// devices use for requests issued out of protocol order and for
	// requests the user rejected.
	ErrConditionsNotSatisfied = errors.New("conditions of use not " +
		"satisfied")

	// ErrIncorrectData is returned for status word 0x6A80.
	ErrIncorrectData = errors.New("incorrect data")

	// ErrIncorrectP1P2 is returned for status word 0x6B00.
	ErrIncorrectP1P2 = errors.New("incorrect P1 or P2")

	// ErrInsNotSupported is returned for status word 0x6D00.
	ErrInsNotSupported = errors.New("instruction not supported")

	// ErrClaNotSupported is returned for status word 0x6E00.
	ErrClaNotSupported = errors.New("class not supported")

	// ErrTechnicalProblem is returned for status word 0x6F00.
	ErrTechnicalProblem = errors.New("technical problem")

	// ErrUnknownStatus is returned for every other status word.
	ErrUnknownStatus = errors.New("unknown status")
)

// Status words known to devices.
const (
	SWIncorrectLength        uint16 = 0x6700
	SWSecurityStatus         uint16 = 0x6982
	SWConditionsNotSatisfied uint16 = 0x6985
	SWIncorrectData          uint16 = 0x6A80
	SWIncorrectP1P2          uint16 = 0x6B00
	SWInsNotSupported        uint16 = 0x6D00
	SWClaNotSupported        uint16 = 0x6E00
	SWTechnicalProblem       uint16 = 0x6F00
)

var statusCategories = map[uint16]error{
	SWIncorrectLength:        ErrIncorrectLength,
	SWSecurityStatus:         ErrSecurityStatus,
	SWConditionsNotSatisfied: ErrConditionsNotSatisfied,
	SWIncorrectData:          ErrIncorrectData,
	SWIncorrectP1P2:          ErrIncorrectP1P2,
	SWInsNotSupported:        ErrInsNotSupported,
	SWClaNotSupported:        ErrClaNotSupported,
	SWTechnicalProblem:       ErrTechnicalProblem,
}

// StatusError is a device response carrying a failure status word. It
// matches both ErrProtocol and the category of its status word under
// errors.Is.
type StatusError struct {
	// SW is the status word returned by the device.
	SW uint16

	// Msg optionally describes the failing request.
	Msg string
}

// NewStatusError returns a StatusError for sw with a formatted message.
func NewStatusError(sw uint16, format string, args ...any) *StatusError {
	return &StatusError{SW: sw, Msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%v: 0x%04X %v", ErrProtocol, e.SW,
			e.category())
	}

	return fmt.Sprintf("%v: 0x%04X %v: %s", ErrProtocol, e.SW,
		e.category(), e.Msg)
}

// Unwrap returns ErrProtocol and the status category.
func (e *StatusError) Unwrap() []error {
	return []error{ErrProtocol, e.category()}
}

func (e *StatusError) category() error {
	if err, ok := statusCategories[e.SW]; ok {
		return err
	}

	return ErrUnknownStatus
}

// CheckStatusWord returns nil for StatusOK and a *StatusError otherwise.
func CheckStatusWord(sw uint16) error {
	if sw == StatusOK {
		return nil
	}

	return &StatusError{SW: sw}
}
