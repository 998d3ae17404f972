package pwm

import (
	"errors"
	"fmt"

	"bbpwm/internal/header"
)

var (
	// ErrInvalidPin: unknown pin, or a pin without a PWM channel.
	ErrInvalidPin = header.ErrInvalidPin
	// ErrInvalidArgument is returned before any hardware access.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrChannelNotEnabled: the pin is not bound as PWM and could not be discovered.
	ErrChannelNotEnabled = errors.New("pin is not PWM enabled")
	// ErrWriteMismatch: the attribute read back differs from what was written.
	ErrWriteMismatch = errors.New("hardware write mismatch")
	ErrStartFailed   = errors.New("could not start PWM")
	ErrStopFailed    = errors.New("could not stop PWM")
)

// MismatchError describes a verified write whose read-back disagreed.
type MismatchError struct {
	Attr  Attribute
	Wrote string
	Read  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: wrote %q, read back %q", e.Attr, e.Wrote, e.Read)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrWriteMismatch
}
