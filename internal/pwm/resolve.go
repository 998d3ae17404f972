package pwm

import (
	"fmt"
	"path/filepath"
	"strconv"

	"bbpwm/internal/header"
)

// DefaultSysfsBase is where the kernel exposes PWM chips.
const DefaultSysfsBase = "/sys/class/pwm"

// GlobalOverlay enables the PWM subsystem as a whole.
const GlobalOverlay = "am33xx_pwm"

const muxOverlayPrefix = "BB-PWM"

// Two independent tables: the pwmchip a pin's channel appears under, and the
// mux overlay that routes the pin to it.
var (
	chipByPin = map[header.PinID]int{
		"P9_21": 2, "P9_22": 2,
		"P9_14": 4, "P9_16": 4,
		"P9_13": 6, "P9_19": 6,
	}
	muxByPin = map[header.PinID]int{
		"P9_21": 0, "P9_22": 0,
		"P9_14": 1, "P9_16": 1,
		"P9_13": 2, "P9_19": 2,
	}
)

// Binding is where a pin's PWM channel lives.
type Binding struct {
	Pin  header.PinID
	Mux  int
	Chip int
	Dir  string
}

// Overlay is the mux overlay to load before the channel directory appears.
func (b Binding) Overlay() string {
	return muxOverlayPrefix + strconv.Itoa(b.Mux)
}

// Resolver maps pins to bindings. The zero value uses DefaultSysfsBase.
type Resolver struct {
	Base string
}

func (r Resolver) Resolve(pin header.PinID) (Binding, error) {
	if err := header.CheckValid(pin, header.ModePWM); err != nil {
		return Binding{}, err
	}
	chip, ok := chipByPin[pin]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s has no PWM channel", ErrInvalidPin, pin)
	}
	base := r.Base
	if base == "" {
		base = DefaultSysfsBase
	}
	return Binding{
		Pin:  pin,
		Mux:  muxByPin[pin],
		Chip: chip,
		Dir:  filepath.Join(base, fmt.Sprintf("pwmchip%d", chip), "pwm0"),
	}, nil
}
