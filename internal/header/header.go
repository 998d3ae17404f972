// Package header describes the BeagleBone expansion header pins this project
// knows about: their names, the GPIO line behind each one, and which
// peripheral modes the pin can be muxed to.
package header

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidPin is returned for pin names that are not in the table, or that
// cannot operate in the requested mode.
var ErrInvalidPin = errors.New("invalid pin")

// PinID is a header pin name in canonical form, e.g. "P9_14".
type PinID string

func (p PinID) String() string { return string(p) }

// Mode is the peripheral function a pin is currently muxed to.
type Mode int

const (
	ModeNone Mode = iota
	ModeGPIO
	ModePWM
	ModeUART
	ModeI2C
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeGPIO:
		return "gpio"
	case ModePWM:
		return "pwm"
	case ModeUART:
		return "uart"
	case ModeI2C:
		return "i2c"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Def is the static definition of one header pin.
type Def struct {
	ID    PinID
	GPIO  int // kernel GPIO number, -1 if the pin has no GPIO function
	modes []Mode
}

// Supports reports whether the pin can be muxed to mode.
func (d Def) Supports(mode Mode) bool {
	for _, m := range d.modes {
		if m == mode {
			return true
		}
	}
	return false
}

// GPIOChip returns the gpiochip index and line offset of the pin's GPIO.
func (d Def) GPIOChip() (chip, offset int, ok bool) {
	if d.GPIO < 0 {
		return 0, 0, false
	}
	return d.GPIO / 32, d.GPIO % 32, true
}

var pins = map[PinID]Def{
	"P8_7":  {ID: "P8_7", GPIO: 66, modes: []Mode{ModeGPIO}},
	"P8_8":  {ID: "P8_8", GPIO: 67, modes: []Mode{ModeGPIO}},
	"P8_9":  {ID: "P8_9", GPIO: 69, modes: []Mode{ModeGPIO}},
	"P8_10": {ID: "P8_10", GPIO: 68, modes: []Mode{ModeGPIO}},
	"P8_11": {ID: "P8_11", GPIO: 45, modes: []Mode{ModeGPIO}},
	"P8_12": {ID: "P8_12", GPIO: 44, modes: []Mode{ModeGPIO}},
	"P9_12": {ID: "P9_12", GPIO: 60, modes: []Mode{ModeGPIO}},
	"P9_15": {ID: "P9_15", GPIO: 48, modes: []Mode{ModeGPIO}},
	"P9_13": {ID: "P9_13", GPIO: 31, modes: []Mode{ModeGPIO, ModeUART, ModePWM}},
	"P9_14": {ID: "P9_14", GPIO: 50, modes: []Mode{ModeGPIO, ModePWM}},
	"P9_16": {ID: "P9_16", GPIO: 51, modes: []Mode{ModeGPIO, ModePWM}},
	"P9_19": {ID: "P9_19", GPIO: 13, modes: []Mode{ModeGPIO, ModeI2C, ModePWM}},
	"P9_21": {ID: "P9_21", GPIO: 3, modes: []Mode{ModeGPIO, ModeUART, ModeI2C, ModePWM}},
	"P9_22": {ID: "P9_22", GPIO: 2, modes: []Mode{ModeGPIO, ModeUART, ModeI2C, ModePWM}},
}

// Lookup returns the definition of pin.
func Lookup(pin PinID) (Def, bool) {
	d, ok := pins[pin]
	return d, ok
}

// CheckValid fails unless pin exists and supports mode.
func CheckValid(pin PinID, mode Mode) error {
	d, ok := pins[pin]
	if !ok {
		return fmt.Errorf("%w: no such pin %q", ErrInvalidPin, string(pin))
	}
	if !d.Supports(mode) {
		return fmt.Errorf("%w: %s does not support %s", ErrInvalidPin, pin, mode)
	}
	return nil
}

// Parse converts a user supplied name such as "p9.14" or "P9_14" into a PinID.
// Unknown names are rejected; use CheckValid to test the mode.
func Parse(name string) (PinID, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, ".", "_")
	if s == "" {
		return "", fmt.Errorf("%w: empty pin name", ErrInvalidPin)
	}
	if _, ok := pins[PinID(s)]; !ok {
		return "", fmt.Errorf("%w: no such pin %q", ErrInvalidPin, name)
	}
	return PinID(s), nil
}

// Pins lists every pin supporting mode, sorted by name.
func Pins(mode Mode) []PinID {
	out := make([]PinID, 0, len(pins))
	for id, d := range pins {
		if d.Supports(mode) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
