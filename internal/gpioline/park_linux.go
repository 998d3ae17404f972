//go:build linux

package gpioline

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"bbpwm/internal/header"
)

var chipDevDir = "/dev"

// park requests the pin's GPIO line as an input and releases it again, so a
// line left driven by a previous GPIO user is high impedance before the pin
// is handed to another peripheral.
func park(d header.Def) error {
	chipIdx, offset, ok := d.GPIOChip()
	if !ok {
		return nil
	}
	chipPath := fmt.Sprintf("%s/gpiochip%d", chipDevDir, chipIdx)
	chip, err := gpiocdev.NewChip(chipPath, gpiocdev.WithConsumer("bbpwm"))
	if err != nil {
		return fmt.Errorf("gpioline: open %s: %w", chipPath, err)
	}
	defer chip.Close()

	line, err := chip.RequestLine(offset, gpiocdev.AsInput)
	if err != nil {
		return fmt.Errorf("gpioline: park %s (gpio%d): %w", d.ID, d.GPIO, err)
	}
	return line.Close()
}

var parkFn = park
