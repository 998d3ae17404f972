// Package gpioline evicts header pins from the mode they are currently
// claimed in, so another peripheral can take them over.
package gpioline

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"bbpwm/internal/header"
	"bbpwm/internal/pinstatus"
)

// Evictor releases a pin's registry entry. Pins evicted from GPIO mode also
// have their line parked as an input.
type Evictor struct {
	Registry *pinstatus.Registry
	Log      logrus.FieldLogger
}

func (e *Evictor) logger() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// DisablePin drops the pin's current claim. Unclaimed pins are left alone.
func (e *Evictor) DisablePin(pin header.PinID) error {
	entry, ok := e.Registry.Get(pin)
	if !ok {
		return nil
	}
	if err := e.Registry.Delete(pin); err != nil {
		return fmt.Errorf("gpioline: release %s from %s: %w", pin, entry.Mode, err)
	}
	log := e.logger().WithFields(logrus.Fields{"pin": pin, "mode": entry.Mode})
	if entry.Mode == header.ModeGPIO {
		d, _ := header.Lookup(pin)
		if err := parkFn(d); err != nil {
			return err
		}
		log.Debug("gpio line parked")
	}
	log.Info("pin evicted")
	return nil
}
