package pwm

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"bbpwm/internal/header"
)

// Pin is a handle on one started PWM pin.
type Pin struct {
	c  *Controller
	id header.PinID
}

// Open starts the pin and returns a handle on it.
func (c *Controller) Open(pin header.PinID, opts ...StartOption) (*Pin, error) {
	if err := c.Start(pin, opts...); err != nil {
		return nil, err
	}
	return &Pin{c: c, id: pin}, nil
}

func (p *Pin) ID() header.PinID { return p.id }

func (p *Pin) String() string { return string(p.id) }

func (p *Pin) Stop() error { return p.c.Stop(p.id) }

func (p *Pin) Run() error { return p.c.Run(p.id) }

func (p *Pin) SetPolarity(pol Polarity) error { return p.c.SetPolarity(p.id, pol) }

func (p *Pin) SetDutyCycle(pct int) (int64, error) { return p.c.SetDutyCycle(p.id, pct) }

func (p *Pin) SetDutyCycleNS(ns int64) (int64, error) { return p.c.SetDutyCycleNS(p.id, ns) }

func (p *Pin) SetFrequency(hz int64) (int64, error) { return p.c.SetFrequency(p.id, hz) }

func (p *Pin) SetPeriodNS(ns int64) (int64, error) { return p.c.SetPeriodNS(p.id, ns) }

func (p *Pin) Status() (Status, error) { return p.c.Status(p.id) }

// Disable releases the pin. The handle must not be used afterwards.
func (p *Pin) Disable() error { return p.c.Disable(p.id) }

// PWM sets duty and frequency the way periph.io PinOut.PWM does and makes
// sure the output is running. A zero frequency keeps the current period.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	if duty < 0 || duty > gpio.DutyMax {
		return wrap(p.id, "pwm", invalid("duty %s out of range", duty))
	}
	if f != 0 {
		if f < 0 || f%physic.Hertz != 0 {
			return wrap(p.id, "pwm", invalid("frequency %s is not a whole number of Hz", f))
		}
		if _, err := p.SetFrequency(int64(f / physic.Hertz)); err != nil {
			return err
		}
	}
	st, err := p.Status()
	if err != nil {
		return err
	}
	ns := (int64(duty)*st.PeriodNS + int64(gpio.DutyMax)/2) / int64(gpio.DutyMax)
	if _, err := p.SetDutyCycleNS(ns); err != nil {
		return err
	}
	if !st.Running {
		return p.Run()
	}
	return nil
}
