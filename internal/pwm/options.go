package pwm

// StartOption configures Start.
type StartOption func(*startConfig)

type startConfig struct {
	duty      *int
	frequency *int64
	period    *int64
	polarity  *Polarity
	run       bool
}

// WithDutyCycle sets the duty cycle in percent, applied after the frequency.
func WithDutyCycle(pct int) StartOption {
	return func(c *startConfig) { c.duty = &pct }
}

// WithFrequency sets the frequency in Hz.
func WithFrequency(hz int64) StartOption {
	return func(c *startConfig) { c.frequency = &hz }
}

// WithPeriod sets the period in nanoseconds. It cannot be combined with
// WithFrequency.
func WithPeriod(ns int64) StartOption {
	return func(c *startConfig) { c.period = &ns }
}

func WithPolarity(p Polarity) StartOption {
	return func(c *startConfig) { c.polarity = &p }
}

// Idle configures the channel but leaves the output disabled.
func Idle() StartOption {
	return func(c *startConfig) { c.run = false }
}

func (c *startConfig) validate() error {
	if c.polarity != nil {
		if _, ok := c.polarity.token(); !ok {
			return invalid("no such polarity: %d", int(*c.polarity))
		}
	}
	if c.frequency != nil && c.period != nil {
		return invalid("frequency and period are mutually exclusive")
	}
	if c.frequency != nil {
		if err := checkFrequency(*c.frequency); err != nil {
			return err
		}
	}
	if c.period != nil {
		if err := checkPeriod(*c.period); err != nil {
			return err
		}
	}
	if c.duty != nil {
		return checkPercent(*c.duty)
	}
	return nil
}
