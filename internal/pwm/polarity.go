package pwm

import (
	"fmt"
	"strings"
)

// Polarity selects whether the active part of the duty cycle is driven high
// (normal) or low (inverted).
type Polarity int

const (
	PolarityNormal Polarity = iota
	PolarityInverted
)

// token is the text the kernel driver reads and writes.
func (p Polarity) token() (string, bool) {
	switch p {
	case PolarityNormal:
		return "normal", true
	case PolarityInverted:
		return "inverted", true
	}
	return "", false
}

func (p Polarity) String() string {
	if s, ok := p.token(); ok {
		return s
	}
	return fmt.Sprintf("polarity(%d)", int(p))
}

// ParsePolarity accepts "normal" and "inverted" in any case.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return PolarityNormal, nil
	case "inverted":
		return PolarityInverted, nil
	}
	return 0, fmt.Errorf("%w: no such polarity: %q", ErrInvalidArgument, s)
}

func (p Polarity) MarshalText() ([]byte, error) {
	s, ok := p.token()
	if !ok {
		return nil, fmt.Errorf("%w: no such polarity: %d", ErrInvalidArgument, int(p))
	}
	return []byte(s), nil
}

func (p *Polarity) UnmarshalText(b []byte) error {
	v, err := ParsePolarity(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
