package pwm

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Attribute names one of the channel's sysfs files.
type Attribute int

const (
	AttrPeriod Attribute = iota
	AttrDuty
	AttrPolarity
	AttrEnable
	numAttrs
)

// File is the attribute's file name under the channel directory.
func (a Attribute) File() string {
	switch a {
	case AttrPeriod:
		return "period"
	case AttrDuty:
		return "duty_cycle"
	case AttrPolarity:
		return "polarity"
	case AttrEnable:
		return "enable"
	}
	return ""
}

func (a Attribute) String() string {
	switch a {
	case AttrPeriod:
		return "period"
	case AttrDuty:
		return "duty"
	case AttrPolarity:
		return "polarity"
	case AttrEnable:
		return "enable"
	}
	return fmt.Sprintf("attr(%d)", int(a))
}

// Port holds the four open attribute files of one channel.
//
// Not safe for concurrent use.
type Port struct {
	dir   string
	files [numAttrs]AttributeFile
}

// OpenPort opens every attribute under dir. On failure nothing stays open.
func OpenPort(dir string, open OpenFunc) (*Port, error) {
	if open == nil {
		open = openSysfsAttr
	}
	p := &Port{dir: dir}
	for a := Attribute(0); a < numAttrs; a++ {
		f, err := open(filepath.Join(dir, a.File()))
		if err != nil {
			cerr := p.Close()
			return nil, multierr.Append(fmt.Errorf("open %s: %w", a, err), cerr)
		}
		p.files[a] = f
	}
	return p, nil
}

func (p *Port) Dir() string { return p.dir }

// Read returns the attribute's current value with surrounding whitespace removed.
func (p *Port) Read(a Attribute) (string, error) {
	s, err := p.files[a].ReadAttr()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *Port) ReadInt(a Attribute) (int64, error) {
	s, err := p.Read(a)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", a, s, err)
	}
	return n, nil
}

// WriteAndVerify writes value and reads the attribute back. The read-back is
// returned even when it differs, together with a *MismatchError.
func (p *Port) WriteAndVerify(a Attribute, value string) (string, error) {
	if err := p.files[a].WriteAttr(value); err != nil {
		return "", err
	}
	got, err := p.Read(a)
	if err != nil {
		return "", err
	}
	if got != value {
		return got, &MismatchError{Attr: a, Wrote: value, Read: got}
	}
	return got, nil
}

// WriteAndVerifyInt is WriteAndVerify for decimal attributes. On mismatch the
// parsed read-back is returned alongside the error.
func (p *Port) WriteAndVerifyInt(a Attribute, v int64) (int64, error) {
	want := strconv.FormatInt(v, 10)
	got, err := p.WriteAndVerify(a, want)
	if err != nil && got == "" {
		return 0, err
	}
	n, perr := strconv.ParseInt(got, 10, 64)
	if perr != nil {
		return 0, multierr.Append(err, fmt.Errorf("parse %s %q: %w", a, got, perr))
	}
	return n, err
}

// Close closes every open attribute file.
func (p *Port) Close() error {
	var err error
	for i, f := range p.files {
		if f == nil {
			continue
		}
		err = multierr.Append(err, f.Close())
		p.files[i] = nil
	}
	return err
}
