// Package pwm drives BeagleBone hardware PWM channels through the kernel's
// sysfs interface.
//
// A channel moves from unbound, to bound and idle, to running and back. Every
// attribute change is written and then read back; the controller only ever
// records values the hardware has confirmed. Throughout, the confirmed duty
// cycle never exceeds the confirmed period: when a period change would leave
// the current duty cycle too long, the duty cycle is shortened first.
package pwm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"bbpwm/internal/header"
	"bbpwm/internal/pinstatus"
)

const (
	// MaxPeriodNS is the longest period the PWM block supports (one second).
	MaxPeriodNS = 1_000_000_000
	// MaxFrequencyHz corresponds to a 1ns period.
	MaxFrequencyHz = 1_000_000_000

	defaultSettle = 500 * time.Millisecond
)

// OverlayLoader loads and unloads device tree overlays.
type OverlayLoader interface {
	Load(name string) error
	// Unload reports false if the overlay was not loaded.
	Unload(name string) (bool, error)
}

// Evictor forcibly releases a pin from whatever mode it is claimed in.
type Evictor interface {
	DisablePin(pin header.PinID) error
}

type Options struct {
	// SysfsBase defaults to DefaultSysfsBase.
	SysfsBase string
	// Open defaults to opening the real sysfs attribute.
	Open OpenFunc
	// Settle bounds the wait for a channel directory to appear after its
	// overlay is loaded. Defaults to 500ms.
	Settle time.Duration
	Log    logrus.FieldLogger
}

// channel is the registry-owned state of a bound pin. The registry closes it
// (and with it the port) when the entry is deleted.
type channel struct {
	pin     header.PinID
	binding Binding
	port    *Port

	period     int64
	duty       int64
	dutyPct    int
	dutyPctSet bool
	polarity   Polarity
	running    bool
}

func (ch *channel) Close() error {
	return ch.port.Close()
}

// Status is a snapshot of a channel's confirmed state.
type Status struct {
	Pin         header.PinID `json:"pin"`
	Chip        int          `json:"chip"`
	Dir         string       `json:"dir"`
	PeriodNS    int64        `json:"period_ns"`
	DutyNS      int64        `json:"duty_ns"`
	DutyPercent int          `json:"duty_percent"`
	Polarity    Polarity     `json:"polarity"`
	Running     bool         `json:"running"`
}

// Controller runs the channel lifecycle for every PWM pin.
//
// Operations on one pin are serialized; operations on different pins may run
// concurrently. Binding and unbinding are serialized across all pins because
// they share the overlay loader.
type Controller struct {
	reg      *pinstatus.Registry
	overlays OverlayLoader
	evict    Evictor
	res      Resolver
	open     OpenFunc
	settle   time.Duration
	log      logrus.FieldLogger

	bindMu sync.Mutex

	mu    sync.Mutex
	locks map[header.PinID]*sync.Mutex
}

func NewController(reg *pinstatus.Registry, overlays OverlayLoader, evict Evictor, opts Options) *Controller {
	if opts.Open == nil {
		opts.Open = openSysfsAttr
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Log = l
	}
	return &Controller{
		reg:      reg,
		overlays: overlays,
		evict:    evict,
		res:      Resolver{Base: opts.SysfsBase},
		open:     opts.Open,
		settle:   opts.Settle,
		log:      opts.Log.WithField("component", "pwm"),
		locks:    make(map[header.PinID]*sync.Mutex),
	}
}

func (c *Controller) lock(pin header.PinID) func() {
	c.mu.Lock()
	l := c.locks[pin]
	if l == nil {
		l = new(sync.Mutex)
		c.locks[pin] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func wrap(pin header.PinID, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("pwm: %s: %s: %w", pin, op, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func checkPercent(pct int) error {
	if pct < 0 || pct > 100 {
		return invalid("duty cycle must be >= 0 and <= 100, %d invalid", pct)
	}
	return nil
}

func checkFrequency(hz int64) error {
	if hz < 1 || hz > MaxFrequencyHz {
		return invalid("frequency must be > 0 and <= %d, %d invalid", MaxFrequencyHz, hz)
	}
	return nil
}

func checkPeriod(ns int64) error {
	if ns < 1 || ns > MaxPeriodNS {
		return invalid("period must be > 0 and <= %d, %d invalid", MaxPeriodNS, ns)
	}
	return nil
}

// scale returns round(pct*period/100).
func scale(pct int, period int64) int64 {
	return (int64(pct)*period + 50) / 100
}

// percentOf returns round(duty*100/period), or 0 for an unconfigured period.
func percentOf(duty, period int64) int {
	if period <= 0 {
		return 0
	}
	return int((duty*100 + period/2) / period)
}

// periodFor returns round(1e9/hz).
func periodFor(hz int64) int64 {
	return (MaxPeriodNS + hz/2) / hz
}

// Start binds the pin as a PWM channel and configures it. Unless Idle is
// given the channel is left running.
//
// Starting a pin that is already bound reuses its open attributes and only
// applies the settings supplied.
func (c *Controller) Start(pin header.PinID, opts ...StartOption) error {
	cfg := startConfig{run: true}
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return wrap(pin, "start", err)
	}
	b, err := c.res.Resolve(pin)
	if err != nil {
		return wrap(pin, "start", err)
	}

	unlock := c.lock(pin)
	defer unlock()

	ch, err := c.bind(b)
	if err != nil {
		return wrap(pin, "start", err)
	}
	if err := c.readBack(ch); err != nil {
		return wrap(pin, "start", err)
	}
	if err := c.writeEnable(ch, false); err != nil {
		return wrap(pin, "start", fmt.Errorf("%w: %w", ErrStartFailed, err))
	}
	if cfg.polarity != nil {
		if err := c.setPolarity(ch, *cfg.polarity); err != nil {
			return wrap(pin, "start", err)
		}
	}
	// A new period carries the requested duty percentage with it, so duty is
	// written once.
	pct := ch.dutyPct
	if cfg.duty != nil {
		pct = *cfg.duty
	}
	switch {
	case cfg.frequency != nil:
		if _, err := c.setPeriod(ch, periodFor(*cfg.frequency), pct); err != nil {
			return wrap(pin, "start", err)
		}
	case cfg.period != nil:
		if _, err := c.setPeriod(ch, *cfg.period, pct); err != nil {
			return wrap(pin, "start", err)
		}
	case cfg.duty != nil:
		if _, err := c.setDutyCycle(ch, pct, ch.period); err != nil {
			return wrap(pin, "start", err)
		}
	}
	if cfg.run {
		if err := c.writeEnable(ch, true); err != nil {
			return wrap(pin, "start", fmt.Errorf("%w: %w", ErrStartFailed, err))
		}
	}
	if ch.running != cfg.run {
		return wrap(pin, "start", fmt.Errorf("%w: enable=%t want %t", ErrStartFailed, ch.running, cfg.run))
	}
	c.log.WithFields(logrus.Fields{
		"pin":       pin,
		"period_ns": ch.period,
		"duty_ns":   ch.duty,
		"polarity":  ch.polarity,
		"running":   ch.running,
	}).Info("channel started")
	return nil
}

// bind returns the pin's channel, loading overlays and opening its attribute
// files the first time.
func (c *Controller) bind(b Binding) (*channel, error) {
	if ch, ok := c.bound(b.Pin); ok {
		return ch, nil
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	if err := c.overlays.Load(GlobalOverlay); err != nil {
		return nil, err
	}
	if e, ok := c.reg.Get(b.Pin); ok && e.Mode != header.ModePWM {
		c.log.WithFields(logrus.Fields{"pin": b.Pin, "mode": e.Mode}).Info("evicting pin from previous mode")
		if err := c.evict.DisablePin(b.Pin); err != nil {
			return nil, err
		}
	}
	if err := c.overlays.Load(b.Overlay()); err != nil {
		return nil, err
	}
	if err := waitForChannel(b.Dir, c.settle); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	return c.attach(b)
}

// attach opens the channel's port and records it in the registry.
func (c *Controller) attach(b Binding) (*channel, error) {
	port, err := OpenPort(b.Dir, c.open)
	if err != nil {
		return nil, err
	}
	ch := &channel{pin: b.Pin, binding: b, port: port}
	c.reg.Set(b.Pin, pinstatus.Entry{Mode: header.ModePWM, Owned: ch})
	c.log.WithFields(logrus.Fields{"pin": b.Pin, "dir": b.Dir}).Info("channel bound")
	return ch, nil
}

func (c *Controller) bound(pin header.PinID) (*channel, bool) {
	e, ok := c.reg.Get(pin)
	if !ok || e.Mode != header.ModePWM {
		return nil, false
	}
	ch, ok := e.Owned.(*channel)
	return ch, ok
}

var statFn = os.Stat

func dirExists(dir string) bool {
	fi, err := statFn(dir)
	return err == nil && fi.IsDir()
}

// ensureBound returns the pin's channel. A pin that is not yet tracked but
// whose channel directory exists (left configured by an earlier process) is
// bound here: its attribute files are opened and read, nothing is written.
func (c *Controller) ensureBound(pin header.PinID) (*channel, error) {
	b, err := c.res.Resolve(pin)
	if err != nil {
		return nil, err
	}
	if ch, ok := c.bound(pin); ok {
		return ch, nil
	}

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	if m := c.reg.Mode(pin); m != header.ModeNone {
		return nil, fmt.Errorf("%w: claimed as %s", ErrChannelNotEnabled, m)
	}
	if !dirExists(b.Dir) {
		return nil, ErrChannelNotEnabled
	}
	ch, err := c.attach(b)
	if err != nil {
		return nil, err
	}
	if err := c.readBack(ch); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"pin": pin, "running": ch.running}).Info("channel discovered")
	return ch, nil
}

// readBack refreshes the cached values from the hardware. The duty percentage
// is only derived from the hardware when it has never been set.
func (c *Controller) readBack(ch *channel) error {
	period, err := ch.port.ReadInt(AttrPeriod)
	if err != nil {
		return err
	}
	ch.period = period

	duty, err := ch.port.ReadInt(AttrDuty)
	if err != nil {
		return err
	}
	ch.duty = duty
	if !ch.dutyPctSet {
		ch.dutyPct = percentOf(duty, period)
		ch.dutyPctSet = true
	}

	tok, err := ch.port.Read(AttrPolarity)
	if err != nil {
		return err
	}
	pol, err := ParsePolarity(tok)
	if err != nil {
		return fmt.Errorf("read polarity: %q not recognised", tok)
	}
	ch.polarity = pol

	en, err := ch.port.Read(AttrEnable)
	if err != nil {
		return err
	}
	ch.running = en == "1"
	return nil
}

func (c *Controller) logWrite(ch *channel, a Attribute, v any) {
	c.log.WithFields(logrus.Fields{"pin": ch.pin, "attr": a, "value": v}).Debug("attribute confirmed")
}

func (c *Controller) writeEnable(ch *channel, on bool) error {
	want := "0"
	if on {
		want = "1"
	}
	got, err := ch.port.WriteAndVerify(AttrEnable, want)
	var mm *MismatchError
	if err == nil || errors.As(err, &mm) {
		ch.running = got == "1"
	}
	if err != nil {
		return err
	}
	c.logWrite(ch, AttrEnable, got)
	return nil
}

// commitInt performs a verified write and caches whatever the hardware
// confirmed, even when it is not what was asked for.
func (c *Controller) commitInt(ch *channel, a Attribute, v int64, dst *int64) (int64, error) {
	got, err := ch.port.WriteAndVerifyInt(a, v)
	var mm *MismatchError
	if err == nil || errors.As(err, &mm) {
		*dst = got
	}
	if err != nil {
		return got, err
	}
	c.logWrite(ch, a, got)
	return got, nil
}

func (c *Controller) setPolarity(ch *channel, p Polarity) error {
	tok, ok := p.token()
	if !ok {
		return invalid("no such polarity: %d", int(p))
	}
	got, err := ch.port.WriteAndVerify(AttrPolarity, tok)
	if pol, perr := ParsePolarity(got); perr == nil {
		ch.polarity = pol
	}
	if err != nil {
		return err
	}
	c.logWrite(ch, AttrPolarity, got)
	return nil
}

// setDutyCycle writes round(pct*period/100). period is normally the confirmed
// period; setPeriod passes the period it is about to write.
func (c *Controller) setDutyCycle(ch *channel, pct int, period int64) (int64, error) {
	got, err := c.commitInt(ch, AttrDuty, scale(pct, period), &ch.duty)
	if err != nil {
		return got, err
	}
	ch.dutyPct = pct
	ch.dutyPctSet = true
	return got, nil
}

func (c *Controller) setDutyCycleNS(ch *channel, ns int64) (int64, error) {
	if ns < 0 || ns > ch.period {
		return 0, invalid("duty cycle ns must be >= 0 and <= %d (current period), %d invalid", ch.period, ns)
	}
	got, err := c.commitInt(ch, AttrDuty, ns, &ch.duty)
	if err != nil {
		return got, err
	}
	ch.dutyPct = percentOf(got, ch.period)
	ch.dutyPctSet = true
	return got, nil
}

// setPeriod changes the period and applies duty percentage pct against it. A
// duty cycle longer than the new period is shortened before the period is
// written, so the hardware never sees duty > period; otherwise the duty cycle
// is rescaled once the new period is confirmed. Either way duty is written
// once.
func (c *Controller) setPeriod(ch *channel, period int64, pct int) (int64, error) {
	shortened := false
	if ch.duty > period {
		if _, err := c.setDutyCycle(ch, pct, period); err != nil {
			return 0, err
		}
		shortened = true
	}
	got, err := c.commitInt(ch, AttrPeriod, period, &ch.period)
	if err != nil {
		return got, err
	}
	if !shortened {
		if _, err := c.setDutyCycle(ch, pct, got); err != nil {
			return got, err
		}
	}
	return got, nil
}

// Enabled reports whether the pin is bound as PWM, binding a channel left
// configured by an earlier process.
func (c *Controller) Enabled(pin header.PinID) bool {
	unlock := c.lock(pin)
	defer unlock()
	_, err := c.ensureBound(pin)
	return err == nil
}

// Stop disables the output. Period, duty cycle and polarity are kept.
func (c *Controller) Stop(pin header.PinID) error {
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return wrap(pin, "stop", err)
	}
	if err := c.writeEnable(ch, false); err != nil {
		return wrap(pin, "stop", fmt.Errorf("%w: %w", ErrStopFailed, err))
	}
	return nil
}

// Run enables the output of a previously started channel.
func (c *Controller) Run(pin header.PinID) error {
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return wrap(pin, "run", err)
	}
	if err := c.writeEnable(ch, true); err != nil {
		return wrap(pin, "run", fmt.Errorf("%w: %w", ErrStartFailed, err))
	}
	return nil
}

func (c *Controller) SetPolarity(pin header.PinID, p Polarity) error {
	if _, ok := p.token(); !ok {
		return wrap(pin, "set polarity", invalid("no such polarity: %d", int(p)))
	}
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return wrap(pin, "set polarity", err)
	}
	return wrap(pin, "set polarity", c.setPolarity(ch, p))
}

// SetDutyCycle sets the duty cycle as a percentage of the current period and
// returns the confirmed duty cycle in nanoseconds.
func (c *Controller) SetDutyCycle(pin header.PinID, pct int) (int64, error) {
	if err := checkPercent(pct); err != nil {
		return 0, wrap(pin, "set duty cycle", err)
	}
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return 0, wrap(pin, "set duty cycle", err)
	}
	v, err := c.setDutyCycle(ch, pct, ch.period)
	return v, wrap(pin, "set duty cycle", err)
}

// SetDutyCycleNS sets the duty cycle in nanoseconds. It must not exceed the
// current period.
func (c *Controller) SetDutyCycleNS(pin header.PinID, ns int64) (int64, error) {
	if ns < 0 {
		return 0, wrap(pin, "set duty cycle ns", invalid("duty cycle ns must be >= 0, %d invalid", ns))
	}
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return 0, wrap(pin, "set duty cycle ns", err)
	}
	v, err := c.setDutyCycleNS(ch, ns)
	return v, wrap(pin, "set duty cycle ns", err)
}

// SetFrequency sets the period to round(1e9/hz) and returns it.
func (c *Controller) SetFrequency(pin header.PinID, hz int64) (int64, error) {
	if err := checkFrequency(hz); err != nil {
		return 0, wrap(pin, "set frequency", err)
	}
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return 0, wrap(pin, "set frequency", err)
	}
	v, err := c.setPeriod(ch, periodFor(hz), ch.dutyPct)
	return v, wrap(pin, "set frequency", err)
}

func (c *Controller) SetPeriodNS(pin header.PinID, ns int64) (int64, error) {
	if err := checkPeriod(ns); err != nil {
		return 0, wrap(pin, "set period", err)
	}
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return 0, wrap(pin, "set period", err)
	}
	v, err := c.setPeriod(ch, ns, ch.dutyPct)
	return v, wrap(pin, "set period", err)
}

// Status returns the pin's last confirmed values.
func (c *Controller) Status(pin header.PinID) (Status, error) {
	unlock := c.lock(pin)
	defer unlock()
	ch, err := c.ensureBound(pin)
	if err != nil {
		return Status{}, wrap(pin, "status", err)
	}
	return Status{
		Pin:         pin,
		Chip:        ch.binding.Chip,
		Dir:         ch.binding.Dir,
		PeriodNS:    ch.period,
		DutyNS:      ch.duty,
		DutyPercent: ch.dutyPct,
		Polarity:    ch.polarity,
		Running:     ch.running,
	}, nil
}

// Pins lists the pins currently bound as PWM.
func (c *Controller) Pins() []header.PinID {
	return c.reg.Pins(header.ModePWM)
}

// Disable unloads the pin's mux overlay and releases the channel. The overlay
// is shared by the pins of one mux group, so it stays loaded while another
// pin of the group is still bound.
func (c *Controller) Disable(pin header.PinID) error {
	b, err := c.res.Resolve(pin)
	if err != nil {
		return wrap(pin, "disable", err)
	}
	unlock := c.lock(pin)
	defer unlock()

	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	for _, other := range c.reg.Pins(header.ModePWM) {
		if other != pin && muxByPin[other] == b.Mux {
			c.log.WithFields(logrus.Fields{"pin": pin, "overlay": b.Overlay(), "shared_with": other}).Debug("overlay kept")
			return wrap(pin, "disable", c.release(pin))
		}
	}
	unloaded, err := c.overlays.Unload(b.Overlay())
	if err != nil {
		return wrap(pin, "disable", err)
	}
	if !unloaded {
		c.log.WithFields(logrus.Fields{"pin": pin, "overlay": b.Overlay()}).Debug("overlay was not loaded")
	}
	return wrap(pin, "disable", c.release(pin))
}

func (c *Controller) release(pin header.PinID) error {
	if c.reg.Mode(pin) != header.ModePWM {
		return nil
	}
	if err := c.reg.Delete(pin); err != nil {
		return err
	}
	c.log.WithField("pin", pin).Info("channel released")
	return nil
}

// Cleanup disables every bound pin, continuing past failures.
func (c *Controller) Cleanup() error {
	var err error
	for _, pin := range c.Pins() {
		err = multierr.Append(err, c.Disable(pin))
	}
	return err
}
