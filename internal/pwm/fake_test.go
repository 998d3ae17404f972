package pwm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"bbpwm/internal/header"
	"bbpwm/internal/pinstatus"
)

// fakeChip models the kernel side of one PWM channel: it rejects a duty
// cycle longer than the period with EINVAL, like the real driver does.
type fakeChip struct {
	mu       sync.Mutex
	period   int64
	duty     int64
	polarity string
	enable   string

	writes []string
	opens  map[string]int
	closes map[string]int

	// clamp, if set, rewrites what the hardware stores for a write.
	clamp func(file, v string) string
}

func newFakeChip() *fakeChip {
	return &fakeChip{
		polarity: "normal",
		enable:   "0",
		opens:    make(map[string]int),
		closes:   make(map[string]int),
	}
}

func (c *fakeChip) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type fakeAttr struct {
	chip *fakeChip
	file string
}

func (a *fakeAttr) ReadAttr() (string, error) {
	c := a.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	switch a.file {
	case "period":
		return strconv.FormatInt(c.period, 10) + "\n", nil
	case "duty_cycle":
		return strconv.FormatInt(c.duty, 10) + "\n", nil
	case "polarity":
		return c.polarity + "\n", nil
	case "enable":
		return c.enable + "\n", nil
	}
	return "", syscall.EIO
}

func (a *fakeAttr) WriteAttr(v string) error {
	c := a.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	v = strings.TrimSpace(v)
	c.writes = append(c.writes, a.file+"="+v)
	if c.clamp != nil {
		v = c.clamp(a.file, v)
	}
	switch a.file {
	case "period", "duty_cycle":
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return syscall.EINVAL
		}
		if a.file == "period" {
			if n < c.duty {
				return syscall.EINVAL
			}
			c.period = n
			return nil
		}
		if n > c.period {
			return syscall.EINVAL
		}
		c.duty = n
		return nil
	case "polarity":
		if v != "normal" && v != "inverted" {
			return syscall.EINVAL
		}
		c.polarity = v
		return nil
	case "enable":
		if v != "0" && v != "1" {
			return syscall.EINVAL
		}
		c.enable = v
		return nil
	}
	return syscall.EIO
}

func (a *fakeAttr) Close() error {
	a.chip.mu.Lock()
	defer a.chip.mu.Unlock()
	a.chip.closes[a.file]++
	return nil
}

type fakeOverlays struct {
	mu      sync.Mutex
	loaded  map[string]bool
	loads   []string
	unloads []string
	onLoad  func(name string)
	// unloadErr, if set, fails every Unload.
	unloadErr error
}

func (o *fakeOverlays) Load(name string) error {
	o.mu.Lock()
	o.loads = append(o.loads, name)
	o.loaded[name] = true
	fn := o.onLoad
	o.mu.Unlock()
	if fn != nil {
		fn(name)
	}
	return nil
}

func (o *fakeOverlays) Unload(name string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unloads = append(o.unloads, name)
	if o.unloadErr != nil {
		return false, o.unloadErr
	}
	was := o.loaded[name]
	delete(o.loaded, name)
	return was, nil
}

type fakeEvictor struct {
	reg     *pinstatus.Registry
	evicted []header.PinID
}

func (e *fakeEvictor) DisablePin(pin header.PinID) error {
	e.evicted = append(e.evicted, pin)
	return e.reg.Delete(pin)
}

type rig struct {
	t        *testing.T
	base     string
	chips    map[string]*fakeChip
	reg      *pinstatus.Registry
	overlays *fakeOverlays
	evict    *fakeEvictor
	c        *Controller
}

// newRig builds a controller over fake chips for pwmchip2/4/6. The channel
// directories exist on disk so discovery and settle checks see them.
func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		t:        t,
		base:     t.TempDir(),
		chips:    make(map[string]*fakeChip),
		reg:      pinstatus.New(),
		overlays: &fakeOverlays{loaded: make(map[string]bool)},
	}
	r.evict = &fakeEvictor{reg: r.reg}
	for _, n := range []int{2, 4, 6} {
		dir := r.dir(n)
		r.chips[dir] = newFakeChip()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	r.c = NewController(r.reg, r.overlays, r.evict, Options{
		SysfsBase: r.base,
		Open:      r.open,
		Settle:    200 * time.Millisecond,
	})
	return r
}

func (r *rig) dir(chip int) string {
	return filepath.Join(r.base, fmt.Sprintf("pwmchip%d", chip), "pwm0")
}

func (r *rig) chip(n int) *fakeChip {
	return r.chips[r.dir(n)]
}

func (r *rig) open(path string) (AttributeFile, error) {
	chip := r.chips[filepath.Dir(path)]
	if chip == nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: syscall.ENOENT}
	}
	file := filepath.Base(path)
	chip.mu.Lock()
	chip.opens[file]++
	chip.mu.Unlock()
	return &fakeAttr{chip: chip, file: file}, nil
}

func (r *rig) status(pin header.PinID) Status {
	r.t.Helper()
	st, err := r.c.Status(pin)
	if err != nil {
		r.t.Fatalf("Status(%s): %v", pin, err)
	}
	return st
}
