// Package capemgr loads and unloads device tree overlays through the
// BeagleBone cape manager "slots" file.
//
// Reading the slots file lists the loaded overlays, one per line:
//
//	 0: PF----  -1
//	 4: P-O-L-   0 Override Board Name,00A0,Override Manuf,BB-PWM1
//
// Writing an overlay name loads it; writing "-<slot>" unloads that slot.
package capemgr

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var slotsGlobs = []string{
	"/sys/devices/platform/bone_capemgr/slots",
	"/sys/devices/bone_capemgr.*/slots",
}

// Find returns the first slots file present on this system.
func Find() (string, error) {
	for _, g := range slotsGlobs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return "", fmt.Errorf("capemgr: glob %s: %w", g, err)
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("capemgr: no slots file found (is the cape manager enabled?)")
}

// Manager is an overlay loader backed by a slots file.
type Manager struct {
	slots string
	log   logrus.FieldLogger
}

func New(slots string, log logrus.FieldLogger) *Manager {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Manager{slots: slots, log: log.WithField("component", "capemgr")}
}

type slot struct {
	index int
	line  string
}

func (m *Manager) readSlots() ([]slot, error) {
	f, err := os.Open(m.slots)
	if err != nil {
		return nil, fmt.Errorf("capemgr: %w", err)
	}
	defer f.Close()

	var out []slot
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		head, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			continue
		}
		out = append(out, slot{index: n, line: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("capemgr: read %s: %w", m.slots, err)
	}
	return out, nil
}

func find(slots []slot, name string) (slot, bool) {
	for _, s := range slots {
		board := strings.TrimSpace(s.line)
		if i := strings.LastIndex(board, ","); i >= 0 {
			board = board[i+1:]
		}
		if board == name {
			return s, true
		}
	}
	return slot{}, false
}

// Load loads the overlay unless it is already present.
func (m *Manager) Load(name string) error {
	slots, err := m.readSlots()
	if err != nil {
		return err
	}
	if s, ok := find(slots, name); ok {
		m.log.WithFields(logrus.Fields{"overlay": name, "slot": s.index}).Debug("overlay already loaded")
		return nil
	}
	if err := m.write(name); err != nil {
		return fmt.Errorf("capemgr: load %s: %w", name, err)
	}
	m.log.WithField("overlay", name).Info("overlay loaded")
	return nil
}

// Unload removes the overlay. It reports false if the overlay was not loaded.
func (m *Manager) Unload(name string) (bool, error) {
	slots, err := m.readSlots()
	if err != nil {
		return false, err
	}
	s, ok := find(slots, name)
	if !ok {
		return false, nil
	}
	if err := m.write("-" + strconv.Itoa(s.index)); err != nil {
		return false, fmt.Errorf("capemgr: unload %s: %w", name, err)
	}
	m.log.WithFields(logrus.Fields{"overlay": name, "slot": s.index}).Info("overlay unloaded")
	return true, nil
}

func (m *Manager) write(value string) error {
	// O_APPEND is ignored by sysfs and keeps plain files (tests) line oriented.
	f, err := os.OpenFile(m.slots, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value + "\n")
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// Nop is used on images where overlays are applied at boot (uEnv.txt) and
// the cape manager slots file is absent.
type Nop struct{}

func (Nop) Load(string) error { return nil }

func (Nop) Unload(string) (bool, error) { return true, nil }
