//go:build linux

package pwm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// sysfsAttr uses positional I/O on the raw descriptor so there is no file
// offset to rewind and no user space buffering between write and read-back.
type sysfsAttr struct {
	f *os.File
}

func openSysfsAttr(path string) (AttributeFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &sysfsAttr{f: f}, nil
}

func (a *sysfsAttr) ReadAttr() (string, error) {
	// sysfs attributes are at most one page.
	var buf [4096]byte
	n, err := unix.Pread(int(a.f.Fd()), buf[:], 0)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", a.f.Name(), err)
	}
	return string(buf[:n]), nil
}

func (a *sysfsAttr) WriteAttr(value string) error {
	n, err := unix.Pwrite(int(a.f.Fd()), []byte(value), 0)
	if err != nil {
		return fmt.Errorf("write %s: %w", a.f.Name(), err)
	}
	if n != len(value) {
		return fmt.Errorf("write %s: short write %d/%d", a.f.Name(), n, len(value))
	}
	return nil
}

func (a *sysfsAttr) Close() error {
	return a.f.Close()
}
