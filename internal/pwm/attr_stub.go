//go:build !linux

package pwm

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Non-Linux builds only ever see plain files (tests, dry runs).
type fileAttr struct {
	f *os.File
}

func openSysfsAttr(path string) (AttributeFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &fileAttr{f: f}, nil
}

func (a *fileAttr) ReadAttr() (string, error) {
	var buf [4096]byte
	n, err := a.f.ReadAt(buf[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", a.f.Name(), err)
	}
	return string(buf[:n]), nil
}

func (a *fileAttr) WriteAttr(value string) error {
	if _, err := a.f.WriteAt([]byte(value), 0); err != nil {
		return fmt.Errorf("write %s: %w", a.f.Name(), err)
	}
	return a.f.Truncate(int64(len(value)))
}

func (a *fileAttr) Close() error {
	return a.f.Close()
}
