//go:build !linux

package gpioline

import (
	"fmt"

	"bbpwm/internal/header"
)

// Stub implementation for non-Linux platforms.
func park(d header.Def) error {
	return fmt.Errorf("gpioline: gpio unsupported on this platform")
}

var parkFn = park
