// Package pinstatus tracks which header pins are claimed, the mode each one is
// muxed to, and the resources that claim owns.
package pinstatus

import (
	"io"
	"sort"
	"sync"

	"bbpwm/internal/header"
)

// Entry is the status of one claimed pin.
//
// Owned is released by Delete. Nothing else may close it.
type Entry struct {
	Mode  header.Mode
	Owned io.Closer
}

// Registry is safe for concurrent use. The values held by entries are not
// guarded by the registry; owners coordinate access to those themselves.
type Registry struct {
	mu      sync.RWMutex
	entries map[header.PinID]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[header.PinID]Entry)}
}

func (r *Registry) Get(pin header.PinID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[pin]
	return e, ok
}

// Mode returns ModeNone for pins that are not claimed.
func (r *Registry) Mode(pin header.PinID) header.Mode {
	e, ok := r.Get(pin)
	if !ok {
		return header.ModeNone
	}
	return e.Mode
}

func (r *Registry) Set(pin header.PinID, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pin] = e
}

// Delete removes the entry and closes whatever it owned. Deleting an unknown
// pin is a no-op.
func (r *Registry) Delete(pin header.PinID) error {
	r.mu.Lock()
	e, ok := r.entries[pin]
	delete(r.entries, pin)
	r.mu.Unlock()
	if !ok || e.Owned == nil {
		return nil
	}
	return e.Owned.Close()
}

// Pins returns the claimed pins in mode, sorted by name.
func (r *Registry) Pins(mode header.Mode) []header.PinID {
	r.mu.RLock()
	out := make([]header.PinID, 0, len(r.entries))
	for pin, e := range r.entries {
		if e.Mode == mode {
			out = append(out, pin)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
