// Package registry tracks the set of currently-known ProDJ Link peers,
// keyed by device number, with liveness timers (spec §4.3).
//
// Registry is intentionally not internally synchronized: per spec §5 it is
// owned by a single "link core" task, and all access must go through that
// task's message loop, mirroring the teacher's (scgolang-oscsync) pattern
// of a single goroutine owning `srv.slaves` and mutating it only from
// channel receives in its own loop.
package registry

import (
	"time"

	"github.com/pkg/errors"
)

// Device is a peer on the network.
type Device struct {
	Number   byte
	Kind     Kind
	Name     string
	MAC      [6]byte
	IP       [4]byte
	LastSeen time.Time
}

// Kind classifies a device.
type Kind byte

const (
	KindUnknown Kind = iota
	KindCDJ
	KindDJM
	KindRekordbox
)

const (
	// LivenessTimeout is how long a device may go unseen before it is
	// evicted (spec §4.3).
	LivenessTimeout = 5 * time.Second
	// SweepInterval is the protocol's liveness-sweep period. pkg/link does
	// not use it: it calls Sweep on every 10ms housekeeping tick.
	SweepInterval = 250 * time.Millisecond
	// KeepaliveInterval is the cadence at which we broadcast our own
	// keepalive (spec §4.2).
	KeepaliveInterval = 1500 * time.Millisecond
)

// ErrConflict is returned by Upsert when a device number is claimed by a
// MAC that differs from the one already on file; the later arrival is
// rejected rather than overwriting the existing entry.
var ErrConflict = errors.New("registry: device number conflict")

// Registry is the set of currently known devices.
type Registry struct {
	devices map[byte]*Device
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{devices: make(map[byte]*Device)}
}

// Upsert records that a device announced itself at now. If the device
// number is already held by a different MAC, the update is rejected with
// ErrConflict and the existing entry is left untouched (spec §4.3 conflict
// handling); callers should notify the negotiator in that case. isNew
// reports whether number was not previously known, so callers can emit a
// first-seen event rather than re-firing it for every keepalive of an
// already-known device.
func (r *Registry) Upsert(number byte, kind Kind, name string, mac [6]byte, ip [4]byte, now time.Time) (isNew bool, err error) {
	existing, ok := r.devices[number]
	if ok && existing.MAC != mac {
		return false, ErrConflict
	}
	r.devices[number] = &Device{
		Number:   number,
		Kind:     kind,
		Name:     name,
		MAC:      mac,
		IP:       ip,
		LastSeen: now,
	}
	return !ok, nil
}

// Touch refreshes LastSeen for a device already on file without changing
// its other fields (used for unicast status packets, which don't carry
// MAC/IP but still prove liveness).
func (r *Registry) Touch(number byte, now time.Time) bool {
	d, ok := r.devices[number]
	if !ok {
		return false
	}
	d.LastSeen = now
	return true
}

// Get returns the device at number, if any.
func (r *Registry) Get(number byte) (Device, bool) {
	d, ok := r.devices[number]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Sweep evicts every device whose LastSeen is older than LivenessTimeout
// as of now, returning the device numbers that were evicted (spec §4.3:
// "an on_device_lost(device_number) event is emitted" — emission is the
// caller's job, this just computes the eviction set).
func (r *Registry) Sweep(now time.Time) []byte {
	var evicted []byte
	for number, d := range r.devices {
		if now.Sub(d.LastSeen) > LivenessTimeout {
			evicted = append(evicted, number)
			delete(r.devices, number)
		}
	}
	return evicted
}

// Snapshot returns a copy of every known device, for publishing to
// observers without exposing the registry's internal map.
func (r *Registry) Snapshot() map[byte]Device {
	out := make(map[byte]Device, len(r.devices))
	for number, d := range r.devices {
		out[number] = *d
	}
	return out
}

// IsKnown reports whether number is currently occupied.
func (r *Registry) IsKnown(number byte) bool {
	_, ok := r.devices[number]
	return ok
}

// HasKind reports whether any known device matches kind — used by the
// Command/Event Surface to enforce the "mixer must be present" precondition
// on load-track and fader-start commands.
func (r *Registry) HasKind(kind Kind) bool {
	for _, d := range r.devices {
		if d.Kind == kind {
			return true
		}
	}
	return false
}
