package events

import (
	"github.com/prodj/link-core/pkg/registry"
	"github.com/prodj/link-core/pkg/wire"
)

// Commander issues the two outbound commands the spec's API exposes
// (spec §4.8: "load_track", "fader_start"). Like master.Negotiator it
// never touches a socket; it validates preconditions against the
// Registry and returns the wire packet for the owning task to send.
type Commander struct {
	reg *registry.Registry
}

// NewCommander creates a Commander backed by reg, used to check that a
// target device is actually known before issuing a command to it.
func NewCommander(reg *registry.Registry) *Commander {
	return &Commander{reg: reg}
}

// LoadTrack builds a LoadTrack packet addressed at target, asking it to
// load the track described by ref. Returns ErrPreconditionNotMet if
// target is not a currently known device, or if no mixer is present on
// the network (spec §4.8: "both require a mixer device to be present in
// the registry").
func (c *Commander) LoadTrack(target byte, ref wire.TrackRef) (wire.LoadTrack, error) {
	if !c.reg.IsKnown(target) || !c.reg.HasKind(registry.KindDJM) {
		return wire.LoadTrack{}, ErrPreconditionNotMet
	}
	return wire.LoadTrack{
		DeviceNumber: target,
		SourceDevice: ref.SourceDevice,
		Slot:         ref.Slot,
		TrackID:      ref.TrackID,
	}, nil
}

// FaderStart builds a FaderStart packet addressed at target, starting
// (start=true) or stopping (start=false) it. Returns
// ErrPreconditionNotMet if no mixer is present on the network, since
// fader start is a mixer-issued command (spec §4.8 / §2).
func (c *Commander) FaderStart(target byte, start bool) (wire.FaderStart, error) {
	if !c.reg.HasKind(registry.KindDJM) {
		return wire.FaderStart{}, ErrPreconditionNotMet
	}
	return wire.FaderStart{DeviceNumber: target, Start: start}, nil
}
