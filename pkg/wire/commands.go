package wire

import "github.com/pkg/errors"

// LoadTrack commands a remote player to load a track. Unicast on 50002.
type LoadTrack struct {
	DeviceNumber byte // the commanding device
	SourceDevice byte
	Slot         Slot
	TrackID      uint32
}

func (p LoadTrack) Type() byte { return TypeLoadTrack }

func (p LoadTrack) Encode(deviceNumber byte, name string) []byte {
	payload := make([]byte, 6)
	payload[0] = p.SourceDevice
	payload[1] = byte(p.Slot)
	putU32(payload[2:6], p.TrackID)
	return buildHeader(TypeLoadTrack, deviceNumber, name, payload)
}

func decodeLoadTrack(h header) (Packet, error) {
	if len(h.payload) < 6 {
		return nil, errors.WithMessage(ErrTruncated, "load track")
	}
	return LoadTrack{
		DeviceNumber: h.deviceNumber,
		SourceDevice: h.payload[0],
		Slot:         Slot(h.payload[1]),
		TrackID:      getU32(h.payload[2:6]),
	}, nil
}

// FaderStart triggers play/cue on a player via the mixer path. Unicast on
// 50001.
type FaderStart struct {
	DeviceNumber byte // target player
	Start        bool
}

func (p FaderStart) Type() byte { return TypeIDResponseOrFader }

func (p FaderStart) Encode(deviceNumber byte, name string) []byte {
	var action byte
	if p.Start {
		action = 1
	}
	return buildHeader(TypeIDResponseOrFader, deviceNumber, name, []byte{action})
}

func decodeFaderStart(h header) (Packet, error) {
	if len(h.payload) < 1 {
		return nil, errors.WithMessage(ErrTruncated, "fader start")
	}
	return FaderStart{DeviceNumber: h.deviceNumber, Start: h.payload[0] != 0}, nil
}
