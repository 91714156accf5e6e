package wire

import "github.com/pkg/errors"

const (
	statusFlagPlaying byte = 1 << 0
	statusFlagCued    byte = 1 << 1
	statusFlagOnAir   byte = 1 << 2
	statusFlagMaster  byte = 1 << 3
	statusFlagSync    byte = 1 << 4
)

// TrackRef identifies a loaded track by its source device, slot, and id.
type TrackRef struct {
	SourceDevice byte
	Slot         Slot
	TrackID      uint32
}

// CDJStatus is the full per-player status block, broadcast on 50002 every
// 200ms. Full is true for packets decoded under the overloaded 0x06 type
// byte (the richer "full" status observed in real captures); false for
// the lighter 0x05 variant. Both share this struct's fields.
type CDJStatus struct {
	DeviceNumber byte
	Full         bool
	BPMCenti     uint16
	Pitch        uint32
	BeatInBar    byte
	BeatCounter  uint32
	Playing      bool
	Cued         bool
	OnAir        bool
	Master       bool
	Sync         bool
	Track        *TrackRef
	PlayheadMS   uint32
}

func (p CDJStatus) Type() byte {
	if p.Full {
		return TypeKeepaliveOrStatus
	}
	return TypeCDJStatus
}

func (p CDJStatus) Encode(deviceNumber byte, name string) []byte {
	payload := make([]byte, 22)
	putU16(payload[0:2], p.BPMCenti)
	putU32(payload[2:6], p.Pitch)
	payload[6] = p.BeatInBar
	putU32(payload[7:11], p.BeatCounter)
	var flags byte
	if p.Playing {
		flags |= statusFlagPlaying
	}
	if p.Cued {
		flags |= statusFlagCued
	}
	if p.OnAir {
		flags |= statusFlagOnAir
	}
	if p.Master {
		flags |= statusFlagMaster
	}
	if p.Sync {
		flags |= statusFlagSync
	}
	payload[11] = flags
	if p.Track != nil {
		payload[12] = p.Track.SourceDevice
		payload[13] = byte(p.Track.Slot)
		putU32(payload[14:18], p.Track.TrackID)
	}
	putU32(payload[18:22], p.PlayheadMS)
	return buildHeader(p.Type(), deviceNumber, name, payload)
}

func decodeCDJStatus(h header, full bool) (Packet, error) {
	if len(h.payload) < 22 {
		return nil, errors.WithMessage(ErrTruncated, "cdj status")
	}
	flags := h.payload[11]
	s := CDJStatus{
		DeviceNumber: h.deviceNumber,
		Full:         full,
		BPMCenti:     getU16(h.payload[0:2]),
		Pitch:        getU32(h.payload[2:6]),
		BeatInBar:    h.payload[6],
		BeatCounter:  getU32(h.payload[7:11]),
		Playing:      flags&statusFlagPlaying != 0,
		Cued:         flags&statusFlagCued != 0,
		OnAir:        flags&statusFlagOnAir != 0,
		Master:       flags&statusFlagMaster != 0,
		Sync:         flags&statusFlagSync != 0,
		PlayheadMS:   getU32(h.payload[18:22]),
	}
	slot := Slot(h.payload[13])
	if slot != SlotNone {
		s.Track = &TrackRef{
			SourceDevice: h.payload[12],
			Slot:         slot,
			TrackID:      getU32(h.payload[14:18]),
		}
	}
	return s, nil
}
