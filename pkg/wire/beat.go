package wire

import "github.com/pkg/errors"

// NextBeatOffsets holds the millisecond offsets to the next 7 beats ahead,
// as carried by a Beat packet, used for phase interpolation (spec §4.6).
type NextBeatOffsets [7]uint16

// Beat carries BPM, beat-in-bar, pitch, and forward beat offsets.
// Broadcast on 50001.
type Beat struct {
	DeviceNumber byte
	BPMCenti     uint16
	Pitch        uint32
	BeatInBar    byte
	NextBeats    NextBeatOffsets
}

func (p Beat) Type() byte { return TypeBeat }

func (p Beat) Encode(deviceNumber byte, name string) []byte {
	payload := make([]byte, 21)
	putU16(payload[0:2], p.BPMCenti)
	putU32(payload[2:6], p.Pitch)
	payload[6] = p.BeatInBar
	for i, off := range p.NextBeats {
		putU16(payload[7+i*2:9+i*2], off)
	}
	return buildHeader(TypeBeat, deviceNumber, name, payload)
}

func decodeBeat(h header) (Packet, error) {
	if len(h.payload) < 21 {
		return nil, errors.WithMessage(ErrTruncated, "beat")
	}
	b := Beat{
		DeviceNumber: h.deviceNumber,
		BPMCenti:     getU16(h.payload[0:2]),
		Pitch:        getU32(h.payload[2:6]),
		BeatInBar:    h.payload[6],
	}
	for i := range b.NextBeats {
		b.NextBeats[i] = getU16(h.payload[7+i*2 : 9+i*2])
	}
	return b, nil
}

// PitchFactor converts the wire pitch encoding to a fractional playback
// speed, centered at pitchCenter == +0%.
func PitchFactor(pitch uint32) float64 {
	return float64(int64(pitch)-int64(pitchCenter)) / float64(pitchCenter)
}

// EncodePitchFactor is the inverse of PitchFactor, used when synthesizing
// outbound beat/status packets.
func EncodePitchFactor(factor float64) uint32 {
	return uint32(int64(pitchCenter) + int64(factor*float64(pitchCenter)))
}

// IsNoTempo reports whether raw is the sentinel meaning "no tempo
// available", in which case the receiver must retain its previous BPM.
func IsNoTempo(raw uint16) bool { return raw == bpmNoTempoSentinel }

// MixerStatus carries the master flag and handoff control byte. Broadcast
// on 50001.
type MixerStatus struct {
	DeviceNumber byte
	Master       bool
	Control      byte
}

func (p MixerStatus) Type() byte { return TypeMixerStatus }

func (p MixerStatus) Encode(deviceNumber byte, name string) []byte {
	payload := make([]byte, 2)
	if p.Master {
		payload[0] = 1
	}
	payload[1] = p.Control
	return buildHeader(TypeMixerStatus, deviceNumber, name, payload)
}

func decodeMixerStatus(h header) (Packet, error) {
	if len(h.payload) < 2 {
		return nil, errors.WithMessage(ErrTruncated, "mixer status")
	}
	return MixerStatus{
		DeviceNumber: h.deviceNumber,
		Master:       h.payload[0] != 0,
		Control:      h.payload[1],
	}, nil
}
