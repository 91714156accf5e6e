package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// roundTrip encodes p, decodes the result on port, and returns the
// redecoded packet — used to assert decode(encode(decode(p))) == decode(p).
func roundTrip(t *testing.T, port int, p Packet, deviceNumber byte, name string) Packet {
	t.Helper()
	encoded := p.Encode(deviceNumber, name)
	decoded, gotName, gotDevice, err := Decode(port, encoded)
	require.NoError(t, err)
	require.Equal(t, name, gotName)
	require.Equal(t, deviceNumber, gotDevice)
	return decoded
}

func TestRoundTripIDRequest(t *testing.T) {
	p := IDRequest{Requested: 2}
	got := roundTrip(t, PortDiscovery, p, 2, "CDJ-2")
	require.Equal(t, p, got)
}

func TestRoundTripIDResponse(t *testing.T) {
	p := IDResponse{DeviceNumber: 3, MAC: [6]byte{1, 2, 3, 4, 5, 6}}
	got := roundTrip(t, PortDiscovery, p, 3, "CDJ-3")
	require.Equal(t, p, got)
}

func TestRoundTripKeepalive(t *testing.T) {
	p := Keepalive{
		DeviceNumber: 2,
		Kind:         KindCDJ,
		MAC:          [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		IP:           [4]byte{192, 168, 1, 50},
	}
	got := roundTrip(t, PortDiscovery, p, 2, "CDJ-2")
	require.Equal(t, p, got)
}

func TestRoundTripBeat(t *testing.T) {
	p := Beat{
		DeviceNumber: 2,
		BPMCenti:     12800,
		Pitch:        pitchCenter,
		BeatInBar:    1,
		NextBeats:    NextBeatOffsets{469, 938, 1407, 1876, 2345, 2814, 3283},
	}
	got := roundTrip(t, PortBeatBroadcast, p, 2, "CDJ-2")
	require.Equal(t, p, got)
}

func TestRoundTripMixerStatus(t *testing.T) {
	p := MixerStatus{DeviceNumber: 0x11, Master: true, Control: 0x05}
	got := roundTrip(t, PortBeatBroadcast, p, 0x11, "DJM-900NXS2")
	require.Equal(t, p, got)
}

func TestRoundTripMasterClaim(t *testing.T) {
	p := MasterClaim{DeviceNumber: 1, Stage: 3}
	got := roundTrip(t, PortBeatBroadcast, p, 1, "CDJ-1")
	require.Equal(t, p, got)
}

func TestRoundTripMasterYield(t *testing.T) {
	req := MasterYieldRequest{DeviceNumber: 1, TargetDevice: 2}
	gotReq := roundTrip(t, PortStatusUnicast, req, 1, "CDJ-1")
	require.Equal(t, req, gotReq)

	resp := MasterYieldResponse{DeviceNumber: 2, Ack: true}
	gotResp := roundTrip(t, PortStatusUnicast, resp, 2, "CDJ-2")
	require.Equal(t, resp, gotResp)
}

func TestRoundTripCDJStatus(t *testing.T) {
	p := CDJStatus{
		DeviceNumber: 3,
		Full:         false,
		BPMCenti:     12000,
		Pitch:        pitchCenter,
		BeatInBar:    4,
		BeatCounter:  128,
		Playing:      true,
		Master:       true,
		Track: &TrackRef{
			SourceDevice: 3,
			Slot:         SlotUSB,
			TrackID:      0x12345678,
		},
		PlayheadMS: 45000,
	}
	got := roundTrip(t, PortStatusUnicast, p, 3, "CDJ-3")
	require.Equal(t, p, got)
}

func TestRoundTripCDJStatusFullNoTrack(t *testing.T) {
	p := CDJStatus{DeviceNumber: 4, Full: true, BPMCenti: bpmNoTempoSentinel}
	got := roundTrip(t, PortStatusUnicast, p, 4, "CDJ-4")
	require.Equal(t, p, got)
	require.Nil(t, got.(CDJStatus).Track)
}

func TestRoundTripLoadTrack(t *testing.T) {
	p := LoadTrack{DeviceNumber: 1, SourceDevice: 2, Slot: SlotUSB, TrackID: 0x12345678}
	got := roundTrip(t, PortStatusUnicast, p, 1, "CDJ-1")
	require.Equal(t, p, got)
}

func TestRoundTripFaderStart(t *testing.T) {
	p := FaderStart{DeviceNumber: 2, Start: true}
	got := roundTrip(t, PortBeatBroadcast, p, 2, "CDJ-2")
	require.Equal(t, p, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := make([]byte, headerFixedLen)
	_, _, _, err := Decode(PortDiscovery, data)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	data := append([]byte{}, Magic[:]...)
	_, _, _, err := Decode(PortDiscovery, data)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeUnrecognizedTypeIsNotFatal(t *testing.T) {
	p := Unrecognized{WireType: 0x77, Payload: []byte{1, 2, 3}}
	encoded := p.Encode(5, "CDJ-5")
	decoded, _, _, err := Decode(PortDiscovery, encoded)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestPitchFactorRoundTrip(t *testing.T) {
	for _, factor := range []float64{0, 0.06, -0.06, 0.5, -0.16} {
		encoded := EncodePitchFactor(factor)
		// The wire encoding resolves pitch to 1/pitchCenter, so a round
		// trip is exact only to within one step of that resolution.
		require.InDelta(t, factor, PitchFactor(encoded), 1.0/float64(pitchCenter))
	}
}

func TestIsNoTempo(t *testing.T) {
	require.True(t, IsNoTempo(0xFFFF))
	require.False(t, IsNoTempo(12800))
}
