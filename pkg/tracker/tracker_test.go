package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prodj/link-core/pkg/wire"
)

func TestApplyBeatIncrementsCounter(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BPMCenti: 12800, BeatInBar: 1}, now)
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BPMCenti: 12800, BeatInBar: 2}, now.Add(time.Second))

	s, ok := tr.Get(2)
	require.True(t, ok)
	require.EqualValues(t, 2, s.BeatCounter)
	require.EqualValues(t, 2, s.BeatInBar)
}

func TestApplyBeatRejectsInvalidBeatInBar(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BeatInBar: 1}, now)
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BeatInBar: 0}, now)

	s, _ := tr.Get(2)
	require.EqualValues(t, 1, s.BeatInBar, "out-of-range beat_in_bar must be rejected")
}

func TestBPMSentinelRetainsPrevious(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BPMCenti: 12800, BeatInBar: 1}, now)
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BPMCenti: 0xFFFF, BeatInBar: 2}, now)

	s, _ := tr.Get(2)
	require.EqualValues(t, 12800, s.BPMCenti)
}

func TestEffectiveBPM(t *testing.T) {
	s := PlayerState{BPMCenti: 12800, Pitch: wire.EncodePitchFactor(0.06)}
	require.InDelta(t, 13568, float64(s.EffectiveBPMCenti()), 1)
}

func TestApplyStatusTrackLoadResetsBeatCounter(t *testing.T) {
	tr := New()
	now := time.Now()
	ref1 := wire.TrackRef{SourceDevice: 2, Slot: wire.SlotUSB, TrackID: 1}
	events := tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, BeatCounter: 40, Track: &ref1}, now)
	require.Len(t, events, 1)
	require.Equal(t, EventTrackLoaded, events[0].Kind)

	s, _ := tr.Get(2)
	require.EqualValues(t, 0, s.BeatCounter, "loading a track resets beat_counter to 0")

	// advance the beat counter, then load a different track.
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BeatInBar: 1}, now)
	tr.ApplyBeat(wire.Beat{DeviceNumber: 2, BeatInBar: 2}, now)
	s, _ = tr.Get(2)
	require.EqualValues(t, 2, s.BeatCounter)

	ref2 := wire.TrackRef{SourceDevice: 2, Slot: wire.SlotUSB, TrackID: 2}
	events = tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, BeatCounter: 2, Track: &ref2}, now)
	require.Len(t, events, 1)
	require.Equal(t, EventTrackLoaded, events[0].Kind)
	s, _ = tr.Get(2)
	require.EqualValues(t, 0, s.BeatCounter)
}

func TestApplyStatusBeatCounterOnlyIncreasesWithoutTrackChange(t *testing.T) {
	tr := New()
	now := time.Now()
	ref := wire.TrackRef{SourceDevice: 2, Slot: wire.SlotUSB, TrackID: 1}
	tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, BeatCounter: 10, Track: &ref}, now)
	tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, BeatCounter: 5, Track: &ref}, now)

	s, _ := tr.Get(2)
	require.EqualValues(t, 10, s.BeatCounter, "beat_counter must not regress without a track change")
}

func TestApplyStatusPlayCueStopEvents(t *testing.T) {
	tr := New()
	now := time.Now()
	events := tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, Cued: true}, now)
	require.Len(t, events, 1)
	require.Equal(t, EventCue, events[0].Kind)

	events = tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, Playing: true}, now)
	require.Len(t, events, 1)
	require.Equal(t, EventPlay, events[0].Kind)

	events = tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, Playing: false}, now)
	require.Len(t, events, 1)
	require.Equal(t, EventStop, events[0].Kind)
}

func TestAtMostOneMasterAcrossSnapshot(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 2, Master: true}, now)
	tr.ApplyStatus(wire.CDJStatus{DeviceNumber: 3, Master: false}, now)

	masters := 0
	for _, s := range tr.Snapshot() {
		if s.Master {
			masters++
		}
	}
	require.LessOrEqual(t, masters, 1)
}
