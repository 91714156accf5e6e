// Package tracker reconstructs a live model of player state from decoded
// ProDJ Link packets (spec §4.5): BPM, beat grid phase, playing/cued/on-air
// flags, master flag, loaded track reference, and playhead position.
package tracker

import (
	"time"

	"github.com/prodj/link-core/pkg/wire"
)

// PlayerState is the per-device model tracked from inbound status/beat
// packets. Zero or one PlayerState across the tracker may have Master set
// true at any instant: ApplyStatus clears Master on every other player when
// a status packet asserts it.
type PlayerState struct {
	BPMCenti     uint16
	Pitch        uint32
	BeatInBar    byte
	BeatCounter  uint32
	Playing      bool
	Cued         bool
	OnAir        bool
	Master       bool
	Sync         bool
	Track        *wire.TrackRef
	PlayheadMS   uint32
	LastStatusTS time.Time
	LastBeatTS   time.Time
	NextBeats    wire.NextBeatOffsets
}

// EffectiveBPMCenti combines BPM and pitch into the effective tempo, per
// spec §4.5: round(bpm_centi * pitch_factor-adjusted speed). A Pitch of 0
// is the Go zero value, not a genuine "-100%" reading off the wire — no
// status/beat packet has been decoded into this field yet — so it is
// treated as the neutral +0% pitch rather than fed through PitchFactor,
// which would otherwise read it as fully stopped.
func (s PlayerState) EffectiveBPMCenti() uint32 {
	pitch := s.Pitch
	if pitch == 0 {
		pitch = wire.PitchCenter
	}
	factor := 1 + wire.PitchFactor(pitch)
	if factor < 0 {
		factor = 0
	}
	return uint32(float64(s.BPMCenti)*factor + 0.5)
}

// EventKind identifies the kind of transition an Apply call produced.
type EventKind int

const (
	EventTrackLoaded EventKind = iota
	EventPlay
	EventCue
	EventStop
)

// Event is emitted synchronously with a decode (spec §4.5: "Event emission
// is synchronous with decode but observers may not block").
type Event struct {
	Kind   EventKind
	Device byte
	Track  *wire.TrackRef
}

// Tracker owns every PlayerState, keyed by device number. Like Registry,
// it is not internally synchronized — it is owned by the single link-core
// task (spec §5).
type Tracker struct {
	states map[byte]*PlayerState
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{states: make(map[byte]*PlayerState)}
}

func (t *Tracker) state(device byte) *PlayerState {
	s, ok := t.states[device]
	if !ok {
		s = &PlayerState{}
		t.states[device] = s
	}
	return s
}

// Get returns the current state for device, if known.
func (t *Tracker) Get(device byte) (PlayerState, bool) {
	s, ok := t.states[device]
	if !ok {
		return PlayerState{}, false
	}
	return *s, true
}

// Snapshot returns a copy of every tracked player's state.
func (t *Tracker) Snapshot() map[byte]PlayerState {
	out := make(map[byte]PlayerState, len(t.states))
	for d, s := range t.states {
		out[d] = *s
	}
	return out
}

func applyBPM(s *PlayerState, raw uint16) {
	if wire.IsNoTempo(raw) {
		return // retain previous value
	}
	s.BPMCenti = raw
}

// ApplyBeat updates beat phase fields from an inbound Beat packet (spec
// §4.5 "Beat packet handling"). beat_in_bar outside 1..4 is rejected
// (left unchanged) per the spec's boundary rule.
func (t *Tracker) ApplyBeat(pkt wire.Beat, now time.Time) []Event {
	s := t.state(pkt.DeviceNumber)
	applyBPM(s, pkt.BPMCenti)
	s.Pitch = pkt.Pitch
	if pkt.BeatInBar >= 1 && pkt.BeatInBar <= 4 {
		s.BeatInBar = pkt.BeatInBar
	}
	s.LastBeatTS = now
	s.BeatCounter++
	s.NextBeats = pkt.NextBeats
	return nil
}

// ApplyStatus updates the full per-player model from an inbound CDJStatus
// packet, applying the monotonic beat_counter rule and emitting
// track-load/play/cue/stop transition events.
func (t *Tracker) ApplyStatus(pkt wire.CDJStatus, now time.Time) []Event {
	s := t.state(pkt.DeviceNumber)
	var events []Event

	applyBPM(s, pkt.BPMCenti)
	s.Pitch = pkt.Pitch
	if pkt.BeatInBar >= 1 && pkt.BeatInBar <= 4 {
		s.BeatInBar = pkt.BeatInBar
	}

	trackChanged := !trackRefEqual(s.Track, pkt.Track)
	if trackChanged {
		s.Track = pkt.Track
		s.BeatCounter = 0
		events = append(events, Event{Kind: EventTrackLoaded, Device: pkt.DeviceNumber, Track: pkt.Track})
	} else if pkt.BeatCounter > s.BeatCounter {
		s.BeatCounter = pkt.BeatCounter
	}

	wasPlaying := s.Playing
	wasCued := s.Cued

	s.Playing = pkt.Playing
	s.Cued = pkt.Cued
	s.OnAir = pkt.OnAir
	s.Master = pkt.Master
	if pkt.Master {
		for d, other := range t.states {
			if d != pkt.DeviceNumber {
				other.Master = false
			}
		}
	}
	s.Sync = pkt.Sync
	s.PlayheadMS = pkt.PlayheadMS
	s.LastStatusTS = now

	if !wasPlaying && s.Playing {
		events = append(events, Event{Kind: EventPlay, Device: pkt.DeviceNumber})
	} else if wasPlaying && !s.Playing {
		events = append(events, Event{Kind: EventStop, Device: pkt.DeviceNumber})
	}
	if !wasCued && s.Cued {
		events = append(events, Event{Kind: EventCue, Device: pkt.DeviceNumber})
	}

	return events
}

func trackRefEqual(a, b *wire.TrackRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
