package beatclock

import (
	"time"

	"github.com/prodj/link-core/pkg/tracker"
)

const (
	// coastTimeout is how long the selected source may go silent before
	// coasting kicks in (spec §4.6).
	coastTimeout = 2 * time.Second
	// jitterCompensation is subtracted from a beat's arrival time when
	// re-anchoring the tick schedule (spec §4.6).
	jitterCompensation = 4 * time.Millisecond
	// minEffectiveBPMCenti/maxEffectiveBPMCenti bound a valid tempo
	// (spec §8: "effective_bpm_centi is within [4000, 30000] ... or the
	// clock is in stale/stopped").
	minEffectiveBPMCenti = 4000
	maxEffectiveBPMCenti = 30000
)

// Clock selects a BPM source, tracks the schedule anchor for 24-PPQN phase
// interpolation, and implements coasting.
type Clock struct {
	source Source
	tap    TapTempo

	effectiveBPMCenti uint32
	haveBPM           bool

	lastBeatAnchor     time.Time
	lastSourceActivity time.Time
	stale              bool
	running            bool

	// anchorGen counts every time lastBeatAnchor is actually moved (a
	// reanchor or SetSource), so pkg/link can tell a tick scheduler that
	// counts ticks since the anchor to restart counting from 1 rather than
	// keep drifting against a schedule that moved out from under it.
	anchorGen uint64
}

// New creates a Clock defaulting to Follow_Network_Master (spec §3 default
// variant semantics: the observer API exposes clock_source_changed, so the
// default matters only until a caller selects otherwise).
func New() *Clock {
	return &Clock{source: Source{Kind: SourceFollowNetworkMaster}}
}

// Source returns the currently selected BPM source.
func (c *Clock) Source() Source { return c.source }

// SetSource changes the BPM source. now re-anchors the tick schedule so
// the next tick is scheduled relative to the moment of selection rather
// than a stale prior anchor.
func (c *Clock) SetSource(now time.Time, source Source) {
	c.source = source
	c.lastBeatAnchor = now
	c.anchorGen++
	c.stale = false
	c.haveBPM = false
	switch source.Kind {
	case SourceManual:
		c.setEffectiveBPM(source.ManualBPMCenti, now)
	case SourceTap:
		if bpm, err := c.tap.BPM(); err == nil {
			c.setEffectiveBPM(bpm, now)
		}
	}
}

// EffectiveBPMCenti returns the currently selected effective tempo, and
// whether a value is available at all.
func (c *Clock) EffectiveBPMCenti() (uint32, bool) { return c.effectiveBPMCenti, c.haveBPM }

// Stale reports whether the source has gone quiet past coastTimeout.
func (c *Clock) Stale() bool { return c.stale }

func (c *Clock) setEffectiveBPM(bpmCenti uint32, now time.Time) {
	if bpmCenti < minEffectiveBPMCenti || bpmCenti > maxEffectiveBPMCenti {
		return
	}
	c.effectiveBPMCenti = bpmCenti
	c.haveBPM = true
	c.lastSourceActivity = now
	c.stale = false
}

// OnBeat is called for every beat event decoded anywhere on the network.
// It only affects the schedule if device is the one currently selected
// (the network master for Follow_Network_Master, or the pinned device for
// Pin). Returns whether this beat triggered a resync (the new anchor
// disagreed with the predicted tick time by more than a quarter tick).
func (c *Clock) OnBeat(now time.Time, device byte, masterDevice *byte, players map[byte]tracker.PlayerState) (resync bool) {
	if !c.sourceIsDevice(device, masterDevice) {
		return false
	}
	state, ok := players[device]
	if !ok {
		return false
	}
	// Open question §9: only a device currently flagged master
	// contributes BPM when Follow_Network_Master is selected.
	if c.source.Kind == SourceFollowNetworkMaster && !state.Master {
		return false
	}
	effective := state.EffectiveBPMCenti()
	resync = c.reanchor(now, effective)
	c.setEffectiveBPM(effective, now)
	return resync
}

// OnTap records a manual tap for the Tap source. Returns the recomputed
// BPM and whether enough taps have been collected.
func (c *Clock) OnTap(now time.Time) (uint32, bool) {
	c.tap.Tap(now)
	if c.source.Kind != SourceTap {
		return 0, false
	}
	bpm, err := c.tap.BPM()
	if err != nil {
		return 0, false
	}
	c.reanchor(now, bpm)
	c.setEffectiveBPM(bpm, now)
	return bpm, true
}

func (c *Clock) sourceIsDevice(device byte, masterDevice *byte) bool {
	switch c.source.Kind {
	case SourceFollowNetworkMaster:
		return masterDevice != nil && *masterDevice == device
	case SourcePin:
		return c.source.PinDevice == device
	default:
		return false
	}
}

// reanchor re-anchors the tick schedule to a beat arriving at now, minus
// estimated jitter, per spec §4.6. It reports whether the new anchor
// disagreed with the previous schedule's prediction enough to count as a
// resync event.
func (c *Clock) reanchor(now time.Time, effectiveBPMCenti uint32) bool {
	newAnchor := now.Add(-jitterCompensation)
	interval := TickInterval(effectiveBPMCenti)
	resync := false
	if !c.lastBeatAnchor.IsZero() && interval > 0 {
		predicted := c.lastBeatAnchor.Add(interval * 24)
		diff := newAnchor.Sub(predicted)
		if diff < 0 {
			diff = -diff
		}
		if diff > interval/4 {
			resync = true
		}
	}
	c.lastBeatAnchor = newAnchor
	c.anchorGen++
	return resync
}

// AnchorGeneration counts every time the schedule anchor has actually moved
// (every accepted beat while locked to a source, plus SetSource). A tick
// scheduler that counts ticks since the anchor (NextTick) must restart its
// counter from 0 whenever this value changes, since the anchor moving
// forward by roughly one beat on every accepted beat would otherwise leave
// an absolute tick counter scheduling ticks against a schedule that has
// already moved out from under it.
func (c *Clock) AnchorGeneration() uint64 { return c.anchorGen }

// Poll checks for coasting: if the selected source has been silent past
// coastTimeout, the source is marked stale but the last valid tempo is
// kept (spec §4.6). Only Follow_Network_Master and Pin sources can go
// stale; Manual and Tap are never driven by network activity.
func (c *Clock) Poll(now time.Time) {
	switch c.source.Kind {
	case SourceFollowNetworkMaster, SourcePin:
		if c.haveBPM && !c.lastSourceActivity.IsZero() && now.Sub(c.lastSourceActivity) > coastTimeout {
			c.stale = true
		}
	}
}

// Anchor returns the current schedule anchor (t_last_beat in spec §4.6).
func (c *Clock) Anchor() time.Time { return c.lastBeatAnchor }

// TickInterval converts an effective BPM to the duration of one 24-PPQN
// tick: 60_000_000 / (bpm * 24) microseconds (spec §4.6).
func TickInterval(effectiveBPMCenti uint32) time.Duration {
	if effectiveBPMCenti == 0 {
		return 0
	}
	bpm := float64(effectiveBPMCenti) / 100
	micros := 60_000_000.0 / (bpm * 24)
	return time.Duration(micros * float64(time.Microsecond))
}

// NextTick returns t_n = anchor + n*tickInterval for n >= 1.
func (c *Clock) NextTick(n int) time.Time {
	interval := TickInterval(c.effectiveBPMCenti)
	return c.lastBeatAnchor.Add(interval * time.Duration(n))
}
