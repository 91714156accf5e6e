// Package beatclock selects a single BPM reading to drive the MIDI clock
// generator (spec §4.6): network master, a pinned device, a manual value,
// or tap tempo; it also interpolates beat phase between discrete beat
// packets and implements coasting when the source falls silent.
package beatclock

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// SourceKind is the BpmSource variant (spec §3).
type SourceKind int

const (
	SourceFollowNetworkMaster SourceKind = iota
	SourcePin
	SourceManual
	SourceTap
)

// Source selects where BPM comes from.
type Source struct {
	Kind           SourceKind
	PinDevice      byte
	ManualBPMCenti uint32
}

// maxTaps bounds the tap-tempo ring buffer (spec §3: "len ≤ 8").
const maxTaps = 8

// outlierDeviation is the fraction beyond the running median interval at
// which a tap is treated as an outlier and discarded (spec §4.6).
const outlierDeviation = 0.30

// ErrNotEnoughTaps is returned by TapTempo.BPM when fewer than two taps
// have been recorded.
var ErrNotEnoughTaps = errors.New("beatclock: need at least 2 taps")

// TapTempo is the ring buffer of tap timestamps and the BPM derivation
// described in spec §3/§4.6/§8 scenario 6.
type TapTempo struct {
	taps []time.Time
}

// Tap records a tap at now, evicting the oldest if the buffer is full.
func (t *TapTempo) Tap(now time.Time) {
	t.taps = append(t.taps, now)
	if len(t.taps) > maxTaps {
		t.taps = t.taps[len(t.taps)-maxTaps:]
	}
}

// Reset clears all recorded taps.
func (t *TapTempo) Reset() { t.taps = nil }

// BPM computes bpm_centi from the recorded taps, discarding intervals that
// deviate from the running median by more than outlierDeviation, per
// spec §4.6: "discard outliers beyond ±30% of the running median". At
// least two taps (one interval) are required.
func (t *TapTempo) BPM() (uint32, error) {
	if len(t.taps) < 2 {
		return 0, ErrNotEnoughTaps
	}
	intervals := make([]float64, 0, len(t.taps)-1)
	for i := 1; i < len(t.taps); i++ {
		interval := t.taps[i].Sub(t.taps[i-1]).Seconds() * 1000
		if len(intervals) > 0 {
			median := runningMedian(intervals)
			if deviates(interval, median, outlierDeviation) {
				continue
			}
		}
		intervals = append(intervals, interval)
	}
	if len(intervals) == 0 {
		return 0, ErrNotEnoughTaps
	}
	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	meanMS := sum / float64(len(intervals))
	if meanMS <= 0 {
		return 0, ErrNotEnoughTaps
	}
	bpmCenti := 60_000 * 100 / meanMS
	return uint32(bpmCenti + 0.5), nil
}

func deviates(value, median, fraction float64) bool {
	if median == 0 {
		return false
	}
	delta := value - median
	if delta < 0 {
		delta = -delta
	}
	return delta/median > fraction
}

func runningMedian(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
