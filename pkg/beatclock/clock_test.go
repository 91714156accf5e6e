package beatclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prodj/link-core/pkg/tracker"
)

func TestTickIntervalAt24PPQN(t *testing.T) {
	// 120.00 BPM -> 500ms per beat -> 500/24 ms per tick.
	interval := TickInterval(12000)
	require.InDelta(t, float64(500*time.Millisecond)/24, float64(interval), float64(time.Microsecond))
}

func TestOnBeatFollowsOnlyMasterDevice(t *testing.T) {
	c := New()
	now := time.Now()
	master := byte(2)
	players := map[byte]tracker.PlayerState{
		2: {BPMCenti: 12800, Master: true},
		3: {BPMCenti: 9000, Master: false},
	}

	require.False(t, c.OnBeat(now, 3, &master, players), "non-selected device must not affect the schedule")
	_, ok := c.EffectiveBPMCenti()
	require.False(t, ok)

	c.OnBeat(now, 2, &master, players)
	bpm, ok := c.EffectiveBPMCenti()
	require.True(t, ok)
	require.EqualValues(t, 12800, bpm)
}

func TestOnBeatIgnoresNonMasterEvenWhenPointedAt(t *testing.T) {
	c := New()
	now := time.Now()
	master := byte(2)
	players := map[byte]tracker.PlayerState{
		2: {BPMCenti: 12800, Master: false},
	}
	// Open question §9 resolution: Follow_Network_Master requires the
	// device to actually carry the master flag, not just match the
	// pointer the negotiator currently believes is master.
	c.OnBeat(now, 2, &master, players)
	_, ok := c.EffectiveBPMCenti()
	require.False(t, ok)
}

func TestPinSourceIgnoresMasterDevice(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetSource(now, Source{Kind: SourcePin, PinDevice: 4})
	master := byte(2)
	players := map[byte]tracker.PlayerState{
		2: {BPMCenti: 12800, Master: true},
		4: {BPMCenti: 14000, Master: false},
	}
	c.OnBeat(now, 2, &master, players)
	_, ok := c.EffectiveBPMCenti()
	require.False(t, ok)

	c.OnBeat(now.Add(time.Second), 4, &master, players)
	bpm, ok := c.EffectiveBPMCenti()
	require.True(t, ok)
	require.EqualValues(t, 14000, bpm)
}

func TestReanchorFlagsResyncOnLargeDrift(t *testing.T) {
	c := New()
	master := byte(2)
	players := map[byte]tracker.PlayerState{2: {BPMCenti: 12000, Master: true}}
	t0 := time.Now()
	c.OnBeat(t0, 2, &master, players)

	interval := TickInterval(12000)
	onTime := t0.Add(interval * 24)
	require.False(t, c.OnBeat(onTime, 2, &master, players), "a beat arriving close to the predicted time is not a resync")

	drifted := onTime.Add(interval * 24).Add(interval * 2)
	require.True(t, c.OnBeat(drifted, 2, &master, players), "a beat arriving far from the prediction must flag a resync")
}

func TestPollMarksStaleAfterCoastTimeout(t *testing.T) {
	c := New()
	master := byte(2)
	players := map[byte]tracker.PlayerState{2: {BPMCenti: 12000, Master: true}}
	now := time.Now()
	c.OnBeat(now, 2, &master, players)
	require.False(t, c.Stale())

	c.Poll(now.Add(coastTimeout - time.Millisecond))
	require.False(t, c.Stale())

	c.Poll(now.Add(coastTimeout + time.Millisecond))
	require.True(t, c.Stale())

	bpm, ok := c.EffectiveBPMCenti()
	require.True(t, ok)
	require.EqualValues(t, 12000, bpm, "coasting keeps the last valid tempo")
}

func TestManualSourceNeverGoesStale(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetSource(now, Source{Kind: SourceManual, ManualBPMCenti: 13000})
	bpm, ok := c.EffectiveBPMCenti()
	require.True(t, ok)
	require.EqualValues(t, 13000, bpm)

	c.Poll(now.Add(10 * time.Hour))
	require.False(t, c.Stale())
}

func TestTapTempoRejectsOutlierBeyondThreshold(t *testing.T) {
	// Spec's own §8 scenario 6 numbers (500ms median vs a 600ms tap) are
	// only a 20% deviation and would not trip the stated ±30% threshold;
	// this test instead uses a tap that genuinely crosses it.
	var tap TapTempo
	base := time.Now()
	tap.Tap(base)
	tap.Tap(base.Add(500 * time.Millisecond))
	tap.Tap(base.Add(1000 * time.Millisecond))
	tap.Tap(base.Add(1500 * time.Millisecond))
	tap.Tap(base.Add(2400 * time.Millisecond)) // 900ms interval, 80% over the 500ms median

	bpm, err := tap.BPM()
	require.NoError(t, err)
	require.EqualValues(t, 12000, bpm, "the 900ms outlier interval must be discarded, leaving the 500ms mean")
}

func TestTapTempoRequiresTwoTaps(t *testing.T) {
	var tap TapTempo
	_, err := tap.BPM()
	require.ErrorIs(t, err, ErrNotEnoughTaps)

	tap.Tap(time.Now())
	_, err = tap.BPM()
	require.ErrorIs(t, err, ErrNotEnoughTaps)
}

func TestOnTapAppliesOnlyToTapSource(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetSource(now, Source{Kind: SourceTap})

	_, ok := c.OnTap(now)
	require.False(t, ok, "a single tap is not enough to produce a bpm")

	bpm, ok := c.OnTap(now.Add(500 * time.Millisecond))
	require.True(t, ok)
	require.EqualValues(t, 12000, bpm)
}

func TestNextTickAdvancesByTickInterval(t *testing.T) {
	c := New()
	now := time.Now()
	master := byte(2)
	players := map[byte]tracker.PlayerState{2: {BPMCenti: 12000, Master: true}}
	c.OnBeat(now, 2, &master, players)

	interval := TickInterval(12000)
	require.WithinDuration(t, c.Anchor().Add(interval), c.NextTick(1), time.Microsecond)
	require.WithinDuration(t, c.Anchor().Add(interval*24), c.NextTick(24), time.Microsecond)
}
