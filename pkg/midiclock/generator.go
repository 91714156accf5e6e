package midiclock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/prodj/link-core/pkg/beatclock"
	"github.com/prodj/link-core/pkg/clockutil"
)

// System realtime message bytes (spec §4.7).
const (
	byteClockStart byte = 0xFA
	byteClockTick  byte = 0xF8
	byteClockStop  byte = 0xFC
)

// idlePollInterval is how often Run rechecks the schedule while no tempo
// is available to compute a next tick time against.
const idlePollInterval = 20 * time.Millisecond

// NoteMode selects whether (and how) the generator also emits a note
// pulse once per beat, a supplemented feature beyond the core MIDI clock
// (see SPEC_FULL.md "Supplemented features").
type NoteMode int

const (
	// NoteModeNone emits only clock/start/stop bytes.
	NoteModeNone NoteMode = iota
	// NoteModeSingle emits the same note on every beat.
	NoteModeSingle
	// NoteModeCycle4 cycles through 4 notes, one per beat in a bar.
	NoteModeCycle4
)

const cycle4Size = 4

// Config configures the note-pulse behavior layered on top of the raw
// clock stream.
type Config struct {
	Mode     NoteMode
	Note     uint8 // base note for NoteModeSingle / first note of NoteModeCycle4
	Channel  uint8
	Velocity uint8
}

// DefaultConfig mirrors common MIDI clock/note defaults.
func DefaultConfig() Config {
	return Config{Mode: NoteModeNone, Note: 60, Channel: 0, Velocity: 100}
}

// Schedule is the lock-free view of the beat clock's schedule that Run
// reads instead of touching the single-owner beatclock.Clock directly
// (spec §5: the timing task "reads the latest effective_bpm_centi
// through a lock-free snapshot"). AnchorGeneration mirrors
// beatclock.Clock.AnchorGeneration so Run can tell the anchor moved out
// from under its tick count and restart counting from it.
type Schedule struct {
	Anchor            time.Time
	EffectiveBPMCenti uint32
	HaveBPM           bool
	AnchorGeneration  uint64
}

// Generator turns tick/beat/start/stop events into outbound Sink writes,
// tracking underruns (ticks emitted late) and the running note-on/off
// state for the configured NoteMode.
type Generator struct {
	sink  Sink
	cfg   Config
	log   zerolog.Logger
	clock clockutil.Clock

	cycle    int
	noteOn   bool
	lastNote uint8
	started  bool

	nextTickN int
	anchorGen uint64

	underruns  atomic.Uint64
	sendErrors atomic.Uint64
}

// NewGenerator creates a Generator writing to sink with the given note
// configuration, timed against clock.
func NewGenerator(sink Sink, cfg Config, log zerolog.Logger, clock clockutil.Clock) *Generator {
	return &Generator{sink: sink, cfg: cfg, log: log, clock: clock}
}

// Underruns returns the count of ticks emitted later than their scheduled
// time by more than one tick interval (spec §4.7's definition).
func (g *Generator) Underruns() uint64 { return g.underruns.Load() }

// SendErrors returns the count of Sink.Send failures, tracked separately
// from Underruns since a failed send and a late tick are different
// failure modes.
func (g *Generator) SendErrors() uint64 { return g.sendErrors.Load() }

// Start emits the MIDI Start byte (0xFA) and resets beat-cycling and
// tick-scheduling state.
func (g *Generator) Start() {
	g.cycle = 0
	g.nextTickN = 0
	g.anchorGen = 0
	g.started = true
	g.send([]byte{byteClockStart})
}

// Stop emits the MIDI Stop byte (0xFC) and silences any held note.
func (g *Generator) Stop() {
	g.started = false
	g.silence()
	g.send([]byte{byteClockStop})
}

// Tick emits one of the 24-PPQN Clock bytes (0xF8).
func (g *Generator) Tick() {
	g.send([]byte{byteClockTick})
}

// Beat emits the configured note pulse, if any, once per beat (every 24
// ticks).
func (g *Generator) Beat() {
	g.silence()
	switch g.cfg.Mode {
	case NoteModeSingle:
		g.noteOn2(g.cfg.Note)
	case NoteModeCycle4:
		note := g.cfg.Note + uint8(g.cycle%cycle4Size)
		g.noteOn2(note)
		g.cycle++
	}
}

// Run drives the 24-PPQN schedule from its own goroutine (spec §5: "a
// separate, priority-boosted timing task"), sleeping through clock until
// each scheduled tick instead of piggybacking on any other component's
// poll cadence, and reading tempo/anchor from snapshotFn's lock-free read
// rather than the shared beatclock.Clock. onBeat fires every 24 ticks;
// onUnderrun fires whenever a tick is emitted more than one tick interval
// late (spec §4.7). Both callbacks must not block — onBeat is expected to
// hand off to the link core's owning task asynchronously rather than
// mutate anything here directly. Run returns when ctx is cancelled.
func (g *Generator) Run(ctx context.Context, snapshotFn func() Schedule, onBeat func(time.Time), onUnderrun func()) error {
	for {
		sched := snapshotFn()
		interval := beatclock.TickInterval(sched.EffectiveBPMCenti)
		if !sched.HaveBPM || interval <= 0 {
			if err := g.idleWait(ctx); err != nil {
				return err
			}
			continue
		}
		if sched.AnchorGeneration != g.anchorGen {
			g.anchorGen = sched.AnchorGeneration
			g.nextTickN = 0
		}

		target := sched.Anchor.Add(interval * time.Duration(g.nextTickN+1))
		now := g.clock.Now()
		if wait := target.Sub(now); wait > 0 {
			timer := g.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case now = <-timer.C():
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		g.nextTickN++
		g.Tick()
		if late := now.Sub(target); late > interval {
			g.underruns.Add(1)
			if onUnderrun != nil {
				onUnderrun()
			}
		}
		if g.nextTickN%24 == 0 {
			g.Beat()
			if onBeat != nil {
				onBeat(now)
			}
		}
	}
}

func (g *Generator) idleWait(ctx context.Context) error {
	timer := g.clock.NewTimer(idlePollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func (g *Generator) noteOn2(note uint8) {
	g.send([]byte{0x90 | (g.cfg.Channel & 0x0F), note, g.cfg.Velocity})
	g.lastNote = note
	g.noteOn = true
}

func (g *Generator) silence() {
	if !g.noteOn {
		return
	}
	g.send([]byte{0x80 | (g.cfg.Channel & 0x0F), g.lastNote, 0})
	g.noteOn = false
}

func (g *Generator) send(msg []byte) {
	if err := g.sink.Send(msg); err != nil {
		g.sendErrors.Add(1)
		g.log.Warn().Err(err).Msg("midiclock: sink send failed")
	}
}
