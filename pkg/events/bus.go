// Package events is the link core's observer surface (spec §4.8): a
// best-effort publish/subscribe bus plus the load_track/fader_start
// command API. Every kind gets its own bounded queue so a slow observer
// of one kind (say, player_update) can never back up another (beat).
//
// The bounded, non-blocking delivery generalizes the teacher's own
// single-slot pulse channel (scgolang-oscsync's syncclient.pulseChan,
// capacity 1, overwritten rather than awaited) to a whole family of event
// kinds, each with its own queue depth.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/prodj/link-core/pkg/registry"
	"github.com/prodj/link-core/pkg/tracker"
	"github.com/prodj/link-core/pkg/wire"
)

// Kind identifies an observable event (spec §4.8).
type Kind int

const (
	KindDeviceFound Kind = iota
	KindDeviceLost
	KindPlayerUpdate
	KindBeat
	KindMasterChanged
	KindClockSourceChanged
	KindMIDIUnderrun
)

// DefaultQueueDepth is the per-kind subscriber queue depth (spec §4.8:
// "bounded per-kind queues, default 64; delivery is best-effort and must
// never block the link core").
const DefaultQueueDepth = 64

// Event is the payload delivered to subscribers. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind         Kind
	Device       byte
	Track        *wire.TrackRef
	MasterDevice *byte
	ClockSource  string
	Detail       string
}

// LinkSnapshot is a consistent, point-in-time view of the link core's
// state, published as a single atomic.Pointer swap so readers on any
// goroutine never observe a torn mix of registry/tracker/negotiator state
// (spec §5 "single-writer/atomic.Pointer[Snapshot] publish", §6 "Snapshot()
// LinkSnapshot").
type LinkSnapshot struct {
	Devices           map[byte]registry.Device
	Players           map[byte]tracker.PlayerState
	Master            *byte
	EffectiveBPMCenti uint32
	HaveBPM           bool
	ClockStale        bool
	Anchor            time.Time
	AnchorGeneration  uint64
}

// Bus fans a single publisher out to many subscribers, one bounded queue
// per Kind per subscriber, and holds the latest LinkSnapshot for readers
// that want a consistent point-in-time view instead of (or alongside) the
// event stream.
type Bus struct {
	depth int

	mu   sync.Mutex
	subs map[Kind][]chan Event

	snapshot atomic.Pointer[LinkSnapshot]
}

// New creates a Bus with DefaultQueueDepth-sized subscriber queues.
func New() *Bus { return NewWithDepth(DefaultQueueDepth) }

// NewWithDepth creates a Bus with a custom per-subscriber queue depth,
// mainly for tests that want to observe drops at a small depth.
func NewWithDepth(depth int) *Bus {
	if depth < 1 {
		depth = 1
	}
	return &Bus{depth: depth, subs: make(map[Kind][]chan Event)}
}

// Subscribe returns a channel that receives every Event of kind published
// from now on, and an unregister function that stops further delivery to
// it and releases the subscription (spec §6: "Subscribe(kind Kind)
// (<-chan Event, func())"). The channel is never closed by the bus;
// callers must call unregister rather than relying on channel closure to
// know delivery has stopped.
func (b *Bus) Subscribe(kind Kind) (<-chan Event, func()) {
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], ch)
	b.mu.Unlock()

	unregister := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[kind]
		for i, c := range subs {
			if c == ch {
				b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unregister
}

// Publish delivers evt to every subscriber of evt.Kind. Delivery is
// best-effort: a subscriber whose queue is full has the event dropped
// rather than blocking the publisher (spec §4.8, §5 "the link core must
// never block on an observer").
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	subs := b.subs[evt.Kind]
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// PublishSnapshot replaces the current LinkSnapshot. Called by the owning
// link-core task whenever registry/tracker/negotiator/clock state changes.
func (b *Bus) PublishSnapshot(snap LinkSnapshot) {
	b.snapshot.Store(&snap)
}

// Snapshot returns the most recently published LinkSnapshot, or the zero
// value if none has been published yet.
func (b *Bus) Snapshot() LinkSnapshot {
	p := b.snapshot.Load()
	if p == nil {
		return LinkSnapshot{}
	}
	return *p
}

// ErrPreconditionNotMet is returned by command methods that require state
// the link core does not currently have (spec §4.8: "load_track/
// fader_start fail with PreconditionNotMet when no mixer/player is
// present to address").
var ErrPreconditionNotMet = errors.New("events: precondition not met")
