// Package link is the single-owner "link core" task (spec §5): it owns
// the Registry, Tracker, Negotiator, and beatclock.Clock, none of which
// lock internally, and mutates them only from its own goroutine's select
// loop — the same discipline the teacher applies to Server.slaves in
// scgolang-oscsync's cmd/serve.go loop(ctx). The midiclock Generator is the
// exception: its Run loop executes in a separate timing goroutine and
// reads the core's state only through the published snapshot.
package link

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prodj/link-core/pkg/beatclock"
	"github.com/prodj/link-core/pkg/clockutil"
	"github.com/prodj/link-core/pkg/events"
	"github.com/prodj/link-core/pkg/master"
	"github.com/prodj/link-core/pkg/midiclock"
	"github.com/prodj/link-core/pkg/netio"
	"github.com/prodj/link-core/pkg/registry"
	"github.com/prodj/link-core/pkg/tracker"
	"github.com/prodj/link-core/pkg/wire"
)

// tickInterval is how often the core's periodic housekeeping (liveness
// sweep, negotiator poll, keepalive/status sends, coasting check) runs.
const tickInterval = 10 * time.Millisecond

// Config configures a Core before Run.
type Config struct {
	// PreferredDeviceNumber is passed to registry.NewSelfAssigner; 0
	// means "pick the lowest free slot".
	PreferredDeviceNumber byte
	Name                  string
	// PassiveJoin mirrors the original vcdj_enable() startup mode
	// (SPEC_FULL.md supplemented features): observe the network without
	// claiming a device number or sending keepalives.
	PassiveJoin bool
	BPMSource   beatclock.Source
	MIDISink    midiclock.Sink
	MIDIConfig  midiclock.Config
	Clock       clockutil.Clock
	Logger      zerolog.Logger
}

// Core wires the protocol components together and drives them from
// inbound network traffic and a periodic housekeeping tick.
type Core struct {
	cfg Config

	local byte
	name  string

	reg   *registry.Registry
	trk   *tracker.Tracker
	neg   *master.Negotiator
	clk   *beatclock.Clock
	gen   *midiclock.Generator
	bus   *events.Bus
	cmd   *events.Commander
	clock clockutil.Clock
	log   zerolog.Logger

	discoverySock *netio.Socket
	beatSock      *netio.Socket
	unicastSock   *netio.Socket

	keepaliveLimiter *netio.RateLimiter
	statusLimiter    *netio.RateLimiter
	ownBeatInBar     byte
	lastMaster       *byte

	ops chan func(*Core)
}

// Bus returns the event bus observers subscribe to.
func (c *Core) Bus() *events.Bus { return c.bus }

// Snapshot returns a consistent, point-in-time view of the registry,
// tracker, and clock state (spec §6). It is safe to call from any
// goroutine: it reads the snapshot the owning task last published, never
// the live (single-owner) state directly.
func (c *Core) Snapshot() events.LinkSnapshot { return c.bus.Snapshot() }

// publishSnapshot re-publishes the current link-core state to the bus.
// Called from the owning task after any tick or inbound packet that could
// have changed registry, tracker, master, or clock state.
func (c *Core) publishSnapshot() {
	bpm, haveBPM := c.clk.EffectiveBPMCenti()
	c.bus.PublishSnapshot(events.LinkSnapshot{
		Devices:           c.reg.Snapshot(),
		Players:           c.trk.Snapshot(),
		Master:            c.neg.CurrentMaster(),
		EffectiveBPMCenti: bpm,
		HaveBPM:           haveBPM,
		ClockStale:        c.clk.Stale(),
		Anchor:            c.clk.Anchor(),
		AnchorGeneration:  c.clk.AnchorGeneration(),
	})
}

// midiSchedule is the snapshotFn the midiclock.Generator's dedicated timing
// goroutine polls instead of touching the single-owner beatclock.Clock
// directly (spec §5: "reads the latest effective_bpm_centi through a
// lock-free snapshot"). It reads the same atomically-published LinkSnapshot
// that Snapshot() exposes to external observers.
func (c *Core) midiSchedule() midiclock.Schedule {
	snap := c.bus.Snapshot()
	return midiclock.Schedule{
		Anchor:            snap.Anchor,
		EffectiveBPMCenti: snap.EffectiveBPMCenti,
		HaveBPM:           snap.HaveBPM,
		AnchorGeneration:  snap.AnchorGeneration,
	}
}

// postOwnBeat hands the midiclock timing goroutine's beat boundary off to
// the owning link-core task, which alone is allowed to touch the
// negotiator, clock, and sockets (spec §5). It never blocks: if the ops
// queue is full the beat is dropped rather than stalling the timing
// goroutine's sleep-until-next-tick loop.
func (c *Core) postOwnBeat(now time.Time) {
	select {
	case c.ops <- func(co *Core) { co.onOwnBeatBoundary(now) }:
	default:
	}
}

// postMIDIUnderrun reports a late MIDI tick (spec §4.7) to the event bus
// without blocking the timing goroutine that detected it.
func (c *Core) postMIDIUnderrun() {
	select {
	case c.ops <- func(co *Core) { co.bus.Publish(events.Event{Kind: events.KindMIDIUnderrun}) }:
	default:
	}
}

// Commander returns the command API (load_track, fader_start) for callers
// that only want to build/validate a packet without sending it.
func (c *Core) Commander() *events.Commander { return c.cmd }

// RequestMaster asks the local peer to begin claiming the tempo-master
// role (spec §4.4: RequestMaster drives Follower -> ClaimPending). Safe to
// call from any goroutine once Run is serving: the request is handed to
// the owning link-core task and this call blocks until it has been
// processed or ctx is done.
func (c *Core) RequestMaster(ctx context.Context) error {
	return c.do(ctx, func(co *Core) error {
		return co.neg.RequestMaster(co.clock.Now())
	})
}

// LoadTrack commands target to load the track described by ref: a
// type-0x19 packet built by the Commander and unicast to target on 50002
// (spec §4.8).
func (c *Core) LoadTrack(ctx context.Context, target byte, ref wire.TrackRef) error {
	return c.do(ctx, func(co *Core) error {
		pkt, err := co.cmd.LoadTrack(target, ref)
		if err != nil {
			return err
		}
		co.unicastVia(co.unicastSock, target, pkt.Encode(co.local, co.name))
		return nil
	})
}

// FaderStart starts or stops target via the mixer-path fader-start
// packet, unicast to target on 50001 (spec §4.1 table's "ucast -> 50001"
// entry for type 0x02).
func (c *Core) FaderStart(ctx context.Context, target byte, start bool) error {
	return c.do(ctx, func(co *Core) error {
		pkt, err := co.cmd.FaderStart(target, start)
		if err != nil {
			return err
		}
		co.unicastVia(co.beatSock, target, pkt.Encode(co.local, co.name))
		return nil
	})
}

// do hands fn to the owning link-core task over c.ops and waits for it to
// run, honoring ctx both while enqueuing and while waiting for the result.
// This is how RequestMaster/LoadTrack/FaderStart stay callable from any
// goroutine (a CLI command, a future UI) without ever mutating the
// negotiator, registry, or sockets outside the single owning task (spec
// §5).
func (c *Core) do(ctx context.Context, fn func(*Core) error) error {
	result := make(chan error, 1)
	op := func(co *Core) { result <- fn(co) }
	select {
	case c.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates a Core. It does not touch the network; call Run to start.
func New(cfg Config) *Core {
	clock := cfg.Clock
	if clock == nil {
		clock = clockutil.SystemClock{}
	}
	reg := registry.New()
	clk := beatclock.New()
	if cfg.BPMSource != (beatclock.Source{}) {
		clk.SetSource(clock.Now(), cfg.BPMSource)
	}
	sink := cfg.MIDISink
	if sink == nil {
		sink = midiclock.NewNullSink()
	}
	c := &Core{
		cfg:   cfg,
		name:  cfg.Name,
		reg:   reg,
		trk:   tracker.New(),
		clk:   clk,
		gen:   midiclock.NewGenerator(sink, cfg.MIDIConfig, cfg.Logger.With().Str("component", "midiclock").Logger(), clock),
		bus:   events.New(),
		clock: clock,
		log:   cfg.Logger,
	}
	c.cmd = events.NewCommander(reg)
	c.keepaliveLimiter = netio.NewRateLimiter(clock, registry.KeepaliveInterval)
	c.statusLimiter = netio.NewRateLimiter(clock, netio.StatusCadence)
	c.ownBeatInBar = 1
	c.ops = make(chan func(*Core), 16)
	return c
}

// Run opens the three sockets, performs the self-assignment handshake
// (unless PassiveJoin), and blocks serving the link core's event loop
// until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	var err error
	if c.discoverySock, err = netio.Open(netio.PortDiscovery); err != nil {
		return err
	}
	defer c.discoverySock.Close()
	if c.beatSock, err = netio.Open(netio.PortBeatBroadcast); err != nil {
		return err
	}
	defer c.beatSock.Close()
	if c.unicastSock, err = netio.Open(netio.PortUnicast); err != nil {
		return err
	}
	defer c.unicastSock.Close()

	g, gctx := errgroup.WithContext(ctx)
	discoveryIn := c.discoverySock.Receive(gctx)
	beatIn := c.beatSock.Receive(gctx)
	unicastIn := c.unicastSock.Receive(gctx)

	if c.cfg.PassiveJoin {
		c.local = 0
		c.log.Info().Msg("link: joining passively, no device number claimed")
	} else {
		if err := c.selfAssign(gctx, discoveryIn); err != nil {
			return errors.Wrap(err, "link: self-assignment failed")
		}
	}
	c.neg = master.New(c.local)
	c.gen.Start()
	defer c.gen.Stop()

	g.Go(func() error { return c.serve(gctx, discoveryIn, beatIn, unicastIn) })
	g.Go(func() error { return c.gen.Run(gctx, c.midiSchedule, c.postOwnBeat, c.postMIDIUnderrun) })
	return g.Wait()
}

// selfAssign performs the four-broadcast ID-request handshake (spec §4.3),
// reading discoveryIn throughout so a peer that echoes our candidate
// before the final broadcast is actually observed. discoveryIn is the
// discovery socket's live receive channel, already running by the time
// selfAssign is called; it is handed back untouched for serve to keep
// draining, so nothing sent during the handshake window is lost.
//
// If every slot 1..4 is observed taken, the handshake is attempted up to 3
// times in total (spec §6/§7's "DeviceNumberConflict at startup — retry up
// to 3 times then exit 3") before giving up.
func (c *Core) selfAssign(ctx context.Context, discoveryIn <-chan netio.Inbound) error {
	const maxAttempts = 3
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var device byte
		device, err = c.attemptSelfAssign(ctx, discoveryIn)
		if err == nil {
			c.local = device
			c.log.Info().Uint8("device_number", c.local).Msg("link: self-assigned device number")
			return nil
		}
		if !errors.Is(err, registry.ErrNoFreeDeviceNumber) {
			return err
		}
		c.log.Warn().Int("attempt", attempt).Msg("link: every device number observed taken, retrying self-assignment")
	}
	return err
}

// attemptSelfAssign runs a single four-broadcast handshake, observing
// discoveryIn for the full 300ms between each broadcast so a late-arriving
// IDRequest/IDResponse/Keepalive naming our candidate bumps us to the next
// free number before we commit to it.
func (c *Core) attemptSelfAssign(ctx context.Context, discoveryIn <-chan netio.Inbound) (byte, error) {
	sa, err := registry.NewSelfAssigner(c.cfg.PreferredDeviceNumber, nil)
	if err != nil {
		return 0, err
	}
	ticker := c.clock.NewTimer(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		candidate := sa.Candidate()
		pkt := wire.IDRequest{Requested: candidate}
		if err := c.discoverySock.SendBroadcast(pkt.Encode(candidate, c.name)); err != nil {
			c.log.Warn().Err(err).Msg("link: id-request broadcast failed")
		}
		if sa.RecordBroadcastSent() {
			return sa.Commit(), nil
		}
	waitWindow:
		for {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case in, ok := <-discoveryIn:
				if !ok {
					if err := ctx.Err(); err != nil {
						return 0, err
					}
					return 0, errors.New("link: discovery socket closed during self-assignment")
				}
				if err := c.observeSelfAssignTraffic(sa, in); err != nil {
					return 0, err
				}
			case <-ticker.C():
				ticker.Reset(300 * time.Millisecond)
				break waitWindow
			}
		}
	}
}

// observeSelfAssignTraffic decodes one inbound discovery-socket packet and
// feeds any device number it asserts to sa.ObserveConflict, so a peer
// already holding that number bumps our candidate off it (spec §4.3).
// Device number 0 means "not yet assigned" and is not a conflict.
func (c *Core) observeSelfAssignTraffic(sa *registry.SelfAssigner, in netio.Inbound) error {
	pkt, _, device, err := wire.Decode(in.Port, in.Data)
	if err != nil || device == 0 {
		return nil
	}
	switch pkt.(type) {
	case wire.IDRequest, wire.IDResponse, wire.Keepalive:
		return sa.ObserveConflict(device)
	default:
		return nil
	}
}

func (c *Core) serve(ctx context.Context, discoveryIn, beatIn, unicastIn <-chan netio.Inbound) error {
	ticker := c.clock.NewTimer(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, a := range c.neg.Shutdown() {
				c.sendMasterAction(a)
			}
			return ctx.Err()
		case in, ok := <-discoveryIn:
			if !ok {
				return nil
			}
			c.handleInbound(in)
		case in, ok := <-beatIn:
			if !ok {
				return nil
			}
			c.handleInbound(in)
		case in, ok := <-unicastIn:
			if !ok {
				return nil
			}
			c.handleInbound(in)
		case op := <-c.ops:
			op(c)
		case now := <-ticker.C():
			c.onTick(now)
			ticker.Reset(tickInterval)
		}
	}
}

func (c *Core) handleInbound(in netio.Inbound) {
	pkt, name, device, err := wire.Decode(in.Port, in.Data)
	if err != nil {
		c.log.Debug().Err(err).Int("port", in.Port).Msg("link: dropping undecodable packet")
		return
	}
	now := c.clock.Now()

	switch p := pkt.(type) {
	case wire.Keepalive:
		c.onKeepalive(p, name, now)
	case wire.IDResponse:
		_ = c.reg.Touch(p.DeviceNumber, now)
	case wire.CDJStatus:
		c.onStatus(p, now)
	case wire.Beat:
		c.onBeat(p, now)
	case wire.MixerStatus:
		if p.Master {
			c.neg.ObserveMasterFlag(device)
		}
	case wire.MasterClaim:
		c.neg.ObserveConflict(device)
	case wire.MasterYieldRequest:
		for _, a := range c.neg.ObserveYieldRequest(p.DeviceNumber, now) {
			c.neg.ExtendYieldGrace(now, beatclock.TickInterval(firstOK(c.clk.EffectiveBPMCenti()))*24)
			c.sendMasterAction(a)
		}
	case wire.MasterYieldResponse:
		c.neg.ObserveYieldResponse(p.Ack)
	}
	c.checkMasterChanged()
	c.publishSnapshot()
}

// checkMasterChanged compares the negotiator's current master against the
// last published value and emits master_changed exactly once per observed
// transition (spec §5).
func (c *Core) checkMasterChanged() {
	cur := c.neg.CurrentMaster()
	if !masterEqual(cur, c.lastMaster) {
		c.lastMaster = cur
		evt := events.Event{Kind: events.KindMasterChanged, MasterDevice: cur}
		if cur != nil {
			evt.Device = *cur
		}
		c.bus.Publish(evt)
	}
}

func masterEqual(a, b *byte) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func firstOK(v uint32, ok bool) uint32 {
	if !ok {
		return 12000
	}
	return v
}

func (c *Core) onKeepalive(p wire.Keepalive, name string, now time.Time) {
	kind := registry.Kind(p.Kind)
	isNew, err := c.reg.Upsert(p.DeviceNumber, kind, name, p.MAC, p.IP, now)
	if errors.Is(err, registry.ErrConflict) {
		c.neg.ObserveConflict(p.DeviceNumber)
		return
	}
	if isNew {
		c.bus.Publish(events.Event{Kind: events.KindDeviceFound, Device: p.DeviceNumber})
	}
}

func (c *Core) onStatus(p wire.CDJStatus, now time.Time) {
	c.reg.Touch(p.DeviceNumber, now)
	for _, evt := range c.trk.ApplyStatus(p, now) {
		c.publishTrackerEvent(evt)
	}
	if p.Master {
		c.neg.ObserveMasterFlag(p.DeviceNumber)
	}
	c.bus.Publish(events.Event{Kind: events.KindPlayerUpdate, Device: p.DeviceNumber})
}

func (c *Core) onBeat(p wire.Beat, now time.Time) {
	for _, evt := range c.trk.ApplyBeat(p, now) {
		c.publishTrackerEvent(evt)
	}
	master := c.neg.CurrentMaster()
	if c.clk.OnBeat(now, p.DeviceNumber, master, c.trk.Snapshot()) {
		c.bus.Publish(events.Event{Kind: events.KindClockSourceChanged, Device: p.DeviceNumber, Detail: "resync"})
	}
	c.bus.Publish(events.Event{Kind: events.KindBeat, Device: p.DeviceNumber})
}

func (c *Core) publishTrackerEvent(evt tracker.Event) {
	c.bus.Publish(events.Event{Kind: events.KindPlayerUpdate, Device: evt.Device, Track: evt.Track})
}

func (c *Core) onTick(now time.Time) {
	for _, d := range c.reg.Sweep(now) {
		c.bus.Publish(events.Event{Kind: events.KindDeviceLost, Device: d})
	}
	for _, a := range c.neg.Poll(now) {
		c.sendMasterAction(a)
	}
	c.checkMasterChanged()
	if !c.cfg.PassiveJoin && c.keepaliveLimiter.Ready(now) {
		c.sendKeepalive()
	}
	if !c.cfg.PassiveJoin && c.statusLimiter.Ready(now) {
		c.sendStatus()
	}
	c.clk.Poll(now)
	c.publishSnapshot()
}

func (c *Core) sendKeepalive() {
	pkt := wire.Keepalive{DeviceNumber: c.local, Kind: wire.KindCDJ}
	if err := c.discoverySock.SendBroadcast(pkt.Encode(c.local, c.name)); err != nil {
		c.log.Warn().Err(err).Msg("link: keepalive broadcast failed")
	}
}

// sendStatus broadcasts our own CDJ-status packet at the 200ms cadence
// required by spec §4.2. The link core is a software peer rather than a
// real player, so Playing/Track are always false/nil; the packet exists
// so other peers (and any real player watching for a mixer/master) can
// see our presence and master flag on 50002.
func (c *Core) sendStatus() {
	bpm, ok := c.clk.EffectiveBPMCenti()
	bpmCenti := wire.NoTempoSentinel
	if ok {
		bpmCenti = uint16(bpm)
	}
	pkt := wire.CDJStatus{
		DeviceNumber: c.local,
		BPMCenti:     bpmCenti,
		Pitch:        wire.EncodePitchFactor(0),
		BeatInBar:    c.ownBeatInBar,
		Master:       c.neg.IsMaster(),
	}
	if err := c.unicastSock.SendBroadcast(pkt.Encode(c.local, c.name)); err != nil {
		c.log.Warn().Err(err).Msg("link: status broadcast failed")
	}
}

func (c *Core) sendMasterAction(a master.Action) {
	switch a.Kind {
	case master.ActionBroadcastClaim:
		pkt := wire.MasterClaim{DeviceNumber: c.local, Stage: a.ClaimStage}
		c.log.Debug().Str("claim_id", a.ClaimID).Uint8("stage", a.ClaimStage).Msg("link: broadcasting master claim")
		if err := c.beatSock.SendBroadcast(pkt.Encode(c.local, c.name)); err != nil {
			c.log.Warn().Err(err).Msg("link: master-claim broadcast failed")
		}
	case master.ActionSendYieldRequest:
		pkt := wire.MasterYieldRequest{DeviceNumber: c.local, TargetDevice: a.Target}
		c.unicastVia(c.unicastSock, a.Target, pkt.Encode(c.local, c.name))
	case master.ActionSendYieldResponse:
		pkt := wire.MasterYieldResponse{DeviceNumber: c.local, Ack: a.Ack}
		c.unicastVia(c.unicastSock, a.Target, pkt.Encode(c.local, c.name))
	}
}

// unicastVia sends data to device's registered address, on the port sock
// itself is bound to — per spec §6 "source port of outbound traffic
// equals destination port", so which socket we send from determines which
// port the peer receives on.
func (c *Core) unicastVia(sock *netio.Socket, device byte, data []byte) {
	d, ok := c.reg.Get(device)
	if !ok {
		c.log.Warn().Uint8("device", device).Msg("link: cannot unicast to unknown device")
		return
	}
	dst := &net.UDPAddr{IP: net.IPv4(d.IP[0], d.IP[1], d.IP[2], d.IP[3]), Port: sock.Port()}
	if err := sock.SendUnicast(data, dst); err != nil {
		c.log.Warn().Err(err).Msg("link: unicast send failed")
	}
}

// onOwnBeatBoundary advances our own beat-in-bar counter and, while we
// hold master (including the post-yield grace period), broadcasts a beat
// packet on 50001 (spec §4.2/§4.4). The Beat packet has no master bit of
// its own; our master flag is carried by the status packets sendStatus
// emits.
func (c *Core) onOwnBeatBoundary(now time.Time) {
	if c.ownBeatInBar >= 4 {
		c.ownBeatInBar = 1
	} else {
		c.ownBeatInBar++
	}
	if !c.neg.IsMaster() {
		return
	}
	bpm, ok := c.clk.EffectiveBPMCenti()
	if !ok {
		return
	}
	beatInterval := beatclock.TickInterval(bpm) * 24
	var offsets wire.NextBeatOffsets
	for i := range offsets {
		offsets[i] = uint16((beatInterval * time.Duration(i+1)) / time.Millisecond)
	}
	pkt := wire.Beat{
		DeviceNumber: c.local,
		BPMCenti:     uint16(bpm),
		Pitch:        wire.EncodePitchFactor(0),
		BeatInBar:    c.ownBeatInBar,
		NextBeats:    offsets,
	}
	if err := c.beatSock.SendBroadcast(pkt.Encode(c.local, c.name)); err != nil {
		c.log.Warn().Err(err).Msg("link: master beat broadcast failed")
	}
}
