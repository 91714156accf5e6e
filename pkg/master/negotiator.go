// Package master implements the tempo-master handoff state machine (spec
// §4.4): claim, yield, and relay the master role per the observed Pioneer
// protocol rules.
//
// The negotiator never touches a socket itself — like the rest of the
// link core it only produces Actions for the owning task to send via
// Network I/O, the same separation the teacher (scgolang-oscsync) draws
// between its `loop(ctx)` state update and `sendPulse`'s actual socket
// write.
package master

import (
	"time"

	"github.com/google/uuid"
)

// State is one of the four negotiator states (spec §4.4).
type State int

const (
	Follower State = iota
	ClaimPending
	Master
	YieldPending
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case ClaimPending:
		return "claim_pending"
	case Master:
		return "master"
	case YieldPending:
		return "yield_pending"
	default:
		return "unknown"
	}
}

// claimBroadcastInterval is the spacing between the three master-claim
// broadcasts, and yieldAckTimeout the window to wait for a yield ACK.
const (
	claimBroadcastInterval = 200 * time.Millisecond
	yieldAckTimeout        = 500 * time.Millisecond
)

// ActionKind identifies the kind of outbound packet an Action requests.
type ActionKind int

const (
	ActionBroadcastClaim ActionKind = iota
	ActionSendYieldRequest
	ActionSendYieldResponse
)

// Action is a side effect the negotiator wants the owning task to perform.
// It never touches a socket itself.
type Action struct {
	Kind       ActionKind
	ClaimStage byte   // valid for ActionBroadcastClaim: counts down 3,2,1
	Target     byte   // valid for ActionSendYieldRequest/Response
	Ack        bool   // valid for ActionSendYieldResponse
	ClaimID    string // correlation id shared by every action of one claim sequence, for log tracing
}

// ErrClaimInFlight is returned by RequestMaster when a claim sequence is
// already in progress (spec invariant: "at most one outbound master-claim
// sequence in flight").
type ErrClaimInFlight struct{}

func (ErrClaimInFlight) Error() string { return "master: claim already in flight" }

// Negotiator is the per-local-peer state machine.
type Negotiator struct {
	local byte

	state         State
	currentMaster *byte

	claimStagesSent  int
	nextClaimAt      time.Time
	awaitingYieldAck bool
	yieldAckDeadline time.Time
	yieldRequestedOf *byte // current master we asked to yield to us

	yieldGraceUntil  time.Time
	yieldNewMaster   byte
	lastYieldAskedBy *byte // most recent peer that asked us to yield, for a clean shutdown

	claimID string // correlation id for the in-flight claim sequence, if any
}

// ClaimID returns the correlation id of the in-flight (or most recently
// completed) claim sequence, for tagging log lines across its three
// broadcasts and any yield request/response (spec §4.4 debug traceability).
func (n *Negotiator) ClaimID() string { return n.claimID }

// New creates a Negotiator for the given local device number, starting in
// Follower.
func New(local byte) *Negotiator {
	return &Negotiator{local: local, state: Follower}
}

// State returns the current state.
func (n *Negotiator) State() State { return n.state }

// CurrentMaster returns the device number believed to hold master, if any.
func (n *Negotiator) CurrentMaster() *byte { return n.currentMaster }

// IsMaster reports whether we currently hold the master role, including
// the post-yield grace period (YieldPending) during which we keep emitting
// master beats.
func (n *Negotiator) IsMaster() bool { return n.state == Master || n.state == YieldPending }

// RequestMaster begins a claim sequence (Follower -> ClaimPending). now is
// used to schedule the first of three spaced broadcasts.
func (n *Negotiator) RequestMaster(now time.Time) error {
	if n.state == ClaimPending {
		return ErrClaimInFlight{}
	}
	if n.state == Master {
		return nil // already master, nothing to do
	}
	n.state = ClaimPending
	n.claimStagesSent = 0
	n.nextClaimAt = now
	n.awaitingYieldAck = false
	n.claimID = uuid.NewString()
	return nil
}

// ObserveMasterFlag records that device asserted the master bit in an
// inbound CDJ-status or mixer-status packet. Per spec §4.4 this only updates our
// model while we are a Follower — the peer that flips its master bit is
// authoritative.
func (n *Negotiator) ObserveMasterFlag(device byte) {
	if n.state != Follower {
		return
	}
	d := device
	n.currentMaster = &d
}

// ObserveConflict lets the Device Registry tell the negotiator a
// device-number conflict was seen, so it can avoid colliding on its own
// number (spec §4.3). The negotiator has no number of its own to change
// here (that's the registry's SelfAssigner); this is a hook for future
// extension and is safe to call unconditionally.
func (n *Negotiator) ObserveConflict(byte) {}

// ObserveYieldRequest handles an inbound unicast yield-request from peer
// `from` asking us (the current master) to step down. Returns the
// yield-response action to send.
func (n *Negotiator) ObserveYieldRequest(from byte, now time.Time) []Action {
	if n.state != Master {
		return nil
	}
	n.state = YieldPending
	n.yieldNewMaster = from
	n.lastYieldAskedBy = &from
	// yieldGraceUntil is set by the caller via ExtendYieldGrace once it
	// knows the current beat interval; default to immediate.
	n.yieldGraceUntil = now
	return []Action{{Kind: ActionSendYieldResponse, Target: from, Ack: true}}
}

// ExtendYieldGrace is called right after ObserveYieldRequest with the
// current beat interval, so we keep emitting master-flagged beats for one
// additional beat before actually stepping down (spec §4.4: "keep emitting
// master-flagged beats for one additional beat interval to avoid a gap").
func (n *Negotiator) ExtendYieldGrace(now time.Time, beatInterval time.Duration) {
	if n.state != YieldPending {
		return
	}
	n.yieldGraceUntil = now.Add(beatInterval)
}

// ObserveYieldResponse handles an inbound ACK for a yield-request we sent
// while claiming. Only a response with ack true completes the claim; a
// response with ack false is ignored, and the claim then completes on the
// yield-ack timeout in Poll.
func (n *Negotiator) ObserveYieldResponse(ack bool) {
	if n.state != ClaimPending || !n.awaitingYieldAck {
		return
	}
	if ack {
		n.becomeMaster()
	}
}

// Poll advances time-driven transitions (spaced claim broadcasts, the
// yield-ack timeout, and the post-yield grace period) and returns any
// Actions that became due.
func (n *Negotiator) Poll(now time.Time) []Action {
	switch n.state {
	case ClaimPending:
		return n.pollClaimPending(now)
	case YieldPending:
		if !n.yieldGraceUntil.After(now) {
			n.state = Follower
			n.currentMaster = n.lastYieldAskedBy
		}
	}
	return nil
}

func (n *Negotiator) pollClaimPending(now time.Time) []Action {
	var actions []Action
	if n.claimStagesSent < 3 && !now.Before(n.nextClaimAt) {
		stage := byte(3 - n.claimStagesSent)
		n.claimStagesSent++
		n.nextClaimAt = now.Add(claimBroadcastInterval)
		actions = append(actions, Action{Kind: ActionBroadcastClaim, ClaimStage: stage, ClaimID: n.claimID})

		if n.claimStagesSent == 3 {
			if n.currentMaster == nil {
				n.becomeMaster()
				return actions
			}
			target := *n.currentMaster
			n.yieldRequestedOf = &target
			n.awaitingYieldAck = true
			n.yieldAckDeadline = now.Add(yieldAckTimeout)
			actions = append(actions, Action{Kind: ActionSendYieldRequest, Target: target, ClaimID: n.claimID})
		}
	} else if n.awaitingYieldAck && !now.Before(n.yieldAckDeadline) {
		// Timeout without ACK but the broadcast sequence completed:
		// become master anyway (observed hardware behavior).
		n.becomeMaster()
	}
	return actions
}

func (n *Negotiator) becomeMaster() {
	n.state = Master
	n.awaitingYieldAck = false
	me := n.local
	n.currentMaster = &me
}

// Shutdown transitions to Follower from any state. If we hold master and
// a peer had asked us to yield, we send it three yield-responses to leave
// cleanly (spec §4.4/§5), matching the "send a final yield if the peer
// holds master" shutdown contract.
func (n *Negotiator) Shutdown() []Action {
	var actions []Action
	if n.state == Master || n.state == YieldPending {
		if n.lastYieldAskedBy != nil {
			for i := 0; i < 3; i++ {
				actions = append(actions, Action{Kind: ActionSendYieldResponse, Target: *n.lastYieldAskedBy, Ack: true})
			}
		}
	}
	n.state = Follower
	return actions
}
