package registry

import "github.com/pkg/errors"

// ErrNoFreeDeviceNumber is returned when every player slot 1..4 is taken.
var ErrNoFreeDeviceNumber = errors.New("registry: no free device number in 1..4")

// SelfAssigner drives the startup device-number negotiation (spec §4.3):
// broadcast four ID-request packets 300ms apart announcing a desired
// number; if a peer echoes the same number before the final request, move
// to the next free one.
type SelfAssigner struct {
	candidate    byte
	broadcasts   int
	taken        map[byte]bool
}

// NewSelfAssigner starts negotiation for preferred (0 means "no
// preference, pick the lowest free slot in 1..4"). taken lists device
// numbers already observed on the network at startup.
func NewSelfAssigner(preferred byte, taken map[byte]bool) (*SelfAssigner, error) {
	seen := make(map[byte]bool, len(taken))
	for k, v := range taken {
		seen[k] = v
	}
	s := &SelfAssigner{taken: seen}
	if preferred != 0 && !seen[preferred] {
		s.candidate = preferred
		return s, nil
	}
	c, err := lowestFree(seen)
	if err != nil {
		return nil, err
	}
	s.candidate = c
	return s, nil
}

func lowestFree(taken map[byte]bool) (byte, error) {
	for n := byte(1); n <= 4; n++ {
		if !taken[n] {
			return n, nil
		}
	}
	return 0, ErrNoFreeDeviceNumber
}

// Candidate returns the device number currently being negotiated.
func (s *SelfAssigner) Candidate() byte { return s.candidate }

// ObserveConflict records that number is occupied by another peer. If it
// is our current candidate, we immediately move to the next free number so
// the following broadcast announces the new candidate.
func (s *SelfAssigner) ObserveConflict(number byte) error {
	s.taken[number] = true
	if number != s.candidate {
		return nil
	}
	next, err := lowestFree(s.taken)
	if err != nil {
		return err
	}
	s.candidate = next
	return nil
}

// RecordBroadcastSent counts one of the four spaced ID-request broadcasts.
// Done reports whether all four have now been sent.
func (s *SelfAssigner) RecordBroadcastSent() (done bool) {
	s.broadcasts++
	return s.broadcasts >= 4
}

// Commit finalizes the candidate once all four broadcasts have completed
// without a late conflict. Callers should check Done() before calling.
func (s *SelfAssigner) Commit() byte { return s.candidate }

// Done reports whether the four-broadcast handshake has completed.
func (s *SelfAssigner) Done() bool { return s.broadcasts >= 4 }
