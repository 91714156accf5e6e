package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSelfAssignerPicksLowestFree(t *testing.T) {
	s, err := NewSelfAssigner(0, map[byte]bool{1: true})
	require.NoError(t, err)
	require.Equal(t, byte(2), s.Candidate())
}

func TestNewSelfAssignerHonorsPreference(t *testing.T) {
	s, err := NewSelfAssigner(3, nil)
	require.NoError(t, err)
	require.Equal(t, byte(3), s.Candidate())
}

func TestNewSelfAssignerAllTakenErrors(t *testing.T) {
	_, err := NewSelfAssigner(0, map[byte]bool{1: true, 2: true, 3: true, 4: true})
	require.ErrorIs(t, err, ErrNoFreeDeviceNumber)
}

func TestSelfAssignerMovesOnLateConflict(t *testing.T) {
	s, err := NewSelfAssigner(2, nil)
	require.NoError(t, err)
	require.Equal(t, byte(2), s.Candidate())

	require.NoError(t, s.ObserveConflict(2))
	require.Equal(t, byte(1), s.Candidate(), "must pick the next free number, not necessarily +1")
}

func TestSelfAssignerIgnoresConflictOnOtherNumbers(t *testing.T) {
	s, err := NewSelfAssigner(2, nil)
	require.NoError(t, err)
	require.NoError(t, s.ObserveConflict(3))
	require.Equal(t, byte(2), s.Candidate())
}

func TestSelfAssignerCompletesAfterFourBroadcasts(t *testing.T) {
	s, err := NewSelfAssigner(2, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.False(t, s.RecordBroadcastSent())
	}
	require.True(t, s.RecordBroadcastSent())
	require.True(t, s.Done())
	require.Equal(t, byte(2), s.Commit())
}
