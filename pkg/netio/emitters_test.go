package netio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prodj/link-core/pkg/clockutil"
)

func TestRateLimiterFiresImmediatelyThenWaits(t *testing.T) {
	clock := clockutil.NewFakeClock(time.Now())
	rl := NewRateLimiter(clock, KeepaliveCadence)

	require.True(t, rl.Ready(clock.Now()))
	require.False(t, rl.Ready(clock.Now()), "must not fire again before the interval elapses")

	clock.Advance(KeepaliveCadence)
	require.True(t, rl.Ready(clock.Now()))
}
