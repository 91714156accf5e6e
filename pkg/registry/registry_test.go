package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertAndGet(t *testing.T) {
	r := New()
	now := time.Now()
	mac := [6]byte{0, 0, 0, 0, 0, 2}
	isNew, err := r.Upsert(2, KindCDJ, "CDJ-2", mac, [4]byte{10, 0, 0, 2}, now)
	require.NoError(t, err)
	require.True(t, isNew)

	d, ok := r.Get(2)
	require.True(t, ok)
	require.Equal(t, "CDJ-2", d.Name)
	require.Equal(t, now, d.LastSeen)
}

func TestUpsertConflictRejectsDifferentMAC(t *testing.T) {
	r := New()
	now := time.Now()
	mac1 := [6]byte{0, 0, 0, 0, 0, 1}
	mac2 := [6]byte{0, 0, 0, 0, 0, 2}
	_, err := r.Upsert(2, KindCDJ, "CDJ-2", mac1, [4]byte{}, now)
	require.NoError(t, err)

	_, err = r.Upsert(2, KindCDJ, "CDJ-2b", mac2, [4]byte{}, now)
	require.ErrorIs(t, err, ErrConflict)

	d, ok := r.Get(2)
	require.True(t, ok)
	require.Equal(t, mac1, d.MAC, "existing entry must be untouched by a conflicting arrival")
}

func TestSweepEvictsStaleDevices(t *testing.T) {
	r := New()
	now := time.Now()
	_, err := r.Upsert(2, KindCDJ, "CDJ-2", [6]byte{1}, [4]byte{}, now)
	require.NoError(t, err)

	evicted := r.Sweep(now.Add(1 * time.Second))
	require.Empty(t, evicted, "device seen 1s ago must not be evicted yet")

	evicted = r.Sweep(now.Add(LivenessTimeout + 100*time.Millisecond))
	require.Equal(t, []byte{2}, evicted)

	_, ok := r.Get(2)
	require.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	now := time.Now()
	_, err := r.Upsert(2, KindCDJ, "CDJ-2", [6]byte{1}, [4]byte{}, now)
	require.NoError(t, err)

	snap := r.Snapshot()
	snap[2] = Device{Number: 2, Name: "mutated"}

	d, _ := r.Get(2)
	require.Equal(t, "CDJ-2", d.Name, "mutating the snapshot must not affect the registry")
}

func TestHasKind(t *testing.T) {
	r := New()
	now := time.Now()
	require.False(t, r.HasKind(KindDJM))
	_, err := r.Upsert(0x11, KindDJM, "DJM-900NXS2", [6]byte{1}, [4]byte{}, now)
	require.NoError(t, err)
	require.True(t, r.HasKind(KindDJM))
}
