package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(KindBeat)
	b.Publish(Event{Kind: KindBeat, Device: 2})

	select {
	case evt := <-ch:
		require.Equal(t, KindBeat, evt.Kind)
		require.EqualValues(t, 2, evt.Device)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishDoesNotCrossKinds(t *testing.T) {
	b := New()
	beatCh, _ := b.Subscribe(KindBeat)
	b.Publish(Event{Kind: KindPlayerUpdate, Device: 2})

	select {
	case <-beatCh:
		t.Fatal("a player_update must not be delivered to a beat subscriber")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishDropsRatherThanBlocksWhenQueueFull(t *testing.T) {
	b := NewWithDepth(1)
	ch, _ := b.Subscribe(KindDeviceFound)
	b.Publish(Event{Kind: KindDeviceFound, Device: 1})
	b.Publish(Event{Kind: KindDeviceFound, Device: 2}) // dropped, queue depth 1 and nobody's read yet

	evt := <-ch
	require.EqualValues(t, 1, evt.Device, "the first event should have been delivered; the second dropped")

	select {
	case <-ch:
		t.Fatal("no second event should have been queued")
	default:
	}
}

func TestMultipleSubscribersOfSameKindEachGetTheEvent(t *testing.T) {
	b := New()
	a, _ := b.Subscribe(KindMasterChanged)
	c, _ := b.Subscribe(KindMasterChanged)
	b.Publish(Event{Kind: KindMasterChanged, Device: 9})

	require.EqualValues(t, 9, (<-a).Device)
	require.EqualValues(t, 9, (<-c).Device)
}
