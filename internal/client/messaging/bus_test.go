package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Send(TopicLocked, "user-1")

	for _, ch := range []<-chan Message{ch1, ch2} {
		select {
		case msg := <-ch:
			require.Equal(t, TopicLocked, msg.Topic)
			require.Equal(t, "user-1", msg.Payload)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe()
	cancel()

	// Channel is closed; a send after cancel must not panic.
	bus.Send(TopicSyncStarted, nil)

	_, open := <-ch
	require.False(t, open)
}

func TestBus_SendNeverBlocks(t *testing.T) {
	bus := NewBus()

	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer without anyone draining.
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Send(TopicSyncCompleted, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a slow subscriber")
	}
}
