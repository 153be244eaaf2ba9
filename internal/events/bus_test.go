package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(apptype.ChangeEvent{Project: "default", EntityID: "e1", Version: 2, Kind: apptype.ChangeUpdated})

	for _, ch := range []<-chan apptype.ChangeEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "e1", ev.EntityID)
			assert.Equal(t, apptype.ChangeUpdated, ev.Kind)
			assert.False(t, ev.At.IsZero(), "publish stamps the event time")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	// Nobody is reading; the second publish must not block.
	bus.Publish(apptype.ChangeEvent{EntityID: "kept", Kind: apptype.ChangeCreated})
	done := make(chan struct{})
	go func() {
		bus.Publish(apptype.ChangeEvent{EntityID: "dropped", Kind: apptype.ChangeCreated})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	assert.Equal(t, "kept", ev.EntityID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %q", extra.EntityID)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open, "cancel closes the channel")

	// Publishing after cancel must not panic on the closed channel.
	bus.Publish(apptype.ChangeEvent{EntityID: "e1", Kind: apptype.ChangeCreated})
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch, cancel := bus.Subscribe(4)
	bus.Close()

	_, open := <-ch
	require.False(t, open)

	// Late operations are harmless no-ops.
	bus.Publish(apptype.ChangeEvent{EntityID: "e1", Kind: apptype.ChangeCreated})
	cancel()
	bus.Close()

	late, lateCancel := bus.Subscribe(4)
	defer lateCancel()
	_, open = <-late
	assert.False(t, open, "subscriptions after close are born closed")
}
