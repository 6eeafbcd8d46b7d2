package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHubPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	a := hub.subscribe()
	b := hub.subscribe()
	defer hub.unsubscribe(a)
	defer hub.unsubscribe(b)

	hub.Publish(Event{Type: EventRoomUpdated, RoomID: "r1"})

	for _, sub := range []*subscriber{a, b} {
		data := <-sub.send
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, EventRoomUpdated, ev.Type)
		assert.Equal(t, "r1", ev.RoomID)
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	sub := hub.subscribe()
	require.Equal(t, 1, hub.Len())

	// Never drained: one publish past the buffer evicts the subscriber.
	for i := 0; i <= subscriberBuffer; i++ {
		hub.Publish(Event{Type: EventCombatTick, RoomID: "r1"})
	}

	assert.Equal(t, 0, hub.Len())

	// The closed channel still yields the buffered backlog, then closes.
	drained := 0
	for range sub.send {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestHubDeliverAfterUnsubscribe(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	sub := hub.subscribe()
	hub.unsubscribe(sub)

	assert.False(t, hub.deliver(sub, []byte("{}")))
	assert.Equal(t, 0, hub.Len())
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	sub := hub.subscribe()

	hub.unsubscribe(sub)
	hub.unsubscribe(sub)
	assert.Equal(t, 0, hub.Len())
}

func TestHubDeliverQueuesForSubscriber(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	require.True(t, hub.deliver(sub, []byte(`{"type":"rooms"}`)))
	assert.Equal(t, []byte(`{"type":"rooms"}`), <-sub.send)
}
