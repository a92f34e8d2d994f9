package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	records []EventWithData
	topics  []string
}

func (r *recordingSink) Record(topic string, event EventWithData) {
	r.topics = append(r.topics, topic)
	r.records = append(r.records, event)
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := New(zerolog.Nop(), nil)
	ch, cancel := bus.Subscribe("orders")
	defer cancel()

	event := EventWithData{Type: MasterOrderAccepted, Timestamp: time.Now(), Data: &MasterOrderAcceptedData{MasterOrderID: "o1"}}
	bus.Publish("orders", event)

	select {
	case got := <-ch:
		data, ok := got.Data.(*MasterOrderAcceptedData)
		require.True(t, ok)
		assert.Equal(t, "o1", data.MasterOrderID)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_PublishOnlyReachesMatchingTopic(t *testing.T) {
	bus := New(zerolog.Nop(), nil)
	ch, cancel := bus.Subscribe("orders")
	defer cancel()

	bus.Publish("other-topic", EventWithData{Type: FollowerOutcome, Data: &FollowerOutcomeData{}})

	select {
	case <-ch:
		t.Fatal("unexpected event delivered across topics")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Publish_RecordsToDurableSinkRegardlessOfSubscribers(t *testing.T) {
	sink := &recordingSink{}
	bus := New(zerolog.Nop(), sink)

	bus.Publish("orders", EventWithData{Type: MasterOrderAccepted, Data: &MasterOrderAcceptedData{MasterOrderID: "o1"}})

	require.Len(t, sink.records, 1)
	assert.Equal(t, "orders", sink.topics[0])
}

func TestBus_Publish_DropsEventForFullSlowConsumer(t *testing.T) {
	bus := New(zerolog.Nop(), nil)
	ch, cancel := bus.Subscribe("orders")
	defer cancel()

	// Overflow the subscriber's buffer; publishes beyond capacity must not block.
	for i := 0; i < subscriberBufferSize+10; i++ {
		bus.Publish("orders", EventWithData{Type: MasterOrderAccepted, Data: &MasterOrderAcceptedData{}})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			assert.LessOrEqual(t, drained, subscriberBufferSize)
			return
		}
	}
}

func TestBus_Unsubscribe_ClosesChannel(t *testing.T) {
	bus := New(zerolog.Nop(), nil)
	ch, cancel := bus.Subscribe("orders")
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}
