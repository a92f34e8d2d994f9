package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// subscriberBufferSize bounds how far a consumer can lag before it starts
// missing events, rather than letting the channel grow unbounded or
// blocking the publisher. The subscription itself is never dropped.
const subscriberBufferSize = 64

type subscriber struct {
	id    uint64
	ch    chan EventWithData
	topic string
}

// Bus is a one-way, fire-and-forget, at-most-once pub/sub sink, organized
// by topic. Delivery uses a non-blocking select/default channel send so a
// slow consumer never blocks the publisher — it simply drops behind.
type Bus struct {
	log zerolog.Logger

	mu       sync.RWMutex
	nextID   uint64
	subs     map[string][]*subscriber // topic -> subscribers
	durable  DurableSink
}

// DurableSink receives every published event regardless of topic
// subscribers, for an audit record alongside the real-time UI sink. A nil
// sink disables durable recording.
type DurableSink interface {
	Record(topic string, event EventWithData)
}

// New builds an Event Publisher. durable may be nil.
func New(log zerolog.Logger, durable DurableSink) *Bus {
	return &Bus{
		log:     log.With().Str("component", "event_publisher").Logger(),
		subs:    make(map[string][]*subscriber),
		durable: durable,
	}
}

// Subscribe registers a consumer for topic, returning a receive-only channel
// and an unsubscribe function. While the channel's buffer is full, events
// for this consumer are discarded; the channel stays open until the
// unsubscribe function is called — the publisher never blocks on a slow
// subscriber.
func (b *Bus) Subscribe(topic string) (<-chan EventWithData, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan EventWithData, subscriberBufferSize), topic: topic}
	b.subs[topic] = append(b.subs[topic], sub)

	cancel := func() { b.unsubscribe(topic, sub.id) }
	return sub.ch, cancel
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans event out to every subscriber of topic. The publisher MUST
// NOT block the dispatcher if a consumer is slow: each send is a
// non-blocking select, and a full channel means that subscriber simply
// misses this event (at-most-once delivery).
func (b *Bus) Publish(topic string, event EventWithData) {
	if b.durable != nil {
		b.durable.Record(topic, event)
	}

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.log.Warn().Str("topic", topic).Uint64("subscriber", sub.id).Msg("dropped event for slow consumer")
		}
	}
}
