// Package bus provides in-process pub/sub messaging between agents.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxLogSize = 1000

// Message is the envelope passed between agents on the bus.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Sender    string         `json:"sender"`
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  int            `json:"priority"` // higher = more important
}

// Handler receives published messages. Handlers run synchronously in publish
// order per subscriber; a panicking handler never blocks delivery to siblings.
type Handler func(msg Message)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a single-process pub/sub message bus with a bounded replay log.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	nextSubID   uint64
	messageLog  []Message
	now         func() time.Time
}

// New creates a message bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]subscriber),
		now:         time.Now,
	}
}

// Subscription identifies an active handler registration for Unsubscribe.
type Subscription struct {
	topic string
	id    uint64
}

// Subscribe registers a handler for a topic and returns its subscription.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := subscriber{id: b.nextSubID, handler: handler}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	log.Debug().Str("topic", topic).Uint64("sub_id", sub.id).Msg("Bus subscription added")
	return Subscription{topic: topic, id: sub.id}
}

// Unsubscribe removes a handler registration.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers a message to every subscriber of its topic, in publish
// order per subscriber. Handler panics are recovered and logged so one
// failing handler cannot stall delivery to the others.
func (b *Bus) Publish(msg Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}

	b.mu.Lock()
	b.messageLog = append(b.messageLog, msg)
	if len(b.messageLog) > maxLogSize {
		b.messageLog = b.messageLog[len(b.messageLog)-maxLogSize:]
	}
	handlers := make([]subscriber, len(b.subscribers[msg.Topic]))
	copy(handlers, b.subscribers[msg.Topic])
	b.mu.Unlock()

	for _, s := range handlers {
		b.deliver(s, msg)
	}
}

func (b *Bus) deliver(s subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("topic", msg.Topic).
				Str("sender", msg.Sender).
				Uint64("sub_id", s.id).
				Msg("Bus handler panicked")
		}
	}()
	s.handler(msg)
}

// Broadcast creates and publishes a message in one call.
func (b *Bus) Broadcast(sender, topic string, payload map[string]any) {
	b.Publish(Message{Sender: sender, Topic: topic, Payload: payload})
}

// GetRecentMessages returns recent messages, optionally filtered by topic.
func (b *Bus) GetRecentMessages(topic string, limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.messageLog
	if topic != "" {
		filtered := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Topic == topic {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
