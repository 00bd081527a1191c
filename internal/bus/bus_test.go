package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()

	var received []int
	b.Subscribe("ticks", func(msg Message) {
		received = append(received, msg.Payload["seq"].(int))
	})

	for i := 0; i < 10; i++ {
		b.Broadcast("tester", "ticks", map[string]any{"seq": i})
	}

	require.Len(t, received, 10)
	for i, v := range received {
		assert.Equal(t, i, v)
	}
}

func TestPanickingHandlerDoesNotBlockSiblings(t *testing.T) {
	b := New()

	var delivered int
	b.Subscribe("alerts", func(msg Message) {
		panic("handler exploded")
	})
	b.Subscribe("alerts", func(msg Message) {
		delivered++
	})

	b.Broadcast("tester", "alerts", map[string]any{"n": 1})
	b.Broadcast("tester", "alerts", map[string]any{"n": 2})

	assert.Equal(t, 2, delivered)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	var count int
	sub := b.Subscribe("topic", func(msg Message) { count++ })

	b.Broadcast("tester", "topic", nil)
	b.Unsubscribe(sub)
	b.Broadcast("tester", "topic", nil)

	assert.Equal(t, 1, count)
}

func TestTopicIsolation(t *testing.T) {
	b := New()

	var aCount, bCount int
	b.Subscribe("a", func(msg Message) { aCount++ })
	b.Subscribe("b", func(msg Message) { bCount++ })

	b.Broadcast("tester", "a", nil)
	b.Broadcast("tester", "a", nil)
	b.Broadcast("tester", "b", nil)

	assert.Equal(t, 2, aCount)
	assert.Equal(t, 1, bCount)
}

func TestGetRecentMessages(t *testing.T) {
	b := New()

	for i := 0; i < 5; i++ {
		b.Broadcast("tester", "x", map[string]any{"i": i})
	}
	b.Broadcast("tester", "y", nil)

	all := b.GetRecentMessages("", 0)
	assert.Len(t, all, 6)

	onlyX := b.GetRecentMessages("x", 0)
	assert.Len(t, onlyX, 5)

	limited := b.GetRecentMessages("x", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, 3, limited[0].Payload["i"])
	assert.Equal(t, 4, limited[1].Payload["i"])
}

func TestLogIsBounded(t *testing.T) {
	b := New()
	for i := 0; i < maxLogSize+100; i++ {
		b.Broadcast("tester", "flood", map[string]any{"i": i})
	}
	all := b.GetRecentMessages("", 0)
	assert.Len(t, all, maxLogSize)
	// Oldest entries were evicted
	assert.Equal(t, 100, all[0].Payload["i"])
}

func TestConcurrentPublishSafety(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.Subscribe("load", func(msg Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Broadcast("tester", "load", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, count)
}

func TestMessageDefaultsAssigned(t *testing.T) {
	b := New()

	var got Message
	b.Subscribe("t", func(msg Message) { got = msg })
	b.Publish(Message{Sender: "s", Topic: "t"})

	assert.NotZero(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}
