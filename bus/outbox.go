package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultOutboxLimit bounds the per-topic outbox. Overflow drops the oldest
// entry and increments the drop counter.
const DefaultOutboxLimit = 10000

type pendingMessage struct {
	key  string
	data []byte
	ts   time.Time
}

// outbox buffers messages that could not be appended to the broker. One
// FIFO per topic so that flushing preserves per-topic publish order.
type outbox struct {
	mu      sync.Mutex
	limit   int
	queues  map[string][]pendingMessage
	dropped map[string]uint64
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = DefaultOutboxLimit
	}
	return &outbox{
		limit:   limit,
		queues:  make(map[string][]pendingMessage),
		dropped: make(map[string]uint64),
	}
}

// push queues a message for later delivery, dropping the oldest entry for
// the topic when the bound is hit.
func (o *outbox) push(topic, key string, data []byte, ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queues[topic]
	if len(q) >= o.limit {
		q = q[1:]
		o.dropped[topic]++
		outboxDroppedTotal.WithLabelValues(topic).Inc()
		logrus.Warnf("bus: outbox for %s full (%d), dropped oldest message (total dropped: %d)",
			topic, o.limit, o.dropped[topic])
	}
	o.queues[topic] = append(q, pendingMessage{key: key, data: data, ts: ts})
	outboxDepth.WithLabelValues(topic).Set(float64(len(o.queues[topic])))
}

// drain attempts redelivery in order. On the first failure for a topic the
// rest of that topic's queue stays put, preserving order for the next round.
func (o *outbox) drain(send func(topic, key string, data []byte, ts time.Time) error) {
	o.mu.Lock()
	topics := make([]string, 0, len(o.queues))
	for topic, q := range o.queues {
		if len(q) > 0 {
			topics = append(topics, topic)
		}
	}
	o.mu.Unlock()

	for _, topic := range topics {
		for {
			o.mu.Lock()
			q := o.queues[topic]
			if len(q) == 0 {
				o.mu.Unlock()
				break
			}
			head := q[0]
			o.mu.Unlock()

			if err := send(topic, head.key, head.data, head.ts); err != nil {
				break
			}

			o.mu.Lock()
			// Recheck: push may have dropped the head while we were sending.
			if q := o.queues[topic]; len(q) > 0 {
				o.queues[topic] = q[1:]
				outboxDepth.WithLabelValues(topic).Set(float64(len(o.queues[topic])))
			}
			o.mu.Unlock()
		}
	}
}

// depth reports the queued message count for a topic.
func (o *outbox) depth(topic string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[topic])
}

// droppedCount reports how many messages the topic has lost to overflow.
func (o *outbox) droppedCount(topic string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[topic]
}
