package bus

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// consumerBlock is the XREADGROUP block time per poll.
	consumerBlock = 2 * time.Second

	// consumerBatch caps messages fetched per poll.
	consumerBatch = 16

	// drainTimeout bounds how long Stop waits for the loop to finish its
	// current batch.
	drainTimeout = 5 * time.Second
)

// Consumer reads one consumer group's view of a set of topics and
// dispatches each message to at most one registered handler. Decode and
// handler errors skip the message and advance the offset.
type Consumer struct {
	client   *Client
	group    string
	name     string
	topics   []string
	handlers map[string]Handler

	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newConsumer(c *Client, topics []string, group string) *Consumer {
	return &Consumer{
		client:   c,
		group:    group,
		name:     group + "-" + uuid.NewString()[:8],
		topics:   append([]string(nil), topics...),
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// On registers the handler for a topic, replacing any previous one.
// Returns the consumer for chaining.
func (s *Consumer) On(topic string, h Handler) *Consumer {
	s.handlers[topic] = h
	return s
}

// Run executes the consume loop until ctx is cancelled or Stop is called.
// A second concurrent Run is a no-op.
func (s *Consumer) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&s.running, 0)
	defer close(s.doneCh)

	if err := s.ensureGroups(ctx); err != nil {
		return err
	}
	logrus.Infof("bus: consumer %s reading %v", s.name, s.topics)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		default:
			s.poll(ctx)
		}
	}
}

// Stop signals the loop and waits for the current batch to drain, bounded
// by drainTimeout.
func (s *Consumer) Stop() {
	select {
	case <-s.stopCh:
		return // already stopped
	default:
	}
	close(s.stopCh)
	if atomic.LoadInt32(&s.running) == 0 {
		return
	}
	select {
	case <-s.doneCh:
	case <-time.After(drainTimeout):
		logrus.Warnf("bus: consumer %s did not drain within %s", s.name, drainTimeout)
	}
}

// ensureGroups registers the consumer group on every topic stream,
// creating missing streams. An existing group is fine.
func (s *Consumer) ensureGroups(ctx context.Context) error {
	for _, topic := range s.topics {
		err := s.client.rdb.XGroupCreateMkStream(ctx, topic, s.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// streamArgs builds the XREADGROUP Streams argument: topic names first,
// then one ">" marker per topic.
func (s *Consumer) streamArgs() []string {
	args := make([]string, 0, 2*len(s.topics))
	args = append(args, s.topics...)
	for range s.topics {
		args = append(args, ">")
	}
	return args
}

func (s *Consumer) poll(ctx context.Context) {
	streams, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.name,
		Streams:  s.streamArgs(),
		Count:    consumerBatch,
		Block:    consumerBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context") {
			return
		}
		logrus.Warnf("bus: consumer %s read error: %v", s.name, err)
		time.Sleep(time.Second)
		return
	}

	for _, stream := range streams {
		for _, raw := range stream.Messages {
			s.dispatch(ctx, stream.Stream, raw)
		}
	}
}

// dispatch hands one raw entry to the topic's handler. The offset advances
// unconditionally: a message is dispatched at most once per group.
func (s *Consumer) dispatch(ctx context.Context, topic string, raw redis.XMessage) {
	defer s.ack(ctx, topic, raw.ID)

	msg, err := decodeXMessage(topic, raw)
	if err != nil {
		skippedTotal.WithLabelValues(topic, s.group).Inc()
		logrus.Warnf("bus: skipping undecodable message %s on %s: %v", raw.ID, topic, err)
		return
	}

	handler, ok := s.handlers[topic]
	if !ok {
		return
	}
	if err := handler(msg); err != nil {
		skippedTotal.WithLabelValues(topic, s.group).Inc()
		logrus.Warnf("bus: handler for %s skipped message %s: %v", topic, raw.ID, err)
		return
	}
	consumedTotal.WithLabelValues(topic, s.group).Inc()
}

func (s *Consumer) ack(ctx context.Context, topic, id string) {
	if err := s.client.rdb.XAck(ctx, topic, s.group, id).Err(); err != nil &&
		!errors.Is(err, context.Canceled) {
		logrus.Warnf("bus: ack %s on %s failed: %v", id, topic, err)
	}
}

// decodeXMessage unpacks the canonical envelope written by appendOnce.
func decodeXMessage(topic string, raw redis.XMessage) (Message, error) {
	data, ok := raw.Values["data"].(string)
	if !ok {
		return Message{}, errors.New("missing data field")
	}
	msg := Message{
		Topic:     topic,
		Payload:   []byte(data),
		Partition: 0,
		Offset:    raw.ID,
	}
	if key, ok := raw.Values["key"].(string); ok {
		msg.Key = key
	}
	if ts, ok := raw.Values["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.ProducerTimestamp = parsed.UTC()
		}
	}
	return msg, nil
}
