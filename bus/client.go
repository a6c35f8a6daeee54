package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrBusUnavailable marks a publish that exhausted its retries because the
// broker could not be reached.
var ErrBusUnavailable = errors.New("bus unavailable")

const (
	// DefaultSendTimeout bounds a single append attempt.
	DefaultSendTimeout = 10 * time.Second

	// DefaultFlushInterval is the outbox redelivery cadence.
	DefaultFlushInterval = 2 * time.Second

	// producerAttempts is the bounded retry budget for one Produce call.
	producerAttempts = 3

	// initGroup is the bookkeeping consumer group used by EnsureTopics to
	// create missing streams; real consumers register their own groups.
	initGroup = "bus-init"
)

// Config carries the bus client settings. Zero values fall back to the
// defaults above.
type Config struct {
	Addr          string          // broker address, host:port (BUS_BOOTSTRAP)
	GroupID       string          // default consumer group (BUS_GROUP_ID)
	SendTimeout   time.Duration   // per-attempt publish deadline
	FlushInterval time.Duration   // outbox retry cadence
	OutboxLimit   int             // max queued messages per topic
	Registry      *SchemaRegistry // nil means the process-wide Registry
}

func (cfg *Config) withDefaults() {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.OutboxLimit <= 0 {
		cfg.OutboxLimit = DefaultOutboxLimit
	}
	if cfg.Registry == nil {
		cfg.Registry = Registry
	}
}

// Client is the topic-scoped producer/consumer handle. Safe for use from
// multiple goroutines; producer writes and consumer iteration may happen
// concurrently.
type Client struct {
	rdb       *redis.Client
	cfg       Config
	registry  *SchemaRegistry
	outbox    *outbox
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New dials the broker and starts the outbox flusher. The dial is verified
// with a PING so that misconfiguration surfaces at startup, not on the
// first publish.
func New(cfg Config) (*Client, error) {
	cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrBusUnavailable, cfg.Addr, err)
	}

	c := &Client{
		rdb:      rdb,
		cfg:      cfg,
		registry: cfg.Registry,
		outbox:   newOutbox(cfg.OutboxLimit),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go c.flushLoop()
	logrus.Infof("bus: connected to %s", cfg.Addr)
	return c, nil
}

// Produce validates, serializes and appends one message. Schema mismatches
// fail with ErrInvalidPayload. Broker failures after the retry budget do
// NOT fail the call: the message lands in the bounded outbox and nil is
// returned (fire-and-forget producers keep simulating through an outage).
func (c *Client) Produce(ctx context.Context, topic, key string, payload any) error {
	data, err := c.encode(topic, payload)
	if err != nil {
		return err
	}
	ts := time.Now().UTC()
	if err := c.append(ctx, topic, key, data, ts); err != nil {
		logrus.Warnf("bus: produce to %s failed after %d attempts, queued to outbox: %v",
			topic, producerAttempts, err)
		c.outbox.push(topic, key, data, ts)
	}
	return nil
}

// Publish is the fire-and-forget form of Produce used by the simulation
// engines and the coordinator: schema mismatches are logged and dropped
// (a malformed payload is a programmer error, not a reason to stall a
// hospital), broker failures go through the outbox.
func (c *Client) Publish(topic, key string, payload any) {
	if err := c.Produce(context.Background(), topic, key, payload); err != nil {
		logrus.Errorf("bus: dropping invalid payload for %s: %v", topic, err)
	}
}

// ProduceStrict is Produce without the outbox fallback: broker failures
// surface as ErrBusUnavailable. Used by the control CLI, where the caller
// needs to know the command did not go out.
func (c *Client) ProduceStrict(ctx context.Context, topic, key string, payload any) error {
	data, err := c.encode(topic, payload)
	if err != nil {
		return err
	}
	return c.append(ctx, topic, key, data, time.Now().UTC())
}

func (c *Client) encode(topic string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal for %s: %v", ErrInvalidPayload, topic, err)
	}
	if err := c.registry.Validate(topic, data); err != nil {
		return nil, err
	}
	return data, nil
}

// append runs the bounded retry loop: 3 attempts, exponential backoff with
// jitter, each attempt capped by SendTimeout.
func (c *Client) append(ctx context.Context, topic, key string, data []byte, ts time.Time) error {
	err := retry.Do(
		func() error { return c.appendOnce(ctx, topic, key, data, ts) },
		retry.Context(ctx),
		retry.Attempts(producerAttempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(150*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			produceRetriesTotal.WithLabelValues(topic).Inc()
			logrus.Debugf("bus: retrying produce to %s (attempt %d): %v", topic, n+1, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: append to %s: %v", ErrBusUnavailable, topic, err)
	}
	return nil
}

// appendOnce performs a single XADD with the canonical envelope fields.
func (c *Client) appendOnce(ctx context.Context, topic, key string, data []byte, ts time.Time) error {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	err := c.rdb.XAdd(sendCtx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":  key,
			"data": string(data),
			"ts":   ts.Format(utcLayout),
		},
	}).Err()
	if err != nil {
		return err
	}
	producedTotal.WithLabelValues(topic).Inc()
	return nil
}

// EnsureTopics idempotently creates the named streams. Existing topics are
// left untouched; nothing is ever deleted.
func (c *Client) EnsureTopics(ctx context.Context, names []string) error {
	for _, name := range names {
		err := c.rdb.XGroupCreateMkStream(ctx, name, initGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("%w: ensure topic %s: %v", ErrBusUnavailable, name, err)
		}
	}
	return nil
}

// Subscribe builds a consumer over the given topics for a consumer group.
// Register handlers with On, then call Run.
func (c *Client) Subscribe(topics []string, group string) *Consumer {
	if group == "" {
		group = c.cfg.GroupID
	}
	return newConsumer(c, topics, group)
}

// OutboxDepth reports how many messages wait for redelivery on a topic.
func (c *Client) OutboxDepth(topic string) int {
	return c.outbox.depth(topic)
}

// OutboxDropped reports how many messages a topic lost to outbox overflow.
func (c *Client) OutboxDropped(topic string) uint64 {
	return c.outbox.droppedCount(topic)
}

// flushLoop retries outboxed messages until Close. Single attempt per
// message per round; order within a topic is preserved.
func (c *Client) flushLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.outbox.drain(func(topic, key string, data []byte, ts time.Time) error {
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
				defer cancel()
				return c.appendOnce(ctx, topic, key, data, ts)
			})
		}
	}
}

// Close stops the flusher and releases the broker connection. Messages
// still queued in the outbox are dropped; the twin holds no persistent
// state of its own.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
		err = c.rdb.Close()
	})
	return err
}
