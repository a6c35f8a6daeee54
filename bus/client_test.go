package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{
		Addr:          mr.Addr(),
		GroupID:       "twin-test",
		FlushInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestProduceConsumeRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureTopics(ctx, Topics()))

	payload := map[string]any{
		"patientId":                "p-0001",
		"originHospital":           "CHUAC",
		"destinationHospital":      "Modelo",
		"reason":                   "SATURATION",
		"triageLevel":              "YELLOW",
		"estimatedTransferMinutes": 10,
	}
	require.NoError(t, c.Produce(ctx, TopicDiversionAlerts, "CHUAC", payload))

	got := make(chan Message, 1)
	cons := c.Subscribe([]string{TopicDiversionAlerts}, "roundtrip")
	cons.On(TopicDiversionAlerts, func(m Message) error {
		got <- m
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = cons.Run(runCtx) }()
	defer cons.Stop()

	select {
	case m := <-got:
		assert.Equal(t, TopicDiversionAlerts, m.Topic)
		assert.Equal(t, "CHUAC", m.Key)
		assert.NotEmpty(t, m.Offset)
		assert.WithinDuration(t, time.Now(), m.ProducerTimestamp, time.Minute)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(m.Payload, &decoded))
		assert.Equal(t, "p-0001", decoded["patientId"])
		assert.Equal(t, "SATURATION", decoded["reason"])
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered within 5s")
	}
}

func TestEnsureTopicsIdempotent(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureTopics(ctx, Topics()))
	require.NoError(t, c.EnsureTopics(ctx, Topics()))

	for _, topic := range Topics() {
		assert.True(t, mr.Exists(topic), "stream %s should exist", topic)
	}
}

func TestProduceRejectsInvalidPayload(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	err := c.Produce(ctx, TopicTriageResults, "CHUAC", map[string]any{"patientId": "p-1"})
	require.ErrorIs(t, err, ErrInvalidPayload)

	assert.False(t, mr.Exists(TopicTriageResults), "rejected payload must not be appended")
	assert.Zero(t, c.OutboxDepth(TopicTriageResults), "rejected payload must not be outboxed")
}

func TestConsumerSkipsFailedHandler(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for i, key := range []string{"first", "second"} {
		payload := map[string]any{
			"command": "set_speed",
			"speed":   float64(i + 1),
		}
		require.NoError(t, c.Produce(ctx, TopicSimulationControl, key, payload))
	}

	var mu sync.Mutex
	var seen []string
	cons := c.Subscribe([]string{TopicSimulationControl}, "skip-test")
	cons.On(TopicSimulationControl, func(m Message) error {
		mu.Lock()
		seen = append(seen, m.Key)
		mu.Unlock()
		if m.Key == "first" {
			return errors.New("handler exploded")
		}
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = cons.Run(runCtx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, 20*time.Millisecond, "both messages should reach the handler")
	cons.Stop()

	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, seen)
	mu.Unlock()

	// The failed message is logged and skipped, never redelivered.
	pending, err := c.rdb.XPending(ctx, TopicSimulationControl, "skip-test").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestConsumerRunTwice(t *testing.T) {
	c, _ := newTestClient(t)

	cons := c.Subscribe([]string{TopicHospitalStats}, "dup-run")
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = cons.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&cons.running) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A second Run must bail out instead of competing for the stream.
	done := make(chan error, 1)
	go func() { done <- cons.Run(runCtx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second Run should return immediately")
	}
	cons.Stop()
}

func TestProduceQueuesToOutboxWhenBrokerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(Config{
		Addr:          mr.Addr(),
		GroupID:       "twin-test",
		SendTimeout:   500 * time.Millisecond,
		FlushInterval: time.Hour, // keep the flusher out of this test
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	mr.Close()

	ctx := context.Background()
	payload := map[string]any{"command": "stop"}

	// Fire-and-forget path: the caller never sees the outage.
	require.NoError(t, c.Produce(ctx, TopicSimulationControl, "", payload))
	assert.Equal(t, 1, c.OutboxDepth(TopicSimulationControl))

	// Strict path: the caller does.
	err = c.ProduceStrict(ctx, TopicSimulationControl, "", payload)
	require.ErrorIs(t, err, ErrBusUnavailable)
	assert.Equal(t, 1, c.OutboxDepth(TopicSimulationControl), "strict failures are not outboxed")
}

func TestSubscribeDefaultGroup(t *testing.T) {
	c, _ := newTestClient(t)

	cons := c.Subscribe([]string{TopicHospitalStats}, "")
	assert.Equal(t, "twin-test", cons.group)

	named := c.Subscribe([]string{TopicHospitalStats}, "coordinator")
	assert.Equal(t, "coordinator", named.group)
}
