package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/order-saga/internal/kafka"
	"github.com/jmehdipour/order-saga/internal/mapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConsumer struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (c *fakeConsumer) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (c *fakeConsumer) Commit(_ context.Context, m kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, m.Offset)
	return nil
}

func (c *fakeConsumer) commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.committed)
}

func run(t *testing.T, l *Listener, c *fakeConsumer, want int) {
	t.Helper()
	l.sleep = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return c.commits() >= want }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestListener_CommitsAfterHandling(t *testing.T) {
	c := &fakeConsumer{in: make(chan kafka.Message, 8)}

	var mu sync.Mutex
	var seen []string
	failures := 2
	handlers := map[string]Handler{
		"ok": func(_ context.Context, v []byte) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(v))
			return nil
		},
		"flaky": func(_ context.Context, v []byte) error {
			mu.Lock()
			defer mu.Unlock()
			if failures > 0 {
				failures--
				return errors.New("db busy")
			}
			seen = append(seen, string(v))
			return nil
		},
		"poison": func(context.Context, []byte) error {
			return fmt.Errorf("%w: bad json", mapper.ErrMalformedMessage)
		},
	}
	l := NewListener(c, handlers, zaptest.NewLogger(t))
	l.Workers = 3

	c.in <- kafka.Message{Topic: "ok", Key: []byte("s1"), Value: []byte("a"), Offset: 1}
	c.in <- kafka.Message{Topic: "poison", Key: []byte("s2"), Value: []byte("{"), Offset: 2}
	c.in <- kafka.Message{Topic: "flaky", Key: []byte("s3"), Value: []byte("b"), Offset: 3}
	c.in <- kafka.Message{Topic: "unknown", Key: []byte("s4"), Offset: 4}

	run(t, l, c, 4)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
	assert.Equal(t, 0, failures)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, c.committed)
}

func TestListener_DropsAfterMaxAttemptsWhenAllowed(t *testing.T) {
	c := &fakeConsumer{in: make(chan kafka.Message, 1)}
	calls := 0
	l := NewListener(c, map[string]Handler{
		"t": func(context.Context, []byte) error { calls++; return errors.New("down") },
	}, zaptest.NewLogger(t))
	l.MaxAttempts = 3
	l.DropAfterMaxAttempts = true

	c.in <- kafka.Message{Topic: "t", Key: []byte("k"), Offset: 7}
	run(t, l, c, 1)

	assert.Equal(t, 3, calls)
}

func TestListener_FailingRecordHoldsPartitionBack(t *testing.T) {
	c := &fakeConsumer{in: make(chan kafka.Message, 2)}
	var mu sync.Mutex
	calls := 0
	l := NewListener(c, map[string]Handler{
		"t": func(_ context.Context, v []byte) error {
			mu.Lock()
			defer mu.Unlock()
			if string(v) == "first" {
				calls++
				if calls <= 5 {
					return errors.New("db down")
				}
			}
			return nil
		},
	}, zaptest.NewLogger(t))
	l.MaxAttempts = 2

	c.in <- kafka.Message{Topic: "t", Partition: 0, Key: []byte("a"), Value: []byte("first"), Offset: 10}
	c.in <- kafka.Message{Topic: "t", Partition: 0, Key: []byte("b"), Value: []byte("second"), Offset: 11}
	run(t, l, c, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 6, calls)
	assert.Equal(t, []int64{10, 11}, c.committed)
}

func TestListener_LaterOffsetWaitsForEarlierOne(t *testing.T) {
	c := &fakeConsumer{in: make(chan kafka.Message, 3)}
	started := make(chan struct{})
	l := NewListener(c, map[string]Handler{
		"t": func(ctx context.Context, v []byte) error {
			if string(v) != "slow" {
				return nil
			}
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}, zaptest.NewLogger(t))
	l.Workers = 8
	l.sleep = func(context.Context, time.Duration) error { return nil }

	c.in <- kafka.Message{Topic: "t", Partition: 0, Key: []byte("a"), Value: []byte("slow"), Offset: 10}
	c.in <- kafka.Message{Topic: "t", Partition: 0, Key: []byte("b"), Value: []byte("fast"), Offset: 11}
	c.in <- kafka.Message{Topic: "t", Partition: 1, Key: []byte("a"), Value: []byte("fast"), Offset: 3}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	<-started
	// the other partition is not held back
	require.Eventually(t, func() bool { return c.commits() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []int64{3}, c.committed)
}

func TestListener_PartitionStaysOnOneShard(t *testing.T) {
	for p := 0; p < 16; p++ {
		assert.Equal(t, shardOf("order-payment-response", p, 8), shardOf("order-payment-response", p, 8))
		assert.Less(t, shardOf("order-payment-response", p, 8), 8)
	}
	assert.NotEqual(t, shardOf("t", 0, 8), shardOf("t", 1, 8))
}
