package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedPublisher struct {
	mu       sync.Mutex
	channels []string
	started  chan struct{}
	gate     chan struct{}
}

func (p *gatedPublisher) Publish(ctx context.Context, channel string, event Event) error {
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return nil
}

func (p *gatedPublisher) delivered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

func TestAsyncPublisherFlushesOnClose(t *testing.T) {
	next := &gatedPublisher{}
	p := NewAsyncPublisher(next, 16, testLogger())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Publish(context.Background(), UserChannel(id), Event{Type: EventNotification}))
	}
	p.Close()

	assert.Equal(t, []string{"user.a", "user.b", "user.c"}, next.delivered())
	assert.ErrorIs(t, p.Publish(context.Background(), UserChannel("d"), Event{}), ErrPublisherClosed)

	// Close is idempotent.
	p.Close()
}

func TestAsyncPublisherRejectsWhenQueueIsFull(t *testing.T) {
	next := &gatedPublisher{started: make(chan struct{}, 1), gate: make(chan struct{})}
	p := NewAsyncPublisher(next, 1, testLogger())

	require.NoError(t, p.Publish(context.Background(), "user.1", Event{}))
	<-next.started // the worker now holds the first event

	require.NoError(t, p.Publish(context.Background(), "user.2", Event{}))
	assert.ErrorIs(t, p.Publish(context.Background(), "user.3", Event{}), ErrQueueFull)

	close(next.gate)
	p.Close()
	assert.Equal(t, []string{"user.1", "user.2"}, next.delivered())
}
