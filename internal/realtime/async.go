package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull       = errors.New("publish queue full")
	ErrPublisherClosed = errors.New("publisher closed")
)

const publishTimeout = 5 * time.Second

type queuedEvent struct {
	channel string
	event   Event
}

// AsyncPublisher hands events to a background worker so callers never wait on delivery.
type AsyncPublisher struct {
	next   Publisher
	queue  chan queuedEvent
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *logrus.Logger
}

func NewAsyncPublisher(next Publisher, size int, logger *logrus.Logger) *AsyncPublisher {
	if size <= 0 {
		size = 1024
	}
	p := &AsyncPublisher{
		next:   next,
		queue:  make(chan queuedEvent, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *AsyncPublisher) Publish(ctx context.Context, channel string, event Event) error {
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}

	select {
	case p.queue <- queuedEvent{channel: channel, event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case q := <-p.queue:
			p.deliver(q)
		case <-p.done:
			for {
				select {
				case q := <-p.queue:
					p.deliver(q)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) deliver(q queuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.next.Publish(ctx, q.channel, q.event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"channel": q.channel,
			"event":   q.event.Type,
		}).Warn("Failed to publish realtime event")
	}
}

// Close stops accepting events and flushes what is already queued.
func (p *AsyncPublisher) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}
