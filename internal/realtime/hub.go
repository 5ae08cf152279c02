package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

type Subscriber struct {
	UserID string
	Send   chan []byte
}

func NewSubscriber(userID string, buffer int) *Subscriber {
	return &Subscriber{
		UserID: userID,
		Send:   make(chan []byte, buffer),
	}
}

type subscription struct {
	subscriber *Subscriber
	channel    string
}

type delivery struct {
	channel string
	data    []byte
}

// Hub fans frames out to the subscribers connected to this process.
type Hub struct {
	subscribers map[string]map[*Subscriber]bool // channel -> subscribers
	channels    map[*Subscriber]map[string]bool // subscriber -> channels
	mu          sync.RWMutex

	subscribe   chan subscription
	unsubscribe chan subscription
	remove      chan *Subscriber
	broadcast   chan delivery
	done        chan struct{}

	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]bool),
		channels:    make(map[*Subscriber]map[string]bool),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		remove:      make(chan *Subscriber),
		broadcast:   make(chan delivery, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run must be called once. After it returns, Subscribe, Unsubscribe and Remove are no-ops.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case s := <-h.subscribe:
			h.mu.Lock()
			if h.subscribers[s.channel] == nil {
				h.subscribers[s.channel] = make(map[*Subscriber]bool)
			}
			h.subscribers[s.channel][s.subscriber] = true
			if h.channels[s.subscriber] == nil {
				h.channels[s.subscriber] = make(map[string]bool)
			}
			h.channels[s.subscriber][s.channel] = true
			h.mu.Unlock()

		case s := <-h.unsubscribe:
			h.mu.Lock()
			h.detach(s.subscriber, s.channel)
			h.mu.Unlock()

		case sub := <-h.remove:
			h.mu.Lock()
			if chans, ok := h.channels[sub]; ok {
				for ch := range chans {
					h.detach(sub, ch)
				}
				delete(h.channels, sub)
				close(sub.Send)
			}
			h.mu.Unlock()

		case d := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers[d.channel] {
				select {
				case sub.Send <- d.data:
				default:
					h.logger.WithFields(logrus.Fields{
						"channel": d.channel,
						"user_id": sub.UserID,
					}).Debug("Dropping frame for slow subscriber")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// detach must be called with h.mu held.
func (h *Hub) detach(sub *Subscriber, channel string) {
	if subs, ok := h.subscribers[channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, channel)
		}
	}
	if chans, ok := h.channels[sub]; ok {
		delete(chans, channel)
	}
}

func (h *Hub) Subscribe(sub *Subscriber, channel string) {
	select {
	case h.subscribe <- subscription{subscriber: sub, channel: channel}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(sub *Subscriber, channel string) {
	select {
	case h.unsubscribe <- subscription{subscriber: sub, channel: channel}:
	case <-h.done:
	}
}

// Remove drops every subscription of sub and closes its Send channel.
func (h *Hub) Remove(sub *Subscriber) {
	select {
	case h.remove <- sub:
	case <-h.done:
	}
}

// Deliver queues a raw frame without blocking; frames are dropped when the hub is saturated.
func (h *Hub) Deliver(channel string, data []byte) bool {
	select {
	case h.broadcast <- delivery{channel: channel, data: data}:
		return true
	default:
		h.logger.WithField("channel", channel).Warn("Hub broadcast queue full, dropping frame")
		return false
	}
}

func (h *Hub) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Deliver(channel, data)
	return nil
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}
