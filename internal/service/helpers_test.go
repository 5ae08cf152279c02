package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"marketplace/messaging-service/internal/directory"
	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/realtime"
	"marketplace/messaging-service/internal/repository/memory"
	"marketplace/messaging-service/internal/service"
)

type published struct {
	channel string
	event   realtime.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel: channel, event: event})
	return p.err
}

func (p *recordingPublisher) on(channel string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, e := range p.events {
		if e.channel == channel {
			out = append(out, e.event)
		}
	}
	return out
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"

	bike = "bike"
	lamp = "lamp"
)

type fixture struct {
	ctx           context.Context
	store         *memory.Store
	dir           *directory.MemoryDirectory
	pub           *recordingPublisher
	clock         *fakeClock
	chat          service.ChatService
	inbox         service.InboxService
	notifications service.NotificationService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newFixture seeds three users. Bob sells the bike; Carol sold the lamp.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:   context.Background(),
		store: memory.NewStore(),
		dir:   directory.NewMemoryDirectory(),
		pub:   &recordingPublisher{},
		clock: &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	f.dir.PutUser(models.User{ID: alice, DisplayName: "Alice"})
	f.dir.PutUser(models.User{ID: bob, DisplayName: "Bob"})
	f.dir.PutUser(models.User{ID: carol, DisplayName: "Carol"})
	f.dir.PutListing(models.Listing{ID: bike, Title: "Road bike", Price: 250, Status: models.ListingAvailable, OwnerID: bob})
	f.dir.PutListing(models.Listing{ID: lamp, Title: "Desk lamp", Price: 15, Status: models.ListingSold, OwnerID: carol})

	logger := quietLogger()
	opts := []service.Option{service.WithClock(f.clock.Now)}
	f.chat = service.NewChatService(f.store, f.pub, f.dir, f.dir, logger, opts...)
	f.inbox = service.NewInboxService(f.store, f.dir, f.dir, logger, opts...)
	f.notifications = service.NewNotificationService(f.store, f.pub, f.dir, f.dir, logger, opts...)
	return f
}

func strPtr(s string) *string {
	return &s
}

func (f *fixture) start(t *testing.T, listingID *string, initiator, recipient string) *models.Conversation {
	t.Helper()
	conv, err := f.chat.StartConversation(f.ctx, listingID, initiator, recipient)
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, conversationID, sender, content string) *models.Message {
	t.Helper()
	f.clock.Advance(time.Second)
	msg, err := f.chat.SendMessage(f.ctx, service.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}

func contents(messages []*models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}
