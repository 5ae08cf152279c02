package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/repository"
	"marketplace/messaging-service/internal/repository/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *memory.Store, id string) {
	t.Helper()
	conv := &models.Conversation{ID: id, CreatedAt: t0}
	require.NoError(t, s.CreateConversation(context.Background(), conv, repository.PairKey(nil, "a-"+id, "b-"+id), "a-"+id, "b-"+id))
}

func message(id, conv, sender string, at time.Time) *models.Message {
	return &models.Message{ID: id, ConversationID: conv, SenderID: sender, Content: id, SentAt: at}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q repository.Queries) error {
		conv := &models.Conversation{ID: "c1", CreatedAt: t0}
		if err := q.CreateConversation(ctx, conv, "k1", "a", "b"); err != nil {
			return err
		}
		if err := q.CreateMessage(ctx, message("m1", "c1", "a", t0)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetConversationByPairKey(ctx, "k1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	latest, err := s.LatestMessages(ctx, []string{"c1"})
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	err := s.WithTx(ctx, func(q repository.Queries) error {
		conv := &models.Conversation{ID: "c1", CreatedAt: t0}
		return q.CreateConversation(ctx, conv, "k1", "a", "b")
	})
	require.NoError(t, err)

	conv, err := s.GetConversationByPairKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "a", participants[0].UserID)
	assert.Equal(t, models.StateActive, models.StateOf(participants))
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.NewStore().WithTx(ctx, func(q repository.Queries) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCreateConversationRejectsDuplicatePair(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	require.NoError(t, s.CreateConversation(ctx, &models.Conversation{ID: "c1"}, "k1", "a", "b"))
	err := s.CreateConversation(ctx, &models.Conversation{ID: "c2"}, "k1", "a", "b")
	assert.ErrorIs(t, err, models.ErrAlreadyExists)
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	seed(t, s, "c1")
	require.NoError(t, s.CreateMessage(ctx, message("m1", "c1", "a-c1", t0)))

	require.NoError(t, s.DeleteConversation(ctx, "c1"))
	require.NoError(t, s.DeleteConversation(ctx, "c1"))

	participants, err := s.ListParticipants(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, participants)

	msgs, err := s.ListMessages(ctx, "c1", nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = s.CreateMessage(ctx, message("m2", "c1", "a-c1", t0))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListMessagesRespectsWatermark(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	seed(t, s, "c1")

	// Inserted out of order on purpose.
	require.NoError(t, s.CreateMessage(ctx, message("m3", "c1", "a-c1", t0.Add(3*time.Second))))
	require.NoError(t, s.CreateMessage(ctx, message("m1", "c1", "a-c1", t0.Add(1*time.Second))))
	require.NoError(t, s.CreateMessage(ctx, message("m2", "c1", "b-c1", t0.Add(2*time.Second))))

	all, err := s.ListMessages(ctx, "c1", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m3", "m2", "m1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	watermark := t0.Add(2 * time.Second)
	visible, err := s.ListMessages(ctx, "c1", &watermark, 10, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "m3", visible[0].ID)

	offset, err := s.ListMessages(ctx, "c1", nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, offset, 1)
	assert.Equal(t, "m2", offset[0].ID)

	latest, err := s.LatestMessages(ctx, []string{"c1", "missing"})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "m3", latest["c1"].ID)
}

func TestCreateMessageRejectsDuplicateClientID(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	seed(t, s, "c1")

	clientID := "retry-1"
	first := message("m1", "c1", "a-c1", t0)
	first.ClientMessageID = &clientID
	require.NoError(t, s.CreateMessage(ctx, first))

	second := message("m2", "c1", "a-c1", t0.Add(time.Second))
	second.ClientMessageID = &clientID
	assert.ErrorIs(t, s.CreateMessage(ctx, second), models.ErrAlreadyExists)

	// Same client id from the other participant is a different message.
	other := message("m3", "c1", "b-c1", t0.Add(time.Second))
	other.ClientMessageID = &clientID
	require.NoError(t, s.CreateMessage(ctx, other))

	found, err := s.GetMessageByClientID(ctx, "c1", "a-c1", clientID)
	require.NoError(t, err)
	assert.Equal(t, "m1", found.ID)
}

func TestParticipantFlags(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	seed(t, s, "c1")

	archived, err := s.ToggleArchive(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.True(t, archived)

	require.NoError(t, s.SoftDeleteParticipant(ctx, "c1", "a-c1", t0))
	all, err := s.AllParticipantsDeleted(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, all)

	active, err := s.ListActiveParticipants(ctx, "a-c1")
	require.NoError(t, err)
	assert.Empty(t, active)

	changed, err := s.ResurrectParticipant(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.True(t, changed)

	p, err := s.GetParticipant(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.False(t, p.IsDeleted)
	assert.False(t, p.IsArchived)
	require.NotNil(t, p.LastDeletedAt)
	assert.True(t, t0.Equal(*p.LastDeletedAt))

	changed, err = s.ResurrectParticipant(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.ResurrectParticipant(ctx, "c1", "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.SoftDeleteParticipant(ctx, "c1", "a-c1", t0))
	require.NoError(t, s.SoftDeleteParticipant(ctx, "c1", "b-c1", t0))
	all, err = s.AllParticipantsDeleted(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, all)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	seed(t, s, "c1")

	p, err := s.GetParticipant(ctx, "c1", "a-c1")
	require.NoError(t, err)
	p.IsDeleted = true

	again, err := s.GetParticipant(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.False(t, again.IsDeleted)
}

func TestMarkReadAndUnread(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	seed(t, s, "c1")
	require.NoError(t, s.CreateMessage(ctx, message("m1", "c1", "a-c1", t0)))
	require.NoError(t, s.CreateMessage(ctx, message("m2", "c1", "a-c1", t0.Add(time.Second))))
	require.NoError(t, s.CreateMessage(ctx, message("m3", "c1", "b-c1", t0.Add(2*time.Second))))

	unread, err := s.CountUnreadFromSender(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	n, err := s.MarkMessagesRead(ctx, "c1", "b-c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	flipped, err := s.MarkLatestUnread(ctx, "c1", "b-c1")
	require.NoError(t, err)
	assert.True(t, flipped)

	unread, err = s.CountUnreadFromSender(ctx, "c1", "a-c1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	msgs, err := s.ListMessages(ctx, "c1", nil, 10, 0)
	require.NoError(t, err)
	assert.False(t, msgs[1].IsRead) // m2
	assert.True(t, msgs[2].IsRead)  // m1
}

func TestNotificationLookupIsPerActor(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()

	for i, actor := range []string{"a", "b", "a"} {
		require.NoError(t, s.CreateNotification(ctx, &models.Notification{
			ID:          string(rune('1' + i)),
			RecipientID: "r",
			ActorID:     actor,
			Type:        models.NotificationNewLike,
			LinkURL:     "/listings/x",
			CreatedAt:   t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	found, err := s.FindNotification(ctx, "r", models.NotificationNewLike, "/listings/x", "a")
	require.NoError(t, err)
	assert.Equal(t, "3", found.ID)

	_, err = s.FindNotification(ctx, "r", models.NotificationNewMessage, "/listings/x", "a")
	assert.ErrorIs(t, err, models.ErrNotFound)

	removed, err := s.DeleteNotifications(ctx, "r", models.NotificationNewLike, "/listings/x", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	rows, err := s.ListNotifications(ctx, "r", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].ID)
}
