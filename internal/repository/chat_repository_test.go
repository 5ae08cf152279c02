package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/messaging-service/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestCreateConversationDuplicatePair(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversations")).
		WithArgs("c1", nil, "alice|bob", now, "alice", "bob").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateConversation(context.Background(), &models.Conversation{ID: "c1", CreatedAt: now}, "alice|bob", "alice", "bob")
	assert.ErrorIs(t, err, models.ErrAlreadyExists)
}

func TestGetConversation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "listing_id", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("c1", "bike", now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations")).
		WithArgs("c2").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("c2", nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	conv, err := store.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, conv.ListingID)
	assert.Equal(t, "bike", *conv.ListingID)

	conv, err = store.GetConversation(context.Background(), "c2")
	require.NoError(t, err)
	assert.Nil(t, conv.ListingID)

	_, err = store.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWithTx(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM conversations WHERE id = $1")).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(q Queries) error {
		return q.DeleteConversation(ctx, "c1")
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = store.WithTx(ctx, func(q Queries) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestParticipantUpdates(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("RETURNING is_archived")).
		WithArgs("c1", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"is_archived"}).AddRow(true))
	archived, err := store.ToggleArchive(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.True(t, archived)

	mock.ExpectExec(regexp.QuoteMeta("SET is_deleted = FALSE, is_archived = FALSE")).
		WithArgs("c1", "mallory").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM participants")).
		WithArgs("c1", "mallory").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "user_id", "is_deleted", "is_archived", "last_deleted_at"}))
	_, err = store.ResurrectParticipant(ctx, "c1", "mallory")
	assert.ErrorIs(t, err, models.ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("SET is_deleted = TRUE")).
		WithArgs("c1", "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = store.SoftDeleteParticipant(ctx, "c1", "bob", time.Now())
	assert.ErrorIs(t, err, models.ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("BOOL_AND(is_deleted)")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"all_deleted"}).AddRow(true))
	all, err := store.AllParticipantsDeleted(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, all)
}

func TestMessageQueries(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnError(&pq.Error{Code: "23505"})
	err := store.CreateMessage(ctx, &models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi", SentAt: now})
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sent_at DESC")).
		WithArgs("c1", nil, 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "sender_id", "content", "attachment_url", "client_message_id", "sent_at", "is_read"}).
			AddRow("m2", "c1", "bob", "second", nil, "k-2", now.Add(time.Second), false).
			AddRow("m1", "c1", "alice", "first", "https://cdn/x.png", nil, now, true))
	messages, err := store.ListMessages(ctx, "c1", nil, 20, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m2", messages[0].ID)
	require.NotNil(t, messages[0].ClientMessageID)
	assert.Equal(t, "k-2", *messages[0].ClientMessageID)
	assert.Nil(t, messages[0].AttachmentURL)
	require.NotNil(t, messages[1].AttachmentURL)
	assert.True(t, messages[1].IsRead)

	mock.ExpectExec(regexp.QuoteMeta("SET is_read = TRUE")).
		WithArgs("c1", "alice").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.MarkMessagesRead(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBatchQueriesSkipEmptyInput(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()

	convs, err := store.GetConversations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, convs)

	latest, err := store.LatestMessages(ctx, []string{})
	require.NoError(t, err)
	assert.Empty(t, latest)
}
