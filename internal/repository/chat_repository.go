package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"marketplace/messaging-service/internal/models"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type postgresQueries struct {
	db dbtx
}

type PostgresStore struct {
	*postgresQueries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		postgresQueries: &postgresQueries{db: db},
		db:              db,
	}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&postgresQueries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) InitializeTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		listing_id TEXT,
		pair_key TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		is_archived BOOLEAN NOT NULL DEFAULT FALSE,
		last_deleted_at TIMESTAMPTZ,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		attachment_url TEXT,
		client_message_id TEXT,
		sent_at TIMESTAMPTZ NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (conversation_id, sender_id, client_message_id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		link_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id) WHERE NOT is_deleted;
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent ON messages(conversation_id, sent_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications(recipient_id, type, link_url, actor_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *postgresQueries) CreateConversation(ctx context.Context, conv *models.Conversation, pairKey string, userA, userB string) error {
	query := `
	WITH c AS (
		INSERT INTO conversations (id, listing_id, pair_key, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	)
	INSERT INTO participants (conversation_id, user_id)
	SELECT id, $5 FROM c
	UNION ALL
	SELECT id, $6 FROM c
	`

	_, err := r.db.ExecContext(ctx, query,
		conv.ID, nullString(conv.ListingID), pairKey, conv.CreatedAt, userA, userB,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("conversation %s: %w", pairKey, models.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (r *postgresQueries) scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var listingID sql.NullString
	if err := row.Scan(&conv.ID, &listingID, &conv.CreatedAt); err != nil {
		return nil, err
	}
	conv.ListingID = stringPtr(listingID)
	return &conv, nil
}

func (r *postgresQueries) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
	SELECT id, listing_id, created_at
	FROM conversations
	WHERE id = $1
	`

	conv, err := r.scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return conv, nil
}

func (r *postgresQueries) GetConversationByPairKey(ctx context.Context, pairKey string) (*models.Conversation, error) {
	query := `
	SELECT id, listing_id, created_at
	FROM conversations
	WHERE pair_key = $1
	`

	conv, err := r.scanConversation(r.db.QueryRowContext(ctx, query, pairKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", pairKey, models.ErrNotFound)
		}
		return nil, err
	}
	return conv, nil
}

func (r *postgresQueries) GetConversations(ctx context.Context, ids []string) (map[string]*models.Conversation, error) {
	result := make(map[string]*models.Conversation, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
	SELECT id, listing_id, created_at
	FROM conversations
	WHERE id = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		conv, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result[conv.ID] = conv
	}
	return result, rows.Err()
}

func (r *postgresQueries) LockConversation(ctx context.Context, id string) error {
	var locked string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		return err
	}
	return nil
}

func (r *postgresQueries) DeleteConversation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

func (r *postgresQueries) scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	var lastDeletedAt sql.NullTime
	if err := row.Scan(&p.ConversationID, &p.UserID, &p.IsDeleted, &p.IsArchived, &lastDeletedAt); err != nil {
		return nil, err
	}
	if lastDeletedAt.Valid {
		t := lastDeletedAt.Time
		p.LastDeletedAt = &t
	}
	return &p, nil
}

func (r *postgresQueries) queryParticipants(ctx context.Context, query string, args ...interface{}) ([]*models.Participant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := r.scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *postgresQueries) GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	query := `
	SELECT conversation_id, user_id, is_deleted, is_archived, last_deleted_at
	FROM participants
	WHERE conversation_id = $1 AND user_id = $2
	`

	p, err := r.scanParticipant(r.db.QueryRowContext(ctx, query, conversationID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %s/%s: %w", conversationID, userID, models.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

func (r *postgresQueries) ListParticipants(ctx context.Context, conversationID string) ([]*models.Participant, error) {
	return r.queryParticipants(ctx, `
	SELECT conversation_id, user_id, is_deleted, is_archived, last_deleted_at
	FROM participants
	WHERE conversation_id = $1
	ORDER BY user_id
	`, conversationID)
}

func (r *postgresQueries) ListParticipantsByConversations(ctx context.Context, conversationIDs []string) (map[string][]*models.Participant, error) {
	result := make(map[string][]*models.Participant, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}

	participants, err := r.queryParticipants(ctx, `
	SELECT conversation_id, user_id, is_deleted, is_archived, last_deleted_at
	FROM participants
	WHERE conversation_id = ANY($1)
	ORDER BY conversation_id, user_id
	`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}

	for _, p := range participants {
		result[p.ConversationID] = append(result[p.ConversationID], p)
	}
	return result, nil
}

func (r *postgresQueries) ListActiveParticipants(ctx context.Context, userID string) ([]*models.Participant, error) {
	return r.queryParticipants(ctx, `
	SELECT conversation_id, user_id, is_deleted, is_archived, last_deleted_at
	FROM participants
	WHERE user_id = $1 AND NOT is_deleted
	`, userID)
}

func (r *postgresQueries) requireAffected(result sql.Result, conversationID, userID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("participant %s/%s: %w", conversationID, userID, models.ErrNotFound)
	}
	return nil
}

func (r *postgresQueries) SoftDeleteParticipant(ctx context.Context, conversationID, userID string, at time.Time) error {
	query := `
	UPDATE participants
	SET is_deleted = TRUE, last_deleted_at = $3
	WHERE conversation_id = $1 AND user_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, userID, at)
	if err != nil {
		return err
	}
	return r.requireAffected(result, conversationID, userID)
}

func (r *postgresQueries) ToggleArchive(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
	UPDATE participants
	SET is_archived = NOT is_archived
	WHERE conversation_id = $1 AND user_id = $2
	RETURNING is_archived
	`

	var archived bool
	err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&archived)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("participant %s/%s: %w", conversationID, userID, models.ErrNotFound)
		}
		return false, err
	}
	return archived, nil
}

func (r *postgresQueries) ResurrectParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
	UPDATE participants
	SET is_deleted = FALSE, is_archived = FALSE
	WHERE conversation_id = $1 AND user_id = $2 AND (is_deleted OR is_archived)
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetParticipant(ctx, conversationID, userID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *postgresQueries) AllParticipantsDeleted(ctx context.Context, conversationID string) (bool, error) {
	query := `
	SELECT COUNT(*) > 0 AND COALESCE(BOOL_AND(is_deleted), FALSE)
	FROM participants
	WHERE conversation_id = $1
	`

	var all bool
	if err := r.db.QueryRowContext(ctx, query, conversationID).Scan(&all); err != nil {
		return false, err
	}
	return all, nil
}

const messageColumns = `id, conversation_id, sender_id, content, attachment_url, client_message_id, sent_at, is_read`

func (r *postgresQueries) scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var attachmentURL, clientMessageID sql.NullString
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content,
		&attachmentURL, &clientMessageID, &msg.SentAt, &msg.IsRead,
	)
	if err != nil {
		return nil, err
	}
	msg.AttachmentURL = stringPtr(attachmentURL)
	msg.ClientMessageID = stringPtr(clientMessageID)
	return &msg, nil
}

func (r *postgresQueries) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *postgresQueries) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
	INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url, client_message_id, sent_at, is_read)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content,
		nullString(msg.AttachmentURL), nullString(msg.ClientMessageID), msg.SentAt, msg.IsRead,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", msg.ID, models.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (r *postgresQueries) GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + `
	FROM messages
	WHERE conversation_id = $1 AND sender_id = $2 AND client_message_id = $3
	`

	msg, err := r.scanMessage(r.db.QueryRowContext(ctx, query, conversationID, senderID, clientMessageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", clientMessageID, models.ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

func (r *postgresQueries) ListMessages(ctx context.Context, conversationID string, after *time.Time, limit, offset int) ([]*models.Message, error) {
	return r.queryMessages(ctx, `SELECT `+messageColumns+`
	FROM messages
	WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR sent_at > $2)
	ORDER BY sent_at DESC
	LIMIT $3 OFFSET $4
	`, conversationID, nullTime(after), limit, offset)
}

func (r *postgresQueries) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]*models.Message, error) {
	result := make(map[string]*models.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return result, nil
	}

	messages, err := r.queryMessages(ctx, `SELECT DISTINCT ON (conversation_id) `+messageColumns+`
	FROM messages
	WHERE conversation_id = ANY($1)
	ORDER BY conversation_id, sent_at DESC
	`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		result[msg.ConversationID] = msg
	}
	return result, nil
}

func (r *postgresQueries) MarkMessagesRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	query := `
	UPDATE messages
	SET is_read = TRUE
	WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, viewerID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *postgresQueries) MarkLatestUnread(ctx context.Context, conversationID, viewerID string) (bool, error) {
	query := `
	UPDATE messages
	SET is_read = FALSE
	WHERE id = (
		SELECT id FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2
		ORDER BY sent_at DESC
		LIMIT 1
	)
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, viewerID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *postgresQueries) CountUnreadFromSender(ctx context.Context, conversationID, senderID string) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM messages
	WHERE conversation_id = $1 AND sender_id = $2 AND NOT is_read
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, conversationID, senderID).Scan(&count)
	return count, err
}
