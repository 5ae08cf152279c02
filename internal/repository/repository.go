package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"marketplace/messaging-service/internal/models"
)

// Queries is the storage surface shared by the Postgres and in-memory stores.
// Inside Store.WithTx every call observes and mutates the same transaction.
type Queries interface {
	ConversationQueries
	ParticipantQueries
	MessageQueries
	NotificationQueries
}

type ConversationQueries interface {
	// CreateConversation inserts the conversation together with both participant rows.
	// It fails with models.ErrAlreadyExists when the pair key is taken.
	CreateConversation(ctx context.Context, conv *models.Conversation, pairKey string, userA, userB string) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationByPairKey(ctx context.Context, pairKey string) (*models.Conversation, error)
	GetConversations(ctx context.Context, ids []string) (map[string]*models.Conversation, error)
	// LockConversation serializes writers on one conversation until the transaction ends.
	LockConversation(ctx context.Context, id string) error
	// DeleteConversation removes the conversation, its participants and messages.
	// Deleting a missing conversation is a no-op.
	DeleteConversation(ctx context.Context, id string) error
}

type ParticipantQueries interface {
	GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*models.Participant, error)
	ListParticipantsByConversations(ctx context.Context, conversationIDs []string) (map[string][]*models.Participant, error)
	// ListActiveParticipants returns the user's non-deleted participant rows.
	ListActiveParticipants(ctx context.Context, userID string) ([]*models.Participant, error)
	SoftDeleteParticipant(ctx context.Context, conversationID, userID string, at time.Time) error
	ToggleArchive(ctx context.Context, conversationID, userID string) (bool, error)
	// ResurrectParticipant clears both flags and reports whether anything changed.
	ResurrectParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	AllParticipantsDeleted(ctx context.Context, conversationID string) (bool, error)
}

type MessageQueries interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*models.Message, error)
	// ListMessages returns messages sent strictly after `after` (all when nil), newest first.
	ListMessages(ctx context.Context, conversationID string, after *time.Time, limit, offset int) ([]*models.Message, error)
	// LatestMessages returns the newest message per conversation; conversations without messages are absent.
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]*models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, viewerID string) (int, error)
	// MarkLatestUnread flips the newest message not sent by viewerID.
	MarkLatestUnread(ctx context.Context, conversationID, viewerID string) (bool, error)
	CountUnreadFromSender(ctx context.Context, conversationID, senderID string) (int, error)
}

type NotificationQueries interface {
	FindNotification(ctx context.Context, recipientID string, typ models.NotificationType, linkURL, actorID string) (*models.Notification, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	UpdateNotification(ctx context.Context, n *models.Notification) error
	DeleteNotifications(ctx context.Context, recipientID string, typ models.NotificationType, linkURL, actorID string) (int, error)
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, limit, offset int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int, error)
}

type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
	InitializeTables(ctx context.Context) error
}

// PairKey identifies a conversation by listing and unordered user pair.
func PairKey(listingID *string, userA, userB string) string {
	users := []string{userA, userB}
	sort.Strings(users)
	listing := ""
	if listingID != nil {
		listing = *listingID
	}
	return strings.Join([]string{listing, users[0], users[1]}, "|")
}
