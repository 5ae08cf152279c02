package realtime

import (
	"context"
	"strings"
	"time"

	"marketplace/messaging-service/internal/models"
)

const (
	UserChannelPrefix         = "user."
	ConversationChannelPrefix = "conversation."
)

func UserChannel(userID string) string {
	return UserChannelPrefix + userID
}

func ConversationChannel(conversationID string) string {
	return ConversationChannelPrefix + conversationID
}

// ParseChannel splits a channel name into its scope prefix and id.
func ParseChannel(channel string) (prefix, id string, ok bool) {
	for _, p := range []string{UserChannelPrefix, ConversationChannelPrefix} {
		if strings.HasPrefix(channel, p) && len(channel) > len(p) {
			return p, channel[len(p):], true
		}
	}
	return "", "", false
}

const (
	EventMessageSent      = "message.sent"
	EventMessageReceived  = "message.received"
	EventNotification     = "notification"
	EventConversationRead = "conversation.read"
)

type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	AttachmentURL  *string   `json:"attachment_url,omitempty"`
}

type NotificationPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	LinkURL   string    `json:"link_url"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

type Event struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id,omitempty"`
	ReaderID       string               `json:"reader_id,omitempty"`
	Message        *MessagePayload      `json:"message,omitempty"`
	Notification   *NotificationPayload `json:"notification,omitempty"`
}

func NewMessagePayload(msg *models.Message) *MessagePayload {
	return &MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		SentAt:         msg.SentAt,
		AttachmentURL:  msg.AttachmentURL,
	}
}

func NewNotificationPayload(n *models.Notification) *NotificationPayload {
	return &NotificationPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		Content:   n.Content,
		LinkURL:   n.LinkURL,
		ActorID:   n.ActorID,
		CreatedAt: n.CreatedAt,
		IsRead:    n.IsRead,
	}
}

// Publisher delivers an event to every current subscriber of a channel.
// Delivery is at-most-once; there is no replay.
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}
