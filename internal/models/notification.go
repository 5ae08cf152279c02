package models

import "time"

type NotificationType string

const (
	NotificationNewMessage           NotificationType = "NEW_MESSAGE"
	NotificationNewLike              NotificationType = "NEW_LIKE"
	NotificationTransactionCompleted NotificationType = "TRANSACTION_COMPLETED"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationNewMessage, NotificationNewLike, NotificationTransactionCompleted:
		return true
	}
	return false
}

// Notification is deduplicated on (RecipientID, Type, LinkURL, ActorID).
type Notification struct {
	ID          string
	RecipientID string
	ActorID     string
	Type        NotificationType
	Content     string
	LinkURL     string
	CreatedAt   time.Time
	IsRead      bool
}
