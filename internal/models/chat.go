package models

import (
	"time"
)

type Conversation struct {
	ID        string
	ListingID *string
	CreatedAt time.Time
}

// Participant is one user's private view-state over a shared conversation.
// Keyed by (ConversationID, UserID).
type Participant struct {
	ConversationID string
	UserID         string
	IsDeleted      bool
	IsArchived     bool
	LastDeletedAt  *time.Time
}

// Visible reports whether a message sent at t survives the participant's watermark.
func (p *Participant) Visible(t time.Time) bool {
	return p.LastDeletedAt == nil || t.After(*p.LastDeletedAt)
}

type Message struct {
	ID              string
	ConversationID  string
	SenderID        string
	Content         string
	AttachmentURL   *string
	ClientMessageID *string
	SentAt          time.Time
	IsRead          bool
}

// ConversationState is derived from the two participant rows.
type ConversationState int

const (
	StateActive ConversationState = iota
	StatePartiallyDeleted
	StatePurged
)

func (s ConversationState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePartiallyDeleted:
		return "partially_deleted"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// StateOf derives the lifecycle state from a conversation's participant rows.
// An empty slice means the conversation no longer exists.
func StateOf(participants []*Participant) ConversationState {
	if len(participants) == 0 {
		return StatePurged
	}
	deleted := 0
	for _, p := range participants {
		if p.IsDeleted {
			deleted++
		}
	}
	switch {
	case deleted == 0:
		return StateActive
	case deleted == len(participants):
		return StatePurged
	default:
		return StatePartiallyDeleted
	}
}
