package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"marketplace/messaging-service/internal/models"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type conversationJSON struct {
	ID        string    `json:"id"`
	ListingID *string   `json:"listing_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type messageJSON struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	Content         string    `json:"content"`
	AttachmentURL   *string   `json:"attachment_url,omitempty"`
	ClientMessageID *string   `json:"client_message_id,omitempty"`
	SentAt          time.Time `json:"sent_at"`
	IsRead          bool      `json:"is_read"`
}

type notificationJSON struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	LinkURL   string    `json:"link_url"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

type listingJSON struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	Status        string  `json:"status"`
	OwnerID       string  `json:"owner_id"`
	CoverImageURL string  `json:"cover_image_url,omitempty"`
}

type userJSON struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type summaryJSON struct {
	ConversationID     string       `json:"conversation_id"`
	Listing            *listingJSON `json:"listing,omitempty"`
	Counterpart        *userJSON    `json:"counterpart,omitempty"`
	LastMessagePreview string       `json:"last_message_preview"`
	LastMessageAt      *time.Time   `json:"last_message_at,omitempty"`
	LastMessageSender  string       `json:"last_message_sender,omitempty"`
	IsUnread           bool         `json:"is_unread"`
	IsArchived         bool         `json:"is_archived"`
	IsSeller           bool         `json:"is_seller"`
	CreatedAt          time.Time    `json:"created_at"`
}

type pageJSON struct {
	Items    []summaryJSON `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

func toConversation(c *models.Conversation) conversationJSON {
	return conversationJSON{ID: c.ID, ListingID: c.ListingID, CreatedAt: c.CreatedAt}
}

func toMessage(m *models.Message) messageJSON {
	return messageJSON{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		AttachmentURL:   m.AttachmentURL,
		ClientMessageID: m.ClientMessageID,
		SentAt:          m.SentAt,
		IsRead:          m.IsRead,
	}
}

func toMessages(messages []*models.Message) []messageJSON {
	out := make([]messageJSON, len(messages))
	for i, m := range messages {
		out[i] = toMessage(m)
	}
	return out
}

func toNotification(n *models.Notification) notificationJSON {
	return notificationJSON{
		ID:        n.ID,
		Type:      string(n.Type),
		Content:   n.Content,
		LinkURL:   n.LinkURL,
		ActorID:   n.ActorID,
		CreatedAt: n.CreatedAt,
		IsRead:    n.IsRead,
	}
}

func toSummary(s *models.ConversationSummary) summaryJSON {
	out := summaryJSON{
		ConversationID:     s.ConversationID,
		LastMessagePreview: s.LastMessagePreview,
		LastMessageAt:      s.LastMessageAt,
		LastMessageSender:  s.LastMessageSender,
		IsUnread:           s.IsUnread,
		IsArchived:         s.IsArchived,
		IsSeller:           s.IsSeller,
		CreatedAt:          s.CreatedAt,
	}
	if l := s.Listing; l != nil {
		out.Listing = &listingJSON{
			ID:            l.ID,
			Title:         l.Title,
			Price:         l.Price,
			Status:        string(l.Status),
			OwnerID:       l.OwnerID,
			CoverImageURL: l.CoverImageURL,
		}
	}
	if u := s.Counterpart; u != nil {
		out.Counterpart = &userJSON{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
	}
	return out
}
