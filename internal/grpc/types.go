package grpc

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

type Conversation struct {
	Id        string                 `json:"id"`
	ListingId string                 `json:"listing_id,omitempty"`
	CreatedAt *timestamppb.Timestamp `json:"created_at"`
}

type Message struct {
	Id              string                 `json:"id"`
	ConversationId  string                 `json:"conversation_id"`
	SenderId        string                 `json:"sender_id"`
	Content         string                 `json:"content"`
	AttachmentUrl   string                 `json:"attachment_url,omitempty"`
	ClientMessageId string                 `json:"client_message_id,omitempty"`
	SentAt          *timestamppb.Timestamp `json:"sent_at"`
	IsRead          bool                   `json:"is_read"`
}

type Notification struct {
	Id        string                 `json:"id"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	LinkUrl   string                 `json:"link_url"`
	ActorId   string                 `json:"actor_id"`
	CreatedAt *timestamppb.Timestamp `json:"created_at"`
	IsRead    bool                   `json:"is_read"`
}

type Listing struct {
	Id            string  `json:"id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	Status        string  `json:"status"`
	OwnerId       string  `json:"owner_id"`
	CoverImageUrl string  `json:"cover_image_url,omitempty"`
}

type User struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarUrl   string `json:"avatar_url,omitempty"`
}

type ConversationSummary struct {
	ConversationId     string                 `json:"conversation_id"`
	Listing            *Listing               `json:"listing,omitempty"`
	Counterpart        *User                  `json:"counterpart,omitempty"`
	LastMessagePreview string                 `json:"last_message_preview"`
	LastMessageAt      *timestamppb.Timestamp `json:"last_message_at,omitempty"`
	LastMessageSender  string                 `json:"last_message_sender,omitempty"`
	IsUnread           bool                   `json:"is_unread"`
	IsArchived         bool                   `json:"is_archived"`
	IsSeller           bool                   `json:"is_seller"`
	CreatedAt          *timestamppb.Timestamp `json:"created_at"`
}

type StartConversationRequest struct {
	ListingId   string `json:"listing_id,omitempty"`
	InitiatorId string `json:"initiator_id"`
	RecipientId string `json:"recipient_id"`
}

type StartConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
}

type SendMessageRequest struct {
	ConversationId  string `json:"conversation_id"`
	SenderId        string `json:"sender_id"`
	Content         string `json:"content"`
	AttachmentUrl   string `json:"attachment_url,omitempty"`
	ClientMessageId string `json:"client_message_id,omitempty"`
}

type SendMessageResponse struct {
	Message *Message `json:"message"`
}

type ConversationRequest struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
}

type ListMessagesRequest struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	Page           int32  `json:"page"`
	PageSize       int32  `json:"page_size"`
}

type ListMessagesResponse struct {
	Messages []*Message `json:"messages"`
}

type MarkReadResponse struct {
	MarkedCount int32 `json:"marked_count"`
}

type Empty struct{}

type DeleteConversationResponse struct {
	Purged bool `json:"purged"`
}

type ToggleArchiveResponse struct {
	Archived bool `json:"archived"`
}

type ListConversationsRequest struct {
	UserId    string `json:"user_id"`
	Filter    string `json:"filter,omitempty"`
	Page      int32  `json:"page"`
	PageSize  int32  `json:"page_size"`
	ListingId string `json:"listing_id,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []*ConversationSummary `json:"conversations"`
	Total         int32                  `json:"total"`
	Page          int32                  `json:"page"`
	PageSize      int32                  `json:"page_size"`
}

type GetConversationResponse struct {
	Conversation *ConversationSummary `json:"conversation"`
}

type UserRequest struct {
	UserId string `json:"user_id"`
}

type UnreadCountsResponse struct {
	Counts map[string]int32 `json:"counts"`
}

type LikeRequest struct {
	ActorId   string `json:"actor_id"`
	ListingId string `json:"listing_id"`
}

type ListingLikedResponse struct {
	Notification *Notification `json:"notification,omitempty"`
}

type ListingUnlikedResponse struct {
	Removed int32 `json:"removed"`
}

type ListNotificationsRequest struct {
	UserId   string `json:"user_id"`
	Page     int32  `json:"page"`
	PageSize int32  `json:"page_size"`
}

type ListNotificationsResponse struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int32           `json:"unread_count"`
}

type MarkNotificationReadRequest struct {
	UserId         string `json:"user_id"`
	NotificationId string `json:"notification_id"`
}
