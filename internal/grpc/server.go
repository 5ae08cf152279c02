package grpc

import (
	"context"
	"errors"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/service"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type MessagingServer struct {
	chat          service.ChatService
	inbox         service.InboxService
	notifications service.NotificationService
	logger        *logrus.Logger
}

func NewMessagingServer(
	chat service.ChatService,
	inbox service.InboxService,
	notifications service.NotificationService,
	logger *logrus.Logger,
) *MessagingServer {
	return &MessagingServer{
		chat:          chat,
		inbox:         inbox,
		notifications: notifications,
		logger:        logger,
	}
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error, action string) error {
	code := codes.Internal
	switch {
	case errors.Is(err, models.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, models.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, models.ErrInvalidState):
		code = codes.InvalidArgument
	case errors.Is(err, models.ErrUnauthorized):
		code = codes.PermissionDenied
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Errorf(code, "failed to %s: %v", action, err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *MessagingServer) StartConversation(ctx context.Context, req *StartConversationRequest) (*StartConversationResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"initiator_id": req.InitiatorId,
		"recipient_id": req.RecipientId,
		"listing_id":   req.ListingId,
	}).Info("Starting conversation via gRPC")

	conv, err := s.chat.StartConversation(ctx, optional(req.ListingId), req.InitiatorId, req.RecipientId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to start conversation")
		return nil, toStatus(err, "start conversation")
	}

	return &StartConversationResponse{Conversation: conversationToWire(conv)}, nil
}

func (s *MessagingServer) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"conversation_id": req.ConversationId,
		"sender_id":       req.SenderId,
	}).Info("Sending message via gRPC")

	msg, err := s.chat.SendMessage(ctx, service.SendMessageInput{
		ConversationID:  req.ConversationId,
		SenderID:        req.SenderId,
		Content:         req.Content,
		AttachmentURL:   optional(req.AttachmentUrl),
		ClientMessageID: optional(req.ClientMessageId),
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, toStatus(err, "send message")
	}

	return &SendMessageResponse{Message: messageToWire(msg)}, nil
}

func (s *MessagingServer) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	s.logger.WithField("conversation_id", req.ConversationId).Info("Listing messages via gRPC")

	messages, err := s.chat.ListMessages(ctx, req.ConversationId, req.UserId, int(req.Page), int(req.PageSize))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list messages")
		return nil, toStatus(err, "list messages")
	}

	out := make([]*Message, len(messages))
	for i, m := range messages {
		out[i] = messageToWire(m)
	}
	return &ListMessagesResponse{Messages: out}, nil
}

func (s *MessagingServer) MarkRead(ctx context.Context, req *ConversationRequest) (*MarkReadResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"conversation_id": req.ConversationId,
		"user_id":         req.UserId,
	}).Info("Marking conversation as read via gRPC")

	count, err := s.chat.MarkRead(ctx, req.ConversationId, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark conversation as read")
		return nil, toStatus(err, "mark conversation as read")
	}
	return &MarkReadResponse{MarkedCount: int32(count)}, nil
}

func (s *MessagingServer) MarkUnread(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	if err := s.chat.MarkUnread(ctx, req.ConversationId, req.UserId); err != nil {
		s.logger.WithError(err).Error("Failed to mark conversation as unread")
		return nil, toStatus(err, "mark conversation as unread")
	}
	return &Empty{}, nil
}

func (s *MessagingServer) DeleteConversation(ctx context.Context, req *ConversationRequest) (*DeleteConversationResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"conversation_id": req.ConversationId,
		"user_id":         req.UserId,
	}).Info("Deleting conversation via gRPC")

	purged, err := s.chat.DeleteConversation(ctx, req.ConversationId, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to delete conversation")
		return nil, toStatus(err, "delete conversation")
	}
	return &DeleteConversationResponse{Purged: purged}, nil
}

func (s *MessagingServer) ToggleArchive(ctx context.Context, req *ConversationRequest) (*ToggleArchiveResponse, error) {
	archived, err := s.chat.ToggleArchive(ctx, req.ConversationId, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to toggle archive")
		return nil, toStatus(err, "toggle archive")
	}
	return &ToggleArchiveResponse{Archived: archived}, nil
}

func (s *MessagingServer) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"user_id": req.UserId,
		"filter":  req.Filter,
	}).Info("Listing conversations via gRPC")

	page, err := s.inbox.ListConversations(ctx, req.UserId, models.ConversationFilter(req.Filter), int(req.Page), int(req.PageSize), optional(req.ListingId))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list conversations")
		return nil, toStatus(err, "list conversations")
	}

	out := make([]*ConversationSummary, len(page.Items))
	for i, item := range page.Items {
		out[i] = summaryToWire(item)
	}
	return &ListConversationsResponse{
		Conversations: out,
		Total:         int32(page.Total),
		Page:          int32(page.Page),
		PageSize:      int32(page.PageSize),
	}, nil
}

func (s *MessagingServer) GetConversation(ctx context.Context, req *ConversationRequest) (*GetConversationResponse, error) {
	summary, err := s.inbox.GetConversation(ctx, req.ConversationId, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get conversation")
		return nil, toStatus(err, "get conversation")
	}
	return &GetConversationResponse{Conversation: summaryToWire(summary)}, nil
}

func (s *MessagingServer) UnreadCounts(ctx context.Context, req *UserRequest) (*UnreadCountsResponse, error) {
	counts, err := s.inbox.UnreadCounts(ctx, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count unread conversations")
		return nil, toStatus(err, "count unread conversations")
	}

	out := make(map[string]int32, len(counts))
	for filter, n := range counts {
		out[string(filter)] = int32(n)
	}
	return &UnreadCountsResponse{Counts: out}, nil
}

func (s *MessagingServer) ListingLiked(ctx context.Context, req *LikeRequest) (*ListingLikedResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"actor_id":   req.ActorId,
		"listing_id": req.ListingId,
	}).Info("Recording listing like via gRPC")

	n, err := s.notifications.ListingLiked(ctx, req.ActorId, req.ListingId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to record listing like")
		return nil, toStatus(err, "record listing like")
	}

	resp := &ListingLikedResponse{}
	if n != nil {
		resp.Notification = notificationToWire(n)
	}
	return resp, nil
}

func (s *MessagingServer) ListingUnliked(ctx context.Context, req *LikeRequest) (*ListingUnlikedResponse, error) {
	removed, err := s.notifications.ListingUnliked(ctx, req.ActorId, req.ListingId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to record listing unlike")
		return nil, toStatus(err, "record listing unlike")
	}
	return &ListingUnlikedResponse{Removed: int32(removed)}, nil
}

func (s *MessagingServer) ListNotifications(ctx context.Context, req *ListNotificationsRequest) (*ListNotificationsResponse, error) {
	notifications, err := s.notifications.ListNotifications(ctx, req.UserId, int(req.Page), int(req.PageSize))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list notifications")
		return nil, toStatus(err, "list notifications")
	}
	unread, err := s.notifications.UnreadNotificationCount(ctx, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count unread notifications")
		return nil, toStatus(err, "count unread notifications")
	}

	out := make([]*Notification, len(notifications))
	for i, n := range notifications {
		out[i] = notificationToWire(n)
	}
	return &ListNotificationsResponse{Notifications: out, UnreadCount: int32(unread)}, nil
}

func (s *MessagingServer) MarkNotificationRead(ctx context.Context, req *MarkNotificationReadRequest) (*Empty, error) {
	if err := s.notifications.MarkNotificationRead(ctx, req.UserId, req.NotificationId); err != nil {
		s.logger.WithError(err).Error("Failed to mark notification as read")
		return nil, toStatus(err, "mark notification as read")
	}
	return &Empty{}, nil
}

func (s *MessagingServer) MarkAllNotificationsRead(ctx context.Context, req *UserRequest) (*MarkReadResponse, error) {
	count, err := s.notifications.MarkAllNotificationsRead(ctx, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark notifications as read")
		return nil, toStatus(err, "mark notifications as read")
	}
	return &MarkReadResponse{MarkedCount: int32(count)}, nil
}

func conversationToWire(conv *models.Conversation) *Conversation {
	return &Conversation{
		Id:        conv.ID,
		ListingId: deref(conv.ListingID),
		CreatedAt: timestamppb.New(conv.CreatedAt),
	}
}

func messageToWire(msg *models.Message) *Message {
	return &Message{
		Id:              msg.ID,
		ConversationId:  msg.ConversationID,
		SenderId:        msg.SenderID,
		Content:         msg.Content,
		AttachmentUrl:   deref(msg.AttachmentURL),
		ClientMessageId: deref(msg.ClientMessageID),
		SentAt:          timestamppb.New(msg.SentAt),
		IsRead:          msg.IsRead,
	}
}

func notificationToWire(n *models.Notification) *Notification {
	return &Notification{
		Id:        n.ID,
		Type:      string(n.Type),
		Content:   n.Content,
		LinkUrl:   n.LinkURL,
		ActorId:   n.ActorID,
		CreatedAt: timestamppb.New(n.CreatedAt),
		IsRead:    n.IsRead,
	}
}

func summaryToWire(summary *models.ConversationSummary) *ConversationSummary {
	out := &ConversationSummary{
		ConversationId:     summary.ConversationID,
		LastMessagePreview: summary.LastMessagePreview,
		LastMessageSender:  summary.LastMessageSender,
		IsUnread:           summary.IsUnread,
		IsArchived:         summary.IsArchived,
		IsSeller:           summary.IsSeller,
		CreatedAt:          timestamppb.New(summary.CreatedAt),
	}
	if summary.LastMessageAt != nil {
		out.LastMessageAt = timestamppb.New(*summary.LastMessageAt)
	}
	if l := summary.Listing; l != nil {
		out.Listing = &Listing{
			Id:            l.ID,
			Title:         l.Title,
			Price:         l.Price,
			Status:        string(l.Status),
			OwnerId:       l.OwnerID,
			CoverImageUrl: l.CoverImageURL,
		}
	}
	if u := summary.Counterpart; u != nil {
		out.Counterpart = &User{
			Id:          u.ID,
			DisplayName: u.DisplayName,
			AvatarUrl:   u.AvatarURL,
		}
	}
	return out
}
