package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/realtime"
	"marketplace/messaging-service/internal/repository"
)

type SendMessageInput struct {
	ConversationID  string
	SenderID        string
	Content         string
	AttachmentURL   *string
	ClientMessageID *string
}

type ChatService interface {
	StartConversation(ctx context.Context, listingID *string, initiatorID, recipientID string) (*models.Conversation, error)
	SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*models.Message, error)
	MarkRead(ctx context.Context, conversationID, viewerID string) (int, error)
	// MarkUnread flips the newest message sent by the counterpart, not the viewer's own.
	MarkUnread(ctx context.Context, conversationID, viewerID string) error
	DeleteConversation(ctx context.Context, conversationID, userID string) (bool, error)
	ToggleArchive(ctx context.Context, conversationID, userID string) (bool, error)
	AuthorizeChannel(ctx context.Context, userID, channel string) error
}

type chatService struct {
	store     repository.Store
	merger    *Merger
	publisher realtime.Publisher
	users     UserDirectory
	listings  ListingCatalog
	settings  settings
	logger    *logrus.Logger
}

func NewChatService(
	store repository.Store,
	publisher realtime.Publisher,
	users UserDirectory,
	listings ListingCatalog,
	logger *logrus.Logger,
	opts ...Option,
) ChatService {
	return &chatService{
		store:     store,
		merger:    NewMerger(opts...),
		publisher: publisher,
		users:     users,
		listings:  listings,
		settings:  newSettings(opts),
		logger:    logger,
	}
}

// participantOf resolves the caller's participant row, distinguishing a missing
// conversation from a caller who is not part of it.
func participantOf(ctx context.Context, q repository.Queries, conversationID, userID string) (*models.Participant, error) {
	if _, err := q.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	p, err := q.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("user %s in conversation %s: %w", userID, conversationID, models.ErrUnauthorized)
		}
		return nil, err
	}
	return p, nil
}

func (s *chatService) StartConversation(ctx context.Context, listingID *string, initiatorID, recipientID string) (*models.Conversation, error) {
	if initiatorID == "" || recipientID == "" {
		return nil, fmt.Errorf("both participants are required: %w", models.ErrInvalidState)
	}
	if initiatorID == recipientID {
		return nil, fmt.Errorf("cannot start a conversation with yourself: %w", models.ErrInvalidState)
	}

	users, err := s.users.GetUsers(ctx, []string{initiatorID, recipientID})
	if err != nil {
		return nil, err
	}
	for _, id := range []string{initiatorID, recipientID} {
		if _, ok := users[id]; !ok {
			return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
	}

	if listingID != nil {
		listings, err := s.listings.GetListings(ctx, []string{*listingID})
		if err != nil {
			return nil, err
		}
		listing, ok := listings[*listingID]
		if !ok {
			return nil, fmt.Errorf("listing %s: %w", *listingID, models.ErrNotFound)
		}
		if listing.OwnerID != initiatorID && listing.OwnerID != recipientID {
			return nil, fmt.Errorf("listing %s is not owned by either participant: %w", *listingID, models.ErrInvalidState)
		}
	}

	pairKey := repository.PairKey(listingID, initiatorID, recipientID)
	var conv *models.Conversation
	created := false

	err = s.store.WithTx(ctx, func(q repository.Queries) error {
		existing, err := q.GetConversationByPairKey(ctx, pairKey)
		if err == nil {
			conv = existing
			_, err = q.ResurrectParticipant(ctx, existing.ID, initiatorID)
			return err
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		conv = &models.Conversation{
			ID:        uuid.New().String(),
			ListingID: listingID,
			CreatedAt: s.settings.timestamp(),
		}
		created = true
		return q.CreateConversation(ctx, conv, pairKey, initiatorID, recipientID)
	})

	if errors.Is(err, models.ErrAlreadyExists) {
		// Lost a race with a concurrent start for the same pair.
		created = false
		err = s.store.WithTx(ctx, func(q repository.Queries) error {
			existing, err := q.GetConversationByPairKey(ctx, pairKey)
			if err != nil {
				return err
			}
			conv = existing
			_, err = q.ResurrectParticipant(ctx, existing.ID, initiatorID)
			return err
		})
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to start conversation")
		return nil, err
	}

	if created {
		s.logger.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"initiator_id":    initiatorID,
			"recipient_id":    recipientID,
		}).Info("Conversation created")
	}

	return conv, nil
}

type pendingNotice struct {
	recipientID  string
	notification *models.Notification
}

func (s *chatService) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	hasAttachment := in.AttachmentURL != nil && *in.AttachmentURL != ""
	if strings.TrimSpace(in.Content) == "" && !hasAttachment {
		return nil, fmt.Errorf("message needs content or an attachment: %w", models.ErrInvalidState)
	}
	if !hasAttachment {
		in.AttachmentURL = nil
	}
	if in.ClientMessageID != nil && *in.ClientMessageID == "" {
		in.ClientMessageID = nil
	}

	users, err := s.users.GetUsers(ctx, []string{in.SenderID})
	if err != nil {
		return nil, err
	}
	sender, ok := users[in.SenderID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", in.SenderID, models.ErrNotFound)
	}

	var msg *models.Message
	var notices []pendingNotice
	duplicate := false

	err = s.store.WithTx(ctx, func(q repository.Queries) error {
		if err := q.LockConversation(ctx, in.ConversationID); err != nil {
			return err
		}
		if _, err := participantOf(ctx, q, in.ConversationID, in.SenderID); err != nil {
			return err
		}

		if in.ClientMessageID != nil {
			existing, err := q.GetMessageByClientID(ctx, in.ConversationID, in.SenderID, *in.ClientMessageID)
			if err == nil {
				msg = existing
				duplicate = true
				return nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return err
			}
		}

		sentAt := s.settings.timestamp()
		latest, err := q.LatestMessages(ctx, []string{in.ConversationID})
		if err != nil {
			return err
		}
		if prev, ok := latest[in.ConversationID]; ok && !sentAt.After(prev.SentAt) {
			sentAt = prev.SentAt.Add(time.Microsecond)
		}

		participants, err := q.ListParticipants(ctx, in.ConversationID)
		if err != nil {
			return err
		}
		// A new message must never fall behind a watermark, or it would be hidden on arrival.
		for _, p := range participants {
			if p.LastDeletedAt != nil && !sentAt.After(*p.LastDeletedAt) {
				sentAt = p.LastDeletedAt.Add(time.Microsecond)
			}
		}

		msg = &models.Message{
			ID:              uuid.New().String(),
			ConversationID:  in.ConversationID,
			SenderID:        in.SenderID,
			Content:         in.Content,
			AttachmentURL:   in.AttachmentURL,
			ClientMessageID: in.ClientMessageID,
			SentAt:          sentAt,
		}
		if err := q.CreateMessage(ctx, msg); err != nil {
			return err
		}

		notices = notices[:0]
		for _, p := range participants {
			if p.UserID == in.SenderID {
				continue
			}
			if _, err := q.ResurrectParticipant(ctx, in.ConversationID, p.UserID); err != nil {
				return err
			}

			unread, err := q.CountUnreadFromSender(ctx, in.ConversationID, in.SenderID)
			if err != nil {
				return err
			}
			n, err := s.merger.Upsert(ctx, q, NotificationEvent{
				RecipientID: p.UserID,
				ActorID:     in.SenderID,
				Type:        models.NotificationNewMessage,
				LinkURL:     ConversationLink(in.ConversationID),
				Count:       unread,
				Summary:     MessageSummary(sender.DisplayName, in.Content),
			})
			if err != nil {
				return err
			}
			notices = append(notices, pendingNotice{recipientID: p.UserID, notification: n})
		}
		return nil
	})
	if errors.Is(err, models.ErrAlreadyExists) && in.ClientMessageID != nil {
		// A concurrent retry of the same send committed first.
		msg, err = s.store.GetMessageByClientID(ctx, in.ConversationID, in.SenderID, *in.ClientMessageID)
		duplicate = err == nil
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, err
	}

	if duplicate {
		s.logger.WithFields(logrus.Fields{
			"message_id":        msg.ID,
			"client_message_id": *in.ClientMessageID,
		}).Info("Duplicate send ignored")
		return msg, nil
	}

	s.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": in.ConversationID,
		"sender_id":       in.SenderID,
	}).Info("Message sent")

	s.fanOut(ctx, msg, notices)
	return msg, nil
}

// fanOut never fails the send; delivery is best-effort.
func (s *chatService) fanOut(ctx context.Context, msg *models.Message, notices []pendingNotice) {
	payload := realtime.NewMessagePayload(msg)

	err := s.publisher.Publish(ctx, realtime.ConversationChannel(msg.ConversationID), realtime.Event{
		Type:           realtime.EventMessageSent,
		ConversationID: msg.ConversationID,
		Message:        payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("conversation_id", msg.ConversationID).Warn("Failed to publish message to conversation channel")
	}

	for _, notice := range notices {
		err := s.publisher.Publish(ctx, realtime.UserChannel(notice.recipientID), realtime.Event{
			Type:           realtime.EventMessageReceived,
			ConversationID: msg.ConversationID,
			Message:        payload,
			Notification:   realtime.NewNotificationPayload(notice.notification),
		})
		if err != nil {
			s.logger.WithError(err).WithField("user_id", notice.recipientID).Warn("Failed to publish message to user channel")
		}
	}
}

func (s *chatService) ListMessages(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*models.Message, error) {
	page, pageSize = s.settings.pageBounds(page, pageSize)

	p, err := participantOf(ctx, s.store, conversationID, viewerID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID, p.LastDeletedAt, pageSize, pageOffset(page, pageSize))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list messages")
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}

func (s *chatService) MarkRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	if _, err := participantOf(ctx, s.store, conversationID, viewerID); err != nil {
		return 0, err
	}

	count, err := s.store.MarkMessagesRead(ctx, conversationID, viewerID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to mark messages as read")
		return 0, err
	}

	if count > 0 {
		err := s.publisher.Publish(ctx, realtime.ConversationChannel(conversationID), realtime.Event{
			Type:           realtime.EventConversationRead,
			ConversationID: conversationID,
			ReaderID:       viewerID,
		})
		if err != nil {
			s.logger.WithError(err).WithField("conversation_id", conversationID).Warn("Failed to publish read receipt")
		}
	}
	return count, nil
}

func (s *chatService) MarkUnread(ctx context.Context, conversationID, viewerID string) error {
	if _, err := participantOf(ctx, s.store, conversationID, viewerID); err != nil {
		return err
	}
	_, err := s.store.MarkLatestUnread(ctx, conversationID, viewerID)
	return err
}

// DeleteConversation clears the caller's history and hides the conversation.
// It reports whether this deletion purged the conversation for everyone.
func (s *chatService) DeleteConversation(ctx context.Context, conversationID, userID string) (bool, error) {
	purged := false

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		if err := q.LockConversation(ctx, conversationID); err != nil {
			return err
		}
		if _, err := participantOf(ctx, q, conversationID, userID); err != nil {
			return err
		}

		watermark := s.settings.timestamp()
		latest, err := q.LatestMessages(ctx, []string{conversationID})
		if err != nil {
			return err
		}
		if msg, ok := latest[conversationID]; ok && msg.SentAt.After(watermark) {
			watermark = msg.SentAt
		}

		if err := q.SoftDeleteParticipant(ctx, conversationID, userID, watermark); err != nil {
			return err
		}

		all, err := q.AllParticipantsDeleted(ctx, conversationID)
		if err != nil {
			return err
		}
		if all {
			purged = true
			return q.DeleteConversation(ctx, conversationID)
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to delete conversation")
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"user_id":         userID,
		"purged":          purged,
	}).Info("Conversation deleted")

	return purged, nil
}

func (s *chatService) ToggleArchive(ctx context.Context, conversationID, userID string) (bool, error) {
	if _, err := participantOf(ctx, s.store, conversationID, userID); err != nil {
		return false, err
	}
	return s.store.ToggleArchive(ctx, conversationID, userID)
}

// AuthorizeChannel allows a user onto their own user channel and onto the
// channels of conversations they take part in.
func (s *chatService) AuthorizeChannel(ctx context.Context, userID, channel string) error {
	prefix, id, ok := realtime.ParseChannel(channel)
	if !ok {
		return fmt.Errorf("channel %q: %w", channel, models.ErrInvalidState)
	}

	switch prefix {
	case realtime.UserChannelPrefix:
		if id != userID {
			return fmt.Errorf("channel %q: %w", channel, models.ErrUnauthorized)
		}
		return nil
	default:
		_, err := participantOf(ctx, s.store, id, userID)
		return err
	}
}
