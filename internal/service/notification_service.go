package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/realtime"
	"marketplace/messaging-service/internal/repository"
)

// NotificationEvent is one raw event to fold into the recipient's notifications.
type NotificationEvent struct {
	RecipientID string
	ActorID     string
	Type        models.NotificationType
	LinkURL     string
	// Count parameterizes Summary, e.g. the number of unread messages from the actor.
	Count   int
	Summary func(count int) string
}

// Merger finds or creates one notification per (recipient, type, link, actor)
// and bumps it on every event.
type Merger struct {
	settings settings
}

func NewMerger(opts ...Option) *Merger {
	return &Merger{settings: newSettings(opts)}
}

func (m *Merger) Upsert(ctx context.Context, q repository.Queries, ev NotificationEvent) (*models.Notification, error) {
	if ev.RecipientID == "" || ev.LinkURL == "" || !ev.Type.Valid() {
		return nil, fmt.Errorf("notification event %q for %q: %w", ev.Type, ev.RecipientID, models.ErrInvalidState)
	}

	content := ev.Summary(ev.Count)
	now := m.settings.timestamp()

	existing, err := q.FindNotification(ctx, ev.RecipientID, ev.Type, ev.LinkURL, ev.ActorID)
	switch {
	case err == nil:
		existing.Content = content
		existing.CreatedAt = now
		existing.IsRead = false
		if err := q.UpdateNotification(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil

	case errors.Is(err, models.ErrNotFound):
		n := &models.Notification{
			ID:          uuid.New().String(),
			RecipientID: ev.RecipientID,
			ActorID:     ev.ActorID,
			Type:        ev.Type,
			Content:     content,
			LinkURL:     ev.LinkURL,
			CreatedAt:   now,
			IsRead:      false,
		}
		if err := q.CreateNotification(ctx, n); err != nil {
			return nil, err
		}
		return n, nil

	default:
		return nil, err
	}
}

func ConversationLink(conversationID string) string {
	return "/messages/" + conversationID
}

func ListingLink(listingID string) string {
	return "/listings/" + listingID
}

const previewLimit = 80

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

func MessageSummary(actorName, preview string) func(count int) string {
	return func(count int) string {
		if count <= 1 {
			if preview == "" {
				return fmt.Sprintf("New message from %s", actorName)
			}
			return fmt.Sprintf("New message from %s: %s", actorName, truncate(preview, previewLimit))
		}
		return fmt.Sprintf("%d new messages from %s", count, actorName)
	}
}

func LikeSummary(actorName, listingTitle string) func(count int) string {
	return func(int) string {
		return fmt.Sprintf("%s liked your listing %q", actorName, listingTitle)
	}
}

type NotificationService interface {
	ListingLiked(ctx context.Context, actorID, listingID string) (*models.Notification, error)
	ListingUnliked(ctx context.Context, actorID, listingID string) (int, error)
	ListNotifications(ctx context.Context, userID string, page, pageSize int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	UnreadNotificationCount(ctx context.Context, userID string) (int, error)
}

type notificationService struct {
	store     repository.Store
	merger    *Merger
	publisher realtime.Publisher
	users     UserDirectory
	listings  ListingCatalog
	settings  settings
	logger    *logrus.Logger
}

func NewNotificationService(
	store repository.Store,
	publisher realtime.Publisher,
	users UserDirectory,
	listings ListingCatalog,
	logger *logrus.Logger,
	opts ...Option,
) NotificationService {
	return &notificationService{
		store:     store,
		merger:    NewMerger(opts...),
		publisher: publisher,
		users:     users,
		listings:  listings,
		settings:  newSettings(opts),
		logger:    logger,
	}
}

func (s *notificationService) lookupLike(ctx context.Context, actorID, listingID string) (*models.User, *models.Listing, error) {
	listings, err := s.listings.GetListings(ctx, []string{listingID})
	if err != nil {
		return nil, nil, err
	}
	listing, ok := listings[listingID]
	if !ok {
		return nil, nil, fmt.Errorf("listing %s: %w", listingID, models.ErrNotFound)
	}

	users, err := s.users.GetUsers(ctx, []string{actorID})
	if err != nil {
		return nil, nil, err
	}
	actor, ok := users[actorID]
	if !ok {
		return nil, nil, fmt.Errorf("user %s: %w", actorID, models.ErrNotFound)
	}
	return actor, listing, nil
}

// ListingLiked notifies the listing owner. Self-likes produce no notification.
func (s *notificationService) ListingLiked(ctx context.Context, actorID, listingID string) (*models.Notification, error) {
	actor, listing, err := s.lookupLike(ctx, actorID, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == actorID {
		return nil, nil
	}

	var n *models.Notification
	err = s.store.WithTx(ctx, func(q repository.Queries) error {
		var err error
		n, err = s.merger.Upsert(ctx, q, NotificationEvent{
			RecipientID: listing.OwnerID,
			ActorID:     actorID,
			Type:        models.NotificationNewLike,
			LinkURL:     ListingLink(listingID),
			Count:       1,
			Summary:     LikeSummary(actor.DisplayName, listing.Title),
		})
		return err
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to upsert like notification")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"listing_id":      listingID,
		"actor_id":        actorID,
	}).Info("Like notification upserted")

	publishNotification(ctx, s.publisher, s.logger, n)
	return n, nil
}

func (s *notificationService) ListingUnliked(ctx context.Context, actorID, listingID string) (int, error) {
	listings, err := s.listings.GetListings(ctx, []string{listingID})
	if err != nil {
		return 0, err
	}
	listing, ok := listings[listingID]
	if !ok {
		return 0, fmt.Errorf("listing %s: %w", listingID, models.ErrNotFound)
	}

	removed, err := s.store.DeleteNotifications(ctx, listing.OwnerID, models.NotificationNewLike, ListingLink(listingID), actorID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to remove like notification")
		return 0, err
	}
	return removed, nil
}

func (s *notificationService) ListNotifications(ctx context.Context, userID string, page, pageSize int) ([]*models.Notification, error) {
	page, pageSize = s.settings.pageBounds(page, pageSize)
	notifications, err := s.store.ListNotifications(ctx, userID, pageSize, pageOffset(page, pageSize))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list notifications")
		return nil, err
	}
	return notifications, nil
}

func (s *notificationService) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.RecipientID != userID {
		return fmt.Errorf("notification %s: %w", notificationID, models.ErrUnauthorized)
	}
	return s.store.MarkNotificationRead(ctx, notificationID)
}

func (s *notificationService) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

func (s *notificationService) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnreadNotifications(ctx, userID)
}

func publishNotification(ctx context.Context, publisher realtime.Publisher, logger *logrus.Logger, n *models.Notification) {
	err := publisher.Publish(ctx, realtime.UserChannel(n.RecipientID), realtime.Event{
		Type:         realtime.EventNotification,
		Notification: realtime.NewNotificationPayload(n),
	})
	if err != nil {
		logger.WithError(err).WithField("notification_id", n.ID).Warn("Failed to publish notification")
	}
}
