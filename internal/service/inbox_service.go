package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/repository"
)

const attachmentPreview = "Sent an attachment"

type InboxService interface {
	ListConversations(ctx context.Context, userID string, filter models.ConversationFilter, page, pageSize int, listingID *string) (*models.ConversationPage, error)
	UnreadCounts(ctx context.Context, userID string) (models.UnreadCounts, error)
	GetConversation(ctx context.Context, conversationID, viewerID string) (*models.ConversationSummary, error)
}

type inboxService struct {
	store    repository.Store
	users    UserDirectory
	listings ListingCatalog
	settings settings
	logger   *logrus.Logger
}

func NewInboxService(store repository.Store, users UserDirectory, listings ListingCatalog, logger *logrus.Logger, opts ...Option) InboxService {
	return &inboxService{
		store:    store,
		users:    users,
		listings: listings,
		settings: newSettings(opts),
		logger:   logger,
	}
}

// summarize derives one row per participant row with a fixed number of batch
// lookups, independent of how many conversations the user has.
func (s *inboxService) summarize(ctx context.Context, userID string, rows []*models.Participant, listingID *string) ([]*models.ConversationSummary, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.ConversationID)
	}

	conversations, err := s.store.GetConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	if listingID != nil {
		kept := rows[:0:0]
		for _, p := range rows {
			conv, ok := conversations[p.ConversationID]
			if ok && conv.ListingID != nil && *conv.ListingID == *listingID {
				kept = append(kept, p)
			}
		}
		rows = kept
		ids = ids[:0]
		for _, p := range rows {
			ids = append(ids, p.ConversationID)
		}
		if len(rows) == 0 {
			return nil, nil
		}
	}

	latest, err := s.store.LatestMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListParticipantsByConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	listingIDs := make([]string, 0, len(rows))
	counterpartIDs := make([]string, 0, len(rows))
	seenListing := make(map[string]bool)
	seenUser := make(map[string]bool)
	for _, p := range rows {
		if conv, ok := conversations[p.ConversationID]; ok && conv.ListingID != nil && !seenListing[*conv.ListingID] {
			seenListing[*conv.ListingID] = true
			listingIDs = append(listingIDs, *conv.ListingID)
		}
		for _, m := range members[p.ConversationID] {
			if m.UserID != userID && !seenUser[m.UserID] {
				seenUser[m.UserID] = true
				counterpartIDs = append(counterpartIDs, m.UserID)
			}
		}
	}

	listings, err := s.listings.GetListings(ctx, listingIDs)
	if err != nil {
		return nil, err
	}
	users, err := s.users.GetUsers(ctx, counterpartIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.ConversationSummary, 0, len(rows))
	for _, p := range rows {
		conv, ok := conversations[p.ConversationID]
		if !ok {
			// Purged between the participant scan and this batch.
			continue
		}

		summary := &models.ConversationSummary{
			ConversationID: conv.ID,
			IsArchived:     p.IsArchived,
			CreatedAt:      conv.CreatedAt,
		}

		if msg, ok := latest[conv.ID]; ok {
			if p.Visible(msg.SentAt) {
				sentAt := msg.SentAt
				summary.LastMessagePreview = previewOf(msg)
				summary.LastMessageAt = &sentAt
				summary.LastMessageSender = msg.SenderID
				summary.IsUnread = !msg.IsRead && msg.SenderID != userID
			} else {
				watermark := *p.LastDeletedAt
				summary.LastMessagePreview = models.ChatClearedPreview
				summary.LastMessageAt = &watermark
			}
		} else if !conv.CreatedAt.IsZero() {
			createdAt := conv.CreatedAt
			summary.LastMessageAt = &createdAt
		}

		if conv.ListingID != nil {
			if listing, ok := listings[*conv.ListingID]; ok {
				summary.Listing = listing
				summary.IsSeller = listing.OwnerID == userID
				summary.IsSold = listing.Status.Closed()
			}
		}

		for _, m := range members[conv.ID] {
			if m.UserID != userID {
				if u, ok := users[m.UserID]; ok {
					summary.Counterpart = u
				} else {
					summary.Counterpart = &models.User{ID: m.UserID}
				}
				break
			}
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func previewOf(msg *models.Message) string {
	if msg.Content == "" && msg.AttachmentURL != nil {
		return attachmentPreview
	}
	return truncate(msg.Content, previewLimit)
}

func sortByRecency(summaries []*models.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessageAt, summaries[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return summaries[i].ConversationID < summaries[j].ConversationID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return summaries[i].ConversationID < summaries[j].ConversationID
		default:
			return a.After(*b)
		}
	})
}

func (s *inboxService) ListConversations(ctx context.Context, userID string, filter models.ConversationFilter, page, pageSize int, listingID *string) (*models.ConversationPage, error) {
	filter, err := models.ParseFilter(string(filter))
	if err != nil {
		return nil, err
	}
	page, pageSize = s.settings.pageBounds(page, pageSize)

	rows, err := s.store.ListActiveParticipants(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load participant rows")
		return nil, err
	}

	summaries, err := s.summarize(ctx, userID, rows, listingID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to summarize conversations")
		return nil, err
	}

	filtered := make([]*models.ConversationSummary, 0, len(summaries))
	for _, summary := range summaries {
		if summary.Matches(filter) {
			filtered = append(filtered, summary)
		}
	}
	sortByRecency(filtered)

	result := &models.ConversationPage{
		Items:    []*models.ConversationSummary{},
		Total:    len(filtered),
		Page:     page,
		PageSize: pageSize,
	}
	start := pageOffset(page, pageSize)
	if start < len(filtered) {
		end := start + pageSize
		if end > len(filtered) {
			end = len(filtered)
		}
		result.Items = filtered[start:end]
	}
	return result, nil
}

func (s *inboxService) UnreadCounts(ctx context.Context, userID string) (models.UnreadCounts, error) {
	counts := models.NewUnreadCounts()

	rows, err := s.store.ListActiveParticipants(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load participant rows")
		return nil, err
	}

	summaries, err := s.summarize(ctx, userID, rows, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to summarize conversations")
		return nil, err
	}

	for _, summary := range summaries {
		if !summary.IsUnread {
			continue
		}
		if summary.IsArchived {
			counts[models.FilterArchived]++
			continue
		}
		counts[summary.Category()]++
		counts[models.FilterUnread]++
		counts[models.FilterAll]++
		counts[models.FilterAllMessages]++
	}
	return counts, nil
}

func (s *inboxService) GetConversation(ctx context.Context, conversationID, viewerID string) (*models.ConversationSummary, error) {
	p, err := participantOf(ctx, s.store, conversationID, viewerID)
	if err != nil {
		return nil, err
	}

	summaries, err := s.summarize(ctx, viewerID, []*models.Participant{p}, nil)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	return summaries[0], nil
}
