package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace/messaging-service/internal/models"
)

func (s *state) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, models.ErrNotFound)
	}
	existing := s.messages[msg.ConversationID]
	for _, m := range existing {
		if m.ID == msg.ID {
			return fmt.Errorf("message %s: %w", msg.ID, models.ErrAlreadyExists)
		}
		if msg.ClientMessageID != nil && m.ClientMessageID != nil &&
			m.SenderID == msg.SenderID && *m.ClientMessageID == *msg.ClientMessageID {
			return fmt.Errorf("message %s: %w", *msg.ClientMessageID, models.ErrAlreadyExists)
		}
	}

	pos := sort.Search(len(existing), func(i int) bool { return existing[i].SentAt.After(msg.SentAt) })
	updated := make([]*models.Message, 0, len(existing)+1)
	updated = append(updated, existing[:pos]...)
	updated = append(updated, copyMessage(msg))
	updated = append(updated, existing[pos:]...)
	s.messages[msg.ConversationID] = updated
	return nil
}

func (s *state) GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMessageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[conversationID] {
		if m.SenderID == senderID && m.ClientMessageID != nil && *m.ClientMessageID == clientMessageID {
			return copyMessage(m), nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", clientMessageID, models.ErrNotFound)
}

func (s *state) ListMessages(ctx context.Context, conversationID string, after *time.Time, limit, offset int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	var result []*models.Message
	skipped := 0
	for i := len(msgs) - 1; i >= 0 && len(result) < limit; i-- {
		m := msgs[i]
		if after != nil && !m.SentAt.After(*after) {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, copyMessage(m))
	}
	return result, nil
}

func (s *state) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*models.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		if msgs := s.messages[id]; len(msgs) > 0 {
			result[id] = copyMessage(msgs[len(msgs)-1])
		}
	}
	return result, nil
}

func (s *state) MarkMessagesRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	count := 0
	for i, m := range msgs {
		if m.SenderID != viewerID && !m.IsRead {
			updated := copyMessage(m)
			updated.IsRead = true
			msgs[i] = updated
			count++
		}
	}
	return count, nil
}

func (s *state) MarkLatestUnread(ctx context.Context, conversationID, viewerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == viewerID {
			continue
		}
		updated := copyMessage(msgs[i])
		updated.IsRead = false
		msgs[i] = updated
		return true, nil
	}
	return false, nil
}

func (s *state) CountUnreadFromSender(ctx context.Context, conversationID, senderID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderID == senderID && !m.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *state) FindNotification(ctx context.Context, recipientID string, typ models.NotificationType, linkURL, actorID string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID || n.Type != typ || n.LinkURL != linkURL || n.ActorID != actorID {
			continue
		}
		if found == nil || n.CreatedAt.After(found.CreatedAt) {
			found = n
		}
	}
	if found == nil {
		return nil, fmt.Errorf("notification %s %s: %w", typ, linkURL, models.ErrNotFound)
	}
	return copyNotification(found), nil
}

func (s *state) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, models.ErrAlreadyExists)
	}
	s.notifications[n.ID] = copyNotification(n)
	return nil
}

func (s *state) UpdateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.notifications[n.ID]
	if !ok {
		return fmt.Errorf("notification %s: %w", n.ID, models.ErrNotFound)
	}
	updated := copyNotification(existing)
	updated.Content = n.Content
	updated.CreatedAt = n.CreatedAt
	updated.IsRead = n.IsRead
	s.notifications[n.ID] = updated
	return nil
}

func (s *state) DeleteNotifications(ctx context.Context, recipientID string, typ models.NotificationType, linkURL, actorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifications {
		if n.RecipientID == recipientID && n.Type == typ && n.LinkURL == linkURL && n.ActorID == actorID {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}

func (s *state) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return copyNotification(n), nil
}

func (s *state) ListNotifications(ctx context.Context, recipientID string, limit, offset int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	result := make([]*models.Notification, 0, end-offset)
	for _, n := range all[offset:end] {
		result = append(result, copyNotification(n))
	}
	return result, nil
}

func (s *state) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	updated := copyNotification(n)
	updated.IsRead = true
	s.notifications[id] = updated
	return nil
}

func (s *state) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			updated := copyNotification(n)
			updated.IsRead = true
			s.notifications[id] = updated
			count++
		}
	}
	return count, nil
}

func (s *state) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}
