// Package memory is a goroutine-safe in-memory implementation of repository.Store.
//
// Transactions run against a shallow clone of every table under the store's
// write lock and are swapped in only when the callback succeeds, so a failed
// transaction leaves no partial writes. Stored records are never mutated in
// place: every write stores a fresh copy, which keeps clones cheap.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace/messaging-service/internal/models"
	"marketplace/messaging-service/internal/repository"
)

type locker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

type noopLocker struct{}

func (noopLocker) Lock()    {}
func (noopLocker) Unlock()  {}
func (noopLocker) RLock()   {}
func (noopLocker) RUnlock() {}

type participantKey struct {
	conversationID string
	userID         string
}

type state struct {
	mu locker

	conversations map[string]*models.Conversation
	pairIndex     map[string]string
	participants  map[participantKey]*models.Participant
	messages      map[string][]*models.Message // conversationID -> ascending by SentAt
	notifications map[string]*models.Notification
}

type Store struct {
	*state
	rw *sync.RWMutex
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	rw := &sync.RWMutex{}
	return &Store{
		rw: rw,
		state: &state{
			mu:            rw,
			conversations: make(map[string]*models.Conversation),
			pairIndex:     make(map[string]string),
			participants:  make(map[participantKey]*models.Participant),
			messages:      make(map[string][]*models.Message),
			notifications: make(map[string]*models.Notification),
		},
	}
}

func (s *Store) InitializeTables(ctx context.Context) error {
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.rw.Lock()
	defer s.rw.Unlock()

	tx := s.state.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.state.adopt(tx)
	return nil
}

func (s *state) clone() *state {
	c := &state{
		mu:            noopLocker{},
		conversations: make(map[string]*models.Conversation, len(s.conversations)),
		pairIndex:     make(map[string]string, len(s.pairIndex)),
		participants:  make(map[participantKey]*models.Participant, len(s.participants)),
		messages:      make(map[string][]*models.Message, len(s.messages)),
		notifications: make(map[string]*models.Notification, len(s.notifications)),
	}
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	for k, v := range s.pairIndex {
		c.pairIndex[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = append([]*models.Message(nil), v...)
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	return c
}

// adopt must be called with the write lock held.
func (s *state) adopt(tx *state) {
	s.conversations = tx.conversations
	s.pairIndex = tx.pairIndex
	s.participants = tx.participants
	s.messages = tx.messages
	s.notifications = tx.notifications
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	if c.ListingID != nil {
		id := *c.ListingID
		cp.ListingID = &id
	}
	return &cp
}

func copyParticipant(p *models.Participant) *models.Participant {
	cp := *p
	if p.LastDeletedAt != nil {
		t := *p.LastDeletedAt
		cp.LastDeletedAt = &t
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	if m.AttachmentURL != nil {
		u := *m.AttachmentURL
		cp.AttachmentURL = &u
	}
	if m.ClientMessageID != nil {
		id := *m.ClientMessageID
		cp.ClientMessageID = &id
	}
	return &cp
}

func copyNotification(n *models.Notification) *models.Notification {
	cp := *n
	return &cp
}

func (s *state) CreateConversation(ctx context.Context, conv *models.Conversation, pairKey string, userA, userB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pairIndex[pairKey]; ok {
		return fmt.Errorf("conversation %s: %w", pairKey, models.ErrAlreadyExists)
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, models.ErrAlreadyExists)
	}
	for _, userID := range []string{userA, userB} {
		if _, ok := s.participants[participantKey{conv.ID, userID}]; ok {
			return fmt.Errorf("participant %s/%s: %w", conv.ID, userID, models.ErrAlreadyExists)
		}
	}

	s.conversations[conv.ID] = copyConversation(conv)
	s.pairIndex[pairKey] = conv.ID
	for _, userID := range []string{userA, userB} {
		s.participants[participantKey{conv.ID, userID}] = &models.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
		}
	}
	return nil
}

func (s *state) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return copyConversation(conv), nil
}

func (s *state) GetConversationByPairKey(ctx context.Context, pairKey string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairIndex[pairKey]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", pairKey, models.ErrNotFound)
	}
	return copyConversation(s.conversations[id]), nil
}

func (s *state) GetConversations(ctx context.Context, ids []string) (map[string]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*models.Conversation, len(ids))
	for _, id := range ids {
		if conv, ok := s.conversations[id]; ok {
			result[id] = copyConversation(conv)
		}
	}
	return result, nil
}

func (s *state) LockConversation(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *state) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return nil
	}
	delete(s.conversations, id)
	for key, convID := range s.pairIndex {
		if convID == id {
			delete(s.pairIndex, key)
		}
	}
	for key := range s.participants {
		if key.conversationID == id {
			delete(s.participants, key)
		}
	}
	delete(s.messages, id)
	return nil
}

func (s *state) GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[participantKey{conversationID, userID}]
	if !ok {
		return nil, fmt.Errorf("participant %s/%s: %w", conversationID, userID, models.ErrNotFound)
	}
	return copyParticipant(p), nil
}

func (s *state) participantsOf(conversationID string) []*models.Participant {
	var result []*models.Participant
	for key, p := range s.participants {
		if key.conversationID == conversationID {
			result = append(result, copyParticipant(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

func (s *state) ListParticipants(ctx context.Context, conversationID string) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participantsOf(conversationID), nil
}

func (s *state) ListParticipantsByConversations(ctx context.Context, conversationIDs []string) (map[string][]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		wanted[id] = true
	}
	result := make(map[string][]*models.Participant, len(conversationIDs))
	for key, p := range s.participants {
		if wanted[key.conversationID] {
			result[key.conversationID] = append(result[key.conversationID], copyParticipant(p))
		}
	}
	for _, ps := range result {
		sort.Slice(ps, func(i, j int) bool { return ps[i].UserID < ps[j].UserID })
	}
	return result, nil
}

func (s *state) ListActiveParticipants(ctx context.Context, userID string) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Participant
	for key, p := range s.participants {
		if key.userID == userID && !p.IsDeleted {
			result = append(result, copyParticipant(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ConversationID < result[j].ConversationID })
	return result, nil
}

// updateParticipant applies fn to a copy of the row and stores the copy.
func (s *state) updateParticipant(conversationID, userID string, fn func(p *models.Participant)) (*models.Participant, error) {
	key := participantKey{conversationID, userID}
	p, ok := s.participants[key]
	if !ok {
		return nil, fmt.Errorf("participant %s/%s: %w", conversationID, userID, models.ErrNotFound)
	}
	updated := copyParticipant(p)
	fn(updated)
	s.participants[key] = updated
	return copyParticipant(updated), nil
}

func (s *state) SoftDeleteParticipant(ctx context.Context, conversationID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.updateParticipant(conversationID, userID, func(p *models.Participant) {
		p.IsDeleted = true
		p.LastDeletedAt = &at
	})
	return err
}

func (s *state) ToggleArchive(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.updateParticipant(conversationID, userID, func(p *models.Participant) {
		p.IsArchived = !p.IsArchived
	})
	if err != nil {
		return false, err
	}
	return p.IsArchived, nil
}

func (s *state) ResurrectParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	_, err := s.updateParticipant(conversationID, userID, func(p *models.Participant) {
		changed = p.IsDeleted || p.IsArchived
		p.IsDeleted = false
		p.IsArchived = false
	})
	return changed, err
}

func (s *state) AllParticipantsDeleted(ctx context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps := s.participantsOf(conversationID)
	return models.StateOf(ps) == models.StatePurged && len(ps) > 0, nil
}
