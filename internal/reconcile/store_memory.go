package reconcile

import (
	"context"
	"sort"
	"sync"

	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]Session
	items    map[id.ItemID]Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]Session),
		items:    make(map[id.ItemID]Item),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID id.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

func (s *InMemoryStore) CreateItem(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[item.ID] = *item
	return nil
}

func (s *InMemoryStore) GetItem(_ context.Context, itemID id.ItemID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &item, nil
}

func (s *InMemoryStore) ListItems(_ context.Context, sessionID id.SessionID) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []Item
	for _, item := range s.items {
		if item.SessionID == sessionID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

func (s *InMemoryStore) Decide(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[item.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.Decision != DecisionPending {
		return sentinel.ErrInvalidState
	}
	s.items[item.ID] = *item
	return nil
}

func (s *InMemoryStore) ShiftCounters(_ context.Context, sessionID id.SessionID, to Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	session.PendingCount--
	switch to {
	case DecisionApplied:
		session.AppliedCount++
	case DecisionRejected:
		session.RejectedCount++
	default:
		return sentinel.ErrInvalidState
	}
	s.sessions[sessionID] = session
	return nil
}
