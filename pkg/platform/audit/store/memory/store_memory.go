package memory

import (
	"context"
	"sync"

	id "redline/pkg/domain"
	audit "redline/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.WorkspaceID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.WorkspaceID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.WorkspaceID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.WorkspaceID] = append(s.events[event.WorkspaceID], event)
	return nil
}

func (s *InMemoryStore) ListByWorkspace(_ context.Context, workspaceID id.WorkspaceID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[workspaceID]...), nil
}
