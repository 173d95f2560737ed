package membership

import (
	"context"
	"sync"

	id "redline/pkg/domain"
)

type memberKey struct {
	workspace id.WorkspaceID
	user      id.UserID
}

type InMemoryStore struct {
	mu      sync.RWMutex
	members map[memberKey]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{members: make(map[memberKey]string)}
}

func (s *InMemoryStore) IsMember(_ context.Context, workspaceID id.WorkspaceID, userID id.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[memberKey{workspaceID, userID}]
	return ok, nil
}

func (s *InMemoryStore) AddMember(_ context.Context, workspaceID id.WorkspaceID, userID id.UserID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[memberKey{workspaceID, userID}] = role
	return nil
}
