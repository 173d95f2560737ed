package graph

import (
	"context"
	"sync"

	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	nodes  map[id.WorkspaceID][]Node
	edges  map[id.WorkspaceID][]Edge
	states map[id.WorkspaceID]State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nodes:  make(map[id.WorkspaceID][]Node),
		edges:  make(map[id.WorkspaceID][]Edge),
		states: make(map[id.WorkspaceID]State),
	}
}

func (s *InMemoryStore) ReplaceAll(_ context.Context, workspaceID id.WorkspaceID, nodes []Node, edges []Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[workspaceID] = append([]Node(nil), nodes...)
	s.edges[workspaceID] = append([]Edge(nil), edges...)
	return nil
}

func (s *InMemoryStore) UpsertState(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.WorkspaceID] = state
	return nil
}

func (s *InMemoryStore) GetState(_ context.Context, workspaceID id.WorkspaceID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[workspaceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &state, nil
}

func (s *InMemoryStore) ListNodes(_ context.Context, workspaceID id.WorkspaceID) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Node(nil), s.nodes[workspaceID]...), nil
}

func (s *InMemoryStore) ListEdges(_ context.Context, workspaceID id.WorkspaceID) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Edge(nil), s.edges[workspaceID]...), nil
}

func (s *InMemoryStore) UpdateNodeFlags(_ context.Context, workspaceID id.WorkspaceID, flags []NodeFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[NodeID]NodeFlags, len(flags))
	for _, f := range flags {
		byID[f.NodeID] = f
	}
	nodes := s.nodes[workspaceID]
	for i := range nodes {
		if f, ok := byID[nodes[i].NodeID]; ok {
			nodes[i].HasDrift = f.HasDrift
			nodes[i].HasWarning = f.HasWarning
		}
	}
	return nil
}
