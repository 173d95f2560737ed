package workspace

import (
	"context"
	"sort"
	"sync"
	"time"

	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	workspaces map[id.WorkspaceID]Workspace
	clauses    map[id.ClauseID]Clause
	variables  map[id.VariableID]Variable
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workspaces: make(map[id.WorkspaceID]Workspace),
		clauses:    make(map[id.ClauseID]Clause),
		variables:  make(map[id.VariableID]Variable),
	}
}

func (s *InMemoryStore) CreateWorkspace(_ context.Context, ws *Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workspaces[ws.ID]; exists {
		return sentinel.ErrConflict
	}
	s.workspaces[ws.ID] = *ws
	return nil
}

func (s *InMemoryStore) GetWorkspace(_ context.Context, workspaceID id.WorkspaceID) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &ws, nil
}

func (s *InMemoryStore) StampLastSynced(_ context.Context, workspaceID id.WorkspaceID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	ws.LastSyncedAt = &at
	s.workspaces[workspaceID] = ws
	return nil
}

func (s *InMemoryStore) CreateClause(_ context.Context, clause *Clause) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clauses[clause.ID]; exists {
		return sentinel.ErrConflict
	}
	s.clauses[clause.ID] = *clause
	return nil
}

func (s *InMemoryStore) ListClauses(_ context.Context, workspaceID id.WorkspaceID) ([]Clause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Clause
	for _, c := range s.clauses {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *InMemoryStore) CreateVariable(_ context.Context, variable *Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.variables[variable.ID]; exists {
		return sentinel.ErrConflict
	}
	s.variables[variable.ID] = *variable
	return nil
}

func (s *InMemoryStore) ListVariables(_ context.Context, workspaceID id.WorkspaceID) ([]Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Variable
	for _, v := range s.variables {
		if v.WorkspaceID == workspaceID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *InMemoryStore) GetVariable(_ context.Context, variableID id.VariableID) (*Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[variableID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

func (s *InMemoryStore) UpdateVariableValue(_ context.Context, variableID id.VariableID, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[variableID]
	if !ok {
		return sentinel.ErrNotFound
	}
	v.Value = value
	v.UpdatedAt = at
	s.variables[variableID] = v
	return nil
}

func (s *InMemoryStore) UpdateVariableBaseline(_ context.Context, variableID id.VariableID, baseline string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[variableID]
	if !ok {
		return sentinel.ErrNotFound
	}
	v.BaselineValue = &baseline
	v.UpdatedAt = at
	s.variables[variableID] = v
	return nil
}
