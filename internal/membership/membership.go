// Package membership answers "does this actor have access to this
// workspace". Every public engine operation calls Require first and fails
// closed: no membership means no data and no mutation.
package membership

import (
	"context"

	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
)

// Store exposes the membership records.
type Store interface {
	IsMember(ctx context.Context, workspaceID id.WorkspaceID, userID id.UserID) (bool, error)
	AddMember(ctx context.Context, workspaceID id.WorkspaceID, userID id.UserID, role string) error
}

// Checker is the authorization surface engine services depend on.
type Checker interface {
	Require(ctx context.Context, actor id.UserID, workspaceID id.WorkspaceID) error
}

// Service implements Checker over a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Require returns nil only when actor is a member of the workspace. A store
// failure is surfaced as an internal error, never as access.
func (s *Service) Require(ctx context.Context, actor id.UserID, workspaceID id.WorkspaceID) error {
	if actor.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	ok, err := s.store.IsMember(ctx, workspaceID, actor)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "membership lookup failed")
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "no access to workspace")
	}
	return nil
}
