package drift

import (
	"context"
	"time"

	"redline/internal/severity"
	id "redline/pkg/domain"
)

// Store persists drift items. Writes participate in any transaction carried
// by ctx. Resolve is a guarded transition: it only succeeds when the item is
// still unresolved, returning sentinel.ErrInvalidState otherwise, so two
// concurrent resolutions cannot both win.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Get(ctx context.Context, itemID id.DriftItemID) (*Item, error)

	// UpdateDetection refreshes an unresolved item's current value,
	// severity, and detection time in place.
	UpdateDetection(ctx context.Context, itemID id.DriftItemID, currentValue string, sev severity.Level, at time.Time) error

	// Resolve transitions an unresolved item to a terminal status, stamping
	// resolver identity, time, and reason, and persisting the item's
	// post-transition value pair.
	Resolve(ctx context.Context, item *Item) error

	List(ctx context.Context, workspaceID id.WorkspaceID, status *Status) ([]Item, error)
	ListUnresolved(ctx context.Context, workspaceID id.WorkspaceID) ([]Item, error)

	// ListByVariable returns every drift item for the variable, any status.
	ListByVariable(ctx context.Context, workspaceID id.WorkspaceID, variableID id.VariableID) ([]Item, error)
	// FindUnresolvedForClause returns the unresolved clause-level item (one
	// with no variable) for the clause, or sentinel.ErrNotFound.
	FindUnresolvedForClause(ctx context.Context, workspaceID id.WorkspaceID, clauseID id.ClauseID) (*Item, error)

	CountUnresolved(ctx context.Context, workspaceID id.WorkspaceID) (int, error)
	CountUnresolvedBySeverity(ctx context.Context, workspaceID id.WorkspaceID, sev severity.Level) (int, error)
}
