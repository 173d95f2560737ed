package workspace

import (
	"context"
	"time"

	id "redline/pkg/domain"
)

// Store is the record-store surface for workspaces, clauses, and variables.
// How clauses and variables are authored is out of engine scope; the engine
// reads them and, on drift resolution and reconciliation, writes variable
// values and baselines. Reads return store errors rather than degrading to
// empty results.
type Store interface {
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (*Workspace, error)
	StampLastSynced(ctx context.Context, workspaceID id.WorkspaceID, at time.Time) error

	CreateClause(ctx context.Context, clause *Clause) error
	// ListClauses returns the workspace's clauses ordered by position.
	ListClauses(ctx context.Context, workspaceID id.WorkspaceID) ([]Clause, error)

	CreateVariable(ctx context.Context, variable *Variable) error
	ListVariables(ctx context.Context, workspaceID id.WorkspaceID) ([]Variable, error)
	GetVariable(ctx context.Context, variableID id.VariableID) (*Variable, error)
	UpdateVariableValue(ctx context.Context, variableID id.VariableID, value string, at time.Time) error
	UpdateVariableBaseline(ctx context.Context, variableID id.VariableID, baseline string, at time.Time) error
}
