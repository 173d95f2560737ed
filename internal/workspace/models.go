package workspace

import (
	"time"

	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
)

// Category classifies clauses and variables. It drives relationship weights
// in the graph and severity thresholds in drift classification.
type Category string

const (
	CategoryFinancial      Category = "financial"
	CategoryCovenant       Category = "covenant"
	CategoryDefinition     Category = "definition"
	CategoryCrossReference Category = "cross-reference"
	CategoryGeneral        Category = "general"
)

var validCategories = map[Category]bool{
	CategoryFinancial:      true,
	CategoryCovenant:       true,
	CategoryDefinition:     true,
	CategoryCrossReference: true,
	CategoryGeneral:        true,
}

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !validCategories[c] {
		return "", dErrors.New(dErrors.CodeValidation, "unknown category: "+s)
	}
	return c, nil
}

// Workspace is the top-level container for one deal's clauses, variables,
// graph, drift, and reconciliation state.
type Workspace struct {
	ID        id.WorkspaceID
	Name      string
	CreatedBy id.UserID
	CreatedAt time.Time
	// BaselineApprovedAt is the timestamp of the last formal baseline
	// approval; nil when the workspace has never been approved. Drift items
	// fall back to CreatedAt when this is nil.
	BaselineApprovedAt *time.Time
	LastSyncedAt       *time.Time
}

// BaselineTime returns the best available baseline timestamp.
func (w *Workspace) BaselineTime() time.Time {
	if w.BaselineApprovedAt != nil {
		return *w.BaselineApprovedAt
	}
	return w.CreatedAt
}

// Clause is one structured clause of the draft. Drift, graph, and
// reconciliation records reference clauses by id only; no back-pointers are
// stored here.
type Clause struct {
	ID          id.ClauseID
	WorkspaceID id.WorkspaceID
	Position    int
	Category    Category
	Sensitive   bool
	Title       string
	Body        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variable is one extracted value belonging to a clause. A variable with a
// nil BaselineValue cannot drift.
type Variable struct {
	ID            id.VariableID
	WorkspaceID   id.WorkspaceID
	ClauseID      id.ClauseID
	Label         string
	Category      Category
	Value         string
	Unit          *string
	BaselineValue *string
	UpdatedAt     time.Time
}

// Drifted reports whether the live value differs from a present baseline.
func (v *Variable) Drifted() bool {
	return v.BaselineValue != nil && v.Value != *v.BaselineValue
}
