// Package ports defines the collaborator interfaces the reconciliation
// engine calls out to. Both collaborators are invoked once, at the start of
// an upload; the engine imposes no retry and no timeout of its own, so a
// collaborator failure surfaces immediately as a terminal error for that
// request.
package ports

import (
	"context"

	"redline/internal/workspace"
)

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, kind string) (string, error)
}

// Suggestion is one candidate edit from the parser. Identifier fields are
// raw strings straight from parser output and must be validated against the
// workspace before use; the engine never trusts unchecked references.
type Suggestion struct {
	ClauseID      string `json:"clause_id"`
	VariableID    string `json:"variable_id,omitempty"`
	Confidence    string `json:"confidence"`
	BaselineValue string `json:"baseline_value"`
	ProposedValue string `json:"proposed_value"`
}

// Proposer produces candidate suggestions by comparing extracted document
// text against the workspace's current clauses and variables.
type Proposer interface {
	Propose(ctx context.Context, clauses []workspace.Clause, variables []workspace.Variable, text string) ([]Suggestion, error)
}
