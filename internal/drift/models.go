package drift

import (
	"time"

	"redline/internal/severity"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
)

// Status is the drift lifecycle state. Transitions are one-way: an item
// leaves unresolved exactly once and never returns.
//
// This is the canonical vocabulary. Import schemas that say RESOLVED mean
// overridden or reverted depending on which value won; WAIVED maps to
// approved. ParseStatus accepts "waived" as an alias; storage only ever
// holds canonical values.
type Status string

const (
	StatusUnresolved Status = "unresolved"
	// StatusOverridden: the divergence won; the current value became the
	// new baseline.
	StatusOverridden Status = "overridden"
	// StatusReverted: the baseline won; the current value was restored to
	// the baseline.
	StatusReverted Status = "reverted"
	// StatusApproved: the divergence stands, acknowledged; values untouched.
	StatusApproved Status = "approved"
)

// Terminal reports whether the status is a resolution state.
func (s Status) Terminal() bool {
	return s == StatusOverridden || s == StatusReverted || s == StatusApproved
}

// ParseStatus validates a status string, accepting the "waived" alias for
// approved.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUnresolved, StatusOverridden, StatusReverted, StatusApproved:
		return Status(s), nil
	}
	if s == "waived" || s == "WAIVED" {
		return StatusApproved, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown drift status: "+s)
}

// Item is one detected divergence between a baseline and the live value for
// a clause, optionally tied to one variable. Items are never hard-deleted.
type Item struct {
	ID          id.DriftItemID
	WorkspaceID id.WorkspaceID
	ClauseID    id.ClauseID
	// VariableID is nil for clause-level drift recorded by reconciliation.
	VariableID *id.VariableID
	Category   workspace.Category
	Severity   severity.Level
	Status     Status

	BaselineValue      string
	CurrentValue       string
	BaselineApprovedAt time.Time
	DetectedAt         time.Time

	ResolvedBy       *id.UserID
	ResolvedAt       *time.Time
	ResolutionReason *string
}
