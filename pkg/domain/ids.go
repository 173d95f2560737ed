// Package domain holds typed identifiers shared across the engine.
//
// IDs are distinct named UUID types so a clause id can never be passed where
// a variable id is expected. Parse constructors enforce the invariant that
// ids crossing a trust boundary are valid, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "redline/pkg/domain-errors"
)

type (
	// WorkspaceID identifies one deal workspace.
	WorkspaceID uuid.UUID
	// ClauseID identifies a clause within a workspace.
	ClauseID uuid.UUID
	// VariableID identifies an extracted variable within a clause.
	VariableID uuid.UUID
	// DriftItemID identifies a drift record.
	DriftItemID uuid.UUID
	// SessionID identifies a reconciliation upload session.
	SessionID uuid.UUID
	// ItemID identifies a single reconciliation suggestion.
	ItemID uuid.UUID
	// UserID identifies an acting user.
	UserID uuid.UUID
)

func parse(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, kind+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, kind+" id must not be nil")
	}
	return u, nil
}

// ParseWorkspaceID validates s and returns a WorkspaceID.
func ParseWorkspaceID(s string) (WorkspaceID, error) {
	u, err := parse(s, "workspace")
	return WorkspaceID(u), err
}

// ParseClauseID validates s and returns a ClauseID.
func ParseClauseID(s string) (ClauseID, error) {
	u, err := parse(s, "clause")
	return ClauseID(u), err
}

// ParseVariableID validates s and returns a VariableID.
func ParseVariableID(s string) (VariableID, error) {
	u, err := parse(s, "variable")
	return VariableID(u), err
}

// ParseDriftItemID validates s and returns a DriftItemID.
func ParseDriftItemID(s string) (DriftItemID, error) {
	u, err := parse(s, "drift item")
	return DriftItemID(u), err
}

// ParseSessionID validates s and returns a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parse(s, "session")
	return SessionID(u), err
}

// ParseItemID validates s and returns an ItemID.
func ParseItemID(s string) (ItemID, error) {
	u, err := parse(s, "reconciliation item")
	return ItemID(u), err
}

// ParseUserID validates s and returns a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parse(s, "user")
	return UserID(u), err
}

func (id WorkspaceID) String() string { return uuid.UUID(id).String() }
func (id ClauseID) String() string    { return uuid.UUID(id).String() }
func (id VariableID) String() string  { return uuid.UUID(id).String() }
func (id DriftItemID) String() string { return uuid.UUID(id).String() }
func (id SessionID) String() string   { return uuid.UUID(id).String() }
func (id ItemID) String() string      { return uuid.UUID(id).String() }
func (id UserID) String() string      { return uuid.UUID(id).String() }

func (id WorkspaceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ClauseID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VariableID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id DriftItemID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ItemID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
