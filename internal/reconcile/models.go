// Package reconcile merges externally supplied documents into the live
// draft: an uploaded file is extracted and parsed into per-clause
// suggestions, and each suggestion is applied or rejected exactly once.
package reconcile

import (
	"time"

	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
)

// Decision is the reconciliation item lifecycle state. An item leaves
// pending exactly once; decisions are immutable.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApplied  Decision = "applied"
	DecisionRejected Decision = "rejected"
)

// Confidence grades how sure the parser was about a suggestion. It is
// advisory only; the engine treats all tiers alike.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence normalizes a parser-reported confidence, defaulting to
// low for anything unrecognized. Parser output is advisory; an odd tier
// must not fail the upload.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceMedium, ConfidenceHigh:
		return Confidence(s)
	}
	return ConfidenceLow
}

// FileKind names the supported upload formats.
type FileKind string

const (
	FileKindPDF  FileKind = "pdf"
	FileKindDOCX FileKind = "docx"
)

// ParseFileKind validates an upload's declared format.
func ParseFileKind(s string) (FileKind, error) {
	switch FileKind(s) {
	case FileKindPDF, FileKindDOCX:
		return FileKind(s), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unsupported file kind: "+s)
}

// Session is one upload of an external document, with counters over its
// items. The invariant AppliedCount+RejectedCount+PendingCount == TotalItems
// holds at every commit point; counters move only with item decisions, in
// the same transaction.
type Session struct {
	ID          id.SessionID
	WorkspaceID id.WorkspaceID
	FileName    string
	FileKind    FileKind
	UploadedBy  id.UserID

	TotalItems    int
	AppliedCount  int
	RejectedCount int
	PendingCount  int

	CreatedAt time.Time
}

// CountersConsistent reports the session counter invariant.
func (s *Session) CountersConsistent() bool {
	return s.AppliedCount+s.RejectedCount+s.PendingCount == s.TotalItems
}

// Item is one suggested edit from an upload. VariableID is nil for
// clause-level suggestions with no variable to write to.
type Item struct {
	ID          id.ItemID
	SessionID   id.SessionID
	WorkspaceID id.WorkspaceID
	ClauseID    id.ClauseID
	VariableID  *id.VariableID
	Confidence  Confidence

	// BaselineValue and CurrentValue are recorded at upload time;
	// ProposedValue is what applying writes.
	BaselineValue string
	CurrentValue  string
	ProposedValue string

	Decision       Decision
	DecidedBy      *id.UserID
	DecidedAt      *time.Time
	DecisionReason *string

	CreatedAt time.Time
}

// ApplyResult is the outcome of applying one item.
type ApplyResult struct {
	Item *Item
	// DriftCreated is true when applying recorded a brand new drift item
	// rather than refreshing or skipping one.
	DriftCreated bool
}
