package audit

import (
	"encoding/json"
	"time"

	id "redline/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and downstream routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance for a deal:
	// anything that changes an approved baseline, accepts a divergence, or
	// merges external content into the draft. Long retention, tamper-proof
	// storage.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers recomputation and detection events useful
	// for debugging and operational visibility. Shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Action names a state-changing engine operation.
type Action string

const (
	ActionGraphSynced     Action = "graph_synced"
	ActionDriftDetected   Action = "drift_detected"
	ActionDriftUpdated    Action = "drift_updated"
	ActionDriftOverridden Action = "drift_overridden"
	ActionDriftReverted   Action = "drift_reverted"
	ActionDriftApproved   Action = "drift_approved"
	ActionReconUploaded   Action = "recon_uploaded"
	ActionReconApplied    Action = "recon_applied"
	ActionReconRejected   Action = "recon_rejected"
)

var actionCategories = map[Action]EventCategory{
	// Compliance events: baseline and draft mutations with legal weight.
	ActionDriftOverridden: CategoryCompliance,
	ActionDriftReverted:   CategoryCompliance,
	ActionDriftApproved:   CategoryCompliance,
	ActionReconUploaded:   CategoryCompliance,
	ActionReconApplied:    CategoryCompliance,
	ActionReconRejected:   CategoryCompliance,

	// Operations events: derived-state recomputation.
	ActionGraphSynced:   CategoryOperations,
	ActionDriftDetected: CategoryOperations,
	ActionDriftUpdated:  CategoryOperations,
}

// Category returns the EventCategory for this action. Unknown actions
// default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// TargetType names the kind of record an event describes.
type TargetType string

const (
	TargetGraph       TargetType = "graph"
	TargetDriftItem   TargetType = "drift_item"
	TargetReconItem   TargetType = "reconciliation_item"
	TargetReconUpload TargetType = "reconciliation_session"
)

// Event is one immutable record of an engine mutation: who did what to
// which record, with before/after snapshots and the stated rationale.
// Events are append-only; nothing updates or deletes them.
type Event struct {
	Timestamp   time.Time
	WorkspaceID id.WorkspaceID
	ActorID     id.UserID
	Action      Action
	TargetType  TargetType
	TargetID    string
	Before      json.RawMessage
	After       json.RawMessage
	Reason      string
	RequestID   string
}

// Snapshot marshals v for use as a Before/After payload. A value that cannot
// marshal becomes a JSON null rather than failing the mutation it documents.
func Snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
