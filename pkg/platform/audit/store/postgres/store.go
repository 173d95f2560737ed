package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "redline/pkg/domain"
	audit "redline/pkg/platform/audit"
	txcontext "redline/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table inside the caller's transaction and
// published to Kafka by the outbox relay after commit, so an audit row exists
// exactly when the mutation it describes committed.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type dbQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Event for deserialization by downstream consumers.
type outboxPayload struct {
	ID          string          `json:"ID"`
	Category    string          `json:"Category"`
	Timestamp   string          `json:"Timestamp"`
	WorkspaceID string          `json:"WorkspaceID,omitempty"`
	ActorID     string          `json:"ActorID,omitempty"`
	Action      string          `json:"Action"`
	TargetType  string          `json:"TargetType"`
	TargetID    string          `json:"TargetID,omitempty"`
	Before      json.RawMessage `json:"Before,omitempty"`
	After       json.RawMessage `json:"After,omitempty"`
	Reason      string          `json:"Reason,omitempty"`
	RequestID   string          `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table inside the transaction
// carried by ctx, if any.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Category is always derived from the action; the actionCategories map
	// is the source of truth.
	category := event.Action.Category()

	payload := outboxPayload{
		ID:         eventID.String(),
		Category:   string(category),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		Action:     string(event.Action),
		TargetType: string(event.TargetType),
		TargetID:   event.TargetID,
		Before:     event.Before,
		After:      event.After,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
	}
	if !event.WorkspaceID.IsNil() {
		payload.WorkspaceID = event.WorkspaceID.String()
	}
	if !event.ActorID.IsNil() {
		payload.ActorID = event.ActorID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_outbox (
			id, workspace_id, actor_id, category, action, target_type,
			target_id, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		eventID,
		uuid.UUID(event.WorkspaceID),
		uuid.UUID(event.ActorID),
		string(category),
		string(event.Action),
		string(event.TargetType),
		event.TargetID,
		payloadBytes,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListByWorkspace returns the workspace's audit events in append order.
func (s *Store) ListByWorkspace(ctx context.Context, workspaceID id.WorkspaceID) ([]audit.Event, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT workspace_id, actor_id, action, target_type, target_id,
		       payload, created_at
		FROM audit_outbox
		WHERE workspace_id = $1
		ORDER BY created_at ASC`,
		uuid.UUID(workspaceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			wsID, actorID           uuid.UUID
			action, tType, targetID string
			payloadBytes            []byte
			createdAt               time.Time
		)
		if err := rows.Scan(&wsID, &actorID, &action, &tType, &targetID, &payloadBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var payload outboxPayload
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal audit payload: %w", err)
		}
		events = append(events, audit.Event{
			Timestamp:   createdAt,
			WorkspaceID: id.WorkspaceID(wsID),
			ActorID:     id.UserID(actorID),
			Action:      audit.Action(action),
			TargetType:  audit.TargetType(tType),
			TargetID:    targetID,
			Before:      payload.Before,
			After:       payload.After,
			Reason:      payload.Reason,
			RequestID:   payload.RequestID,
		})
	}
	return events, rows.Err()
}
