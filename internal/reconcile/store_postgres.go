package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
	txcontext "redline/pkg/platform/tx"
)

// PostgresStore persists reconciliation sessions and items in PostgreSQL.
// Decide guards on decision = 'pending' so a decision can never be made
// twice, and ShiftCounters moves counters in the same statement shape so
// the session invariant survives concurrent decisions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO reconciliation_sessions
			(id, workspace_id, file_name, file_kind, uploaded_by, total_items, applied_count, rejected_count, pending_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(session.ID), uuid.UUID(session.WorkspaceID), session.FileName, string(session.FileKind),
		uuid.UUID(session.UploadedBy), session.TotalItems, session.AppliedCount, session.RejectedCount,
		session.PendingCount, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create reconciliation session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID id.SessionID) (*Session, error) {
	var session Session
	var sid, wsID, uploadedBy uuid.UUID
	var fileKind string
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, file_name, file_kind, uploaded_by, total_items, applied_count, rejected_count, pending_count, created_at
		FROM reconciliation_sessions WHERE id = $1`,
		uuid.UUID(sessionID),
	).Scan(&sid, &wsID, &session.FileName, &fileKind, &uploadedBy,
		&session.TotalItems, &session.AppliedCount, &session.RejectedCount, &session.PendingCount, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reconciliation session: %w", err)
	}
	session.ID = id.SessionID(sid)
	session.WorkspaceID = id.WorkspaceID(wsID)
	session.FileKind = FileKind(fileKind)
	session.UploadedBy = id.UserID(uploadedBy)
	return &session, nil
}

const reconItemColumns = `id, session_id, workspace_id, clause_id, variable_id, confidence,
	baseline_value, current_value, proposed_value,
	decision, decided_by, decided_at, decision_reason, created_at`

func (s *PostgresStore) CreateItem(ctx context.Context, item *Item) error {
	var variableID any
	if item.VariableID != nil {
		variableID = uuid.UUID(*item.VariableID)
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO reconciliation_items (`+reconItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.UUID(item.ID), uuid.UUID(item.SessionID), uuid.UUID(item.WorkspaceID), uuid.UUID(item.ClauseID),
		variableID, string(item.Confidence),
		item.BaselineValue, item.CurrentValue, item.ProposedValue,
		string(item.Decision), nilUUID(item.DecidedBy), item.DecidedAt, item.DecisionReason, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create reconciliation item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID id.ItemID) (*Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+reconItemColumns+` FROM reconciliation_items WHERE id = $1`,
		uuid.UUID(itemID),
	)
	if err != nil {
		return nil, fmt.Errorf("get reconciliation item: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get reconciliation item: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	return scanItem(rows)
}

func (s *PostgresStore) ListItems(ctx context.Context, sessionID id.SessionID) ([]Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+reconItemColumns+` FROM reconciliation_items
		WHERE session_id = $1
		ORDER BY created_at, id`,
		uuid.UUID(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Decide(ctx context.Context, item *Item) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE reconciliation_items
		SET decision = $2, decided_by = $3, decided_at = $4, decision_reason = $5
		WHERE id = $1 AND decision = 'pending'`,
		uuid.UUID(item.ID), string(item.Decision), nilUUID(item.DecidedBy), item.DecidedAt, item.DecisionReason,
	)
	if err != nil {
		return fmt.Errorf("decide reconciliation item: %w", err)
	}
	return s.requirePendingRow(ctx, res, item.ID)
}

func (s *PostgresStore) ShiftCounters(ctx context.Context, sessionID id.SessionID, to Decision) error {
	var column string
	switch to {
	case DecisionApplied:
		column = "applied_count"
	case DecisionRejected:
		column = "rejected_count"
	default:
		return sentinel.ErrInvalidState
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE reconciliation_sessions
		SET pending_count = pending_count - 1, `+column+` = `+column+` + 1
		WHERE id = $1 AND pending_count > 0`,
		uuid.UUID(sessionID),
	)
	if err != nil {
		return fmt.Errorf("shift session counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("shift session counters: %w", err)
	}
	if n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

// requirePendingRow distinguishes "no such item" from "already decided"
// after a guarded update matched nothing.
func (s *PostgresStore) requirePendingRow(ctx context.Context, res sql.Result, itemID id.ItemID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide reconciliation item: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reconciliation_items WHERE id = $1)`,
		uuid.UUID(itemID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("decide reconciliation item: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func scanItem(rows *sql.Rows) (*Item, error) {
	var item Item
	var itemID, sessionID, wsID, clauseID uuid.UUID
	var variableID, decidedBy uuid.NullUUID
	var confidence, decision string
	if err := rows.Scan(&itemID, &sessionID, &wsID, &clauseID, &variableID, &confidence,
		&item.BaselineValue, &item.CurrentValue, &item.ProposedValue,
		&decision, &decidedBy, &item.DecidedAt, &item.DecisionReason, &item.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan reconciliation item: %w", err)
	}
	item.ID = id.ItemID(itemID)
	item.SessionID = id.SessionID(sessionID)
	item.WorkspaceID = id.WorkspaceID(wsID)
	item.ClauseID = id.ClauseID(clauseID)
	item.Confidence = Confidence(confidence)
	item.Decision = Decision(decision)
	if variableID.Valid {
		v := id.VariableID(variableID.UUID)
		item.VariableID = &v
	}
	if decidedBy.Valid {
		u := id.UserID(decidedBy.UUID)
		item.DecidedBy = &u
	}
	return &item, nil
}

func nilUUID(userID *id.UserID) any {
	if userID == nil {
		return nil
	}
	return uuid.UUID(*userID)
}
