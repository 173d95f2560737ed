package drift

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"redline/internal/severity"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
	txcontext "redline/pkg/platform/tx"
)

// PostgresStore persists drift items in PostgreSQL. The Resolve and
// UpdateDetection statements guard on status = 'unresolved' so terminal
// items can never be mutated, whatever the caller believed.
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

const itemColumns = `id, workspace_id, clause_id, variable_id, category, severity, status,
	baseline_value, current_value, baseline_approved_at, detected_at,
	resolved_by, resolved_at, resolution_reason`

func (s *PostgresStore) Create(ctx context.Context, item *Item) error {
	var variableID any
	if item.VariableID != nil {
		variableID = uuid.UUID(*item.VariableID)
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO drift_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.UUID(item.ID), uuid.UUID(item.WorkspaceID), uuid.UUID(item.ClauseID), variableID,
		string(item.Category), string(item.Severity), string(item.Status),
		item.BaselineValue, item.CurrentValue, item.BaselineApprovedAt, item.DetectedAt,
		nilUUID(item.ResolvedBy), item.ResolvedAt, item.ResolutionReason,
	)
	if err != nil {
		return fmt.Errorf("create drift item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, itemID id.DriftItemID) (*Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+itemColumns+` FROM drift_items WHERE id = $1`,
		uuid.UUID(itemID),
	)
	if err != nil {
		return nil, fmt.Errorf("get drift item: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get drift item: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	return scanItem(rows)
}

func (s *PostgresStore) UpdateDetection(ctx context.Context, itemID id.DriftItemID, currentValue string, sev severity.Level, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE drift_items
		SET current_value = $2, severity = $3, detected_at = $4
		WHERE id = $1 AND status = 'unresolved'`,
		uuid.UUID(itemID), currentValue, string(sev), at,
	)
	if err != nil {
		return fmt.Errorf("update drift detection: %w", err)
	}
	return requireUnresolvedRow(ctx, s.conn(ctx), res, itemID)
}

func (s *PostgresStore) Resolve(ctx context.Context, item *Item) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE drift_items
		SET status = $2, baseline_value = $3, current_value = $4,
		    resolved_by = $5, resolved_at = $6, resolution_reason = $7
		WHERE id = $1 AND status = 'unresolved'`,
		uuid.UUID(item.ID), string(item.Status), item.BaselineValue, item.CurrentValue,
		nilUUID(item.ResolvedBy), item.ResolvedAt, item.ResolutionReason,
	)
	if err != nil {
		return fmt.Errorf("resolve drift item: %w", err)
	}
	return requireUnresolvedRow(ctx, s.conn(ctx), res, item.ID)
}

func (s *PostgresStore) List(ctx context.Context, workspaceID id.WorkspaceID, status *Status) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM drift_items WHERE workspace_id = $1`
	args := []any{uuid.UUID(workspaceID)}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY detected_at ASC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drift items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PostgresStore) ListUnresolved(ctx context.Context, workspaceID id.WorkspaceID) ([]Item, error) {
	status := StatusUnresolved
	return s.List(ctx, workspaceID, &status)
}

func (s *PostgresStore) ListByVariable(ctx context.Context, workspaceID id.WorkspaceID, variableID id.VariableID) ([]Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+itemColumns+` FROM drift_items
		WHERE workspace_id = $1 AND variable_id = $2
		ORDER BY detected_at ASC`,
		uuid.UUID(workspaceID), uuid.UUID(variableID),
	)
	if err != nil {
		return nil, fmt.Errorf("list drift items by variable: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PostgresStore) FindUnresolvedForClause(ctx context.Context, workspaceID id.WorkspaceID, clauseID id.ClauseID) (*Item, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+itemColumns+` FROM drift_items
		WHERE workspace_id = $1 AND clause_id = $2
		  AND variable_id IS NULL AND status = 'unresolved'
		ORDER BY detected_at ASC
		LIMIT 1`,
		uuid.UUID(workspaceID), uuid.UUID(clauseID),
	)
	if err != nil {
		return nil, fmt.Errorf("find clause drift: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find clause drift: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	return scanItem(rows)
}

func (s *PostgresStore) CountUnresolved(ctx context.Context, workspaceID id.WorkspaceID) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM drift_items
		WHERE workspace_id = $1 AND status = 'unresolved'`,
		uuid.UUID(workspaceID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved drift: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountUnresolvedBySeverity(ctx context.Context, workspaceID id.WorkspaceID, sev severity.Level) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM drift_items
		WHERE workspace_id = $1 AND status = 'unresolved' AND severity = $2`,
		uuid.UUID(workspaceID), string(sev),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved drift by severity: %w", err)
	}
	return n, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func scanItem(rows *sql.Rows) (*Item, error) {
	var (
		item               Item
		itemID, wsID, clID uuid.UUID
		variableID         uuid.NullUUID
		category, sev, st  string
		resolvedBy         uuid.NullUUID
	)
	if err := rows.Scan(&itemID, &wsID, &clID, &variableID, &category, &sev, &st,
		&item.BaselineValue, &item.CurrentValue, &item.BaselineApprovedAt, &item.DetectedAt,
		&resolvedBy, &item.ResolvedAt, &item.ResolutionReason); err != nil {
		return nil, fmt.Errorf("scan drift item: %w", err)
	}
	item.ID = id.DriftItemID(itemID)
	item.WorkspaceID = id.WorkspaceID(wsID)
	item.ClauseID = id.ClauseID(clID)
	if variableID.Valid {
		vID := id.VariableID(variableID.UUID)
		item.VariableID = &vID
	}
	item.Category = workspace.Category(category)
	item.Severity = severity.Level(sev)
	item.Status = Status(st)
	if resolvedBy.Valid {
		by := id.UserID(resolvedBy.UUID)
		item.ResolvedBy = &by
	}
	return &item, nil
}

func nilUUID(u *id.UserID) any {
	if u == nil {
		return nil
	}
	return uuid.UUID(*u)
}

// requireUnresolvedRow distinguishes "item missing" from "item already
// terminal" when a guarded update touched no rows.
func requireUnresolvedRow(ctx context.Context, conn dbConn, res sql.Result, itemID id.DriftItemID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = conn.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM drift_items WHERE id = $1)`,
		uuid.UUID(itemID),
	).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check drift item existence: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}
