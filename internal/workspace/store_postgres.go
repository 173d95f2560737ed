package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
	txcontext "redline/pkg/platform/tx"
)

// PostgresStore persists workspaces, clauses, and variables in PostgreSQL.
// All statements route through the transaction carried in context when one
// is present, so engine algorithms stay atomic.
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

func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO workspaces (id, name, created_by, created_at, baseline_approved_at, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(ws.ID), ws.Name, uuid.UUID(ws.CreatedBy), ws.CreatedAt, ws.BaselineApprovedAt, ws.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID id.WorkspaceID) (*Workspace, error) {
	var (
		ws    Workspace
		wsID  uuid.UUID
		owner uuid.UUID
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, created_by, created_at, baseline_approved_at, last_synced_at
		FROM workspaces WHERE id = $1`,
		uuid.UUID(workspaceID),
	).Scan(&wsID, &ws.Name, &owner, &ws.CreatedAt, &ws.BaselineApprovedAt, &ws.LastSyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	ws.ID = id.WorkspaceID(wsID)
	ws.CreatedBy = id.UserID(owner)
	return &ws, nil
}

func (s *PostgresStore) StampLastSynced(ctx context.Context, workspaceID id.WorkspaceID, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE workspaces SET last_synced_at = $2 WHERE id = $1`,
		uuid.UUID(workspaceID), at,
	)
	if err != nil {
		return fmt.Errorf("stamp last synced: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreateClause(ctx context.Context, clause *Clause) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO clauses (id, workspace_id, position, category, sensitive, title, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(clause.ID), uuid.UUID(clause.WorkspaceID), clause.Position,
		string(clause.Category), clause.Sensitive, clause.Title, clause.Body,
		clause.CreatedAt, clause.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create clause: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClauses(ctx context.Context, workspaceID id.WorkspaceID) ([]Clause, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, position, category, sensitive, title, body, created_at, updated_at
		FROM clauses WHERE workspace_id = $1
		ORDER BY position ASC`,
		uuid.UUID(workspaceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list clauses: %w", err)
	}
	defer rows.Close()

	var out []Clause
	for rows.Next() {
		var (
			c        Clause
			cID      uuid.UUID
			wsID     uuid.UUID
			category string
		)
		if err := rows.Scan(&cID, &wsID, &c.Position, &category, &c.Sensitive, &c.Title, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan clause: %w", err)
		}
		c.ID = id.ClauseID(cID)
		c.WorkspaceID = id.WorkspaceID(wsID)
		c.Category = Category(category)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateVariable(ctx context.Context, variable *Variable) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO variables (id, workspace_id, clause_id, label, category, value, unit, baseline_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(variable.ID), uuid.UUID(variable.WorkspaceID), uuid.UUID(variable.ClauseID),
		variable.Label, string(variable.Category), variable.Value, variable.Unit,
		variable.BaselineValue, variable.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create variable: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVariables(ctx context.Context, workspaceID id.WorkspaceID) ([]Variable, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, clause_id, label, category, value, unit, baseline_value, updated_at
		FROM variables WHERE workspace_id = $1
		ORDER BY label ASC`,
		uuid.UUID(workspaceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetVariable(ctx context.Context, variableID id.VariableID) (*Variable, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, clause_id, label, category, value, unit, baseline_value, updated_at
		FROM variables WHERE id = $1`,
		uuid.UUID(variableID),
	)
	if err != nil {
		return nil, fmt.Errorf("get variable: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get variable: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	return scanVariable(rows)
}

func (s *PostgresStore) UpdateVariableValue(ctx context.Context, variableID id.VariableID, value string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE variables SET value = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(variableID), value, at,
	)
	if err != nil {
		return fmt.Errorf("update variable value: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateVariableBaseline(ctx context.Context, variableID id.VariableID, baseline string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE variables SET baseline_value = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(variableID), baseline, at,
	)
	if err != nil {
		return fmt.Errorf("update variable baseline: %w", err)
	}
	return requireRow(res)
}

func scanVariable(rows *sql.Rows) (*Variable, error) {
	var (
		v        Variable
		vID      uuid.UUID
		wsID     uuid.UUID
		clID     uuid.UUID
		category string
	)
	if err := rows.Scan(&vID, &wsID, &clID, &v.Label, &category, &v.Value, &v.Unit, &v.BaselineValue, &v.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan variable: %w", err)
	}
	v.ID = id.VariableID(vID)
	v.WorkspaceID = id.WorkspaceID(wsID)
	v.ClauseID = id.ClauseID(clID)
	v.Category = Category(category)
	return &v, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
