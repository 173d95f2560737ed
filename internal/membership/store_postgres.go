package membership

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "redline/pkg/domain"
	txcontext "redline/pkg/platform/tx"
)

// PostgresStore reads membership from the workspace_members table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) IsMember(ctx context.Context, workspaceID id.WorkspaceID, userID id.UserID) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workspace_members
			WHERE workspace_id = $1 AND user_id = $2
		)`,
		uuid.UUID(workspaceID), uuid.UUID(userID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, workspaceID id.WorkspaceID, userID id.UserID, role string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		uuid.UUID(workspaceID), uuid.UUID(userID), role,
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}
