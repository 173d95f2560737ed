// Package postgres owns the database handle, schema, and the transaction
// runner the engine services use for their atomic multi-step algorithms.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the engine's tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			baseline_approved_at TIMESTAMPTZ,
			last_synced_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			user_id UUID NOT NULL,
			role TEXT NOT NULL DEFAULT 'editor',
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (workspace_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS clauses (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			position INTEGER NOT NULL,
			category TEXT NOT NULL,
			sensitive BOOLEAN NOT NULL DEFAULT FALSE,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clauses_workspace
			ON clauses (workspace_id, position)`,
		`CREATE TABLE IF NOT EXISTS variables (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			clause_id UUID NOT NULL REFERENCES clauses(id),
			label TEXT NOT NULL,
			category TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			unit TEXT,
			baseline_value TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_variables_workspace
			ON variables (workspace_id)`,
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			label TEXT NOT NULL,
			display_value TEXT NOT NULL DEFAULT '',
			has_drift BOOLEAN NOT NULL DEFAULT FALSE,
			has_warning BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (workspace_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			weight INTEGER NOT NULL,
			PRIMARY KEY (workspace_id, source_id, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS graph_state (
			workspace_id UUID PRIMARY KEY REFERENCES workspaces(id),
			integrity_score INTEGER NOT NULL,
			node_count INTEGER NOT NULL,
			edge_count INTEGER NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS drift_items (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			clause_id UUID NOT NULL REFERENCES clauses(id),
			variable_id UUID,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unresolved',
			baseline_value TEXT NOT NULL,
			current_value TEXT NOT NULL,
			baseline_approved_at TIMESTAMPTZ NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			resolved_by UUID,
			resolved_at TIMESTAMPTZ,
			resolution_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drift_items_workspace_status
			ON drift_items (workspace_id, status)`,
		`CREATE TABLE IF NOT EXISTS reconciliation_sessions (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			file_name TEXT NOT NULL,
			file_kind TEXT NOT NULL,
			uploaded_by UUID NOT NULL,
			total_items INTEGER NOT NULL,
			applied_count INTEGER NOT NULL DEFAULT 0,
			rejected_count INTEGER NOT NULL DEFAULT 0,
			pending_count INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS reconciliation_items (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES reconciliation_sessions(id),
			workspace_id UUID NOT NULL REFERENCES workspaces(id),
			clause_id UUID NOT NULL REFERENCES clauses(id),
			variable_id UUID,
			confidence TEXT NOT NULL,
			baseline_value TEXT NOT NULL DEFAULT '',
			current_value TEXT NOT NULL DEFAULT '',
			proposed_value TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT 'pending',
			decided_by UUID,
			decided_at TIMESTAMPTZ,
			decision_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_items_session
			ON reconciliation_items (session_id)`,
		`CREATE TABLE IF NOT EXISTS audit_outbox (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL,
			actor_id UUID NOT NULL,
			category TEXT NOT NULL,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_outbox_unpublished
			ON audit_outbox (created_at) WHERE published_at IS NULL`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
