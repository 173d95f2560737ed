package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
	txcontext "redline/pkg/platform/tx"
)

// PostgresStore persists graph projections in PostgreSQL. Statements route
// through the transaction carried in context when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) ReplaceAll(ctx context.Context, workspaceID id.WorkspaceID, nodes []Node, edges []Edge) error {
	conn := s.conn(ctx)

	if _, err := conn.ExecContext(ctx, `DELETE FROM graph_edges WHERE workspace_id = $1`, uuid.UUID(workspaceID)); err != nil {
		return fmt.Errorf("clear graph edges: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM graph_nodes WHERE workspace_id = $1`, uuid.UUID(workspaceID)); err != nil {
		return fmt.Errorf("clear graph nodes: %w", err)
	}

	for i := range nodes {
		n := &nodes[i]
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO graph_nodes (workspace_id, node_id, node_type, label, display_value, has_drift, has_warning)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.UUID(workspaceID), string(n.NodeID), string(n.Type), n.Label, n.DisplayValue, n.HasDrift, n.HasWarning,
		); err != nil {
			return fmt.Errorf("insert graph node %s: %w", n.NodeID, err)
		}
	}
	for i := range edges {
		e := &edges[i]
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO graph_edges (workspace_id, source_id, target_id, weight)
			VALUES ($1, $2, $3, $4)`,
			uuid.UUID(workspaceID), string(e.SourceID), string(e.TargetID), e.Weight,
		); err != nil {
			return fmt.Errorf("insert graph edge %s-%s: %w", e.SourceID, e.TargetID, err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertState(ctx context.Context, state State) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO graph_state (workspace_id, integrity_score, node_count, edge_count, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id) DO UPDATE SET
			integrity_score = EXCLUDED.integrity_score,
			node_count = EXCLUDED.node_count,
			edge_count = EXCLUDED.edge_count,
			computed_at = EXCLUDED.computed_at`,
		uuid.UUID(state.WorkspaceID), state.IntegrityScore, state.NodeCount, state.EdgeCount, state.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert graph state: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetState(ctx context.Context, workspaceID id.WorkspaceID) (*State, error) {
	var state State
	var wsID uuid.UUID
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT workspace_id, integrity_score, node_count, edge_count, computed_at
		FROM graph_state WHERE workspace_id = $1`,
		uuid.UUID(workspaceID),
	).Scan(&wsID, &state.IntegrityScore, &state.NodeCount, &state.EdgeCount, &state.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get graph state: %w", err)
	}
	state.WorkspaceID = id.WorkspaceID(wsID)
	return &state, nil
}

func (s *PostgresStore) ListNodes(ctx context.Context, workspaceID id.WorkspaceID) ([]Node, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT node_id, node_type, label, display_value, has_drift, has_warning
		FROM graph_nodes WHERE workspace_id = $1
		ORDER BY node_id`,
		uuid.UUID(workspaceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list graph nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n := Node{WorkspaceID: workspaceID}
		var nodeID, nodeType string
		if err := rows.Scan(&nodeID, &nodeType, &n.Label, &n.DisplayValue, &n.HasDrift, &n.HasWarning); err != nil {
			return nil, fmt.Errorf("scan graph node: %w", err)
		}
		n.NodeID = NodeID(nodeID)
		n.Type = NodeType(nodeType)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PostgresStore) ListEdges(ctx context.Context, workspaceID id.WorkspaceID) ([]Edge, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT source_id, target_id, weight
		FROM graph_edges WHERE workspace_id = $1
		ORDER BY source_id, target_id`,
		uuid.UUID(workspaceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list graph edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e := Edge{WorkspaceID: workspaceID}
		var source, target string
		if err := rows.Scan(&source, &target, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan graph edge: %w", err)
		}
		e.SourceID = NodeID(source)
		e.TargetID = NodeID(target)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *PostgresStore) UpdateNodeFlags(ctx context.Context, workspaceID id.WorkspaceID, flags []NodeFlags) error {
	if len(flags) == 0 {
		return nil
	}
	conn := s.conn(ctx)

	// Two passes keyed by flag pair keep this a small fixed number of
	// statements regardless of node count.
	group := make(map[[2]bool][]string)
	for _, f := range flags {
		key := [2]bool{f.HasDrift, f.HasWarning}
		group[key] = append(group[key], string(f.NodeID))
	}
	for key, nodeIDs := range group {
		if _, err := conn.ExecContext(ctx, `
			UPDATE graph_nodes SET has_drift = $1, has_warning = $2
			WHERE workspace_id = $3 AND node_id = ANY($4)`,
			key[0], key[1], uuid.UUID(workspaceID), pq.Array(nodeIDs),
		); err != nil {
			return fmt.Errorf("update node flags: %w", err)
		}
	}
	return nil
}
