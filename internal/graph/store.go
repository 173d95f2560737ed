package graph

import (
	"context"

	id "redline/pkg/domain"
)

// NodeFlags is a targeted flag update for one node, addressed by its stable
// key.
type NodeFlags struct {
	NodeID     NodeID
	HasDrift   bool
	HasWarning bool
}

// Store persists the projected graph. ReplaceAll and UpsertState participate
// in any transaction carried by ctx so a rebuild lands atomically.
type Store interface {
	// ReplaceAll swaps the workspace's entire node and edge set.
	ReplaceAll(ctx context.Context, workspaceID id.WorkspaceID, nodes []Node, edges []Edge) error

	UpsertState(ctx context.Context, state State) error
	// GetState returns sentinel.ErrNotFound when the graph has never been
	// built.
	GetState(ctx context.Context, workspaceID id.WorkspaceID) (*State, error)

	ListNodes(ctx context.Context, workspaceID id.WorkspaceID) ([]Node, error)
	ListEdges(ctx context.Context, workspaceID id.WorkspaceID) ([]Edge, error)

	// UpdateNodeFlags patches drift and warning flags on existing nodes
	// without touching the node or edge sets. Unknown node ids are ignored;
	// the next rebuild reconciles them.
	UpdateNodeFlags(ctx context.Context, workspaceID id.WorkspaceID, flags []NodeFlags) error
}
