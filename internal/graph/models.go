// Package graph derives the weighted relationship graph for a workspace.
//
// The graph is a projection: a pure function of the workspace's clauses,
// variables, and unresolved drift. Every rebuild replaces the whole node and
// edge set; targeted flag patches between rebuilds are a cache shortcut over
// the same function, never a second source of truth.
package graph

import (
	"time"

	id "redline/pkg/domain"
)

// NodeID is the deterministic text key for a graph node, "clause:<uuid>" or
// "variable:<uuid>". The key is stable across rebuilds so patches and
// clients can address nodes without holding a rebuild's output.
type NodeID string

// ClauseNodeID returns the node key for a clause.
func ClauseNodeID(clauseID id.ClauseID) NodeID {
	return NodeID("clause:" + clauseID.String())
}

// VariableNodeID returns the node key for a variable.
func VariableNodeID(variableID id.VariableID) NodeID {
	return NodeID("variable:" + variableID.String())
}

// NodeType is the rendered kind of a node: a clause node carries its
// clause's category, a variable node is always "variable".
type NodeType string

const NodeTypeVariable NodeType = "variable"

// Node is one projected graph node.
type Node struct {
	WorkspaceID id.WorkspaceID
	NodeID      NodeID
	Type        NodeType
	Label       string
	// DisplayValue is set for variable nodes only.
	DisplayValue string
	HasDrift     bool
	HasWarning   bool
}

// Edge is an undirected relation between two nodes. Stores hold it with
// Source < Target so the pair has one canonical row.
type Edge struct {
	WorkspaceID id.WorkspaceID
	SourceID    NodeID
	TargetID    NodeID
	Weight      int
}

// State is the per-workspace summary of the last rebuild.
type State struct {
	WorkspaceID    id.WorkspaceID
	IntegrityScore int
	NodeCount      int
	EdgeCount      int
	ComputedAt     time.Time
}

// Snapshot is a complete rebuilt graph.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	State State  `json:"state"`
}

// Summary is the compact result of a rebuild, used in responses and audit
// payloads.
type Summary struct {
	NodeCount      int `json:"node_count"`
	EdgeCount      int `json:"edge_count"`
	IntegrityScore int `json:"integrity_score"`
}

func (s *Snapshot) Summary() Summary {
	return Summary{
		NodeCount:      len(s.Nodes),
		EdgeCount:      len(s.Edges),
		IntegrityScore: s.State.IntegrityScore,
	}
}
