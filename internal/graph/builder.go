package graph

import (
	"math"
	"regexp"
	"sort"
	"time"

	"redline/internal/drift"
	"redline/internal/workspace"
	id "redline/pkg/domain"
)

// endpoint describes one side of a candidate edge for weight evaluation.
type endpoint struct {
	variable bool
	category workspace.Category
}

// weightRule is one entry of the edge weight table. Rules are evaluated in
// slice order and the first match wins; the order is part of the contract,
// not an artifact of iteration.
type weightRule struct {
	name   string
	match  func(a, b endpoint) bool
	weight int
}

var weightRules = []weightRule{
	{"variable-clause", func(a, b endpoint) bool { return a.variable != b.variable }, 5},
	{"variable-siblings", func(a, b endpoint) bool { return a.variable && b.variable }, 4},
	{"same-category", func(a, b endpoint) bool { return a.category == b.category }, 4},
	{"financial-covenant", func(a, b endpoint) bool {
		return (a.category == workspace.CategoryFinancial && b.category == workspace.CategoryCovenant) ||
			(a.category == workspace.CategoryCovenant && b.category == workspace.CategoryFinancial)
	}, 4},
	{"definition", func(a, b endpoint) bool {
		return a.category == workspace.CategoryDefinition || b.category == workspace.CategoryDefinition
	}, 3},
	{"cross-reference", func(a, b endpoint) bool {
		return a.category == workspace.CategoryCrossReference || b.category == workspace.CategoryCrossReference
	}, 2},
	{"default", func(a, b endpoint) bool { return true }, 3},
}

func edgeWeight(a, b endpoint) int {
	for _, rule := range weightRules {
		if rule.match(a, b) {
			return rule.weight
		}
	}
	return 3
}

// clausePairRelated reports whether two clause nodes get an edge at all:
// at least one side is a definition or cross-reference clause, or the pair
// is financial and covenant.
func clausePairRelated(a, b workspace.Category) bool {
	if a == workspace.CategoryDefinition || b == workspace.CategoryDefinition {
		return true
	}
	if a == workspace.CategoryCrossReference || b == workspace.CategoryCrossReference {
		return true
	}
	return (a == workspace.CategoryFinancial && b == workspace.CategoryCovenant) ||
		(a == workspace.CategoryCovenant && b == workspace.CategoryFinancial)
}

var numberingPrefix = regexp.MustCompile(`^\d+\.\s+`)

// Build projects the graph for one workspace from its clauses, variables,
// and unresolved drift items. It is pure: same inputs, same output, so the
// rebuild path and the patch path can never disagree about what the graph
// should be.
//
// Clause nodes exclude the general category. A clause node has drift when
// any unresolved item references the clause, and warns only when the clause
// is also sensitive. A variable node has drift when an unresolved item
// references the variable or its live value differs from its baseline, but
// warns strictly on item presence; the asymmetry keeps un-recomputed edits
// visible without promoting them to warnings before a drift pass records
// them.
func Build(workspaceID id.WorkspaceID, clauses []workspace.Clause, variables []workspace.Variable, unresolved []drift.Item, now time.Time) *Snapshot {
	clauseDrift := make(map[id.ClauseID]bool)
	variableDrift := make(map[id.VariableID]bool)
	for i := range unresolved {
		item := &unresolved[i]
		clauseDrift[item.ClauseID] = true
		if item.VariableID != nil {
			variableDrift[*item.VariableID] = true
		}
	}

	var nodes []Node
	var clauseNodes []workspace.Clause
	for _, c := range clauses {
		if c.Category == workspace.CategoryGeneral {
			continue
		}
		hasDrift := clauseDrift[c.ID]
		nodes = append(nodes, Node{
			WorkspaceID: workspaceID,
			NodeID:      ClauseNodeID(c.ID),
			Type:        NodeType(c.Category),
			Label:       numberingPrefix.ReplaceAllString(c.Title, ""),
			HasDrift:    hasDrift,
			HasWarning:  c.Sensitive && hasDrift,
		})
		clauseNodes = append(clauseNodes, c)
	}

	clauseByID := make(map[id.ClauseID]bool, len(clauseNodes))
	for _, c := range clauseNodes {
		clauseByID[c.ID] = true
	}

	for _, v := range variables {
		display := v.Value
		if v.Unit != nil && *v.Unit != "" {
			display += " " + *v.Unit
		}
		nodes = append(nodes, Node{
			WorkspaceID:  workspaceID,
			NodeID:       VariableNodeID(v.ID),
			Type:         NodeTypeVariable,
			Label:        v.Label,
			DisplayValue: display,
			HasDrift:     variableDrift[v.ID] || v.Drifted(),
			HasWarning:   variableDrift[v.ID],
		})
	}

	var edges []Edge
	addEdge := func(source, target NodeID, weight int) {
		if target < source {
			source, target = target, source
		}
		edges = append(edges, Edge{
			WorkspaceID: workspaceID,
			SourceID:    source,
			TargetID:    target,
			Weight:      weight,
		})
	}

	// variable to owning clause; skipped when the clause has no node
	for _, v := range variables {
		if !clauseByID[v.ClauseID] {
			continue
		}
		addEdge(VariableNodeID(v.ID), ClauseNodeID(v.ClauseID),
			edgeWeight(endpoint{variable: true, category: v.Category}, endpoint{category: categoryOf(clauseNodes, v.ClauseID)}))
	}

	// related clause pairs
	for i := 0; i < len(clauseNodes); i++ {
		for j := i + 1; j < len(clauseNodes); j++ {
			a, b := clauseNodes[i], clauseNodes[j]
			if !clausePairRelated(a.Category, b.Category) {
				continue
			}
			addEdge(ClauseNodeID(a.ID), ClauseNodeID(b.ID),
				edgeWeight(endpoint{category: a.Category}, endpoint{category: b.Category}))
		}
	}

	// sibling variables under one clause
	byClause := make(map[id.ClauseID][]workspace.Variable)
	for _, v := range variables {
		byClause[v.ClauseID] = append(byClause[v.ClauseID], v)
	}
	clauseIDs := make([]id.ClauseID, 0, len(byClause))
	for cid := range byClause {
		clauseIDs = append(clauseIDs, cid)
	}
	sort.Slice(clauseIDs, func(i, j int) bool { return clauseIDs[i].String() < clauseIDs[j].String() })
	for _, cid := range clauseIDs {
		siblings := byClause[cid]
		for i := 0; i < len(siblings); i++ {
			for j := i + 1; j < len(siblings); j++ {
				addEdge(VariableNodeID(siblings[i].ID), VariableNodeID(siblings[j].ID),
					edgeWeight(endpoint{variable: true, category: siblings[i].Category}, endpoint{variable: true, category: siblings[j].Category}))
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})

	return &Snapshot{
		Nodes: nodes,
		Edges: edges,
		State: State{
			WorkspaceID:    workspaceID,
			IntegrityScore: integrityScore(nodes),
			NodeCount:      len(nodes),
			EdgeCount:      len(edges),
			ComputedAt:     now,
		},
	}
}

func categoryOf(clauses []workspace.Clause, clauseID id.ClauseID) workspace.Category {
	for _, c := range clauses {
		if c.ID == clauseID {
			return c.Category
		}
	}
	return workspace.CategoryGeneral
}

// integrityScore penalizes drift against 30 points and warnings against 20,
// proportionally to how much of the graph they touch. An empty graph is
// perfectly healthy.
func integrityScore(nodes []Node) int {
	total := len(nodes)
	if total == 0 {
		return 100
	}
	var withDrift, withWarning int
	for i := range nodes {
		if nodes[i].HasDrift {
			withDrift++
		}
		if nodes[i].HasWarning {
			withWarning++
		}
	}
	driftPenalty := float64(withDrift) / float64(total) * 30
	warningPenalty := float64(withWarning) / float64(total) * 20
	score := int(math.Round(100 - driftPenalty - warningPenalty))
	if score < 0 {
		score = 0
	}
	return score
}
