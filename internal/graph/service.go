package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"redline/internal/drift"
	graphmetrics "redline/internal/graph/metrics"
	"redline/internal/membership"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
	audit "redline/pkg/platform/audit"
	"redline/pkg/platform/sentinel"
	"redline/pkg/platform/tx"
	"redline/pkg/requestcontext"
)

// Auditor records engine mutations inside the mutation's transaction.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service rebuilds and serves the workspace graph.
type Service struct {
	members    membership.Checker
	workspaces workspace.Store
	driftItems drift.Store
	store      Store
	auditor    Auditor
	txRunner   tx.Runner
	cache      *Cache
	logger     *slog.Logger
	metrics    *graphmetrics.Metrics
}

// NewService creates a graph Service. cache and metrics may be nil.
func NewService(
	members membership.Checker,
	workspaces workspace.Store,
	driftItems drift.Store,
	store Store,
	auditor Auditor,
	txRunner tx.Runner,
	c *Cache,
	logger *slog.Logger,
	metrics *graphmetrics.Metrics,
) *Service {
	return &Service{
		members:    members,
		workspaces: workspaces,
		driftItems: driftItems,
		store:      store,
		auditor:    auditor,
		txRunner:   txRunner,
		cache:      c,
		logger:     logger,
		metrics:    metrics,
	}
}

// Rebuild recomputes the workspace's graph from scratch and atomically
// replaces the stored projection. It returns the node count, edge count,
// and integrity score of the new graph.
func (s *Service) Rebuild(ctx context.Context, workspaceID id.WorkspaceID) (*Summary, error) {
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, workspaceID); err != nil {
		return nil, err
	}
	if _, err := s.workspaces.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, translateStoreErr(err, "workspace")
	}

	started := time.Now()
	snapshot, err := s.project(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	// Previous state for the audit payload; absent on the first build.
	var before Summary
	if prev, err := s.store.GetState(ctx, workspaceID); err == nil {
		before = Summary{NodeCount: prev.NodeCount, EdgeCount: prev.EdgeCount, IntegrityScore: prev.IntegrityScore}
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, translateStoreErr(err, "graph state")
	}

	now := snapshot.State.ComputedAt
	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.ReplaceAll(ctx, workspaceID, snapshot.Nodes, snapshot.Edges); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "replace graph")
		}
		if err := s.store.UpsertState(ctx, snapshot.State); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "store graph state")
		}
		if err := s.workspaces.StampLastSynced(ctx, workspaceID, now); err != nil {
			return translateStoreErr(err, "workspace")
		}
		return s.auditor.Emit(ctx, audit.Event{
			Timestamp:   now,
			WorkspaceID: workspaceID,
			ActorID:     actor,
			Action:      audit.ActionGraphSynced,
			TargetType:  audit.TargetGraph,
			TargetID:    workspaceID.String(),
			Before:      audit.Snapshot(before),
			After:       audit.Snapshot(snapshot.Summary()),
			RequestID:   requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, snapshot)
	s.metrics.ObserveRebuild(workspaceID.String(), snapshot.State.IntegrityScore, time.Since(started))
	s.logger.InfoContext(ctx, "graph rebuilt",
		slog.String("workspace_id", workspaceID.String()),
		slog.Int("nodes", len(snapshot.Nodes)),
		slog.Int("edges", len(snapshot.Edges)),
		slog.Int("integrity_score", snapshot.State.IntegrityScore))

	summary := snapshot.Summary()
	return &summary, nil
}

// Get returns the stored graph, from cache when warm. The graph must have
// been built at least once.
func (s *Service) Get(ctx context.Context, workspaceID id.WorkspaceID) (*Snapshot, error) {
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, workspaceID); err != nil {
		return nil, err
	}

	if cached, _ := s.cache.Get(ctx, workspaceID); cached != nil {
		s.metrics.IncrementCache("hit")
		return cached, nil
	}
	s.metrics.IncrementCache("miss")

	state, err := s.store.GetState(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "graph has not been built for this workspace")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load graph state")
	}

	var snapshot Snapshot
	snapshot.State = *state
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		nodes, err := s.store.ListNodes(gctx, workspaceID)
		if err != nil {
			return err
		}
		snapshot.Nodes = nodes
		return nil
	})
	g.Go(func() error {
		edges, err := s.store.ListEdges(gctx, workspaceID)
		if err != nil {
			return err
		}
		snapshot.Edges = edges
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load graph")
	}

	s.cache.Set(ctx, &snapshot)
	return &snapshot, nil
}

// RefreshFlags re-derives drift and warning flags from current data and
// patches them onto the stored nodes, recomputing the integrity score. It
// is the cheap path between rebuilds: node and edge sets stay as they are,
// only flags and score move. Callers treat failures as deferrable; the next
// rebuild reconciles everything.
func (s *Service) RefreshFlags(ctx context.Context, workspaceID id.WorkspaceID) error {
	snapshot, err := s.project(ctx, workspaceID)
	if err != nil {
		return err
	}

	flags := make([]NodeFlags, 0, len(snapshot.Nodes))
	for i := range snapshot.Nodes {
		n := &snapshot.Nodes[i]
		flags = append(flags, NodeFlags{NodeID: n.NodeID, HasDrift: n.HasDrift, HasWarning: n.HasWarning})
	}

	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateNodeFlags(ctx, workspaceID, flags); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "patch node flags")
		}
		state, err := s.store.GetState(ctx, workspaceID)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Never built; nothing to patch.
			return nil
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load graph state")
		}
		state.IntegrityScore = snapshot.State.IntegrityScore
		state.ComputedAt = snapshot.State.ComputedAt
		if err := s.store.UpsertState(ctx, *state); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "store graph state")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, workspaceID)
	return nil
}

// project runs the pure graph function over freshly loaded inputs. Loads
// run in parallel; they are plain reads outside any transaction.
func (s *Service) project(ctx context.Context, workspaceID id.WorkspaceID) (*Snapshot, error) {
	var (
		clauses    []workspace.Clause
		variables  []workspace.Variable
		unresolved []drift.Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clauses, err = s.workspaces.ListClauses(gctx, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		variables, err = s.workspaces.ListVariables(gctx, workspaceID)
		return err
	})
	g.Go(func() error {
		var err error
		unresolved, err = s.driftItems.ListUnresolved(gctx, workspaceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load graph inputs")
	}

	return Build(workspaceID, clauses, variables, unresolved, requestcontext.Now(ctx)), nil
}

func translateStoreErr(err error, noun string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, noun+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "load "+noun)
}
