package graph_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redline/internal/drift"
	"redline/internal/graph"
	"redline/internal/membership"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
	audit "redline/pkg/platform/audit"
	auditmemory "redline/pkg/platform/audit/store/memory"
	"redline/pkg/platform/audit/publisher"
	"redline/pkg/platform/tx"
	"redline/pkg/requestcontext"
)

type graphFixture struct {
	service    *graph.Service
	workspaces *workspace.InMemoryStore
	driftItems *drift.InMemoryStore
	store      *graph.InMemoryStore
	audits     *auditmemory.InMemoryStore

	ws    *workspace.Workspace
	actor id.UserID
	ctx   context.Context
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()

	workspaces := workspace.NewInMemoryStore()
	driftItems := drift.NewInMemoryStore()
	store := graph.NewInMemoryStore()
	members := membership.NewInMemoryStore()
	audits := auditmemory.NewInMemoryStore()

	actor := id.UserID(uuid.New())
	ws := &workspace.Workspace{
		ID:        id.WorkspaceID(uuid.New()),
		Name:      "Facility A",
		CreatedBy: actor,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	ctx := requestcontext.WithActorID(context.Background(), actor)

	require.NoError(t, workspaces.CreateWorkspace(ctx, ws))
	require.NoError(t, members.AddMember(ctx, ws.ID, actor, "editor"))

	service := graph.NewService(
		membership.NewService(members),
		workspaces,
		driftItems,
		store,
		publisher.NewPublisher(audits),
		tx.NewSerialRunner(),
		nil,
		slog.New(slog.DiscardHandler),
		nil,
	)

	return &graphFixture{
		service:    service,
		workspaces: workspaces,
		driftItems: driftItems,
		store:      store,
		audits:     audits,
		ws:         ws,
		actor:      actor,
		ctx:        ctx,
	}
}

func (f *graphFixture) addClause(t *testing.T, category workspace.Category, title string) *workspace.Clause {
	t.Helper()
	c := &workspace.Clause{
		ID:          id.ClauseID(uuid.New()),
		WorkspaceID: f.ws.ID,
		Category:    category,
		Title:       title,
	}
	require.NoError(t, f.workspaces.CreateClause(f.ctx, c))
	return c
}

func TestRebuild_ReplacesGraphAndStampsWorkspace(t *testing.T) {
	f := newGraphFixture(t)
	fin := f.addClause(t, workspace.CategoryFinancial, "Interest")
	f.addClause(t, workspace.CategoryCovenant, "Leverage")

	summary, err := f.service.Rebuild(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NodeCount)
	assert.Equal(t, 1, summary.EdgeCount)
	assert.Equal(t, 100, summary.IntegrityScore)

	ws, err := f.workspaces.GetWorkspace(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.NotNil(t, ws.LastSyncedAt)

	// the clause set shrinks; the stored graph follows completely
	v := &workspace.Variable{
		ID:          id.VariableID(uuid.New()),
		WorkspaceID: f.ws.ID,
		ClauseID:    fin.ID,
		Label:       "rate",
		Category:    workspace.CategoryFinancial,
		Value:       "5.25",
	}
	require.NoError(t, f.workspaces.CreateVariable(f.ctx, v))

	summary, err = f.service.Rebuild(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.NodeCount)

	nodes, err := f.store.ListNodes(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestRebuild_EmitsAuditEventWithSummaries(t *testing.T) {
	f := newGraphFixture(t)
	f.addClause(t, workspace.CategoryFinancial, "Interest")

	_, err := f.service.Rebuild(f.ctx, f.ws.ID)
	require.NoError(t, err)
	_, err = f.service.Rebuild(f.ctx, f.ws.ID)
	require.NoError(t, err)

	events, err := f.audits.ListByWorkspace(f.ctx, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionGraphSynced, events[0].Action)
	assert.Equal(t, audit.TargetGraph, events[0].TargetType)
	assert.JSONEq(t, `{"node_count":0,"edge_count":0,"integrity_score":0}`, string(events[0].Before))
	assert.JSONEq(t, `{"node_count":1,"edge_count":0,"integrity_score":100}`, string(events[0].After))
	assert.JSONEq(t, `{"node_count":1,"edge_count":0,"integrity_score":100}`, string(events[1].Before))
}

func TestRebuild_RequiresMembership(t *testing.T) {
	f := newGraphFixture(t)
	stranger := requestcontext.WithActorID(context.Background(), id.UserID(uuid.New()))

	_, err := f.service.Rebuild(stranger, f.ws.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestRebuild_UnknownWorkspace(t *testing.T) {
	f := newGraphFixture(t)
	other := id.WorkspaceID(uuid.New())

	_, err := f.service.Rebuild(f.ctx, other)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden) || dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestGet_BeforeFirstBuild(t *testing.T) {
	f := newGraphFixture(t)

	_, err := f.service.Get(f.ctx, f.ws.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestGet_ReturnsStoredSnapshot(t *testing.T) {
	f := newGraphFixture(t)
	f.addClause(t, workspace.CategoryFinancial, "Interest")

	_, err := f.service.Rebuild(f.ctx, f.ws.ID)
	require.NoError(t, err)

	snapshot, err := f.service.Get(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Nodes, 1)
	assert.Equal(t, 100, snapshot.State.IntegrityScore)
}

func TestRefreshFlags_PatchesWithoutRebuilding(t *testing.T) {
	f := newGraphFixture(t)
	c := f.addClause(t, workspace.CategoryFinancial, "Interest")

	_, err := f.service.Rebuild(f.ctx, f.ws.ID)
	require.NoError(t, err)

	// drift appears between rebuilds
	require.NoError(t, f.driftItems.Create(f.ctx, &drift.Item{
		ID:          id.DriftItemID(uuid.New()),
		WorkspaceID: f.ws.ID,
		ClauseID:    c.ID,
		Status:      drift.StatusUnresolved,
	}))

	require.NoError(t, f.service.RefreshFlags(f.ctx, f.ws.ID))

	nodes, err := f.store.ListNodes(f.ctx, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].HasDrift)

	state, err := f.store.GetState(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, state.IntegrityScore)

	// no new audit events beyond the one rebuild
	events, err := f.audits.ListByWorkspace(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
