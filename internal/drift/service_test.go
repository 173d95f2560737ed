package drift_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redline/internal/drift"
	"redline/internal/membership"
	"redline/internal/severity"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
	audit "redline/pkg/platform/audit"
	auditmemory "redline/pkg/platform/audit/store/memory"
	"redline/pkg/platform/audit/publisher"
	"redline/pkg/platform/tx"
	"redline/pkg/requestcontext"
)

type fixture struct {
	service    *drift.Service
	workspaces *workspace.InMemoryStore
	items      *drift.InMemoryStore
	audits     *auditmemory.InMemoryStore

	ws     *workspace.Workspace
	clause *workspace.Clause
	actor  id.UserID
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	workspaces := workspace.NewInMemoryStore()
	items := drift.NewInMemoryStore()
	members := membership.NewInMemoryStore()
	audits := auditmemory.NewInMemoryStore()
	logger := slog.New(slog.DiscardHandler)

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

	clause := &workspace.Clause{
		ID:          id.ClauseID(uuid.New()),
		WorkspaceID: ws.ID,
		Position:    1,
		Category:    workspace.CategoryFinancial,
		Title:       "Facility Amount",
	}
	require.NoError(t, workspaces.CreateClause(ctx, clause))

	service := drift.NewService(
		membership.NewService(members),
		workspaces,
		items,
		publisher.NewPublisher(audits),
		tx.NewSerialRunner(),
		nil,
		logger,
		nil,
	)

	return &fixture{
		service:    service,
		workspaces: workspaces,
		items:      items,
		audits:     audits,
		ws:         ws,
		clause:     clause,
		actor:      actor,
		ctx:        ctx,
	}
}

func (f *fixture) addVariable(t *testing.T, label, baseline, value string, category workspace.Category) *workspace.Variable {
	t.Helper()
	v := &workspace.Variable{
		ID:            id.VariableID(uuid.New()),
		WorkspaceID:   f.ws.ID,
		ClauseID:      f.clause.ID,
		Label:         label,
		Category:      category,
		Value:         value,
		BaselineValue: &baseline,
	}
	require.NoError(t, f.workspaces.CreateVariable(f.ctx, v))
	return v
}

func (f *fixture) singleItem(t *testing.T) drift.Item {
	t.Helper()
	items, err := f.items.List(f.ctx, f.ws.ID, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func TestRecompute_DetectsFinancialDrift(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "facility_amount", "$1,000,000", "$1,150,000", workspace.CategoryFinancial)

	unresolved, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unresolved)

	item := f.singleItem(t)
	assert.Equal(t, drift.StatusUnresolved, item.Status)
	assert.Equal(t, severity.High, item.Severity)
	assert.Equal(t, "$1,000,000", item.BaselineValue)
	assert.Equal(t, "$1,150,000", item.CurrentValue)
	assert.Equal(t, f.ws.CreatedAt, item.BaselineApprovedAt)

	events, err := f.audits.ListByWorkspace(f.ctx, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionDriftDetected, events[0].Action)
	assert.Equal(t, f.actor, events[0].ActorID)
}

func TestRecompute_IgnoresVariablesWithoutBaseline(t *testing.T) {
	f := newFixture(t)
	v := &workspace.Variable{
		ID:          id.VariableID(uuid.New()),
		WorkspaceID: f.ws.ID,
		ClauseID:    f.clause.ID,
		Label:       "margin",
		Category:    workspace.CategoryFinancial,
		Value:       "2.5%",
	}
	require.NoError(t, f.workspaces.CreateVariable(f.ctx, v))

	unresolved, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Zero(t, unresolved)
}

func TestRecompute_RefreshesOpenItemInPlace(t *testing.T) {
	f := newFixture(t)
	v := f.addVariable(t, "facility_amount", "$100", "$106", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	first := f.singleItem(t)
	assert.Equal(t, severity.Medium, first.Severity)

	// the value moves further before the next pass
	require.NoError(t, f.workspaces.UpdateVariableValue(f.ctx, v.ID, "$120", time.Now()))

	unresolved, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unresolved)

	second := f.singleItem(t)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "$120", second.CurrentValue)
	assert.Equal(t, severity.High, second.Severity)
}

func TestRecompute_SkipsAcknowledgedDivergence(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "dscr", "1.25", "1.10", workspace.CategoryCovenant)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	_, err = f.service.Approve(f.ctx, item.ID, "acceptable for this deal")
	require.NoError(t, err)

	// approve leaves the live value in place; another pass must not reopen
	unresolved, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Zero(t, unresolved)

	items, err := f.items.List(f.ctx, f.ws.ID, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRecompute_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "facility_amount", "$100", "$112", workspace.CategoryFinancial)

	first, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	second, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	items, err := f.items.List(f.ctx, f.ws.ID, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRecompute_RequiresMembership(t *testing.T) {
	f := newFixture(t)
	stranger := requestcontext.WithActorID(context.Background(), id.UserID(uuid.New()))

	_, err := f.service.Recompute(stranger, f.ws.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestOverride_PromotesCurrentValueToBaseline(t *testing.T) {
	f := newFixture(t)
	v := f.addVariable(t, "facility_amount", "$1,000,000", "$1,150,000", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	resolved, err := f.service.Override(f.ctx, item.ID, "sponsor agreed to upsize")
	require.NoError(t, err)
	assert.Equal(t, drift.StatusOverridden, resolved.Status)
	assert.Equal(t, "$1,150,000", resolved.BaselineValue)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, f.actor, *resolved.ResolvedBy)

	stored, err := f.workspaces.GetVariable(f.ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BaselineValue)
	assert.Equal(t, "$1,150,000", *stored.BaselineValue)
	assert.False(t, stored.Drifted())

	unresolved, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Zero(t, unresolved)
}

func TestRevert_RestoresBaselineValue(t *testing.T) {
	f := newFixture(t)
	v := f.addVariable(t, "facility_amount", "$1,000,000", "$1,150,000", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	resolved, err := f.service.Revert(f.ctx, item.ID, "unsanctioned edit")
	require.NoError(t, err)
	assert.Equal(t, drift.StatusReverted, resolved.Status)
	assert.Equal(t, "$1,000,000", resolved.CurrentValue)

	stored, err := f.workspaces.GetVariable(f.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "$1,000,000", stored.Value)
	assert.False(t, stored.Drifted())
}

func TestApprove_LeavesValuesUntouched(t *testing.T) {
	f := newFixture(t)
	v := f.addVariable(t, "facility_amount", "$1,000,000", "$1,150,000", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	resolved, err := f.service.Approve(f.ctx, item.ID, "accepted divergence")
	require.NoError(t, err)
	assert.Equal(t, drift.StatusApproved, resolved.Status)
	assert.Equal(t, "$1,000,000", resolved.BaselineValue)
	assert.Equal(t, "$1,150,000", resolved.CurrentValue)

	stored, err := f.workspaces.GetVariable(f.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "$1,150,000", stored.Value)
	require.NotNil(t, stored.BaselineValue)
	assert.Equal(t, "$1,000,000", *stored.BaselineValue)
}

func TestResolve_RequiresReason(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "facility_amount", "$100", "$112", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	_, err = f.service.Override(f.ctx, item.ID, "   ")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	// nothing changed
	assert.Equal(t, drift.StatusUnresolved, f.singleItem(t).Status)
}

func TestResolve_TerminalStatesAreExclusive(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "facility_amount", "$100", "$112", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	_, err = f.service.Override(f.ctx, item.ID, "keep the edit")
	require.NoError(t, err)

	_, err = f.service.Revert(f.ctx, item.ID, "changed my mind")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	_, err = f.service.Approve(f.ctx, item.ID, "changed my mind again")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	assert.Equal(t, drift.StatusOverridden, f.singleItem(t).Status)
}

func TestResolve_UnknownItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Override(f.ctx, id.DriftItemID(uuid.New()), "reason")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestResolve_EmitsAuditEventWithSnapshots(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "facility_amount", "$100", "$112", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)
	item := f.singleItem(t)

	_, err = f.service.Revert(f.ctx, item.ID, "unsanctioned edit")
	require.NoError(t, err)

	events, err := f.audits.ListByWorkspace(f.ctx, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	resolution := events[1]
	assert.Equal(t, audit.ActionDriftReverted, resolution.Action)
	assert.Equal(t, item.ID.String(), resolution.TargetID)
	assert.Equal(t, "unsanctioned edit", resolution.Reason)
	assert.NotEmpty(t, resolution.Before)
	assert.NotEmpty(t, resolution.After)
}

func TestPublishGate_BlocksOnUnresolvedHigh(t *testing.T) {
	f := newFixture(t)
	f.addVariable(t, "facility_amount", "$1,000,000", "$1,150,000", workspace.CategoryFinancial)
	f.addVariable(t, "margin", "2.50", "2.65", workspace.CategoryFinancial)

	_, err := f.service.Recompute(f.ctx, f.ws.ID)
	require.NoError(t, err)

	high, err := f.service.UnresolvedHighCount(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, high)

	blocked, err := f.service.PublishBlocked(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	// resolving the high severity item unblocks even with medium drift open
	items, err := f.items.List(f.ctx, f.ws.ID, nil)
	require.NoError(t, err)
	for i := range items {
		if items[i].Severity == severity.High {
			_, err = f.service.Override(f.ctx, items[i].ID, "upsize agreed")
			require.NoError(t, err)
		}
	}

	blocked, err = f.service.PublishBlocked(f.ctx, f.ws.ID)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestParseStatus_WaivedAlias(t *testing.T) {
	status, err := drift.ParseStatus("waived")
	require.NoError(t, err)
	assert.Equal(t, drift.StatusApproved, status)

	_, err = drift.ParseStatus("resolved")
	assert.Error(t, err)
}
