//go:build integration

package drift_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"redline/internal/drift"
	"redline/internal/platform/postgres"
	"redline/internal/severity"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
	"redline/pkg/testutil/containers"
)

type DriftPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *drift.PostgresStore
	records  *workspace.PostgresStore
	runner   *postgres.TxRunner

	ws     *workspace.Workspace
	clause *workspace.Clause
}

func TestDriftPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(DriftPostgresSuite))
}

func (s *DriftPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = drift.NewPostgresStore(s.postgres.DB)
	s.records = workspace.NewPostgresStore(s.postgres.DB)
	s.runner = postgres.NewTxRunner(s.postgres.DB)
}

func (s *DriftPostgresSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"drift_items", "variables", "clauses", "workspace_members", "workspaces")
	s.Require().NoError(err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	s.ws = &workspace.Workspace{
		ID:        id.WorkspaceID(uuid.New()),
		Name:      "Facility Agreement",
		CreatedBy: id.UserID(uuid.New()),
		CreatedAt: now,
	}
	s.Require().NoError(s.records.CreateWorkspace(ctx, s.ws))

	s.clause = &workspace.Clause{
		ID:          id.ClauseID(uuid.New()),
		WorkspaceID: s.ws.ID,
		Position:    1,
		Category:    workspace.CategoryFinancial,
		Title:       "1. Principal Amount",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Require().NoError(s.records.CreateClause(ctx, s.clause))
}

func (s *DriftPostgresSuite) newItem(variableID *id.VariableID, sev severity.Level) *drift.Item {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &drift.Item{
		ID:                 id.DriftItemID(uuid.New()),
		WorkspaceID:        s.ws.ID,
		ClauseID:           s.clause.ID,
		VariableID:         variableID,
		Category:           workspace.CategoryFinancial,
		Severity:           sev,
		Status:             drift.StatusUnresolved,
		BaselineValue:      "$1,000,000",
		CurrentValue:       "$1,150,000",
		BaselineApprovedAt: now,
		DetectedAt:         now,
	}
}

func (s *DriftPostgresSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()

	vID := id.VariableID(uuid.New())
	s.seedVariable(vID)
	item := s.newItem(&vID, severity.High)
	s.Require().NoError(s.store.Create(ctx, item))

	got, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(item.ID, got.ID)
	s.Equal(item.WorkspaceID, got.WorkspaceID)
	s.Equal(item.ClauseID, got.ClauseID)
	s.Require().NotNil(got.VariableID)
	s.Equal(vID, *got.VariableID)
	s.Equal(severity.High, got.Severity)
	s.Equal(drift.StatusUnresolved, got.Status)
	s.Equal("$1,000,000", got.BaselineValue)
	s.Equal("$1,150,000", got.CurrentValue)
	s.Nil(got.ResolvedBy)
	s.Nil(got.ResolvedAt)
	s.Nil(got.ResolutionReason)
}

func (s *DriftPostgresSuite) TestGetNotFound() {
	_, err := s.store.Get(context.Background(), id.DriftItemID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentResolveSingleWinner verifies the unresolved-only guard under
// contention: many racing resolutions produce exactly one terminal write.
func (s *DriftPostgresSuite) TestConcurrentResolveSingleWinner() {
	ctx := context.Background()

	item := s.newItem(nil, severity.High)
	s.Require().NoError(s.store.Create(ctx, item))

	const goroutines = 30
	var wg sync.WaitGroup
	var wins, losses atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			by := id.UserID(uuid.New())
			at := time.Now().UTC()
			reason := "agreed on the revised amount"
			resolved := *item
			resolved.Status = drift.StatusOverridden
			resolved.BaselineValue = resolved.CurrentValue
			resolved.ResolvedBy = &by
			resolved.ResolvedAt = &at
			resolved.ResolutionReason = &reason

			switch err := s.store.Resolve(ctx, &resolved); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one resolve should win")
	s.Equal(int32(goroutines-1), losses.Load(), "all others should see invalid state")

	got, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(drift.StatusOverridden, got.Status)
	s.NotNil(got.ResolvedBy)
	s.NotNil(got.ResolvedAt)
}

func (s *DriftPostgresSuite) TestUpdateDetectionGuard() {
	ctx := context.Background()

	item := s.newItem(nil, severity.Medium)
	s.Require().NoError(s.store.Create(ctx, item))

	later := time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)
	err := s.store.UpdateDetection(ctx, item.ID, "$1,300,000", severity.High, later)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal("$1,300,000", got.CurrentValue)
	s.Equal(severity.High, got.Severity)
	s.WithinDuration(later, got.DetectedAt, time.Second)

	by := id.UserID(uuid.New())
	at := time.Now().UTC()
	got.Status = drift.StatusApproved
	got.ResolvedBy = &by
	got.ResolvedAt = &at
	s.Require().NoError(s.store.Resolve(ctx, got))

	err = s.store.UpdateDetection(ctx, item.ID, "$9", severity.Low, later)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	err = s.store.UpdateDetection(ctx, id.DriftItemID(uuid.New()), "$9", severity.Low, later)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *DriftPostgresSuite) TestListFiltersAndCounts() {
	ctx := context.Background()

	high := s.newItem(nil, severity.High)
	s.Require().NoError(s.store.Create(ctx, high))

	vID := id.VariableID(uuid.New())
	s.seedVariable(vID)
	medium := s.newItem(&vID, severity.Medium)
	medium.DetectedAt = medium.DetectedAt.Add(time.Second)
	s.Require().NoError(s.store.Create(ctx, medium))

	by := id.UserID(uuid.New())
	at := time.Now().UTC()
	resolved := *high
	resolved.Status = drift.StatusReverted
	resolved.ResolvedBy = &by
	resolved.ResolvedAt = &at
	s.Require().NoError(s.store.Resolve(ctx, &resolved))

	all, err := s.store.List(ctx, s.ws.ID, nil)
	s.Require().NoError(err)
	s.Len(all, 2)

	unresolved, err := s.store.ListUnresolved(ctx, s.ws.ID)
	s.Require().NoError(err)
	s.Require().Len(unresolved, 1)
	s.Equal(medium.ID, unresolved[0].ID)

	byVariable, err := s.store.ListByVariable(ctx, s.ws.ID, vID)
	s.Require().NoError(err)
	s.Require().Len(byVariable, 1)
	s.Equal(medium.ID, byVariable[0].ID)

	n, err := s.store.CountUnresolved(ctx, s.ws.ID)
	s.Require().NoError(err)
	s.Equal(1, n)

	n, err = s.store.CountUnresolvedBySeverity(ctx, s.ws.ID, severity.High)
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *DriftPostgresSuite) TestFindUnresolvedForClause() {
	ctx := context.Background()

	vID := id.VariableID(uuid.New())
	s.seedVariable(vID)
	variableItem := s.newItem(&vID, severity.Medium)
	s.Require().NoError(s.store.Create(ctx, variableItem))

	_, err := s.store.FindUnresolvedForClause(ctx, s.ws.ID, s.clause.ID)
	s.ErrorIs(err, sentinel.ErrNotFound, "variable items should not match the clause lookup")

	clauseItem := s.newItem(nil, severity.Medium)
	s.Require().NoError(s.store.Create(ctx, clauseItem))

	found, err := s.store.FindUnresolvedForClause(ctx, s.ws.ID, s.clause.ID)
	s.Require().NoError(err)
	s.Equal(clauseItem.ID, found.ID)
}

// TestTransactionRollback verifies that a failing unit of work leaves no
// partial drift writes behind.
func (s *DriftPostgresSuite) TestTransactionRollback() {
	ctx := context.Background()

	item := s.newItem(nil, severity.High)
	boom := errors.New("boom")

	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Create(txCtx, item); err != nil {
			return err
		}
		// Visible inside the transaction.
		if _, err := s.store.Get(txCtx, item.ID); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Get(ctx, item.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *DriftPostgresSuite) seedVariable(vID id.VariableID) {
	s.T().Helper()
	now := time.Now().UTC()
	baseline := "$1,000,000"
	err := s.records.CreateVariable(context.Background(), &workspace.Variable{
		ID:            vID,
		WorkspaceID:   s.ws.ID,
		ClauseID:      s.clause.ID,
		Label:         "Principal",
		Category:      workspace.CategoryFinancial,
		Value:         "$1,150,000",
		BaselineValue: &baseline,
		UpdatedAt:     now,
	})
	s.Require().NoError(err)
}
