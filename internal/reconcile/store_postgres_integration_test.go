//go:build integration

package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"redline/internal/platform/postgres"
	"redline/internal/reconcile"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
	"redline/pkg/testutil/containers"
)

type ReconPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *reconcile.PostgresStore
	records  *workspace.PostgresStore
	runner   *postgres.TxRunner

	ws      *workspace.Workspace
	clause  *workspace.Clause
	session *reconcile.Session
}

func TestReconPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ReconPostgresSuite))
}

func (s *ReconPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = reconcile.NewPostgresStore(s.postgres.DB)
	s.records = workspace.NewPostgresStore(s.postgres.DB)
	s.runner = postgres.NewTxRunner(s.postgres.DB)
}

func (s *ReconPostgresSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"reconciliation_items", "reconciliation_sessions",
		"variables", "clauses", "workspace_members", "workspaces")
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

	s.session = &reconcile.Session{
		ID:          id.SessionID(uuid.New()),
		WorkspaceID: s.ws.ID,
		FileName:     "counterparty-draft.pdf",
		FileKind:     reconcile.FileKindPDF,
		UploadedBy:   id.UserID(uuid.New()),
		TotalItems:   3,
		PendingCount: 3,
		CreatedAt:    now,
	}
	s.Require().NoError(s.store.CreateSession(ctx, s.session))
}

func (s *ReconPostgresSuite) newItem() *reconcile.Item {
	return &reconcile.Item{
		ID:            id.ItemID(uuid.New()),
		SessionID:     s.session.ID,
		WorkspaceID:   s.ws.ID,
		ClauseID:      s.clause.ID,
		Confidence:    reconcile.ConfidenceHigh,
		BaselineValue: "$1,000,000",
		CurrentValue:  "$1,000,000",
		ProposedValue: "$1,150,000",
		Decision:      reconcile.DecisionPending,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *ReconPostgresSuite) TestSessionRoundTrip() {
	ctx := context.Background()

	got, err := s.store.GetSession(ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(s.session.ID, got.ID)
	s.Equal(reconcile.FileKindPDF, got.FileKind)
	s.Equal(3, got.TotalItems)
	s.Equal(3, got.PendingCount)
	s.True(got.CountersConsistent())

	_, err = s.store.GetSession(ctx, id.SessionID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ReconPostgresSuite) TestItemRoundTrip() {
	ctx := context.Background()

	vID := id.VariableID(uuid.New())
	item := s.newItem()
	item.VariableID = &vID
	s.Require().NoError(s.store.CreateItem(ctx, item))

	got, err := s.store.GetItem(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(item.ID, got.ID)
	s.Require().NotNil(got.VariableID)
	s.Equal(vID, *got.VariableID)
	s.Equal(reconcile.DecisionPending, got.Decision)
	s.Nil(got.DecidedBy)
	s.Nil(got.DecidedAt)

	items, err := s.store.ListItems(ctx, s.session.ID)
	s.Require().NoError(err)
	s.Len(items, 1)
}

// TestConcurrentDecideSingleWinner verifies the pending-only guard: racing
// decisions on one item produce exactly one winner, and the session counters
// shift exactly once.
func (s *ReconPostgresSuite) TestConcurrentDecideSingleWinner() {
	ctx := context.Background()

	item := s.newItem()
	s.Require().NoError(s.store.CreateItem(ctx, item))

	const goroutines = 30
	var wg sync.WaitGroup
	var wins, losses atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			decision := reconcile.DecisionApplied
			if idx%2 == 0 {
				decision = reconcile.DecisionRejected
			}
			by := id.UserID(uuid.New())
			at := time.Now().UTC()
			decided := *item
			decided.Decision = decision
			decided.DecidedBy = &by
			decided.DecidedAt = &at

			err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
				if err := s.store.Decide(txCtx, &decided); err != nil {
					return err
				}
				return s.store.ShiftCounters(txCtx, s.session.ID, decision)
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				losses.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one decision should win")
	s.Equal(int32(goroutines-1), losses.Load(), "all others should see invalid state")

	got, err := s.store.GetItem(ctx, item.ID)
	s.Require().NoError(err)
	s.NotEqual(reconcile.DecisionPending, got.Decision)

	session, err := s.store.GetSession(ctx, s.session.ID)
	s.Require().NoError(err)
	s.True(session.CountersConsistent())
	s.Equal(2, session.PendingCount, "one of three pending slots should have shifted")
	s.Equal(1, session.AppliedCount+session.RejectedCount)
}

// TestDecideRollbackRestoresCounters verifies that a failing decision
// transaction leaves both the item and the counters untouched.
func (s *ReconPostgresSuite) TestDecideRollbackRestoresCounters() {
	ctx := context.Background()

	item := s.newItem()
	s.Require().NoError(s.store.CreateItem(ctx, item))

	boom := errors.New("boom")
	by := id.UserID(uuid.New())
	at := time.Now().UTC()
	decided := *item
	decided.Decision = reconcile.DecisionApplied
	decided.DecidedBy = &by
	decided.DecidedAt = &at

	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.Decide(txCtx, &decided); err != nil {
			return err
		}
		if err := s.store.ShiftCounters(txCtx, s.session.ID, reconcile.DecisionApplied); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.GetItem(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(reconcile.DecisionPending, got.Decision)

	session, err := s.store.GetSession(ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(3, session.PendingCount)
	s.Equal(0, session.AppliedCount)
}

func (s *ReconPostgresSuite) TestDecideUnknownItem() {
	ctx := context.Background()

	by := id.UserID(uuid.New())
	at := time.Now().UTC()
	ghost := s.newItem()
	ghost.ID = id.ItemID(uuid.New())
	ghost.Decision = reconcile.DecisionRejected
	ghost.DecidedBy = &by
	ghost.DecidedAt = &at

	err := s.store.Decide(ctx, ghost)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ReconPostgresSuite) TestShiftCountersGuard() {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.ShiftCounters(ctx, s.session.ID, reconcile.DecisionApplied))
	}

	// Pending is exhausted; a fourth shift must not drive it negative.
	err := s.store.ShiftCounters(ctx, s.session.ID, reconcile.DecisionApplied)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	session, err := s.store.GetSession(ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(0, session.PendingCount)
	s.Equal(3, session.AppliedCount)
	s.True(session.CountersConsistent())
}
