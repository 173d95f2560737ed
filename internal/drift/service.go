package drift

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	driftmetrics "redline/internal/drift/metrics"
	"redline/internal/membership"
	"redline/internal/severity"
	"redline/internal/workspace"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
	audit "redline/pkg/platform/audit"
	"redline/pkg/platform/sentinel"
	"redline/pkg/platform/tx"
	"redline/pkg/requestcontext"
)

// Auditor records engine mutations. Inside a service transaction the
// emission shares the transaction, so a failed audit write fails the
// mutation.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// NodeFlagger lets the drift engine tell the graph layer that drift state
// changed for a workspace, without depending on the graph package.
type NodeFlagger interface {
	RefreshFlags(ctx context.Context, workspaceID id.WorkspaceID) error
}

// Service implements drift detection and the resolution lifecycle.
type Service struct {
	members    membership.Checker
	workspaces workspace.Store
	store      Store
	auditor    Auditor
	txRunner   tx.Runner
	flagger    NodeFlagger
	logger     *slog.Logger
	metrics    *driftmetrics.Metrics
}

// NewService creates a drift Service. flagger and metrics may be nil.
func NewService(
	members membership.Checker,
	workspaces workspace.Store,
	store Store,
	auditor Auditor,
	txRunner tx.Runner,
	flagger NodeFlagger,
	logger *slog.Logger,
	metrics *driftmetrics.Metrics,
) *Service {
	return &Service{
		members:    members,
		workspaces: workspaces,
		store:      store,
		auditor:    auditor,
		txRunner:   txRunner,
		flagger:    flagger,
		logger:     logger,
		metrics:    metrics,
	}
}

// Recompute runs a full drift pass over the workspace's variables in one
// transaction and returns the number of unresolved items afterwards.
//
// For each variable whose live value differs from a present baseline: if
// any terminal item already exists for the variable the divergence has been
// acknowledged and is skipped; an existing unresolved item is refreshed in
// place; otherwise a new item is created. Variables back in line with their
// baseline are left alone, their unresolved items (if any) untouched until
// someone resolves them.
func (s *Service) Recompute(ctx context.Context, workspaceID id.WorkspaceID) (int, error) {
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, workspaceID); err != nil {
		return 0, err
	}
	ws, err := s.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, translateStoreErr(err, "workspace")
	}

	started := time.Now()
	var unresolved int
	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		variables, err := s.workspaces.ListVariables(ctx, workspaceID)
		if err != nil {
			return translateStoreErr(err, "variables")
		}
		for i := range variables {
			v := &variables[i]
			if !v.Drifted() {
				continue
			}
			vid := v.ID
			if _, _, err := s.RecordDivergence(ctx, ws, v.ClauseID, &vid, v.Category, *v.BaselineValue, v.Value); err != nil {
				return err
			}
		}
		unresolved, err = s.store.CountUnresolved(ctx, workspaceID)
		if err != nil {
			return translateStoreErr(err, "drift items")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.ObserveRecompute(time.Since(started))
	s.refreshFlags(ctx, workspaceID)
	s.logger.InfoContext(ctx, "drift recompute complete",
		slog.String("workspace_id", workspaceID.String()),
		slog.Int("unresolved", unresolved))
	return unresolved, nil
}

// RecordDivergence registers one divergence between a baseline and an
// incoming value, reusing an unresolved item when one exists and honoring
// earlier acknowledgments. It runs in the caller's transaction and performs
// no membership check; the caller has already authorized the operation.
//
// variableID is nil for clause-level divergences, which have no variable to
// key on and are matched per clause instead. The second return reports
// whether a new item was created.
func (s *Service) RecordDivergence(
	ctx context.Context,
	ws *workspace.Workspace,
	clauseID id.ClauseID,
	variableID *id.VariableID,
	category workspace.Category,
	baselineValue, currentValue string,
) (*Item, bool, error) {
	actor := requestcontext.ActorID(ctx)
	if variableID != nil {
		existing, err := s.store.ListByVariable(ctx, ws.ID, *variableID)
		if err != nil {
			return nil, false, translateStoreErr(err, "drift items")
		}
		if hasTerminal(existing) {
			return nil, false, nil
		}
		if open := firstUnresolved(existing); open != nil {
			item, err := s.refreshItem(ctx, open, currentValue, category, actor)
			return item, false, err
		}
	} else {
		open, err := s.store.FindUnresolvedForClause(ctx, ws.ID, clauseID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, false, translateStoreErr(err, "drift items")
		}
		if open != nil {
			item, err := s.refreshItem(ctx, open, currentValue, category, actor)
			return item, false, err
		}
	}

	item := &Item{
		ID:                 id.DriftItemID(uuid.New()),
		WorkspaceID:        ws.ID,
		ClauseID:           clauseID,
		VariableID:         variableID,
		Category:           category,
		Severity:           severity.Classify(category, baselineValue, currentValue),
		Status:             StatusUnresolved,
		BaselineValue:      baselineValue,
		CurrentValue:       currentValue,
		BaselineApprovedAt: ws.BaselineTime(),
		DetectedAt:         requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, item); err != nil {
		return nil, false, translateStoreErr(err, "drift item")
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		Timestamp:   item.DetectedAt,
		WorkspaceID: ws.ID,
		ActorID:     actor,
		Action:      audit.ActionDriftDetected,
		TargetType:  audit.TargetDriftItem,
		TargetID:    item.ID.String(),
		After:       audit.Snapshot(item),
		RequestID:   requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, false, err
	}
	s.metrics.IncrementDetected(string(item.Severity))
	return item, true, nil
}

func (s *Service) refreshItem(ctx context.Context, item *Item, currentValue string, category workspace.Category, actor id.UserID) (*Item, error) {
	now := requestcontext.Now(ctx)
	sev := severity.Classify(category, item.BaselineValue, currentValue)
	if err := s.store.UpdateDetection(ctx, item.ID, currentValue, sev, now); err != nil {
		return nil, translateStoreErr(err, "drift item")
	}
	before := audit.Snapshot(item)
	updated := *item
	updated.CurrentValue = currentValue
	updated.Severity = sev
	updated.DetectedAt = now
	if err := s.auditor.Emit(ctx, audit.Event{
		Timestamp:   now,
		WorkspaceID: item.WorkspaceID,
		ActorID:     actor,
		Action:      audit.ActionDriftUpdated,
		TargetType:  audit.TargetDriftItem,
		TargetID:    item.ID.String(),
		Before:      before,
		After:       audit.Snapshot(&updated),
		RequestID:   requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}
	s.metrics.IncrementDetected(string(sev))
	return &updated, nil
}

// Override resolves the item by accepting the divergent value: the current
// value becomes the new baseline.
func (s *Service) Override(ctx context.Context, itemID id.DriftItemID, reason string) (*Item, error) {
	return s.resolve(ctx, itemID, reason, StatusOverridden)
}

// Revert resolves the item by restoring the baseline: the live value is set
// back to the baseline value.
func (s *Service) Revert(ctx context.Context, itemID id.DriftItemID, reason string) (*Item, error) {
	return s.resolve(ctx, itemID, reason, StatusReverted)
}

// Approve resolves the item by acknowledging the divergence as acceptable.
// Neither value changes; the variable keeps reporting a difference but no
// new drift item will be raised for it.
func (s *Service) Approve(ctx context.Context, itemID id.DriftItemID, reason string) (*Item, error) {
	return s.resolve(ctx, itemID, reason, StatusApproved)
}

func (s *Service) resolve(ctx context.Context, itemID id.DriftItemID, reason string, to Status) (*Item, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a resolution reason is required")
	}

	item, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, translateStoreErr(err, "drift item")
	}
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, item.WorkspaceID); err != nil {
		return nil, err
	}
	if item.Status != StatusUnresolved {
		return nil, dErrors.New(dErrors.CodeConflict, "drift item already "+string(item.Status))
	}

	now := requestcontext.Now(ctx)
	before := audit.Snapshot(item)
	updated := *item
	updated.Status = to
	updated.ResolvedBy = &actor
	updated.ResolvedAt = &now
	updated.ResolutionReason = &reason
	switch to {
	case StatusOverridden:
		updated.BaselineValue = item.CurrentValue
	case StatusReverted:
		updated.CurrentValue = item.BaselineValue
	}

	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Resolve(ctx, &updated); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrInvalidState):
				return dErrors.New(dErrors.CodeConflict, "drift item already resolved")
			case errors.Is(err, sentinel.ErrNotFound):
				return dErrors.New(dErrors.CodeNotFound, "drift item not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "resolve drift item")
		}
		if item.VariableID != nil {
			switch to {
			case StatusOverridden:
				if err := s.workspaces.UpdateVariableBaseline(ctx, *item.VariableID, item.CurrentValue, now); err != nil {
					return translateStoreErr(err, "variable")
				}
			case StatusReverted:
				if err := s.workspaces.UpdateVariableValue(ctx, *item.VariableID, item.BaselineValue, now); err != nil {
					return translateStoreErr(err, "variable")
				}
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Timestamp:   now,
			WorkspaceID: item.WorkspaceID,
			ActorID:     actor,
			Action:      resolutionAction(to),
			TargetType:  audit.TargetDriftItem,
			TargetID:    item.ID.String(),
			Before:      before,
			After:       audit.Snapshot(&updated),
			Reason:      reason,
			RequestID:   requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementResolution(string(to))
	s.refreshFlags(ctx, item.WorkspaceID)
	s.logger.InfoContext(ctx, "drift item resolved",
		slog.String("drift_item_id", item.ID.String()),
		slog.String("status", string(to)))
	return &updated, nil
}

// List returns the workspace's drift items, optionally filtered by status.
func (s *Service) List(ctx context.Context, workspaceID id.WorkspaceID, status *Status) ([]Item, error) {
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, workspaceID); err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, workspaceID, status)
	if err != nil {
		return nil, translateStoreErr(err, "drift items")
	}
	return items, nil
}

// UnresolvedHighCount returns the number of unresolved high severity items.
func (s *Service) UnresolvedHighCount(ctx context.Context, workspaceID id.WorkspaceID) (int, error) {
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, workspaceID); err != nil {
		return 0, err
	}
	n, err := s.store.CountUnresolvedBySeverity(ctx, workspaceID, severity.High)
	if err != nil {
		return 0, translateStoreErr(err, "drift items")
	}
	return n, nil
}

// PublishBlocked reports whether unresolved high severity drift blocks
// publication of the workspace.
func (s *Service) PublishBlocked(ctx context.Context, workspaceID id.WorkspaceID) (bool, error) {
	n, err := s.UnresolvedHighCount(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// refreshFlags is best effort: graph flags catch up on the next rebuild if
// the patch fails.
func (s *Service) refreshFlags(ctx context.Context, workspaceID id.WorkspaceID) {
	if s.flagger == nil {
		return
	}
	if err := s.flagger.RefreshFlags(ctx, workspaceID); err != nil {
		s.logger.WarnContext(ctx, "graph flag refresh failed",
			slog.String("workspace_id", workspaceID.String()),
			slog.String("error", err.Error()))
	}
}

func resolutionAction(to Status) audit.Action {
	switch to {
	case StatusOverridden:
		return audit.ActionDriftOverridden
	case StatusReverted:
		return audit.ActionDriftReverted
	default:
		return audit.ActionDriftApproved
	}
}

func hasTerminal(items []Item) bool {
	for i := range items {
		if items[i].Status.Terminal() {
			return true
		}
	}
	return false
}

func firstUnresolved(items []Item) *Item {
	for i := range items {
		if items[i].Status == StatusUnresolved {
			return &items[i]
		}
	}
	return nil
}

func translateStoreErr(err error, noun string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, noun+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "load "+noun)
}
