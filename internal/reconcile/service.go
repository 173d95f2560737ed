package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"redline/internal/drift"
	"redline/internal/membership"
	reconmetrics "redline/internal/reconcile/metrics"
	"redline/internal/reconcile/ports"
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

// DriftRecorder is the drift engine surface the reconciliation engine uses
// to register divergences created by applying suggestions. The call runs in
// the apply transaction.
type DriftRecorder interface {
	RecordDivergence(ctx context.Context, ws *workspace.Workspace, clauseID id.ClauseID, variableID *id.VariableID, category workspace.Category, baselineValue, currentValue string) (*drift.Item, bool, error)
}

// GraphPatcher lets apply flag graph nodes without a full rebuild.
type GraphPatcher interface {
	RefreshFlags(ctx context.Context, workspaceID id.WorkspaceID) error
}

// Service implements the reconciliation engine.
type Service struct {
	members    membership.Checker
	workspaces workspace.Store
	store      Store
	driftRec   DriftRecorder
	patcher    GraphPatcher
	extractor  ports.Extractor
	proposer   ports.Proposer
	auditor    Auditor
	txRunner   tx.Runner
	logger     *slog.Logger
	metrics    *reconmetrics.Metrics
}

// NewService creates a reconciliation Service. patcher and metrics may be
// nil.
func NewService(
	members membership.Checker,
	workspaces workspace.Store,
	store Store,
	driftRec DriftRecorder,
	patcher GraphPatcher,
	extractor ports.Extractor,
	proposer ports.Proposer,
	auditor Auditor,
	txRunner tx.Runner,
	logger *slog.Logger,
	metrics *reconmetrics.Metrics,
) *Service {
	return &Service{
		members:    members,
		workspaces: workspaces,
		store:      store,
		driftRec:   driftRec,
		patcher:    patcher,
		extractor:  extractor,
		proposer:   proposer,
		auditor:    auditor,
		txRunner:   txRunner,
		logger:     logger,
		metrics:    metrics,
	}
}

// Apply accepts one pending suggestion: the item is marked applied, the
// target variable (if any) takes the proposed value, and any divergence
// from the effective baseline is recorded as drift. One transaction covers
// the decision, the counter move, the value write, the drift upsert, and
// the audit event.
func (s *Service) Apply(ctx context.Context, itemID id.ItemID, reason string) (*ApplyResult, error) {
	item, ws, err := s.loadForDecision(ctx, itemID)
	if err != nil {
		return nil, err
	}
	actor := requestcontext.ActorID(ctx)
	now := requestcontext.Now(ctx)

	decided := *item
	decided.Decision = DecisionApplied
	decided.DecidedBy = &actor
	decided.DecidedAt = &now
	if reason != "" {
		decided.DecisionReason = &reason
	}

	var driftCreated bool
	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.decide(ctx, &decided); err != nil {
			return err
		}

		// Effective baseline: the variable's baseline when it has one,
		// else the variable's value before this apply, else whatever the
		// item recorded at upload.
		effBaseline := item.BaselineValue
		category := workspace.CategoryGeneral
		if item.VariableID != nil {
			v, err := s.workspaces.GetVariable(ctx, *item.VariableID)
			if err != nil {
				return translateStoreErr(err, "variable")
			}
			category = v.Category
			if v.BaselineValue != nil {
				effBaseline = *v.BaselineValue
			} else if v.Value != "" {
				effBaseline = v.Value
			}
			if err := s.workspaces.UpdateVariableValue(ctx, v.ID, item.ProposedValue, now); err != nil {
				return translateStoreErr(err, "variable")
			}
		} else {
			category = s.clauseCategory(ctx, item.WorkspaceID, item.ClauseID)
		}

		if effBaseline != item.ProposedValue {
			_, created, err := s.driftRec.RecordDivergence(ctx, ws, item.ClauseID, item.VariableID, category, effBaseline, item.ProposedValue)
			if err != nil {
				return err
			}
			driftCreated = created
		}

		return s.auditor.Emit(ctx, audit.Event{
			Timestamp:   now,
			WorkspaceID: item.WorkspaceID,
			ActorID:     actor,
			Action:      audit.ActionReconApplied,
			TargetType:  audit.TargetReconItem,
			TargetID:    item.ID.String(),
			Before:      audit.Snapshot(item),
			After:       audit.Snapshot(&decided),
			Reason:      reason,
			RequestID:   requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementDecision(string(DecisionApplied))
	s.patchGraph(ctx, item.WorkspaceID)
	s.logger.InfoContext(ctx, "reconciliation item applied",
		slog.String("item_id", item.ID.String()),
		slog.Bool("drift_created", driftCreated))
	return &ApplyResult{Item: &decided, DriftCreated: driftCreated}, nil
}

// Reject declines one pending suggestion. No value or drift state moves;
// only the decision, the counters, and the audit trail.
func (s *Service) Reject(ctx context.Context, itemID id.ItemID, reason string) (*Item, error) {
	item, _, err := s.loadForDecision(ctx, itemID)
	if err != nil {
		return nil, err
	}
	actor := requestcontext.ActorID(ctx)
	now := requestcontext.Now(ctx)

	decided := *item
	decided.Decision = DecisionRejected
	decided.DecidedBy = &actor
	decided.DecidedAt = &now
	if reason != "" {
		decided.DecisionReason = &reason
	}

	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.decide(ctx, &decided); err != nil {
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			Timestamp:   now,
			WorkspaceID: item.WorkspaceID,
			ActorID:     actor,
			Action:      audit.ActionReconRejected,
			TargetType:  audit.TargetReconItem,
			TargetID:    item.ID.String(),
			Before:      audit.Snapshot(item),
			After:       audit.Snapshot(&decided),
			Reason:      reason,
			RequestID:   requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementDecision(string(DecisionRejected))
	s.logger.InfoContext(ctx, "reconciliation item rejected",
		slog.String("item_id", item.ID.String()))
	return &decided, nil
}

// Upload takes an external document, extracts and parses it, validates
// every suggestion's references against the workspace, and creates the
// session with its items in one transaction.
func (s *Service) Upload(ctx context.Context, workspaceID id.WorkspaceID, data []byte, fileName, fileKind string) (*Session, error) {
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, workspaceID); err != nil {
		return nil, err
	}
	if _, err := s.workspaces.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, translateStoreErr(err, "workspace")
	}
	kind, err := ParseFileKind(fileKind)
	if err != nil {
		return nil, err
	}

	text, err := s.extractor.Extract(ctx, data, string(kind))
	if err != nil {
		s.metrics.IncrementUpload("file_parse_error")
		return nil, dErrors.Wrap(err, dErrors.CodeFileParse, "could not extract text from "+fileName)
	}

	clauses, err := s.workspaces.ListClauses(ctx, workspaceID)
	if err != nil {
		return nil, translateStoreErr(err, "clauses")
	}
	if len(clauses) == 0 {
		s.metrics.IncrementUpload("no_clauses")
		return nil, dErrors.New(dErrors.CodeValidation, "workspace has no clauses to reconcile against")
	}
	variables, err := s.workspaces.ListVariables(ctx, workspaceID)
	if err != nil {
		return nil, translateStoreErr(err, "variables")
	}

	suggestions, err := s.proposer.Propose(ctx, clauses, variables, text)
	if err != nil {
		s.metrics.IncrementUpload("ai_parse_error")
		return nil, dErrors.Wrap(err, dErrors.CodeAIParse, "could not parse suggestions from "+fileName)
	}

	now := requestcontext.Now(ctx)
	session := &Session{
		ID:          id.SessionID(uuid.New()),
		WorkspaceID: workspaceID,
		FileName:    fileName,
		FileKind:    kind,
		UploadedBy:  actor,
		CreatedAt:   now,
	}
	items, discarded := s.buildItems(ctx, session, clauses, variables, suggestions, now)
	session.TotalItems = len(items)
	session.PendingCount = len(items)
	s.metrics.AddDiscarded(discarded)

	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateSession(ctx, session); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "create session")
		}
		for i := range items {
			if err := s.store.CreateItem(ctx, &items[i]); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "create item")
			}
		}
		return s.auditor.Emit(ctx, audit.Event{
			Timestamp:   now,
			WorkspaceID: workspaceID,
			ActorID:     actor,
			Action:      audit.ActionReconUploaded,
			TargetType:  audit.TargetReconUpload,
			TargetID:    session.ID.String(),
			After:       audit.Snapshot(session),
			RequestID:   requestcontext.RequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementUpload("ok")
	s.logger.InfoContext(ctx, "reconciliation upload complete",
		slog.String("session_id", session.ID.String()),
		slog.String("file_name", fileName),
		slog.Int("items", session.TotalItems),
		slog.Int("discarded", discarded))
	return session, nil
}

// GetSession returns a session with its items.
func (s *Service) GetSession(ctx context.Context, sessionID id.SessionID) (*Session, []Item, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, translateStoreErr(err, "session")
	}
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, session.WorkspaceID); err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListItems(ctx, sessionID)
	if err != nil {
		return nil, nil, translateStoreErr(err, "items")
	}
	return session, items, nil
}

// buildItems validates parser suggestions against the workspace and turns
// the survivors into pending items. Suggestions referencing unknown records
// are discarded, never trusted.
func (s *Service) buildItems(ctx context.Context, session *Session, clauses []workspace.Clause, variables []workspace.Variable, suggestions []ports.Suggestion, now time.Time) ([]Item, int) {
	clauseSet := make(map[id.ClauseID]bool, len(clauses))
	for _, c := range clauses {
		clauseSet[c.ID] = true
	}
	variableByID := make(map[id.VariableID]*workspace.Variable, len(variables))
	for i := range variables {
		variableByID[variables[i].ID] = &variables[i]
	}

	var items []Item
	var discarded int
	for _, sg := range suggestions {
		clauseID, err := id.ParseClauseID(sg.ClauseID)
		if err != nil || !clauseSet[clauseID] {
			discarded++
			s.logger.WarnContext(ctx, "discarding suggestion with unknown clause",
				slog.String("clause_id", sg.ClauseID))
			continue
		}

		item := Item{
			ID:            id.ItemID(uuid.New()),
			SessionID:     session.ID,
			WorkspaceID:   session.WorkspaceID,
			ClauseID:      clauseID,
			Confidence:    ParseConfidence(sg.Confidence),
			BaselineValue: sg.BaselineValue,
			ProposedValue: sg.ProposedValue,
			Decision:      DecisionPending,
			CreatedAt:     now,
		}
		if sg.VariableID != "" {
			variableID, err := id.ParseVariableID(sg.VariableID)
			v, ok := variableByID[variableID]
			if err != nil || !ok {
				discarded++
				s.logger.WarnContext(ctx, "discarding suggestion with unknown variable",
					slog.String("variable_id", sg.VariableID))
				continue
			}
			item.VariableID = &variableID
			item.CurrentValue = v.Value
			if v.BaselineValue != nil {
				item.BaselineValue = *v.BaselineValue
			}
		}
		items = append(items, item)
	}
	return items, discarded
}

// loadForDecision fetches the item and enforces the decision preconditions
// shared by Apply and Reject.
func (s *Service) loadForDecision(ctx context.Context, itemID id.ItemID) (*Item, *workspace.Workspace, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, translateStoreErr(err, "reconciliation item")
	}
	actor := requestcontext.ActorID(ctx)
	if err := s.members.Require(ctx, actor, item.WorkspaceID); err != nil {
		return nil, nil, err
	}
	if item.Decision != DecisionPending {
		return nil, nil, dErrors.New(dErrors.CodeConflict, "reconciliation item already "+string(item.Decision))
	}
	ws, err := s.workspaces.GetWorkspace(ctx, item.WorkspaceID)
	if err != nil {
		return nil, nil, translateStoreErr(err, "workspace")
	}
	return item, ws, nil
}

// decide performs the guarded transition plus the counter move.
func (s *Service) decide(ctx context.Context, decided *Item) error {
	if err := s.store.Decide(ctx, decided); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeConflict, "reconciliation item already decided")
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "reconciliation item not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "decide item")
	}
	if err := s.store.ShiftCounters(ctx, decided.SessionID, decided.Decision); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "shift session counters")
	}
	return nil
}

func (s *Service) clauseCategory(ctx context.Context, workspaceID id.WorkspaceID, clauseID id.ClauseID) workspace.Category {
	clauses, err := s.workspaces.ListClauses(ctx, workspaceID)
	if err != nil {
		return workspace.CategoryGeneral
	}
	for _, c := range clauses {
		if c.ID == clauseID {
			return c.Category
		}
	}
	return workspace.CategoryGeneral
}

// patchGraph is best effort: a failed flag patch is caught up by the next
// rebuild.
func (s *Service) patchGraph(ctx context.Context, workspaceID id.WorkspaceID) {
	if s.patcher == nil {
		return
	}
	if err := s.patcher.RefreshFlags(ctx, workspaceID); err != nil {
		s.logger.WarnContext(ctx, "graph flag patch failed",
			slog.String("workspace_id", workspaceID.String()),
			slog.String("error", err.Error()))
	}
}

func translateStoreErr(err error, noun string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, noun+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "load "+noun)
}
