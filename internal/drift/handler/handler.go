// Package handler exposes the drift engine over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"redline/internal/drift"
	"redline/internal/platform/metrics"
	"redline/internal/platform/middleware"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
	"redline/pkg/platform/httputil"
	"redline/pkg/requestcontext"
)

// Service is the drift surface the handler depends on.
type Service interface {
	Recompute(ctx context.Context, workspaceID id.WorkspaceID) (int, error)
	Override(ctx context.Context, itemID id.DriftItemID, reason string) (*drift.Item, error)
	Revert(ctx context.Context, itemID id.DriftItemID, reason string) (*drift.Item, error)
	Approve(ctx context.Context, itemID id.DriftItemID, reason string) (*drift.Item, error)
	List(ctx context.Context, workspaceID id.WorkspaceID, status *drift.Status) ([]drift.Item, error)
	UnresolvedHighCount(ctx context.Context, workspaceID id.WorkspaceID) (int, error)
	PublishBlocked(ctx context.Context, workspaceID id.WorkspaceID) (bool, error)
}

// Handler handles drift endpoints.
type Handler struct {
	logger    *slog.Logger
	drift     Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a drift Handler.
func New(drift Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		drift:     drift,
		metrics:   m,
		validator: validator,
	}
}

// Register mounts the drift routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(dr chi.Router) {
		dr.Use(middleware.Recovery(h.logger))
		dr.Use(middleware.RequestID)
		dr.Use(middleware.Logger(h.logger))
		dr.Use(middleware.Timeout(30 * time.Second))
		dr.Use(middleware.ContentTypeJSON)
		dr.Use(middleware.Latency(h.metrics))
		dr.Use(middleware.RequireAuth(h.validator, h.logger))

		dr.Post("/workspaces/{workspaceID}/drift/recompute", h.handleRecompute)
		dr.Get("/workspaces/{workspaceID}/drift", h.handleList)
		dr.Get("/workspaces/{workspaceID}/publish-block", h.handlePublishGate)
		dr.Post("/drift/{itemID}/override", h.handleResolve(Service.Override))
		dr.Post("/drift/{itemID}/revert", h.handleResolve(Service.Revert))
		dr.Post("/drift/{itemID}/approve", h.handleResolve(Service.Approve))
	})
}

type resolveRequest struct {
	Reason string `json:"reason"`
}

func (req *resolveRequest) Validate() error {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Reason, validation.Required, validation.Length(1, 2000)),
	); err != nil {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return nil
}

type itemResponse struct {
	ID                 string     `json:"id"`
	WorkspaceID        string     `json:"workspace_id"`
	ClauseID           string     `json:"clause_id"`
	VariableID         *string    `json:"variable_id,omitempty"`
	Category           string     `json:"category"`
	Severity           string     `json:"severity"`
	Status             string     `json:"status"`
	BaselineValue      string     `json:"baseline_value"`
	CurrentValue       string     `json:"current_value"`
	BaselineApprovedAt time.Time  `json:"baseline_approved_at"`
	DetectedAt         time.Time  `json:"detected_at"`
	ResolvedBy         *string    `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolutionReason   *string    `json:"resolution_reason,omitempty"`
}

func toItemResponse(item *drift.Item) itemResponse {
	resp := itemResponse{
		ID:                 item.ID.String(),
		WorkspaceID:        item.WorkspaceID.String(),
		ClauseID:           item.ClauseID.String(),
		Category:           string(item.Category),
		Severity:           string(item.Severity),
		Status:             string(item.Status),
		BaselineValue:      item.BaselineValue,
		CurrentValue:       item.CurrentValue,
		BaselineApprovedAt: item.BaselineApprovedAt,
		DetectedAt:         item.DetectedAt,
		ResolvedAt:         item.ResolvedAt,
		ResolutionReason:   item.ResolutionReason,
	}
	if item.VariableID != nil {
		v := item.VariableID.String()
		resp.VariableID = &v
	}
	if item.ResolvedBy != nil {
		u := item.ResolvedBy.String()
		resp.ResolvedBy = &u
	}
	return resp
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	unresolved, err := h.drift.Recompute(ctx, workspaceID)
	if err != nil {
		h.logger.WarnContext(ctx, "drift recompute failed",
			"request_id", requestcontext.RequestID(ctx),
			"workspace_id", workspaceID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unresolved_count": unresolved})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var status *drift.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := drift.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		status = &parsed
	}

	items, err := h.drift.List(ctx, workspaceID, status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toItemResponse(&items[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": resp})
}

func (h *Handler) handlePublishGate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	high, err := h.drift.UnresolvedHighCount(ctx, workspaceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"blocked":         high > 0,
		"unresolved_high": high,
	})
}

// handleResolve builds a handler for one of the three resolution endpoints.
func (h *Handler) handleResolve(op func(Service, context.Context, id.DriftItemID, string) (*drift.Item, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)

		itemID, err := id.ParseDriftItemID(chi.URLParam(r, "itemID"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		req, ok := httputil.DecodeAndPrepare[resolveRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}

		item, err := op(h.drift, ctx, itemID, req.Reason)
		if err != nil {
			h.logger.WarnContext(ctx, "drift resolution failed",
				"request_id", requestID,
				"drift_item_id", itemID.String(),
				"error", err.Error(),
			)
			httputil.WriteError(w, err)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, toItemResponse(item))
	}
}
