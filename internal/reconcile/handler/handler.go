// Package handler exposes the reconciliation engine over HTTP.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"redline/internal/platform/metrics"
	"redline/internal/platform/middleware"
	"redline/internal/reconcile"
	id "redline/pkg/domain"
	dErrors "redline/pkg/domain-errors"
	"redline/pkg/platform/httputil"
	"redline/pkg/requestcontext"
)

// maxUploadBytes bounds reconciliation uploads.
const maxUploadBytes = 20 << 20

// Service is the reconciliation surface the handler depends on.
type Service interface {
	Upload(ctx context.Context, workspaceID id.WorkspaceID, data []byte, fileName, fileKind string) (*reconcile.Session, error)
	Apply(ctx context.Context, itemID id.ItemID, reason string) (*reconcile.ApplyResult, error)
	Reject(ctx context.Context, itemID id.ItemID, reason string) (*reconcile.Item, error)
	GetSession(ctx context.Context, sessionID id.SessionID) (*reconcile.Session, []reconcile.Item, error)
}

// Handler handles reconciliation endpoints.
type Handler struct {
	logger    *slog.Logger
	recon     Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a reconciliation Handler.
func New(recon Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		recon:     recon,
		metrics:   m,
		validator: validator,
	}
}

// Register mounts the reconciliation routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(rr chi.Router) {
		rr.Use(middleware.Recovery(h.logger))
		rr.Use(middleware.RequestID)
		rr.Use(middleware.Logger(h.logger))
		rr.Use(middleware.Timeout(60 * time.Second))
		rr.Use(middleware.ContentTypeJSON)
		rr.Use(middleware.Latency(h.metrics))
		rr.Use(middleware.RequireAuth(h.validator, h.logger))

		rr.Post("/workspaces/{workspaceID}/reconciliations", h.handleUpload)
		rr.Get("/reconciliations/{sessionID}", h.handleGetSession)
		rr.Post("/reconciliation-items/{itemID}/apply", h.handleApply)
		rr.Post("/reconciliation-items/{itemID}/reject", h.handleReject)
	})
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

// Validate allows an absent reason; decisions record one when given.
func (req *decisionRequest) Validate() error {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Reason, validation.Length(0, 2000)),
	); err != nil {
		return dErrors.New(dErrors.CodeValidation, err.Error())
	}
	req.Reason = strings.TrimSpace(req.Reason)
	return nil
}

type sessionResponse struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	FileName      string    `json:"file_name"`
	FileKind      string    `json:"file_kind"`
	TotalItems    int       `json:"total_items"`
	AppliedCount  int       `json:"applied_count"`
	RejectedCount int       `json:"rejected_count"`
	PendingCount  int       `json:"pending_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type itemResponse struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	ClauseID       string     `json:"clause_id"`
	VariableID     *string    `json:"variable_id,omitempty"`
	Confidence     string     `json:"confidence"`
	BaselineValue  string     `json:"baseline_value"`
	CurrentValue   string     `json:"current_value"`
	ProposedValue  string     `json:"proposed_value"`
	Decision       string     `json:"decision"`
	DecidedBy      *string    `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecisionReason *string    `json:"decision_reason,omitempty"`
}

func toSessionResponse(s *reconcile.Session) sessionResponse {
	return sessionResponse{
		ID:            s.ID.String(),
		WorkspaceID:   s.WorkspaceID.String(),
		FileName:      s.FileName,
		FileKind:      string(s.FileKind),
		TotalItems:    s.TotalItems,
		AppliedCount:  s.AppliedCount,
		RejectedCount: s.RejectedCount,
		PendingCount:  s.PendingCount,
		CreatedAt:     s.CreatedAt,
	}
}

func toItemResponse(item *reconcile.Item) itemResponse {
	resp := itemResponse{
		ID:             item.ID.String(),
		SessionID:      item.SessionID.String(),
		ClauseID:       item.ClauseID.String(),
		Confidence:     string(item.Confidence),
		BaselineValue:  item.BaselineValue,
		CurrentValue:   item.CurrentValue,
		ProposedValue:  item.ProposedValue,
		Decision:       string(item.Decision),
		DecidedAt:      item.DecidedAt,
		DecisionReason: item.DecisionReason,
	}
	if item.VariableID != nil {
		v := item.VariableID.String()
		resp.VariableID = &v
	}
	if item.DecidedBy != nil {
		u := item.DecidedBy.String()
		resp.DecidedBy = &u
	}
	return resp
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	workspaceID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.logger.WarnContext(ctx, "invalid upload form",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "a file part is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "could not read uploaded file"))
		return
	}

	session, err := h.recon.Upload(ctx, workspaceID, data, header.Filename, r.FormValue("kind"))
	if err != nil {
		h.logger.WarnContext(ctx, "reconciliation upload failed",
			"request_id", requestID,
			"workspace_id", workspaceID.String(),
			"file_name", header.Filename,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, items, err := h.recon.GetSession(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	itemResponses := make([]itemResponse, 0, len(items))
	for i := range items {
		itemResponses = append(itemResponses, toItemResponse(&items[i]))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session": toSessionResponse(session),
		"items":   itemResponses,
	})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[decisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.recon.Apply(ctx, itemID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "reconciliation apply failed",
			"request_id", requestID,
			"item_id", itemID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"item":          toItemResponse(result.Item),
		"drift_created": result.DriftCreated,
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[decisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	item, err := h.recon.Reject(ctx, itemID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "reconciliation reject failed",
			"request_id", requestID,
			"item_id", itemID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toItemResponse(item))
}
