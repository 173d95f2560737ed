// Package handler exposes the graph over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"redline/internal/graph"
	"redline/internal/platform/metrics"
	"redline/internal/platform/middleware"
	id "redline/pkg/domain"
	"redline/pkg/platform/httputil"
	"redline/pkg/requestcontext"
)

// Service is the graph surface the handler depends on.
type Service interface {
	Rebuild(ctx context.Context, workspaceID id.WorkspaceID) (*graph.Summary, error)
	Get(ctx context.Context, workspaceID id.WorkspaceID) (*graph.Snapshot, error)
}

// Handler handles graph endpoints.
type Handler struct {
	logger    *slog.Logger
	graph     Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a graph Handler.
func New(graph Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		graph:     graph,
		metrics:   m,
		validator: validator,
	}
}

// Register mounts the graph routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Recovery(h.logger))
		gr.Use(middleware.RequestID)
		gr.Use(middleware.Logger(h.logger))
		gr.Use(middleware.Timeout(30 * time.Second))
		gr.Use(middleware.ContentTypeJSON)
		gr.Use(middleware.Latency(h.metrics))
		gr.Use(middleware.RequireAuth(h.validator, h.logger))

		gr.Post("/workspaces/{workspaceID}/graph/rebuild", h.handleRebuild)
		gr.Get("/workspaces/{workspaceID}/graph", h.handleGet)
	})
}

type nodeResponse struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Label        string `json:"label"`
	DisplayValue string `json:"display_value,omitempty"`
	HasDrift     bool   `json:"has_drift"`
	HasWarning   bool   `json:"has_warning"`
}

type edgeResponse struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

type snapshotResponse struct {
	Nodes          []nodeResponse `json:"nodes"`
	Edges          []edgeResponse `json:"edges"`
	IntegrityScore int            `json:"integrity_score"`
	ComputedAt     time.Time      `json:"computed_at"`
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	summary, err := h.graph.Rebuild(ctx, workspaceID)
	if err != nil {
		h.logger.WarnContext(ctx, "graph rebuild failed",
			"request_id", requestcontext.RequestID(ctx),
			"workspace_id", workspaceID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := id.ParseWorkspaceID(chi.URLParam(r, "workspaceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	snapshot, err := h.graph.Get(ctx, workspaceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := snapshotResponse{
		Nodes:          make([]nodeResponse, 0, len(snapshot.Nodes)),
		Edges:          make([]edgeResponse, 0, len(snapshot.Edges)),
		IntegrityScore: snapshot.State.IntegrityScore,
		ComputedAt:     snapshot.State.ComputedAt,
	}
	for i := range snapshot.Nodes {
		n := &snapshot.Nodes[i]
		resp.Nodes = append(resp.Nodes, nodeResponse{
			ID:           string(n.NodeID),
			Type:         string(n.Type),
			Label:        n.Label,
			DisplayValue: n.DisplayValue,
			HasDrift:     n.HasDrift,
			HasWarning:   n.HasWarning,
		})
	}
	for i := range snapshot.Edges {
		e := &snapshot.Edges[i]
		resp.Edges = append(resp.Edges, edgeResponse{
			Source: string(e.SourceID),
			Target: string(e.TargetID),
			Weight: e.Weight,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
