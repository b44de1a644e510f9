// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/server/common"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/plan"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	svc    common.ProgressService
	router chi.Router
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs the HTTP API adapter over one progress service.
func NewHandler(svc common.ProgressService) *Handler {
	h := &Handler{svc: svc}
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{Code: common.CodeNotFound, Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, APIError{Code: "method_not_allowed", Message: "method not allowed"})
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.listProjects)
		r.Post("/", h.createProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", h.getProject)
			r.Patch("/", h.updateProject)
			r.Get("/progress", h.projectProgress)
			r.Get("/rollup", h.dependencyRollup)
			r.Get("/events", h.listEvents)
			r.Get("/order", h.dependencyOrder)
			r.Get("/items", h.listItems)
			r.Post("/items", h.createItem)
			r.Post("/plan", h.applyPlan)
		})
	})
	r.Route("/items/{itemID}", func(r chi.Router) {
		r.Get("/", h.getItem)
		r.Patch("/", h.updateItem)
		r.Delete("/", h.deleteItem)
		r.Put("/progress", h.updateProgress)
		r.Put("/weight", h.updateWeight)
		r.Put("/parent", h.reparent)
		r.Put("/override", h.setOverride)
		r.Get("/chain", h.dependencyChain)
		r.Post("/dependencies/{dependsOnID}", h.addDependency)
		r.Delete("/dependencies/{dependsOnID}", h.removeDependency)
	})
	h.router = r
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "progress service is not configured",
		})
		return
	}
	h.router.ServeHTTP(w, r)
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	projects, err := h.svc.ListProjects(r.Context(), includeArchived)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	project, err := h.svc.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.svc.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Archived    *bool  `json:"archived,omitempty"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	project, err := h.svc.UpdateProject(r.Context(), app.UpdateProjectInput{
		ProjectID:   chi.URLParam(r, "projectID"),
		Name:        req.Name,
		Description: req.Description,
		Archived:    req.Archived,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *Handler) projectProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.ProjectProgress(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) dependencyRollup(w http.ResponseWriter, r *http.Request) {
	rollup, err := h.svc.DependencyRollup(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorFrom(w, fmt.Errorf("%w: limit must be a non-negative integer", common.ErrInvalidRequest))
			return
		}
		limit = parsed
	}
	events, err := h.svc.ListProjectChangeEvents(r.Context(), chi.URLParam(r, "projectID"), limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) dependencyOrder(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.DependencyOrder(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListWorkItems(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req common.CreateWorkItemRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	in, err := req.Input(chi.URLParam(r, "projectID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	item, err := h.svc.CreateWorkItem(r.Context(), in)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// applyPlan serves POST `/projects/{projectID}/plan` with a YAML plan body.
func (h *Handler) applyPlan(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		writeErrorFrom(w, fmt.Errorf("read plan body: %w", errors.Join(common.ErrInvalidRequest, err)))
		return
	}
	p, err := plan.Parse(body)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.svc.ApplyPlan(r.Context(), chi.URLParam(r, "projectID"), p)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetWorkItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req common.UpdateWorkItemRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	in, err := req.Input(chi.URLParam(r, "itemID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	item, err := h.svc.UpdateWorkItemDetails(r.Context(), in)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	mode := app.DeleteMode(strings.TrimSpace(r.URL.Query().Get("mode")))
	removed, err := h.svc.DeleteWorkItem(r.Context(), chi.URLParam(r, "itemID"), mode)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) updateProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress *float64 `json:"progress"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if req.Progress == nil {
		writeErrorFrom(w, fmt.Errorf("%w: progress is required", common.ErrInvalidRequest))
		return
	}
	updated, err := h.svc.UpdateProgress(r.Context(), chi.URLParam(r, "itemID"), *req.Progress)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *Handler) updateWeight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Weight *float64 `json:"weight"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if req.Weight == nil {
		writeErrorFrom(w, fmt.Errorf("%w: weight is required", common.ErrInvalidRequest))
		return
	}
	updated, err := h.svc.UpdateWeight(r.Context(), chi.URLParam(r, "itemID"), *req.Weight)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *Handler) reparent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	item, err := h.svc.ReparentWorkItem(r.Context(), chi.URLParam(r, "itemID"), req.ParentID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Override string `json:"override"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	item, err := h.svc.SetOverride(r.Context(), chi.URLParam(r, "itemID"), domain.Override(req.Override))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) dependencyChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.svc.DependencyChain(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": chain})
}

func (h *Handler) addDependency(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.AddDependency(r.Context(), chi.URLParam(r, "itemID"), chi.URLParam(r, "dependsOnID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) removeDependency(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.RemoveDependency(r.Context(), chi.URLParam(r, "itemID"), chi.URLParam(r, "dependsOnID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// writeErrorFrom maps service errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	class := common.Classify(err)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	apiErr := APIError{Code: class.Code, Message: msg}
	if class.Code == common.CodeCircularDependency {
		apiErr.Hint = "Remove an edge on the reported path before adding this one."
	}
	writeJSONError(w, class.Status, apiErr)
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
