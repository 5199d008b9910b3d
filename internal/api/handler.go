// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
	"workspace-engine/internal/reconcile"
)

// WorkspaceReader resolves workspaces for read endpoints.
type WorkspaceReader interface {
	GetBySlug(ctx context.Context, slug string) (*model.Workspace, error)
}

// Lifecycle is the guard surface exposed over HTTP.
type Lifecycle interface {
	Suspend(ctx context.Context, slug string) (*model.Workspace, error)
	Resume(ctx context.Context, slug string) (*model.Workspace, error)
	Purge(ctx context.Context, slug string) (*model.Workspace, error)
}

// Monitors is the registry surface exposed over HTTP.
type Monitors interface {
	Add(ctx context.Context, w *model.Workspace, nameWithOwner string, deferSync bool) (*model.RepositoryMonitor, error)
	Remove(ctx context.Context, w *model.Workspace, nameWithOwner string, cleanupRepository bool) error
	ListByWorkspace(ctx context.Context, workspaceID int64) ([]model.RepositoryMonitor, error)
}

// Redirects resolves historical slugs.
type Redirects interface {
	ResolveRedirect(ctx context.Context, oldSlug string) (string, error)
}

// Activator triggers an on-demand activation pass.
type Activator interface {
	ActivateAll(ctx context.Context) error
}

// Reconciler merges installation webhook payloads into workspace state.
type Reconciler interface {
	Reconcile(ctx context.Context, inst reconcile.Installation) (*model.Workspace, error)
	HandleAccountRename(ctx context.Context, installationID int64, previousLogin, newLogin string) error
}

// Handler is the container for API dependencies.
type Handler struct {
	workspaces WorkspaceReader
	lifecycle  Lifecycle
	monitors   Monitors
	redirects  Redirects
	activator  Activator
	reconciler Reconciler
	logger     *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(workspaces WorkspaceReader, lifecycle Lifecycle, monitors Monitors,
	redirects Redirects, activator Activator, reconciler Reconciler, logger *slog.Logger) http.Handler {
	h := &Handler{
		workspaces: workspaces,
		lifecycle:  lifecycle,
		monitors:   monitors,
		redirects:  redirects,
		activator:  activator,
		reconciler: reconciler,
		logger:     logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/activate", h.activateAll)
		r.Post("/installations/reconcile", h.reconcileInstallation)
		r.Post("/installations/{id}/rename", h.renameInstallationAccount)
		r.Route("/workspaces/{slug}", func(r chi.Router) {
			r.Get("/", h.getWorkspace)
			r.Post("/suspend", h.transition(h.lifecycle.Suspend))
			r.Post("/resume", h.transition(h.lifecycle.Resume))
			r.Post("/purge", h.transition(h.lifecycle.Purge))
			r.Get("/repositories", h.listRepositories)
			r.Post("/repositories", h.addRepository)
			r.Delete("/repositories/{owner}/{name}", h.removeRepository)
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getWorkspace resolves a workspace by slug, following rename redirects.
// GET /v1/workspaces/{slug}
func (h *Handler) getWorkspace(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	ws, err := h.workspaces.GetBySlug(r.Context(), slug)
	if apperrors.IsNotFound(err) {
		target, rerr := h.redirects.ResolveRedirect(r.Context(), slug)
		if rerr == nil && target != "" {
			http.Redirect(w, r, "/v1/workspaces/"+target, http.StatusMovedPermanently)
			return
		}
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWorkspaceResponse(ws))
}

// transition wraps one lifecycle operation into a handler.
// POST /v1/workspaces/{slug}/suspend|resume|purge
func (h *Handler) transition(op func(ctx context.Context, slug string) (*model.Workspace, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := op(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			h.respondError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, toWorkspaceResponse(ws))
	}
}

// listRepositories returns the workspace's monitors with backfill state.
// GET /v1/workspaces/{slug}/repositories
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	monitors, err := h.monitors.ListByWorkspace(r.Context(), ws.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]monitorResponse, len(monitors))
	for i := range monitors {
		out[i] = toMonitorResponse(&monitors[i])
	}
	respondWithJSON(w, http.StatusOK, out)
}

// addRepository starts monitoring a repository.
// POST /v1/workspaces/{slug}/repositories {"nameWithOwner": "owner/name"}
func (h *Handler) addRepository(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	var body struct {
		NameWithOwner string `json:"nameWithOwner"`
		DeferSync     bool   `json:"deferSync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NameWithOwner == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must include nameWithOwner")
		return
	}

	m, err := h.monitors.Add(r.Context(), ws, body.NameWithOwner, body.DeferSync)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toMonitorResponse(m))
}

// removeRepository stops monitoring a repository.
// DELETE /v1/workspaces/{slug}/repositories/{owner}/{name}?cleanup=true
func (h *Handler) removeRepository(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	nameWithOwner := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
	cleanup, _ := strconv.ParseBool(r.URL.Query().Get("cleanup"))

	if err := h.monitors.Remove(r.Context(), ws, nameWithOwner, cleanup); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// activateAll schedules an activation pass for every eligible workspace.
// POST /v1/activate
func (h *Handler) activateAll(w http.ResponseWriter, r *http.Request) {
	if err := h.activator.ActivateAll(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "activation scheduled"})
}

// reconcileInstallation merges one installation observation into local state.
// POST /v1/installations/reconcile
func (h *Handler) reconcileInstallation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InstallationID      int64  `json:"installationId"`
		AccountID           *int64 `json:"accountId"`
		AccountLogin        string `json:"accountLogin"`
		AccountType         string `json:"accountType"`
		AvatarURL           string `json:"avatarUrl"`
		RepositorySelection string `json:"repositorySelection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InstallationID == 0 {
		respondWithError(w, http.StatusBadRequest, "Request body must include installationId")
		return
	}

	ws, err := h.reconciler.Reconcile(r.Context(), reconcile.Installation{
		ID:                  body.InstallationID,
		AccountID:           body.AccountID,
		AccountLogin:        body.AccountLogin,
		AccountType:         model.AccountType(body.AccountType),
		AvatarURL:           body.AvatarURL,
		RepositorySelection: body.RepositorySelection,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	if ws == nil {
		// Stale installation with no account data; nothing to do.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondWithJSON(w, http.StatusOK, toWorkspaceResponse(ws))
}

// renameInstallationAccount reacts to a provider-side account rename.
// POST /v1/installations/{id}/rename {"previousLogin": "...", "newLogin": "..."}
func (h *Handler) renameInstallationAccount(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid installation id")
		return
	}
	var body struct {
		PreviousLogin string `json:"previousLogin"`
		NewLogin      string `json:"newLogin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if err := h.reconciler.HandleAccountRename(r.Context(), installationID, body.PreviousLogin, body.NewLogin); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondError maps the error taxonomy onto HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsNotFound(err):
		respondWithError(w, http.StatusNotFound, err.Error())
	case apperrors.IsConflict(err):
		respondWithError(w, http.StatusConflict, err.Error())
	case apperrors.IsInvalidInput(err):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case apperrors.IsManagementNotAllowed(err):
		respondWithError(w, http.StatusForbidden, err.Error())
	case apperrors.IsIllegalState(err):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type workspaceResponse struct {
	Slug           string  `json:"slug"`
	DisplayName    string  `json:"displayName"`
	AccountLogin   string  `json:"accountLogin"`
	AccountType    string  `json:"accountType"`
	ProviderMode   string  `json:"providerMode"`
	InstallationID *int64  `json:"installationId,omitempty"`
	Status         string  `json:"status"`
	Public         bool    `json:"public"`
}

func toWorkspaceResponse(ws *model.Workspace) workspaceResponse {
	return workspaceResponse{
		Slug:           ws.Slug,
		DisplayName:    ws.DisplayName,
		AccountLogin:   ws.AccountLogin,
		AccountType:    string(ws.AccountType),
		ProviderMode:   string(ws.ProviderMode),
		InstallationID: ws.InstallationID,
		Status:         string(ws.Status),
		Public:         ws.Public,
	}
}

type monitorResponse struct {
	NameWithOwner     string     `json:"nameWithOwner"`
	IssuesPRsSyncedAt *time.Time `json:"issuesPrsSyncedAt,omitempty"`
	BackfillComplete  bool       `json:"backfillComplete"`
	BackfillRemaining int        `json:"backfillRemaining"`
}

func toMonitorResponse(m *model.RepositoryMonitor) monitorResponse {
	return monitorResponse{
		NameWithOwner:     m.NameWithOwner,
		IssuesPRsSyncedAt: m.IssuesPRsSyncedAt,
		BackfillComplete:  m.BackfillComplete(),
		BackfillRemaining: m.BackfillRemaining(),
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
