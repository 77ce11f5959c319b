package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/artifact-repository-backend/api"
	"github.com/ruteri/artifact-repository-backend/common"
	"github.com/ruteri/artifact-repository-backend/deploy"
	"github.com/ruteri/artifact-repository-backend/interfaces"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// AuditLog reads back deploy audit records.
type AuditLog interface {
	Recent(ctx context.Context, repository string, limit int) ([]deploy.AuditRecord, error)
}

// MetadataInvalidator drops cached index documents.
type MetadataInvalidator interface {
	Invalidate(ctx context.Context, repository string, indexPath interfaces.StoragePath) error
}

// AdminHandler serves operational endpoints for admin tokens: repository
// capacity, the deploy audit trail and manual metadata invalidation.
type AdminHandler struct {
	registry interfaces.RepositoryRegistry
	index    MetadataInvalidator
	audit    AuditLog
	log      *slog.Logger
	ready    func() bool
}

// NewAdminHandler creates the admin API handler. audit may be nil when deploy
// records are only logged.
func NewAdminHandler(registry interfaces.RepositoryRegistry, index MetadataInvalidator, audit AuditLog, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		index:    index,
		audit:    audit,
		log:      log,
		ready:    func() bool { return true },
	}
}

// AdminRouter returns the admin routes, to be mounted under /api/admin behind
// Authenticator.RequireAdmin:
//   - GET /status
//   - GET /audit/{repository}?limit=N
//   - POST /metadata/{repository}/*
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.handleStatus)
	r.Get("/audit/{repository}", h.handleAudit)
	r.Post("/metadata/{repository}/*", h.handleInvalidate)

	return r
}

// handleStatus reports policy, usage and capacity of every repository. A
// failing backend is reported in its entry and does not fail the request.
//
// Endpoint: GET /api/admin/status
func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := api.StatusResponse{
		Version:      common.Version,
		Ready:        h.ready(),
		Repositories: []api.RepositoryStatus{},
	}

	for _, name := range h.registry.Names() {
		repo, err := h.registry.Resolve(name)
		if err != nil {
			// Removed by a reload since Names
			continue
		}

		status := api.RepositoryStatus{
			Name:          repo.Name,
			DeployEnabled: repo.Policy.DeployEnabled,
			QuotaBytes:    repo.Policy.QuotaBytes,
			Storage:       repo.Storage.LocationURI(),
		}

		usage, err := repo.Storage.UsageBytes(ctx)
		switch {
		case errors.Is(err, errors.ErrUnsupported):
		case err != nil:
			status.Error = interfaces.ReasonOf(err)
		default:
			status.UsageBytes = &usage
		}

		full, err := repo.Storage.IsFull(ctx)
		if err != nil && !errors.Is(err, errors.ErrUnsupported) {
			status.Error = interfaces.ReasonOf(err)
		}
		status.Full = full

		resp.Repositories = append(resp.Repositories, status)
	}

	writeJSON(w, h.log, http.StatusOK, resp)
}

// handleAudit returns the most recent deploys of a repository.
//
// Endpoint: GET /api/admin/audit/{repository}?limit=N
func (h *AdminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, h.log, http.StatusNotImplemented, api.ErrorResponse{Error: "audit records are not persisted", Kind: "unsupported"})
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, h.log, http.StatusBadRequest, api.ErrorResponse{Error: "invalid limit", Kind: "invalid_request"})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	repoName := chi.URLParam(r, "repository")
	if _, err := h.registry.Resolve(repoName); err != nil {
		writeError(w, h.log, err)
		return
	}

	records, err := h.audit.Recent(r.Context(), repoName, limit)
	if err != nil {
		writeError(w, h.log, interfaces.BackendFailure(err, "failed to read audit records"))
		return
	}
	if records == nil {
		records = []deploy.AuditRecord{}
	}
	writeJSON(w, h.log, http.StatusOK, api.AuditResponse{Repository: repoName, Records: records})
}

// handleInvalidate drops the cached index documents of a directory, so the
// next read regenerates them from storage. The path may name the directory or
// its index document.
//
// Endpoint: POST /api/admin/metadata/{repository}/{path}
func (h *AdminHandler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	repo, err := h.registry.Resolve(chi.URLParam(r, "repository"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	p, err := interfaces.ParsePath(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	indexPath := p
	if !interfaces.IsIndexDocument(p) {
		if indexPath, err = p.Join(interfaces.IndexDocumentName); err != nil {
			writeError(w, h.log, err)
			return
		}
	}

	if err := h.index.Invalidate(r.Context(), repo.Name, indexPath); err != nil {
		writeError(w, h.log, err)
		return
	}

	h.log.Info("Metadata invalidated",
		slog.String("repository", repo.Name),
		slog.String("path", indexPath.String()),
		slog.String("principal", Principal(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}
