package httpserver

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/artifact-repository-backend/api"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/ruteri/artifact-repository-backend/metadata"
)

// Deployer runs the deploy workflow.
type Deployer interface {
	Deploy(ctx context.Context, req *interfaces.DeployRequest) (*interfaces.FileDetails, error)
}

// DocumentIndex serves derived index documents.
type DocumentIndex interface {
	Document(ctx context.Context, repository *interfaces.Repository, indexPath interfaces.StoragePath) ([]byte, *interfaces.FileDetails, error)
}

// HandlerOptions configures request limits.
type HandlerOptions struct {
	// MaxUploadBytes bounds deploy bodies; 0 means unlimited.
	MaxUploadBytes int64
	// PrecheckQuota rejects known-length uploads that do not fit the
	// repository quota before the deploy starts.
	PrecheckQuota bool
}

// Handler serves the repository API: deploys, downloads, directory listings
// and file details.
type Handler struct {
	deployer Deployer
	registry interfaces.RepositoryRegistry
	index    DocumentIndex
	auth     *Authenticator
	opts     HandlerOptions
	log      *slog.Logger
}

// NewHandler creates the repository API handler.
//
// Parameters:
//   - deployer: runs deploys, normally a *deploy.Service
//   - registry: resolves repository names for reads
//   - index: materializes maven-metadata.xml documents on read
//   - auth: guards the deploy routes
//   - opts: upload limits
//   - log: structured logger
func NewHandler(deployer Deployer, registry interfaces.RepositoryRegistry, index DocumentIndex, auth *Authenticator, opts HandlerOptions, log *slog.Logger) *Handler {
	return &Handler{
		deployer: deployer,
		registry: registry,
		index:    index,
		auth:     auth,
		opts:     opts,
		log:      log,
	}
}

// RegisterRoutes configures the router with the repository endpoints:
//   - GET /api/repositories - list repositories
//   - GET /api/details/{repository}/* - file details
//   - PUT|POST /{repository}/* - deploy (token required)
//   - GET|HEAD /{repository}/* - download or list
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/repositories", h.HandleRepositories)
	r.Get("/api/details/{repository}/*", h.HandleDetails)

	r.With(h.auth.RequireToken).Put("/{repository}/*", h.HandleDeploy)
	r.With(h.auth.RequireToken).Post("/{repository}/*", h.HandleDeploy)
	r.Get("/{repository}/*", h.HandleDownload)
	r.Head("/{repository}/*", h.HandleDownload)
}

// HandleDeploy stores the request body in the repository.
//
// URL format: PUT /{repository}/{path}, or PUT /{repository}/?coordinate=g:a[:ext[:classifier]]:v
//
// Response: JSON-encoded api.FileDetails of the stored file
//
// Status codes:
//   - 200 OK: artifact stored
//   - 400 Bad Request: invalid path or coordinate
//   - 404 Not Found: unknown repository
//   - 405 Method Not Allowed: deploys disabled for the repository
//   - 413 Request Entity Too Large: body exceeds the upload limit
//   - 507 Insufficient Storage: repository is full
//   - 500 Internal Server Error: storage failure
func (h *Handler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	repoName := chi.URLParam(r, "repository")

	coordinate, err := deployCoordinate(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if h.opts.MaxUploadBytes > 0 {
		if r.ContentLength > h.opts.MaxUploadBytes {
			writeError(w, h.log, &http.MaxBytesError{Limit: h.opts.MaxUploadBytes})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}

	if h.opts.PrecheckQuota && r.ContentLength >= 0 {
		if err := h.precheckQuota(r.Context(), repoName, r.ContentLength); err != nil {
			writeError(w, h.log, err)
			return
		}
	}

	details, err := h.deployer.Deploy(r.Context(), &interfaces.DeployRequest{
		Repository: repoName,
		Coordinate: coordinate,
		Content:    interfaces.StreamContent(r.Body, r.ContentLength),
		Principal:  Principal(r.Context()),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, h.log, http.StatusOK, api.FileDetailsFrom(details))
}

func deployCoordinate(r *http.Request) (interfaces.Coordinate, error) {
	if raw := r.URL.Query().Get("coordinate"); raw != "" {
		return interfaces.ParseCoordinate(raw)
	}
	file := chi.URLParam(r, "*")
	if file == "" {
		return interfaces.Coordinate{}, interfaces.InvalidPath("missing artifact path")
	}
	return interfaces.Coordinate{File: file}, nil
}

func (h *Handler) precheckQuota(ctx context.Context, repoName string, contentLength int64) error {
	repo, err := h.registry.Resolve(repoName)
	if err != nil {
		return err
	}
	fits, err := repo.Storage.CanHold(ctx, contentLength)
	if err != nil {
		return err
	}
	if !fits {
		return interfaces.CapacityExceeded("not enough storage space available")
	}
	return nil
}

// HandleDownload serves a file, an index document, a directory listing or the
// name of the newest version when the last segment is "latest".
//
// URL format: GET|HEAD /{repository}/{path}
//
// Status codes:
//   - 200 OK: content, JSON-encoded api.DirectoryListing or the latest version as text
//   - 400 Bad Request: invalid path
//   - 404 Not Found: unknown repository or path
//   - 500 Internal Server Error: storage failure
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repo, p, err := h.resolve(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if interfaces.IsIndexDocument(p) {
		data, details, err := h.index.Document(ctx, repo, p)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		h.writeFile(w, r, details, data)
		return
	}

	details, err := repo.Storage.GetFileDetails(ctx, p)
	if interfaces.KindOf(err) == interfaces.ErrNotFound && p.Name() == api.LatestFileName {
		h.writeLatest(w, r, repo, p.Parent())
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if details.IsDirectory() {
		h.writeListing(w, r, repo, p)
		return
	}

	var data []byte
	if r.Method != http.MethodHead {
		if data, err = repo.Storage.GetFile(ctx, p); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	h.writeFile(w, r, details, data)
}

// HandleDetails returns the details of a file or directory.
//
// URL format: GET /api/details/{repository}/{path}
//
// Response: JSON-encoded api.FileDetails
func (h *Handler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	repo, p, err := h.resolve(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	var details *interfaces.FileDetails
	if interfaces.IsIndexDocument(p) {
		_, details, err = h.index.Document(r.Context(), repo, p)
	} else {
		details, err = repo.Storage.GetFileDetails(r.Context(), p)
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, api.FileDetailsFrom(details))
}

// HandleRepositories lists the configured repositories.
//
// URL format: GET /api/repositories
//
// Response: JSON-encoded api.RepositoriesResponse
func (h *Handler) HandleRepositories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, api.RepositoriesResponse{Repositories: h.registry.Names()})
}

func (h *Handler) resolve(r *http.Request) (*interfaces.Repository, interfaces.StoragePath, error) {
	repo, err := h.registry.Resolve(chi.URLParam(r, "repository"))
	if err != nil {
		return nil, interfaces.StoragePath{}, err
	}
	p, err := interfaces.ParsePath(chi.URLParam(r, "*"))
	if err != nil {
		return nil, interfaces.StoragePath{}, err
	}
	return repo, p, nil
}

func (h *Handler) writeFile(w http.ResponseWriter, r *http.Request, details *interfaces.FileDetails, data []byte) {
	header := w.Header()
	header.Set("Content-Type", details.ContentType)
	header.Set("Content-Length", strconv.FormatInt(details.ContentLength, 10))
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": details.Name}))
	if !details.LastModified.IsZero() {
		header.Set("Last-Modified", details.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.log.Warn("Failed to write response", "err", err, slog.String("file", details.Name))
	}
}

func (h *Handler) writeListing(w http.ResponseWriter, r *http.Request, repo *interfaces.Repository, dir interfaces.StoragePath) {
	ctx := r.Context()
	entries, err := repo.Storage.ListFiles(ctx, dir)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	listing := api.DirectoryListing{Path: dir.String(), Files: []api.FileDetails{}}
	for _, child := range interfaces.ImmediateChildren(entries) {
		details, err := repo.Storage.GetFileDetails(ctx, dir.Resolve(child))
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		listing.Files = append(listing.Files, api.FileDetailsFrom(details))
	}
	writeJSON(w, h.log, http.StatusOK, listing)
}

func (h *Handler) writeLatest(w http.ResponseWriter, r *http.Request, repo *interfaces.Repository, dir interfaces.StoragePath) {
	version, err := metadata.LatestVersion(r.Context(), repo.Storage, dir)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", interfaces.MimePlain)
	w.Header().Set("Content-Length", strconv.Itoa(len(version)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte(version))
	}
}
