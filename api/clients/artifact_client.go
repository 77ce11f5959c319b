package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ruteri/artifact-repository-backend/api"
	"github.com/ruteri/artifact-repository-backend/deploy"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// ArtifactAPI is the client side of the repository HTTP API.
type ArtifactAPI interface {
	Deploy(ctx context.Context, repository, path string, content io.Reader, size int64) (*api.FileDetails, error)
	DeployCoordinate(ctx context.Context, repository, coordinate string, content io.Reader, size int64) (*api.FileDetails, error)
	Download(ctx context.Context, repository, path string) ([]byte, error)
	Details(ctx context.Context, repository, path string) (*api.FileDetails, error)
	List(ctx context.Context, repository, path string) (*api.DirectoryListing, error)
	Latest(ctx context.Context, repository, artifactPath string) (string, error)
	Repositories(ctx context.Context) ([]string, error)
}

// ResponseError is returned for non-2xx responses. It matches the storage
// error kinds with errors.Is, so callers can test for interfaces.ErrNotFound
// the same way on both sides of the API.
type ResponseError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *ResponseError) Is(target error) bool {
	switch target {
	case interfaces.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case interfaces.ErrInvalidPath:
		return e.StatusCode == http.StatusBadRequest
	case interfaces.ErrPolicyDenied:
		return e.StatusCode == http.StatusMethodNotAllowed
	case interfaces.ErrCapacityExceeded:
		return e.StatusCode == http.StatusInsufficientStorage
	case interfaces.ErrBackendFailure:
		return e.StatusCode == http.StatusInternalServerError
	}
	return false
}

// ArtifactClient talks to the repository server over HTTP. Token and Secret
// are the Basic credentials used for deploys and admin calls.
type ArtifactClient struct {
	// ServerAddr is the base URL of the repository server
	ServerAddr string

	Token  string
	Secret string

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

// Deploy uploads content to path inside repository. size may be -1 when unknown.
func (c *ArtifactClient) Deploy(ctx context.Context, repository, path string, content io.Reader, size int64) (*api.FileDetails, error) {
	return c.deploy(ctx, c.url(repository, path), content, size)
}

// DeployCoordinate uploads content to the location of a Maven coordinate,
// e.g. com.acme:lib:jar:sources:1.0.
func (c *ArtifactClient) DeployCoordinate(ctx context.Context, repository, coordinate string, content io.Reader, size int64) (*api.FileDetails, error) {
	return c.deploy(ctx, c.url(repository, "")+"?coordinate="+url.QueryEscape(coordinate), content, size)
}

func (c *ArtifactClient) deploy(ctx context.Context, target string, content io.Reader, size int64) (*api.FileDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, content)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	var details api.FileDetails
	if err := c.doJSON(req, true, &details); err != nil {
		return nil, fmt.Errorf("deploy failed: %w", err)
	}
	return &details, nil
}

// Download returns the content of a file. Index documents are generated by
// the server on demand.
func (c *ArtifactClient) Download(ctx context.Context, repository, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(repository, path), nil)
	if err != nil {
		return nil, err
	}
	return c.doRaw(req, false)
}

// Details describes a file or directory.
func (c *ArtifactClient) Details(ctx context.Context, repository, path string) (*api.FileDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("api/details/"+repository, path), nil)
	if err != nil {
		return nil, err
	}
	var details api.FileDetails
	if err := c.doJSON(req, false, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// List returns the entries of a directory.
func (c *ArtifactClient) List(ctx context.Context, repository, path string) (*api.DirectoryListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(repository, path), nil)
	if err != nil {
		return nil, err
	}
	var listing api.DirectoryListing
	if err := c.doJSON(req, false, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Latest returns the newest version under an artifact directory such as com/acme/lib.
func (c *ArtifactClient) Latest(ctx context.Context, repository, artifactPath string) (string, error) {
	data, err := c.Download(ctx, repository, strings.TrimSuffix(artifactPath, "/")+"/"+api.LatestFileName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Repositories lists the configured repositories.
func (c *ArtifactClient) Repositories(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("api/repositories", ""), nil)
	if err != nil {
		return nil, err
	}
	var resp api.RepositoriesResponse
	if err := c.doJSON(req, false, &resp); err != nil {
		return nil, err
	}
	return resp.Repositories, nil
}

// Status returns the admin status report. Requires an admin token.
func (c *ArtifactClient) Status(ctx context.Context) (*api.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("api/admin/status", ""), nil)
	if err != nil {
		return nil, err
	}
	var resp api.StatusResponse
	if err := c.doJSON(req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Audit returns up to limit recent deploys of a repository. Requires an admin token.
func (c *ArtifactClient) Audit(ctx context.Context, repository string, limit int) ([]deploy.AuditRecord, error) {
	target := c.url("api/admin/audit/"+repository, "")
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	var resp api.AuditResponse
	if err := c.doJSON(req, true, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// InvalidateMetadata drops the cached index documents of a directory.
// Requires an admin token.
func (c *ArtifactClient) InvalidateMetadata(ctx context.Context, repository, dir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("api/admin/metadata/"+repository, dir), nil)
	if err != nil {
		return err
	}
	_, err = c.doRaw(req, true)
	return err
}

func (c *ArtifactClient) url(prefix, path string) string {
	base := strings.TrimSuffix(c.ServerAddr, "/") + "/" + prefix
	if path == "" {
		return base + "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return base + "/" + strings.Join(segments, "/")
}

func (c *ArtifactClient) doJSON(req *http.Request, authenticate bool, out any) error {
	body, err := c.doRaw(req, authenticate)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}

func (c *ArtifactClient) doRaw(req *http.Request, authenticate bool) ([]byte, error) {
	if authenticate && c.Token != "" {
		req.SetBasicAuth(c.Token, c.Secret)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respErr := &ResponseError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			respErr.Kind = errResp.Kind
			respErr.Message = errResp.Error
		} else {
			respErr.Message = strings.TrimSpace(string(body))
		}
		return nil, respErr
	}
	return body, nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}

// MockArtifactAPI implements ArtifactAPI for testing.
type MockArtifactAPI struct {
	mock.Mock
}

func (m *MockArtifactAPI) Deploy(ctx context.Context, repository, path string, content io.Reader, size int64) (*api.FileDetails, error) {
	args := m.Called(ctx, repository, path, content, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.FileDetails), args.Error(1)
}

func (m *MockArtifactAPI) DeployCoordinate(ctx context.Context, repository, coordinate string, content io.Reader, size int64) (*api.FileDetails, error) {
	args := m.Called(ctx, repository, coordinate, content, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.FileDetails), args.Error(1)
}

func (m *MockArtifactAPI) Download(ctx context.Context, repository, path string) ([]byte, error) {
	args := m.Called(ctx, repository, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArtifactAPI) Details(ctx context.Context, repository, path string) (*api.FileDetails, error) {
	args := m.Called(ctx, repository, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.FileDetails), args.Error(1)
}

func (m *MockArtifactAPI) List(ctx context.Context, repository, path string) (*api.DirectoryListing, error) {
	args := m.Called(ctx, repository, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.DirectoryListing), args.Error(1)
}

func (m *MockArtifactAPI) Latest(ctx context.Context, repository, artifactPath string) (string, error) {
	args := m.Called(ctx, repository, artifactPath)
	return args.String(0), args.Error(1)
}

func (m *MockArtifactAPI) Repositories(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
