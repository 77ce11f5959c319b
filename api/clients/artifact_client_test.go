package clients

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/artifact-repository-backend/config"
	"github.com/ruteri/artifact-repository-backend/deploy"
	"github.com/ruteri/artifact-repository-backend/httpserver"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/ruteri/artifact-repository-backend/metadata"
	"github.com/ruteri/artifact-repository-backend/metrics"
	"github.com/ruteri/artifact-repository-backend/registry"
	"github.com/ruteri/artifact-repository-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	reg := registry.New(storage.NewStorageProviderFactory(testLogger, nil), testLogger)
	require.NoError(t, reg.Apply(ctx, map[string]config.RepositoryConfig{
		"releases":  {Deploy: true, Storage: "file://" + t.TempDir()},
		"snapshots": {Deploy: false, Storage: "file://" + t.TempDir()},
	}))

	cache, err := metadata.NewMemoryCache(64, time.Minute)
	require.NoError(t, err)
	index := metadata.NewIndex(cache, testLogger)

	audit, err := deploy.NewSQLiteAuditSink(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := httpserver.NewAuthenticator([]config.TokenConfig{{Name: "ci", SecretHash: string(hash), Admin: true}}, testLogger)

	metricsSrv, err := metrics.New("clients_test", "")
	require.NoError(t, err)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{Log: testLogger}, metricsSrv,
		httpserver.NewHandler(deploy.NewService(reg, index, audit, testLogger), reg, index, auth, httpserver.HandlerOptions{}, testLogger),
		httpserver.NewAdminHandler(reg, index, audit, testLogger))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestArtifactClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	client := &ArtifactClient{ServerAddr: ts.URL, Token: "ci", Secret: "secret"}

	details, err := client.Deploy(ctx, "releases", "com/acme/lib/1.0/lib-1.0.jar", bytes.NewReader([]byte("jar")), 3)
	require.NoError(t, err)
	assert.Equal(t, "lib-1.0.jar", details.Name)
	assert.Equal(t, int64(3), details.ContentLength)

	details, err = client.DeployCoordinate(ctx, "releases", "com.acme:lib:1.1", bytes.NewReader([]byte("jar 1.1")), -1)
	require.NoError(t, err)
	assert.Equal(t, "lib-1.1.jar", details.Name)

	data, err := client.Download(ctx, "releases", "com/acme/lib/1.0/lib-1.0.jar")
	require.NoError(t, err)
	assert.Equal(t, []byte("jar"), data)

	details, err = client.Details(ctx, "releases", "com/acme/lib/1.1/lib-1.1.jar")
	require.NoError(t, err)
	assert.False(t, details.IsDirectory())
	date, err := details.Time()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), date, 48*time.Hour)

	listing, err := client.List(ctx, "releases", "com/acme/lib")
	require.NoError(t, err)
	require.Len(t, listing.Files, 2)

	latest, err := client.Latest(ctx, "releases", "com/acme/lib/")
	require.NoError(t, err)
	assert.Equal(t, "1.1", latest)

	xmlDoc, err := client.Download(ctx, "releases", "com/acme/lib/maven-metadata.xml")
	require.NoError(t, err)
	assert.Contains(t, string(xmlDoc), "<release>1.1</release>")

	repositories, err := client.Repositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"releases", "snapshots"}, repositories)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Repositories, 2)

	records, err := client.Audit(ctx, "releases", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ci", records[0].Principal)

	require.NoError(t, client.InvalidateMetadata(ctx, "releases", "com/acme/lib"))
}

func TestArtifactClient_Errors(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	client := &ArtifactClient{ServerAddr: ts.URL, Token: "ci", Secret: "secret"}

	_, err := client.Download(ctx, "releases", "com/acme/missing.jar")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.True(t, IsNotFound(err))

	_, err = client.Deploy(ctx, "snapshots", "a.jar", bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, interfaces.ErrPolicyDenied)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "policy_denied", respErr.Kind)
	assert.Equal(t, "deploy disabled", respErr.Message)

	_, err = client.Deploy(ctx, "releases", "com/../../a.jar", bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, interfaces.ErrInvalidPath)

	anonymous := &ArtifactClient{ServerAddr: ts.URL}
	_, err = anonymous.Deploy(ctx, "releases", "a.jar", bytes.NewReader([]byte("x")), 1)
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusUnauthorized, respErr.StatusCode)
}

func TestMockArtifactAPI(t *testing.T) {
	ctx := context.Background()
	m := new(MockArtifactAPI)
	m.On("Latest", ctx, "releases", "com/acme/lib").Return("2.0", nil)
	m.On("Details", ctx, "releases", "missing").Return(nil, interfaces.NotFound("missing"))
	m.On("Repositories", ctx).Return([]string{"releases"}, nil)

	var client ArtifactAPI = m
	latest, err := client.Latest(ctx, "releases", "com/acme/lib")
	require.NoError(t, err)
	assert.Equal(t, "2.0", latest)

	_, err = client.Details(ctx, "releases", "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	repositories, err := client.Repositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"releases"}, repositories)

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "Deploy", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

var _ ArtifactAPI = (*ArtifactClient)(nil)
