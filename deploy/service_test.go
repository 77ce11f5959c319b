package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/artifact-repository-backend/config"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/ruteri/artifact-repository-backend/metadata"
	"github.com/ruteri/artifact-repository-backend/registry"
	"github.com/ruteri/artifact-repository-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	records []AuditRecord
	err     error
}

func (s *recordingSink) Record(ctx context.Context, record AuditRecord) error {
	s.records = append(s.records, record)
	return s.err
}

type deployFixture struct {
	registry *registry.MockRegistry
	index    *metadata.MockMetadataIndex
	storage  *storage.MockStorageProvider
	audit    *recordingSink
	repo     *interfaces.Repository
	service  *Service
}

func newDeployFixture(deployEnabled bool) *deployFixture {
	f := &deployFixture{
		registry: new(registry.MockRegistry),
		index:    new(metadata.MockMetadataIndex),
		storage:  new(storage.MockStorageProvider),
		audit:    &recordingSink{},
	}
	f.repo = &interfaces.Repository{
		Name:    "releases",
		Policy:  interfaces.RepositoryPolicy{DeployEnabled: deployEnabled},
		Storage: f.storage,
	}
	f.service = NewService(f.registry, f.index, f.audit, testLogger)
	return f
}

func (f *deployFixture) assertExpectations(t *testing.T) {
	f.registry.AssertExpectations(t)
	f.index.AssertExpectations(t)
	f.storage.AssertExpectations(t)
}

func gav(t *testing.T, s string) interfaces.Coordinate {
	t.Helper()
	c, err := interfaces.ParseCoordinate(s)
	require.NoError(t, err)
	return c
}

func TestDeploy_Success(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	coordinate := gav(t, "com.acme:lib:1.0")
	target := interfaces.MustParsePath("com/acme/lib/1.0/lib-1.0.jar")
	content := interfaces.BytesContent([]byte("jar"))
	expected := interfaces.NewFileDetails("lib-1.0.jar", 3, time.Now())

	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(target, nil)
	f.index.On("Invalidate", ctx, "releases", interfaces.MustParsePath("com/acme/lib/1.0/maven-metadata.xml")).Return(nil).Once()
	f.index.On("Invalidate", ctx, "releases", interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")).Return(nil).Once()
	f.storage.On("PutFile", ctx, target, content).Return(expected, nil)

	details, err := f.service.Deploy(ctx, &interfaces.DeployRequest{
		Repository: "releases",
		Coordinate: coordinate,
		Content:    content,
		Principal:  "ci",
	})
	require.NoError(t, err)
	assert.Same(t, expected, details)

	require.Len(t, f.audit.records, 1)
	record := f.audit.records[0]
	assert.Equal(t, "releases", record.Repository)
	assert.Equal(t, target.String(), record.Path)
	assert.Equal(t, "ci", record.Principal)
	assert.Equal(t, int64(3), record.Size)
	f.assertExpectations(t)
}

func TestDeploy_UnknownRepository(t *testing.T) {
	f := newDeployFixture(true)
	f.registry.On("Resolve", "private").Return(nil, interfaces.NotFound("repository private not found"))

	_, err := f.service.Deploy(context.Background(), &interfaces.DeployRequest{Repository: "private"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	f.assertExpectations(t)
}

func TestDeploy_PolicyDeniedTouchesNoStorage(t *testing.T) {
	f := newDeployFixture(false)
	f.registry.On("Resolve", "releases").Return(f.repo, nil)

	_, err := f.service.Deploy(context.Background(), &interfaces.DeployRequest{
		Repository: "releases",
		Coordinate: gav(t, "com.acme:lib:1.0"),
		Content:    interfaces.BytesContent([]byte("jar")),
	})
	assert.ErrorIs(t, err, interfaces.ErrPolicyDenied)
	assert.Equal(t, "deploy disabled", interfaces.ReasonOf(err))

	f.storage.AssertNotCalled(t, "IsFull", mock.Anything)
	f.storage.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
	f.index.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.audit.records)
	f.assertExpectations(t)
}

func TestDeploy_FullBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(true, nil)

	_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{
		Repository: "releases",
		Coordinate: gav(t, "com.acme:lib:1.0"),
		Content:    interfaces.BytesContent([]byte("jar")),
	})
	assert.ErrorIs(t, err, interfaces.ErrCapacityExceeded)
	f.storage.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
	f.registry.AssertNotCalled(t, "ToStoragePath", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestDeploy_CapacityCheckErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported is not full", func(t *testing.T) {
		f := newDeployFixture(true)
		coordinate := gav(t, "com.acme:lib:1.0")
		target := interfaces.MustParsePath("com/acme/lib/1.0/lib-1.0.jar")
		f.registry.On("Resolve", "releases").Return(f.repo, nil)
		f.storage.On("IsFull", ctx).Return(false, errors.ErrUnsupported)
		f.registry.On("ToStoragePath", f.repo, coordinate).Return(target, nil)
		f.index.On("Invalidate", ctx, "releases", mock.Anything).Return(nil)
		f.storage.On("PutFile", ctx, target, mock.Anything).Return(interfaces.NewFileDetails("lib-1.0.jar", 3, time.Now()), nil)

		_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{Repository: "releases", Coordinate: coordinate})
		require.NoError(t, err)
	})

	t.Run("backend failure", func(t *testing.T) {
		f := newDeployFixture(true)
		f.registry.On("Resolve", "releases").Return(f.repo, nil)
		f.storage.On("IsFull", ctx).Return(false, errors.New("disk gone"))

		_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{Repository: "releases", Coordinate: gav(t, "com.acme:lib:1.0")})
		assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
		assert.NotContains(t, interfaces.ReasonOf(err), "disk gone")
	})
}

func TestDeploy_TraversalMakesNoBackendCall(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	coordinate := interfaces.Coordinate{File: "../../etc/passwd"}
	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(interfaces.StoragePath{}, interfaces.InvalidPath("path escapes the repository"))

	_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{Repository: "releases", Coordinate: coordinate})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPath)
	f.storage.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
	f.index.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestDeploy_IndexPathIsRebuiltNotStored(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	coordinate := interfaces.Coordinate{File: "com/acme/lib/maven-metadata.xml"}
	target := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")
	rebuilt := interfaces.NewFileDetails("maven-metadata.xml", 321, time.Now())

	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(target, nil)
	f.index.On("Invalidate", ctx, "releases", target).Return(nil)
	f.index.On("Invalidate", ctx, "releases", interfaces.MustParsePath("com/acme/maven-metadata.xml")).Return(nil)
	f.index.On("FetchOrRebuild", ctx, f.repo, target).Return(rebuilt, nil)

	details, err := f.service.Deploy(ctx, &interfaces.DeployRequest{
		Repository: "releases",
		Coordinate: coordinate,
		Content:    interfaces.BytesContent([]byte("<metadata>forged</metadata>")),
	})
	require.NoError(t, err)
	assert.Same(t, rebuilt, details)
	f.storage.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, f.audit.records, 1)
	f.assertExpectations(t)
}

func TestDeploy_UnknownIndexSiblingIsInvalidPath(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	coordinate := interfaces.Coordinate{File: "com/acme/lib/maven-metadata.xml.asc"}
	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(interfaces.MustParsePath("com/acme/lib/maven-metadata.xml.asc"), nil)

	_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{
		Repository: "releases",
		Coordinate: coordinate,
		Content:    interfaces.BytesContent([]byte("signature")),
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidPath)
	f.index.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything, mock.Anything)
	f.index.AssertNotCalled(t, "FetchOrRebuild", mock.Anything, mock.Anything, mock.Anything)
	f.storage.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.audit.records)
	f.assertExpectations(t)
}

func TestDeploy_PanicBecomesBackendFailure(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	coordinate := gav(t, "com.acme:lib:1.0")
	target := interfaces.MustParsePath("com/acme/lib/1.0/lib-1.0.jar")

	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(target, nil)
	f.index.On("Invalidate", ctx, "releases", mock.Anything).Return(nil)
	f.storage.On("PutFile", ctx, target, mock.Anything).Run(func(mock.Arguments) {
		panic("driver bug")
	})

	details, err := f.service.Deploy(ctx, &interfaces.DeployRequest{Repository: "releases", Coordinate: coordinate})
	assert.Nil(t, details)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	assert.Equal(t, FailureReason, interfaces.ReasonOf(err))
	assert.Empty(t, f.audit.records)
}

func TestDeploy_UnclassifiedErrorIsBackendFailure(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	coordinate := gav(t, "com.acme:lib:1.0")
	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(interfaces.MustParsePath("com/acme/lib/1.0/lib-1.0.jar"), nil)
	f.index.On("Invalidate", ctx, "releases", mock.Anything).Return(errors.New("redis down")).Once()

	_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{Repository: "releases", Coordinate: coordinate})
	var se *interfaces.StorageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	assert.Equal(t, FailureReason, se.Reason)
	f.storage.AssertNotCalled(t, "PutFile", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeploy_AuditFailureDoesNotFailDeploy(t *testing.T) {
	ctx := context.Background()
	f := newDeployFixture(true)
	f.audit.err = errors.New("database locked")
	coordinate := gav(t, "com.acme:lib:1.0")
	target := interfaces.MustParsePath("com/acme/lib/1.0/lib-1.0.jar")

	f.registry.On("Resolve", "releases").Return(f.repo, nil)
	f.storage.On("IsFull", ctx).Return(false, nil)
	f.registry.On("ToStoragePath", f.repo, coordinate).Return(target, nil)
	f.index.On("Invalidate", ctx, "releases", mock.Anything).Return(nil)
	f.storage.On("PutFile", ctx, target, mock.Anything).Return(interfaces.NewFileDetails("lib-1.0.jar", 3, time.Now()), nil)

	_, err := f.service.Deploy(ctx, &interfaces.DeployRequest{Repository: "releases", Coordinate: coordinate})
	require.NoError(t, err)
}

type recordingObserver struct {
	kinds []error
	sizes []int64
}

func (o *recordingObserver) RecordDeploy(repository string, kind error, size int64, duration time.Duration) {
	o.kinds = append(o.kinds, kind)
	o.sizes = append(o.sizes, size)
}

// Repository "releases" with a 1000 byte quota on the local backend: 200
// bytes fit, 900 more fill it, and anything after that is rejected.
func TestDeploy_QuotaScenario(t *testing.T) {
	ctx := context.Background()
	factory := storage.NewStorageProviderFactory(testLogger, nil)
	reg := registry.New(factory, testLogger)
	require.NoError(t, reg.Apply(ctx, map[string]config.RepositoryConfig{
		"releases": {Deploy: true, Quota: 1000, Storage: "file://" + t.TempDir()},
	}))

	cache, err := metadata.NewMemoryCache(16, time.Minute)
	require.NoError(t, err)
	observer := &recordingObserver{}
	service := NewService(reg, metadata.NewIndex(cache, testLogger), NewLogAuditSink(testLogger), testLogger).WithObserver(observer)

	deploy := func(coordinate string, size int) (*interfaces.FileDetails, error) {
		return service.Deploy(ctx, &interfaces.DeployRequest{
			Repository: "releases",
			Coordinate: gav(t, coordinate),
			Content:    interfaces.StreamContent(bytes.NewReader(make([]byte, size)), int64(size)),
			Principal:  "ci",
		})
	}

	details, err := deploy("com.acme:lib:1.0", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), details.ContentLength)

	repo, err := reg.Resolve("releases")
	require.NoError(t, err)
	usage, err := repo.Storage.UsageBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), usage)

	_, err = deploy("com.acme:lib:1.1", 900)
	require.NoError(t, err)

	full, err := repo.Storage.IsFull(ctx)
	require.NoError(t, err)
	assert.True(t, full)

	_, err = deploy("com.acme:lib:1.2", 1)
	assert.ErrorIs(t, err, interfaces.ErrCapacityExceeded)

	assert.Equal(t, []error{nil, nil, interfaces.ErrCapacityExceeded}, observer.kinds)
	assert.Equal(t, []int64{200, 900, 0}, observer.sizes)

	// Index rebuild requests pass the same capacity check
	_, err = deploy("com/acme/lib/maven-metadata.xml", 0)
	assert.ErrorIs(t, err, interfaces.ErrCapacityExceeded)
}

func TestDeploy_NilRequest(t *testing.T) {
	_, err := newDeployFixture(true).service.Deploy(context.Background(), nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidPath)
}
