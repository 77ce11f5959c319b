package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryObjectStore is an in-memory ObjectStore for tests.
type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	// failWith makes every call fail with the given error.
	failWith error
	// reportedSize overrides the size Get reports, to simulate truncated bodies.
	reportedSize map[string]int64
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{
		objects:      make(map[string][]byte),
		reportedSize: make(map[string]int64),
	}
}

var testModTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func (s *memoryObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64) (ObjectInfo, error) {
	if s.failWith != nil {
		return ObjectInfo{}, s.failWith
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return ObjectInfo{Key: key, Size: int64(len(data)), LastModified: testModTime}, nil
}

func (s *memoryObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if size, ok := s.reportedSize[key]; ok {
		info.Size = size
	}
	return io.NopCloser(bytes.NewReader(s.objects[key])), info, nil
}

func (s *memoryObjectStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if s.failWith != nil {
		return ObjectInfo{}, s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data)), LastModified: testModTime}, nil
}

func (s *memoryObjectStore) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	objects := make([]ObjectInfo, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, ObjectInfo{Key: key, Size: int64(len(s.objects[key])), LastModified: testModTime})
	}
	return objects, nil
}

func (s *memoryObjectStore) Delete(ctx context.Context, key string) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryObjectStore) Bucket() string {
	return "test-bucket"
}

func newTestRemoteProvider(prefix string) (*RemoteProvider, *memoryObjectStore) {
	store := newMemoryObjectStore()
	return NewRemoteProvider(store, prefix, "s3://test-bucket/"+prefix, slog.Default()), store
}

func TestRemoteProvider_RoundTrip(t *testing.T) {
	ctx := context.Background()
	provider, store := newTestRemoteProvider("releases")
	p := interfaces.MustParsePath("com/acme/lib/1.0/lib-1.0.pom")

	details, err := provider.PutFile(ctx, p, interfaces.BytesContent([]byte("<project/>")))
	require.NoError(t, err)
	assert.Equal(t, int64(10), details.ContentLength)
	assert.Equal(t, testModTime, details.LastModified)
	assert.Contains(t, store.objects, "releases/com/acme/lib/1.0/lib-1.0.pom")

	data, err := provider.GetFile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []byte("<project/>"), data)

	modified, err := provider.LastModifiedTime(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, testModTime, modified)

	require.NoError(t, provider.RemoveFile(ctx, p))
	_, err = provider.GetFile(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRemoteProvider_NotFound(t *testing.T) {
	ctx := context.Background()
	provider, _ := newTestRemoteProvider("")
	p := interfaces.MustParsePath("never/written.jar")

	_, err := provider.GetFile(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	exists, err := provider.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = provider.GetFileDetails(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = provider.SizeBytes(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = provider.RemoveFile(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	details, err := provider.GetFileDetails(ctx, interfaces.RootPath)
	require.NoError(t, err)
	assert.True(t, details.IsDirectory())
}

func TestRemoteProvider_DirectorySemantics(t *testing.T) {
	ctx := context.Background()
	provider, _ := newTestRemoteProvider("")

	_, err := provider.PutFile(ctx, interfaces.MustParsePath("a/b/c.jar"), interfaces.BytesContent([]byte("c")))
	require.NoError(t, err)

	entries, err := provider.ListFiles(ctx, interfaces.MustParsePath("a"))
	require.NoError(t, err)
	assert.Equal(t, []interfaces.StoragePath{interfaces.MustParsePath("b/c.jar")}, entries)
	assert.Equal(t, []interfaces.StoragePath{interfaces.MustParsePath("b")}, interfaces.ImmediateChildren(entries))

	for _, dir := range []string{"a", "a/b"} {
		isDir, err := provider.IsDirectory(ctx, interfaces.MustParsePath(dir))
		require.NoError(t, err)
		assert.True(t, isDir, dir)

		exists, err := provider.Exists(ctx, interfaces.MustParsePath(dir))
		require.NoError(t, err)
		assert.False(t, exists, dir)

		details, err := provider.GetFileDetails(ctx, interfaces.MustParsePath(dir))
		require.NoError(t, err)
		assert.True(t, details.IsDirectory(), dir)
	}

	isDir, err := provider.IsDirectory(ctx, interfaces.MustParsePath("a/b/c.jar"))
	require.NoError(t, err)
	assert.False(t, isDir)

	// Directory size and time come from the first descendant
	size, err := provider.SizeBytes(ctx, interfaces.MustParsePath("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	_, err = provider.PutFile(ctx, interfaces.MustParsePath("a/b"), interfaces.BytesContent([]byte("x")))
	assert.ErrorIs(t, err, interfaces.ErrInvalidPath)

	_, err = provider.ListFiles(ctx, interfaces.MustParsePath("a/b/c.jar"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRemoteProvider_ObjectShadowsPrefix(t *testing.T) {
	ctx := context.Background()
	provider, store := newTestRemoteProvider("")

	// Another client wrote both an object and a descendant under the same key
	store.objects["a/b"] = []byte("object")
	store.objects["a/b/c.jar"] = []byte("c")
	p := interfaces.MustParsePath("a/b")

	exists, err := provider.Exists(ctx, p)
	require.NoError(t, err)
	assert.True(t, exists)

	isDir, err := provider.IsDirectory(ctx, p)
	require.NoError(t, err)
	assert.False(t, isDir)

	details, err := provider.GetFileDetails(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, interfaces.FileTypeFile, details.Type)
	assert.Equal(t, int64(len("object")), details.ContentLength)

	data, err := provider.GetFile(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "object", string(data))
}

func TestRemoteProvider_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	provider, store := newTestRemoteProvider("releases")
	store.objects["snapshots/a.jar"] = []byte("other")
	store.objects["releases-old/b.jar"] = []byte("other")

	_, err := provider.PutFile(ctx, interfaces.MustParsePath("a.jar"), interfaces.BytesContent([]byte("mine")))
	require.NoError(t, err)

	entries, err := provider.ListFiles(ctx, interfaces.RootPath)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.StoragePath{interfaces.MustParsePath("a.jar")}, entries)
}

func TestRemoteProvider_ShortRead(t *testing.T) {
	ctx := context.Background()
	provider, store := newTestRemoteProvider("")
	p := interfaces.MustParsePath("truncated.jar")

	_, err := provider.PutFile(ctx, p, interfaces.BytesContent([]byte("abc")))
	require.NoError(t, err)
	store.reportedSize["truncated.jar"] = 10

	_, err = provider.GetFile(ctx, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
}

func TestRemoteProvider_TransportFailure(t *testing.T) {
	ctx := context.Background()
	provider, store := newTestRemoteProvider("")
	store.failWith = errors.New("connection reset by peer")
	p := interfaces.MustParsePath("a.jar")

	_, err := provider.GetFile(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	assert.NotErrorIs(t, err, interfaces.ErrNotFound)

	_, err = provider.Exists(ctx, p)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)

	_, err = provider.PutFile(ctx, p, interfaces.BytesContent([]byte("x")))
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	assert.Equal(t, "failed to head a.jar", interfaces.ReasonOf(err))
}

func TestRemoteProvider_LengthMismatch(t *testing.T) {
	ctx := context.Background()
	provider, store := newTestRemoteProvider("")
	p := interfaces.MustParsePath("short.jar")

	_, err := provider.PutFile(ctx, p, interfaces.StreamContent(strings.NewReader("abc"), 10))
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	assert.NotContains(t, store.objects, "short.jar")
}

func TestRemoteProvider_Capacity(t *testing.T) {
	ctx := context.Background()
	provider, _ := newTestRemoteProvider("")

	full, err := provider.IsFull(ctx)
	require.NoError(t, err)
	assert.False(t, full)

	_, err = provider.UsageBytes(ctx)
	assert.ErrorIs(t, err, errors.ErrUnsupported)

	canHold, err := provider.CanHold(ctx, 1<<40)
	require.NoError(t, err)
	assert.True(t, canHold)
}
