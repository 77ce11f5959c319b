package metadata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookedProvider struct {
	interfaces.StorageProvider
	lists  atomic.Int32
	onList func()
}

func (p *hookedProvider) ListFiles(ctx context.Context, dir interfaces.StoragePath) ([]interfaces.StoragePath, error) {
	p.lists.Add(1)
	if p.onList != nil {
		p.onList()
	}
	return p.StorageProvider.ListFiles(ctx, dir)
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) RecordMetadataLookup(repository, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[result]++
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[result]
}

func newTestIndex(t *testing.T) (*Index, *MemoryCache, *countingObserver) {
	t.Helper()
	cache, err := NewMemoryCache(64, time.Minute)
	require.NoError(t, err)
	observer := &countingObserver{}
	idx := NewIndex(cache, slog.Default()).WithObserver(observer)
	idx.now = func() time.Time { return testNow }
	return idx, cache, observer
}

func newTestRepository(t *testing.T, files ...string) (*interfaces.Repository, *hookedProvider) {
	t.Helper()
	provider := &hookedProvider{StorageProvider: newPopulatedProvider(t, files...)}
	return &interfaces.Repository{
		Name:    "releases",
		Policy:  interfaces.RepositoryPolicy{DeployEnabled: true},
		Storage: provider,
	}, provider
}

func TestIndex_FetchOrRebuild(t *testing.T) {
	ctx := context.Background()
	idx, _, observer := newTestIndex(t)
	repo, provider := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar")
	indexPath := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")

	details, err := idx.FetchOrRebuild(ctx, repo, indexPath)
	require.NoError(t, err)
	assert.Equal(t, "maven-metadata.xml", details.Name)
	assert.Equal(t, interfaces.FileTypeFile, details.Type)
	assert.Equal(t, testNow, details.LastModified)

	// The document and its checksums are written next to the artifacts
	stored, err := provider.GetFile(ctx, indexPath)
	require.NoError(t, err)
	assert.Equal(t, details.ContentLength, int64(len(stored)))
	for _, name := range DocumentNames {
		exists, err := provider.Exists(ctx, interfaces.MustParsePath("com/acme/lib/"+name))
		require.NoError(t, err)
		assert.True(t, exists, name)
	}

	// Checksum siblings come from the same generation
	data, _, err := idx.Document(ctx, repo, interfaces.MustParsePath("com/acme/lib/maven-metadata.xml.sha1"))
	require.NoError(t, err)
	assert.Equal(t, Documents(stored)["maven-metadata.xml.sha1"], data)

	assert.Equal(t, int32(1), provider.lists.Load())
	assert.Equal(t, 1, observer.count("miss"))
	assert.Equal(t, 1, observer.count("hit"))
}

func TestIndex_InvalidateRebuilds(t *testing.T) {
	ctx := context.Background()
	idx, _, _ := newTestIndex(t)
	repo, provider := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar")
	indexPath := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")

	data, _, err := idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<version>2.0</version>")

	_, err = provider.PutFile(ctx, interfaces.MustParsePath("com/acme/lib/2.0/lib-2.0.jar"), interfaces.BytesContent([]byte("v2")))
	require.NoError(t, err)

	// Still cached
	data, _, err = idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<version>2.0</version>")

	require.NoError(t, idx.Invalidate(ctx, repo.Name, indexPath))

	data, _, err = idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<version>2.0</version>")
	assert.Contains(t, string(data), "<latest>2.0</latest>")
	assert.Equal(t, int32(2), provider.lists.Load())
}

func TestIndex_InvalidationDuringRebuildIsNotCached(t *testing.T) {
	ctx := context.Background()
	idx, cache, _ := newTestIndex(t)
	repo, provider := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar")
	indexPath := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")

	var once sync.Once
	provider.onList = func() {
		once.Do(func() {
			require.NoError(t, idx.Invalidate(ctx, repo.Name, indexPath))
		})
	}

	_, _, err := idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)

	_, err = cache.Get(ctx, documentKey(repo.Name, indexPath.Parent(), "maven-metadata.xml"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	// The next read rebuilds and caches
	_, _, err = idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)
	_, err = cache.Get(ctx, documentKey(repo.Name, indexPath.Parent(), "maven-metadata.xml"))
	assert.NoError(t, err)
	assert.Equal(t, int32(2), provider.lists.Load())
}

func TestIndex_SingleFlight(t *testing.T) {
	ctx := context.Background()
	idx, _, observer := newTestIndex(t)
	repo, provider := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar")
	indexPath := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")

	const callers = 8
	release := make(chan struct{})
	provider.onList = func() { <-release }

	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], _, errs[n] = idx.Document(ctx, repo, indexPath)
		}(n)
	}

	require.Eventually(t, func() bool { return observer.count("miss") == callers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for n := 0; n < callers; n++ {
		require.NoError(t, errs[n])
		assert.Equal(t, results[0], results[n])
	}
	assert.Equal(t, int32(1), provider.lists.Load())
}

func TestIndex_Errors(t *testing.T) {
	ctx := context.Background()
	idx, _, observer := newTestIndex(t)
	repo, _ := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar")

	_, err := idx.FetchOrRebuild(ctx, repo, interfaces.MustParsePath("com/acme/lib/maven-metadata.xml.asc"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = idx.FetchOrRebuild(ctx, repo, interfaces.MustParsePath("com/acme/other/maven-metadata.xml"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.Equal(t, 1, observer.count("error"))
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*Entry, error) {
	return nil, errors.New("connection refused")
}

func (failingCache) Set(context.Context, string, *Entry) error {
	return errors.New("connection refused")
}

func (failingCache) Delete(context.Context, ...string) error {
	return errors.New("connection refused")
}

func TestIndex_CacheUnavailable(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(failingCache{}, slog.Default())
	repo, _ := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar")
	indexPath := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")

	// Reads degrade to rebuilding on every request
	data, _, err := idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<artifactId>lib</artifactId>")

	// Invalidation must not silently leave stale documents behind
	err = idx.Invalidate(ctx, repo.Name, indexPath)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
}

func TestIndex_EpochsReleasedAfterRebuild(t *testing.T) {
	ctx := context.Background()
	idx, _, _ := newTestIndex(t)
	repo, provider := newTestRepository(t, "com/acme/lib/1.0/lib-1.0.jar", "com/acme/other/2.0/other-2.0.jar")

	for _, dir := range []string{"com/acme/lib", "com/acme/other", "com/acme/lib/1.0"} {
		indexPath := interfaces.MustParsePath(dir + "/maven-metadata.xml")
		require.NoError(t, idx.Invalidate(ctx, repo.Name, indexPath))
		_, _, err := idx.Document(ctx, repo, indexPath)
		require.NoError(t, err)
		require.NoError(t, idx.Invalidate(ctx, repo.Name, indexPath))
	}
	_, _, err := idx.Document(ctx, repo, interfaces.MustParsePath("com/acme/missing/maven-metadata.xml"))
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	idx.mu.Lock()
	assert.Empty(t, idx.epochs)
	idx.mu.Unlock()

	// An invalidation racing a rebuild is still honored while the entry is pinned
	indexPath := interfaces.MustParsePath("com/acme/lib/maven-metadata.xml")
	provider.onList = func() {
		idx.mu.Lock()
		assert.Len(t, idx.epochs, 1)
		idx.mu.Unlock()
	}
	_, _, err = idx.Document(ctx, repo, indexPath)
	require.NoError(t, err)

	idx.mu.Lock()
	assert.Empty(t, idx.epochs)
	idx.mu.Unlock()
}
