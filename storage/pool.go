package storage

import (
	"context"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize bounds concurrent backend operations when no size is configured.
const DefaultPoolSize = 16

// Observer captures telemetry for storage operations.
type Observer interface {
	RecordStorageOperation(backend, operation string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RecordStorageOperation(string, string, time.Duration, error) {}

// PooledProvider bounds the number of in-flight operations against a backend,
// independent of how many HTTP requests are being served. Waiting for a slot
// honors context cancellation.
type PooledProvider struct {
	inner    interfaces.StorageProvider
	sem      *semaphore.Weighted
	observer Observer
}

// NewPooledProvider wraps inner with a pool of size slots. A nil observer
// disables telemetry.
func NewPooledProvider(inner interfaces.StorageProvider, size int, observer Observer) *PooledProvider {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &PooledProvider{
		inner:    inner,
		sem:      semaphore.NewWeighted(int64(size)),
		observer: observer,
	}
}

// Unwrap returns the wrapped provider.
func (p *PooledProvider) Unwrap() interfaces.StorageProvider {
	return p.inner
}

// SetQuota forwards to the wrapped provider when it enforces a quota itself.
func (p *PooledProvider) SetQuota(quotaBytes int64) {
	if setter, ok := p.inner.(interfaces.QuotaSetter); ok {
		setter.SetQuota(quotaBytes)
	}
}

func (p *PooledProvider) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return interfaces.BackendFailure(err, "storage worker pool unavailable")
	}
	return nil
}

func (p *PooledProvider) record(operation string, start time.Time, err error) {
	p.observer.RecordStorageOperation(p.inner.Name(), operation, time.Since(start), err)
}

func (p *PooledProvider) PutFile(ctx context.Context, path interfaces.StoragePath, content interfaces.Content) (*interfaces.FileDetails, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	details, err := p.inner.PutFile(ctx, path, content)
	p.record("put", start, err)
	return details, err
}

func (p *PooledProvider) GetFile(ctx context.Context, path interfaces.StoragePath) ([]byte, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	data, err := p.inner.GetFile(ctx, path)
	p.record("get", start, err)
	return data, err
}

func (p *PooledProvider) GetFileDetails(ctx context.Context, path interfaces.StoragePath) (*interfaces.FileDetails, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	details, err := p.inner.GetFileDetails(ctx, path)
	p.record("details", start, err)
	return details, err
}

func (p *PooledProvider) RemoveFile(ctx context.Context, path interfaces.StoragePath) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.sem.Release(1)

	start := time.Now()
	err := p.inner.RemoveFile(ctx, path)
	p.record("remove", start, err)
	return err
}

func (p *PooledProvider) ListFiles(ctx context.Context, directory interfaces.StoragePath) ([]interfaces.StoragePath, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	paths, err := p.inner.ListFiles(ctx, directory)
	p.record("list", start, err)
	return paths, err
}

func (p *PooledProvider) Exists(ctx context.Context, path interfaces.StoragePath) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.inner.Exists(ctx, path)
}

func (p *PooledProvider) IsDirectory(ctx context.Context, path interfaces.StoragePath) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.inner.IsDirectory(ctx, path)
}

func (p *PooledProvider) LastModifiedTime(ctx context.Context, path interfaces.StoragePath) (time.Time, error) {
	if err := p.acquire(ctx); err != nil {
		return time.Time{}, err
	}
	defer p.sem.Release(1)
	return p.inner.LastModifiedTime(ctx, path)
}

func (p *PooledProvider) SizeBytes(ctx context.Context, path interfaces.StoragePath) (int64, error) {
	if err := p.acquire(ctx); err != nil {
		return 0, err
	}
	defer p.sem.Release(1)
	return p.inner.SizeBytes(ctx, path)
}

func (p *PooledProvider) IsFull(ctx context.Context) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.inner.IsFull(ctx)
}

func (p *PooledProvider) UsageBytes(ctx context.Context) (int64, error) {
	if err := p.acquire(ctx); err != nil {
		return 0, err
	}
	defer p.sem.Release(1)
	return p.inner.UsageBytes(ctx)
}

func (p *PooledProvider) CanHold(ctx context.Context, contentLength int64) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.inner.CanHold(ctx, contentLength)
}

func (p *PooledProvider) Name() string {
	return p.inner.Name()
}

func (p *PooledProvider) LocationURI() string {
	return p.inner.LocationURI()
}
