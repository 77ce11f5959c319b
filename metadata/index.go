package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"golang.org/x/sync/singleflight"
)

// Observer receives index cache outcomes, for metrics.
type Observer interface {
	// RecordMetadataLookup is called with "hit", "miss" or "error".
	RecordMetadataLookup(repository, result string)
}

type nopObserver struct{}

func (nopObserver) RecordMetadataLookup(string, string) {}

// Index implements interfaces.MetadataIndex. Documents are generated from the
// repository listing on a cache miss, written to storage next to the files they
// describe, and cached. Concurrent rebuilds of one directory share a single
// generation, and every invalidation bumps the directory's epoch so a rebuild
// that started earlier never caches what it produced.
type Index struct {
	cache    Cache
	log      *slog.Logger
	observer Observer
	now      func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	epochs map[string]*epochState
}

// epochState tracks invalidations of one directory while rebuilds of it are
// in flight. The entry is dropped once no rebuild references it.
type epochState struct {
	value uint64
	refs  int
}

// NewIndex creates an index backed by cache.
func NewIndex(cache Cache, log *slog.Logger) *Index {
	return &Index{
		cache:    cache,
		log:      log,
		observer: nopObserver{},
		now:      time.Now,
		epochs:   make(map[string]*epochState),
	}
}

// WithObserver sets the metrics observer.
func (i *Index) WithObserver(observer Observer) *Index {
	if observer != nil {
		i.observer = observer
	}
	return i
}

func directoryKey(repository string, dir interfaces.StoragePath) string {
	return repository + "/" + dir.String()
}

func documentKey(repository string, dir interfaces.StoragePath, name string) string {
	return directoryKey(repository, dir) + "/" + name
}

func (i *Index) epoch(key string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if state, ok := i.epochs[key]; ok {
		return state.value
	}
	return 0
}

// acquireEpoch pins the epoch of key for the duration of a rebuild.
func (i *Index) acquireEpoch(key string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	state, ok := i.epochs[key]
	if !ok {
		state = &epochState{}
		i.epochs[key] = state
	}
	state.refs++
	return state.value
}

func (i *Index) releaseEpoch(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	state, ok := i.epochs[key]
	if !ok {
		return
	}
	state.refs--
	if state.refs <= 0 {
		delete(i.epochs, key)
	}
}

// Invalidate drops the cached documents of the directory containing indexPath.
func (i *Index) Invalidate(ctx context.Context, repository string, indexPath interfaces.StoragePath) error {
	dir := indexPath.Parent()
	key := directoryKey(repository, dir)

	// Without an entry no rebuild is in flight, and the next one lists afresh
	i.mu.Lock()
	if state, ok := i.epochs[key]; ok {
		state.value++
	}
	i.mu.Unlock()

	keys := make([]string, 0, len(DocumentNames))
	for _, name := range DocumentNames {
		keys = append(keys, documentKey(repository, dir, name))
	}
	if err := i.cache.Delete(ctx, keys...); err != nil {
		return interfaces.BackendFailure(err, "failed to invalidate metadata")
	}
	return nil
}

// FetchOrRebuild returns the details of the index document at indexPath.
func (i *Index) FetchOrRebuild(ctx context.Context, repository *interfaces.Repository, indexPath interfaces.StoragePath) (*interfaces.FileDetails, error) {
	_, details, err := i.Document(ctx, repository, indexPath)
	return details, err
}

// Document returns the content and details of the index document at indexPath,
// regenerating it when no cached copy exists.
func (i *Index) Document(ctx context.Context, repository *interfaces.Repository, indexPath interfaces.StoragePath) ([]byte, *interfaces.FileDetails, error) {
	name := indexPath.Name()
	if !IsDocumentName(name) {
		return nil, nil, interfaces.NotFound("%s not found", indexPath)
	}

	dir := indexPath.Parent()
	cacheKey := documentKey(repository.Name, dir, name)

	entry, err := i.cache.Get(ctx, cacheKey)
	switch {
	case err == nil:
		i.observer.RecordMetadataLookup(repository.Name, "hit")
		return entry.Data, interfaces.NewFileDetails(name, int64(len(entry.Data)), entry.Modified), nil
	case !errors.Is(err, ErrCacheMiss):
		i.log.Warn("Metadata cache unavailable, rebuilding", "err", err, slog.String("path", indexPath.String()))
	}
	i.observer.RecordMetadataLookup(repository.Name, "miss")

	key := directoryKey(repository.Name, dir)
	epoch := i.acquireEpoch(key)
	defer i.releaseEpoch(key)

	// The flight outlives any single caller, so it must not inherit its cancellation
	flightCtx := context.WithoutCancel(ctx)
	result, err, _ := i.group.Do(fmt.Sprintf("%s@%d", key, epoch), func() (any, error) {
		return i.rebuild(flightCtx, repository, dir, key, epoch)
	})
	if err != nil {
		i.observer.RecordMetadataLookup(repository.Name, "error")
		return nil, nil, err
	}

	entry = result.(map[string]*Entry)[name]
	return entry.Data, interfaces.NewFileDetails(name, int64(len(entry.Data)), entry.Modified), nil
}

func (i *Index) rebuild(ctx context.Context, repository *interfaces.Repository, dir interfaces.StoragePath, key string, epoch uint64) (map[string]*Entry, error) {
	now := i.now()
	xmlDoc, err := Generate(ctx, repository.Storage, dir, now)
	if err != nil {
		return nil, err
	}

	docs := Documents(xmlDoc)
	entries := make(map[string]*Entry, len(docs))
	for _, name := range DocumentNames {
		data := docs[name]
		target, err := dir.Join(name)
		if err != nil {
			return nil, err
		}
		if _, err := repository.Storage.PutFile(ctx, target, interfaces.BytesContent(data)); err != nil {
			return nil, err
		}
		entries[name] = &Entry{Data: data, Modified: now}
	}

	if i.epoch(key) != epoch {
		i.log.Debug("Metadata invalidated during rebuild, not caching", slog.String("repository", repository.Name), slog.String("path", dir.String()))
		return entries, nil
	}

	keys := make([]string, 0, len(DocumentNames))
	for _, name := range DocumentNames {
		cacheKey := documentKey(repository.Name, dir, name)
		if err := i.cache.Set(ctx, cacheKey, entries[name]); err != nil {
			i.log.Warn("Failed to cache metadata", "err", err, slog.String("repository", repository.Name), slog.String("path", dir.String()))
			break
		}
		keys = append(keys, cacheKey)
	}

	// An invalidation that raced the writes above may have deleted before we set
	if i.epoch(key) != epoch {
		if err := i.cache.Delete(ctx, keys...); err != nil {
			i.log.Warn("Failed to drop stale metadata", "err", err, slog.String("path", dir.String()))
		}
		return entries, nil
	}

	i.log.Debug("Metadata rebuilt", slog.String("repository", repository.Name), slog.String("path", dir.String()))
	return entries, nil
}
