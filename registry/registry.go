package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ruteri/artifact-repository-backend/config"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"go.uber.org/atomic"
)

// snapshot is one immutable generation of the repository set.
type snapshot struct {
	repositories map[string]*interfaces.Repository
	locations    map[string]string
	names        []string
}

// Registry implements interfaces.RepositoryRegistry. The repository set is an
// immutable snapshot swapped as a whole on reload, so a request sees either the
// old or the new policy of a repository, never a mix.
type Registry struct {
	factory  interfaces.StorageProviderFactory
	log      *slog.Logger
	snapshot *atomic.Pointer[snapshot]
}

// New creates an empty registry. Call Apply to load repositories.
func New(factory interfaces.StorageProviderFactory, log *slog.Logger) *Registry {
	return &Registry{
		factory: factory,
		log:     log,
		snapshot: atomic.NewPointer(&snapshot{
			repositories: map[string]*interfaces.Repository{},
			locations:    map[string]string{},
		}),
	}
}

// Apply builds a new snapshot from the configured repositories and swaps it in.
// Storage providers whose location is unchanged are reused, so uploads in
// flight survive a reload; a changed quota is pushed into the reused provider.
// If any repository fails to build, the current snapshot stays in effect.
func (r *Registry) Apply(ctx context.Context, repositories map[string]config.RepositoryConfig) error {
	current := r.snapshot.Load()
	next := &snapshot{
		repositories: make(map[string]*interfaces.Repository, len(repositories)),
		locations:    make(map[string]string, len(repositories)),
		names:        make([]string, 0, len(repositories)),
	}

	type quotaUpdate struct {
		setter interfaces.QuotaSetter
		quota  int64
	}
	var (
		errs    []error
		updates []quotaUpdate
	)
	for name, cfg := range repositories {
		policy := interfaces.RepositoryPolicy{DeployEnabled: cfg.Deploy, QuotaBytes: cfg.Quota}

		var provider interfaces.StorageProvider
		if previous, ok := current.repositories[name]; ok && current.locations[name] == cfg.Storage {
			provider = previous.Storage
			if previous.Policy.QuotaBytes != cfg.Quota {
				if setter, ok := provider.(interfaces.QuotaSetter); ok {
					updates = append(updates, quotaUpdate{setter: setter, quota: cfg.Quota})
				}
			}
		} else {
			location, err := interfaces.NewStorageBackendLocation(cfg.Storage)
			if err != nil {
				errs = append(errs, fmt.Errorf("repository %q: %w", name, err))
				continue
			}
			provider, err = r.factory.StorageProviderFor(ctx, location, cfg.Quota)
			if err != nil {
				errs = append(errs, fmt.Errorf("repository %q: %w", name, err))
				continue
			}
		}

		next.repositories[name] = &interfaces.Repository{Name: name, Policy: policy, Storage: provider}
		next.locations[name] = cfg.Storage
		next.names = append(next.names, name)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, update := range updates {
		update.setter.SetQuota(update.quota)
	}
	sort.Strings(next.names)
	r.snapshot.Store(next)

	for _, name := range next.names {
		repo := next.repositories[name]
		r.log.Info("Repository loaded",
			slog.String("repository", name),
			slog.Bool("deploy", repo.Policy.DeployEnabled),
			slog.Int64("quota", repo.Policy.QuotaBytes),
			slog.String("storage", repo.Storage.LocationURI()))
	}
	return nil
}

// Resolve returns the repository or ErrNotFound.
func (r *Registry) Resolve(name string) (*interfaces.Repository, error) {
	repo, ok := r.snapshot.Load().repositories[name]
	if !ok {
		return nil, interfaces.NotFound("repository %s not found", name)
	}
	return repo, nil
}

// Names lists the configured repositories, sorted.
func (r *Registry) Names() []string {
	names := r.snapshot.Load().names
	return append([]string(nil), names...)
}

// ToStoragePath converts a coordinate into a path inside the repository.
func (r *Registry) ToStoragePath(repository *interfaces.Repository, coordinate interfaces.Coordinate) (interfaces.StoragePath, error) {
	return ToStoragePath(coordinate)
}
