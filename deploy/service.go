package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/ruteri/artifact-repository-backend/metadata"
)

// FailureReason is the generic reason of unclassified deploy failures.
const FailureReason = "failed to upload artifact"

// Observer receives deploy outcomes, for metrics.
type Observer interface {
	// RecordDeploy is called once per deploy with the taxonomy kind of the
	// error (nil on success) and the deployed size.
	RecordDeploy(repository string, kind error, size int64, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) RecordDeploy(string, error, int64, time.Duration) {}

// Service validates deploy requests against repository policy and writes
// them through the repository's storage provider.
//
// The capacity check is an advisory snapshot: concurrent deploys may both pass
// it and together exceed the quota. Deploys to the same path race at the
// storage provider and the last completed write wins.
type Service struct {
	registry interfaces.RepositoryRegistry
	index    interfaces.MetadataIndex
	audit    AuditSink
	log      *slog.Logger
	observer Observer
	now      func() time.Time
}

func NewService(registry interfaces.RepositoryRegistry, index interfaces.MetadataIndex, audit AuditSink, log *slog.Logger) *Service {
	return &Service{
		registry: registry,
		index:    index,
		audit:    audit,
		log:      log,
		observer: nopObserver{},
		now:      time.Now,
	}
}

// WithObserver sets the metrics observer.
func (s *Service) WithObserver(observer Observer) *Service {
	if observer != nil {
		s.observer = observer
	}
	return s
}

// Deploy stores the request content in its repository. Every returned error is
// a *interfaces.StorageError; panics below this call are recovered and
// reported as BackendFailure.
func (s *Service) Deploy(ctx context.Context, req *interfaces.DeployRequest) (details *interfaces.FileDetails, err error) {
	if req == nil {
		return nil, interfaces.InvalidPath("empty deploy request")
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Deploy panicked", "panic", r, "stack", string(debug.Stack()),
				slog.String("repository", req.Repository))
			details, err = nil, interfaces.BackendFailure(fmt.Errorf("panic: %v", r), FailureReason)
		}

		var size int64
		if details != nil {
			size = details.ContentLength
		}
		s.observer.RecordDeploy(req.Repository, interfaces.KindOf(err), size, time.Since(start))
	}()

	details, err = s.deploy(ctx, req)
	if err != nil {
		return nil, interfaces.AsStorageError(err, FailureReason)
	}
	return details, nil
}

func (s *Service) deploy(ctx context.Context, req *interfaces.DeployRequest) (*interfaces.FileDetails, error) {
	repo, err := s.registry.Resolve(req.Repository)
	if err != nil {
		return nil, err
	}

	if !repo.Policy.DeployEnabled {
		return nil, interfaces.PolicyDenied("deploy disabled")
	}

	full, err := repo.Storage.IsFull(ctx)
	switch {
	case errors.Is(err, errors.ErrUnsupported):
		// Backends without capacity accounting are never full
	case err != nil:
		return nil, interfaces.BackendFailure(err, "failed to check repository capacity")
	case full:
		return nil, interfaces.CapacityExceeded("not enough storage space available")
	}

	target, err := s.registry.ToStoragePath(repo, req.Coordinate)
	if err != nil {
		return nil, err
	}
	if interfaces.IsIndexDocument(target) && !metadata.IsDocumentName(target.Name()) {
		return nil, interfaces.InvalidPath("%s is reserved for generated metadata", target.Name())
	}

	if err := s.invalidate(ctx, repo.Name, target); err != nil {
		return nil, err
	}

	var details *interfaces.FileDetails
	if interfaces.IsIndexDocument(target) {
		details, err = s.index.FetchOrRebuild(ctx, repo, target)
	} else {
		details, err = repo.Storage.PutFile(ctx, target, req.Content)
	}
	if err != nil {
		s.log.Warn("Deploy failed", "err", err,
			slog.String("repository", repo.Name),
			slog.String("path", target.String()),
			slog.String("storage", repo.Storage.Name()))
		return nil, err
	}

	record := AuditRecord{
		ID:         uuid.New(),
		Repository: repo.Name,
		Path:       target.String(),
		Principal:  req.Principal,
		Size:       details.ContentLength,
		Time:       s.now(),
	}
	if err := s.audit.Record(ctx, record); err != nil {
		s.log.Error("Failed to record deploy", "err", err, slog.String("id", record.ID.String()))
	}

	s.log.Info("Artifact deployed",
		slog.String("repository", repo.Name),
		slog.String("path", target.String()),
		slog.String("principal", req.Principal),
		slog.Int64("size", details.ContentLength))
	return details, nil
}

// invalidate drops the index documents of the target directory and of its
// parent, which lists the target directory as a version.
func (s *Service) invalidate(ctx context.Context, repository string, target interfaces.StoragePath) error {
	indexPaths := []interfaces.StoragePath{interfaces.IndexDocumentFor(target)}
	if dir := target.Parent(); !dir.IsRoot() {
		indexPaths = append(indexPaths, interfaces.IndexDocumentFor(dir))
	}

	for _, indexPath := range indexPaths {
		if err := s.index.Invalidate(ctx, repository, indexPath); err != nil {
			return err
		}
	}
	return nil
}
