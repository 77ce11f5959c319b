// Package interfaces defines core interfaces and types for the artifact
// repository, separating interface definitions from implementations.
//
// # Storage
//
// StorageProvider: uniform contract over storage backends (local filesystem,
// S3, MinIO). Paths are StoragePath values in canonical forward-slash form,
// listings are relative to the listed directory and the repository root always
// resolves to a synthetic directory, whatever the backend.
//
// StorageProviderFactory: creates providers from location URIs such as
// file:///var/lib/artifacts/releases or s3://bucket/prefix?region=eu-west-1.
//
// # Repositories
//
// RepositoryRegistry: resolves a repository name to its RepositoryPolicy and
// bound StorageProvider, and converts a Coordinate into a StoragePath.
//
// MetadataIndex: caches and regenerates maven-metadata.xml documents. It must be
// invalidated whenever the file set of the indexed directory changes.
//
// # Errors
//
// Every storage and deploy error is a *StorageError whose Kind is one of:
//
//   - ErrNotFound
//   - ErrInvalidPath
//   - ErrPolicyDenied
//   - ErrCapacityExceeded
//   - ErrBackendFailure
//
// Match kinds with errors.Is. The Reason is safe to return to clients; the
// Cause is kept for logs only.
package interfaces
