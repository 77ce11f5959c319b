// Package storage provides the storage backends of the artifact repository.
//
// Every backend implements interfaces.StorageProvider, so callers address files
// by interfaces.StoragePath and never need to know where the bytes live:
//
//   - LocalProvider stores files in a directory tree on the local filesystem
//   - RemoteProvider stores files as objects in an ObjectStore (S3Store or MinioStore)
//
// # Storage URI Format
//
// Backends are selected per repository from a location URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/artifacts/releases
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=https://s3.example.com&path_style=true
//   - minio://minio.internal:9000/bucket/prefix?ssl=true
//
// Object storage keys may be embedded in the URI or, preferably, referenced in
// Vault with credentials=vault:secret/data/artifacts/s3.
//
// # Local Storage
//
// Uploads are written to <base>/.staging and renamed into place, so a reader
// never sees a partially written file. When a quota is configured, usage is the
// exact sum of stored file sizes; otherwise capacity is the free space of the
// filesystem.
//
// # Object Storage
//
// Object stores are flat. Directories are simulated by key prefixes and a path
// is a directory only if no object is stored at exactly that key. Listings return
// every descendant, not just immediate children. Capacity is not tracked:
// IsFull is always false and UsageBytes returns errors.ErrUnsupported.
//
// # Usage Example
//
//	factory := storage.NewStorageProviderFactory(logger, vaultCredentials).WithPool(16, observer)
//
//	location, err := interfaces.NewStorageBackendLocation("file:///var/lib/artifacts/releases")
//	if err != nil {
//	    log.Fatalf("Invalid location: %v", err)
//	}
//	provider, err := factory.StorageProviderFor(ctx, location, 1<<30)
package storage
