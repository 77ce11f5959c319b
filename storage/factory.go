package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ruteri/artifact-repository-backend/interfaces"
)

// StorageProviderFactory creates storage providers from location URIs. Every
// provider it returns is wrapped in a PooledProvider.
type StorageProviderFactory struct {
	log         *slog.Logger
	credentials CredentialsResolver
	poolSize    int
	observer    Observer

	// cleaned holds the base dirs whose staging area was already cleaned by
	// this process. Later providers on the same dir may share it with live uploads.
	mu      sync.Mutex
	cleaned map[string]struct{}
}

// NewStorageProviderFactory creates a new factory. credentials may be nil when
// no location references external credentials.
func NewStorageProviderFactory(logger *slog.Logger, credentials CredentialsResolver) *StorageProviderFactory {
	return &StorageProviderFactory{
		log:         logger,
		credentials: credentials,
		poolSize:    DefaultPoolSize,
		cleaned:     make(map[string]struct{}),
	}
}

// WithPool sets the per-provider worker pool size and the telemetry observer.
func (sf *StorageProviderFactory) WithPool(size int, observer Observer) *StorageProviderFactory {
	sf.poolSize = size
	sf.observer = observer
	return sf
}

// StorageProviderFor creates a storage provider from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - minio:// - MinIO object storage
//
// Object storage locations accept credentials=vault:<path> to read keys from Vault
// instead of embedding them in the URI.
func (sf *StorageProviderFactory) StorageProviderFor(ctx context.Context, location interfaces.StorageBackendLocation, quotaBytes int64) (interfaces.StorageProvider, error) {
	var (
		provider interfaces.StorageProvider
		err      error
	)

	switch strings.ToLower(location.Scheme) {
	case "s3":
		provider, err = sf.createS3Provider(ctx, location)
	case "minio":
		provider, err = sf.createMinioProvider(ctx, location)
	case "file":
		provider, err = sf.createLocalProvider(location, quotaBytes)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if quotaBytes > 0 && location.Scheme != "file" {
		sf.log.Warn("Quota is not enforced on object storage",
			slog.String("location", location.String()))
	}

	return NewPooledProvider(provider, sf.poolSize, sf.observer), nil
}

// createS3Provider creates an S3 or S3-compatible storage provider.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com&path_style=true
func (sf *StorageProviderFactory) createS3Provider(ctx context.Context, location interfaces.StorageBackendLocation) (interfaces.StorageProvider, error) {
	sf.log.Debug("Creating S3 provider", slog.String("uri", location.String()))

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1" // Default region
	}

	creds, err := sf.resolveCredentials(ctx, location)
	if err != nil {
		return nil, err
	}

	store, err := NewS3Store(S3Config{
		Bucket:    location.Host,
		Region:    region,
		Endpoint:  location.GetParam("endpoint"),
		PathStyle: location.GetParamBool("path_style"),
		AccessKey: creds.AccessKey,
		SecretKey: creds.SecretKey,
	}, sf.log)
	if err != nil {
		return nil, err
	}

	return NewRemoteProvider(store, location.Path, location.String(), sf.log), nil
}

// createMinioProvider creates a MinIO storage provider.
// URI format: minio://[ACCESS_KEY:SECRET_KEY@]host:port/bucket/prefix?ssl=true&create_bucket=true
func (sf *StorageProviderFactory) createMinioProvider(ctx context.Context, location interfaces.StorageBackendLocation) (interfaces.StorageProvider, error) {
	sf.log.Debug("Creating MinIO provider", slog.String("uri", location.String()))

	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location.Path, "/"), "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: missing bucket in MinIO URI", interfaces.ErrInvalidLocationURI)
	}

	creds, err := sf.resolveCredentials(ctx, location)
	if err != nil {
		return nil, err
	}

	store, err := NewMinioStore(ctx, MinioConfig{
		Endpoint:     location.Host,
		Bucket:       bucket,
		AccessKey:    creds.AccessKey,
		SecretKey:    creds.SecretKey,
		UseSSL:       location.GetParamBool("ssl"),
		CreateBucket: location.GetParamBool("create_bucket"),
	}, sf.log)
	if err != nil {
		return nil, err
	}

	return NewRemoteProvider(store, prefix, location.String(), sf.log), nil
}

// createLocalProvider creates a file system storage provider.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageProviderFactory) createLocalProvider(location interfaces.StorageBackendLocation, quotaBytes int64) (interfaces.StorageProvider, error) {
	sf.log.Debug("Creating file provider", slog.String("uri", location.String()))

	// Get the path, handling relative vs absolute paths
	path := location.Path
	if location.Host != "" {
		// Handle Windows-style paths like file://C:/path
		if strings.HasPrefix(location.Host, "C:") || strings.HasPrefix(location.Host, "D:") {
			path = location.Host + path
		} else {
			path = location.Host + "/" + strings.TrimPrefix(path, "/")
		}
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	provider, err := NewLocalProvider(path, quotaBytes, sf.log)
	if err != nil {
		return nil, err
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, done := sf.cleaned[provider.baseDir]; !done {
		if err := provider.CleanStaging(); err != nil {
			return nil, err
		}
		sf.cleaned[provider.baseDir] = struct{}{}
	}
	return provider, nil
}

// resolveCredentials returns the keys embedded in the URI or, with
// credentials=vault:<path>, the keys stored in Vault.
func (sf *StorageProviderFactory) resolveCredentials(ctx context.Context, location interfaces.StorageBackendLocation) (Credentials, error) {
	if ref := location.GetParam("credentials"); ref != "" {
		path, ok := strings.CutPrefix(ref, "vault:")
		if !ok {
			return Credentials{}, fmt.Errorf("%w: unsupported credentials reference %q", interfaces.ErrInvalidLocationURI, ref)
		}
		if sf.credentials == nil {
			return Credentials{}, fmt.Errorf("credentials reference %q requires a Vault client", ref)
		}
		sf.log.Debug("Using credentials from Vault", slog.String("path", path))
		return sf.credentials.ResolveCredentials(ctx, path)
	}

	if location.User != nil {
		// Extract credentials from URI (less secure)
		secretKey, _ := location.User.Password()
		sf.log.Debug("Using embedded credentials for write access")
		return Credentials{AccessKey: location.User.Username(), SecretKey: secretKey}, nil
	}

	sf.log.Debug("No credentials provided, bucket assumed to be public, write operations may fail")
	return Credentials{}, nil
}
