package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinioStore.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// CreateBucket creates the bucket on startup when it does not exist.
	CreateBucket bool
}

// MinioStore implements ObjectStore using the MinIO client.
type MinioStore struct {
	client     *minio.Client
	bucketName string
	log        *slog.Logger
}

// NewMinioStore connects to the MinIO endpoint and checks the bucket.
func NewMinioStore(ctx context.Context, cfg MinioConfig, log *slog.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	if cfg.CreateBucket {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check if MinIO bucket '%s' exists: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("failed to create MinIO bucket '%s': %w", cfg.Bucket, err)
			}
			log.Info("Created MinIO bucket", slog.String("bucket", cfg.Bucket))
		}
	}

	return &MinioStore{
		client:     client,
		bucketName: cfg.Bucket,
		log:        log,
	}, nil
}

// Put uploads r. With an unknown size the client buffers multipart chunks.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) (ObjectInfo, error) {
	info, err := m.client.PutObject(ctx, m.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		if isLengthMismatch(err) {
			return ObjectInfo{}, err
		}
		return ObjectInfo{}, fmt.Errorf("failed to upload object to MinIO: %w", err)
	}

	m.log.Debug("Uploaded object to MinIO",
		slog.String("bucket", m.bucketName),
		slog.String("key", key),
		slog.Int64("size", info.Size))

	return ObjectInfo{Key: key, Size: info.Size, LastModified: info.LastModified}, nil
}

// Get opens the object. GetObject is lazy, so the object is stat'ed first to
// surface a missing key before any byte is read.
func (m *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	object, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, mapMinioError(err)
	}

	stat, err := object.Stat()
	if err != nil {
		_ = object.Close()
		return nil, ObjectInfo{}, mapMinioError(err)
	}

	return object, ObjectInfo{Key: key, Size: stat.Size, LastModified: stat.LastModified}, nil
}

// Head returns the object metadata.
func (m *MinioStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := m.client.StatObject(ctx, m.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapMinioError(err)
	}
	return ObjectInfo{Key: key, Size: stat.Size, LastModified: stat.LastModified}, nil
}

// List walks the prefix recursively, stopping after limit objects.
func (m *MinioStore) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []ObjectInfo
	objectCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, mapMinioError(object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
		if limit > 0 && len(objects) >= limit {
			break
		}
	}
	return objects, nil
}

// Delete removes the object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return mapMinioError(err)
	}
	return nil
}

// Bucket returns the bucket name.
func (m *MinioStore) Bucket() string {
	return m.bucketName
}

func mapMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Code)
	case resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Code)
	}
	return err
}
