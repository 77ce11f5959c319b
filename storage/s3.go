package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config configures an S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Custom endpoint for S3-compatible services
	// PathStyle forces path-style addressing, required by most S3-compatible services.
	PathStyle bool
	AccessKey string
	SecretKey string
}

// S3Store implements ObjectStore using Amazon S3 or compatible services.
// Without credentials the store is read-only for publicly accessible objects.
type S3Store struct {
	client         *s3.S3
	writeClient    *s3.S3
	uploader       *s3manager.Uploader
	bucketName     string
	log            *slog.Logger
	hasWriteAccess bool
}

// NewS3Store creates a new S3 object store. Requests are single-shot: the SDK
// retry loop is disabled so a failure surfaces to the caller immediately.
func NewS3Store(cfg S3Config, log *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	baseCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		MaxRetries:       aws.Int(0),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		baseCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	// Read session needs no credentials for public buckets
	baseSess, err := session.NewSession(&baseCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	readClient := s3.New(baseSess)

	hasWriteAccess := cfg.AccessKey != "" && cfg.SecretKey != ""
	writeClient := readClient
	if hasWriteAccess {
		writeCfg := baseCfg.Copy()
		writeCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")

		writeSess, err := session.NewSession(writeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS write session: %w", err)
		}
		writeClient = s3.New(writeSess)
		// Reads of private buckets need the credentials too
		readClient = writeClient
	} else {
		log.Warn("No S3 credentials provided - write operations may fail unless bucket is public writable",
			slog.String("bucket", cfg.Bucket))
	}

	return &S3Store{
		client:         readClient,
		writeClient:    writeClient,
		uploader:       s3manager.NewUploaderWithClient(writeClient),
		bucketName:     cfg.Bucket,
		log:            log,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// Put streams r to S3. The uploader switches to multipart for large bodies, so
// unknown-length content needs no buffering in full.
func (b *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) (ObjectInfo, error) {
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		if mismatch := uploadBodyError(err); mismatch != nil {
			return ObjectInfo{}, mismatch
		}
		if !b.hasWriteAccess {
			return ObjectInfo{}, fmt.Errorf("failed to upload object to S3 (no write credentials provided): %w", err)
		}
		return ObjectInfo{}, fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Uploaded object to S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key))

	return ObjectInfo{Key: key, Size: size, LastModified: time.Now()}, nil
}

// Get opens the object body.
func (b *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ObjectInfo{}, mapS3Error(err)
	}

	size := int64(-1)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, ObjectInfo{
		Key:          key,
		Size:         size,
		LastModified: aws.TimeValue(result.LastModified),
	}, nil
}

// Head returns the object metadata.
func (b *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	result, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, mapS3Error(err)
	}

	return ObjectInfo{
		Key:          key,
		Size:         aws.Int64Value(result.ContentLength),
		LastModified: aws.TimeValue(result.LastModified),
	}, nil
}

// List pages through ListObjectsV2 until limit objects were collected.
func (b *S3Store) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(prefix),
	}
	if limit > 0 && limit < 1000 {
		input.MaxKeys = aws.Int64(int64(limit))
	}

	var objects []ObjectInfo
	err := b.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, object := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.StringValue(object.Key),
				Size:         aws.Int64Value(object.Size),
				LastModified: aws.TimeValue(object.LastModified),
			})
			if limit > 0 && len(objects) >= limit {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, mapS3Error(err)
	}
	return objects, nil
}

// Delete removes the object.
func (b *S3Store) Delete(ctx context.Context, key string) error {
	_, err := b.writeClient.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error(err)
	}
	return nil
}

// Bucket returns the bucket name.
func (b *S3Store) Bucket() string {
	return b.bucketName
}

// mapS3Error turns "no such key" responses into ErrObjectNotFound and keeps
// every other error as is.
func mapS3Error(err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound && reqErr.Code() != s3.ErrCodeNoSuchBucket {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, reqErr.Code())
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %s", ErrObjectNotFound, aerr.Code())
		}
	}
	return err
}

// uploadBodyError digs a content length mismatch out of the uploader's error
// chain. awserr errors expose their cause through OrigErr only.
func uploadBodyError(err error) error {
	for err != nil {
		if isLengthMismatch(err) {
			return err
		}
		aerr, ok := err.(awserr.Error)
		if !ok {
			return nil
		}
		err = aerr.OrigErr()
	}
	return nil
}
