package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
)

// ErrObjectNotFound is returned by ObjectStore implementations when the key does
// not exist. Any other error is treated as a transport or service failure.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a single stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the minimal flat key/value API of an object storage service.
// Keys use forward slashes; the store has no notion of directories.
type ObjectStore interface {
	// Put uploads r under key. size is -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) (ObjectInfo, error)

	// Get opens the object. The caller closes the body.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Head returns object metadata without the body.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// List returns objects whose key starts with prefix, in key order.
	// limit <= 0 lists everything.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Bucket returns the bucket the store operates on.
	Bucket() string
}

// RemoteProvider implements interfaces.StorageProvider on top of an object
// store. Directories are simulated by key prefixes: a path is a directory when
// objects exist below it and no object exists at exactly that key.
//
// Capacity is not tracked. IsFull reports false, CanHold reports true and
// UsageBytes returns errors.ErrUnsupported.
type RemoteProvider struct {
	store       ObjectStore
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewRemoteProvider creates a provider storing objects under prefix.
func NewRemoteProvider(store ObjectStore, prefix string, locationURI string, log *slog.Logger) *RemoteProvider {
	return &RemoteProvider{
		store:       store,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: locationURI,
	}
}

// PutFile uploads content. The returned details describe the caller's payload.
func (r *RemoteProvider) PutFile(ctx context.Context, p interfaces.StoragePath, content interfaces.Content) (*interfaces.FileDetails, error) {
	if p.IsRoot() {
		return nil, interfaces.InvalidPath("cannot write to the repository root")
	}

	isDir, err := r.IsDirectory(ctx, p)
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, interfaces.InvalidPath("%s is a directory", p)
	}

	start := time.Now()
	key := r.key(p)
	reader := newCheckedReader(content)

	info, err := r.store.Put(ctx, key, reader, content.Length)
	if err != nil {
		if isLengthMismatch(err) {
			return nil, interfaces.BackendFailure(err, "content length mismatch for %s", p)
		}
		r.log.Error("Failed to upload object",
			slog.String("bucket", r.store.Bucket()),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.BackendFailure(err, "failed to upload %s", p)
	}

	modified := info.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}

	r.log.Debug("Stored object",
		slog.String("bucket", r.store.Bucket()),
		slog.String("key", key),
		slog.Int64("size", reader.BytesRead()),
		slog.Duration("duration", time.Since(start)))

	return interfaces.NewFileDetails(p.Name(), reader.BytesRead(), modified), nil
}

// GetFile downloads the object at p and verifies the byte count against the
// reported content length.
func (r *RemoteProvider) GetFile(ctx context.Context, p interfaces.StoragePath) ([]byte, error) {
	if p.IsRoot() {
		return nil, interfaces.NotFound("repository root is a directory")
	}

	start := time.Now()
	key := r.key(p)

	body, info, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, r.mapError(err, p, key, "get")
	}
	defer body.Close()

	var buf bytes.Buffer
	if info.Size > 0 {
		buf.Grow(int(info.Size))
	}
	n, err := io.Copy(&buf, body)
	if err != nil {
		r.log.Error("Failed to read object body",
			slog.String("bucket", r.store.Bucket()),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, interfaces.BackendFailure(err, "failed to read %s", p)
	}
	if info.Size >= 0 && n != info.Size {
		err := fmt.Errorf("read %d of %d bytes", n, info.Size)
		r.log.Error("Short read of object body",
			slog.String("bucket", r.store.Bucket()),
			slog.String("key", key),
			"err", err)
		return nil, interfaces.BackendFailure(err, "incomplete read of %s", p)
	}

	r.log.Debug("Fetched object",
		slog.String("bucket", r.store.Bucket()),
		slog.String("key", key),
		slog.Int64("size", n),
		slog.Duration("duration", time.Since(start)))

	return buf.Bytes(), nil
}

// GetFileDetails describes p. Prefixes with descendants are directories.
func (r *RemoteProvider) GetFileDetails(ctx context.Context, p interfaces.StoragePath) (*interfaces.FileDetails, error) {
	if p.IsRoot() {
		return interfaces.RootDetails(), nil
	}

	info, err := r.store.Head(ctx, r.key(p))
	if err == nil {
		return interfaces.NewFileDetails(p.Name(), info.Size, info.LastModified), nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return nil, r.mapError(err, p, r.key(p), "head")
	}

	descendant, err := r.firstDescendant(ctx, p)
	if err != nil {
		return nil, err
	}
	return interfaces.NewDirectoryDetails(p.Name(), descendant.LastModified), nil
}

// RemoveFile deletes the object at p.
func (r *RemoteProvider) RemoveFile(ctx context.Context, p interfaces.StoragePath) error {
	exists, err := r.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		return interfaces.NotFound("%s not found", p)
	}

	key := r.key(p)
	if err := r.store.Delete(ctx, key); err != nil {
		return r.mapError(err, p, key, "delete")
	}

	r.log.Debug("Removed object",
		slog.String("bucket", r.store.Bucket()),
		slog.String("key", key))
	return nil
}

// ListFiles returns every object below dir relative to it, in key order. The
// store is flat, so entries may be deeper descendants rather than immediate
// children; see interfaces.ImmediateChildren.
func (r *RemoteProvider) ListFiles(ctx context.Context, dir interfaces.StoragePath) ([]interfaces.StoragePath, error) {
	prefix := r.dirPrefix(dir)
	objects, err := r.store.List(ctx, prefix, 0)
	if err != nil {
		return nil, r.mapError(err, dir, prefix, "list")
	}
	if len(objects) == 0 && !dir.IsRoot() {
		return nil, interfaces.NotFound("%s is not a directory", dir)
	}

	paths := make([]interfaces.StoragePath, 0, len(objects))
	for _, object := range objects {
		rel, err := interfaces.ParsePath(strings.TrimPrefix(object.Key, prefix))
		if err != nil || rel.IsRoot() {
			// Keys that are not canonical paths are not addressable
			continue
		}
		paths = append(paths, rel)
	}
	interfaces.SortPaths(paths)
	return paths, nil
}

// Exists reports whether an object is stored at exactly p.
func (r *RemoteProvider) Exists(ctx context.Context, p interfaces.StoragePath) (bool, error) {
	if p.IsRoot() {
		return false, nil
	}

	_, err := r.store.Head(ctx, r.key(p))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrObjectNotFound):
		return false, nil
	default:
		return false, r.mapError(err, p, r.key(p), "head")
	}
}

// IsDirectory reports whether p is not an object but has descendants.
func (r *RemoteProvider) IsDirectory(ctx context.Context, p interfaces.StoragePath) (bool, error) {
	if p.IsRoot() {
		return true, nil
	}

	exists, err := r.Exists(ctx, p)
	if err != nil || exists {
		return false, err
	}

	prefix := r.dirPrefix(p)
	objects, err := r.store.List(ctx, prefix, 1)
	if err != nil {
		return false, r.mapError(err, p, prefix, "list")
	}
	return len(objects) > 0, nil
}

// LastModifiedTime returns the modification time of the object at p or, for a
// directory, of its first descendant.
func (r *RemoteProvider) LastModifiedTime(ctx context.Context, p interfaces.StoragePath) (time.Time, error) {
	info, err := r.headOrDescendant(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	return info.LastModified, nil
}

// SizeBytes returns the size of the object at p or, for a directory, of its
// first descendant.
func (r *RemoteProvider) SizeBytes(ctx context.Context, p interfaces.StoragePath) (int64, error) {
	info, err := r.headOrDescendant(ctx, p)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// IsFull always reports false; object storage has no capacity accounting here.
func (r *RemoteProvider) IsFull(ctx context.Context) (bool, error) {
	return false, nil
}

// UsageBytes is not supported by object storage.
func (r *RemoteProvider) UsageBytes(ctx context.Context) (int64, error) {
	return 0, errors.ErrUnsupported
}

// CanHold always reports true.
func (r *RemoteProvider) CanHold(ctx context.Context, contentLength int64) (bool, error) {
	return true, nil
}

// Name returns a unique identifier for this storage backend.
func (r *RemoteProvider) Name() string {
	return fmt.Sprintf("remote-%s", r.store.Bucket())
}

// LocationURI returns the URI that identifies this storage backend.
func (r *RemoteProvider) LocationURI() string {
	return r.locationURI
}

func (r *RemoteProvider) headOrDescendant(ctx context.Context, p interfaces.StoragePath) (ObjectInfo, error) {
	if p.IsRoot() {
		return ObjectInfo{LastModified: time.Now()}, nil
	}

	info, err := r.store.Head(ctx, r.key(p))
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return ObjectInfo{}, r.mapError(err, p, r.key(p), "head")
	}

	descendant, err := r.firstDescendant(ctx, p)
	if err != nil {
		return ObjectInfo{}, err
	}

	info, err = r.store.Head(ctx, descendant.Key)
	if err != nil {
		return ObjectInfo{}, r.mapError(err, p, descendant.Key, "head")
	}
	return info, nil
}

// firstDescendant returns the first object below p, or NotFound when there is none.
func (r *RemoteProvider) firstDescendant(ctx context.Context, p interfaces.StoragePath) (ObjectInfo, error) {
	prefix := r.dirPrefix(p)
	objects, err := r.store.List(ctx, prefix, 1)
	if err != nil {
		return ObjectInfo{}, r.mapError(err, p, prefix, "list")
	}
	if len(objects) == 0 {
		return ObjectInfo{}, interfaces.NotFound("%s not found", p)
	}
	return objects[0], nil
}

// key returns the object key of p.
func (r *RemoteProvider) key(p interfaces.StoragePath) string {
	if r.prefix == "" {
		return p.String()
	}
	if p.IsRoot() {
		return r.prefix
	}
	return r.prefix + "/" + p.String()
}

// dirPrefix returns the listing prefix of the directory p, with a trailing slash.
func (r *RemoteProvider) dirPrefix(p interfaces.StoragePath) string {
	if p.IsRoot() {
		if r.prefix == "" {
			return ""
		}
		return r.prefix + "/"
	}
	return r.key(p) + "/"
}

func (r *RemoteProvider) mapError(err error, p interfaces.StoragePath, key string, op string) error {
	if errors.Is(err, ErrObjectNotFound) {
		return interfaces.NotFound("%s not found", p)
	}

	r.log.Error("Object storage operation failed",
		slog.String("op", op),
		slog.String("bucket", r.store.Bucket()),
		slog.String("key", key),
		"err", err)
	return interfaces.BackendFailure(err, "failed to %s %s", op, p)
}
