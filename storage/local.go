package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/atomic"
)

// stagingDirName is the directory under the base dir holding in-flight uploads.
// It is not addressable through StoragePath.
const stagingDirName = ".staging"

// LocalProvider implements interfaces.StorageProvider on a local directory.
// StoragePath segments map verbatim onto the directory tree below baseDir.
// Uploads are staged and renamed into place, so readers never observe a
// partially written file.
type LocalProvider struct {
	baseDir     string
	stagingDir  string
	quotaBytes  *atomic.Int64
	log         *slog.Logger
	locationURI string

	// freeSpace reports the free bytes of the filesystem holding path.
	freeSpace func(ctx context.Context, path string) (uint64, error)
}

// NewLocalProvider creates a provider rooted at baseDir, creating it if needed.
// quotaBytes of 0 means capacity is bounded by the filesystem only.
// Staged files already present are left alone; see CleanStaging.
func NewLocalProvider(baseDir string, quotaBytes int64, log *slog.Logger) (*LocalProvider, error) {
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	stagingDir := filepath.Join(baseDir, stagingDirName)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &LocalProvider{
		baseDir:     baseDir,
		stagingDir:  stagingDir,
		quotaBytes:  atomic.NewInt64(quotaBytes),
		log:         log,
		locationURI: fmt.Sprintf("file://%s", filepath.ToSlash(baseDir)),
		freeSpace:   filesystemFreeSpace,
	}, nil
}

// SetQuota replaces the quota. Uploads in flight are not affected.
func (l *LocalProvider) SetQuota(quotaBytes int64) {
	l.quotaBytes.Store(quotaBytes)
}

// CleanStaging removes leftovers of interrupted uploads. It must only run
// while no upload to baseDir is in flight, i.e. before the provider serves.
func (l *LocalProvider) CleanStaging() error {
	entries, err := os.ReadDir(l.stagingDir)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(l.stagingDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to clean staging directory: %w", err)
		}
	}
	if len(entries) > 0 {
		l.log.Info("Removed interrupted uploads", slog.String("dir", l.baseDir), slog.Int("count", len(entries)))
	}
	return nil
}

func filesystemFreeSpace(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// PutFile streams content into a staging file and renames it into place.
func (l *LocalProvider) PutFile(ctx context.Context, p interfaces.StoragePath, content interfaces.Content) (*interfaces.FileDetails, error) {
	if p.IsRoot() {
		return nil, interfaces.InvalidPath("cannot write to the repository root")
	}

	target, err := l.resolve(p)
	if err != nil {
		return nil, err
	}

	if fi, err := os.Stat(target); err == nil && fi.IsDir() {
		return nil, interfaces.InvalidPath("%s is a directory", p)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EEXIST) {
			return nil, interfaces.InvalidPath("a parent of %s is a file", p)
		}
		return nil, interfaces.BackendFailure(err, "failed to create directories for %s", p)
	}

	stagingPath := filepath.Join(l.stagingDir, uuid.NewString())
	f, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, interfaces.BackendFailure(err, "failed to create staging file")
	}

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(stagingPath)
		}
	}()

	reader := newCheckedReader(content)
	if _, err := io.Copy(f, contextReader{ctx: ctx, r: reader}); err != nil {
		_ = f.Close()
		if isLengthMismatch(err) {
			return nil, interfaces.BackendFailure(err, "content length mismatch for %s", p)
		}
		return nil, interfaces.BackendFailure(err, "failed to write %s", p)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, interfaces.BackendFailure(err, "failed to write %s", p)
	}
	if err := f.Close(); err != nil {
		return nil, interfaces.BackendFailure(err, "failed to write %s", p)
	}

	if err := os.Rename(stagingPath, target); err != nil {
		if fi, statErr := os.Stat(target); statErr == nil && fi.IsDir() {
			return nil, interfaces.InvalidPath("%s is a directory", p)
		}
		return nil, interfaces.BackendFailure(err, "failed to commit %s", p)
	}
	committed = true

	l.log.Debug("Stored file",
		slog.String("path", p.String()),
		slog.Int64("size", reader.BytesRead()))

	return interfaces.NewFileDetails(p.Name(), reader.BytesRead(), fi.ModTime()), nil
}

// GetFile reads the whole file at p.
func (l *LocalProvider) GetFile(ctx context.Context, p interfaces.StoragePath) ([]byte, error) {
	fi, target, err := l.stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, interfaces.NotFound("%s is a directory", p)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, l.mapError(err, p, "read")
	}

	l.log.Debug("Fetched file",
		slog.String("path", p.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// GetFileDetails describes the file or directory at p.
func (l *LocalProvider) GetFileDetails(ctx context.Context, p interfaces.StoragePath) (*interfaces.FileDetails, error) {
	if p.IsRoot() {
		return interfaces.RootDetails(), nil
	}

	fi, _, err := l.stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return interfaces.NewDirectoryDetails(p.Name(), fi.ModTime()), nil
	}
	return interfaces.NewFileDetails(p.Name(), fi.Size(), fi.ModTime()), nil
}

// RemoveFile deletes the file at p. Directories left empty are kept.
func (l *LocalProvider) RemoveFile(ctx context.Context, p interfaces.StoragePath) error {
	fi, target, err := l.stat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return interfaces.NotFound("no file at %s", p)
	}

	if err := os.Remove(target); err != nil {
		return l.mapError(err, p, "remove")
	}

	l.log.Debug("Removed file", slog.String("path", p.String()))
	return nil
}

// ListFiles returns the immediate children of dir, sorted by name.
func (l *LocalProvider) ListFiles(ctx context.Context, dir interfaces.StoragePath) ([]interfaces.StoragePath, error) {
	fi, target, err := l.stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, interfaces.NotFound("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, l.mapError(err, dir, "list")
	}

	paths := make([]interfaces.StoragePath, 0, len(entries))
	for _, entry := range entries {
		if dir.IsRoot() && entry.Name() == stagingDirName {
			continue
		}
		child, err := interfaces.PathFromSegments(entry.Name())
		if err != nil {
			continue
		}
		paths = append(paths, child)
	}
	return paths, nil
}

// Exists reports whether a regular file is stored at p.
func (l *LocalProvider) Exists(ctx context.Context, p interfaces.StoragePath) (bool, error) {
	if p.IsRoot() {
		return false, nil
	}

	fi, _, err := l.stat(p)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return !fi.IsDir(), nil
}

// IsDirectory reports whether p is a directory. The root always is.
func (l *LocalProvider) IsDirectory(ctx context.Context, p interfaces.StoragePath) (bool, error) {
	if p.IsRoot() {
		return true, nil
	}

	fi, _, err := l.stat(p)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return fi.IsDir(), nil
}

// LastModifiedTime returns the modification time of p.
func (l *LocalProvider) LastModifiedTime(ctx context.Context, p interfaces.StoragePath) (time.Time, error) {
	details, err := l.GetFileDetails(ctx, p)
	if err != nil {
		return time.Time{}, err
	}
	return details.LastModified, nil
}

// SizeBytes returns the size of the file at p. Directories report 0.
func (l *LocalProvider) SizeBytes(ctx context.Context, p interfaces.StoragePath) (int64, error) {
	details, err := l.GetFileDetails(ctx, p)
	if err != nil {
		return 0, err
	}
	return details.ContentLength, nil
}

// IsFull compares usage against the quota when one is configured, otherwise
// reports whether the filesystem has no free space left.
func (l *LocalProvider) IsFull(ctx context.Context) (bool, error) {
	if quota := l.quotaBytes.Load(); quota > 0 {
		usage, err := l.UsageBytes(ctx)
		if err != nil {
			return false, err
		}
		return usage >= quota, nil
	}

	free, err := l.freeSpace(ctx, l.baseDir)
	if err != nil {
		return false, interfaces.BackendFailure(err, "failed to read filesystem usage")
	}
	return free == 0, nil
}

// UsageBytes sums the sizes of all stored regular files.
func (l *LocalProvider) UsageBytes(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(l.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries removed while walking are not an error
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path == l.stagingDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, interfaces.BackendFailure(err, "failed to compute repository usage")
	}
	return total, nil
}

// CanHold reports whether contentLength more bytes fit within the quota, or
// within the free filesystem space when no quota is configured.
func (l *LocalProvider) CanHold(ctx context.Context, contentLength int64) (bool, error) {
	if contentLength < 0 {
		contentLength = 0
	}

	if quota := l.quotaBytes.Load(); quota > 0 {
		usage, err := l.UsageBytes(ctx)
		if err != nil {
			return false, err
		}
		return usage+contentLength <= quota, nil
	}

	free, err := l.freeSpace(ctx, l.baseDir)
	if err != nil {
		return false, interfaces.BackendFailure(err, "failed to read filesystem usage")
	}
	return free >= uint64(contentLength), nil
}

// Name returns a unique identifier for this storage backend.
func (l *LocalProvider) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(l.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (l *LocalProvider) LocationURI() string {
	return l.locationURI
}

// resolve maps a storage path onto the filesystem.
func (l *LocalProvider) resolve(p interfaces.StoragePath) (string, error) {
	if p.First().String() == stagingDirName {
		return "", interfaces.InvalidPath("%s is reserved", stagingDirName)
	}
	return filepath.Join(l.baseDir, filepath.FromSlash(p.String())), nil
}

func (l *LocalProvider) stat(p interfaces.StoragePath) (fs.FileInfo, string, error) {
	target, err := l.resolve(p)
	if err != nil {
		if p.First().String() == stagingDirName {
			return nil, "", interfaces.NotFound("%s not found", p)
		}
		return nil, "", err
	}

	fi, err := os.Stat(target)
	if err != nil {
		return nil, "", l.mapError(err, p, "stat")
	}
	return fi, target, nil
}

// mapError translates filesystem errors into the storage error taxonomy.
func (l *LocalProvider) mapError(err error, p interfaces.StoragePath, op string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return interfaces.NotFound("%s not found", p)
	default:
		l.log.Error("Local storage operation failed",
			slog.String("op", op),
			slog.String("path", p.String()),
			"err", err)
		return interfaces.BackendFailure(err, "failed to %s %s", op, p)
	}
}

// contextReader stops a long copy once the request is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
