package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"time"
)

// FileType distinguishes regular files from directories in FileDetails.
type FileType int

const (
	// FileTypeFile is a retrievable object.
	FileTypeFile FileType = iota
	// FileTypeDirectory is a directory, real or simulated by key prefixes.
	FileTypeDirectory
)

// String returns the wire name used in FileDetails JSON.
func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "FILE"
	case FileTypeDirectory:
		return "DIRECTORY"
	default:
		return "unknown"
	}
}

// DateFormat is the date-only format FileDetails uses on the wire.
const DateFormat = "2006-01-02"

const (
	// MimeOctetStream is the fallback content type.
	MimeOctetStream = "application/octet-stream"
	// MimePlain is used for synthetic entries without content.
	MimePlain = "text/plain"
)

// FileDetails describes a file or directory. It is an immutable value recomputed
// on every read.
type FileDetails struct {
	Type          FileType
	Name          string
	LastModified  time.Time
	ContentType   string
	ContentLength int64
}

// IsDirectory reports whether the details describe a directory.
func (d *FileDetails) IsDirectory() bool {
	return d.Type == FileTypeDirectory
}

type fileDetailsJSON struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	Date          string `json:"date"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
}

// MarshalJSON renders the date-only wire form.
func (d FileDetails) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileDetailsJSON{
		Type:          d.Type.String(),
		Name:          d.Name,
		Date:          d.LastModified.UTC().Format(DateFormat),
		ContentType:   d.ContentType,
		ContentLength: d.ContentLength,
	})
}

// NewFileDetails builds FILE details, deriving the content type from the name.
func NewFileDetails(name string, size int64, modified time.Time) *FileDetails {
	return &FileDetails{
		Type:          FileTypeFile,
		Name:          name,
		LastModified:  modified,
		ContentType:   MimeTypeOf(name),
		ContentLength: size,
	}
}

// NewDirectoryDetails builds DIRECTORY details.
func NewDirectoryDetails(name string, modified time.Time) *FileDetails {
	return &FileDetails{
		Type:         FileTypeDirectory,
		Name:         name,
		LastModified: modified,
		ContentType:  MimeOctetStream,
	}
}

// RootDetails is the synthetic entry every backend returns for the repository root.
func RootDetails() *FileDetails {
	return NewDirectoryDetails("", time.Now())
}

var extraMimeTypes = map[string]string{
	".pom":    "application/xml",
	".jar":    "application/java-archive",
	".md5":    MimePlain,
	".sha1":   MimePlain,
	".sha256": MimePlain,
	".sha512": MimePlain,
	".asc":    MimePlain,
	".module": "application/json",
}

// MimeTypeOf returns the content type for a file name, falling back to
// application/octet-stream.
func MimeTypeOf(name string) string {
	ext := path.Ext(name)
	if t, ok := extraMimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return MimeOctetStream
}

// Content is an upload payload. Length is the declared size in bytes, or -1
// when unknown. Backends must not consume more than a known Length and must fail
// when the stream disagrees with it.
type Content struct {
	Reader io.Reader
	Length int64
}

// BytesContent wraps an in-memory payload.
func BytesContent(b []byte) Content {
	return Content{Reader: bytes.NewReader(b), Length: int64(len(b))}
}

// StreamContent wraps a stream of optionally known length (-1 when unknown).
func StreamContent(r io.Reader, length int64) Content {
	return Content{Reader: r, Length: length}
}

// KnownLength reports whether the payload declared its size.
func (c Content) KnownLength() bool {
	return c.Length >= 0
}

// StorageProvider is the uniform contract over every storage backend. Paths use
// the canonical StoragePath form; callers never need to know which backend they
// talk to. Every error returned is a *StorageError.
type StorageProvider interface {
	// PutFile writes content at path, creating implied directories and
	// overwriting an existing file. Details describe this caller's payload.
	PutFile(ctx context.Context, path StoragePath, content Content) (*FileDetails, error)

	// GetFile returns the file content, or ErrNotFound.
	GetFile(ctx context.Context, path StoragePath) ([]byte, error)

	// GetFileDetails describes path. The root always resolves to a directory.
	GetFileDetails(ctx context.Context, path StoragePath) (*FileDetails, error)

	// RemoveFile deletes the file at path, or returns ErrNotFound.
	RemoveFile(ctx context.Context, path StoragePath) error

	// ListFiles returns entries relative to directory in a stable order.
	// Flat object stores may return deeper descendants; see ImmediateChildren.
	ListFiles(ctx context.Context, directory StoragePath) ([]StoragePath, error)

	// Exists reports whether a retrievable file exists at path.
	Exists(ctx context.Context, path StoragePath) (bool, error)

	// IsDirectory reports whether path is not a file but has descendants.
	IsDirectory(ctx context.Context, path StoragePath) (bool, error)

	// LastModifiedTime returns the modification time of path.
	LastModifiedTime(ctx context.Context, path StoragePath) (time.Time, error)

	// SizeBytes returns the size of the file at path.
	SizeBytes(ctx context.Context, path StoragePath) (int64, error)

	// IsFull reports whether the backend has reached its capacity. Backends
	// without capacity accounting report false.
	IsFull(ctx context.Context) (bool, error)

	// UsageBytes returns the bytes used by the repository, or
	// errors.ErrUnsupported when the backend cannot compute it.
	UsageBytes(ctx context.Context) (int64, error)

	// CanHold reports whether contentLength more bytes fit. Backends without
	// quota tracking return true.
	CanHold(ctx context.Context, contentLength int64) (bool, error)

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend, credentials masked.
	LocationURI() string
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string        // Original URI
	Scheme string        // Protocol
	Host   string        // Hostname
	Path   string        // Resource path
	Query  url.Values    // Query parameters
	User   *url.Userinfo // Credentials, if any
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "minio":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		User:   parsed.User,
	}, nil
}

// String returns the URI with any password masked.
func (loc StorageBackendLocation) String() string {
	u, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Scheme + "://" + loc.Host
	}
	return u.Redacted()
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
var ErrInvalidLocationURI = errors.New("invalid storage location URI")

// StorageProviderFactory creates storage providers from location URIs.
type StorageProviderFactory interface {
	// StorageProviderFor creates a provider for a location. quotaBytes of 0
	// means no quota is configured.
	StorageProviderFor(ctx context.Context, location StorageBackendLocation, quotaBytes int64) (StorageProvider, error)
}

// QuotaSetter is implemented by providers that enforce a quota themselves, so
// a policy change can be applied without rebuilding the provider.
type QuotaSetter interface {
	SetQuota(quotaBytes int64)
}
