package interfaces

import (
	"context"
	"strings"
)

// IndexDocumentName is the name of the derived per-directory index document.
// Checksum siblings (maven-metadata.xml.sha1, .md5) share the prefix.
const IndexDocumentName = "maven-metadata.xml"

// IsIndexDocument reports whether p names an index document or one of its
// checksum siblings.
func IsIndexDocument(p StoragePath) bool {
	return strings.HasPrefix(p.Name(), IndexDocumentName)
}

// IndexDocumentFor returns the index document path of the directory containing p.
func IndexDocumentFor(p StoragePath) StoragePath {
	return p.Parent().Resolve(StoragePath{p: IndexDocumentName})
}

// RepositoryPolicy is the per-repository deploy policy. It is replaced as a
// whole on configuration reload and never mutated in place.
type RepositoryPolicy struct {
	DeployEnabled bool
	// QuotaBytes is the capacity limit in bytes; 0 means no quota.
	QuotaBytes int64
}

// HasQuota reports whether a quota is configured.
func (p RepositoryPolicy) HasQuota() bool {
	return p.QuotaBytes > 0
}

// Repository binds a name to its policy and storage provider for the lifetime
// of one configuration snapshot.
type Repository struct {
	Name    string
	Policy  RepositoryPolicy
	Storage StorageProvider
}

// Coordinate identifies an artifact either by Maven coordinates or by a raw
// repository-relative file path.
type Coordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
	Classifier string
	Extension  string

	// File is a repository-relative file path. When set, the GAV fields are ignored.
	File string
}

// ParseCoordinate accepts either groupId:artifactId[:extension[:classifier]]:version
// or a slash-separated file path.
func ParseCoordinate(s string) (Coordinate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Coordinate{}, InvalidPath("empty coordinate")
	}
	if strings.ContainsAny(s, "/\\") || !strings.Contains(s, ":") {
		return Coordinate{File: s}, nil
	}

	parts := strings.Split(s, ":")
	for _, part := range parts {
		if part == "" {
			return Coordinate{}, InvalidPath("invalid coordinate %q", s)
		}
	}

	c := Coordinate{GroupID: parts[0], ArtifactID: parts[1], Version: parts[len(parts)-1]}
	switch len(parts) {
	case 3:
	case 4:
		c.Extension = parts[2]
	case 5:
		c.Extension = parts[2]
		c.Classifier = parts[3]
	default:
		return Coordinate{}, InvalidPath("invalid coordinate %q", s)
	}
	return c, nil
}

// IsGAV reports whether the coordinate uses Maven coordinates.
func (c Coordinate) IsGAV() bool {
	return c.File == ""
}

// String renders the coordinate in the form accepted by ParseCoordinate.
func (c Coordinate) String() string {
	if !c.IsGAV() {
		return c.File
	}
	parts := []string{c.GroupID, c.ArtifactID}
	if c.Extension != "" {
		parts = append(parts, c.Extension)
		if c.Classifier != "" {
			parts = append(parts, c.Classifier)
		}
	}
	return strings.Join(append(parts, c.Version), ":")
}

// DeployRequest is produced by the HTTP layer and owned by the deploy call for
// its duration.
type DeployRequest struct {
	Repository string
	Coordinate Coordinate
	Content    Content
	// Principal is the authenticated name the artifact is deployed by.
	Principal string
}

// RepositoryRegistry resolves repository names to their policy and storage.
type RepositoryRegistry interface {
	// Resolve returns the repository or ErrNotFound.
	Resolve(name string) (*Repository, error)

	// ToStoragePath converts a coordinate into a path inside the repository, or
	// fails with ErrInvalidPath (including traversal attempts).
	ToStoragePath(repository *Repository, coordinate Coordinate) (StoragePath, error)

	// Names lists the configured repositories in a stable order.
	Names() []string
}

// MetadataIndex caches and regenerates derived index documents.
type MetadataIndex interface {
	// Invalidate drops any cached state of the index document at indexPath.
	Invalidate(ctx context.Context, repository string, indexPath StoragePath) error

	// FetchOrRebuild returns the index document at indexPath (or one of its
	// checksum siblings), generating and storing it when no cached copy exists.
	FetchOrRebuild(ctx context.Context, repository *Repository, indexPath StoragePath) (*FileDetails, error)
}
