package metadata

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"hash"
	"strings"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
)

// LastUpdatedFormat is the timestamp layout of <lastUpdated>.
const LastUpdatedFormat = "20060102150405"

// checksums maps checksum sibling suffixes to their hash.
var checksums = map[string]func() hash.Hash{
	".md5":    md5.New,
	".sha1":   sha1.New,
	".sha256": sha256.New,
	".sha512": sha512.New,
}

// DocumentNames lists the index document and its checksum siblings, in the
// order they are written.
var DocumentNames = []string{
	interfaces.IndexDocumentName,
	interfaces.IndexDocumentName + ".md5",
	interfaces.IndexDocumentName + ".sha1",
	interfaces.IndexDocumentName + ".sha256",
	interfaces.IndexDocumentName + ".sha512",
}

// IsDocumentName reports whether name is the index document or a known checksum sibling.
func IsDocumentName(name string) bool {
	for _, known := range DocumentNames {
		if name == known {
			return true
		}
	}
	return false
}

type mavenMetadata struct {
	XMLName    xml.Name   `xml:"metadata"`
	GroupID    string     `xml:"groupId,omitempty"`
	ArtifactID string     `xml:"artifactId"`
	Version    string     `xml:"version,omitempty"`
	Versioning versioning `xml:"versioning"`
}

type versioning struct {
	Latest      string   `xml:"latest,omitempty"`
	Release     string   `xml:"release,omitempty"`
	Versions    []string `xml:"versions>version,omitempty"`
	LastUpdated string   `xml:"lastUpdated"`
}

// Generate builds the maven-metadata.xml document of dir. A directory holding
// version directories is an artifact directory and lists its versions; a
// directory holding only files is a version directory.
func Generate(ctx context.Context, provider interfaces.StorageProvider, dir interfaces.StoragePath, now time.Time) ([]byte, error) {
	if dir.Len() < 2 {
		return nil, interfaces.NotFound("no metadata for %s", dir)
	}

	directories, files, err := classifyChildren(ctx, provider, dir)
	if err != nil {
		return nil, err
	}
	if len(directories) == 0 && len(files) == 0 {
		return nil, interfaces.NotFound("no artifacts under %s", dir)
	}

	doc := mavenMetadata{
		Versioning: versioning{LastUpdated: now.UTC().Format(LastUpdatedFormat)},
	}

	if len(directories) > 0 {
		versions := make([]string, 0, len(directories))
		for _, d := range directories {
			versions = append(versions, d.Name())
		}
		SortVersions(versions)

		doc.GroupID = groupID(dir.Parent())
		doc.ArtifactID = dir.Name()
		doc.Versioning.Versions = versions
		doc.Versioning.Latest = versions[len(versions)-1]
		doc.Versioning.Release = latestRelease(versions)
	} else {
		artifact := dir.Parent()
		doc.GroupID = groupID(artifact.Parent())
		doc.ArtifactID = artifact.Name()
		doc.Version = dir.Name()
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, interfaces.BackendFailure(err, "failed to encode metadata")
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// Documents returns the index document and every checksum sibling keyed by name.
func Documents(xmlDoc []byte) map[string][]byte {
	docs := make(map[string][]byte, len(checksums)+1)
	docs[interfaces.IndexDocumentName] = xmlDoc
	for suffix, newHash := range checksums {
		h := newHash()
		h.Write(xmlDoc)
		docs[interfaces.IndexDocumentName+suffix] = []byte(hex.EncodeToString(h.Sum(nil)))
	}
	return docs
}

// LatestVersion returns the highest version directory under the artifact directory dir.
func LatestVersion(ctx context.Context, provider interfaces.StorageProvider, dir interfaces.StoragePath) (string, error) {
	directories, _, err := classifyChildren(ctx, provider, dir)
	if err != nil {
		return "", err
	}
	if len(directories) == 0 {
		return "", interfaces.NotFound("latest version not found")
	}

	versions := make([]string, 0, len(directories))
	for _, d := range directories {
		versions = append(versions, d.Name())
	}
	SortVersions(versions)
	return versions[len(versions)-1], nil
}

func classifyChildren(ctx context.Context, provider interfaces.StorageProvider, dir interfaces.StoragePath) (directories, files []interfaces.StoragePath, err error) {
	entries, err := provider.ListFiles(ctx, dir)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, nil, interfaces.NotFound("no artifacts under %s", dir)
		}
		return nil, nil, err
	}

	for _, child := range interfaces.ImmediateChildren(entries) {
		if interfaces.IsIndexDocument(child) {
			continue
		}
		full := dir.Resolve(child)
		isDir, err := provider.IsDirectory(ctx, full)
		if err != nil {
			return nil, nil, err
		}
		if isDir {
			directories = append(directories, full)
		} else {
			files = append(files, full)
		}
	}
	return directories, files, nil
}

func latestRelease(versions []string) string {
	for i := len(versions) - 1; i >= 0; i-- {
		if !IsSnapshot(versions[i]) {
			return versions[i]
		}
	}
	return ""
}

func groupID(p interfaces.StoragePath) string {
	return strings.Join(p.Segments(), ".")
}
