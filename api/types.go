package api

import (
	"time"

	"github.com/ruteri/artifact-repository-backend/deploy"
	"github.com/ruteri/artifact-repository-backend/interfaces"
)

const (
	// LatestFileName is the pseudo-file that resolves to the newest version
	// of an artifact directory.
	LatestFileName = "latest"

	// ContentLengthHeader carries the deployed size in deploy responses.
	ContentLengthHeader = "Content-Length"
)

// ErrorResponse is the body of every non-2xx response. Error carries the
// human-readable reason, Kind the stable taxonomy kind.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// FileDetails mirrors interfaces.FileDetails on the wire. The date only has
// day precision.
type FileDetails struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	Date          string `json:"date"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
}

// FileDetailsFrom converts storage details into their wire form.
func FileDetailsFrom(d *interfaces.FileDetails) FileDetails {
	return FileDetails{
		Type:          d.Type.String(),
		Name:          d.Name,
		Date:          d.LastModified.UTC().Format(interfaces.DateFormat),
		ContentType:   d.ContentType,
		ContentLength: d.ContentLength,
	}
}

// IsDirectory reports whether the entry is a directory.
func (d FileDetails) IsDirectory() bool {
	return d.Type == interfaces.FileTypeDirectory.String()
}

// Time parses the date of the entry.
func (d FileDetails) Time() (time.Time, error) {
	return time.Parse(interfaces.DateFormat, d.Date)
}

// DirectoryListing is returned for directory reads.
type DirectoryListing struct {
	Path  string        `json:"path"`
	Files []FileDetails `json:"files"`
}

// RepositoriesResponse lists the configured repositories.
type RepositoriesResponse struct {
	Repositories []string `json:"repositories"`
}

// RepositoryStatus is one entry of the admin status report. UsageBytes is
// omitted when the backend cannot account for usage.
type RepositoryStatus struct {
	Name          string `json:"name"`
	DeployEnabled bool   `json:"deploy_enabled"`
	QuotaBytes    int64  `json:"quota_bytes,omitempty"`
	Storage       string `json:"storage"`
	UsageBytes    *int64 `json:"usage_bytes,omitempty"`
	Full          bool   `json:"full"`
	Error         string `json:"error,omitempty"`
}

// StatusResponse is returned by the admin status endpoint.
type StatusResponse struct {
	Version      string             `json:"version"`
	Ready        bool               `json:"ready"`
	Repositories []RepositoryStatus `json:"repositories"`
}

// AuditResponse lists the most recent deploys of a repository, newest first.
type AuditResponse struct {
	Repository string               `json:"repository"`
	Records    []deploy.AuditRecord `json:"records"`
}
