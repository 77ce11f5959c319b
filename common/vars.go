// Package common holds process-wide helpers shared by the commands.
package common

var (
	// Version is set at build time with -ldflags "-X .../common.Version=..."
	Version = "dev"

	// PackageName prefixes exported metrics.
	PackageName = "artifact_repository"
)
