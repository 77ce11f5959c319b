// Package registry resolves repository names to their policy and storage.
//
// The repository set is built from configuration and held as an immutable
// snapshot. Apply builds the next snapshot and swaps it in atomically, so a
// configuration reload never exposes a half-updated repository. Storage
// providers are reused across reloads when a repository keeps its location and
// quota.
//
// # Layout
//
// ToStoragePath implements the Maven repository layout: the group id is split
// on dots, followed by the artifact id, the version and the file name
// artifactId-version[-classifier].extension.
//
// # Usage Example
//
//	reg := registry.New(storageFactory, logger)
//	if err := reg.Apply(ctx, cfg.Repositories); err != nil {
//	    log.Fatalf("Failed to load repositories: %v", err)
//	}
//
//	repo, err := reg.Resolve("releases")
//	path, err := reg.ToStoragePath(repo, coordinate)
package registry
