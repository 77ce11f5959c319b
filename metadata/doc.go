// Package metadata maintains the derived maven-metadata.xml documents of a
// repository.
//
// Documents are never accepted from clients. After a deploy the orchestrator
// invalidates the documents of the affected directories; the next read
// regenerates them from the storage listing, writes them (with .md5, .sha1,
// .sha256 and .sha512 checksum siblings) back to storage and caches them,
// either in process (MemoryCache) or in a shared Redis (RedisCache).
package metadata
