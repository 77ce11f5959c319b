package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageProviderFactory(t *testing.T) {
	ctx := context.Background()
	factory := NewStorageProviderFactory(slog.Default(), nil)
	dir := t.TempDir()

	tests := []struct {
		name     string
		uri      string
		wantErr  bool
		wantType interface{}
	}{
		{name: "file", uri: "file://" + filepath.ToSlash(dir), wantType: &LocalProvider{}},
		{name: "s3", uri: "s3://bucket/releases?region=eu-west-1", wantType: &RemoteProvider{}},
		{name: "s3 with embedded credentials", uri: "s3://AKID:SECRET@bucket/releases?endpoint=http://localhost:9000&path_style=true", wantType: &RemoteProvider{}},
		{name: "minio without bucket", uri: "minio://localhost:9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := interfaces.NewStorageBackendLocation(tt.uri)
			require.NoError(t, err)

			provider, err := factory.StorageProviderFor(ctx, location, 0)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			pooled, ok := provider.(*PooledProvider)
			require.True(t, ok, "providers are pooled")
			assert.IsType(t, tt.wantType, pooled.Unwrap())
			assert.NotContains(t, provider.LocationURI(), "SECRET")
		})
	}
}

func TestStorageBackendLocation(t *testing.T) {
	_, err := interfaces.NewStorageBackendLocation("ipfs://localhost:5001")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = interfaces.NewStorageBackendLocation("://bad")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	location, err := interfaces.NewStorageBackendLocation("s3://AKID:SECRET@bucket/p?region=eu-west-1&path_style=true")
	require.NoError(t, err)
	assert.Equal(t, "bucket", location.Host)
	assert.Equal(t, "eu-west-1", location.GetParam("region"))
	assert.True(t, location.GetParamBool("path_style"))
	assert.False(t, strings.Contains(location.String(), "SECRET"))
}

func TestLocalProviderQuotaFromFactory(t *testing.T) {
	ctx := context.Background()
	factory := NewStorageProviderFactory(slog.Default(), nil)

	location, err := interfaces.NewStorageBackendLocation("file://" + filepath.ToSlash(t.TempDir()))
	require.NoError(t, err)

	provider, err := factory.StorageProviderFor(ctx, location, 10)
	require.NoError(t, err)

	_, err = provider.PutFile(ctx, interfaces.MustParsePath("a.bin"), interfaces.BytesContent(make([]byte, 10)))
	require.NoError(t, err)

	full, err := provider.IsFull(ctx)
	require.NoError(t, err)
	assert.True(t, full)
}

func TestLocalStagingCleanedOncePerDirectory(t *testing.T) {
	ctx := context.Background()
	factory := NewStorageProviderFactory(slog.Default(), nil)
	dir := t.TempDir()
	staging := filepath.Join(dir, stagingDirName)
	require.NoError(t, os.MkdirAll(staging, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "interrupted"), []byte("x"), 0644))

	location, err := interfaces.NewStorageBackendLocation("file://" + filepath.ToSlash(dir))
	require.NoError(t, err)

	_, err = factory.StorageProviderFor(ctx, location, 0)
	require.NoError(t, err)
	staged, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, staged)

	// An upload of the first provider is in flight when the second is built
	require.NoError(t, os.WriteFile(filepath.Join(staging, "in-flight"), []byte("x"), 0644))
	_, err = factory.StorageProviderFor(ctx, location, 1000)
	require.NoError(t, err)
	staged, err = os.ReadDir(staging)
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}
