package storage

import (
	"context"
	"time"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockStorageProvider mocks the StorageProvider interface
type MockStorageProvider struct {
	mock.Mock
}

// PutFile mocks the PutFile method
func (m *MockStorageProvider) PutFile(ctx context.Context, path interfaces.StoragePath, content interfaces.Content) (*interfaces.FileDetails, error) {
	args := m.Called(ctx, path, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.FileDetails), args.Error(1)
}

// GetFile mocks the GetFile method
func (m *MockStorageProvider) GetFile(ctx context.Context, path interfaces.StoragePath) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// GetFileDetails mocks the GetFileDetails method
func (m *MockStorageProvider) GetFileDetails(ctx context.Context, path interfaces.StoragePath) (*interfaces.FileDetails, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.FileDetails), args.Error(1)
}

// RemoveFile mocks the RemoveFile method
func (m *MockStorageProvider) RemoveFile(ctx context.Context, path interfaces.StoragePath) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

// ListFiles mocks the ListFiles method
func (m *MockStorageProvider) ListFiles(ctx context.Context, directory interfaces.StoragePath) ([]interfaces.StoragePath, error) {
	args := m.Called(ctx, directory)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.StoragePath), args.Error(1)
}

// Exists mocks the Exists method
func (m *MockStorageProvider) Exists(ctx context.Context, path interfaces.StoragePath) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

// IsDirectory mocks the IsDirectory method
func (m *MockStorageProvider) IsDirectory(ctx context.Context, path interfaces.StoragePath) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

// LastModifiedTime mocks the LastModifiedTime method
func (m *MockStorageProvider) LastModifiedTime(ctx context.Context, path interfaces.StoragePath) (time.Time, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(time.Time), args.Error(1)
}

// SizeBytes mocks the SizeBytes method
func (m *MockStorageProvider) SizeBytes(ctx context.Context, path interfaces.StoragePath) (int64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(int64), args.Error(1)
}

// IsFull mocks the IsFull method
func (m *MockStorageProvider) IsFull(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// UsageBytes mocks the UsageBytes method
func (m *MockStorageProvider) UsageBytes(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// CanHold mocks the CanHold method
func (m *MockStorageProvider) CanHold(ctx context.Context, contentLength int64) (bool, error) {
	args := m.Called(ctx, contentLength)
	return args.Bool(0), args.Error(1)
}

// Name returns a fixed identifier
func (m *MockStorageProvider) Name() string {
	return "mock"
}

// LocationURI returns a fixed URI
func (m *MockStorageProvider) LocationURI() string {
	return "mock:"
}
