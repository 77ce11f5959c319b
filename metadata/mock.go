package metadata

import (
	"context"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockMetadataIndex is a testify mock of interfaces.MetadataIndex.
type MockMetadataIndex struct {
	mock.Mock
}

func (m *MockMetadataIndex) Invalidate(ctx context.Context, repository string, indexPath interfaces.StoragePath) error {
	args := m.Called(ctx, repository, indexPath)
	return args.Error(0)
}

func (m *MockMetadataIndex) FetchOrRebuild(ctx context.Context, repository *interfaces.Repository, indexPath interfaces.StoragePath) (*interfaces.FileDetails, error) {
	args := m.Called(ctx, repository, indexPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.FileDetails), args.Error(1)
}
