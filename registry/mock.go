package registry

import (
	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the RepositoryRegistry interface
type MockRegistry struct {
	mock.Mock
}

// Resolve mocks the Resolve method
func (m *MockRegistry) Resolve(name string) (*interfaces.Repository, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Repository), args.Error(1)
}

// ToStoragePath mocks the ToStoragePath method
func (m *MockRegistry) ToStoragePath(repository *interfaces.Repository, coordinate interfaces.Coordinate) (interfaces.StoragePath, error) {
	args := m.Called(repository, coordinate)
	return args.Get(0).(interfaces.StoragePath), args.Error(1)
}

// Names mocks the Names method
func (m *MockRegistry) Names() []string {
	args := m.Called()
	return args.Get(0).([]string)
}
