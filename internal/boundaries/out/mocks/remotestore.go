package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

var _ out.RemoteStore = (*MockRemoteStore)(nil)

// MockRemoteStore is a mock implementation of out.RemoteStore
type MockRemoteStore struct {
	mock.Mock
}

// NewMockRemoteStore creates a mock that asserts its expectations on cleanup.
func NewMockRemoteStore(t mock.TestingT) *MockRemoteStore {
	m := &MockRemoteStore{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

func (m *MockRemoteStore) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRemoteStore) Upload(ctx context.Context, localPath, key string) error {
	args := m.Called(ctx, localPath, key)
	return args.Error(0)
}

func (m *MockRemoteStore) Download(ctx context.Context, key, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

func (m *MockRemoteStore) List(ctx context.Context) ([]domain.RemoteObjectRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RemoteObjectRecord), args.Error(1)
}

func (m *MockRemoteStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
