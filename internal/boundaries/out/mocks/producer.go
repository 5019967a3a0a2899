package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

var _ out.BackupProducer = (*MockBackupProducer)(nil)

// MockBackupProducer is a mock implementation of out.BackupProducer
type MockBackupProducer struct {
	mock.Mock
}

// NewMockBackupProducer creates a mock that asserts its expectations on cleanup.
func NewMockBackupProducer(t mock.TestingT) *MockBackupProducer {
	m := &MockBackupProducer{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

func (m *MockBackupProducer) ProduceBackup(ctx context.Context, dbName string, kind domain.ArtifactKind) (*out.BackupPayload, error) {
	args := m.Called(ctx, dbName, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*out.BackupPayload), args.Error(1)
}

func (m *MockBackupProducer) DropDatabase(ctx context.Context, dbName string) (string, error) {
	args := m.Called(ctx, dbName)
	return args.String(0), args.Error(1)
}

func (m *MockBackupProducer) RestoreDatabase(ctx context.Context, artifactPath, dbName string, asCopy bool) (string, error) {
	args := m.Called(ctx, artifactPath, dbName, asCopy)
	return args.String(0), args.Error(1)
}

func (m *MockBackupProducer) DuplicateDatabase(ctx context.Context, source, target string) (string, error) {
	args := m.Called(ctx, source, target)
	return args.String(0), args.Error(1)
}
