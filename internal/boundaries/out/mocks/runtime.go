package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

var (
	_ out.DatabaseRuntime = (*MockDatabaseRuntime)(nil)
	_ out.CommandRunner   = (*MockCommandRunner)(nil)
)

// MockDatabaseRuntime is a mock implementation of out.DatabaseRuntime
type MockDatabaseRuntime struct {
	mock.Mock
}

// NewMockDatabaseRuntime creates a mock that asserts its expectations on cleanup.
func NewMockDatabaseRuntime(t mock.TestingT) *MockDatabaseRuntime {
	m := &MockDatabaseRuntime{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

func (m *MockDatabaseRuntime) Topology() domain.Topology {
	args := m.Called()
	return args.Get(0).(domain.Topology)
}

// StageArtifact returns a cleanup that records a "cleanup" call on the mock.
func (m *MockDatabaseRuntime) StageArtifact(ctx context.Context, localPath string) (string, func(), error) {
	args := m.Called(ctx, localPath)
	if args.Error(1) != nil {
		return "", nil, args.Error(1)
	}
	return args.String(0), func() { m.MethodCalled("cleanup", args.String(0)) }, nil
}

func (m *MockDatabaseRuntime) RunRestoreTool(ctx context.Context, staged, dbName string) (*out.ExecResult, error) {
	args := m.Called(ctx, staged, dbName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*out.ExecResult), args.Error(1)
}

func (m *MockDatabaseRuntime) PlaceFilestore(ctx context.Context, archivePath, dbName string) error {
	args := m.Called(ctx, archivePath, dbName)
	return args.Error(0)
}

// MockCommandRunner is a mock implementation of out.CommandRunner
type MockCommandRunner struct {
	mock.Mock
}

// NewMockCommandRunner creates a mock that asserts its expectations on cleanup.
func NewMockCommandRunner(t mock.TestingT) *MockCommandRunner {
	m := &MockCommandRunner{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

func (m *MockCommandRunner) Run(ctx context.Context, name string, args ...string) (*out.ExecResult, error) {
	ret := m.Called(ctx, name, args)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(*out.ExecResult), ret.Error(1)
}
