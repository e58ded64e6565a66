// Package testutil provides shared mocks for the ports used across the
// service and adapter tests.
package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// MockChecker mocks ports.BindChecker.
type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) CheckZone(ctx context.Context, zoneName, path string) (string, error) {
	args := m.Called(zoneName, path)
	return args.String(0), args.Error(1)
}

func (m *MockChecker) CheckConf(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockChecker) Reload(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockChecker) NamedRunning(ctx context.Context) bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockChecker) RndcStatus(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockChecker) ResolveLocalhost(ctx context.Context, name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

// MockTarget mocks ports.Target.
type MockTarget struct {
	mock.Mock
	Srv domain.Server
}

func (m *MockTarget) Server() domain.Server { return m.Srv }

func (m *MockTarget) WriteZoneFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	args := m.Called(zoneName, data, validZones)
	return args.String(0), args.Error(1)
}

func (m *MockTarget) WriteConfFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	args := m.Called(zoneName, data, validZones)
	return args.String(0), args.Error(1)
}

func (m *MockTarget) CheckZone(ctx context.Context, zoneName string) (string, error) {
	args := m.Called(zoneName)
	return args.String(0), args.Error(1)
}

func (m *MockTarget) CheckConf(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockTarget) Reload(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockTarget) Status(ctx context.Context) (*domain.AgentStatus, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AgentStatus), args.Error(1)
}

// MockLock mocks ports.PublishLock.
type MockLock struct {
	mock.Mock
}

func (m *MockLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	args := m.Called(ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLock) Release(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
