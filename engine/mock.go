package engine

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// MockEngine mocks the interfaces.CryptoEngine interface.
type MockEngine struct {
	mock.Mock
}

// Setup mocks the Setup method.
func (m *MockEngine) Setup(ctx context.Context, securityLevel int) (interfaces.SetupParams, error) {
	args := m.Called(ctx, securityLevel)
	return args.Get(0).(interfaces.SetupParams), args.Error(1)
}

// KeyGen mocks the KeyGen method.
func (m *MockEngine) KeyGen(ctx context.Context, params interfaces.SetupParams, threshold, authorityCount int) (interfaces.KeyGenResult, error) {
	args := m.Called(ctx, params, threshold, authorityCount)
	return args.Get(0).(interfaces.KeyGenResult), args.Error(1)
}
