package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/zlnvch/webnotes/models"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) GetUser(ctx context.Context, userId string) (models.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockCache) SetUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockCache) InvalidateUser(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
