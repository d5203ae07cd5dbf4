package api

import (
	"context"

	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Login(ctx context.Context, email, password string) (*types.Session, error) {
	args := m.Called(ctx, email, password)
	if s, ok := args.Get(0).(*types.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Register(ctx context.Context, req RegisterRequest) (*types.Session, error) {
	args := m.Called(ctx, req)
	if s, ok := args.Get(0).(*types.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Profile(ctx context.Context) (*types.User, error) {
	args := m.Called(ctx)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) UpdateProfile(ctx context.Context, update ProfileUpdate) (*types.User, error) {
	args := m.Called(ctx, update)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) ListRooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	if r, ok := args.Get(0).([]types.Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) GetRoom(ctx context.Context, id string) (*types.Room, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*types.Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) CreateRoom(ctx context.Context, req CreateRoomRequest) (*types.Room, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*types.Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) JoinRoom(ctx context.Context, id, accessCode string) error {
	args := m.Called(ctx, id, accessCode)
	return args.Error(0)
}

func (m *MockClient) LeaveRoom(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockClient) UpdateRoomStatus(ctx context.Context, id string, status types.RoomStatus) (*types.Room, error) {
	args := m.Called(ctx, id, status)
	if r, ok := args.Get(0).(*types.Room); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) PostMessage(ctx context.Context, id, content string) error {
	args := m.Called(ctx, id, content)
	return args.Error(0)
}

func (m *MockClient) GetUser(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	_ AuthService = (*MockClient)(nil)
	_ RoomService = (*MockClient)(nil)
	_ UserService = (*MockClient)(nil)
)
