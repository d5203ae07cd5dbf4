package api

import (
	"context"

	"github.com/npezzotti/chatterbox/internal/types"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (*types.Session, error)
	Register(ctx context.Context, req RegisterRequest) (*types.Session, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*types.User, error)
	UpdateProfile(ctx context.Context, update ProfileUpdate) (*types.User, error)
}

type RoomService interface {
	ListRooms(ctx context.Context) ([]types.Room, error)
	GetRoom(ctx context.Context, id string) (*types.Room, error)
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*types.Room, error)
	JoinRoom(ctx context.Context, id, accessCode string) error
	LeaveRoom(ctx context.Context, id string) error
	UpdateRoomStatus(ctx context.Context, id string, status types.RoomStatus) (*types.Room, error)
	PostMessage(ctx context.Context, id, content string) error
}

type UserService interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
}

var (
	_ AuthService = (*Client)(nil)
	_ RoomService = (*Client)(nil)
	_ UserService = (*Client)(nil)
)
