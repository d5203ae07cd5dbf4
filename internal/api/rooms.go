package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/npezzotti/chatterbox/internal/types"
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
	AccessCode  string `json:"accessCode,omitempty"`
}

type JoinRoomRequest struct {
	AccessCode string `json:"accessCode,omitempty"`
}

type UpdateStatusRequest struct {
	Status types.RoomStatus `json:"status"`
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func roomPath(id string, rest ...string) string {
	p := "/api/rooms/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) ListRooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/rooms",
	}, &rooms); err != nil {
		return nil, err
	}

	return rooms, nil
}

func (c *Client) GetRoom(ctx context.Context, id string) (*types.Room, error) {
	var room types.Room
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   roomPath(id),
	}, &room); err != nil {
		return nil, err
	}

	return &room, nil
}

// CreateRoom creates a room. The access code is only sent for private rooms.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*types.Room, error) {
	if req.IsPublic {
		req.AccessCode = ""
	}

	var room types.Room
	if _, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/rooms",
		body:   req,
	}, &room); err != nil {
		return nil, err
	}

	return &room, nil
}

// JoinRoom asks the backend to admit the current user, verifying accessCode
// for private rooms.
func (c *Client) JoinRoom(ctx context.Context, id, accessCode string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   roomPath(id, "join"),
		body:   JoinRoomRequest{AccessCode: accessCode},
	}, nil)
	return err
}

func (c *Client) LeaveRoom(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   roomPath(id, "leave"),
	}, nil)
	return err
}

func (c *Client) UpdateRoomStatus(ctx context.Context, id string, status types.RoomStatus) (*types.Room, error) {
	var room types.Room
	if _, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   roomPath(id, "status"),
		body:   UpdateStatusRequest{Status: status},
	}, &room); err != nil {
		return nil, err
	}

	return &room, nil
}

// PostMessage stores a message through the HTTP API instead of the socket.
func (c *Client) PostMessage(ctx context.Context, id, content string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   roomPath(id, "messages"),
		body:   PostMessageRequest{Content: content},
	}, nil)
	return err
}

func (c *Client) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/users/" + url.PathEscape(id),
	}, &user); err != nil {
		return nil, err
	}

	return &user, nil
}
