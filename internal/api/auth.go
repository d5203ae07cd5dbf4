package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/npezzotti/chatterbox/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate carries the optional fields of a profile change. Empty
// fields are not sent.
type ProfileUpdate struct {
	DisplayName     string
	Avatar          io.Reader
	AvatarName      string
	CurrentPassword string
	NewPassword     string
}

func (c *Client) Login(ctx context.Context, email, password string) (*types.Session, error) {
	return c.authenticate(ctx, "/api/auth/login", LoginRequest{
		Email:    email,
		Password: password,
	})
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*types.Session, error) {
	return c.authenticate(ctx, "/api/auth/register", req)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*types.Session, error) {
	var user types.User
	env, err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      path,
		body:      body,
		anonymous: true,
	}, &user)
	if err != nil {
		return nil, err
	}

	if env.Token == "" {
		return nil, fmt.Errorf("%s: response carried no token", path)
	}

	return &types.Session{
		User:  user,
		Token: env.Token,
	}, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/auth/logout",
	}, nil)
	return err
}

// Profile returns the user the current credential belongs to.
func (c *Client) Profile(ctx context.Context) (*types.User, error) {
	var user types.User
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/auth/profile",
	}, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*types.User, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"displayName", update.DisplayName},
		{"currentPassword", update.CurrentPassword},
		{"newPassword", update.NewPassword},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.key, f.value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f.key, err)
		}
	}

	if update.Avatar != nil {
		name := update.AvatarName
		if name == "" {
			name = "avatar"
		}
		part, err := mw.CreateFormFile("avatar", name)
		if err != nil {
			return nil, fmt.Errorf("create avatar part: %w", err)
		}
		if _, err := io.Copy(part, update.Avatar); err != nil {
			return nil, fmt.Errorf("copy avatar: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var user types.User
	if _, err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        "/api/auth/profile",
		raw:         &buf,
		contentType: mw.FormDataContentType(),
	}, &user); err != nil {
		return nil, err
	}

	return &user, nil
}
