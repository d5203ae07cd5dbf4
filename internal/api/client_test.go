package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/chatterbox/internal/testutil"
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(testutil.TestLogger(t), srv.URL, 5*time.Second)
	require.NoError(t, err)
	return c
}

func writeJson(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(testutil.TestLogger(t), "/relative", time.Second)
	assert.Error(t, err)

	c, err := NewClient(testutil.TestLogger(t), "http://localhost:3000", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestClient_Login(t *testing.T) {
	tcases := []struct {
		name          string
		handler       func(t *testing.T, w http.ResponseWriter, r *http.Request)
		expectedToken string
		expectedUser  string
		expectedMsg   string
	}{
		{
			name: "token in envelope",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				writeJson(t, w, http.StatusOK, map[string]any{
					"success": true,
					"data":    map[string]string{"_id": "u1", "username": "alice"},
					"token":   "tok-1",
				})
			},
			expectedToken: "tok-1",
			expectedUser:  "u1",
		},
		{
			name: "token in cookie",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "token", Value: "tok-2"})
				writeJson(t, w, http.StatusOK, map[string]any{
					"success": true,
					"data":    map[string]string{"id": "u2", "username": "bob"},
				})
			},
			expectedToken: "tok-2",
			expectedUser:  "u2",
		},
		{
			name: "invalid credentials",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				writeJson(t, w, http.StatusUnauthorized, map[string]any{
					"success": false,
					"message": "Invalid credentials",
				})
			},
			expectedMsg: "Invalid credentials",
		},
		{
			name: "unsuccessful envelope with 200",
			handler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				writeJson(t, w, http.StatusOK, map[string]any{
					"success": false,
					"message": "Account locked",
				})
			},
			expectedMsg: "Account locked",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var hookCalled bool
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/auth/login", r.URL.Path)
				assert.Empty(t, r.Header.Get("Authorization"))

				var req LoginRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "alice@example.com", req.Email)
				tc.handler(t, w, r)
			})
			c.SetTokenSource(func() string { return "stale" })
			c.OnUnauthorized(func() { hookCalled = true })

			sess, err := c.Login(context.Background(), "alice@example.com", "secret")
			assert.False(t, hookCalled, "login failures must not trigger the unauthorized hook")

			if tc.expectedMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectedMsg, Message(err, "Login failed"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedToken, sess.Token)
			assert.Equal(t, tc.expectedUser, sess.User.Id)
		})
	}
}

func TestClient_Unauthorized(t *testing.T) {
	var hookCalls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer expired", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})
	c.SetTokenSource(func() string { return "expired" })
	c.OnUnauthorized(func() { hookCalls++ })

	_, err := c.ListRooms(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, "request failed: unauthorized", err.Error())
}

func TestClient_ErrorMessages(t *testing.T) {
	tcases := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{
			name:     "backend message",
			status:   http.StatusForbidden,
			body:     `{"message":"Invalid access code"}`,
			expected: "Invalid access code",
		},
		{
			name:     "no body",
			status:   http.StatusInternalServerError,
			body:     "",
			expected: "Failed to join room",
		},
		{
			name:     "error field",
			status:   http.StatusBadRequest,
			body:     `{"error":"room is full"}`,
			expected: "room is full",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			err := c.JoinRoom(context.Background(), "r1", "0000")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.False(t, errors.Is(err, ErrUnauthorized))
			assert.Equal(t, tc.expected, Message(err, "Failed to join room"))
		})
	}
}

func TestClient_Rooms(t *testing.T) {
	var created CreateRoomRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/rooms":
			writeJson(t, w, http.StatusOK, []map[string]any{
				{"_id": "r1", "name": "Trivia Night", "status": "inactive", "isPublic": false},
				{"_id": "r2", "name": "Lounge", "status": "live", "isPublic": true},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/api/rooms":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			writeJson(t, w, http.StatusCreated, map[string]any{
				"_id": "r3", "name": created.Name, "status": "inactive", "isPublic": created.IsPublic,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/rooms/r1":
			writeJson(t, w, http.StatusOK, map[string]any{
				"_id":  "r1",
				"name": "Trivia Night",
				"messages": []map[string]any{
					{"sender": map[string]string{"_id": "u1", "username": "alice"}, "content": "hi"},
					{"sender": map[string]string{"_id": "u2"}, "content": "hello"},
				},
			})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/rooms/r1/status":
			var req UpdateStatusRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJson(t, w, http.StatusOK, map[string]any{"_id": "r1", "status": req.Status})
		case r.Method == http.MethodPost && r.URL.Path == "/api/rooms/r1/leave":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/api/rooms/r1/messages":
			var req PostMessageRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "hey", req.Content)
			writeJson(t, w, http.StatusCreated, map[string]any{"success": true})
		case r.Method == http.MethodGet && r.URL.Path == "/api/users/u1":
			writeJson(t, w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]string{"_id": "u1", "displayName": "Alice"},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c.SetTokenSource(func() string { return "tok" })
	ctx := context.Background()

	rooms, err := c.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "r1", rooms[0].Id)
	assert.Equal(t, types.Private, rooms[0].Visibility())
	assert.True(t, rooms[1].IsLive())

	room, err := c.CreateRoom(ctx, CreateRoomRequest{Name: "Lounge 2", IsPublic: true, AccessCode: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "r3", room.Id)
	assert.Empty(t, created.AccessCode, "public rooms never send an access code")

	room, err = c.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, room.Messages, 2)
	assert.Equal(t, "alice", room.Messages[0].DisplayName)
	assert.Equal(t, "Anonymous", room.Messages[1].DisplayName)

	room, err = c.UpdateRoomStatus(ctx, "r1", types.StatusLive)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLive, room.Status)

	assert.NoError(t, c.LeaveRoom(ctx, "r1"))
	assert.NoError(t, c.PostMessage(ctx, "r1", "hey"))

	user, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name())
}

func TestClient_UpdateProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/auth/profile", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "Alice A.", r.FormValue("displayName"))
		assert.Equal(t, "old-pass", r.FormValue("currentPassword"))
		assert.Equal(t, "new-pass", r.FormValue("newPassword"))

		f, hdr, err := r.FormFile("avatar")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "me.png", hdr.Filename)
		assert.Equal(t, "PNGDATA", string(b))

		writeJson(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]string{"_id": "u1", "displayName": "Alice A.", "avatar": "/uploads/me.png"},
			"message": "Profile updated successfully",
		})
	})

	user, err := c.UpdateProfile(context.Background(), ProfileUpdate{
		DisplayName:     "Alice A.",
		Avatar:          strings.NewReader("PNGDATA"),
		AvatarName:      "me.png",
		CurrentPassword: "old-pass",
		NewPassword:     "new-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", user.DisplayName)
	assert.Equal(t, "/uploads/me.png", user.Avatar)
}
