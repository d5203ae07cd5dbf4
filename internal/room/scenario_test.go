package room_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/auth"
	"github.com/npezzotti/chatterbox/internal/backendtest"
	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/npezzotti/chatterbox/internal/realtime"
	"github.com/npezzotti/chatterbox/internal/room"
	"github.com/npezzotti/chatterbox/internal/stats"
	"github.com/npezzotti/chatterbox/internal/store"
	"github.com/npezzotti/chatterbox/internal/testutil"
	"github.com/npezzotti/chatterbox/internal/textchat"
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioWait = 5 * time.Second

// account is one signed-in client wired against the fake backend.
type account struct {
	client   *api.Client
	provider *auth.Provider
	manager  *realtime.Manager
	stats    *reconnectCounter
	user     types.User
}

type reconnectCounter struct {
	stats.StatsProvider
	reconnects atomic.Int32
}

func (c *reconnectCounter) Incr(name string) {
	if name == stats.Reconnects {
		c.reconnects.Add(1)
	}
}

func signIn(t *testing.T, backend *backendtest.Server, email, password string) *account {
	t.Helper()
	logger := testutil.TestLogger(t)

	client, err := api.NewClient(logger, backend.URL(), 5*time.Second)
	require.NoError(t, err)
	provider := auth.NewProvider(logger, client, store.NewFileSessionStore(logger,
		filepath.Join(t.TempDir(), "session.json")), nil)
	client.SetTokenSource(provider.Token)

	sess, err := provider.Login(context.Background(), auth.LoginForm{Email: email, Password: password})
	require.NoError(t, err)

	counter := &reconnectCounter{StatsProvider: stats.NewNoopStats()}
	manager := realtime.NewManager(logger, realtime.NewWebsocketTransport(logger, backend.SocketURL()),
		realtime.Options{ReconnectDelay: 50 * time.Millisecond, Stats: counter})
	t.Cleanup(manager.Disconnect)

	return &account{client: client, provider: provider, manager: manager, stats: counter, user: sess.User}
}

func (a *account) connect(t *testing.T) {
	t.Helper()
	_, err := a.manager.Connect(a.provider.Token())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.manager.State() == realtime.Connected },
		scenarioWait, 10*time.Millisecond)
}

func (a *account) controller(t *testing.T, roomId string) *room.Controller {
	t.Helper()
	c := room.NewController(testutil.TestLogger(t), roomId, a.user.Id, a.client, a.client, a.manager,
		room.Options{Config: config.Room{PollInterval: time.Hour}})
	t.Cleanup(c.Deactivate)
	return c
}

func ids(rooms []types.Room) []string {
	var out []string
	for _, r := range rooms {
		out = append(out, r.Id)
	}
	return out
}

func TestScenario_PrivateRoom(t *testing.T) {
	backend := backendtest.New(testutil.TestLogger(t))
	t.Cleanup(backend.Close)

	_, err := backend.SeedUser("alice", "alice@example.com", "secret1")
	require.NoError(t, err)
	_, err = backend.SeedUser("bob", "bob@example.com", "secret2")
	require.NoError(t, err)

	alice := signIn(t, backend, "alice@example.com", "secret1")
	bob := signIn(t, backend, "bob@example.com", "secret2")
	ctx := context.Background()

	aliceDir := room.NewDirectory(testutil.TestLogger(t), alice.client, alice.user.Id, config.Directory{})
	bobDir := room.NewDirectory(testutil.TestLogger(t), bob.client, bob.user.Id, config.Directory{})

	created, err := aliceDir.Create(ctx, room.CreateParams{
		Name:       "Trivia Night",
		IsPublic:   false,
		AccessCode: "1234",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusInactive, created.Status)
	assert.Equal(t, "1234", created.AccessCode, "the creator sees the access code")

	// an inactive room is only listed for its creator
	listed, err := aliceDir.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(listed), created.Id)
	listed, err = bobDir.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids(listed), created.Id)

	// the creator goes live from inside the room
	alice.connect(t)
	aliceRoom := alice.controller(t, created.Id)
	phase, err := aliceRoom.Activate(ctx)
	require.NoError(t, err)
	require.Equal(t, room.Joined, phase, "the creator is never gated")
	status, err := aliceRoom.ToggleLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLive, status)

	listed, err = bobDir.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(listed), created.Id)
	for _, r := range listed {
		if r.Id == created.Id {
			assert.Empty(t, r.AccessCode, "access code is withheld from other users")
		}
	}

	bob.connect(t)
	bobRoom := bob.controller(t, created.Id)
	phase, err = bobRoom.Activate(ctx)
	require.NoError(t, err)
	assert.Equal(t, room.Gated, phase)
	assert.Empty(t, bob.manager.CurrentRoom())

	err = bobRoom.SubmitAccessCode(ctx, "0000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid access code")
	assert.Equal(t, room.Gated, bobRoom.Snapshot().Phase)
	assert.NotContains(t, backend.RoomParticipants(created.Id), bob.user.Id)

	require.NoError(t, bobRoom.SubmitAccessCode(ctx, "1234"))
	assert.Equal(t, room.Joined, bobRoom.Snapshot().Phase)
	assert.Equal(t, created.Id, bob.manager.CurrentRoom())
	assert.Contains(t, backend.RoomParticipants(created.Id), bob.user.Id)

	// alice sees bob arrive, named from the room snapshot
	require.Eventually(t, func() bool {
		for _, a := range aliceRoom.Snapshot().Activity {
			if a.Type == types.ActivityJoin && a.UserId == bob.user.Id && a.DisplayName == "bob" {
				return true
			}
		}
		return false
	}, scenarioWait, 10*time.Millisecond)

	chat := textchat.NewChat(created.Id, bob.user.Id, bob.manager, time.UTC)
	require.NoError(t, chat.Submit("  anyone here?  "))

	require.Eventually(t, func() bool {
		msgs := aliceRoom.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Content == "anyone here?" && msgs[0].DisplayName == "bob"
	}, scenarioWait, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		msgs := bobRoom.Snapshot().Messages
		return len(msgs) == 1 && chat.Author(msgs[0]) == "You"
	}, scenarioWait, 10*time.Millisecond)

	require.NoError(t, bobRoom.Leave(ctx))
	assert.Empty(t, bob.manager.CurrentRoom())
	assert.NotContains(t, backend.RoomParticipants(created.Id), bob.user.Id)
}

func TestScenario_ReconnectRejoins(t *testing.T) {
	backend := backendtest.New(testutil.TestLogger(t))
	t.Cleanup(backend.Close)

	_, err := backend.SeedUser("carol", "carol@example.com", "secret3")
	require.NoError(t, err)
	carol := signIn(t, backend, "carol@example.com", "secret3")
	ctx := context.Background()

	created, err := carol.client.CreateRoom(ctx, api.CreateRoomRequest{Name: "Lobby", IsPublic: true})
	require.NoError(t, err)

	carol.connect(t)
	c := carol.controller(t, created.Id)
	_, err = c.Activate(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return backend.Connections() == 1 }, scenarioWait, 10*time.Millisecond)

	backend.DropConnections()
	require.Eventually(t, func() bool {
		return carol.stats.reconnects.Load() >= 1 &&
			carol.manager.State() == realtime.Connected && backend.Connections() == 1
	}, scenarioWait, 10*time.Millisecond)
	assert.Equal(t, created.Id, carol.manager.CurrentRoom())

	// the rejoined socket is back in the room, so its messages are accepted
	chat := textchat.NewChat(created.Id, carol.user.Id, carol.manager, time.UTC)
	require.NoError(t, chat.Submit("back again"))
	require.Eventually(t, func() bool {
		msgs := c.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Content == "back again"
	}, scenarioWait, 10*time.Millisecond)
}
