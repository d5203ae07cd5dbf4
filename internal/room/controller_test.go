package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/npezzotti/chatterbox/internal/realtime"
	"github.com/npezzotti/chatterbox/internal/schedule"
	"github.com/npezzotti/chatterbox/internal/stats"
	"github.com/npezzotti/chatterbox/internal/testutil"
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeChannel struct {
	mu       sync.Mutex
	next     realtime.SubscriptionID
	handlers map[realtime.Kind]map[realtime.SubscriptionID]realtime.Handler
	joined   []string
	left     []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[realtime.Kind]map[realtime.SubscriptionID]realtime.Handler),
	}
}

func (f *fakeChannel) Subscribe(kind realtime.Kind, h realtime.Handler) (realtime.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	if f.handlers[kind] == nil {
		f.handlers[kind] = make(map[realtime.SubscriptionID]realtime.Handler)
	}
	f.handlers[kind][f.next] = h
	return f.next, nil
}

func (f *fakeChannel) Unsubscribe(kind realtime.Kind, id realtime.SubscriptionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[kind], id)
	return nil
}

func (f *fakeChannel) JoinRoom(roomId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomId)
}

func (f *fakeChannel) LeaveRoom(roomId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomId)
}

func (f *fakeChannel) emit(kind realtime.Kind, ev realtime.Event) {
	f.mu.Lock()
	var hs []realtime.Handler
	for _, h := range f.handlers[kind] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	ev.Kind = kind
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeChannel) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeChannel) joins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

func (f *fakeChannel) leaves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.left...)
}

func publicRoom() *types.Room {
	return &types.Room{
		Id:       "R1",
		Name:     "Lobby",
		IsPublic: true,
		Status:   types.StatusLive,
		Creator:  types.User{Id: "owner", Username: "owner"},
		Participants: []types.Participant{
			{User: types.User{Id: "owner", DisplayName: "Olive"}, Role: types.RoleCreator},
		},
		Messages: []types.Message{
			{SenderId: "owner", DisplayName: "Olive", Content: "welcome"},
		},
	}
}

func privateRoom() *types.Room {
	r := publicRoom()
	r.Id = "P1"
	r.IsPublic = false
	return r
}

type testController struct {
	*Controller
	rooms   *api.MockClient
	channel *fakeChannel
	clock   *schedule.ManualClock
}

func newTestController(t *testing.T, roomId, userId string, cfg config.Room, l Listener) *testController {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.RefreshDebounce == 0 {
		cfg.RefreshDebounce = 10 * time.Millisecond
	}

	rooms := &api.MockClient{}
	channel := newFakeChannel()
	clock := schedule.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	c := NewController(testutil.TestLogger(t), roomId, userId, rooms, rooms, channel, Options{
		Config:   cfg,
		Clock:    clock,
		Stats:    stats.NewPermissiveMock(),
		Listener: l,
	})
	t.Cleanup(c.Deactivate)

	return &testController{Controller: c, rooms: rooms, channel: channel, clock: clock}
}

func TestMergeHistory(t *testing.T) {
	msg := func(s string) types.Message { return types.Message{Content: s} }

	tcases := []struct {
		name     string
		held     []types.Message
		history  []types.Message
		expected []string
	}{
		{"empty history keeps held", []types.Message{msg("a")}, nil, []string{"a"}},
		{"longer history replaces", []types.Message{msg("a")}, []types.Message{msg("x"), msg("y")}, []string{"x", "y"}},
		{"equal length keeps held", []types.Message{msg("a"), msg("b")}, []types.Message{msg("x"), msg("y")}, []string{"a", "b"}},
		{"shorter history keeps held", []types.Message{msg("a"), msg("b")}, []types.Message{msg("x")}, []string{"a", "b"}},
		{"nothing held", nil, []types.Message{msg("x")}, []string{"x"}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got := MergeHistory(tc.held, tc.history)
			var contents []string
			for _, m := range got {
				contents = append(contents, m.Content)
			}
			assert.Equal(t, tc.expected, contents)
			assert.GreaterOrEqual(t, len(got), len(tc.held))
		})
	}
}

func TestController_ActivatePublicRoom(t *testing.T) {
	var rooms []types.Room
	var mu sync.Mutex
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{
		OnRoom: func(r types.Room) {
			mu.Lock()
			defer mu.Unlock()
			rooms = append(rooms, r)
		},
	})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)

	phase, err := tc.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Joined, phase)

	assert.Equal(t, []string{"R1"}, tc.channel.joins())
	assert.Equal(t, 4, tc.channel.subscriptions())
	tc.rooms.AssertNotCalled(t, "JoinRoom", mock.Anything, mock.Anything, mock.Anything)

	snap := tc.Snapshot()
	assert.Equal(t, Joined, snap.Phase)
	assert.Equal(t, "Lobby", snap.Room.Name)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "welcome", snap.Messages[0].Content)
	require.Len(t, snap.Participants, 1)

	mu.Lock()
	require.Len(t, rooms, 1)
	assert.Len(t, rooms[0].Participants, 1)
	mu.Unlock()

	// a second activation is a no-op
	phase, err = tc.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Joined, phase)
	tc.rooms.AssertNumberOfCalls(t, "GetRoom", 1)
}

func TestController_ActivateFailure(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(nil, errors.New("Room not found"))

	phase, err := tc.Activate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Room not found")
	assert.Equal(t, Idle, phase)
	assert.Empty(t, tc.channel.joins())
	assert.Zero(t, tc.channel.subscriptions())
}

func TestController_PrivateRoomGated(t *testing.T) {
	tc := newTestController(t, "P1", "u2", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "P1").Return(privateRoom(), nil)
	tc.rooms.On("JoinRoom", mock.Anything, "P1", "0000").Return(errors.New("Invalid access code"))
	tc.rooms.On("JoinRoom", mock.Anything, "P1", "1234").Return(nil)

	phase, err := tc.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Gated, phase)
	assert.Empty(t, tc.channel.joins(), "no join-room before the code is accepted")
	assert.Zero(t, tc.channel.subscriptions())

	snap := tc.Snapshot()
	assert.Equal(t, Gated, snap.Phase)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Participants)

	err = tc.SubmitAccessCode(context.Background(), "0000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid access code")
	assert.Equal(t, Gated, tc.Snapshot().Phase)
	assert.Empty(t, tc.channel.joins())

	require.NoError(t, tc.SubmitAccessCode(context.Background(), "1234"))
	assert.Equal(t, Joined, tc.Snapshot().Phase)
	assert.Equal(t, []string{"P1"}, tc.channel.joins())
	assert.Len(t, tc.Snapshot().Messages, 1)

	assert.ErrorIs(t, tc.SubmitAccessCode(context.Background(), "1234"), ErrNotGated)
}

func TestController_ChatMessages(t *testing.T) {
	received := make(chan types.Message, 4)
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{
		OnMessage: func(m types.Message) { received <- m },
	})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	tc.channel.emit(realtime.ChatMessage, realtime.Event{
		Message: &types.Message{RoomId: "OTHER", SenderId: "u9", Content: "elsewhere"},
	})
	tc.channel.emit(realtime.ChatMessage, realtime.Event{
		Message: &types.Message{RoomId: "R1", SenderId: "u9", DisplayName: "Nina", Content: "hi"},
	})

	select {
	case m := <-received:
		assert.Equal(t, "hi", m.Content)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
	}
	assert.Empty(t, received)

	msgs := tc.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "welcome", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestController_ConnectionError(t *testing.T) {
	var got string
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{
		OnConnectionError: func(s string) { got = s },
	})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	tc.channel.emit(realtime.Error, realtime.Event{Err: "Maximum reconnection attempts reached"})
	assert.Equal(t, "Maximum reconnection attempts reached", got)
	assert.Equal(t, "Maximum reconnection attempts reached", tc.Snapshot().ConnectionError)
}

func TestController_ActivityDedup(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	t0 := tc.clock.Now()
	join := func(user string, at time.Time) {
		tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: user, DisplayName: user, Timestamp: at})
	}

	join("u5", t0)
	join("u5", t0.Add(1900*time.Millisecond))
	assert.Len(t, tc.Snapshot().Activity, 1, "duplicate within the window is dropped")

	join("u5", t0.Add(2100*time.Millisecond))
	assert.Len(t, tc.Snapshot().Activity, 2, "a join 2.1s after the last accepted one is kept")

	join("u6", t0.Add(4100*time.Millisecond))
	tc.addActivity(types.ActivityEvent{Type: types.ActivityLeave, UserId: "u5", DisplayName: "u5", Timestamp: t0.Add(4200 * time.Millisecond)})

	activity := tc.Snapshot().Activity
	require.Len(t, activity, 4)
	assert.Equal(t, types.ActivityLeave, activity[0].Type, "feed is most recent first")
	assert.Equal(t, "u6", activity[1].UserId)
}

func TestController_ActivityFeedCap(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{ActivityFeedSize: 3}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	t0 := tc.clock.Now()
	for i, user := range []string{"a", "b", "c", "d", "e"} {
		tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: user, DisplayName: user,
			Timestamp: t0.Add(time.Duration(i) * time.Second)})
	}

	activity := tc.Snapshot().Activity
	require.Len(t, activity, 3)
	assert.Equal(t, "e", activity[0].UserId)
	assert.Equal(t, "c", activity[2].UserId)
}

func TestController_ActivityParticipants(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	t0 := tc.clock.Now()
	tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: "u7", DisplayName: "Gus", Timestamp: t0})
	assert.Len(t, tc.Snapshot().Participants, 2)

	tc.addActivity(types.ActivityEvent{Type: types.ActivityLeave, UserId: "owner", DisplayName: "Olive", Timestamp: t0})
	parts := tc.Snapshot().Participants
	require.Len(t, parts, 1)
	assert.Equal(t, "u7", parts[0].User.Id)
}

func TestController_ActivityFromChannel(t *testing.T) {
	events := make(chan types.ActivityEvent, 2)
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{
		OnActivity: func(a types.ActivityEvent) { events <- a },
	})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	at := tc.clock.Now()
	tc.channel.emit(realtime.UserLeft, realtime.Event{
		ReceivedAt: at,
		Activity:   &realtime.Activity{UserId: "owner", Room: publicRoom()},
	})

	select {
	case a := <-events:
		assert.Equal(t, types.ActivityLeave, a.Type)
		assert.Equal(t, "Olive", a.DisplayName)
		assert.Equal(t, at, a.Timestamp)
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for activity")
	}
}

func TestController_ActivityKeepsArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{
		OnActivity: func(a types.ActivityEvent) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, a.UserId)
		},
	})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	tc.rooms.On("GetUser", mock.Anything, "u5").
		Return(&types.User{Id: "u5", DisplayName: "Ursula"}, nil).
		After(200 * time.Millisecond)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	snapshot := publicRoom()
	snapshot.Participants = append(snapshot.Participants,
		types.Participant{User: types.User{Id: "u5", DisplayName: "Ursula"}},
		types.Participant{User: types.User{Id: "u6", DisplayName: "Victor"}},
	)

	t0 := tc.clock.Now()
	tc.channel.emit(realtime.UserJoined, realtime.Event{
		ReceivedAt: t0,
		Activity:   &realtime.Activity{UserId: "u5"},
	})
	tc.channel.emit(realtime.UserJoined, realtime.Event{
		ReceivedAt: t0.Add(time.Second),
		Activity:   &realtime.Activity{UserId: "u6", Room: snapshot},
	})
	tc.channel.emit(realtime.UserJoined, realtime.Event{
		ReceivedAt: t0.Add(1500 * time.Millisecond),
		Activity:   &realtime.Activity{UserId: "u5", Room: snapshot},
	})

	require.Eventually(t, func() bool { return len(tc.Snapshot().Activity) == 3 }, waitFor, 5*time.Millisecond)

	activity := tc.Snapshot().Activity
	assert.Equal(t, t0.Add(1500*time.Millisecond), activity[0].Timestamp, "feed is most recent first")
	assert.Equal(t, "u6", activity[1].UserId)
	assert.Equal(t, t0, activity[2].Timestamp)
	assert.Equal(t, "Ursula", activity[2].DisplayName)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"u5", "u6", "u5"}, seen)
}

func TestController_ActivityDedupFollowsArrival(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	tc.rooms.On("GetUser", mock.Anything, "u5").
		Return(&types.User{Id: "u5", DisplayName: "Ursula"}, nil).
		After(100 * time.Millisecond)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	snapshot := publicRoom()
	snapshot.Participants = append(snapshot.Participants,
		types.Participant{User: types.User{Id: "u5", DisplayName: "Ursula"}})

	t0 := tc.clock.Now()
	tc.channel.emit(realtime.UserJoined, realtime.Event{
		ReceivedAt: t0,
		Activity:   &realtime.Activity{UserId: "u5"},
	})
	tc.channel.emit(realtime.UserJoined, realtime.Event{
		ReceivedAt: t0.Add(time.Second),
		Activity:   &realtime.Activity{UserId: "u5", Room: snapshot},
	})

	require.Eventually(t, func() bool { return len(tc.Snapshot().Activity) == 1 }, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(tc.Snapshot().Activity) > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, t0, tc.Snapshot().Activity[0].Timestamp, "the first arrival wins")
}

func TestController_resolveName(t *testing.T) {
	snapshot := publicRoom()

	tcases := []struct {
		name     string
		activity *realtime.Activity
		setup    func(m *api.MockClient)
		expected string
	}{
		{
			name:     "from room snapshot",
			activity: &realtime.Activity{UserId: "owner", Room: snapshot},
			expected: "Olive",
		},
		{
			name:     "from user lookup",
			activity: &realtime.Activity{UserId: "u8"},
			setup: func(m *api.MockClient) {
				m.On("GetUser", mock.Anything, "u8").Return(&types.User{Id: "u8", Username: "henry"}, nil)
			},
			expected: "henry",
		},
		{
			name:     "snapshot without the user",
			activity: &realtime.Activity{UserId: "u8", Room: snapshot},
			setup: func(m *api.MockClient) {
				m.On("GetUser", mock.Anything, "u8").Return(&types.User{Id: "u8", DisplayName: "Henry"}, nil)
			},
			expected: "Henry",
		},
		{
			name:     "lookup fails",
			activity: &realtime.Activity{UserId: "u8"},
			setup: func(m *api.MockClient) {
				m.On("GetUser", mock.Anything, "u8").Return(nil, errors.New("User not found"))
			},
			expected: "Unknown User",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestController(t, "R1", "u1", config.Room{}, Listener{})
			if tc.setup != nil {
				tc.setup(c.rooms)
			}
			assert.Equal(t, tc.expected, c.resolveName(context.Background(), tc.activity))
		})
	}
}

func TestController_RefreshRateLimit(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	var calls atomic.Int32
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil).
		Run(func(mock.Arguments) { calls.Add(1) })
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	t0 := tc.clock.Now()

	// within 5s of the initial load: debounced refresh is skipped
	tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: "u5", Timestamp: t0})
	require.Eventually(t, func() bool { return !tc.debouncer.Pending() }, waitFor, 5*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	tc.clock.Advance(5 * time.Second)
	tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: "u6", Timestamp: t0})
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, 5*time.Millisecond)
}

func TestController_RefreshDebounce(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{RefreshDebounce: 50 * time.Millisecond}, Listener{})
	var calls atomic.Int32
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil).
		Run(func(mock.Arguments) { calls.Add(1) })
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)
	tc.clock.Advance(10 * time.Second)

	t0 := tc.clock.Now()
	for i, user := range []string{"a", "b", "c", "d"} {
		tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: user,
			Timestamp: t0.Add(time.Duration(i) * time.Millisecond)})
	}

	require.Eventually(t, func() bool { return !tc.debouncer.Pending() }, waitFor, 5*time.Millisecond)
	// burst collapses into one refresh on top of the initial load
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestController_Deactivate(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	tc.Deactivate()
	tc.Deactivate()

	assert.Equal(t, Closed, tc.Snapshot().Phase)
	assert.Zero(t, tc.channel.subscriptions())
	assert.Equal(t, []string{"R1"}, tc.channel.leaves())

	// events after deactivation are ignored
	tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: "late", Timestamp: tc.clock.Now()})
	assert.Empty(t, tc.Snapshot().Activity)
	assert.False(t, tc.debouncer.Pending())
}

func TestController_DeactivateCancelsPendingRefresh(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{RefreshDebounce: 100 * time.Millisecond}, Listener{})
	var calls atomic.Int32
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil).
		Run(func(mock.Arguments) { calls.Add(1) })
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	tc.clock.Advance(10 * time.Second)
	tc.addActivity(types.ActivityEvent{Type: types.ActivityJoin, UserId: "u5", Timestamp: tc.clock.Now()})
	require.True(t, tc.debouncer.Pending())

	tc.Deactivate()
	assert.False(t, tc.debouncer.Pending())
	assert.Never(t, func() bool { return calls.Load() > 1 }, 300*time.Millisecond, 10*time.Millisecond)
}

func TestController_DeactivateStopsPoll(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{PollInterval: 20 * time.Millisecond}, Listener{})
	var calls atomic.Int32
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil).
		Run(func(mock.Arguments) { calls.Add(1) })
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	tc.clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, 5*time.Millisecond)

	tc.Deactivate()
	tc.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestController_DeactivateGated(t *testing.T) {
	tc := newTestController(t, "P1", "u2", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "P1").Return(privateRoom(), nil)
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	tc.Deactivate()
	assert.Empty(t, tc.channel.leaves(), "a room that was never joined is not left")
}

func TestController_Leave(t *testing.T) {
	tc := newTestController(t, "R1", "u1", config.Room{}, Listener{})
	tc.rooms.On("GetRoom", mock.Anything, "R1").Return(publicRoom(), nil)
	tc.rooms.On("LeaveRoom", mock.Anything, "R1").Return(errors.New("boom"))
	_, err := tc.Activate(context.Background())
	require.NoError(t, err)

	require.Error(t, tc.Leave(context.Background()))
	assert.Equal(t, Closed, tc.Snapshot().Phase)
	assert.Equal(t, []string{"R1"}, tc.channel.leaves())
}

func TestController_ToggleLive(t *testing.T) {
	tcases := []struct {
		name     string
		userId   string
		status   types.RoomStatus
		expected types.RoomStatus
		err      error
	}{
		{"creator goes live", "owner", types.StatusInactive, types.StatusLive, nil},
		{"creator ends live", "owner", types.StatusLive, types.StatusInactive, nil},
		{"participant cannot toggle", "u1", types.StatusLive, "", ErrNotCreator},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestController(t, "R1", tt.userId, config.Room{}, Listener{})
			r := publicRoom()
			r.Status = tt.status
			tc.rooms.On("GetRoom", mock.Anything, "R1").Return(r, nil)
			if tt.err == nil {
				updated := publicRoom()
				updated.Status = tt.expected
				tc.rooms.On("UpdateRoomStatus", mock.Anything, "R1", tt.expected).Return(updated, nil)
			}
			_, err := tc.Activate(context.Background())
			require.NoError(t, err)

			got, err := tc.ToggleLive(context.Background())
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				tc.rooms.AssertNotCalled(t, "UpdateRoomStatus", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.expected, tc.Snapshot().Room.Status)
		})
	}
}
