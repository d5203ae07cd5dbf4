// Package room binds a single room's lifecycle to the real-time channel for
// as long as the user is viewing it, and lists the rooms the user can see.
package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/npezzotti/chatterbox/internal/realtime"
	"github.com/npezzotti/chatterbox/internal/schedule"
	"github.com/npezzotti/chatterbox/internal/stats"
	"github.com/npezzotti/chatterbox/internal/types"
)

const unknownUser = "Unknown User"

var (
	ErrNotCreator = errors.New("only the room creator can change its status")
	ErrNotGated   = errors.New("room is not waiting for an access code")
	ErrInactive   = errors.New("room session is not active")
)

type Phase int

const (
	Idle Phase = iota
	Gated
	Joined
	Closed
)

func (p Phase) String() string {
	switch p {
	case Gated:
		return "gated"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return "idle"
	}
}

// Channel is the part of the real-time manager a room session uses.
type Channel interface {
	Subscribe(kind realtime.Kind, h realtime.Handler) (realtime.SubscriptionID, error)
	Unsubscribe(kind realtime.Kind, id realtime.SubscriptionID) error
	JoinRoom(roomId string)
	LeaveRoom(roomId string)
}

// Listener receives state changes. Callbacks run outside the controller's
// lock and must not call Deactivate.
type Listener struct {
	OnRoom            func(types.Room)
	OnMessage         func(types.Message)
	OnActivity        func(types.ActivityEvent)
	OnConnectionError func(string)
	OnError           func(error)
}

type Options struct {
	Config   config.Room
	Clock    schedule.Clock
	Stats    stats.StatsProvider
	Listener Listener
}

// Snapshot is a copy of the state held for the room.
type Snapshot struct {
	Phase           Phase
	Room            types.Room
	Messages        []types.Message
	Participants    []types.Participant
	Activity        []types.ActivityEvent
	ConnectionError string
}

type pendingActivity struct {
	kind     types.ActivityType
	activity *realtime.Activity
	at       time.Time
}

type activityKey struct {
	kind   types.ActivityType
	userId string
}

type Controller struct {
	log      *log.Logger
	roomId   string
	userId   string
	rooms    api.RoomService
	users    api.UserService
	channel  Channel
	cfg      config.Room
	clock    schedule.Clock
	stats    stats.StatsProvider
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc

	refreshLimit *schedule.Throttle
	debouncer    *schedule.Debouncer
	poller       *schedule.Poller
	dedup        *schedule.Dedup[activityKey]

	mu           sync.Mutex
	phase        Phase
	room         types.Room
	accessCode   string
	messages     []types.Message
	participants []types.Participant
	activity     []types.ActivityEvent
	connErr      string
	subs         map[realtime.Kind]realtime.SubscriptionID
	pending      []pendingActivity
	wake         chan struct{}
}

func NewController(logger *log.Logger, roomId, userId string, rooms api.RoomService, users api.UserService,
	channel Channel, opts Options) *Controller {
	cfg := opts.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultRoomPollInterval
	}
	if cfg.RefreshDebounce <= 0 {
		cfg.RefreshDebounce = config.DefaultRefreshDebounce
	}
	if cfg.RefreshMinInterval <= 0 {
		cfg.RefreshMinInterval = config.DefaultRefreshMinInterval
	}
	if cfg.ActivityDedupWindow <= 0 {
		cfg.ActivityDedupWindow = config.DefaultActivityDedupWindow
	}
	if cfg.ActivityFeedSize <= 0 {
		cfg.ActivityFeedSize = config.DefaultActivityFeedSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	su := opts.Stats
	if su == nil {
		su = stats.NewNoopStats()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:          logger,
		roomId:       roomId,
		userId:       userId,
		rooms:        rooms,
		users:        users,
		channel:      channel,
		cfg:          cfg,
		clock:        clock,
		stats:        su,
		listener:     opts.Listener,
		ctx:          ctx,
		cancel:       cancel,
		refreshLimit: schedule.NewThrottle(clock, cfg.RefreshMinInterval),
		dedup:        schedule.NewDedup[activityKey](cfg.ActivityDedupWindow),
		subs:         make(map[realtime.Kind]realtime.SubscriptionID),
		wake:         make(chan struct{}, 1),
	}
	c.debouncer = schedule.NewDebouncer(cfg.RefreshDebounce, c.limitedRefresh)
	c.poller = schedule.NewPoller(logger, "room "+roomId, cfg.PollInterval, func(ctx context.Context) error {
		c.limitedRefresh()
		return nil
	})

	return c
}

func (c *Controller) RoomId() string {
	return c.roomId
}

// Activate loads the room and joins it, or stops at Gated when the room is
// private and no verified access code is held.
func (c *Controller) Activate(ctx context.Context) (Phase, error) {
	c.mu.Lock()
	if c.phase != Idle {
		p := c.phase
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	room, err := c.rooms.GetRoom(ctx, c.roomId)
	if err != nil {
		return Idle, fmt.Errorf("get room %s: %w", c.roomId, err)
	}
	// the initial fetch counts as a refresh
	c.refreshLimit.Mark()

	c.mu.Lock()
	if c.phase != Idle {
		p := c.phase
		c.mu.Unlock()
		return p, nil
	}
	c.room = withoutContent(*room)
	// the backend only hands the access code to the creator
	if room.AccessCode != "" {
		c.accessCode = room.AccessCode
	}
	if !room.IsPublic && c.accessCode == "" && !room.IsCreator(c.userId) {
		c.phase = Gated
		c.mu.Unlock()
		c.log.Printf("room %s is private, waiting for access code", c.roomId)
		c.notifyRoom()
		return Gated, nil
	}
	c.mu.Unlock()

	if err := c.proceed(room); err != nil {
		return Idle, err
	}
	return Joined, nil
}

// SubmitAccessCode verifies code with the backend and joins on success.
// A rejected code leaves the room gated.
func (c *Controller) SubmitAccessCode(ctx context.Context, code string) error {
	c.mu.Lock()
	if c.phase != Gated {
		c.mu.Unlock()
		return ErrNotGated
	}
	c.mu.Unlock()

	if err := c.rooms.JoinRoom(ctx, c.roomId, code); err != nil {
		return fmt.Errorf("join room %s: %w", c.roomId, err)
	}

	c.mu.Lock()
	if c.phase != Gated {
		c.mu.Unlock()
		return ErrNotGated
	}
	c.accessCode = code
	held := c.room
	c.mu.Unlock()

	room, err := c.rooms.GetRoom(ctx, c.roomId)
	if err != nil {
		c.log.Printf("refresh room %s after join: %v", c.roomId, err)
		room = &held
	} else {
		c.refreshLimit.Mark()
	}

	return c.proceed(room)
}

func (c *Controller) proceed(room *types.Room) error {
	handlers := map[realtime.Kind]realtime.Handler{
		realtime.ChatMessage: c.onChatMessage,
		realtime.UserJoined:  c.onActivity(types.ActivityJoin),
		realtime.UserLeft:    c.onActivity(types.ActivityLeave),
		realtime.Error:       c.onError,
	}

	c.mu.Lock()
	if c.phase == Closed || c.phase == Joined {
		c.mu.Unlock()
		return ErrInactive
	}
	c.applyLocked(room)
	c.phase = Joined
	go c.resolveActivity()

	for kind, h := range handlers {
		id, err := c.channel.Subscribe(kind, h)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		c.subs[kind] = id
	}
	c.mu.Unlock()

	c.channel.JoinRoom(c.roomId)
	c.poller.Start(c.ctx)
	c.stats.Incr(stats.ActiveRooms)
	c.log.Printf("joined room %s", c.roomId)

	c.notifyRoom()
	return nil
}

// Deactivate releases everything the session holds. It runs on every exit
// path and is safe to call more than once.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	if c.phase == Closed {
		c.mu.Unlock()
		return
	}
	wasJoined := c.phase == Joined
	c.phase = Closed
	c.pending = nil
	subs := c.subs
	c.subs = make(map[realtime.Kind]realtime.SubscriptionID)
	c.mu.Unlock()

	for kind, id := range subs {
		if err := c.channel.Unsubscribe(kind, id); err != nil {
			c.log.Printf("unsubscribe %s: %v", kind, err)
		}
	}
	if wasJoined {
		c.channel.LeaveRoom(c.roomId)
		c.stats.Decr(stats.ActiveRooms)
	}

	c.cancel()
	c.debouncer.Stop()
	c.poller.Stop()
	c.log.Printf("left room %s", c.roomId)
}

// Leave tells the backend the user left, then deactivates regardless of the
// outcome.
func (c *Controller) Leave(ctx context.Context) error {
	defer c.Deactivate()

	if err := c.rooms.LeaveRoom(ctx, c.roomId); err != nil {
		return fmt.Errorf("leave room %s: %w", c.roomId, err)
	}
	return nil
}

// ToggleLive flips the room between inactive and live. Only the creator
// is offered this; the backend has the final say.
func (c *Controller) ToggleLive(ctx context.Context) (types.RoomStatus, error) {
	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return "", ErrInactive
	}
	if !c.room.IsCreator(c.userId) {
		c.mu.Unlock()
		return "", ErrNotCreator
	}
	next := types.StatusLive
	if c.room.IsLive() {
		next = types.StatusInactive
	}
	c.mu.Unlock()

	updated, err := c.rooms.UpdateRoomStatus(ctx, c.roomId, next)
	if err != nil {
		return "", fmt.Errorf("update room status: %w", err)
	}

	c.mu.Lock()
	c.room.Status = next
	if updated != nil && updated.Status != "" {
		c.room.Status = updated.Status
	}
	status := c.room.Status
	c.mu.Unlock()

	c.notifyRoom()
	return status, nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Phase:           c.phase,
		Room:            c.room,
		ConnectionError: c.connErr,
	}
	if c.phase == Gated {
		return s
	}

	s.Messages = append([]types.Message(nil), c.messages...)
	s.Participants = append([]types.Participant(nil), c.participants...)
	s.Activity = append([]types.ActivityEvent(nil), c.activity...)
	return s
}

// MergeHistory reconciles live messages with fetched history: history
// replaces held only when it is strictly longer.
func MergeHistory(held, history []types.Message) []types.Message {
	if len(history) > len(held) {
		out := make([]types.Message, len(history))
		copy(out, history)
		return out
	}
	return held
}

func withoutContent(r types.Room) types.Room {
	r.Messages = nil
	r.Participants = nil
	return r
}

func (c *Controller) applyLocked(room *types.Room) {
	c.room = withoutContent(*room)
	c.participants = append([]types.Participant(nil), room.Participants...)
	c.messages = MergeHistory(c.messages, room.Messages)
}

// limitedRefresh refreshes unless a refresh happened within the minimum
// interval. Debounced activity refreshes and the poll both go through it.
func (c *Controller) limitedRefresh() {
	if !c.refreshLimit.Allow() {
		return
	}
	c.refresh(c.ctx)
}

func (c *Controller) refresh(ctx context.Context) {
	room, err := c.rooms.GetRoom(ctx, c.roomId)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Printf("refresh room %s: %v", c.roomId, err)
		if c.listener.OnError != nil {
			c.listener.OnError(fmt.Errorf("refresh room: %w", err))
		}
		return
	}

	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return
	}
	c.applyLocked(room)
	c.mu.Unlock()

	c.notifyRoom()
}

func (c *Controller) notifyRoom() {
	if c.listener.OnRoom == nil {
		return
	}
	c.mu.Lock()
	r := c.room
	r.Participants = append([]types.Participant(nil), c.participants...)
	if c.phase == Gated {
		r.Participants = nil
	}
	c.mu.Unlock()
	c.listener.OnRoom(r)
}

func (c *Controller) onChatMessage(ev realtime.Event) {
	if ev.Message == nil {
		return
	}
	msg := *ev.Message
	if msg.RoomId != "" && msg.RoomId != c.roomId {
		return
	}

	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	if c.listener.OnMessage != nil {
		c.listener.OnMessage(msg)
	}
}

func (c *Controller) onError(ev realtime.Event) {
	c.mu.Lock()
	c.connErr = ev.Err
	c.mu.Unlock()

	if c.listener.OnConnectionError != nil {
		c.listener.OnConnectionError(ev.Err)
	}
}

func (c *Controller) onActivity(kind types.ActivityType) realtime.Handler {
	return func(ev realtime.Event) {
		if ev.Activity == nil || ev.Activity.UserId == "" {
			return
		}
		at := ev.ReceivedAt
		if at.IsZero() {
			at = c.clock.Now()
		}

		c.mu.Lock()
		if c.phase != Joined {
			c.mu.Unlock()
			return
		}
		c.pending = append(c.pending, pendingActivity{kind: kind, activity: ev.Activity, at: at})
		c.mu.Unlock()

		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// resolveActivity names queued join and leave events one at a time in
// arrival order.
func (c *Controller) resolveActivity() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			next := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()

			name := c.resolveName(c.ctx, next.activity)
			if c.ctx.Err() != nil {
				return
			}
			c.addActivity(types.ActivityEvent{
				Type:        next.kind,
				UserId:      next.activity.UserId,
				DisplayName: name,
				Timestamp:   next.at,
			})
		}
	}
}

// resolveName prefers the name in the event's room snapshot and falls back
// to a user lookup.
func (c *Controller) resolveName(ctx context.Context, a *realtime.Activity) string {
	if a.Room != nil {
		if p, ok := a.Room.Participant(a.UserId); ok && p.User.Name() != "" {
			return p.User.Name()
		}
	}

	user, err := c.users.GetUser(ctx, a.UserId)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Printf("lookup user %s: %v", a.UserId, err)
		}
		return unknownUser
	}
	if name := user.Name(); name != "" {
		return name
	}
	return unknownUser
}

func (c *Controller) addActivity(a types.ActivityEvent) {
	c.mu.Lock()
	if c.phase != Joined {
		c.mu.Unlock()
		return
	}
	if !c.dedup.Accept(activityKey{kind: a.Type, userId: a.UserId}, a.Timestamp) {
		c.mu.Unlock()
		return
	}

	c.activity = append([]types.ActivityEvent{a}, c.activity...)
	if len(c.activity) > c.cfg.ActivityFeedSize {
		c.activity = c.activity[:c.cfg.ActivityFeedSize]
	}

	switch a.Type {
	case types.ActivityJoin:
		if _, ok := c.participantIndexLocked(a.UserId); !ok {
			c.participants = append(c.participants, types.Participant{
				User: types.User{Id: a.UserId, DisplayName: a.DisplayName},
				Role: types.RoleParticipant,
			})
		}
	case types.ActivityLeave:
		if i, ok := c.participantIndexLocked(a.UserId); ok {
			c.participants = append(c.participants[:i:i], c.participants[i+1:]...)
		}
	}
	c.mu.Unlock()

	c.debouncer.Trigger()
	if c.listener.OnActivity != nil {
		c.listener.OnActivity(a)
	}
}

func (c *Controller) participantIndexLocked(userId string) (int, bool) {
	for i, p := range c.participants {
		if p.User.Id == userId {
			return i, true
		}
	}
	return -1, false
}
