// Package realtime owns the single socket connection of a signed-in
// session: connect and bounded reconnect, the current room, an outbound
// message queue and a fixed set of subscribable inbound events.
package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/chatterbox/internal/config"
	"github.com/npezzotti/chatterbox/internal/schedule"
	"github.com/npezzotti/chatterbox/internal/stats"
)

const (
	msgConnectFailed = "Failed to connect to chat server"
	msgMaxReconnects = "Maximum reconnection attempts reached"
)

var ErrNoCredential = errors.New("credential required")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type SubscriptionID uint64

type Handler func(Event)

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Connection is the handle returned by Connect. It stays valid until
// Disconnect.
type Connection struct {
	Id      string
	Created time.Time
	m       *Manager
}

func (c *Connection) State() State {
	return c.m.State()
}

type Options struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	EventThrottle        time.Duration
	Clock                schedule.Clock
	Stats                stats.StatsProvider
}

func OptionsFromConfig(cfg config.Realtime) Options {
	return Options{
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		EventThrottle:        cfg.EventThrottle,
	}
}

type Manager struct {
	log       *log.Logger
	transport Transport
	stats     stats.StatsProvider
	clock     schedule.Clock
	opts      Options

	mu          sync.Mutex
	state       State
	gen         uint64
	credential  string
	handle      *Connection
	conn        Conn
	cancel      context.CancelFunc
	attempts    int
	currentRoom string
	queue       []chatPayload
	subs        map[Kind][]subscription
	nextSubId   SubscriptionID
	throttles   map[Kind]*schedule.Throttle
}

func NewManager(logger *log.Logger, transport Transport, opts Options) *Manager {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = config.DefaultMaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = config.DefaultReconnectDelay
	}
	if opts.EventThrottle <= 0 {
		opts.EventThrottle = config.DefaultEventThrottle
	}
	if opts.Clock == nil {
		opts.Clock = schedule.SystemClock{}
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewNoopStats()
	}

	for _, name := range []string{stats.EventsReceived, stats.EventsDropped, stats.MessagesQueued,
		stats.MessagesFlushed, stats.Reconnects} {
		opts.Stats.RegisterMetric(name)
	}

	m := &Manager{
		log:       logger,
		transport: transport,
		stats:     opts.Stats,
		clock:     opts.Clock,
		opts:      opts,
		subs:      make(map[Kind][]subscription),
	}
	m.resetThrottles()
	return m
}

func (m *Manager) resetThrottles() {
	m.throttles = make(map[Kind]*schedule.Throttle, len(kindNames))
	for k := range kindNames {
		m.throttles[k] = schedule.NewThrottle(m.clock, m.opts.EventThrottle)
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentRoom returns the room the connection is (or will be) joined to.
func (m *Manager) CurrentRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRoom
}

// Queued returns the number of chat messages waiting for a connection.
func (m *Manager) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Connect starts connecting with credential. While connecting or connected
// it returns the existing handle.
func (m *Manager) Connect(credential string) (*Connection, error) {
	if credential == "" {
		return nil, ErrNoCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Disconnected && m.handle != nil {
		return m.handle, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.gen++
	m.state = Connecting
	m.credential = credential
	m.attempts = 0
	m.cancel = cancel
	m.handle = &Connection{
		Id:      uuid.NewString(),
		Created: m.clock.Now(),
		m:       m,
	}

	go m.run(ctx, m.gen, credential)
	return m.handle, nil
}

// Disconnect tears the connection down, forgets the current room, every
// subscriber and the outbound queue. No reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.handle = nil
	m.credential = ""
	m.attempts = 0
	m.currentRoom = ""
	m.queue = nil
	m.subs = make(map[Kind][]subscription)
	m.resetThrottles()
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Printf("close connection: %v", err)
		}
	}
}

func (m *Manager) Subscribe(kind Kind, h Handler) (SubscriptionID, error) {
	if !kind.Valid() {
		m.log.Printf("subscribe: unknown event %s", kind)
		return 0, ErrUnknownEvent
	}
	if h == nil {
		return 0, errors.New("nil handler")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubId++
	m.subs[kind] = append(m.subs[kind], subscription{id: m.nextSubId, handler: h})
	return m.nextSubId, nil
}

// SubscribeName is Subscribe keyed by an event name in either spelling.
func (m *Manager) SubscribeName(name string, h Handler) (SubscriptionID, error) {
	kind, err := ParseKind(name)
	if err != nil {
		m.log.Printf("subscribe: %v", err)
		return 0, err
	}
	return m.Subscribe(kind, h)
}

func (m *Manager) Unsubscribe(kind Kind, id SubscriptionID) error {
	if !kind.Valid() {
		m.log.Printf("unsubscribe: unknown event %s", kind)
		return ErrUnknownEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[kind]
	for i, s := range subs {
		if s.id == id {
			m.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// JoinRoom makes roomId the current room. The join is sent now when
// connected and otherwise on the next successful connection.
func (m *Manager) JoinRoom(roomId string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentRoom = roomId
	if m.state == Connected {
		m.sendLocked(eventJoinRoom, roomId)
	}
}

// LeaveRoom clears the current room if it is roomId.
func (m *Manager) LeaveRoom(roomId string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentRoom == roomId {
		m.currentRoom = ""
	}
	if m.state == Connected {
		m.sendLocked(eventLeaveRoom, roomId)
	}
}

// SendMessage sends a chat message, queueing it while disconnected.
// Delivery is best effort.
func (m *Manager) SendMessage(roomId, userId, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := chatPayload{RoomId: roomId, UserId: userId, Message: content}
	if m.state == Connected && len(m.queue) == 0 && m.sendLocked(eventChatMessage, p) {
		return
	}

	m.queue = append(m.queue, p)
	m.stats.Incr(stats.MessagesQueued)
}

// SendAudio forwards one captured audio frame. Frames are dropped while
// disconnected; stale audio is never replayed.
func (m *Manager) SendAudio(roomId string, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Connected {
		return false
	}
	return m.sendLocked(eventAudioStream, AudioFrame{RoomId: roomId, Data: data})
}

func (m *Manager) sendLocked(event string, data any) bool {
	f, err := newFrame(event, data)
	if err != nil {
		m.log.Printf("encode %s: %v", event, err)
		return false
	}
	if err := m.conn.Send(f); err != nil {
		m.log.Printf("send %s: %v", event, err)
		return false
	}
	return true
}

// run dials until connected or out of attempts, then reads until the link
// drops and starts over.
func (m *Manager) run(ctx context.Context, gen uint64, credential string) {
	for {
		conn, err := m.transport.Dial(ctx, credential)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Printf("connect: %v", err)
			if !m.retry(ctx, gen, msgConnectFailed) {
				return
			}
			continue
		}

		if !m.connected(gen, conn) {
			conn.Close()
			return
		}

		for f := range conn.Frames() {
			m.handleFrame(gen, f)
		}

		// both a server close and a lost link reconnect while attempts remain
		m.log.Printf("connection lost: %v", conn.Err())
		if !m.retry(ctx, gen, "") {
			return
		}
		m.stats.Incr(stats.Reconnects)
	}
}

// connected moves to Connected, rejoins the current room once and flushes
// the outbound queue in order.
func (m *Manager) connected(gen uint64, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return false
	}

	m.conn = conn
	m.state = Connected
	m.attempts = 0

	if m.currentRoom != "" {
		m.sendLocked(eventJoinRoom, m.currentRoom)
	}

	for len(m.queue) > 0 {
		if !m.sendLocked(eventChatMessage, m.queue[0]) {
			break
		}
		m.queue = m.queue[1:]
		m.stats.Incr(stats.MessagesFlushed)
	}
	if len(m.queue) == 0 {
		m.queue = nil
	}

	return true
}

// retry records a failed attempt. It reports false when the session ended
// or the attempts are exhausted, in which case the terminal error has been
// emitted.
func (m *Manager) retry(ctx context.Context, gen uint64, failure string) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}

	m.conn = nil
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.gen++
		m.state = Disconnected
		m.handle = nil
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.mu.Unlock()

		m.log.Println(msgMaxReconnects)
		m.emit(Event{Kind: Error, Err: msgMaxReconnects, ReceivedAt: m.clock.Now()})
		return false
	}

	m.attempts++
	m.state = Connecting
	attempt := m.attempts
	m.mu.Unlock()

	if failure != "" {
		m.emit(Event{Kind: Error, Err: failure, ReceivedAt: m.clock.Now()})
	}
	m.log.Printf("reconnecting in %s (attempt %d/%d)", m.opts.ReconnectDelay, attempt, m.opts.MaxReconnectAttempts)

	timer := time.NewTimer(m.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) handleFrame(gen uint64, f Frame) {
	kind, err := ParseKind(f.Event)
	if err != nil {
		m.log.Printf("ignoring inbound event: %v", err)
		return
	}
	m.stats.Incr(stats.EventsReceived)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	// audio frames arrive continuously and are never throttled
	if kind != AudioStream && !m.throttles[kind].Allow() {
		m.mu.Unlock()
		m.stats.Incr(stats.EventsDropped)
		return
	}
	m.mu.Unlock()

	ev, err := decodeEvent(kind, f.Data)
	if err != nil {
		m.log.Printf("inbound %s: %v", f.Event, err)
		return
	}
	ev.ReceivedAt = m.clock.Now()
	m.emit(ev)
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	subs := make([]subscription, len(m.subs[ev.Kind]))
	copy(subs, m.subs[ev.Kind])
	m.mu.Unlock()

	for _, s := range subs {
		s.handler(ev)
	}
}
