// Package audio owns the local microphone capture for the active room and
// renders the audio frames other participants stream into it.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/chatterbox/internal/realtime"
	"github.com/npezzotti/chatterbox/internal/types"
)

var (
	ErrMicrophoneBusy        = errors.New("microphone is already in use")
	ErrMicrophoneUnavailable = errors.New("microphone is unavailable")
)

type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture is an open microphone. Frames is closed when the capture ends.
type Capture interface {
	Frames() <-chan []byte
	Close() error
}

type Renderer interface {
	Render(userId string, frame []byte)
	Forget(userId string)
}

// Channel is the part of the real-time manager the audio channel uses.
type Channel interface {
	Subscribe(kind realtime.Kind, h realtime.Handler) (realtime.SubscriptionID, error)
	Unsubscribe(kind realtime.Kind, id realtime.SubscriptionID) error
	SendAudio(roomId string, data []byte) bool
}

type Listener struct {
	// OnMicrophoneError is called at most once per activation.
	OnMicrophoneError func(error)
}

// Peer is a participant as shown in the audio panel.
type Peer struct {
	User      types.User
	Role      types.Role
	Connected bool
}

type Session struct {
	log      *log.Logger
	roomId   string
	userId   string
	mic      Microphone
	renderer Renderer
	channel  Channel
	listener Listener

	mu        sync.Mutex
	active    bool
	closed    bool
	muted     bool
	capture   Capture
	pumpDone  chan struct{}
	peers     map[string]struct{}
	subs      map[realtime.Kind]realtime.SubscriptionID
	sent      int
	reported  bool
	cancelCtx context.CancelFunc
}

func NewSession(logger *log.Logger, roomId, userId string, mic Microphone, renderer Renderer,
	channel Channel, l Listener) *Session {
	if renderer == nil {
		renderer = nopRenderer{}
	}

	return &Session{
		log:      logger,
		roomId:   roomId,
		userId:   userId,
		mic:      mic,
		renderer: renderer,
		channel:  channel,
		listener: l,
		peers:    make(map[string]struct{}),
		subs:     make(map[realtime.Kind]realtime.SubscriptionID),
	}
}

// Activate subscribes to remote audio and acquires the microphone. A
// microphone failure is reported and the session continues receive-only.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.active || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.active = true

	handlers := map[realtime.Kind]realtime.Handler{
		realtime.AudioStream: s.onAudio,
		realtime.UserLeft:    s.onUserLeft,
	}
	for kind, h := range handlers {
		id, err := s.channel.Subscribe(kind, h)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		s.subs[kind] = id
	}
	s.mu.Unlock()

	if s.mic == nil {
		s.reportMicError(ErrMicrophoneUnavailable)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	capture, err := s.mic.Open(ctx)
	if err != nil {
		cancel()
		s.reportMicError(err)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		capture.Close()
		return nil
	}
	s.capture = capture
	s.cancelCtx = cancel
	s.pumpDone = make(chan struct{})
	done := s.pumpDone
	s.mu.Unlock()

	go s.pump(capture, done)
	s.log.Printf("microphone open for room %s", s.roomId)
	return nil
}

func (s *Session) reportMicError(err error) {
	s.mu.Lock()
	if s.reported {
		s.mu.Unlock()
		return
	}
	s.reported = true
	s.mu.Unlock()

	s.log.Printf("microphone: %v", err)
	if s.listener.OnMicrophoneError != nil {
		s.listener.OnMicrophoneError(err)
	}
}

// pump forwards captured frames while unmuted. Frames captured while muted
// are discarded so unmuting takes effect on the next frame.
func (s *Session) pump(c Capture, done chan struct{}) {
	defer close(done)

	for frame := range c.Frames() {
		s.mu.Lock()
		muted := s.muted
		s.mu.Unlock()
		if muted {
			continue
		}

		if s.channel.SendAudio(s.roomId, frame) {
			s.mu.Lock()
			s.sent++
			s.mu.Unlock()
		}
	}
}

func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Capturing reports whether the microphone is held.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

// Sent returns the number of frames handed to the channel.
func (s *Session) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Session) onAudio(ev realtime.Event) {
	f := ev.Audio
	if f == nil || f.UserId == "" || f.UserId == s.userId {
		return
	}
	if f.RoomId != "" && f.RoomId != s.roomId {
		return
	}

	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return
	}
	s.peers[f.UserId] = struct{}{}
	s.mu.Unlock()

	s.renderer.Render(f.UserId, f.Data)
}

func (s *Session) onUserLeft(ev realtime.Event) {
	if ev.Activity == nil {
		return
	}

	s.mu.Lock()
	_, ok := s.peers[ev.Activity.UserId]
	delete(s.peers, ev.Activity.UserId)
	s.mu.Unlock()

	if ok {
		s.renderer.Forget(ev.Activity.UserId)
	}
}

// Peers marks which participants currently have an audio stream. The flag
// is presentational and says nothing about their connection state.
func (s *Session) Peers(participants []types.Participant) []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Peer, 0, len(participants))
	for _, p := range participants {
		_, ok := s.peers[p.User.Id]
		out = append(out, Peer{User: p.User, Role: p.Role, Connected: ok})
	}
	return out
}

// Deactivate releases the microphone and stops rendering. It is safe to
// call more than once.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.active = false
	subs := s.subs
	s.subs = make(map[realtime.Kind]realtime.SubscriptionID)
	capture, done, cancel := s.capture, s.pumpDone, s.cancelCtx
	s.capture = nil
	peers := s.peers
	s.peers = make(map[string]struct{})
	s.mu.Unlock()

	for kind, id := range subs {
		if err := s.channel.Unsubscribe(kind, id); err != nil {
			s.log.Printf("unsubscribe %s: %v", kind, err)
		}
	}

	if capture != nil {
		if err := capture.Close(); err != nil {
			s.log.Printf("close microphone: %v", err)
		}
		cancel()
		<-done
		s.log.Printf("microphone released for room %s", s.roomId)
	}

	for id := range peers {
		s.renderer.Forget(id)
	}
}

type nopRenderer struct{}

func (nopRenderer) Render(string, []byte) {}
func (nopRenderer) Forget(string)         {}
