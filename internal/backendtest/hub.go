package backendtest

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

const (
	eventJoinRoom      = "join-room"
	eventLeaveRoom     = "leave-room"
	eventChatMessage   = "chat-message"
	eventAudioStream   = "audio-stream"
	eventUserConnected = "user-connected"
	eventUserLeft      = "user-disconnected"
	eventError         = "error"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type chatPayload struct {
	RoomId  string `json:"roomId"`
	Message string `json:"message"`
}

type audioPayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
	Data   []byte `json:"data"`
}

type activityPayload struct {
	UserId string    `json:"userId"`
	Room   *roomView `json:"room,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type hub struct {
	log      *log.Logger
	s        *Server
	upgrader websocket.Upgrader
	mu       sync.Mutex
	peers    map[*peer]struct{}
}

func newHub(logger *log.Logger, s *Server) *hub {
	return &hub{
		log:   logger,
		s:     s,
		peers: make(map[*peer]struct{}),
	}
}

type peer struct {
	hub    *hub
	conn   *websocket.Conn
	userId string
	send   chan []byte
	stop   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	room   string
}

func (h *hub) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Println("upgrade:", err)
		return
	}

	p := &peer{
		hub:    h,
		conn:   conn,
		userId: userId(r.Context()),
		send:   make(chan []byte, 256),
		stop:   make(chan struct{}),
	}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	go p.write()
	go p.read()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.conn.Close()
	}
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, p)
}

// broadcast sends event to every peer in roomId except the one belonging
// to skipUser.
func (h *hub) broadcast(roomId, skipUser, event string, data any) {
	raw, err := encodeFrame(event, data)
	if err != nil {
		h.log.Println("encode broadcast:", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		if p.currentRoom() != roomId || (skipUser != "" && p.userId == skipUser) {
			continue
		}
		p.queue(raw)
	}
}

func encodeFrame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: payload})
}

func (p *peer) currentRoom() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *peer) setRoom(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.room
	p.room = id
	return prev
}

func (p *peer) queue(raw []byte) bool {
	select {
	case p.send <- raw:
	default:
		p.hub.log.Println("failed to send message to client, channel is full")
		return false
	}
	return true
}

func (p *peer) sendError(msg string) {
	raw, err := encodeFrame(eventError, errorPayload{Message: msg})
	if err == nil {
		p.queue(raw)
	}
}

func (p *peer) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case raw := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-p.stop:
			return
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) read() {
	defer p.cleanup()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error { p.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				p.hub.log.Printf("ws: read: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			p.sendError("Invalid message")
			continue
		}
		p.handle(f)
	}
}

func (p *peer) handle(f frame) {
	switch f.Event {
	case eventJoinRoom:
		var roomId string
		if err := json.Unmarshal(f.Data, &roomId); err != nil || roomId == "" {
			p.sendError("Invalid room")
			return
		}
		p.join(roomId)
	case eventLeaveRoom:
		var roomId string
		_ = json.Unmarshal(f.Data, &roomId)
		if roomId == "" || roomId == p.currentRoom() {
			p.leave()
		}
	case eventChatMessage:
		var c chatPayload
		if err := json.Unmarshal(f.Data, &c); err != nil || c.Message == "" {
			p.sendError("Invalid message")
			return
		}
		if c.RoomId != p.currentRoom() {
			p.sendError("Not in room")
			return
		}
		msg, err := p.hub.s.storeMessage(c.RoomId, p.userId, c.Message)
		if err != nil {
			p.sendError(err.Error())
			return
		}
		p.hub.broadcast(c.RoomId, "", eventChatMessage, msg)
	case eventAudioStream:
		var a audioPayload
		if err := json.Unmarshal(f.Data, &a); err != nil || a.RoomId != p.currentRoom() {
			return
		}
		a.UserId = p.userId
		p.hub.broadcast(a.RoomId, p.userId, eventAudioStream, a)
	default:
		p.hub.log.Printf("unknown event %q", f.Event)
	}
}

func (p *peer) join(roomId string) {
	if err := p.hub.s.enterChannel(roomId, p.userId); err != nil {
		p.sendError(err.Error())
		return
	}

	if prev := p.setRoom(roomId); prev != "" && prev != roomId {
		p.hub.broadcast(prev, p.userId, eventUserLeft, activityPayload{UserId: p.userId})
	}

	payload := activityPayload{UserId: p.userId}
	if v, ok := p.hub.s.roomSnapshot(roomId, p.userId); ok {
		payload.Room = &v
	}
	p.hub.broadcast(roomId, p.userId, eventUserConnected, payload)
}

func (p *peer) leave() {
	if prev := p.setRoom(""); prev != "" {
		p.hub.broadcast(prev, p.userId, eventUserLeft, activityPayload{UserId: p.userId})
	}
}

func (p *peer) cleanup() {
	p.hub.remove(p)
	p.leave()
	p.once.Do(func() { close(p.stop) })
	p.conn.Close()
}
