package backendtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/chatterbox/internal/types"
)

type storedMessage struct {
	senderId  string
	content   string
	timestamp time.Time
}

type roomRecord struct {
	id           string
	name         string
	description  string
	isPublic     bool
	accessCode   string
	status       types.RoomStatus
	creatorId    string
	participants []string
	admitted     map[string]bool
	messages     []storedMessage
	createdAt    time.Time
}

func (r *roomRecord) hasParticipant(userId string) bool {
	for _, id := range r.participants {
		if id == userId {
			return true
		}
	}
	return false
}

func (r *roomRecord) addParticipant(userId string) {
	if !r.hasParticipant(userId) {
		r.participants = append(r.participants, userId)
	}
}

func (r *roomRecord) removeParticipant(userId string) {
	for i, id := range r.participants {
		if id == userId {
			r.participants = append(r.participants[:i:i], r.participants[i+1:]...)
			return
		}
	}
}

// canEnter reports whether userId may see the room's content and join its
// channel.
func (r *roomRecord) canEnter(userId string) bool {
	return r.isPublic || r.creatorId == userId || r.admitted[userId]
}

type historyView struct {
	Sender    types.User `json:"sender"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

type roomView struct {
	Id           string              `json:"_id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	IsPublic     bool                `json:"isPublic"`
	AccessCode   string              `json:"accessCode,omitempty"`
	Status       types.RoomStatus    `json:"status"`
	Creator      types.User          `json:"creator"`
	Participants []types.Participant `json:"participants"`
	Messages     []historyView       `json:"messages,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// viewLocked renders r for viewer. The access code is only shown to the
// creator and content only to users allowed in.
func (s *Server) viewLocked(r *roomRecord, viewer string) roomView {
	v := roomView{
		Id:           r.id,
		Name:         r.name,
		Description:  r.description,
		IsPublic:     r.isPublic,
		Status:       r.status,
		Creator:      s.publicUserLocked(r.creatorId),
		Participants: []types.Participant{},
		CreatedAt:    r.createdAt,
	}
	if r.creatorId == viewer {
		v.AccessCode = r.accessCode
	}
	if !r.canEnter(viewer) {
		return v
	}

	for _, id := range r.participants {
		role := types.RoleParticipant
		if id == r.creatorId {
			role = types.RoleCreator
		}
		v.Participants = append(v.Participants, types.Participant{
			User: s.publicUserLocked(id),
			Role: role,
		})
	}
	for _, m := range r.messages {
		v.Messages = append(v.Messages, historyView{
			Sender:    s.publicUserLocked(m.senderId),
			Content:   m.content,
			Timestamp: m.timestamp,
		})
	}
	return v
}

func (s *Server) publicUserLocked(id string) types.User {
	rec, ok := s.users[id]
	if !ok {
		return types.User{Id: id}
	}
	u := rec.user
	u.EmailAddress = ""
	return u
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
	AccessCode  string `json:"accessCode"`
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	viewer := userId(r.Context())

	s.mu.Lock()
	rooms := make([]roomView, 0, len(s.order))
	for _, id := range s.order {
		rooms = append(rooms, s.viewLocked(s.rooms[id], viewer))
	}
	s.mu.Unlock()

	writeJson(s.log, w, http.StatusOK, rooms)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.log, w, NewBadRequestError("Invalid request body"))
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeError(s.log, w, NewBadRequestError("Room name is required"))
		return
	}
	if !req.IsPublic && strings.TrimSpace(req.AccessCode) == "" {
		writeError(s.log, w, NewBadRequestError("Access code is required for private rooms"))
		return
	}
	if req.IsPublic {
		req.AccessCode = ""
	}

	creator := userId(r.Context())
	room := &roomRecord{
		id:           s.newRoomId(),
		name:         strings.TrimSpace(req.Name),
		description:  req.Description,
		isPublic:     req.IsPublic,
		accessCode:   req.AccessCode,
		status:       types.StatusInactive,
		creatorId:    creator,
		participants: []string{creator},
		admitted:     make(map[string]bool),
		createdAt:    s.now(),
	}

	s.mu.Lock()
	s.rooms[room.id] = room
	s.order = append(s.order, room.id)
	v := s.viewLocked(room, creator)
	s.mu.Unlock()

	s.log.Printf("created room %q (%s)", room.name, room.id)
	writeJson(s.log, w, http.StatusCreated, v)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	var v roomView
	if ok {
		v = s.viewLocked(room, userId(r.Context()))
	}
	s.mu.Unlock()

	if !ok {
		writeError(s.log, w, NewNotFoundError("Room not found"))
		return
	}
	writeJson(s.log, w, http.StatusOK, v)
}

type joinRoomRequest struct {
	AccessCode string `json:"accessCode"`
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.log, w, NewBadRequestError("Invalid request body"))
			return
		}
	}

	uid := userId(r.Context())

	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		writeError(s.log, w, NewNotFoundError("Room not found"))
		return
	}
	if !room.canEnter(uid) {
		if req.AccessCode != room.accessCode {
			s.mu.Unlock()
			writeError(s.log, w, NewForbiddenError("Invalid access code"))
			return
		}
		room.admitted[uid] = true
	}
	room.addParticipant(uid)
	s.mu.Unlock()

	writeJson(s.log, w, http.StatusOK, map[string]string{"message": "Joined room successfully"})
}

func (s *Server) leaveRoom(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	if ok {
		room.removeParticipant(userId(r.Context()))
	}
	s.mu.Unlock()

	if !ok {
		writeError(s.log, w, NewNotFoundError("Room not found"))
		return
	}
	writeJson(s.log, w, http.StatusOK, map[string]string{"message": "Left room successfully"})
}

type updateStatusRequest struct {
	Status types.RoomStatus `json:"status"`
}

func (s *Server) updateRoomStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.log, w, NewBadRequestError("Invalid request body"))
		return
	}
	if req.Status != types.StatusLive && req.Status != types.StatusInactive {
		writeError(s.log, w, NewBadRequestError("Invalid status"))
		return
	}

	uid := userId(r.Context())

	s.mu.Lock()
	room, ok := s.rooms[r.PathValue("id")]
	if !ok {
		s.mu.Unlock()
		writeError(s.log, w, NewNotFoundError("Room not found"))
		return
	}
	if room.creatorId != uid {
		s.mu.Unlock()
		writeError(s.log, w, NewForbiddenError("Only the room creator can update its status"))
		return
	}
	room.status = req.Status
	v := s.viewLocked(room, uid)
	s.mu.Unlock()

	writeJson(s.log, w, http.StatusOK, v)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(s.log, w, NewBadRequestError("Message content is required"))
		return
	}

	msg, err := s.storeMessage(r.PathValue("id"), userId(r.Context()), req.Content)
	if err != nil {
		writeError(s.log, w, asApiError(err))
		return
	}

	s.hub.broadcast(msg.RoomId, "", eventChatMessage, msg)
	writeJson(s.log, w, http.StatusCreated, msg)
}

// storeMessage appends a message to the room history and returns it as
// broadcast on the socket.
func (s *Server) storeMessage(roomId, uid, content string) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return types.Message{}, NewNotFoundError("Room not found")
	}
	if !room.canEnter(uid) {
		return types.Message{}, NewForbiddenError("Not a member of this room")
	}

	m := storedMessage{senderId: uid, content: content, timestamp: s.now()}
	room.messages = append(room.messages, m)

	return types.Message{
		RoomId:      roomId,
		SenderId:    uid,
		DisplayName: s.publicUserLocked(uid).Name(),
		Content:     content,
		Timestamp:   m.timestamp,
	}, nil
}

// roomSnapshot is the room as attached to activity broadcasts.
func (s *Server) roomSnapshot(roomId, viewer string) (roomView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return roomView{}, false
	}
	v := s.viewLocked(room, viewer)
	v.Messages = nil
	return v, true
}

// enterChannel checks that uid may join the room's channel and records the
// participation.
func (s *Server) enterChannel(roomId, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return NewNotFoundError("Room not found")
	}
	if !room.canEnter(uid) {
		return NewForbiddenError("Access denied")
	}
	room.addParticipant(uid)
	return nil
}

// RoomParticipants lists the user ids recorded as participants of roomId.
func (s *Server) RoomParticipants(roomId string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomId]
	if !ok {
		return nil
	}
	return append([]string(nil), room.participants...)
}
