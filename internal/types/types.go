package types

import (
	"encoding/json"
	"time"
)

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

type RoomStatus string

const (
	StatusInactive RoomStatus = "inactive"
	StatusLive     RoomStatus = "live"
)

type Role string

const (
	RoleCreator     Role = "creator"
	RoleParticipant Role = "participant"
)

type ActivityType string

const (
	ActivityJoin  ActivityType = "join"
	ActivityLeave ActivityType = "leave"
)

type User struct {
	Id           string `json:"id"`
	Username     string `json:"username,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"email,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
}

// Name returns the name shown for the user in rooms and activity feeds.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// UnmarshalJSON accepts both "id" and "_id" since the backend uses either.
func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	var aux struct {
		alias
		MongoId string `json:"_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	*u = User(aux.alias)
	if u.Id == "" {
		u.Id = aux.MongoId
	}
	return nil
}

type Session struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type Participant struct {
	User             User   `json:"user"`
	Role             Role   `json:"role,omitempty"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
}

type Message struct {
	RoomId      string    `json:"roomId,omitempty"`
	SenderId    string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	Content     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// historyMessage is the shape of a message stored in room history, which
// embeds the sender instead of carrying flat fields.
type historyMessage struct {
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Room struct {
	Id           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	IsPublic     bool          `json:"isPublic"`
	AccessCode   string        `json:"accessCode,omitempty"`
	Status       RoomStatus    `json:"status"`
	Creator      User          `json:"creator"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"-"`
	CreatedAt    time.Time     `json:"createdAt,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt,omitempty"`
}

func (r *Room) UnmarshalJSON(b []byte) error {
	type alias Room
	var aux struct {
		alias
		MongoId  string           `json:"_id"`
		Messages []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	*r = Room(aux.alias)
	if r.Id == "" {
		r.Id = aux.MongoId
	}

	if aux.Messages != nil {
		r.Messages = make([]Message, 0, len(aux.Messages))
		for _, m := range aux.Messages {
			name := m.Sender.Name()
			if name == "" {
				name = "Anonymous"
			}
			r.Messages = append(r.Messages, Message{
				RoomId:      r.Id,
				SenderId:    m.Sender.Id,
				DisplayName: name,
				Content:     m.Content,
				Timestamp:   m.Timestamp,
			})
		}
	}
	return nil
}

func (r *Room) Visibility() Visibility {
	if r.IsPublic {
		return Public
	}
	return Private
}

func (r *Room) IsLive() bool {
	return r.Status == StatusLive
}

func (r *Room) IsCreator(userId string) bool {
	return userId != "" && r.Creator.Id == userId
}

// VisibleTo reports whether the room belongs in userId's room list: live
// rooms are listed for everyone, inactive rooms only for their creator.
func (r *Room) VisibleTo(userId string) bool {
	return r.IsLive() || r.IsCreator(userId)
}

// Participant returns the participant entry for userId, if present.
func (r *Room) Participant(userId string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.User.Id == userId {
			return p, true
		}
	}
	return Participant{}, false
}

type ActivityEvent struct {
	Type        ActivityType `json:"type"`
	UserId      string       `json:"userId"`
	DisplayName string       `json:"displayName"`
	Timestamp   time.Time    `json:"timestamp"`
}
