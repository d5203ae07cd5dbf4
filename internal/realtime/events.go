package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/chatterbox/internal/types"
)

var ErrUnknownEvent = errors.New("unknown event")

// Kind is one of the inbound events subscribers can register for.
type Kind int

const (
	ChatMessage Kind = iota + 1
	UserJoined
	UserLeft
	Error
	AudioStream
)

var kindNames = map[Kind]string{
	ChatMessage: "chatMessage",
	UserJoined:  "userJoined",
	UserLeft:    "userLeft",
	Error:       "error",
	AudioStream: "audioStream",
}

// inboundNames maps every spelling the backend has used to a Kind.
var inboundNames = map[string]Kind{
	"chatMessage":       ChatMessage,
	"chat-message":      ChatMessage,
	"userJoined":        UserJoined,
	"user-connected":    UserJoined,
	"userLeft":          UserLeft,
	"user-disconnected": UserLeft,
	"error":             Error,
	"audioStream":       AudioStream,
	"audio-stream":      AudioStream,
}

// Outbound event names.
const (
	eventJoinRoom    = "join-room"
	eventLeaveRoom   = "leave-room"
	eventChatMessage = "chat-message"
	eventAudioStream = "audio-stream"
)

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind resolves an event name in either spelling.
func ParseKind(name string) (Kind, error) {
	if k, ok := inboundNames[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Event is a single inbound delivery. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind       Kind
	ReceivedAt time.Time

	Message  *types.Message
	Activity *Activity
	Audio    *AudioFrame
	Err      string
}

// Activity is the payload of userJoined and userLeft. Room is the room
// snapshot the backend sometimes attaches.
type Activity struct {
	UserId string      `json:"userId"`
	Room   *types.Room `json:"room,omitempty"`
}

type AudioFrame struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
	Data   []byte `json:"data"`
}

type chatPayload struct {
	RoomId  string `json:"roomId"`
	UserId  string `json:"userId"`
	Message string `json:"message"`
}

func decodeEvent(kind Kind, data json.RawMessage) (Event, error) {
	ev := Event{Kind: kind}

	switch kind {
	case ChatMessage:
		var m types.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return ev, fmt.Errorf("decode %s: %w", kind, err)
		}
		ev.Message = &m
	case UserJoined, UserLeft:
		var a Activity
		if isJSONString(data) {
			if err := json.Unmarshal(data, &a.UserId); err != nil {
				return ev, fmt.Errorf("decode %s: %w", kind, err)
			}
		} else if err := json.Unmarshal(data, &a); err != nil {
			return ev, fmt.Errorf("decode %s: %w", kind, err)
		}
		ev.Activity = &a
	case Error:
		ev.Err = decodeErrorText(data)
	case AudioStream:
		var f AudioFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return ev, fmt.Errorf("decode %s: %w", kind, err)
		}
		ev.Audio = &f
	default:
		return ev, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}

	return ev, nil
}

func isJSONString(data json.RawMessage) bool {
	b := bytes.TrimSpace(data)
	return len(b) > 0 && b[0] == '"'
}

// decodeErrorText accepts a bare string or an object with a message field.
func decodeErrorText(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}

	return string(bytes.TrimSpace(data))
}
