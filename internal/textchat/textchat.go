// Package textchat submits and renders the room's text messages.
package textchat

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/chatterbox/internal/types"
)

const (
	selfName      = "You"
	anonymousName = "Anonymous"
	timeLayout    = "15:04:05"
)

var ErrEmptyMessage = errors.New("message cannot be empty")

// Sender is the real-time manager's outbound message path.
type Sender interface {
	SendMessage(roomId, userId, content string)
}

type Chat struct {
	roomId string
	userId string
	sender Sender
	loc    *time.Location

	mu    sync.Mutex
	draft string
}

func NewChat(roomId, userId string, sender Sender, loc *time.Location) *Chat {
	if loc == nil {
		loc = time.Local
	}
	return &Chat{roomId: roomId, userId: userId, sender: sender, loc: loc}
}

func (c *Chat) SetDraft(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = s
}

func (c *Chat) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit sends input and clears the draft. The message is not added to the
// local list; it shows up when the backend broadcasts it back.
func (c *Chat) Submit(input string) error {
	content := strings.TrimSpace(input)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()

	c.sender.SendMessage(c.roomId, c.userId, content)
	return nil
}

// SubmitDraft submits the held draft.
func (c *Chat) SubmitDraft() error {
	return c.Submit(c.Draft())
}

// Author is the name shown for m.
func (c *Chat) Author(m types.Message) string {
	if c.userId != "" && m.SenderId == c.userId {
		return selfName
	}
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return anonymousName
}

// Format renders one message as "[15:04:05] Name: content" in local time.
func (c *Chat) Format(m types.Message) string {
	ts := "--:--:--"
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.In(c.loc).Format(timeLayout)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, c.Author(m), m.Content)
}

func (c *Chat) Render(w io.Writer, messages []types.Message) error {
	for _, m := range messages {
		if _, err := fmt.Fprintln(w, c.Format(m)); err != nil {
			return err
		}
	}
	return nil
}
