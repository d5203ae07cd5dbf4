package store

import (
	"errors"

	"github.com/npezzotti/chatterbox/internal/types"
)

var ErrNoSession = errors.New("no stored session")

// SessionStore persists the single session record used to rehydrate the
// client on startup.
type SessionStore interface {
	Load() (*types.Session, error)
	Save(s *types.Session) error
	Clear() error
}
