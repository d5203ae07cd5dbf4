package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/npezzotti/chatterbox/internal/types"
)

type FileSessionStore struct {
	log  *log.Logger
	path string
	mu   sync.Mutex
}

func NewFileSessionStore(logger *log.Logger, path string) *FileSessionStore {
	return &FileSessionStore{
		log:  logger,
		path: path,
	}
}

func (s *FileSessionStore) Load() (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess types.Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.Token == "" {
		// an unreadable record is dropped rather than trusted
		s.log.Printf("discarding unreadable session record %q", s.path)
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Println("remove session:", err)
		}
		return nil, ErrNoSession
	}

	return &sess, nil
}

func (s *FileSessionStore) Save(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}

	return nil
}

func (s *FileSessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
