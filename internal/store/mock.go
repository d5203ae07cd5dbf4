package store

import (
	"github.com/npezzotti/chatterbox/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Load() (*types.Session, error) {
	args := m.Called()
	if sess, ok := args.Get(0).(*types.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockSessionStore) Save(s *types.Session) error {
	args := m.Called(s)
	return args.Error(0)
}
func (m *MockSessionStore) Clear() error {
	args := m.Called()
	return args.Error(0)
}
