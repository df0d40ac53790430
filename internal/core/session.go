package core

import (
	"errors"
	"sync"
)

// Sessions holds the kiosk's active user. It stands in for the login
// flow, which sets and clears it.
type Sessions struct {
	mu      sync.RWMutex
	current *Session
}

func NewSessions() *Sessions {
	return &Sessions{}
}

func (s *Sessions) Start(userID, orgID string) error {
	if userID == "" || orgID == "" {
		return errors.New("user id and org id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &Session{UserID: userID, OrgID: orgID}
	return nil
}

func (s *Sessions) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

func (s *Sessions) Active() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}
