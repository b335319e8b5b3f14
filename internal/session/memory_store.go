package session

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	active *Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Acquire(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrLocked
	}
	snap.Entries = append([]Entry(nil), snap.Entries...)
	s.active = &snap
	return nil
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.SessionID != sessionID {
		return Snapshot{}, ErrNotFound
	}
	return *s.active, nil
}

func (s *MemoryStore) Active(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Snapshot{}, ErrNotFound
	}
	return *s.active, nil
}

func (s *MemoryStore) Touch(ctx context.Context, sessionID string) error {
	_, err := s.Load(ctx, sessionID)
	return err
}

func (s *MemoryStore) Release(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.SessionID == sessionID {
		s.active = nil
	}
	return nil
}
