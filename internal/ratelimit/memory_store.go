package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/attendly/phoneauth/internal/models"
)

// MemoryStore keeps records in process memory. State is lost on restart and
// is not shared between instances; use RedisStore for that.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]models.AttemptRecord
	resends  map[string]models.ResendRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]models.AttemptRecord),
		resends:  make(map[string]models.ResendRecord),
	}
}

func (s *MemoryStore) GetAttempt(_ context.Context, phoneNumber string) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attempts[phoneNumber]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) SaveAttempt(_ context.Context, phoneNumber string, rec models.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[phoneNumber] = rec
	return nil
}

func (s *MemoryStore) DeleteAttempt(_ context.Context, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, phoneNumber)
	return nil
}

func (s *MemoryStore) GetResend(_ context.Context, phoneNumber string) (*models.ResendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resends[phoneNumber]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) SaveResend(_ context.Context, phoneNumber string, rec models.ResendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resends[phoneNumber] = rec
	return nil
}

func (s *MemoryStore) DeleteResend(_ context.Context, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.resends, phoneNumber)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, attemptsBefore, resendsBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.attempts {
		if rec.LastAttempt.Before(attemptsBefore) {
			delete(s.attempts, key)
			removed++
		}
	}
	for key, rec := range s.resends {
		if rec.LastSent.Before(resendsBefore) {
			delete(s.resends, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of attempt and resend records held.
func (s *MemoryStore) Len() (attempts, resends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts), len(s.resends)
}
