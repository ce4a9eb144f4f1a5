package credential

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store for single-process deployments. Each record
// carries its own mutex so validations of distinct tokens never contend.
type InMemory struct {
	mu    sync.RWMutex
	creds map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	cred Credential
}

// NewInMemory creates an empty credential store.
func NewInMemory() *InMemory {
	return &InMemory{creds: make(map[string]*entry)}
}

func (s *InMemory) Insert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Token] = &entry{cred: *cred}
	return nil
}

func (s *InMemory) Get(ctx context.Context, token string) (*Credential, error) {
	s.mu.RLock()
	e, ok := s.creds[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredential
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.cred
	out.Capabilities = append([]string(nil), e.cred.Capabilities...)
	if e.cred.LastUsedAt != nil {
		used := *e.cred.LastUsedAt
		out.LastUsedAt = &used
	}
	return &out, nil
}

func (s *InMemory) Touch(ctx context.Context, token string, usedAt time.Time) error {
	s.mu.RLock()
	e, ok := s.creds[token]
	s.mu.RUnlock()
	if !ok {
		return ErrInvalidCredential
	}
	e.mu.Lock()
	e.cred.LastUsedAt = &usedAt
	e.cred.UseCount++
	e.mu.Unlock()
	return nil
}

func (s *InMemory) CountActive(ctx context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.creds {
		e.mu.Lock()
		if now.Before(e.cred.ExpiresAt) {
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}
