// Package eventlog persists the append-only governance event log. The
// log is the system of record: project state can always be rebuilt by
// replaying it in order.
package eventlog

import (
	"context"
	"errors"
	"sync"

	"github.com/upb/agent-governor/models"
)

var (
	// ErrDuplicateID is returned when an event id was already appended
	ErrDuplicateID = errors.New("eventlog: duplicate event id")
	// ErrNotFound is returned when no event has the requested id
	ErrNotFound = errors.New("eventlog: event not found")
)

// Filter narrows a List call. Zero values match everything. Lists
// come back newest first; Ascending restores append order, which
// replay depends on.
type Filter struct {
	Type      models.EventType
	Stage     string
	Status    models.EventStatus
	ActorID   string
	Limit     int
	Ascending bool
}

func (f Filter) matches(e *models.GovernanceEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Stage != "" && e.Stage != f.Stage {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ActorID != "" && (e.Actor == nil || e.Actor.ID != f.ActorID) {
		return false
	}
	return true
}

// Store is an append-only, ordered event log. Append rejects duplicate
// ids; existing events are never rewritten except for their status.
type Store interface {
	Append(ctx context.Context, event *models.GovernanceEvent) error
	Get(ctx context.Context, id string) (*models.GovernanceEvent, error)
	List(ctx context.Context, filter Filter) ([]*models.GovernanceEvent, error)
	UpdateStatus(ctx context.Context, id string, status models.EventStatus) error
	Count(ctx context.Context) (int, error)
	Close() error
}

type memoryStore struct {
	mu     sync.RWMutex
	events []*models.GovernanceEvent
	byID   map[string]*models.GovernanceEvent
}

// NewMemoryStore returns an in-process Store, used for tests and for
// replay scratch kernels
func NewMemoryStore() Store {
	return &memoryStore{byID: make(map[string]*models.GovernanceEvent)}
}

func (s *memoryStore) Append(ctx context.Context, event *models.GovernanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[event.ID]; exists {
		return ErrDuplicateID
	}
	c := *event
	s.events = append(s.events, &c)
	s.byID[c.ID] = &c
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*models.GovernanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *memoryStore) List(ctx context.Context, filter Filter) ([]*models.GovernanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.GovernanceEvent
	appendMatch := func(e *models.GovernanceEvent) bool {
		if !filter.matches(e) {
			return true
		}
		c := *e
		out = append(out, &c)
		return filter.Limit <= 0 || len(out) < filter.Limit
	}
	if filter.Ascending {
		for _, e := range s.events {
			if !appendMatch(e) {
				break
			}
		}
	} else {
		for i := len(s.events) - 1; i >= 0; i-- {
			if !appendMatch(s.events[i]) {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id string, status models.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	return nil
}

func (s *memoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *memoryStore) Close() error { return nil }
