package actor

import (
	"context"
	"sync"
)

// StateStore is the durable key-value state behind each actor. State is
// partitioned by entity key and holds a flat string map: the actor's start
// parameters plus framework bookkeeping. Implementations must make DeleteAll
// idempotent; deleting all state is the only teardown operation.
type StateStore interface {
	Get(ctx context.Context, entityKey, field string) (string, bool, error)
	Put(ctx context.Context, entityKey, field, value string) error
	PutAll(ctx context.Context, entityKey string, fields map[string]string) error
	List(ctx context.Context, entityKey string) (map[string]string, error)
	DeleteAll(ctx context.Context, entityKey string) error
}

// MemoryStateStore is the in-process StateStore. Durable backends implement
// the same interface; actors reload from the store at every entry point and
// never assume in-memory fields survive a restart.
type MemoryStateStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]string
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entities: make(map[string]map[string]string)}
}

func (s *MemoryStateStore) Get(_ context.Context, entityKey, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.entities[entityKey]
	if !ok {
		return "", false, nil
	}
	v, ok := fields[field]
	return v, ok, nil
}

func (s *MemoryStateStore) Put(_ context.Context, entityKey, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.entities[entityKey]
	if !ok {
		fields = make(map[string]string)
		s.entities[entityKey] = fields
	}
	fields[field] = value
	return nil
}

func (s *MemoryStateStore) PutAll(_ context.Context, entityKey string, in map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.entities[entityKey]
	if !ok {
		fields = make(map[string]string, len(in))
		s.entities[entityKey] = fields
	}
	for k, v := range in {
		fields[k] = v
	}
	return nil
}

func (s *MemoryStateStore) List(_ context.Context, entityKey string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.entities[entityKey]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStateStore) DeleteAll(_ context.Context, entityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, entityKey)
	return nil
}
