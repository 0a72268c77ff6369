package review

import (
	"context"
	"sync"
	"time"
)

// MemStore is the default in-memory review store for single-process runs
// and tests.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]Task)}
}

var _ Store = (*MemStore)(nil)

// Create keeps the existing task when the id is already present, so calling
// it twice for the same id never yields two distinct tasks.
func (s *MemStore) Create(ctx context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return nil
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *MemStore) SetStatus(ctx context.Context, id string, status Status, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil
	}
	// Last-write-wins by timestamp, not by call order.
	if task.UpdatedAt.After(at) {
		return nil
	}
	task.Status = status
	task.Notes = notes
	task.UpdatedAt = at
	s.tasks[id] = task
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, nil
	}
	out := task
	return &out, nil
}

func (s *MemStore) ListPending(ctx context.Context, tenantID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, task := range s.tasks {
		if task.Status != StatusPending {
			continue
		}
		if tenantID != "" && task.TenantID != tenantID {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}
