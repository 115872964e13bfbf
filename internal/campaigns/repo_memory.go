package campaigns

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory campaign store for tests and early development.
type MemoryRepo struct {
	mu        sync.Mutex
	Campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Campaigns: map[string]Campaign{}} }

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) UpdateControlStatus(ctx context.Context, id string, from, to ControlStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.Campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if c.ControlStatus != from {
		return ErrStaleStatus
	}
	c.ControlStatus = to
	c.UpdatedAt = time.Now().UTC()
	r.Campaigns[id] = c
	return nil
}

func (r *MemoryRepo) ListByControlStatus(ctx context.Context, status ControlStatus) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range r.Campaigns {
		if c.ControlStatus == status {
			out = append(out, c)
		}
	}
	return out, nil
}
