package leads

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory lead store for tests and early development.
type MemoryRepo struct {
	mu    sync.Mutex
	Leads map[string]Lead
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Leads: map[string]Lead{}} }

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) ListEligible(ctx context.Context, campaignID string, now time.Time, pol SelectionPolicy) ([]Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Lead, 0)
	for _, l := range r.Leads {
		if l.CampaignID != campaignID {
			continue
		}
		if Eligible(l, pol, now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountEligible(ctx context.Context, campaignID string, now time.Time, pol SelectionPolicy) (int, error) {
	rows, err := r.ListEligible(ctx, campaignID, now, pol)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (r *MemoryRepo) CountOpen(ctx context.Context, campaignID string, retryAttempts int) (int, error) {
	if retryAttempts <= 0 {
		retryAttempts = DefaultRetryAttempts
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.Leads {
		if l.CampaignID != campaignID {
			continue
		}
		switch l.Status {
		case StatusInProgress:
			n++
		case StatusPending, StatusFailed:
			if l.CallAttempts < retryAttempts {
				n++
			}
		}
	}
	return n, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, upd Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.Leads[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		l.Status = *upd.Status
	}
	if upd.CallAttempts != nil {
		l.CallAttempts = *upd.CallAttempts
	}
	if upd.LastCallAt != nil {
		t := *upd.LastCallAt
		l.LastCallAt = &t
	}
	if upd.Outcome != nil {
		l.Outcome = *upd.Outcome
	}
	l.UpdatedAt = time.Now().UTC()
	r.Leads[id] = l
	return nil
}

func (r *MemoryRepo) InsertBatch(ctx context.Context, batch []Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range batch {
		r.Leads[l.ID] = l
	}
	return nil
}
