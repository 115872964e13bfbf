package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory call record store for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	Records map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Records: map[string]CallRecord{}} }

func (r *MemoryRepo) Create(ctx context.Context, leadID, campaignID string, now time.Time) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := CallRecord{
		ID:         uuid.NewString(),
		LeadID:     leadID,
		CampaignID: campaignID,
		Status:     StatusPending,
		CreatedAt:  now,
	}
	r.Records[rec.ID] = rec
	return rec, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.Records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.Records {
		if rec.ProviderCallID != "" && rec.ProviderCallID == providerCallID {
			return rec, nil
		}
	}
	return CallRecord{}, ErrNotFound
}

func (r *MemoryRepo) Update(ctx context.Context, id string, upd Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.Records[id]
	if !ok {
		return ErrNotFound
	}
	r.Records[id] = applyUpdate(rec, upd)
	return nil
}

func (r *MemoryRepo) UpdateFromStatus(ctx context.Context, id string, from Status, upd Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.Records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != from {
		return ErrStaleStatus
	}
	r.Records[id] = applyUpdate(rec, upd)
	return nil
}

func applyUpdate(rec CallRecord, upd Update) CallRecord {
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.ProviderCallID != nil {
		rec.ProviderCallID = *upd.ProviderCallID
	}
	if upd.Outcome != nil {
		rec.Outcome = *upd.Outcome
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		rec.StartedAt = &t
	}
	if upd.EndedAt != nil {
		t := *upd.EndedAt
		rec.EndedAt = &t
	}
	if upd.DurationSeconds != nil {
		rec.DurationSeconds = *upd.DurationSeconds
	}
	return rec
}

func (r *MemoryRepo) ListInFlight(ctx context.Context, campaignID string) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.Records {
		if campaignID != "" && rec.CampaignID != campaignID {
			continue
		}
		if rec.Status.InFlight() {
			out = append(out, rec)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepo) CountInFlight(ctx context.Context, campaignID string) (int, error) {
	rows, err := r.ListInFlight(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (r *MemoryRepo) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0)
	for _, rec := range r.Records {
		if rec.CampaignID != campaignID {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(rows []CallRecord) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}
