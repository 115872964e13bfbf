package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/leads"
)

func TestFinishCall_SecondTerminalWriteLosesGuard(t *testing.T) {
	ctx := context.Background()
	callRepo := calls.NewMemoryRepo()
	leadRepo := leads.NewMemoryRepo()
	leadRepo.Leads["l1"] = leads.Lead{ID: "l1", CampaignID: "camp", Status: leads.StatusInProgress}
	now := time.Unix(1700000000, 0).UTC()
	rec, err := callRepo.Create(ctx, "l1", "camp", now)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	fin := NewStoreFinisher(callRepo, leadRepo)
	if err := fin.FinishCall(ctx, Finish{
		RecordID: rec.ID, From: calls.StatusPending, To: calls.StatusCompleted,
		Outcome: "completed", At: now,
		LeadID: "l1", LeadTerminal: leads.StatusCompleted, RetryAttempts: 3,
	}); err != nil {
		t.Fatalf("first finish: %v", err)
	}

	// A racing writer that read the record as pending must lose, leaving the
	// first outcome and a single counted attempt.
	err = fin.FinishCall(ctx, Finish{
		RecordID: rec.ID, From: calls.StatusPending, To: calls.StatusAbandoned,
		Outcome: "abandoned", At: now.Add(time.Minute),
		LeadID: "l1", LeadTerminal: leads.StatusAbandoned, RetryAttempts: 3,
	})
	if !errors.Is(err, calls.ErrStaleStatus) {
		t.Fatalf("expected stale status, got %v", err)
	}

	got, _ := callRepo.GetByID(ctx, rec.ID)
	if got.Status != calls.StatusCompleted || got.Outcome != "completed" {
		t.Fatalf("terminal record mutated by losing writer: %+v", got)
	}
	l, _ := leadRepo.GetByID(ctx, "l1")
	if l.CallAttempts != 1 || l.Status != leads.StatusCompleted {
		t.Fatalf("lead written back twice: %+v", l)
	}
}

func TestFinishCall_LeadFaultLeavesRecordInFlight(t *testing.T) {
	ctx := context.Background()
	callRepo := calls.NewMemoryRepo()
	leadRepo := leads.NewMemoryRepo()
	leadRepo.Leads["l1"] = leads.Lead{ID: "l1", CampaignID: "camp", Status: leads.StatusInProgress}
	now := time.Unix(1700000000, 0).UTC()
	rec, err := callRepo.Create(ctx, "l1", "camp", now)
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	flaky := &flakyLeadStore{MemoryRepo: leadRepo, failures: 1}
	fin := NewStoreFinisher(callRepo, flaky)
	req := Finish{
		RecordID: rec.ID, From: calls.StatusPending, To: calls.StatusFailed,
		Outcome: "busy", At: now,
		LeadID: "l1", LeadTerminal: leads.StatusFailed, RetryAttempts: 3,
	}

	if err := fin.FinishCall(ctx, req); err == nil {
		t.Fatalf("expected lead store fault to surface")
	}
	got, _ := callRepo.GetByID(ctx, rec.ID)
	if got.Status != calls.StatusPending {
		t.Fatalf("record left %s after faulted finish, want pending", got.Status)
	}

	// Retrying the same finish converges once the store heals.
	if err := fin.FinishCall(ctx, req); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ = callRepo.GetByID(ctx, rec.ID)
	if got.Status != calls.StatusFailed || got.Outcome != "busy" {
		t.Fatalf("retry did not land: %+v", got)
	}
	l, _ := leadRepo.GetByID(ctx, "l1")
	if l.CallAttempts != 1 || l.Status != leads.StatusPending {
		t.Fatalf("lead write-back wrong after retry: %+v", l)
	}
}
