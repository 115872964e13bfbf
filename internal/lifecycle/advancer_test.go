package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/leads"
)

// flakyLeadStore fails a set number of updates before behaving again.
type flakyLeadStore struct {
	*leads.MemoryRepo
	failures int
}

func (s *flakyLeadStore) Update(ctx context.Context, id string, upd leads.Update) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("lead store offline")
	}
	return s.MemoryRepo.Update(ctx, id, upd)
}

// staleListCallStore serves a captured in-flight snapshot, simulating a sweep
// that read its work list before another writer finished a record.
type staleListCallStore struct {
	*calls.MemoryRepo
	snapshot []calls.CallRecord
}

func (s *staleListCallStore) ListInFlight(ctx context.Context, campaignID string) ([]calls.CallRecord, error) {
	return s.snapshot, nil
}

type fakeSlots struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeSlots) Release(ctx context.Context, campaignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, campaignID)
	return nil
}

type fixture struct {
	advancer  *Advancer
	callRepo  *calls.MemoryRepo
	leadRepo  *leads.MemoryRepo
	campRepo  *campaigns.MemoryRepo
	slots     *fakeSlots
	events    *Broadcaster
	now       time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		callRepo: calls.NewMemoryRepo(),
		leadRepo: leads.NewMemoryRepo(),
		campRepo: campaigns.NewMemoryRepo(),
		slots:    &fakeSlots{},
		events:   NewBroadcaster(),
		now:      time.Unix(1700000000, 0).UTC(),
	}
	f.campRepo.Campaigns["camp"] = campaigns.Campaign{
		ID:            "camp",
		WorkspaceID:   "w1",
		ControlStatus: campaigns.ControlActive,
		Policy:        campaigns.Policy{MaxConcurrentCalls: 2, RetryAttempts: 3, RetryDelay: time.Hour},
	}
	f.advancer = NewAdvancer(cfg, f.callRepo, NewStoreFinisher(f.callRepo, f.leadRepo), f.campRepo, f.slots, f.events, nil)
	f.advancer.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) addLead(id string, attempts int) {
	f.leadRepo.Leads[id] = leads.Lead{
		ID: id, CampaignID: "camp", Phone: "+15550001111",
		Status: leads.StatusInProgress, CallAttempts: attempts,
	}
}

func (f *fixture) addRecord(t *testing.T, leadID string, createdAgo time.Duration) calls.CallRecord {
	t.Helper()
	rec, err := f.callRepo.Create(context.Background(), leadID, "camp", f.now.Add(-createdAgo))
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec
}

func (f *fixture) sweep(t *testing.T) {
	t.Helper()
	if err := f.advancer.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}

func (f *fixture) record(t *testing.T, id string) calls.CallRecord {
	t.Helper()
	rec, err := f.callRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	return rec
}

func TestSweep_PendingBelowPickupDelayUntouched(t *testing.T) {
	f := newFixture(t, Config{PickupDelay: 30 * time.Second})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 10*time.Second)

	f.sweep(t)

	if got := f.record(t, rec.ID); got.Status != calls.StatusPending {
		t.Fatalf("expected still pending, got %s", got.Status)
	}
}

func TestSweep_PickupMovesToInProgress(t *testing.T) {
	f := newFixture(t, Config{PickupDelay: 30 * time.Second})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 45*time.Second)

	f.sweep(t)

	got := f.record(t, rec.ID)
	if got.Status != calls.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(f.now) {
		t.Fatalf("started_at not stamped: %v", got.StartedAt)
	}
	if got.EndedAt != nil {
		t.Fatalf("ended_at must stay unset on pickup")
	}
}

func TestSweep_AbandonsStalePending(t *testing.T) {
	f := newFixture(t, Config{PickupDelay: 30 * time.Second, AbandonAfter: 5 * time.Minute})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 6*time.Minute)

	f.sweep(t)

	got := f.record(t, rec.ID)
	if got.Status != calls.StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", got.Status)
	}
	if got.EndedAt == nil || got.Outcome != "abandoned" {
		t.Fatalf("terminal fields not set: %+v", got)
	}

	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 1 {
		t.Fatalf("lead attempts = %d, want 1", l.CallAttempts)
	}
	if l.Status != leads.StatusPending {
		t.Fatalf("lead should return to pending for retry, got %s", l.Status)
	}
	if l.LastCallAt == nil || !l.LastCallAt.Equal(f.now) {
		t.Fatalf("last_call_at not stamped: %v", l.LastCallAt)
	}
	if len(f.slots.released) != 1 {
		t.Fatalf("dial slot not released")
	}
}

func TestSweep_AbandonExhaustsAttemptBudget(t *testing.T) {
	f := newFixture(t, Config{AbandonAfter: 5 * time.Minute})
	f.addLead("l1", 2) // retry_attempts=3, so this attempt is the last
	f.addRecord(t, "l1", 10*time.Minute)

	f.sweep(t)

	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 3 {
		t.Fatalf("lead attempts = %d, want 3", l.CallAttempts)
	}
	if l.Status != leads.StatusFailed {
		t.Fatalf("exhausted lead must fail, got %s", l.Status)
	}
	// And the selector never offers it again.
	if got := leads.SelectNext([]leads.Lead{l}, leads.SelectionPolicy{RetryAttempts: 3}, f.now.Add(24*time.Hour)); got != nil {
		t.Fatalf("exhausted lead selected: %+v", got)
	}
}

func TestSweep_CompletesAfterTargetDuration(t *testing.T) {
	f := newFixture(t, Config{MinCallDuration: 2 * time.Minute, MaxCallDuration: 5 * time.Minute})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 20*time.Minute)

	started := f.now.Add(-10 * time.Minute) // past any possible target
	st := calls.StatusInProgress
	if err := f.callRepo.Update(context.Background(), rec.ID, calls.Update{Status: &st, StartedAt: &started}); err != nil {
		t.Fatalf("seed in_progress: %v", err)
	}

	f.sweep(t)

	got := f.record(t, rec.ID)
	if got.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	wantDur := int(f.now.Sub(started) / time.Second)
	if got.DurationSeconds != wantDur {
		t.Fatalf("duration = %d, want %d", got.DurationSeconds, wantDur)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(f.now) {
		t.Fatalf("ended_at not stamped: %v", got.EndedAt)
	}

	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.Status != leads.StatusCompleted || l.CallAttempts != 1 {
		t.Fatalf("lead write-back wrong: %+v", l)
	}
	if len(f.slots.released) != 1 {
		t.Fatalf("dial slot not released")
	}
}

func TestSweep_InProgressBelowTargetUntouched(t *testing.T) {
	f := newFixture(t, Config{MinCallDuration: 2 * time.Minute, MaxCallDuration: 5 * time.Minute})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", time.Minute)

	started := f.now.Add(-30 * time.Second) // under the minimum duration
	st := calls.StatusInProgress
	if err := f.callRepo.Update(context.Background(), rec.ID, calls.Update{Status: &st, StartedAt: &started}); err != nil {
		t.Fatalf("seed in_progress: %v", err)
	}

	f.sweep(t)

	if got := f.record(t, rec.ID); got.Status != calls.StatusInProgress {
		t.Fatalf("expected still in_progress, got %s", got.Status)
	}
}

func TestSweep_TerminalRecordsAreNoOps(t *testing.T) {
	f := newFixture(t, Config{AbandonAfter: time.Minute})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 10*time.Minute)

	f.sweep(t)
	first := f.record(t, rec.ID)
	if first.Status != calls.StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", first.Status)
	}

	// Re-sweeping must not touch the record or the lead again.
	f.now = f.now.Add(time.Hour)
	f.sweep(t)

	second := f.record(t, rec.ID)
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("terminal record mutated on re-sweep")
	}
	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 1 {
		t.Fatalf("attempts incremented twice: %d", l.CallAttempts)
	}
	if len(f.slots.released) != 1 {
		t.Fatalf("slot released twice")
	}
}

func TestSweep_FaultOnOneRecordDoesNotHaltOthers(t *testing.T) {
	f := newFixture(t, Config{AbandonAfter: time.Minute})
	// "ghost" has a record but no lead row, so its write-back fails.
	f.addRecord(t, "ghost", 10*time.Minute)
	f.addLead("ok", 0)
	okRec := f.addRecord(t, "ok", 10*time.Minute)

	f.sweep(t)

	if got := f.record(t, okRec.ID); got.Status != calls.StatusAbandoned {
		t.Fatalf("healthy record not advanced past faulty sibling: %s", got.Status)
	}
}

func TestSweep_LeadWriteBackFaultRetriedNextSweep(t *testing.T) {
	f := newFixture(t, Config{AbandonAfter: time.Minute})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 10*time.Minute)

	flaky := &flakyLeadStore{MemoryRepo: f.leadRepo, failures: 1}
	f.advancer.finisher = NewStoreFinisher(f.callRepo, flaky)

	f.sweep(t)

	// Neither write landed: the record is still in flight and the lead is
	// untouched, so the next sweep owns the retry.
	if got := f.record(t, rec.ID); got.Status != calls.StatusPending {
		t.Fatalf("record left %s after faulted write-back, want pending", got.Status)
	}
	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 0 || l.Status != leads.StatusInProgress {
		t.Fatalf("lead mutated before transition landed: %+v", l)
	}
	if len(f.slots.released) != 0 {
		t.Fatalf("slot released for a transition that did not land")
	}

	// The store heals; the very next sweep converges.
	f.sweep(t)

	if got := f.record(t, rec.ID); got.Status != calls.StatusAbandoned {
		t.Fatalf("record = %s after healed sweep, want abandoned", got.Status)
	}
	l, _ = f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 1 || l.Status != leads.StatusPending {
		t.Fatalf("lead write-back missing after healed sweep: %+v", l)
	}
	if len(f.slots.released) != 1 {
		t.Fatalf("slot releases = %d, want 1", len(f.slots.released))
	}
}

func TestSweep_StaleSnapshotYieldsToProviderOutcome(t *testing.T) {
	f := newFixture(t, Config{AbandonAfter: time.Minute})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", 10*time.Minute)
	pid := "sim-789"
	if err := f.callRepo.Update(context.Background(), rec.ID, calls.Update{ProviderCallID: &pid}); err != nil {
		t.Fatalf("seed provider id: %v", err)
	}

	// Freeze the sweep's work list as of now, then let a provider completion
	// land before the sweep gets to write.
	snapshot, err := f.callRepo.ListInFlight(context.Background(), "camp")
	if err != nil || len(snapshot) != 1 {
		t.Fatalf("snapshot: %v %v", snapshot, err)
	}
	f.advancer.callStore = &staleListCallStore{MemoryRepo: f.callRepo, snapshot: snapshot}

	if err := f.advancer.ApplyEvent(context.Background(), ProviderEvent{ProviderCallID: pid, Type: ProviderEventCompleted, At: f.now}); err != nil {
		t.Fatalf("completed event: %v", err)
	}

	f.sweep(t)

	got := f.record(t, rec.ID)
	if got.Status != calls.StatusCompleted || got.Outcome != "completed" {
		t.Fatalf("provider outcome overwritten by stale sweep: %+v", got)
	}
	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 1 {
		t.Fatalf("one dial counted %d times", l.CallAttempts)
	}
	if len(f.slots.released) != 1 {
		t.Fatalf("slot releases = %d, want 1", len(f.slots.released))
	}
}

func TestTargetDuration_DeterministicAndBounded(t *testing.T) {
	f := newFixture(t, Config{MinCallDuration: 2 * time.Minute, MaxCallDuration: 5 * time.Minute})

	seen := map[time.Duration]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		d := f.advancer.targetDuration(id)
		if d < 2*time.Minute || d > 5*time.Minute {
			t.Fatalf("target %v outside configured range", d)
		}
		if d != f.advancer.targetDuration(id) {
			t.Fatalf("target for %q not stable", id)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected some spread across record IDs, got %v", seen)
	}
}

func TestApplyEvent_AnsweredThenCompleted(t *testing.T) {
	f := newFixture(t, Config{})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", time.Second)
	pid := "sim-123"
	if err := f.callRepo.Update(context.Background(), rec.ID, calls.Update{ProviderCallID: &pid}); err != nil {
		t.Fatalf("seed provider id: %v", err)
	}

	if err := f.advancer.ApplyEvent(context.Background(), ProviderEvent{ProviderCallID: pid, Type: ProviderEventAnswered, At: f.now}); err != nil {
		t.Fatalf("answered event: %v", err)
	}
	if got := f.record(t, rec.ID); got.Status != calls.StatusInProgress {
		t.Fatalf("expected in_progress after answered, got %s", got.Status)
	}

	f.now = f.now.Add(90 * time.Second)
	if err := f.advancer.ApplyEvent(context.Background(), ProviderEvent{ProviderCallID: pid, Type: ProviderEventCompleted, At: f.now}); err != nil {
		t.Fatalf("completed event: %v", err)
	}
	got := f.record(t, rec.ID)
	if got.Status != calls.StatusCompleted || got.DurationSeconds != 90 {
		t.Fatalf("unexpected record after completion: %+v", got)
	}

	// Duplicate provider event is a no-op.
	if err := f.advancer.ApplyEvent(context.Background(), ProviderEvent{ProviderCallID: pid, Type: ProviderEventCompleted, At: f.now.Add(time.Minute)}); err != nil {
		t.Fatalf("duplicate event: %v", err)
	}
	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.CallAttempts != 1 {
		t.Fatalf("duplicate event double-counted: %d", l.CallAttempts)
	}
}

func TestApplyEvent_FailureRoutesLeadToRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.addLead("l1", 0)
	rec := f.addRecord(t, "l1", time.Second)
	pid := "sim-456"
	if err := f.callRepo.Update(context.Background(), rec.ID, calls.Update{ProviderCallID: &pid}); err != nil {
		t.Fatalf("seed provider id: %v", err)
	}

	if err := f.advancer.ApplyEvent(context.Background(), ProviderEvent{ProviderCallID: pid, Type: ProviderEventFailed, Reason: "busy", At: f.now}); err != nil {
		t.Fatalf("failed event: %v", err)
	}
	got := f.record(t, rec.ID)
	if got.Status != calls.StatusFailed || got.Outcome != "busy" {
		t.Fatalf("unexpected record: %+v", got)
	}
	l, _ := f.leadRepo.GetByID(context.Background(), "l1")
	if l.Status != leads.StatusPending || l.CallAttempts != 1 {
		t.Fatalf("lead not routed to retry: %+v", l)
	}
}

func TestBroadcaster_SubscribersReceiveTerminalEvents(t *testing.T) {
	f := newFixture(t, Config{AbandonAfter: time.Minute})
	f.addLead("l1", 0)
	f.addRecord(t, "l1", 10*time.Minute)

	ch, cancel := f.events.Subscribe(4)
	defer cancel()

	f.sweep(t)

	select {
	case e := <-ch:
		if e.Type != EventCallAbandoned || e.CampaignID != "camp" {
			t.Fatalf("unexpected event: %+v", e)
		}
		if !e.Type.Terminal() {
			t.Fatalf("abandoned should be terminal")
		}
	default:
		t.Fatalf("no event published")
	}
}
