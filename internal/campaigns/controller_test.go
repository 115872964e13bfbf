package campaigns

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/leads"
)

type stubScheduler struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (s *stubScheduler) StartRunner(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
}

func (s *stubScheduler) StopRunner(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, id)
}

func newControllerFixture(status ControlStatus, leadStatuses ...leads.Status) (*Controller, *MemoryRepo, *stubScheduler) {
	repo := NewMemoryRepo()
	repo.Campaigns["camp"] = Campaign{
		ID:            "camp",
		WorkspaceID:   "w1",
		Name:          "q3-outreach",
		ControlStatus: status,
		Policy:        Policy{MaxConcurrentCalls: 2, RetryAttempts: 3, RetryDelay: time.Hour},
	}
	leadRepo := leads.NewMemoryRepo()
	for i, s := range leadStatuses {
		id := string(rune('a' + i))
		leadRepo.Leads[id] = leads.Lead{ID: id, CampaignID: "camp", Phone: "+15550000000", Status: s}
	}
	sched := &stubScheduler{}
	ctrl := NewController(repo, leadRepo, sched)
	ctrl.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return ctrl, repo, sched
}

func TestStart_RequiresEligibleLeads(t *testing.T) {
	ctrl, repo, sched := newControllerFixture(ControlDraft, leads.StatusCompleted, leads.StatusDNC)

	err := ctrl.Start(context.Background(), "camp")
	if !errors.Is(err, ErrNoEligibleLeads) {
		t.Fatalf("expected ErrNoEligibleLeads, got %v", err)
	}
	// Failed precondition must leave the control status unchanged.
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlDraft {
		t.Fatalf("control status mutated on failed start: %s", got)
	}
	if len(sched.started) != 0 {
		t.Fatalf("runner started despite failed precondition")
	}
}

func TestStart_ActivatesAndStartsRunner(t *testing.T) {
	ctrl, repo, sched := newControllerFixture(ControlDraft, leads.StatusPending)

	if err := ctrl.Start(context.Background(), "camp"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlActive {
		t.Fatalf("expected active, got %s", got)
	}
	if len(sched.started) != 1 || sched.started[0] != "camp" {
		t.Fatalf("runner not started: %v", sched.started)
	}
}

func TestStart_TypedFailures(t *testing.T) {
	cases := []struct {
		status ControlStatus
		want   error
	}{
		{ControlActive, ErrAlreadyActive},
		{ControlStopped, ErrAlreadyStopped},
		{ControlCompleted, ErrFinal},
	}
	for _, c := range cases {
		ctrl, _, _ := newControllerFixture(c.status, leads.StatusPending)
		if err := ctrl.Start(context.Background(), "camp"); !errors.Is(err, c.want) {
			t.Errorf("start from %s: got %v, want %v", c.status, err, c.want)
		}
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	ctrl, repo, sched := newControllerFixture(ControlActive, leads.StatusPending)

	if err := ctrl.Pause(context.Background(), "camp"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlPaused {
		t.Fatalf("expected paused, got %s", got)
	}
	// Pause does not cancel the runner; it observes status at the next tick.
	if len(sched.stopped) != 0 {
		t.Fatalf("pause must not stop the runner")
	}

	if err := ctrl.Resume(context.Background(), "camp"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestResume_NotPaused(t *testing.T) {
	ctrl, _, _ := newControllerFixture(ControlActive, leads.StatusPending)
	if err := ctrl.Resume(context.Background(), "camp"); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
}

func TestStop_IsPermanent(t *testing.T) {
	ctrl, repo, sched := newControllerFixture(ControlActive, leads.StatusPending)

	if err := ctrl.Stop(context.Background(), "camp"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	if len(sched.stopped) != 1 {
		t.Fatalf("runner not stopped")
	}

	if err := ctrl.Stop(context.Background(), "camp"); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("expected ErrAlreadyStopped, got %v", err)
	}
	if err := ctrl.Start(context.Background(), "camp"); !errors.Is(err, ErrAlreadyStopped) {
		t.Fatalf("stopped campaign restarted: %v", err)
	}
}

func TestMarkCompleted_LosingRaceIsNoError(t *testing.T) {
	ctrl, repo, _ := newControllerFixture(ControlPaused, leads.StatusPending)

	// Campaign was paused between the runner's drain check and the mark.
	if err := ctrl.MarkCompleted(context.Background(), "camp"); err != nil {
		t.Fatalf("expected lost CAS to be swallowed, got %v", err)
	}
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlPaused {
		t.Fatalf("paused campaign overwritten: %s", got)
	}
}

func TestMarkCompleted_FromActive(t *testing.T) {
	ctrl, repo, sched := newControllerFixture(ControlActive, leads.StatusPending)

	if err := ctrl.MarkCompleted(context.Background(), "camp"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := repo.Campaigns["camp"].ControlStatus; got != ControlCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if len(sched.stopped) != 1 {
		t.Fatalf("runner not stopped after completion")
	}
}
