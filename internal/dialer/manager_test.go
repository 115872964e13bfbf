package dialer

import (
	"context"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/lifecycle"
)

type recordingCompleter struct {
	mu        sync.Mutex
	completed []string
}

func (c *recordingCompleter) MarkCompleted(ctx context.Context, campaignID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, campaignID)
	return nil
}

func (c *recordingCompleter) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.completed...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func newManagerFixture(status campaigns.ControlStatus) (*Manager, *recordingCompleter, *campaigns.MemoryRepo) {
	campRepo := campaigns.NewMemoryRepo()
	campRepo.Campaigns["camp"] = campaigns.Campaign{
		ID:            "camp",
		WorkspaceID:   "w1",
		ControlStatus: status,
		Policy:        campaigns.Policy{MaxConcurrentCalls: 1, RetryAttempts: 3, RetryDelay: time.Hour},
	}
	leadRepo := leads.NewMemoryRepo()
	callRepo := calls.NewMemoryRepo()
	d := NewDispatcher(campRepo, leadRepo, callRepo, &scriptedLauncher{}, NewMemorySlotLimiter(),
		lifecycle.NewStoreFinisher(callRepo, leadRepo), nil)

	m := NewManager(d, campRepo, lifecycle.NewBroadcaster(), 10*time.Millisecond, nil)
	completer := &recordingCompleter{}
	m.SetCompleter(completer)
	return m, completer, campRepo
}

func TestManager_ResumesActiveCampaignsAndCompletesOnDrain(t *testing.T) {
	m, completer, _ := newManagerFixture(campaigns.ControlActive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// The campaign has no leads at all, so the first tick drains it.
	waitFor(t, func() bool {
		got := completer.list()
		return len(got) == 1 && got[0] == "camp"
	}, "drained campaign marked completed")

	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.runners) == 0
	}, "runner removed after drain")
}

func TestManager_RunnerExitsWhenCampaignStopped(t *testing.T) {
	m, completer, campRepo := newManagerFixture(campaigns.ControlStopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Stopped campaigns are not resumed at boot.
	time.Sleep(50 * time.Millisecond)
	m.mu.Lock()
	n := len(m.runners)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("stopped campaign got a runner")
	}

	// An explicitly started runner observes the final status and exits
	// without marking completion.
	c := campRepo.Campaigns["camp"]
	c.ControlStatus = campaigns.ControlStopped
	campRepo.Campaigns["camp"] = c
	m.StartRunner("camp")

	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.runners) == 0
	}, "runner exited on final control status")
	if len(completer.list()) != 0 {
		t.Fatalf("stopped campaign marked completed")
	}
}

func TestManager_StartRunnerBeforeRunIsQueued(t *testing.T) {
	m, completer, _ := newManagerFixture(campaigns.ControlActive)

	m.StartRunner("camp")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, func() bool {
		return len(completer.list()) == 1
	}, "queued runner started at boot")
}
