package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/lifecycle"
)

// Completer marks a drained campaign completed. Implemented by the campaign
// controller.
type Completer interface {
	MarkCompleted(ctx context.Context, campaignID string) error
}

// Manager owns one dispatch runner per active campaign: an explicit registry
// of cancellable tasks, keyed by campaign ID.
//
// Runners tick on an interval and additionally wake when the lifecycle
// advancer reports a terminal call, so freed capacity is refilled without
// waiting out the tick.
type Manager struct {
	dispatcher    *Dispatcher
	campaignStore CampaignStore
	events        *lifecycle.Broadcaster
	tickInterval  time.Duration

	log *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	runners   map[string]*runner
	pending   []string
	completer Completer
	wg        sync.WaitGroup
}

type runner struct {
	cancel context.CancelFunc
	wake   chan struct{}
}

func NewManager(dispatcher *Dispatcher, campaignStore CampaignStore, events *lifecycle.Broadcaster, tickInterval time.Duration, log *slog.Logger) *Manager {
	if tickInterval <= 0 {
		tickInterval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		dispatcher:    dispatcher,
		campaignStore: campaignStore,
		events:        events,
		tickInterval:  tickInterval,
		log:           log.With("component", "dialer"),
		runners:       map[string]*runner{},
	}
}

// SetCompleter breaks the construction cycle between the manager and the
// campaign controller; call it before Run.
func (m *Manager) SetCompleter(c Completer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completer = c
}

// Run resumes runners for campaigns that were active at boot, then forwards
// lifecycle wake-ups until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	queued := m.pending
	m.pending = nil
	m.mu.Unlock()

	if active, err := m.campaignStore.ListByControlStatus(ctx, campaigns.ControlActive); err != nil {
		m.log.Error("active campaign scan failed", "err", err)
	} else {
		for _, c := range active {
			m.StartRunner(c.ID)
		}
	}
	for _, id := range queued {
		m.StartRunner(id)
	}

	var ch <-chan lifecycle.Event
	cancelSub := func() {}
	if m.events != nil {
		ch, cancelSub = m.events.Subscribe(64)
	}
	defer cancelSub()

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			m.wg.Wait()
			m.log.Info("dialer manager stopped")
			return
		case e, ok := <-ch:
			if !ok {
				<-ctx.Done()
				m.stopAll()
				m.wg.Wait()
				return
			}
			if e.Type.Terminal() {
				m.nudge(e.CampaignID)
			}
		}
	}
}

// StartRunner ensures a dispatch loop exists for the campaign. Idempotent.
func (m *Manager) StartRunner(campaignID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runners[campaignID]; ok {
		return
	}
	if m.ctx == nil {
		// Run has not started yet; remember the campaign for boot.
		m.pending = append(m.pending, campaignID)
		return
	}

	rctx, cancel := context.WithCancel(m.ctx)
	r := &runner{cancel: cancel, wake: make(chan struct{}, 1)}
	// Seed a wake-up so the first dispatch happens now, not a tick later.
	r.wake <- struct{}{}
	m.runners[campaignID] = r

	m.wg.Add(1)
	go m.runLoop(rctx, campaignID, r.wake)
	m.log.Info("dispatch runner started", "campaign_id", campaignID)
}

// StopRunner cancels the campaign's dispatch loop. In-flight calls are left
// to the lifecycle advancer.
func (m *Manager) StopRunner(campaignID string) {
	m.mu.Lock()
	r, ok := m.runners[campaignID]
	if ok {
		delete(m.runners, campaignID)
	}
	m.mu.Unlock()

	if ok {
		r.cancel()
		m.log.Info("dispatch runner stopped", "campaign_id", campaignID)
	}
}

func (m *Manager) runLoop(ctx context.Context, campaignID string, wake chan struct{}) {
	defer m.wg.Done()
	log := m.log.With("campaign_id", campaignID)

	t := time.NewTicker(m.tickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-wake:
		}

		res, err := m.dispatcher.Tick(ctx, campaignID)
		if err != nil {
			if errors.Is(err, campaigns.ErrNotFound) {
				log.Warn("campaign vanished; runner exiting")
				m.forget(campaignID)
				return
			}
			// Transient: nothing was committed, the next tick re-evaluates.
			log.Error("dispatch tick failed", "err", err)
			continue
		}

		if res.ControlStatus.IsFinal() {
			m.forget(campaignID)
			return
		}
		if res.Drained {
			m.complete(ctx, campaignID, log)
			m.forget(campaignID)
			return
		}
	}
}

func (m *Manager) complete(ctx context.Context, campaignID string, log *slog.Logger) {
	m.mu.Lock()
	completer := m.completer
	m.mu.Unlock()
	if completer == nil {
		return
	}
	if err := completer.MarkCompleted(ctx, campaignID); err != nil {
		log.Error("campaign completion mark failed", "err", err)
		return
	}
	log.Info("campaign drained", "campaign_id", campaignID)
}

func (m *Manager) nudge(campaignID string) {
	m.mu.Lock()
	r, ok := m.runners[campaignID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) forget(campaignID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runners, campaignID)
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	runners := m.runners
	m.runners = map[string]*runner{}
	m.mu.Unlock()
	for _, r := range runners {
		r.cancel()
	}
}
