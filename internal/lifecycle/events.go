package lifecycle

import (
	"sync"
	"time"
)

// Event is a call lifecycle notification published by the advancer.
//
// Consumers subscribe instead of polling the stores: the dialer wakes on
// freed capacity, and UI/reporting layers can refresh on their own cadence.
type Event struct {
	Type EventType `json:"type"`

	CampaignID   string `json:"campaign_id"`
	LeadID       string `json:"lead_id"`
	CallRecordID string `json:"call_record_id"`

	At time.Time `json:"at"`
}

type EventType string

const (
	EventCallStarted   EventType = "call_started"
	EventCallCompleted EventType = "call_completed"
	EventCallAbandoned EventType = "call_abandoned"
	EventCallFailed    EventType = "call_failed"
)

// Terminal reports whether the event freed a dial slot.
func (t EventType) Terminal() bool {
	return t == EventCallCompleted || t == EventCallAbandoned || t == EventCallFailed
}

// Broadcaster fans lifecycle events out to in-process subscribers.
//
// Publish never blocks: a subscriber that falls behind loses events. That is
// acceptable because every consumer treats events as wake-ups and re-reads
// authoritative state from the stores.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[int]chan Event{}}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel func unregisters and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
