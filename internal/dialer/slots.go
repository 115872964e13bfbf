package dialer

import (
	"context"
	"sync"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter guards the per-campaign concurrency cap. Acquire must be atomic
// with respect to concurrent dispatchers; slots held by a crashed process
// must eventually free themselves.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID string, limit int) (bool, error)
	Release(ctx context.Context, campaignID string) error
}

const slotKeyPrefix = "dialer:slots:"

// defaultSlotTTL comfortably exceeds the longest possible call lifetime
// (abandon threshold + max simulated duration) so live slots never expire
// under the advancer.
const defaultSlotTTL = 30 * time.Minute

// RedisSlotLimiter implements the cap with an atomic Lua counter per campaign.
type RedisSlotLimiter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSlotLimiter(rdb *redis.Client, ttl time.Duration) *RedisSlotLimiter {
	if ttl <= 0 {
		ttl = defaultSlotTTL
	}
	return &RedisSlotLimiter{rdb: rdb, ttl: ttl}
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	return utils.AcquireDialSlot(ctx, l.rdb, slotKeyPrefix+campaignID, limit, l.ttl)
}

func (l *RedisSlotLimiter) Release(ctx context.Context, campaignID string) error {
	return utils.ReleaseDialSlot(ctx, l.rdb, slotKeyPrefix+campaignID)
}

// MemorySlotLimiter is the in-process equivalent for tests and single-node
// development runs.
type MemorySlotLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemorySlotLimiter() *MemorySlotLimiter {
	return &MemorySlotLimiter{counts: map[string]int{}}
}

func (l *MemorySlotLimiter) Acquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[campaignID] >= limit {
		return false, nil
	}
	l.counts[campaignID]++
	return true, nil
}

func (l *MemorySlotLimiter) Release(ctx context.Context, campaignID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[campaignID] > 0 {
		l.counts[campaignID]--
		if l.counts[campaignID] == 0 {
			delete(l.counts, campaignID)
		}
	}
	return nil
}

// Held reports the current slot count for a campaign (test helper).
func (l *MemorySlotLimiter) Held(campaignID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[campaignID]
}
