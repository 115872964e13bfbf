package leads

import (
	"sort"
	"time"
)

// SelectionPolicy is the slice of campaign policy the selector needs.
type SelectionPolicy struct {
	// RetryAttempts is the maximum number of dial attempts per lead.
	RetryAttempts int
	// RetryDelay is the minimum wait between attempts at the same lead.
	RetryDelay time.Duration
}

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 60 * time.Minute
)

func (p SelectionPolicy) withDefaults() SelectionPolicy {
	out := p
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = DefaultRetryAttempts
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	return out
}

// Eligible reports whether a lead may be dialed at instant now.
//
// Filter order matters for auditability: status gate first, then attempt
// budget, then retry backoff.
func Eligible(l Lead, pol SelectionPolicy, now time.Time) bool {
	pol = pol.withDefaults()

	switch l.Status {
	case StatusPending, StatusFailed:
	default:
		return false
	}
	if l.CallAttempts >= pol.RetryAttempts {
		return false
	}
	if l.LastCallAt != nil && now.Sub(*l.LastCallAt) < pol.RetryDelay {
		return false
	}
	return true
}

// SelectNext returns the single highest-ranked eligible lead from candidates,
// or nil when nothing is dialable.
//
// Ordering:
//  1. priority rank, descending (urgent > high > normal > low)
//  2. last_call_at ascending, nil first: a never-called lead outranks a
//     previously-called lead of equal priority.
//
// The function is deterministic and performs no writes; callers treat a nil
// result as "no work available", never as an error.
func SelectNext(candidates []Lead, pol SelectionPolicy, now time.Time) *Lead {
	eligible := make([]Lead, 0, len(candidates))
	for _, l := range candidates {
		if Eligible(l, pol, now) {
			eligible = append(eligible, l)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := eligible[i].Priority.Rank(), eligible[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return lastCallOrEpoch(eligible[i]).Before(lastCallOrEpoch(eligible[j]))
	})

	out := eligible[0]
	return &out
}

// lastCallOrEpoch treats a never-called lead as maximally stale.
func lastCallOrEpoch(l Lead) time.Time {
	if l.LastCallAt == nil {
		return time.Time{}
	}
	return *l.LastCallAt
}
