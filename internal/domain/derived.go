package domain

import "time"

// Derived states are recomputed from stored fields on every read and are
// never persisted, so they cannot go stale.

// IsOverdue reports whether the request is past its due date. Only the
// kind's active status can be overdue; terminal or waiting requests are
// never overdue regardless of DueAt.
func IsOverdue(r Request, now time.Time) bool {
	spec, ok := SpecFor(r.Kind)
	if !ok || spec.Active == "" || r.Status != spec.Active {
		return false
	}
	return r.DueAt != nil && r.DueAt.Before(now)
}

// Spots is a derived availability count for a quota-bearing subject.
type Spots int

// SpotsUnlimited is the sentinel returned when no quota is configured.
const SpotsUnlimited Spots = -1

// Unlimited reports whether the value is the no-quota sentinel.
func (s Spots) Unlimited() bool { return s == SpotsUnlimited }

// AvailableSpots returns quota minus consumed, clamped at zero. A nil
// quota yields SpotsUnlimited.
func AvailableSpots(quota *int, consumed int) Spots {
	if quota == nil {
		return SpotsUnlimited
	}
	if left := *quota - consumed; left > 0 {
		return Spots(left)
	}
	return 0
}
