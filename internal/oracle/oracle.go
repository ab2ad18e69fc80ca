// Package oracle caches the owner's calendar busy/free status for the
// duration of one call. The calendar collaborator is queried at most once
// unless the snapshot's validity window expires during a long call.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Oracle is a per-call memoizing wrapper over the calendar collaborator.
type Oracle struct {
	calendar domain.CalendarClient
	userID   string
	window   time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu   sync.Mutex
	snap *domain.AvailabilitySnapshot
}

// New creates an oracle for one call. window is how far ahead the busy check
// looks; ttl is the snapshot's validity window.
func New(calendar domain.CalendarClient, userID string, window, ttl time.Duration) *Oracle {
	return &Oracle{
		calendar: calendar,
		userID:   userID,
		window:   window,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Busy returns the owner's current busy/free status, fetching from the
// calendar collaborator only when no valid snapshot exists. The fetch honors
// ctx, so closing the session cancels an in-flight query.
func (o *Oracle) Busy(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if o.snap != nil && o.snap.Valid(now) {
		return o.snap.Busy, nil
	}

	busy, err := o.calendar.Busy(ctx, o.userID, now, now.Add(o.window))
	if err != nil {
		return false, err
	}

	o.snap = &domain.AvailabilitySnapshot{
		Busy:      busy,
		FetchedAt: now,
		ExpiresAt: now.Add(o.ttl),
	}
	return busy, nil
}

// Snapshot returns the current snapshot, or nil if none was fetched yet.
func (o *Oracle) Snapshot() *domain.AvailabilitySnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap == nil {
		return nil
	}
	snap := *o.snap
	return &snap
}
