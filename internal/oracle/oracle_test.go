package oracle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCalendar counts queries and can block until its context is canceled.
type fakeCalendar struct {
	busy    bool
	err     error
	queries atomic.Int32
	block   chan struct{}
}

func (c *fakeCalendar) Busy(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	c.queries.Add(1)
	if c.block != nil {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-c.block:
		}
	}
	return c.busy, c.err
}

func TestOracle_MemoizesWithinWindow(t *testing.T) {
	cal := &fakeCalendar{busy: true}
	o := New(cal, "user-1", time.Hour, 5*time.Minute)

	for i := 0; i < 5; i++ {
		busy, err := o.Busy(context.Background())
		if err != nil {
			t.Fatalf("Busy() error = %v", err)
		}
		if !busy {
			t.Fatal("Busy() = false, want true")
		}
	}

	if got := cal.queries.Load(); got != 1 {
		t.Errorf("calendar queried %d times, want 1", got)
	}
}

func TestOracle_RefetchesAfterExpiry(t *testing.T) {
	cal := &fakeCalendar{busy: false}
	o := New(cal, "user-1", time.Hour, 5*time.Minute)

	now := time.Unix(10000, 0)
	o.now = func() time.Time { return now }

	if _, err := o.Busy(context.Background()); err != nil {
		t.Fatalf("Busy() error = %v", err)
	}

	// Still valid one minute later.
	now = now.Add(time.Minute)
	if _, err := o.Busy(context.Background()); err != nil {
		t.Fatalf("Busy() error = %v", err)
	}
	if got := cal.queries.Load(); got != 1 {
		t.Fatalf("calendar queried %d times before expiry, want 1", got)
	}

	// Expired: the next check refetches.
	now = now.Add(10 * time.Minute)
	if _, err := o.Busy(context.Background()); err != nil {
		t.Fatalf("Busy() error = %v", err)
	}
	if got := cal.queries.Load(); got != 2 {
		t.Errorf("calendar queried %d times after expiry, want 2", got)
	}
}

func TestOracle_CancelInFlightQuery(t *testing.T) {
	cal := &fakeCalendar{block: make(chan struct{})}
	o := New(cal, "user-1", time.Hour, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := o.Busy(ctx)
		done <- err
	}()

	// Let the query get in flight, then cancel as a closing session would.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Busy() error = nil, want context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled query did not return within grace period")
	}

	if o.Snapshot() != nil {
		t.Error("failed fetch must not leave a snapshot behind")
	}
}

func TestOracle_SnapshotCopies(t *testing.T) {
	cal := &fakeCalendar{busy: true}
	o := New(cal, "user-1", time.Hour, 5*time.Minute)

	if o.Snapshot() != nil {
		t.Fatal("Snapshot() before any fetch should be nil")
	}

	if _, err := o.Busy(context.Background()); err != nil {
		t.Fatalf("Busy() error = %v", err)
	}

	snap := o.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot() = nil after fetch")
	}
	if !snap.Busy {
		t.Error("snapshot busy = false, want true")
	}
}
