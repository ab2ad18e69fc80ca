package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

func newBareSession(callID string) *Session {
	cfg := testConfig()
	cfg.SetupTimeout = 0
	return New(callID, "+15550001111", testProfile(), cfg, Deps{})
}

func TestRegistry_AdmitAndLookup(t *testing.T) {
	r := NewRegistry(4)

	sess := newBareSession("CA1")
	if err := r.Admit(sess); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	got, ok := r.Lookup("CA1")
	if !ok || got != sess {
		t.Errorf("Lookup(CA1) = %v, %v; want the admitted session", got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_DuplicateCallRejected(t *testing.T) {
	r := NewRegistry(4)

	if err := r.Admit(newBareSession("CA1")); err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}
	err := r.Admit(newBareSession("CA1"))
	if !domain.IsType(err, domain.ErrorTypeDuplicateCall) {
		t.Errorf("second Admit() error = %v, want duplicate_call", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d after rejected duplicate, want 1", r.Len())
	}
}

func TestRegistry_CapacityFreedOnClose(t *testing.T) {
	r := NewRegistry(2)

	first := newBareSession("CA1")
	if err := r.Admit(first); err != nil {
		t.Fatalf("Admit(CA1) error = %v", err)
	}
	if err := r.Admit(newBareSession("CA2")); err != nil {
		t.Fatalf("Admit(CA2) error = %v", err)
	}

	err := r.Admit(newBareSession("CA3"))
	if !domain.IsType(err, domain.ErrorTypeCapacityExceeded) {
		t.Fatalf("Admit(CA3) at capacity error = %v, want capacity_exceeded", err)
	}

	// Closing a session frees its slot.
	first.Close(domain.OutcomeTerminated)
	if err := r.Admit(newBareSession("CA3")); err != nil {
		t.Errorf("Admit(CA3) after close error = %v", err)
	}
	if _, ok := r.Lookup("CA1"); ok {
		t.Error("closed session still visible to Lookup")
	}
}

func TestRegistry_AdmitOfClosedSessionFreesSlot(t *testing.T) {
	r := NewRegistry(1)

	// The setup timer can close a session between New and Admit; the slot
	// must not leak when eviction was wired too late to fire.
	sess := newBareSession("CA1")
	sess.Close(domain.OutcomeSetupFailed)

	if err := r.Admit(sess); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after admitting a closed session, want 0", r.Len())
	}
	if _, ok := r.Lookup("CA1"); ok {
		t.Error("closed session still visible to Lookup")
	}
	if err := r.Admit(newBareSession("CA2")); err != nil {
		t.Errorf("Admit(CA2) into freed slot error = %v", err)
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(2)
	if err := r.Admit(newBareSession("CA1")); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	r.Remove("CA1")
	r.Remove("CA1")
	r.Remove("never-admitted")

	if r.Len() != 0 {
		t.Errorf("Len() = %d after removes, want 0", r.Len())
	}
}

func TestRegistry_SweepIdleClosesStaleSessions(t *testing.T) {
	r := NewRegistry(8)

	stale := newBareSession("CA1")
	fresh := newBareSession("CA2")
	if err := r.Admit(stale); err != nil {
		t.Fatalf("Admit(CA1) error = %v", err)
	}
	if err := r.Admit(fresh); err != nil {
		t.Fatalf("Admit(CA2) error = %v", err)
	}
	fresh.touch()

	n := r.SweepIdle(time.Now().Add(time.Hour), 30*time.Minute)
	if n != 2 {
		t.Errorf("SweepIdle(far future) = %d, want 2", n)
	}
	if got := stale.Outcome(); got != domain.OutcomeIdleTimeout {
		t.Errorf("swept outcome = %v, want %v", got, domain.OutcomeIdleTimeout)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", r.Len())
	}
}

func TestRegistry_SweepIdleSparesActiveSessions(t *testing.T) {
	r := NewRegistry(8)
	sess := newBareSession("CA1")
	if err := r.Admit(sess); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	if n := r.SweepIdle(time.Now(), time.Minute); n != 0 {
		t.Errorf("SweepIdle(now) = %d, want 0", n)
	}
	if got := sess.State(); got != domain.StateRinging {
		t.Errorf("state = %v after sweep, want ringing", got)
	}
}

func TestRegistry_ConcurrentAdmitRespectsLimit(t *testing.T) {
	const limit = 16
	r := NewRegistry(limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < limit*4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Admit(newBareSession(fmt.Sprintf("CA%d", i))); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted = %d, want %d", admitted, limit)
	}
	if r.Len() != limit {
		t.Errorf("Len() = %d, want %d", r.Len(), limit)
	}
}
