package session

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// shardCount keeps admit/lookup/remove contention per-shard instead of
// behind one global lock.
const shardCount = 16

// Registry is the only place new call sessions are admitted and the
// chokepoint for the global concurrency limit. It is safe for arbitrary
// concurrent admit/remove/lookup.
type Registry struct {
	shards [shardCount]registryShard
	max    int
	active atomic.Int64
}

type registryShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry bounded at maxSessions live sessions.
func NewRegistry(maxSessions int) *Registry {
	r := &Registry{max: maxSessions}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*Session)
	}
	return r
}

// Admit publishes the session, failing with capacity_exceeded at the
// configured maximum and duplicate_call if a live session exists for the
// same call id. The session is not visible to Lookup before Admit returns.
func (r *Registry) Admit(sess *Session) error {
	for {
		n := r.active.Load()
		if int(n) >= r.max {
			return domain.ErrCapacityExceeded(r.max)
		}
		if r.active.CompareAndSwap(n, n+1) {
			break
		}
	}

	shard := r.shard(sess.ID())
	shard.mu.Lock()
	if _, exists := shard.sessions[sess.ID()]; exists {
		shard.mu.Unlock()
		r.active.Add(-1)
		return domain.ErrDuplicateCall(sess.ID())
	}
	shard.sessions[sess.ID()] = sess
	shard.mu.Unlock()

	// Wire eviction under the session lock: the setup timer armed in New may
	// already be racing toward Close. Exactly one side runs the removal.
	sess.mu.Lock()
	sess.onClose = func() { r.Remove(sess.ID()) }
	closed := sess.state == domain.StateClosed
	sess.mu.Unlock()
	if closed {
		// Closed before eviction was wired; Close never saw onClose.
		r.Remove(sess.ID())
	}
	return nil
}

// Lookup returns the live session for the call id.
func (r *Registry) Lookup(callID string) (*Session, bool) {
	shard := r.shard(callID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sess, ok := shard.sessions[callID]
	return sess, ok
}

// Remove evicts the session. Idempotent; the slot is freed exactly once.
func (r *Registry) Remove(callID string) {
	shard := r.shard(callID)
	shard.mu.Lock()
	_, ok := shard.sessions[callID]
	if ok {
		delete(shard.sessions, callID)
	}
	shard.mu.Unlock()
	if ok {
		r.active.Add(-1)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return int(r.active.Load())
}

// Range calls fn for each live session until fn returns false. The snapshot
// per shard is taken under the read lock; fn runs outside it.
func (r *Registry) Range(fn func(*Session) bool) {
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.RLock()
		batch := make([]*Session, 0, len(shard.sessions))
		for _, sess := range shard.sessions {
			batch = append(batch, sess)
		}
		shard.mu.RUnlock()
		for _, sess := range batch {
			if !fn(sess) {
				return
			}
		}
	}
}

// SweepIdle closes every session whose last activity is older than the idle
// timeout and returns how many it closed.
func (r *Registry) SweepIdle(now time.Time, idleTimeout time.Duration) int {
	var closed int
	r.Range(func(sess *Session) bool {
		if now.Sub(sess.LastActivity()) >= idleTimeout {
			sess.Close(domain.OutcomeIdleTimeout)
			closed++
		}
		return true
	})
	return closed
}

func (r *Registry) shard(callID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return &r.shards[h.Sum32()%shardCount]
}
