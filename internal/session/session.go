// Package session owns one phone call's full lifecycle: the state machine,
// the audio relay bound to it, and the decision/action flow. A session runs
// on its own goroutines and shares nothing mutable with other sessions
// except the registry.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/callscreen/internal/decision"
	"github.com/tjfontaine/callscreen/internal/dispatch"
	"github.com/tjfontaine/callscreen/internal/domain"
	"github.com/tjfontaine/callscreen/internal/interpret"
	"github.com/tjfontaine/callscreen/internal/oracle"
	"github.com/tjfontaine/callscreen/internal/relay"
)

// ModelConn combines the speech model's audio and event surfaces, which ride
// the same underlying transport.
type ModelConn interface {
	domain.FrameTransport
	domain.EventStream
}

// Config bounds one session's timers and buffering.
type Config struct {
	// SetupTimeout bounds Ringing; a call that never reaches Screening in
	// time closes with setup_failed.
	SetupTimeout time.Duration

	// MaxScreeningDuration bounds total screening time before the engine
	// forces a scheduling offer.
	MaxScreeningDuration time.Duration

	RelayQueueDepth   int
	RelayWriteTimeout time.Duration
}

// Deps are the collaborators a session drives. Audit may be nil.
type Deps struct {
	Engine      *decision.Engine
	Oracle      *oracle.Oracle
	Dispatcher  *dispatch.Dispatcher
	Interpreter *interpret.Interpreter
	Telephony   domain.Telephony
	Audit       domain.AuditStore
	Logger      *slog.Logger
}

// Session is the orchestration unit for a single call.
type Session struct {
	callID          string
	callerNumber    string
	assistantNumber string
	profile         domain.UserProfile

	cfg  Config
	deps Deps

	mu             sync.Mutex
	state          domain.CallState
	outcome        domain.Outcome
	signals        []domain.DecisionSignal
	transcript     []domain.Utterance
	decisions      []domain.Decision
	lastDecisionAt time.Time
	screeningStart time.Time

	createdAt    time.Time
	lastActivity atomic.Int64 // unix nanos

	ctx        context.Context
	cancel     context.CancelFunc
	relay      *relay.Relay
	setupTimer *time.Timer
	onClose    func()

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session in Ringing and arms the setup timeout. The session
// does not process audio until Run binds its transports.
func New(callID, callerNumber string, profile domain.UserProfile, cfg Config, deps Deps) *Session {
	now := time.Now()
	s := &Session{
		callID:          callID,
		callerNumber:    callerNumber,
		assistantNumber: profile.AssistantNumber,
		profile:         profile,
		cfg:             cfg,
		deps:            deps,
		state:           domain.StateRinging,
		createdAt:       now,
		done:            make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	if deps.Logger != nil {
		s.deps.Logger = deps.Logger.With(slog.String("call_id", callID))
	} else {
		s.deps.Logger = slog.Default().With(slog.String("call_id", callID))
	}
	if cfg.SetupTimeout > 0 {
		s.setupTimer = time.AfterFunc(cfg.SetupTimeout, func() {
			if s.State() == domain.StateRinging {
				s.deps.Logger.Warn("setup timeout, screening never started")
				s.Close(domain.OutcomeSetupFailed)
			}
		})
	}
	return s
}

// ID returns the provider-assigned call identifier.
func (s *Session) ID() string { return s.callID }

// Profile returns the owner profile the session screens for.
func (s *Session) Profile() domain.UserProfile { return s.profile }

// Availability reports the owner's memoized busy status; known is false when
// the calendar cannot be reached.
func (s *Session) Availability(ctx context.Context) (busy, known bool) {
	if s.deps.Oracle == nil {
		return false, false
	}
	b, err := s.deps.Oracle.Busy(ctx)
	if err != nil {
		return false, false
	}
	return b, true
}

// Discard abandons a session that was never admitted: timers stop and the
// terminal state is reached without touching telephony or the audit log.
func (s *Session) Discard() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = domain.StateClosed
		cancel := s.cancel
		s.mu.Unlock()
		if s.setupTimer != nil {
			s.setupTimer.Stop()
		}
		if cancel != nil {
			cancel()
		}
		close(s.done)
	})
}

// State returns the current lifecycle state.
func (s *Session) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal outcome, empty until closed.
func (s *Session) Outcome() domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// LastActivity returns the time of the most recent inbound frame or event.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run binds the transports, starts the relay, and drives the event loop
// until the session closes. It blocks for the life of the call.
func (s *Session) Run(ctx context.Context, caller domain.FrameTransport, model ModelConn) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()
	defer cancel()

	r := relay.New(caller, model, relay.Config{
		QueueDepth:   s.cfg.RelayQueueDepth,
		WriteTimeout: s.cfg.RelayWriteTimeout,
	}, relay.Hooks{
		OnEstablished: s.beginScreening,
		OnFrame:       s.tapFrame,
		OnDrop: func(dir domain.Direction, total uint64) {
			s.deps.Logger.Debug("frame dropped",
				slog.String("direction", dir.String()),
				slog.Uint64("total", total),
			)
		},
		OnClosed: s.relayClosed,
	})
	s.mu.Lock()
	s.relay = r
	s.mu.Unlock()
	go r.Run(ctx)

	var maxScreen <-chan time.Time
	var maxTimer *time.Timer
	if s.cfg.MaxScreeningDuration > 0 {
		maxTimer = time.NewTimer(s.cfg.MaxScreeningDuration)
		defer maxTimer.Stop()
		maxScreen = maxTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-maxScreen:
			// Forced decision; the engine turns an overlong Continue into
			// a scheduling offer. Screening may have started after the
			// timer was armed, so re-arm for the remainder if it survives.
			s.decide()
			if !s.State().Terminal() {
				remaining := s.screeningRemaining()
				if remaining <= 0 {
					remaining = 50 * time.Millisecond
				}
				maxTimer.Reset(remaining)
			}
		case ev, ok := <-model.Events():
			if !ok {
				if s.State() == domain.StateClosed {
					return
				}
				if err := model.Err(); err != nil {
					s.deps.Logger.Error("model event stream failed", slog.String("error", err.Error()))
					s.Close(domain.OutcomeTransportError)
				} else {
					s.Close(domain.OutcomeCallerHangup)
				}
				return
			}
			s.handleEvent(ev)
		}
	}
}

// IngestAudio records inbound frame activity. Audio is only legal while the
// call is screening (Deciding is a transient slice of the same steady flow).
func (s *Session) IngestAudio(frame domain.AudioFrame) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case domain.StateScreening, domain.StateDeciding:
		s.touch()
		return nil
	default:
		return domain.ErrInvalidState("ingest audio", state)
	}
}

// IngestEvent appends a decision signal in arrival order. Signals arriving
// after Closed are dropped and logged, never reopen the session.
func (s *Session) IngestEvent(sig domain.DecisionSignal) {
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		s.deps.Logger.Info("signal after close dropped", slog.String("kind", string(sig.Kind)))
		return
	}
	s.signals = append(s.signals, sig)
	if sig.Kind == domain.SignalPartialTranscript {
		role := sig.Role
		if role == "" {
			role = "caller"
		}
		s.transcript = append(s.transcript, domain.Utterance{Role: role, Text: sig.Text, At: sig.At})
	}
	s.mu.Unlock()
	s.touch()
}

// Close moves the session to its terminal state exactly once: cancels
// in-flight work, tears down the relay, persists the audit record, and
// removes the session from the registry.
func (s *Session) Close(outcome domain.Outcome) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = domain.StateClosed
		s.outcome = outcome
		relay := s.relay
		cancel := s.cancel
		onClose := s.onClose
		s.mu.Unlock()

		if s.setupTimer != nil {
			s.setupTimer.Stop()
		}
		if cancel != nil {
			cancel()
		}
		if relay != nil {
			relay.Close()
		}

		s.hangUpAbandoned(outcome)
		s.persistRecord()

		if onClose != nil {
			onClose()
		}
		close(s.done)

		s.deps.Logger.Info("session closed",
			slog.String("outcome", string(outcome)),
			slog.Duration("lifetime", time.Since(s.createdAt)),
		)
	})
}

// beginScreening is the relay's establishment hook: the first frame has been
// exchanged in both directions.
func (s *Session) beginScreening() {
	s.mu.Lock()
	if s.state != domain.StateRinging {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateScreening
	s.screeningStart = time.Now()
	s.mu.Unlock()

	if s.setupTimer != nil {
		s.setupTimer.Stop()
	}
	s.deps.Logger.Info("screening started")
}

// tapFrame is the relay's per-frame hook. Frames flow freely during setup;
// once closed, the relay is told to drop them.
func (s *Session) tapFrame(frame domain.AudioFrame) error {
	err := s.IngestAudio(frame)
	if err != nil && s.State() == domain.StateRinging {
		// Setup audio precedes Screening; let it through to establish.
		return nil
	}
	return err
}

func (s *Session) relayClosed(err error) {
	if err != nil {
		s.deps.Logger.Error("relay failed", slog.String("error", err.Error()))
		s.Close(domain.OutcomeTransportError)
		return
	}
	switch s.State() {
	case domain.StateTransferring, domain.StateScheduling, domain.StateTerminating, domain.StateClosed:
		// The action path owns the outcome.
		return
	default:
		s.Close(domain.OutcomeCallerHangup)
	}
}

func (s *Session) handleEvent(ev domain.ModelEvent) {
	s.touch()
	sig, ok := s.deps.Interpreter.Interpret(ev)
	if !ok {
		return
	}
	s.IngestEvent(sig)
	s.decide()
}

// decide runs one Deciding transition: availability lookup, engine verdict,
// then either back to Screening or into an action state. It runs on the
// session's event loop, so signals arriving meanwhile queue behind it in
// arrival order.
func (s *Session) decide() {
	s.mu.Lock()
	if s.state != domain.StateScreening {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateDeciding
	signals := make([]domain.DecisionSignal, len(s.signals))
	copy(signals, s.signals)
	lastDecisionAt := s.lastDecisionAt
	screeningFor := time.Since(s.screeningStart)
	ctx := s.ctx
	s.mu.Unlock()

	busy, availabilityKnown := false, false
	if s.deps.Oracle != nil {
		var err error
		busy, err = s.deps.Oracle.Busy(ctx)
		if err != nil {
			// Unknown availability downgrades transfers; screening goes on.
			s.deps.Logger.Warn("availability check failed", slog.String("error", err.Error()))
		} else {
			availabilityKnown = true
		}
	}

	verdict := s.deps.Engine.Decide(decision.Input{
		Signals:           signals,
		LastDecisionAt:    lastDecisionAt,
		OwnerBusy:         busy,
		AvailabilityKnown: availabilityKnown,
		ScreeningFor:      screeningFor,
	})

	now := time.Now()
	s.mu.Lock()
	if s.state != domain.StateDeciding {
		// Closed while the decision was in flight.
		s.mu.Unlock()
		return
	}
	var last domain.DecisionSignal
	if len(signals) > 0 {
		last = signals[len(signals)-1]
	}
	s.decisions = append(s.decisions, domain.Decision{Signal: last, Verdict: verdict, At: now})
	s.lastDecisionAt = now

	if verdict == domain.VerdictContinue {
		s.state = domain.StateScreening
		s.mu.Unlock()
		return
	}
	s.state = actionState(verdict)
	s.mu.Unlock()

	s.deps.Logger.Info("verdict reached", slog.String("verdict", verdict.String()))
	s.execute(ctx, verdict)
}

func (s *Session) execute(ctx context.Context, verdict domain.Verdict) {
	err := s.deps.Dispatcher.Execute(ctx, dispatch.Action{
		Verdict:      verdict,
		CallID:       s.callID,
		CallerNumber: s.callerNumber,
		Profile:      s.profile,
	})
	switch {
	case err == nil:
		s.Close(outcomeFor(verdict))
	case ctx.Err() != nil:
		// Session is closing underneath us; Close already owns the outcome.
	default:
		s.deps.Logger.Error("action failed", slog.String("error", err.Error()))
		s.Close(domain.OutcomeActionFailed)
	}
}

// hangUpAbandoned makes sure a failed call is never left ringing or silent:
// if the session closed without a dispatched action, end it at the carrier.
func (s *Session) hangUpAbandoned(outcome domain.Outcome) {
	switch outcome {
	case domain.OutcomeSetupFailed, domain.OutcomeTransportError,
		domain.OutcomeActionFailed, domain.OutcomeIdleTimeout:
	default:
		return
	}
	if s.deps.Telephony == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Telephony.EndCall(ctx, s.callID); err != nil {
		s.deps.Logger.Warn("best-effort hangup failed", slog.String("error", err.Error()))
	}
}

// persistRecord appends the terminal call record. Best effort: a storage
// failure is logged and never blocks closing the call.
func (s *Session) persistRecord() {
	if s.deps.Audit == nil {
		return
	}
	s.mu.Lock()
	rec := &domain.CallRecord{
		ID:              uuid.New().String(),
		CallID:          s.callID,
		CallerNumber:    s.callerNumber,
		AssistantNumber: s.assistantNumber,
		OwnerUserID:     s.profile.ID,
		Outcome:         s.outcome,
		Transcript:      append([]domain.Utterance(nil), s.transcript...),
		Decisions:       append([]domain.Decision(nil), s.decisions...),
		StartedAt:       s.createdAt,
		EndedAt:         time.Now(),
	}
	relay := s.relay
	s.mu.Unlock()
	if relay != nil {
		rec.FramesDropped = relay.Drops()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Audit.RecordCall(ctx, rec); err != nil {
		s.deps.Logger.Warn("audit write failed", slog.String("error", err.Error()))
	}
}

func (s *Session) screeningRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screeningStart.IsZero() {
		return s.cfg.MaxScreeningDuration
	}
	return s.cfg.MaxScreeningDuration - time.Since(s.screeningStart)
}

func (s *Session) touch() {
	now := time.Now().UnixNano()
	for {
		prev := s.lastActivity.Load()
		if now <= prev {
			now = prev + 1
		}
		if s.lastActivity.CompareAndSwap(prev, now) {
			return
		}
	}
}

func actionState(v domain.Verdict) domain.CallState {
	switch v {
	case domain.VerdictTransfer:
		return domain.StateTransferring
	case domain.VerdictOfferSchedule:
		return domain.StateScheduling
	default:
		return domain.StateTerminating
	}
}

func outcomeFor(v domain.Verdict) domain.Outcome {
	switch v {
	case domain.VerdictTransfer:
		return domain.OutcomeTransferred
	case domain.VerdictOfferSchedule:
		return domain.OutcomeScheduled
	default:
		return domain.OutcomeTerminated
	}
}
