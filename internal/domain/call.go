package domain

import "time"

// CallState is the lifecycle state of a call session. Transitions are
// monotonic: Ringing -> Screening -> Deciding -> one action state -> Closed,
// with Closed reachable from every non-terminal state on failure.
type CallState int

const (
	// StateRinging is the initial state, set on the inbound-call
	// notification before any audio flows.
	StateRinging CallState = iota

	// StateScreening is the steady state while audio and signals flow.
	StateScreening

	// StateDeciding is the transient state entered while the decision
	// engine is invoked.
	StateDeciding

	// StateTransferring is entered once, when the call is being bridged
	// to the owner.
	StateTransferring

	// StateScheduling is entered once, when a scheduling link is being sent.
	StateScheduling

	// StateTerminating is entered once, when the call is being hung up.
	StateTerminating

	// StateClosed is terminal and immutable.
	StateClosed
)

func (s CallState) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateScreening:
		return "screening"
	case StateDeciding:
		return "deciding"
	case StateTransferring:
		return "transferring"
	case StateScheduling:
		return "scheduling"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s CallState) Terminal() bool {
	return s == StateClosed
}

// Outcome is the terminal disposition of a call session, recorded exactly
// once when the session closes.
type Outcome string

const (
	OutcomeTransferred    Outcome = "transferred"
	OutcomeScheduled      Outcome = "scheduled"
	OutcomeTerminated     Outcome = "terminated"
	OutcomeSetupFailed    Outcome = "setup_failed"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeActionFailed   Outcome = "action_failed"
	OutcomeIdleTimeout    Outcome = "idle_timeout"
	OutcomeCallerHangup   Outcome = "caller_hangup"
)

// Utterance is one entry in a call's accumulated transcript.
type Utterance struct {
	Role string    `json:"role"` // "caller" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Decision is one entry in a call's decision history.
type Decision struct {
	Signal  DecisionSignal `json:"signal"`
	Verdict Verdict        `json:"verdict"`
	At      time.Time      `json:"at"`
}

// AvailabilitySnapshot is the owner's cached busy/free status. It is fetched
// at most once per call unless the validity window expires mid-call.
type AvailabilitySnapshot struct {
	Busy      bool
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the snapshot is still within its validity window.
func (a AvailabilitySnapshot) Valid(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// UserProfile is the read-only view of the owning user consumed by the
// screening core. The core never mutates this entity; it is owned by the
// profile collaborator.
type UserProfile struct {
	ID                string
	FullName          string
	AssistantNumber   string
	TransferNumber    string
	SchedulingLink    string
	Timezone          string
	CalendarConnected bool
}

// CallRecord is the durable audit row appended when a session closes. The
// write is best-effort and never blocks closing the call.
type CallRecord struct {
	ID              string
	CallID          string
	CallerNumber    string
	AssistantNumber string
	OwnerUserID     string
	Outcome         Outcome
	Transcript      []Utterance
	Decisions       []Decision
	FramesDropped   uint64
	StartedAt       time.Time
	EndedAt         time.Time
}
