package domain

import "time"

// Verdict is the decision engine's output action selection.
type Verdict int

const (
	// VerdictContinue keeps screening; idempotent and re-enterable.
	VerdictContinue Verdict = iota

	// VerdictTransfer bridges the call to the owner.
	VerdictTransfer

	// VerdictOfferSchedule sends the caller a scheduling link by SMS.
	VerdictOfferSchedule

	// VerdictTerminate ends the call.
	VerdictTerminate
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictTransfer:
		return "transfer"
	case VerdictOfferSchedule:
		return "offer_schedule"
	case VerdictTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Terminal reports whether the verdict ends screening.
func (v Verdict) Terminal() bool {
	return v != VerdictContinue
}

// SignalKind tags the DecisionSignal variant.
type SignalKind string

const (
	// SignalPartialTranscript carries a transcript fragment.
	SignalPartialTranscript SignalKind = "partial_transcript"

	// SignalCallerIntent carries an inferred caller intent with confidence.
	SignalCallerIntent SignalKind = "caller_intent"

	// SignalExplicitRequest carries a caller-initiated request surfaced by
	// the model as a function call.
	SignalExplicitRequest SignalKind = "explicit_request"
)

// IntentCategory classifies inferred caller intent.
type IntentCategory string

const (
	IntentSpam     IntentCategory = "spam"
	IntentSchedule IntentCategory = "schedule"
	IntentTransfer IntentCategory = "transfer"
	IntentUnknown  IntentCategory = "unknown"
)

// RequestKind classifies explicit caller requests.
type RequestKind string

const (
	RequestTransfer RequestKind = "transfer"
	RequestSchedule RequestKind = "schedule"
	RequestHangUp   RequestKind = "hang_up"
)

// DecisionSignal is the tagged variant produced by the interpreter and
// consumed by the decision engine exactly once, in arrival order. Kind
// selects which of the remaining fields are meaningful.
type DecisionSignal struct {
	Kind SignalKind `json:"kind"`

	// PartialTranscript fields.
	Text string `json:"text,omitempty"`
	Role string `json:"role,omitempty"`

	// CallerIntent fields.
	Intent     IntentCategory `json:"intent,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`

	// ExplicitRequest fields.
	Request RequestKind `json:"request,omitempty"`

	At time.Time `json:"at"`
}

// ModelEventType categorizes structured events emitted by the speech model.
type ModelEventType string

const (
	// EventTranscript is a completed transcript fragment (semantic).
	EventTranscript ModelEventType = "transcript"

	// EventIntent is a model-reported intent classification (semantic).
	EventIntent ModelEventType = "intent"

	// EventToolCall is an explicit function-call request (semantic).
	EventToolCall ModelEventType = "tool_call"

	// EventAcoustic covers purely acoustic notifications (speech start/stop,
	// buffer commits). The interpreter emits no signal for these.
	EventAcoustic ModelEventType = "acoustic"
)

// ModelEvent is a decoded structured event from the speech-model transport.
type ModelEvent struct {
	Type ModelEventType

	// Transcript fields.
	Transcript string
	Role       string

	// Intent fields.
	Intent     IntentCategory
	Confidence float64

	// Tool-call fields.
	Tool string

	At time.Time
}
