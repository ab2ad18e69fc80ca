// Package interpret classifies structured speech-model events into decision
// signals. The contract is narrow: exactly one signal per qualifying event,
// no signal for purely acoustic events, and strict arrival order with no
// coalescing.
package interpret

import (
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Interpreter turns model events into decision signals. It is stateless;
// ordering comes from the caller feeding events in arrival order.
type Interpreter struct{}

// New creates an interpreter.
func New() *Interpreter {
	return &Interpreter{}
}

// Interpret classifies one event. ok is false for non-qualifying events
// (acoustic notifications, empty transcripts, unrecognized tools).
func (i *Interpreter) Interpret(ev domain.ModelEvent) (sig domain.DecisionSignal, ok bool) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Type {
	case domain.EventTranscript:
		if ev.Transcript == "" {
			return domain.DecisionSignal{}, false
		}
		return domain.DecisionSignal{
			Kind: domain.SignalPartialTranscript,
			Text: ev.Transcript,
			Role: ev.Role,
			At:   at,
		}, true

	case domain.EventIntent:
		intent := ev.Intent
		if intent == "" {
			intent = domain.IntentUnknown
		}
		return domain.DecisionSignal{
			Kind:       domain.SignalCallerIntent,
			Intent:     intent,
			Confidence: ev.Confidence,
			At:         at,
		}, true

	case domain.EventToolCall:
		kind, known := requestKind(ev.Tool)
		if !known {
			return domain.DecisionSignal{}, false
		}
		return domain.DecisionSignal{
			Kind:    domain.SignalExplicitRequest,
			Request: kind,
			At:      at,
		}, true

	default:
		// Acoustic events carry no semantic content.
		return domain.DecisionSignal{}, false
	}
}

// requestKind maps the model's screening tools onto explicit request kinds.
func requestKind(tool string) (domain.RequestKind, bool) {
	switch tool {
	case "transfer_call":
		return domain.RequestTransfer, true
	case "schedule_call":
		return domain.RequestSchedule, true
	case "hang_up":
		return domain.RequestHangUp, true
	default:
		return "", false
	}
}
