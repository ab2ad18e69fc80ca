// Package decision implements the screening verdict as a pure function over
// a call's signal history, the owner's availability, and static caller
// metadata. The engine has no side effects and never blocks.
package decision

import (
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Config carries the product-tunable classification thresholds and the
// screening-duration bound. Thresholds are configuration on purpose: the
// categories are structural, the cutoffs are not.
type Config struct {
	SpamThreshold     float64
	TransferThreshold float64
	ScheduleThreshold float64

	// MaxScreeningDuration forces an OfferSchedule fallback once screening
	// has run this long without a committal verdict.
	MaxScreeningDuration time.Duration
}

// Input is one decision invocation's view of the call.
type Input struct {
	// Signals is the call's full signal history in arrival order.
	Signals []domain.DecisionSignal

	// LastDecisionAt is when the previous Deciding transition happened.
	// Zero on the first invocation. Inferred intents are only weighed from
	// after this point; explicit requests always count.
	LastDecisionAt time.Time

	// OwnerBusy is the availability snapshot's verdict. When
	// AvailabilityKnown is false the engine treats the owner as
	// unreachable and downgrades transfers to scheduling offers.
	OwnerBusy         bool
	AvailabilityKnown bool

	// ScreeningFor is how long the call has been screening.
	ScreeningFor time.Duration
}

// Engine evaluates decision inputs into verdicts.
type Engine struct {
	cfg Config
}

// New creates an engine with the given thresholds.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Decide returns the verdict for the current input.
//
// Tie-break policy: an explicit caller request always overrides inferred
// intent. Among inferred intents since the last decision, the highest
// confidence at or above its category threshold wins; exact ties prefer
// Terminate over OfferSchedule over Transfer over Continue. A Continue
// result past the maximum screening duration becomes OfferSchedule.
func (e *Engine) Decide(in Input) domain.Verdict {
	verdict := e.evaluate(in)
	if verdict == domain.VerdictContinue &&
		e.cfg.MaxScreeningDuration > 0 &&
		in.ScreeningFor >= e.cfg.MaxScreeningDuration {
		return domain.VerdictOfferSchedule
	}
	return verdict
}

func (e *Engine) evaluate(in Input) domain.Verdict {
	// Explicit requests first; the most recent one speaks for the caller.
	for i := len(in.Signals) - 1; i >= 0; i-- {
		sig := in.Signals[i]
		if sig.Kind != domain.SignalExplicitRequest {
			continue
		}
		switch sig.Request {
		case domain.RequestHangUp:
			return domain.VerdictTerminate
		case domain.RequestSchedule:
			return domain.VerdictOfferSchedule
		case domain.RequestTransfer:
			return e.gateTransfer(in)
		}
	}

	// Inferred intents since the last decision, best confidence wins.
	best := domain.VerdictContinue
	bestConfidence := -1.0
	for _, sig := range in.Signals {
		if sig.Kind != domain.SignalCallerIntent {
			continue
		}
		if !in.LastDecisionAt.IsZero() && !sig.At.After(in.LastDecisionAt) {
			continue
		}
		verdict, threshold := e.classify(sig.Intent)
		if verdict == domain.VerdictContinue || sig.Confidence < threshold {
			continue
		}
		if sig.Confidence > bestConfidence ||
			(sig.Confidence == bestConfidence && rank(verdict) > rank(best)) {
			best = verdict
			bestConfidence = sig.Confidence
		}
	}

	if best == domain.VerdictTransfer {
		return e.gateTransfer(in)
	}
	return best
}

// gateTransfer downgrades a transfer to a scheduling offer when the owner is
// busy or availability could not be checked.
func (e *Engine) gateTransfer(in Input) domain.Verdict {
	if !in.AvailabilityKnown || in.OwnerBusy {
		return domain.VerdictOfferSchedule
	}
	return domain.VerdictTransfer
}

func (e *Engine) classify(intent domain.IntentCategory) (domain.Verdict, float64) {
	switch intent {
	case domain.IntentSpam:
		return domain.VerdictTerminate, e.cfg.SpamThreshold
	case domain.IntentTransfer:
		return domain.VerdictTransfer, e.cfg.TransferThreshold
	case domain.IntentSchedule:
		return domain.VerdictOfferSchedule, e.cfg.ScheduleThreshold
	default:
		return domain.VerdictContinue, 0
	}
}

// rank orders verdicts for exact-confidence ties: confidently ending
// clearly-spam calls beats either committal action, and the least-committal
// irreversible action wins between scheduling and transferring.
func rank(v domain.Verdict) int {
	switch v {
	case domain.VerdictTerminate:
		return 3
	case domain.VerdictOfferSchedule:
		return 2
	case domain.VerdictTransfer:
		return 1
	default:
		return 0
	}
}
