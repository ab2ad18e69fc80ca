// Package dispatch executes screening verdicts against the telephony
// collaborator. Transient failures are retried with exponential backoff up
// to a small fixed count; a non-transient failure is terminal for the action
// and surfaces as action_failed so the session can close regardless.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Config bounds the retry policy.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// Action is one dispatchable unit of work: the verdict plus everything the
// telephony collaborator needs to execute it.
type Action struct {
	Verdict      domain.Verdict
	CallID       string
	CallerNumber string
	Profile      domain.UserProfile
}

// Dispatcher executes actions with bounded retry.
type Dispatcher struct {
	telephony domain.Telephony
	cfg       Config
	logger    *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher over the telephony collaborator.
func New(telephony domain.Telephony, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}
	return &Dispatcher{
		telephony: telephony,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Execute runs the action to completion. It returns nil on success, an
// action_failed domain error on a permanent failure or once retries are
// exhausted, and the context error if the session is closing.
func (d *Dispatcher) Execute(ctx context.Context, act Action) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.BaseBackoff << (attempt - 1)
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		err := d.perform(ctx, act)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.IsTransient(err) {
			d.logger.Error("dispatch failed permanently",
				slog.String("call_id", act.CallID),
				slog.String("verdict", act.Verdict.String()),
				slog.String("error", err.Error()),
			)
			return domain.ErrActionFailed(act.Verdict.String(), err)
		}

		lastErr = err
		d.logger.Warn("dispatch attempt failed, retrying",
			slog.String("call_id", act.CallID),
			slog.String("verdict", act.Verdict.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return domain.ErrActionFailed(act.Verdict.String(), lastErr)
}

func (d *Dispatcher) perform(ctx context.Context, act Action) error {
	switch act.Verdict {
	case domain.VerdictTransfer:
		return d.telephony.TransferCall(ctx, act.CallID, act.Profile.TransferNumber)
	case domain.VerdictOfferSchedule:
		body := schedulingMessage(act.Profile)
		if err := d.telephony.SendSMS(ctx, act.CallerNumber, act.Profile.AssistantNumber, body); err != nil {
			return err
		}
		// The link is on its way; wrap up the call.
		return d.telephony.EndCall(ctx, act.CallID)
	case domain.VerdictTerminate:
		return d.telephony.EndCall(ctx, act.CallID)
	default:
		return domain.NewError(domain.ErrorTypeInvalidState, fmt.Sprintf("verdict %s is not dispatchable", act.Verdict))
	}
}

func schedulingMessage(p domain.UserProfile) string {
	name := p.FullName
	if name == "" {
		name = "the owner"
	}
	return fmt.Sprintf("Hello! You can schedule a call with %s using this link: %s", name, p.SchedulingLink)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
