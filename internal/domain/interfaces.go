package domain

import (
	"context"
	"time"
)

// FrameTransport is an abstract bidirectional audio channel to a
// collaborator (telephony or speech model). Read and write are the only
// blocking operations a relay direction performs; both honor context
// cancellation. ReadFrame returns a transport-classified error once the
// peer closes the channel.
type FrameTransport interface {
	// ReadFrame blocks until the next inbound frame is available.
	ReadFrame(ctx context.Context) (AudioFrame, error)

	// WriteFrame sends one frame to the peer.
	WriteFrame(ctx context.Context, frame AudioFrame) error

	// Close releases the underlying channel. Safe to call more than once.
	Close() error
}

// EventStream delivers the speech model's structured events in arrival
// order. The channel is closed when the model-side transport ends; Err
// reports the terminal error, if any, after the channel closes.
type EventStream interface {
	Events() <-chan ModelEvent
	Err() error
}

// Telephony is the outbound surface of the telephony collaborator used by
// the action dispatcher. All operations are independently failable and
// return domain errors classified transient or permanent.
type Telephony interface {
	// TransferCall bridges the active call to the target number.
	TransferCall(ctx context.Context, callID, target string) error

	// SendSMS sends a text message.
	SendSMS(ctx context.Context, to, from, body string) error

	// EndCall hangs up the active call.
	EndCall(ctx context.Context, callID string) error
}

// CalendarClient is the read-only busy/free query against the calendar
// collaborator, scoped to a user and a time window.
type CalendarClient interface {
	Busy(ctx context.Context, userID string, from, to time.Time) (bool, error)
}

// ProfileStore is the read-only view onto the profile collaborator.
type ProfileStore interface {
	// ProfileByAssistantNumber resolves the owning user for a dialed
	// assistant number.
	ProfileByAssistantNumber(ctx context.Context, number string) (*UserProfile, error)
}

// AuditStore receives the terminal call record when a session closes.
// Implementations must tolerate being called with an already-expired
// context; the write is best-effort.
type AuditStore interface {
	RecordCall(ctx context.Context, rec *CallRecord) error
}
