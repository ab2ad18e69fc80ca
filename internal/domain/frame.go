package domain

import "time"

// Direction identifies which way an audio frame flows across the relay.
type Direction int

const (
	// DirectionCallerToModel carries caller audio toward the speech model.
	DirectionCallerToModel Direction = iota

	// DirectionModelToCaller carries synthesized audio toward the caller.
	DirectionModelToCaller
)

func (d Direction) String() string {
	if d == DirectionCallerToModel {
		return "caller_to_model"
	}
	return "model_to_caller"
}

// AudioFrame is an opaque audio payload with per-direction monotonic
// sequencing. Frames are never reordered by the relay; an out-of-order
// arrival at a transport boundary is a protocol violation, not something
// to silently correct.
type AudioFrame struct {
	Payload   []byte
	Seq       uint64
	Direction Direction
	Timestamp time.Time
}
