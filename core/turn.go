package orchestration

import "time"

// TurnState tracks a turn through its lifecycle. A turn moves forward only,
// except for the jump to TurnStateCancelled when a newer turn supersedes it.
type TurnState string

const (
	TurnStateCreated           TurnState = "created"
	TurnStateAwaitingResponse  TurnState = "awaiting_response"
	TurnStateStreamingResponse TurnState = "streaming_response"
	TurnStateAwaitingSpeech    TurnState = "awaiting_speech"
	TurnStateStreamingSpeech   TurnState = "streaming_speech"
	TurnStateCompleted         TurnState = "completed"
	TurnStateCancelled         TurnState = "cancelled"
)

// Turn is one user prompt and the assistant response it produced. The
// orchestrator mutates it from its event loop only; once handed to the
// completion callback it is no longer touched.
type Turn struct {
	ID         string
	Transcript string
	Response   string
	State      TurnState
	StartedAt  time.Time
}

func newTurn(id string, transcript string) *Turn {
	return &Turn{
		ID:         id,
		Transcript: transcript,
		State:      TurnStateCreated,
		StartedAt:  time.Now(),
	}
}
