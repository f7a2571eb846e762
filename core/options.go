package orchestration

import (
	"context"

	"github.com/zildanalbaihaqi/realtimews/core/events"
	"github.com/zildanalbaihaqi/realtimews/core/llms"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext"
	"github.com/zildanalbaihaqi/realtimews/core/texttospeech"
)

// SpeechToText is the recognizer link a session feeds caller audio into.
// Transcripts come back through the transcription callbacks the session
// registered when dialing.
type SpeechToText interface {
	SendAudio(audio []byte) error
	Close() error
}

// StreamingLLM is the model link an orchestrator requests responses from.
// Responses stream back through the session callbacks, tagged with the turn
// id passed to SendMessage.
type StreamingLLM interface {
	UpdateInstructions(instructions string) error
	SendMessage(turnID string, text string) error
	Close() error
}

// ClientLink delivers events to the connected client. Send is called from the
// orchestrator's event loop and must be safe for concurrent use with Close.
type ClientLink interface {
	Send(event events.Event) error
	Close() error
}

// Dialers open provider links. They close over provider credentials so the
// orchestration core stays vendor-agnostic.
type (
	STTDialer func(ctx context.Context, opts ...speechtotext.TranscriptionOption) (SpeechToText, error)
	LLMDialer func(ctx context.Context, opts ...llms.SessionOption) (StreamingLLM, error)
	TTSDialer func(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechStream, error)
)

// ProviderSet bundles the dialers a session needs to come up.
type ProviderSet struct {
	STT STTDialer
	LLM LLMDialer
	TTS TTSDialer
}

// FlushStrategy decides when response text is handed to speech synthesis.
type FlushStrategy string

const (
	// FlushOnDone synthesizes the full response once the model finishes.
	FlushOnDone FlushStrategy = "on_done"
	// FlushIncremental streams each response delta to synthesis as it
	// arrives and flushes when the model finishes.
	FlushIncremental FlushStrategy = "incremental"
)

type OrchestratorOption func(*Orchestrator)

// WithBargeInDisabled keeps a superseded turn's speech playing instead of
// cutting it off. New turns still take over response generation.
func WithBargeInDisabled() OrchestratorOption {
	return func(o *Orchestrator) {
		o.bargeIn = false
	}
}

// WithFlushStrategy selects when response text reaches speech synthesis.
func WithFlushStrategy(strategy FlushStrategy) OrchestratorOption {
	return func(o *Orchestrator) {
		if strategy != "" {
			o.flushStrategy = strategy
		}
	}
}

// WithGreeting sets the prompt used to elicit the assistant's opening line
// when a chat starts.
func WithGreeting(greeting string) OrchestratorOption {
	return func(o *Orchestrator) {
		if greeting != "" {
			o.greeting = greeting
		}
	}
}

// WithInstructionsBuilder sets how session instructions are derived from the
// caller's identity.
func WithInstructionsBuilder(build func(name string, email string) string) OrchestratorOption {
	return func(o *Orchestrator) {
		if build != nil {
			o.buildInstructions = build
		}
	}
}

// WithTurnCompletedCallback registers a callback invoked from the event loop
// whenever a turn reaches a terminal state. The turn must not be mutated.
func WithTurnCompletedCallback(callback func(turn Turn)) OrchestratorOption {
	return func(o *Orchestrator) {
		if callback != nil {
			o.onTurnCompleted = callback
		}
	}
}

// WithActivityCallback registers a callback invoked whenever the conversation
// sees activity. Sessions use it to push back their idle deadline.
func WithActivityCallback(callback func()) OrchestratorOption {
	return func(o *Orchestrator) {
		if callback != nil {
			o.onActivity = callback
		}
	}
}
