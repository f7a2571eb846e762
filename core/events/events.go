package events

import "encoding/json"

type Kind string

const (
	KindTranscript      Kind = "transcript"
	KindPartialResponse Kind = "partial_response"
	KindFinalResponse   Kind = "final_response"
	KindTTSAudio        Kind = "tts_audio"
	KindTTSAlignment    Kind = "tts_alignment"
	KindStopAudio       Kind = "stop_audio"
	KindPing            Kind = "ping"
)

// Event is any canonical client-facing event.
type Event interface {
	Kind() Kind
}

// Transcript carries the recognized user utterance that began a turn.
type Transcript struct {
	Text   string
	TurnID string
}

func (Transcript) Kind() Kind { return KindTranscript }

// PartialResponse carries one streamed assistant text delta.
type PartialResponse struct {
	Text   string
	TurnID string
}

func (PartialResponse) Kind() Kind { return KindPartialResponse }

// FinalResponse carries the assembled assistant response for a turn.
type FinalResponse struct {
	Text   string
	TurnID string
}

func (FinalResponse) Kind() Kind { return KindFinalResponse }

// TTSAudio carries one synthesized audio chunk, base64 encoded as received
// from the provider.
type TTSAudio struct {
	Audio  string
	TurnID string
}

func (TTSAudio) Kind() Kind { return KindTTSAudio }

// TTSAlignment carries the provider's character alignment payload verbatim.
type TTSAlignment struct {
	Alignment json.RawMessage
	TurnID    string
}

func (TTSAlignment) Kind() Kind { return KindTTSAlignment }

// StopAudio instructs the client to stop playback for the tagged turn.
type StopAudio struct {
	TurnID string
}

func (StopAudio) Kind() Kind { return KindStopAudio }

// Ping is a provider keepalive relayed to the client.
type Ping struct{}

func (Ping) Kind() Kind { return KindPing }
