package texttospeech

import "encoding/json"

type SynthesisOptions struct {
	// AudioCallback is called for each synthesized audio chunk, base64 encoded
	// as received from the provider.
	AudioCallback func(audio string)
	// AlignmentCallback is called with the provider's character alignment
	// payload for a chunk, when the provider produces one.
	AlignmentCallback func(alignment json.RawMessage)
	// ClosedCallback is called exactly once when the synthesis stream ends,
	// whether it drained normally or was closed early.
	ClosedCallback func()
	// ErrorCallback is called when the stream fails; ClosedCallback still
	// follows.
	ErrorCallback func(error)
}

type SynthesisOption func(*SynthesisOptions)

func NewSynthesisOptions(opts ...SynthesisOption) SynthesisOptions {
	options := SynthesisOptions{
		AudioCallback:     func(string) {},
		AlignmentCallback: func(json.RawMessage) {},
		ClosedCallback:    func() {},
		ErrorCallback:     func(error) {},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithAudioCallback(callback func(audio string)) SynthesisOption {
	return func(o *SynthesisOptions) {
		if callback != nil {
			o.AudioCallback = callback
		}
	}
}

func WithAlignmentCallback(callback func(alignment json.RawMessage)) SynthesisOption {
	return func(o *SynthesisOptions) {
		if callback != nil {
			o.AlignmentCallback = callback
		}
	}
}

func WithClosedCallback(callback func()) SynthesisOption {
	return func(o *SynthesisOptions) {
		if callback != nil {
			o.ClosedCallback = callback
		}
	}
}

func WithErrorCallback(callback func(error)) SynthesisOption {
	return func(o *SynthesisOptions) {
		if callback != nil {
			o.ErrorCallback = callback
		}
	}
}

// SpeechStream is an open synthesis stream.
//
// SendText queues text for synthesis in send order. EndOfText signals that no
// more text follows and asks the provider to synthesize everything still
// buffered; the stream closes itself once audio is drained. Close tears the
// stream down immediately; it is safe to call multiple times and concurrently
// with callback delivery.
type SpeechStream interface {
	SendText(text string) error
	EndOfText() error
	Close() error
}
