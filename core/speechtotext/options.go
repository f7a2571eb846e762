package speechtotext

const (
	// DefaultMinWordConfidence is the per-word confidence floor below which a
	// word does not count towards accepting an utterance.
	DefaultMinWordConfidence = 0.75
	// DefaultMinTranscriptLength is the minimum accepted transcript length.
	DefaultMinTranscriptLength = 2
	// DefaultSampleRate is the input sample rate the browser capture uses.
	DefaultSampleRate = 16000
)

type TranscriptionOptions struct {
	// TranscriptionCallback is called with a finalized utterance transcript
	// that passed the confidence gate.
	TranscriptionCallback func(transcript string)
	// InterimTranscriptionCallback is called with in-progress, mutable
	// transcript snapshots. Interim results never pass the confidence gate
	// and never start turns.
	InterimTranscriptionCallback func(transcript string)
	// ClosedCallback is called exactly once when the provider stream ends,
	// with the read error that ended it (nil on clean close).
	ClosedCallback func(err error)

	MinWordConfidence   float64
	MinTranscriptLength int
	SampleRate          int
}

type TranscriptionOption func(*TranscriptionOptions)

func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{
		MinWordConfidence:   DefaultMinWordConfidence,
		MinTranscriptLength: DefaultMinTranscriptLength,
		SampleRate:          DefaultSampleRate,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithClosedCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ClosedCallback = callback
	}
}

func WithMinWordConfidence(confidence float64) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if confidence > 0 {
			o.MinWordConfidence = confidence
		}
	}
}

func WithMinTranscriptLength(length int) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if length > 0 {
			o.MinTranscriptLength = length
		}
	}
}

func WithSampleRate(sampleRate int) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if sampleRate > 0 {
			o.SampleRate = sampleRate
		}
	}
}

// Gate reports whether a finalized transcript with the given per-word
// confidences should be accepted. A transcript passes when it is long enough
// and at least one word meets the confidence floor; everything else is
// discarded upstream of the orchestrator.
func (o *TranscriptionOptions) Gate(transcript string, wordConfidences []float64) bool {
	if len(transcript) < o.MinTranscriptLength {
		return false
	}

	for _, confidence := range wordConfidences {
		if confidence >= o.MinWordConfidence {
			return true
		}
	}
	return false
}
