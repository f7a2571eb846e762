// Package llms defines the streaming language model session contract used by
// the orchestration core. Concrete providers live in subpackages and deliver
// model output through the callbacks configured here.
package llms

// SessionOptions holds the callbacks for a streaming model session.
type SessionOptions struct {
	// ResponseDeltaCallback is called for every partial response chunk,
	// tagged with the turn the response belongs to.
	ResponseDeltaCallback func(turnID string, delta string)
	// ResponseDoneCallback is called once with the full response text when
	// the model finishes a response.
	ResponseDoneCallback func(turnID string, text string)
	// PingCallback is called when the provider sends a keepalive.
	PingCallback func()
	// ClosedCallback is called exactly once when the session's connection
	// goes away. The error is nil when the session was closed locally.
	ClosedCallback func(err error)
}

// SessionOption modifies SessionOptions.
type SessionOption func(*SessionOptions)

// NewSessionOptions constructs options with no-op callbacks and applies
// the passed options on top.
func NewSessionOptions(opts ...SessionOption) *SessionOptions {
	options := &SessionOptions{
		ResponseDeltaCallback: func(string, string) {},
		ResponseDoneCallback:  func(string, string) {},
		PingCallback:          func() {},
		ClosedCallback:        func(error) {},
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithResponseDeltaCallback sets the partial response callback.
func WithResponseDeltaCallback(callback func(turnID string, delta string)) SessionOption {
	return func(opts *SessionOptions) {
		if callback != nil {
			opts.ResponseDeltaCallback = callback
		}
	}
}

// WithResponseDoneCallback sets the completed response callback.
func WithResponseDoneCallback(callback func(turnID string, text string)) SessionOption {
	return func(opts *SessionOptions) {
		if callback != nil {
			opts.ResponseDoneCallback = callback
		}
	}
}

// WithPingCallback sets the keepalive callback.
func WithPingCallback(callback func()) SessionOption {
	return func(opts *SessionOptions) {
		if callback != nil {
			opts.PingCallback = callback
		}
	}
}

// WithClosedCallback sets the connection closed callback.
func WithClosedCallback(callback func(err error)) SessionOption {
	return func(opts *SessionOptions) {
		if callback != nil {
			opts.ClosedCallback = callback
		}
	}
}
