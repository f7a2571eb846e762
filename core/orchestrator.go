// Package orchestration coordinates one realtime voice conversation: caller
// speech goes to a recognizer, finalized transcripts become turns, model
// responses stream back out as text and synthesized speech. At most one turn
// owns the conversation at a time; a new utterance supersedes the previous
// turn and, with barge-in enabled, cuts its speech off.
package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/zildanalbaihaqi/realtimews/core/events"
	"github.com/zildanalbaihaqi/realtimews/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const eventQueueCapacity = 10

const defaultGreeting = "hi"

func defaultInstructions(name string, email string) string {
	instructions := "You are a helpful voice assistant. Keep responses short and conversational, they will be spoken out loud."
	if name != "" {
		instructions += " You are talking to " + name
		if email != "" {
			instructions += " (" + email + ")"
		}
		instructions += "."
	}
	return instructions
}

type queueItem struct {
	event    inboundEvent
	queuedAt time.Time
}

// inboundEvent is anything the event loop processes. All conversation state
// is owned by the loop goroutine; everything else only enqueues.
type inboundEvent interface {
	isInboundEvent()
}

type (
	startChatEvent struct {
		Name  string
		Email string
	}
	transcriptEvent        struct{ Text string }
	interimTranscriptEvent struct{ Text string }
	responseDeltaEvent     struct {
		TurnID string
		Delta  string
	}
	responseDoneEvent struct {
		TurnID string
		Text   string
	}
	speechAudioEvent struct {
		TurnID string
		Audio  string
	}
	speechAlignmentEvent struct {
		TurnID    string
		Alignment json.RawMessage
	}
	speechClosedEvent struct{ TurnID string }
	pingEvent         struct{}
)

func (startChatEvent) isInboundEvent()         {}
func (transcriptEvent) isInboundEvent()        {}
func (interimTranscriptEvent) isInboundEvent() {}
func (responseDeltaEvent) isInboundEvent()     {}
func (responseDoneEvent) isInboundEvent()      {}
func (speechAudioEvent) isInboundEvent()       {}
func (speechAlignmentEvent) isInboundEvent()   {}
func (speechClosedEvent) isInboundEvent()      {}
func (pingEvent) isInboundEvent()              {}

// liveTurn is the loop's view of the turn that currently owns the
// conversation, together with the speech stream opened for it.
type liveTurn struct {
	turn *Turn
	tts  texttospeech.SpeechStream
}

// Orchestrator runs one conversation. Events from the client, the model link
// and speech synthesis are serialized through a single queue so that turn
// handover, stale-event discarding and client event ordering need no further
// locking.
type Orchestrator struct {
	baseContext context.Context

	client  ClientLink
	llm     StreamingLLM
	ttsDial TTSDialer

	registry *TurnRegistry

	bargeIn           bool
	flushStrategy     FlushStrategy
	greeting          string
	buildInstructions func(name string, email string) string
	onTurnCompleted   func(turn Turn)
	onActivity        func()

	queue   chan queueItem
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	// Loop-owned state, touched only from the event loop goroutine.
	initialized bool
	active      *liveTurn
	draining    map[string]texttospeech.SpeechStream
}

func NewOrchestrator(client ClientLink, llm StreamingLLM, ttsDial TTSDialer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		baseContext:       context.Background(),
		client:            client,
		llm:               llm,
		ttsDial:           ttsDial,
		registry:          NewTurnRegistry(),
		bargeIn:           true,
		flushStrategy:     FlushOnDone,
		greeting:          defaultGreeting,
		buildInstructions: defaultInstructions,
		onTurnCompleted:   func(Turn) {},
		onActivity:        func() {},
		queue:             make(chan queueItem, eventQueueCapacity),
		closeCh:           make(chan struct{}),
		done:              make(chan struct{}),
		draining:          map[string]texttospeech.SpeechStream{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BindLLM replaces the model link. Intended for wiring during session setup,
// before Start.
func (o *Orchestrator) BindLLM(llm StreamingLLM) {
	o.llm = llm
}

// ActiveTurn returns the id of the turn currently owning the conversation.
func (o *Orchestrator) ActiveTurn() string {
	return o.registry.ActiveTurn()
}

// Start launches the event loop. Only the first call does anything.
func (o *Orchestrator) Start(ctx context.Context) (started bool) {
	if o.isClosed() {
		return false
	}

	o.startOnce.Do(func() {
		if o.isClosed() {
			return
		}

		started = true
		o.baseContext = ctx
		go func() {
			defer close(o.done)
			defer o.shutdownTurns()

			for {
				select {
				case <-o.closeCh:
					return
				case item := <-o.queue:
					if o.isClosed() {
						return
					}
					o.processQueuedEvent(item)
				}
			}
		}()
	})

	return started
}

// Close shuts the event loop down and tears down any speech streams still
// open. Safe to call multiple times and concurrently.
func (o *Orchestrator) Close() {
	o.endOnce.Do(func() {
		close(o.closeCh)
	})
}

func (o *Orchestrator) WaitUntilEnded() {
	<-o.done
}

// StartChat initializes the session for the identified caller and elicits the
// assistant's greeting. Repeated calls are ignored.
func (o *Orchestrator) StartChat(name string, email string) {
	o.enqueue(startChatEvent{Name: name, Email: email})
}

// HandleTranscript submits a finalized user utterance, beginning a new turn.
func (o *Orchestrator) HandleTranscript(text string) {
	if text == "" {
		return
	}
	o.enqueue(transcriptEvent{Text: text})
}

// HandleInterimTranscript forwards an in-progress transcription to the client.
func (o *Orchestrator) HandleInterimTranscript(text string) {
	o.enqueue(interimTranscriptEvent{Text: text})
}

// HandleResponseDelta accepts a partial model response for the given turn.
// Deltas for superseded turns are dropped.
func (o *Orchestrator) HandleResponseDelta(turnID string, delta string) {
	o.enqueue(responseDeltaEvent{TurnID: turnID, Delta: delta})
}

// HandleResponseDone accepts the completed model response for the given turn.
func (o *Orchestrator) HandleResponseDone(turnID string, text string) {
	o.enqueue(responseDoneEvent{TurnID: turnID, Text: text})
}

// HandlePing forwards a provider keepalive to the client.
func (o *Orchestrator) HandlePing() {
	o.enqueue(pingEvent{})
}

func (o *Orchestrator) enqueue(event inboundEvent) bool {
	if o.isClosed() {
		return false
	}

	o.onActivity()

	item := queueItem{event: event, queuedAt: time.Now()}
	select {
	case <-o.closeCh:
		return false
	case o.queue <- item:
		return true
	}
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closeCh:
		return true
	default:
		return false
	}
}

// shutdownTurns runs on loop exit: the active turn is deactivated so late
// provider events fail the IsActive check, every open speech stream is closed
// and a turn cut short by teardown is reported as cancelled.
func (o *Orchestrator) shutdownTurns() {
	o.registry.Supersede()

	if o.active != nil {
		if o.active.tts != nil {
			_ = o.active.tts.Close()
		}
		if o.active.turn.State != TurnStateCompleted && o.active.turn.State != TurnStateCancelled {
			o.active.turn.State = TurnStateCancelled
			o.onTurnCompleted(*o.active.turn)
		}
		o.active = nil
	}
	for _, stream := range o.draining {
		_ = stream.Close()
	}
}

func (o *Orchestrator) processQueuedEvent(item queueItem) {
	switch event := item.event.(type) {
	case startChatEvent:
		o.handleStartChat(event)
	case transcriptEvent:
		o.startTurn(event.Text, true)
	case interimTranscriptEvent:
		o.send(events.Transcript{Text: event.Text})
	case responseDeltaEvent:
		o.handleResponseDelta(event)
	case responseDoneEvent:
		o.handleResponseDone(event)
	case speechAudioEvent:
		if o.speechStreamAlive(event.TurnID) {
			if o.active != nil && o.active.turn.ID == event.TurnID && o.active.turn.State == TurnStateAwaitingSpeech {
				o.active.turn.State = TurnStateStreamingSpeech
			}
			o.send(events.TTSAudio{Audio: event.Audio, TurnID: event.TurnID})
		}
	case speechAlignmentEvent:
		if o.speechStreamAlive(event.TurnID) {
			o.send(events.TTSAlignment{Alignment: event.Alignment, TurnID: event.TurnID})
		}
	case speechClosedEvent:
		o.handleSpeechClosed(event)
	case pingEvent:
		o.send(events.Ping{})
	}
}

func (o *Orchestrator) handleStartChat(event startChatEvent) {
	if o.initialized {
		return
	}
	o.initialized = true

	_, span := tracer.Start(o.baseContext, "initialize session")
	defer span.End()

	if err := o.llm.UpdateInstructions(o.buildInstructions(event.Name, event.Email)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to update session instructions", "error", err)
	}

	o.startTurn(o.greeting, false)
}

// startTurn begins a new turn for the given prompt, superseding the previous
// one. The transcript is announced to the client only for real user
// utterances, not for the synthetic greeting prompt.
func (o *Orchestrator) startTurn(text string, announce bool) {
	_, span := tracer.Start(o.baseContext, "start turn")
	defer span.End()

	turnID, supersededID := o.registry.BeginTurn()
	span.SetAttributes(attribute.String("turn.id", turnID))

	if prev := o.active; prev != nil {
		o.active = nil
		o.retireTurn(prev, supersededID, span)
	}

	turn := newTurn(turnID, text)
	o.active = &liveTurn{turn: turn}

	if announce {
		o.send(events.Transcript{Text: text, TurnID: turnID})
	}

	turn.State = TurnStateAwaitingResponse
	if err := o.llm.SendMessage(turnID, text); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to request model response", "error", err, "turn", turnID)
	}
}

// retireTurn takes a superseded turn out of play. With barge-in enabled its
// speech stream is closed and the client is told to stop playback; otherwise
// the stream keeps draining to the client until synthesis finishes.
func (o *Orchestrator) retireTurn(prev *liveTurn, supersededID string, span trace.Span) {
	cancelled := prev.turn.State != TurnStateCompleted && prev.turn.State != TurnStateCancelled
	if cancelled {
		prev.turn.State = TurnStateCancelled
		o.onTurnCompleted(*prev.turn)
	}
	span.SetAttributes(attribute.Bool("turn.superseded_cancelled", cancelled))

	if prev.tts == nil {
		return
	}

	if !o.bargeIn {
		o.draining[prev.turn.ID] = prev.tts
		return
	}

	_ = prev.tts.Close()
	o.send(events.StopAudio{TurnID: supersededID})
}

func (o *Orchestrator) handleResponseDelta(event responseDeltaEvent) {
	if !o.registry.IsActive(event.TurnID) || o.active == nil {
		return
	}

	turn := o.active.turn
	turn.State = TurnStateStreamingResponse
	turn.Response += event.Delta

	o.send(events.PartialResponse{Text: event.Delta, TurnID: event.TurnID})

	if o.flushStrategy != FlushIncremental {
		return
	}
	if o.active.tts == nil {
		o.openSpeechStream(event.TurnID)
	}
	if o.active.tts != nil {
		if err := o.active.tts.SendText(event.Delta); err != nil {
			logger.Warn("failed to pass response delta to synthesis", "error", err, "turn", event.TurnID)
		}
	}
}

func (o *Orchestrator) handleResponseDone(event responseDoneEvent) {
	if !o.registry.IsActive(event.TurnID) || o.active == nil {
		return
	}

	turn := o.active.turn
	if event.Text != "" {
		turn.Response = event.Text
	}

	o.send(events.FinalResponse{Text: turn.Response, TurnID: event.TurnID})

	switch o.flushStrategy {
	case FlushIncremental:
		if o.active.tts != nil {
			if err := o.active.tts.EndOfText(); err != nil {
				logger.Warn("failed to flush synthesis", "error", err, "turn", event.TurnID)
			}
		}
	default:
		o.openSpeechStream(event.TurnID)
		if o.active.tts != nil {
			if err := o.active.tts.SendText(turn.Response); err != nil {
				logger.Warn("failed to pass response to synthesis", "error", err, "turn", event.TurnID)
			}
			if err := o.active.tts.EndOfText(); err != nil {
				logger.Warn("failed to flush synthesis", "error", err, "turn", event.TurnID)
			}
		}
	}

	if o.active.tts == nil {
		turn.State = TurnStateCompleted
		o.onTurnCompleted(*turn)
		return
	}
	turn.State = TurnStateAwaitingSpeech
}

func (o *Orchestrator) handleSpeechClosed(event speechClosedEvent) {
	if stream, ok := o.draining[event.TurnID]; ok {
		delete(o.draining, event.TurnID)
		_ = stream.Close()
		return
	}

	if o.active == nil || o.active.turn.ID != event.TurnID {
		return
	}

	o.active.tts = nil
	if o.active.turn.State == TurnStateAwaitingSpeech || o.active.turn.State == TurnStateStreamingSpeech {
		o.active.turn.State = TurnStateCompleted
		o.onTurnCompleted(*o.active.turn)
	}
}

// speechStreamAlive reports whether synthesized audio for the given turn
// should still reach the client. Draining streams stay alive after their turn
// is superseded when barge-in is disabled.
func (o *Orchestrator) speechStreamAlive(turnID string) bool {
	if o.registry.IsActive(turnID) {
		return true
	}
	_, ok := o.draining[turnID]
	return ok
}

func (o *Orchestrator) openSpeechStream(turnID string) {
	if o.ttsDial == nil {
		return
	}

	stream, err := o.ttsDial(o.baseContext,
		texttospeech.WithAudioCallback(func(audio string) {
			o.enqueue(speechAudioEvent{TurnID: turnID, Audio: audio})
		}),
		texttospeech.WithAlignmentCallback(func(alignment json.RawMessage) {
			o.enqueue(speechAlignmentEvent{TurnID: turnID, Alignment: alignment})
		}),
		texttospeech.WithClosedCallback(func() {
			o.enqueue(speechClosedEvent{TurnID: turnID})
		}),
		texttospeech.WithErrorCallback(func(err error) {
			logger.Warn("speech synthesis error", "error", err, "turn", turnID)
		}),
	)
	if err != nil {
		logger.Warn("failed to open speech stream", "error", err, "turn", turnID)
		return
	}

	if o.active != nil && o.active.turn.ID == turnID {
		o.active.tts = stream
	} else {
		_ = stream.Close()
	}
}

func (o *Orchestrator) send(event events.Event) {
	if err := o.client.Send(event); err != nil {
		logger.Warn("failed to deliver client event", "error", err, "kind", string(event.Kind()))
	}
}
