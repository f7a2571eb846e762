package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zildanalbaihaqi/realtimews/core/events"
	"github.com/zildanalbaihaqi/realtimews/core/texttospeech"
)

type fakeClient struct {
	mu     sync.Mutex
	events []events.Event
	notify chan events.Event

	closeCalls atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{notify: make(chan events.Event, 64)}
}

func (c *fakeClient) Send(event events.Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	select {
	case c.notify <- event:
	default:
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.closeCalls.Add(1)
	return nil
}

func (c *fakeClient) await(t *testing.T, want events.Kind) events.Event {
	t.Helper()
	for {
		select {
		case event := <-c.notify:
			if event.Kind() == want {
				return event
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
			return nil
		}
	}
}

func (c *fakeClient) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case event := <-c.notify:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for next event")
		return nil
	}
}

type llmMessage struct {
	TurnID string
	Text   string
}

type fakeLLM struct {
	mu           sync.Mutex
	instructions []string
	messages     []llmMessage

	sent       chan llmMessage
	closeCalls atomic.Int32
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{sent: make(chan llmMessage, 16)}
}

func (l *fakeLLM) UpdateInstructions(instructions string) error {
	l.mu.Lock()
	l.instructions = append(l.instructions, instructions)
	l.mu.Unlock()
	return nil
}

func (l *fakeLLM) SendMessage(turnID string, text string) error {
	msg := llmMessage{TurnID: turnID, Text: text}
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	select {
	case l.sent <- msg:
	default:
	}
	return nil
}

func (l *fakeLLM) Close() error {
	l.closeCalls.Add(1)
	return nil
}

type fakeSpeechStream struct {
	options texttospeech.SynthesisOptions

	mu    sync.Mutex
	texts []string

	flushCalls atomic.Int32
	closeCalls atomic.Int32
}

func (s *fakeSpeechStream) SendText(text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSpeechStream) EndOfText() error {
	s.flushCalls.Add(1)
	return nil
}

func (s *fakeSpeechStream) Close() error {
	if s.closeCalls.Add(1) == 1 {
		go s.options.ClosedCallback()
	}
	return nil
}

func (s *fakeSpeechStream) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeTTS struct {
	mu      sync.Mutex
	streams []*fakeSpeechStream
	opened  chan *fakeSpeechStream
}

func newFakeTTS() *fakeTTS {
	return &fakeTTS{opened: make(chan *fakeSpeechStream, 16)}
}

func (f *fakeTTS) dial(_ context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechStream, error) {
	stream := &fakeSpeechStream{options: texttospeech.NewSynthesisOptions(opts...)}
	f.mu.Lock()
	f.streams = append(f.streams, stream)
	f.mu.Unlock()

	select {
	case f.opened <- stream:
	default:
	}
	return stream, nil
}

func (f *fakeTTS) awaitStream(t *testing.T) *fakeSpeechStream {
	t.Helper()
	select {
	case stream := <-f.opened:
		return stream
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for speech stream to open")
		return nil
	}
}

func startOrchestrator(t *testing.T, opts ...OrchestratorOption) (*Orchestrator, *fakeClient, *fakeLLM, *fakeTTS) {
	t.Helper()

	client := newFakeClient()
	llm := newFakeLLM()
	tts := newFakeTTS()

	o := NewOrchestrator(client, llm, tts.dial, opts...)
	if !o.Start(context.Background()) {
		t.Fatalf("expected orchestrator to start")
	}
	t.Cleanup(func() {
		o.Close()
		o.WaitUntilEnded()
	})

	return o, client, llm, tts
}

func TestResponseStreamsInOrder(t *testing.T) {
	o, client, _, tts := startOrchestrator(t)

	o.HandleTranscript("what time is it")

	transcript := client.next(t)
	if transcript.Kind() != events.KindTranscript {
		t.Fatalf("expected transcript event first, got %s", transcript.Kind())
	}
	turnID := transcript.(events.Transcript).TurnID
	if turnID == "" {
		t.Fatalf("expected transcript to carry a turn id")
	}

	o.HandleResponseDelta(turnID, "It is ")
	o.HandleResponseDelta(turnID, "noon.")
	o.HandleResponseDone(turnID, "It is noon.")

	first := client.next(t)
	if partial, ok := first.(events.PartialResponse); !ok || partial.Text != "It is " {
		t.Fatalf("expected first partial response, got %#v", first)
	}
	second := client.next(t)
	if partial, ok := second.(events.PartialResponse); !ok || partial.Text != "noon." {
		t.Fatalf("expected second partial response, got %#v", second)
	}
	final := client.next(t)
	if response, ok := final.(events.FinalResponse); !ok || response.Text != "It is noon." || response.TurnID != turnID {
		t.Fatalf("expected final response for turn %s, got %#v", turnID, final)
	}

	stream := tts.awaitStream(t)
	waitFor(t, func() bool { return len(stream.sentTexts()) == 1 })
	if texts := stream.sentTexts(); texts[0] != "It is noon." {
		t.Fatalf("expected full response passed to synthesis, got %q", texts[0])
	}
	waitFor(t, func() bool { return stream.flushCalls.Load() == 1 })

	stream.options.AudioCallback("c29tZSBhdWRpbw==")
	audio := client.await(t, events.KindTTSAudio)
	if got := audio.(events.TTSAudio); got.TurnID != turnID || got.Audio != "c29tZSBhdWRpbw==" {
		t.Fatalf("expected synthesized audio for turn %s, got %#v", turnID, got)
	}

	stream.options.AlignmentCallback(json.RawMessage(`{"chars":["I","t"]}`))
	alignment := client.await(t, events.KindTTSAlignment)
	if got := alignment.(events.TTSAlignment); got.TurnID != turnID {
		t.Fatalf("expected alignment for turn %s, got %#v", turnID, got)
	}
}

func TestStaleResponseEventsAreDropped(t *testing.T) {
	o, client, _, _ := startOrchestrator(t)

	o.HandleTranscript("first question")
	firstTurn := client.await(t, events.KindTranscript).(events.Transcript).TurnID

	o.HandleTranscript("actually, never mind")
	secondTurn := client.await(t, events.KindTranscript).(events.Transcript).TurnID
	if firstTurn == secondTurn {
		t.Fatalf("expected a fresh turn id")
	}

	o.HandleResponseDelta(firstTurn, "stale delta")
	o.HandleResponseDone(firstTurn, "stale response")
	o.HandlePing()

	// The ping is processed after the stale events; nothing from the first
	// turn may have reached the client in between.
	if event := client.next(t); event.Kind() != events.KindPing {
		t.Fatalf("expected stale events to be dropped silently, got %s", event.Kind())
	}

	o.HandleResponseDelta(secondTurn, "fresh delta")
	partial := client.await(t, events.KindPartialResponse).(events.PartialResponse)
	if partial.TurnID != secondTurn || partial.Text != "fresh delta" {
		t.Fatalf("expected fresh delta for turn %s, got %#v", secondTurn, partial)
	}
}

func TestBargeInStopsSupersededSpeech(t *testing.T) {
	o, client, _, tts := startOrchestrator(t)

	o.HandleTranscript("tell me a long story")
	firstTurn := client.await(t, events.KindTranscript).(events.Transcript).TurnID
	o.HandleResponseDone(firstTurn, "Once upon a time...")
	client.await(t, events.KindFinalResponse)
	stream := tts.awaitStream(t)

	o.HandleTranscript("stop, different question")

	stop := client.next(t)
	stopAudio, ok := stop.(events.StopAudio)
	if !ok {
		t.Fatalf("expected stop_audio before the new turn's events, got %s", stop.Kind())
	}
	if stopAudio.TurnID != firstTurn {
		t.Fatalf("expected stop_audio for superseded turn %s, got %s", firstTurn, stopAudio.TurnID)
	}

	transcript := client.next(t)
	if transcript.Kind() != events.KindTranscript {
		t.Fatalf("expected new turn transcript after stop_audio, got %s", transcript.Kind())
	}

	waitFor(t, func() bool { return stream.closeCalls.Load() >= 1 })

	// Audio still trickling out of the closed stream never reaches the client.
	stream.options.AudioCallback("bGF0ZSBhdWRpbw==")
	o.HandlePing()
	if event := client.next(t); event.Kind() != events.KindPing {
		t.Fatalf("expected superseded audio to be dropped, got %s", event.Kind())
	}
}

func TestBargeInDisabledKeepsSpeechDraining(t *testing.T) {
	o, client, _, tts := startOrchestrator(t, WithBargeInDisabled())

	o.HandleTranscript("tell me a long story")
	firstTurn := client.await(t, events.KindTranscript).(events.Transcript).TurnID
	o.HandleResponseDone(firstTurn, "Once upon a time...")
	client.await(t, events.KindFinalResponse)
	stream := tts.awaitStream(t)

	o.HandleTranscript("stop, different question")

	transcript := client.next(t)
	if transcript.Kind() != events.KindTranscript {
		t.Fatalf("expected new turn transcript with no stop_audio, got %s", transcript.Kind())
	}

	if got := stream.closeCalls.Load(); got != 0 {
		t.Fatalf("expected superseded stream to stay open, got %d close calls", got)
	}

	stream.options.AudioCallback("c3RpbGwgcGxheWluZw==")
	audio := client.await(t, events.KindTTSAudio)
	if got := audio.(events.TTSAudio); got.TurnID != firstTurn {
		t.Fatalf("expected draining audio tagged with turn %s, got %#v", firstTurn, got)
	}
}

func TestStartChatInitializesOnce(t *testing.T) {
	o, client, llm, _ := startOrchestrator(t, WithGreeting("say hello"))

	o.StartChat("Ada", "ada@example.com")
	o.StartChat("Ada", "ada@example.com")

	greeting := awaitMessage(t, llm)
	if greeting.Text != "say hello" {
		t.Fatalf("expected greeting prompt, got %q", greeting.Text)
	}

	o.HandleResponseDelta(greeting.TurnID, "Hello Ada!")
	partial := client.next(t)
	if partial.Kind() != events.KindPartialResponse {
		t.Fatalf("expected the greeting response as the first client event, got %s", partial.Kind())
	}

	time.Sleep(50 * time.Millisecond)
	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.instructions) != 1 {
		t.Fatalf("expected instructions to be set once, got %d times", len(llm.instructions))
	}
	if len(llm.messages) != 1 {
		t.Fatalf("expected one greeting prompt, got %d messages", len(llm.messages))
	}
}

func TestTurnCompletedCallbackSeesCancelledTurns(t *testing.T) {
	completed := make(chan Turn, 4)
	o, client, _, _ := startOrchestrator(t, WithTurnCompletedCallback(func(turn Turn) {
		completed <- turn
	}))

	o.HandleTranscript("first")
	firstTurn := client.await(t, events.KindTranscript).(events.Transcript).TurnID
	o.HandleResponseDelta(firstTurn, "partial answer")
	client.await(t, events.KindPartialResponse)

	o.HandleTranscript("second")

	select {
	case turn := <-completed:
		if turn.ID != firstTurn {
			t.Fatalf("expected superseded turn %s, got %s", firstTurn, turn.ID)
		}
		if turn.State != TurnStateCancelled {
			t.Fatalf("expected cancelled state, got %s", turn.State)
		}
		if turn.Response != "partial answer" {
			t.Fatalf("expected partial response to be preserved, got %q", turn.Response)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the cancelled turn")
	}
}

func TestCloseCancelsLiveTurnAndClosesSpeech(t *testing.T) {
	completed := make(chan Turn, 4)
	o, client, _, tts := startOrchestrator(t, WithTurnCompletedCallback(func(turn Turn) {
		completed <- turn
	}))

	o.HandleTranscript("tell me a story")
	turnID := client.await(t, events.KindTranscript).(events.Transcript).TurnID
	o.HandleResponseDone(turnID, "Once upon a time.")
	client.await(t, events.KindFinalResponse)
	stream := tts.awaitStream(t)

	o.Close()
	o.WaitUntilEnded()

	if stream.closeCalls.Load() == 0 {
		t.Fatalf("expected the speech stream to be closed on shutdown")
	}
	select {
	case turn := <-completed:
		if turn.ID != turnID || turn.State != TurnStateCancelled {
			t.Fatalf("expected turn %s cancelled on shutdown, got %#v", turnID, turn)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the turn cut short by shutdown")
	}
}

func awaitMessage(t *testing.T, llm *fakeLLM) llmMessage {
	t.Helper()
	select {
	case msg := <-llm.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for model prompt")
		return llmMessage{}
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition")
}
