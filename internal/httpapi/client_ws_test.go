package httpapi

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	orchestration "github.com/zildanalbaihaqi/realtimews/core"
	"github.com/zildanalbaihaqi/realtimews/core/llms"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext"
	"github.com/zildanalbaihaqi/realtimews/internal/history"
)

type fakeSTT struct {
	options speechtotext.TranscriptionOptions

	mu    sync.Mutex
	audio [][]byte
	recv  chan []byte
}

func (s *fakeSTT) SendAudio(audio []byte) error {
	s.mu.Lock()
	s.audio = append(s.audio, audio)
	s.mu.Unlock()

	select {
	case s.recv <- audio:
	default:
	}
	return nil
}

func (s *fakeSTT) Close() error { return nil }

type llmPrompt struct {
	TurnID string
	Text   string
}

type fakeLLM struct {
	options *llms.SessionOptions

	mu           sync.Mutex
	instructions []string

	instructed chan string
	sent       chan llmPrompt
}

func (l *fakeLLM) UpdateInstructions(instructions string) error {
	l.mu.Lock()
	l.instructions = append(l.instructions, instructions)
	l.mu.Unlock()

	select {
	case l.instructed <- instructions:
	default:
	}
	return nil
}

func (l *fakeLLM) SendMessage(turnID string, text string) error {
	select {
	case l.sent <- llmPrompt{TurnID: turnID, Text: text}:
	default:
	}
	return nil
}

func (l *fakeLLM) Close() error { return nil }

// relayHarness serves the router against fake provider links and hands the
// links opened for each connection back to the test.
type relayHarness struct {
	stt chan *fakeSTT
	llm chan *fakeLLM
}

func newRelayServer(t *testing.T, opts ...orchestration.SessionManagerOption) (*httptest.Server, *relayHarness) {
	t.Helper()

	h := &relayHarness{
		stt: make(chan *fakeSTT, 4),
		llm: make(chan *fakeLLM, 4),
	}
	set := orchestration.ProviderSet{
		STT: func(_ context.Context, sttOpts ...speechtotext.TranscriptionOption) (orchestration.SpeechToText, error) {
			stt := &fakeSTT{
				options: speechtotext.NewTranscriptionOptions(sttOpts...),
				recv:    make(chan []byte, 16),
			}
			h.stt <- stt
			return stt, nil
		},
		LLM: func(_ context.Context, llmOpts ...llms.SessionOption) (orchestration.StreamingLLM, error) {
			llm := &fakeLLM{
				options:    llms.NewSessionOptions(llmOpts...),
				instructed: make(chan string, 16),
				sent:       make(chan llmPrompt, 16),
			}
			h.llm <- llm
			return llm, nil
		},
	}

	store, err := history.NewStore(history.StoreTypeMemory)
	if err != nil {
		t.Fatalf("failed to create history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessions := orchestration.NewSessionManager(set, opts...)
	t.Cleanup(sessions.Close)

	server := httptest.NewServer(NewRouter(sessions, store, log.New(io.Discard, "", 0)))
	t.Cleanup(server.Close)
	return server, h
}

func dialRelay(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var started serverMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&started); err != nil {
		t.Fatalf("failed to read session announcement: %v", err)
	}
	if started.Type != "session_started" || started.SessionID == "" {
		t.Fatalf("expected session_started with a session id, got %+v", started)
	}
	return conn
}

func awaitLink[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()

	select {
	case link := <-ch:
		return link
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestStartChatCarriesCallerIdentity(t *testing.T) {
	server, h := newRelayServer(t)
	conn := dialRelay(t, server)
	llm := awaitLink(t, h.llm, "model link")

	err := conn.WriteJSON(map[string]any{
		"type": "start_chat",
		"user": map[string]any{"name": "Ana", "email": "ana@example.com"},
	})
	if err != nil {
		t.Fatalf("failed to send start_chat: %v", err)
	}

	instructions := awaitLink(t, llm.instructed, "session instructions")
	if !strings.Contains(instructions, "Ana") || !strings.Contains(instructions, "ana@example.com") {
		t.Errorf("expected instructions to identify the caller, got %q", instructions)
	}

	greeting := awaitLink(t, llm.sent, "greeting prompt")
	if greeting.Text != "hi" {
		t.Errorf("expected greeting prompt, got %q", greeting.Text)
	}
}

func TestPreRecognizedTranscriptStartsTurn(t *testing.T) {
	server, h := newRelayServer(t)
	conn := dialRelay(t, server)
	llm := awaitLink(t, h.llm, "model link")

	err := conn.WriteJSON(map[string]any{
		"type":       "transcript",
		"transcript": "hello there",
	})
	if err != nil {
		t.Fatalf("failed to send transcript: %v", err)
	}

	prompt := awaitLink(t, llm.sent, "model prompt")
	if prompt.Text != "hello there" {
		t.Errorf("expected the pre-recognized text as the prompt, got %q", prompt.Text)
	}
	if prompt.TurnID == "" {
		t.Error("expected the prompt to carry a turn id")
	}

	var announced serverMessage
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&announced); err != nil {
		t.Fatalf("failed to read transcript announcement: %v", err)
	}
	if announced.Type != "transcript" || announced.Text != "hello there" || announced.TurnID != prompt.TurnID {
		t.Errorf("expected the transcript echoed with its turn id, got %+v", announced)
	}
}

func TestFreeFormTextStartsTurn(t *testing.T) {
	server, h := newRelayServer(t)
	conn := dialRelay(t, server)
	llm := awaitLink(t, h.llm, "model link")

	if err := conn.WriteJSON(map[string]any{"text": "what time is it"}); err != nil {
		t.Fatalf("failed to send text: %v", err)
	}

	prompt := awaitLink(t, llm.sent, "model prompt")
	if prompt.Text != "what time is it" {
		t.Errorf("expected the typed text as the prompt, got %q", prompt.Text)
	}
}

func TestBinaryAudioReachesRecognizer(t *testing.T) {
	server, h := newRelayServer(t)
	conn := dialRelay(t, server)
	stt := awaitLink(t, h.stt, "recognizer link")

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("failed to send audio frame: %v", err)
	}

	received := awaitLink(t, stt.recv, "audio frame")
	if string(received) != string(frame) {
		t.Errorf("expected audio frame %v, got %v", frame, received)
	}
}

func TestMalformedFramesAreDroppedSessionStaysUp(t *testing.T) {
	server, h := newRelayServer(t)
	conn := dialRelay(t, server)
	llm := awaitLink(t, h.llm, "model link")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send malformed frame: %v", err)
	}

	if err := conn.WriteJSON(map[string]any{"text": "still here"}); err != nil {
		t.Fatalf("failed to send follow-up text: %v", err)
	}

	prompt := awaitLink(t, llm.sent, "model prompt")
	if prompt.Text != "still here" {
		t.Errorf("expected the session to survive the malformed frame, got %q", prompt.Text)
	}
}
