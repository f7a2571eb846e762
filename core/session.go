package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zildanalbaihaqi/realtimews/core/llms"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultIdleTimeout = 10 * time.Minute

// Session ties one connected client to its provider links and orchestrator.
// Teardown converges here: the client hanging up, a provider link dropping
// and the idle timer all funnel into Close, which runs its work exactly once.
type Session struct {
	id string

	orchestrator *Orchestrator
	stt          SpeechToText
	llm          StreamingLLM
	client       ClientLink

	idleTimeout time.Duration
	timerMu     sync.Mutex
	idleTimer   *time.Timer

	closeOnce sync.Once
	closed    atomic.Bool
	onClosed  func(id string)
}

// ID is the short session identifier used in logs and traces.
func (s *Session) ID() string { return s.id }

// StartChat initializes the conversation for the identified caller.
func (s *Session) StartChat(name string, email string) {
	s.touch()
	s.orchestrator.StartChat(name, email)
}

// HandleText submits typed user input, bypassing speech recognition.
func (s *Session) HandleText(text string) {
	s.touch()
	s.orchestrator.HandleTranscript(text)
}

// HandleAudio forwards one caller audio frame to the recognizer.
func (s *Session) HandleAudio(audio []byte) error {
	s.touch()
	return s.stt.SendAudio(audio)
}

// Close tears the session down. Safe to call multiple times and from any of
// the teardown paths concurrently; each link is closed exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.timerMu.Lock()
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.timerMu.Unlock()

		s.orchestrator.Close()
		if s.stt != nil {
			_ = s.stt.Close()
		}
		if s.llm != nil {
			_ = s.llm.Close()
		}
		_ = s.client.Close()

		if s.onClosed != nil {
			s.onClosed(s.id)
		}
		logger.Info("session closed", "session", s.id)
	})
}

// touch pushes the idle deadline back. Called on every client and provider
// activity.
func (s *Session) touch() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

func (s *Session) expire() {
	logger.Info("session idle timeout reached", "session", s.id)
	s.Close()
}

// SessionManager opens sessions against a fixed provider set and keeps track
// of the live ones.
type SessionManager struct {
	providers        ProviderSet
	idleTimeout      time.Duration
	orchestratorOpts []OrchestratorOption
	archiveTurn      func(sessionID string, turn Turn)

	mu       sync.Mutex
	sessions map[string]*Session
}

type SessionManagerOption func(*SessionManager)

// WithIdleTimeout overrides how long a session may sit without activity
// before it is torn down.
func WithIdleTimeout(timeout time.Duration) SessionManagerOption {
	return func(m *SessionManager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// WithOrchestratorOptions sets the options applied to every session's
// orchestrator.
func WithOrchestratorOptions(opts ...OrchestratorOption) SessionManagerOption {
	return func(m *SessionManager) {
		m.orchestratorOpts = append(m.orchestratorOpts, opts...)
	}
}

// WithTurnArchiver registers a callback invoked with the owning session's id
// whenever one of its turns reaches a terminal state.
func WithTurnArchiver(archive func(sessionID string, turn Turn)) SessionManagerOption {
	return func(m *SessionManager) {
		m.archiveTurn = archive
	}
}

func NewSessionManager(providers ProviderSet, opts ...SessionManagerOption) *SessionManager {
	manager := &SessionManager{
		providers:   providers,
		idleTimeout: defaultIdleTimeout,
		sessions:    map[string]*Session{},
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// Open dials the provider links for a new client, wires them into an
// orchestrator and starts it. The returned session is already live.
func (m *SessionManager) Open(ctx context.Context, client ClientLink) (*Session, error) {
	ctx, span := tracer.Start(ctx, "open session")
	defer span.End()

	session := &Session{
		id:          uuid.NewString()[:8],
		client:      client,
		idleTimeout: m.idleTimeout,
		onClosed:    m.remove,
	}
	span.SetAttributes(attribute.String("session.id", session.id))

	orchestratorOpts := append([]OrchestratorOption{
		WithActivityCallback(session.touch),
	}, m.orchestratorOpts...)
	if m.archiveTurn != nil {
		orchestratorOpts = append(orchestratorOpts, WithTurnCompletedCallback(func(turn Turn) {
			m.archiveTurn(session.id, turn)
		}))
	}
	orchestrator := NewOrchestrator(client, nil, m.providers.TTS, orchestratorOpts...)
	session.orchestrator = orchestrator

	llm, err := m.providers.LLM(ctx,
		llms.WithResponseDeltaCallback(orchestrator.HandleResponseDelta),
		llms.WithResponseDoneCallback(orchestrator.HandleResponseDone),
		llms.WithPingCallback(orchestrator.HandlePing),
		llms.WithClosedCallback(func(err error) {
			if err != nil {
				logger.Warn("model link dropped", "error", err, "session", session.id)
			}
			session.Close()
		}),
	)
	if err != nil {
		err = fmt.Errorf("failed to open model link: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	orchestrator.BindLLM(llm)
	session.llm = llm

	stt, err := m.providers.STT(ctx,
		speechtotext.WithTranscriptionCallback(orchestrator.HandleTranscript),
		speechtotext.WithInterimTranscriptionCallback(orchestrator.HandleInterimTranscript),
		speechtotext.WithClosedCallback(func(err error) {
			if err != nil {
				logger.Warn("recognizer link dropped", "error", err, "session", session.id)
			}
			session.Close()
		}),
	)
	if err != nil {
		_ = llm.Close()
		err = fmt.Errorf("failed to open recognizer link: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	session.stt = stt

	orchestrator.Start(context.WithoutCancel(ctx))

	session.timerMu.Lock()
	session.idleTimer = time.AfterFunc(m.idleTimeout, session.expire)
	session.timerMu.Unlock()

	m.mu.Lock()
	m.sessions[session.id] = session
	m.mu.Unlock()

	// A provider link may have dropped while the session was being wired up.
	if session.closed.Load() {
		m.remove(session.id)
	}

	logger.Info("session opened", "session", session.id)
	return session, nil
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every live session. Used on server shutdown.
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}

func (m *SessionManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
