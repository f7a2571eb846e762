// Package app wires configuration, provider links, history storage and the
// HTTP surface into a runnable relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	orchestration "github.com/zildanalbaihaqi/realtimews/core"
	"github.com/zildanalbaihaqi/realtimews/core/llms"
	"github.com/zildanalbaihaqi/realtimews/core/llms/openairt"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext/assemblyai"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext/deepgram"
	"github.com/zildanalbaihaqi/realtimews/core/texttospeech"
	"github.com/zildanalbaihaqi/realtimews/core/texttospeech/elevenlabs"
	"github.com/zildanalbaihaqi/realtimews/internal/history"
	"github.com/zildanalbaihaqi/realtimews/internal/httpapi"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	history  history.Store
	sessions *orchestration.SessionManager
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return nil, errors.New("ELEVENLABS_API_KEY is required")
	}

	providers := orchestration.ProviderSet{
		LLM: llmDialer(cfg),
		TTS: ttsDialer(cfg),
	}

	switch cfg.STTProvider {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return nil, errors.New("DEEPGRAM_API_KEY is required for the deepgram STT provider")
		}
		providers.STT = deepgramDialer(cfg)
	case "assemblyai":
		if cfg.AssemblyAIAPIKey == "" {
			return nil, errors.New("ASSEMBLYAI_API_KEY is required for the assemblyai STT provider")
		}
		providers.STT = assemblyaiDialer(cfg)
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}

	historyStore, err := newHistoryStore(cfg)
	if err != nil {
		return nil, err
	}

	orchestratorOpts := []orchestration.OrchestratorOption{
		orchestration.WithGreeting(cfg.Greeting),
	}
	if !cfg.EnableBargeIn {
		orchestratorOpts = append(orchestratorOpts, orchestration.WithBargeInDisabled())
	}
	if cfg.IncrementalTTS {
		orchestratorOpts = append(orchestratorOpts, orchestration.WithFlushStrategy(orchestration.FlushIncremental))
	}

	sessions := orchestration.NewSessionManager(providers,
		orchestration.WithIdleTimeout(cfg.IdleTimeout),
		orchestration.WithOrchestratorOptions(orchestratorOpts...),
		orchestration.WithTurnArchiver(func(sessionID string, turn orchestration.Turn) {
			record := history.TurnRecord{
				TurnID:     turn.ID,
				Transcript: turn.Transcript,
				Response:   turn.Response,
				Status:     string(turn.State),
				CreatedAt:  turn.StartedAt,
			}
			// The archiver is called from the session's event loop; a slow
			// store must not stall turn processing.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := historyStore.Append(ctx, sessionID, record); err != nil {
					logger.Printf("app: failed to archive turn %s for session %s: %v", turn.ID, sessionID, err)
				}
			}()
		}),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		history:  historyStore,
		sessions: sessions,
	}, nil
}

func (a *App) Router() http.Handler {
	return httpapi.NewRouter(a.sessions, a.history, a.logger)
}

func (a *App) Close() error {
	a.sessions.Close()
	return a.history.Close()
}

func llmDialer(cfg Config) orchestration.LLMDialer {
	return func(ctx context.Context, opts ...llms.SessionOption) (orchestration.StreamingLLM, error) {
		return openairt.Connect(ctx, openairt.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}, opts...)
	}
}

func ttsDialer(cfg Config) orchestration.TTSDialer {
	return func(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechStream, error) {
		return elevenlabs.OpenStream(ctx, elevenlabs.Config{
			APIKey:          cfg.ElevenLabsAPIKey,
			VoiceID:         cfg.TTSVoiceID,
			ModelID:         cfg.TTSModelID,
			SyncAlignment:   true,
			Stability:       cfg.TTSStability,
			SimilarityBoost: cfg.TTSSimilarity,
		}, opts...)
	}
}

func deepgramDialer(cfg Config) orchestration.STTDialer {
	return func(ctx context.Context, opts ...speechtotext.TranscriptionOption) (orchestration.SpeechToText, error) {
		opts = append(opts,
			speechtotext.WithMinWordConfidence(cfg.MinConfidence),
			speechtotext.WithMinTranscriptLength(cfg.MinUtteranceLen),
		)
		return deepgram.Transcribe(ctx, deepgram.Config{
			APIKey: cfg.DeepgramAPIKey,
			Model:  cfg.DeepgramModel,
		}, opts...)
	}
}

func assemblyaiDialer(cfg Config) orchestration.STTDialer {
	return func(ctx context.Context, opts ...speechtotext.TranscriptionOption) (orchestration.SpeechToText, error) {
		opts = append(opts,
			speechtotext.WithMinWordConfidence(cfg.MinConfidence),
			speechtotext.WithMinTranscriptLength(cfg.MinUtteranceLen),
		)
		return assemblyai.Transcribe(ctx, assemblyai.Config{APIKey: cfg.AssemblyAIAPIKey}, opts...)
	}
}

func newHistoryStore(cfg Config) (history.Store, error) {
	switch cfg.HistoryStore {
	case "", "memory":
		return history.NewStore(history.StoreTypeMemory)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis history store")
		}
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		return history.NewStore(history.StoreTypeRedis,
			history.WithRedisClient(redis.NewClient(redisOpts)),
			history.WithRedisTTL(cfg.HistoryTTL),
		)
	default:
		return nil, fmt.Errorf("unknown history store %q", cfg.HistoryStore)
	}
}
