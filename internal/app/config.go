package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	// Voice AI providers
	OpenAIAPIKey     string
	ElevenLabsAPIKey string
	DeepgramAPIKey   string
	AssemblyAIAPIKey string

	// STTProvider selects the recognizer: "deepgram" or "assemblyai".
	STTProvider string

	// Model settings
	OpenAIModel   string
	DeepgramModel string

	// Voice settings
	TTSVoiceID    string // ElevenLabs voice ID
	TTSModelID    string
	TTSStability  float64 // ElevenLabs voice stability (0.0-1.0)
	TTSSimilarity float64 // ElevenLabs voice similarity boost (0.0-1.0)

	// Conversation settings
	Greeting        string
	EnableBargeIn   bool
	IncrementalTTS  bool // stream response deltas to synthesis instead of flushing on completion
	IdleTimeout     time.Duration
	MinConfidence   float64 // per-word confidence floor for accepting an utterance
	MinUtteranceLen int

	// History persistence
	HistoryStore string // "memory" or "redis"
	RedisURL     string
	HistoryTTL   time.Duration

	SentryDSN string
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		AssemblyAIAPIKey: getenv("ASSEMBLYAI_API_KEY", ""),

		STTProvider: getenv("STT_PROVIDER", "assemblyai"),

		OpenAIModel:   getenv("OPENAI_REALTIME_MODEL", ""),
		DeepgramModel: getenv("DEEPGRAM_MODEL", ""),

		TTSVoiceID:    getenv("TTS_VOICE_ID", ""),
		TTSModelID:    getenv("TTS_MODEL_ID", ""),
		TTSStability:  getenvFloat("TTS_STABILITY", 0.5),
		TTSSimilarity: getenvFloat("TTS_SIMILARITY", 0.8),

		Greeting:        getenv("GREETING_PROMPT", "hi"),
		EnableBargeIn:   getenvBool("ENABLE_BARGE_IN", true),
		IncrementalTTS:  getenvBool("INCREMENTAL_TTS", false),
		IdleTimeout:     getenvDuration("IDLE_TIMEOUT", 10*time.Minute),
		MinConfidence:   getenvFloat("MIN_WORD_CONFIDENCE", 0.75),
		MinUtteranceLen: getenvInt("MIN_UTTERANCE_LENGTH", 2),

		HistoryStore: getenv("HISTORY_STORE", "memory"),
		RedisURL:     getenv("REDIS_URL", ""),
		HistoryTTL:   getenvDuration("HISTORY_TTL", 24*time.Hour),

		SentryDSN: getenv("SENTRY_DSN", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}
