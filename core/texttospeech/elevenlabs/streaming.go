package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/zildanalbaihaqi/realtimews/core/texttospeech"
)

const speakHost = "api.elevenlabs.io"

// SpeechStream is one streaming synthesis request against the ElevenLabs
// stream-input API. A stream serves exactly one turn; barge-in closes it.
type SpeechStream struct {
	ws   *websocket.Conn
	wsMu sync.Mutex

	options texttospeech.SynthesisOptions

	endOfText   atomic.Bool
	closeOnce   sync.Once
	closeCalled atomic.Bool
}

type Config struct {
	APIKey  string
	VoiceID string
	// ModelID defaults to the low-latency flash model.
	ModelID string
	// OutputFormat defaults to pcm_16000.
	OutputFormat string
	// SyncAlignment requests character timing payloads alongside audio.
	SyncAlignment bool

	// Voice settings sent in the stream's opening message.
	Stability       float64
	SimilarityBoost float64

	// Host overrides the provider host, used by tests.
	Host string
	// Insecure dials ws:// instead of wss://, used by tests.
	Insecure bool
}

// streamMessage is an inbound stream-input payload. Audio is base64; the
// alignment payloads are relayed verbatim.
type streamMessage struct {
	Audio               string          `json:"audio"`
	Alignment           json.RawMessage `json:"alignment"`
	NormalizedAlignment json.RawMessage `json:"normalizedAlignment"`
	IsFinal             bool            `json:"isFinal"`
}

// OpenStream dials the stream-input websocket, sends the voice configuration
// message and starts delivering audio callbacks.
func OpenStream(ctx context.Context, cfg Config, opts ...texttospeech.SynthesisOption) (*SpeechStream, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key not found")
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice id not set")
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_flash_v2_5"
	}
	outputFormat := cfg.OutputFormat
	if outputFormat == "" {
		outputFormat = "pcm_16000"
	}
	host := cfg.Host
	if host == "" {
		host = speakHost
	}
	scheme := "wss"
	if cfg.Insecure {
		scheme = "ws"
	}

	urlValues := url.Values{}
	urlValues.Set("model_id", modelID)
	urlValues.Set("output_format", outputFormat)
	if cfg.SyncAlignment {
		urlValues.Set("sync_alignment", "true")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		(&url.URL{
			Scheme:   scheme,
			Host:     host,
			Path:     "/v1/text-to-speech/" + cfg.VoiceID + "/stream-input",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"xi-api-key": {cfg.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to elevenlabs: %w", err)
	}

	stream := &SpeechStream{
		ws:      conn,
		options: texttospeech.NewSynthesisOptions(opts...),
	}

	stability := cfg.Stability
	if stability == 0 {
		stability = 0.5
	}
	similarity := cfg.SimilarityBoost
	if similarity == 0 {
		similarity = 0.8
	}

	if err := stream.sendWebsocketMessage(openMsg(stability, similarity)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send elevenlabs voice configuration: %w", err)
	}

	go stream.processIncomingMessages()

	return stream, nil
}

func (s *SpeechStream) processIncomingMessages() {
	defer s.options.ClosedCallback()

	for {
		_, msg, err := s.ws.ReadMessage()
		if err != nil {
			if !s.closeCalled.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.options.ErrorCallback(fmt.Errorf("elevenlabs stream read failed: %w", err))
			}
			_ = s.Close()
			return
		}

		var parsed streamMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to unmarshal elevenlabs message", "error", err)
			continue
		}

		if parsed.Audio != "" {
			s.options.AudioCallback(parsed.Audio)
		}
		switch {
		case len(parsed.Alignment) > 0 && string(parsed.Alignment) != "null":
			s.options.AlignmentCallback(parsed.Alignment)
		case len(parsed.NormalizedAlignment) > 0 && string(parsed.NormalizedAlignment) != "null":
			s.options.AlignmentCallback(parsed.NormalizedAlignment)
		}

		if parsed.IsFinal {
			_ = s.Close()
			return
		}
	}
}

// SendText queues text for synthesis.
func (s *SpeechStream) SendText(text string) error {
	if s.closeCalled.Load() {
		return fmt.Errorf("speech stream closed")
	} else if s.endOfText.Load() {
		return fmt.Errorf("speech stream text already completed")
	}
	if text == "" {
		return nil
	}

	if err := s.sendWebsocketMessage(textMsg{Text: text}); err != nil {
		return fmt.Errorf("failed to send text to elevenlabs: %w", err)
	}
	return nil
}

// EndOfText flushes buffered text and signals that no more text follows. The
// provider closes the stream once all audio has been emitted.
func (s *SpeechStream) EndOfText() error {
	if s.closeCalled.Load() {
		return fmt.Errorf("speech stream closed")
	}
	if !s.endOfText.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.sendWebsocketMessage(flushMsg); err != nil {
		return fmt.Errorf("failed to flush elevenlabs buffer: %w", err)
	}
	if err := s.sendWebsocketMessage(textMsg{Text: ""}); err != nil {
		return fmt.Errorf("failed to end elevenlabs stream: %w", err)
	}
	return nil
}

// Close tears the stream down. Safe to call multiple times and from a
// cancellation path concurrently with callback delivery.
func (s *SpeechStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeCalled.Store(true)
		_ = s.ws.Close()
	})
	return nil
}

type textMsg struct {
	Text string `json:"text"`
}

type flushTextMsg struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush"`
}

var flushMsg = flushTextMsg{Text: " ", Flush: true}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type openStreamMsg struct {
	Text             string           `json:"text"`
	VoiceSettings    voiceSettings    `json:"voice_settings"`
	GenerationConfig generationConfig `json:"generation_config"`
}

func openMsg(stability, similarityBoost float64) openStreamMsg {
	return openStreamMsg{
		Text: " ",
		VoiceSettings: voiceSettings{
			Stability:       stability,
			SimilarityBoost: similarityBoost,
			UseSpeakerBoost: false,
		},
		GenerationConfig: generationConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
}

func (s *SpeechStream) sendWebsocketMessage(msg any) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	if err := s.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write elevenlabs websocket message: %w", err)
	}
	return nil
}
