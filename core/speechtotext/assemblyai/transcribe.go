package assemblyai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext"
)

const streamingURL = "wss://streaming.assemblyai.com/v3/ws"

// TranscriptionClient is a live transcription stream against the AssemblyAI
// v3 streaming API. One client serves one session's audio.
type TranscriptionClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	options speechtotext.TranscriptionOptions

	closeOnce sync.Once
	done      chan struct{}
}

type Config struct {
	APIKey string
}

// turnMessage is an AssemblyAI v3 "Turn" payload. Formatted end-of-turn
// messages carry the finalized utterance.
type turnMessage struct {
	Type            string  `json:"type"`
	Transcript      string  `json:"transcript"`
	TurnIsFormatted bool    `json:"turn_is_formatted"`
	EndOfTurn       bool    `json:"end_of_turn"`
	Words           []word  `json:"words"`
	EndOfTurnConf   float64 `json:"end_of_turn_confidence"`
}

type word struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	WordIsFinal bool    `json:"word_is_final"`
}

// Transcribe opens the streaming websocket and starts delivering transcription
// callbacks until the stream closes.
func Transcribe(ctx context.Context, cfg Config, opts ...speechtotext.TranscriptionOption) (*TranscriptionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("assemblyai api key not found")
	}

	options := speechtotext.NewTranscriptionOptions(opts...)

	urlValues := url.Values{}
	urlValues.Set("sample_rate", strconv.Itoa(options.SampleRate))
	urlValues.Set("format_turns", "true")

	streamURL, _ := url.Parse(streamingURL)
	streamURL.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL.String(),
		http.Header{"Authorization": {cfg.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to assemblyai: %w", err)
	}

	client := &TranscriptionClient{
		conn:    conn,
		options: options,
		done:    make(chan struct{}),
	}
	go client.readAndProcessMessages()

	return client, nil
}

// SendAudio forwards one binary audio frame to the recognizer.
func (c *TranscriptionClient) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("transcription client closed")
	default:
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write audio to assemblyai: %w", err)
	}
	return nil
}

// Close terminates the stream. Safe to call multiple times and concurrently
// with message delivery.
func (c *TranscriptionClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		_ = c.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: "Terminate"})
		c.connMu.Unlock()

		_ = c.conn.Close()
	})
	return nil
}

func (c *TranscriptionClient) readAndProcessMessages() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				err = nil
			default:
			}
			if c.options.ClosedCallback != nil {
				c.options.ClosedCallback(err)
			}
			return
		}

		c.processMessage(msg)
	}
}

func (c *TranscriptionClient) processMessage(msg []byte) {
	var parsed turnMessage
	if err := json.Unmarshal(msg, &parsed); err != nil {
		logger.Warn("failed to unmarshal assemblyai message", "error", err)
		return
	}

	transcript := strings.TrimSpace(parsed.Transcript)
	if parsed.Type != "Turn" || transcript == "" {
		return
	}

	if !parsed.EndOfTurn || !parsed.TurnIsFormatted {
		if c.options.InterimTranscriptionCallback != nil {
			c.options.InterimTranscriptionCallback(transcript)
		}
		return
	}

	confidences := make([]float64, 0, len(parsed.Words))
	for _, w := range parsed.Words {
		confidences = append(confidences, w.Confidence)
	}

	if !c.options.Gate(transcript, confidences) {
		return
	}

	if c.options.InterimTranscriptionCallback != nil {
		c.options.InterimTranscriptionCallback("")
	}
	if c.options.TranscriptionCallback != nil {
		c.options.TranscriptionCallback(transcript)
	}
}
