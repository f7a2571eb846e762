package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/zildanalbaihaqi/realtimews/core/speechtotext"
)

// TranscriptionClient is a live transcription stream against the Deepgram
// listen API. One client serves one session's audio.
type TranscriptionClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	options speechtotext.TranscriptionOptions

	// utterance accumulates is_final segments until speech_final closes the
	// utterance. Only touched from the read goroutine.
	utterance            []string
	utteranceConfidences []float64

	closeOnce sync.Once
	done      chan struct{}
}

type Config struct {
	APIKey string
	Model  string
}

// Transcribe opens the streaming websocket and starts delivering transcription
// callbacks until the stream closes.
func Transcribe(ctx context.Context, cfg Config, opts ...speechtotext.TranscriptionOption) (*TranscriptionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	options := speechtotext.NewTranscriptionOptions(opts...)

	model := cfg.Model
	if model == "" {
		model = "nova-2"
	}

	listenURL, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenURL.Query()
	queryParams.Set("encoding", "linear16")
	queryParams.Set("sample_rate", strconv.Itoa(options.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", model)
	queryParams.Set("language", "en")
	queryParams.Set("punctuate", "true")
	queryParams.Set("smart_format", "true")
	queryParams.Set("endpointing", "300")
	if options.InterimTranscriptionCallback != nil {
		queryParams.Set("interim_results", "true")
	}
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + cfg.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
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
		return fmt.Errorf("failed to write audio to deepgram: %w", err)
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
		}{Type: string(api.TypeCloseStreamResponse)})
		c.connMu.Unlock()

		_ = c.conn.Close()
	})
	return nil
}

func (c *TranscriptionClient) readAndProcessMessages() {
	for {
		msgType, msg, err := c.conn.ReadMessage()
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

		if msgType != websocket.BinaryMessage {
			c.processMessage(msg)
		}
	}
}

func (c *TranscriptionClient) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram results message", "error", err)
			return
		}
		c.processResults(msgResp)

	case api.TypeUtteranceEndResponse:
		c.finishUtterance()
	}
}

func (c *TranscriptionClient) processResults(msgResp api.MessageResponse) {
	if len(msgResp.Channel.Alternatives) == 0 {
		return
	}
	alternative := msgResp.Channel.Alternatives[0]
	transcript := strings.TrimSpace(alternative.Transcript)

	if !msgResp.IsFinal {
		if transcript != "" && c.options.InterimTranscriptionCallback != nil {
			c.options.InterimTranscriptionCallback(strings.TrimSpace(
				strings.Join(append(append([]string{}, c.utterance...), transcript), " ")))
		}
		return
	}

	if transcript != "" {
		c.utterance = append(c.utterance, transcript)
		for _, w := range alternative.Words {
			c.utteranceConfidences = append(c.utteranceConfidences, w.Confidence)
		}
	}

	if msgResp.SpeechFinal {
		c.finishUtterance()
	}
}

func (c *TranscriptionClient) finishUtterance() {
	transcript := strings.TrimSpace(strings.Join(c.utterance, " "))
	confidences := c.utteranceConfidences
	c.utterance = nil
	c.utteranceConfidences = nil

	if transcript == "" || !c.options.Gate(transcript, confidences) {
		return
	}

	if c.options.InterimTranscriptionCallback != nil {
		c.options.InterimTranscriptionCallback("")
	}
	if c.options.TranscriptionCallback != nil {
		c.options.TranscriptionCallback(transcript)
	}
}
