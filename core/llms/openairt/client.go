// Package openairt streams text responses from the OpenAI realtime API over a
// single websocket session.
package openairt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zildanalbaihaqi/realtimews/core/llms"
)

const (
	defaultHost  = "api.openai.com"
	defaultModel = "gpt-4o-realtime-preview"
)

type Config struct {
	APIKey string
	// Model selects the realtime model, defaults to gpt-4o-realtime-preview.
	Model string

	// Host and Insecure exist to point the client at a test server.
	Host     string
	Insecure bool
}

// Client is one realtime model session. Responses stream back through the
// session callbacks, each delta tagged with the turn that requested it.
type Client struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	options *llms.SessionOptions

	// turnMu guards the response-to-turn binding. A response id is bound
	// to the most recently requested turn the first time it is seen, so
	// deltas of a superseded response keep their original turn id.
	turnMu         sync.Mutex
	requestedTurn  string
	turnByResponse map[string]string

	closeOnce sync.Once
	done      chan struct{}
}

// Connect opens the realtime websocket and starts delivering callbacks until
// the session closes.
func Connect(ctx context.Context, cfg Config, opts ...llms.SessionOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key not found")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}

	scheme := "wss"
	if cfg.Insecure {
		scheme = "ws"
	}
	sessionURL := url.URL{
		Scheme:   scheme,
		Host:     cfg.Host,
		Path:     "/v1/realtime",
		RawQuery: url.Values{"model": {cfg.Model}}.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, sessionURL.String(), http.Header{
		"Authorization": {"Bearer " + cfg.APIKey},
		"OpenAI-Beta":   {"realtime=v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to openai realtime: %w", err)
	}

	client := &Client{
		conn:           conn,
		options:        llms.NewSessionOptions(opts...),
		turnByResponse: map[string]string{},
		done:           make(chan struct{}),
	}
	go client.readAndProcessMessages()

	return client, nil
}

// UpdateInstructions replaces the session's system instructions. Text-only
// output is requested alongside since the relay synthesizes speech itself.
func (c *Client) UpdateInstructions(instructions string) error {
	return c.writeJSON(sessionUpdateEvent{
		Type:    eventTypeSessionUpdate,
		EventID: newEventID(),
		Session: sessionPayload{
			Instructions: instructions,
			Modalities:   []string{"text"},
		},
	})
}

// SendMessage submits a user message and requests a streaming response for
// the given turn.
func (c *Client) SendMessage(turnID string, text string) error {
	c.turnMu.Lock()
	c.requestedTurn = turnID
	c.turnMu.Unlock()

	if err := c.writeJSON(itemCreateEvent{
		Type:    eventTypeItemCreate,
		EventID: newEventID(),
		Item: inputItem{
			Type:    "message",
			Role:    "user",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}

	return c.writeJSON(responseCreateEvent{
		Type:     eventTypeResponseCreate,
		EventID:  newEventID(),
		Response: responseRequest{Modalities: []string{"text"}},
	})
}

// Close terminates the session. Safe to call multiple times and concurrently
// with message delivery.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) writeJSON(event any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("openai realtime client closed")
	default:
	}

	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write to openai realtime: %w", err)
	}
	return nil
}

func (c *Client) readAndProcessMessages() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				err = nil
			default:
			}
			c.options.ClosedCallback(err)
			return
		}

		c.processMessage(msg)
	}
}

func (c *Client) processMessage(msg []byte) {
	var event serverEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		logger.Warn("failed to unmarshal openai realtime event", "error", err)
		return
	}

	switch event.Type {
	case eventTypeTextDelta:
		turnID := c.bindTurn(event.ResponseID)
		if event.Delta != "" {
			c.options.ResponseDeltaCallback(turnID, event.Delta)
		}

	case eventTypeOutputItemDone:
		turnID := c.finishTurn(event.ResponseID)
		if event.Item == nil || len(event.Item.Content) == 0 {
			return
		}
		c.options.ResponseDoneCallback(turnID, event.Item.Content[0].Text)

	case eventTypePing:
		c.options.PingCallback()

	case eventTypeError:
		if event.Error != nil {
			logger.Warn("openai realtime error event",
				"code", event.Error.Code, "message", event.Error.Message)
		}
	}
}

// bindTurn resolves the turn a response belongs to, binding unseen response
// ids to the most recently requested turn.
func (c *Client) bindTurn(responseID string) string {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if turnID, ok := c.turnByResponse[responseID]; ok {
		return turnID
	}
	c.turnByResponse[responseID] = c.requestedTurn
	return c.requestedTurn
}

func (c *Client) finishTurn(responseID string) string {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	turnID, ok := c.turnByResponse[responseID]
	if !ok {
		return c.requestedTurn
	}
	delete(c.turnByResponse, responseID)
	return turnID
}
