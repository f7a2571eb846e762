package openairt

import (
	"strings"

	"github.com/google/uuid"
)

// Wire payloads for the realtime API. Only the fields the relay actually
// consumes are modeled; the envelope tolerates unknown event types.

type serverEvent struct {
	Type       string      `json:"type"`
	EventID    string      `json:"event_id"`
	ResponseID string      `json:"response_id"`
	Delta      string      `json:"delta"`
	Item       *outputItem `json:"item"`
	Error      *apiError   `json:"error"`
}

type outputItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sessionUpdateEvent struct {
	Type    string         `json:"type"`
	EventID string         `json:"event_id"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Instructions string   `json:"instructions"`
	Modalities   []string `json:"modalities"`
}

type itemCreateEvent struct {
	Type    string    `json:"type"`
	EventID string    `json:"event_id"`
	Item    inputItem `json:"item"`
}

type inputItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type responseCreateEvent struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id"`
	Response responseRequest `json:"response"`
}

type responseRequest struct {
	Modalities []string `json:"modalities"`
}

const (
	eventTypeSessionUpdate  = "session.update"
	eventTypeItemCreate     = "conversation.item.create"
	eventTypeResponseCreate = "response.create"

	eventTypeTextDelta      = "response.text.delta"
	eventTypeOutputItemDone = "response.output_item.done"
	eventTypePing           = "ping"
	eventTypeError          = "error"
)

func newEventID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "e_" + id[:30]
}
