package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zildanalbaihaqi/realtimews/core/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is an inbound JSON frame from the browser. Binary frames
// carry raw audio and never reach this struct.
type clientMessage struct {
	Type string `json:"type"`
	User struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

// serverMessage is the outbound JSON frame. Fields are populated per event
// kind and omitted otherwise.
type serverMessage struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	TurnID    string          `json:"turnId,omitempty"`
	Audio     string          `json:"audio,omitempty"`
	Alignment json.RawMessage `json:"alignment,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// clientLink adapts a websocket connection to the orchestration core's client
// side. Writes are serialized; Close is safe against concurrent Sends.
type clientLink struct {
	conn      *websocket.Conn
	connMu    sync.Mutex
	closeOnce sync.Once
}

func (l *clientLink) Send(event events.Event) error {
	msg := serverMessage{Type: string(event.Kind())}

	switch e := event.(type) {
	case events.Transcript:
		msg.Text = e.Text
		msg.TurnID = e.TurnID
	case events.PartialResponse:
		msg.Text = e.Text
		msg.TurnID = e.TurnID
	case events.FinalResponse:
		msg.Text = e.Text
		msg.TurnID = e.TurnID
	case events.TTSAudio:
		msg.Audio = e.Audio
		msg.TurnID = e.TurnID
	case events.TTSAlignment:
		msg.Alignment = e.Alignment
		msg.TurnID = e.TurnID
	case events.StopAudio:
		msg.TurnID = e.TurnID
	case events.Ping:
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn.WriteJSON(msg)
}

func (l *clientLink) Close() error {
	l.closeOnce.Do(func() {
		_ = l.conn.Close()
	})
	return nil
}

func (l *clientLink) sendSessionStarted(sessionID string) error {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn.WriteJSON(serverMessage{Type: "session_started", SessionID: sessionID})
}

func (r *Router) handleClientWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("client_ws: upgrade failed: %v", err)
		return
	}

	link := &clientLink{conn: conn}
	session, err := r.sessions.Open(req.Context(), link)
	if err != nil {
		r.logger.Printf("client_ws: failed to open session: %v", err)
		captureError(req, err, "client_ws: session open failed")
		_ = link.Close()
		return
	}
	defer session.Close()

	if err := link.sendSessionStarted(session.ID()); err != nil {
		r.logger.Printf("client_ws: failed to announce session %s: %v", session.ID(), err)
		return
	}

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Printf("client_ws: connection closed for session %s", session.ID())
			} else {
				r.logger.Printf("client_ws: read error for session %s: %v", session.ID(), err)
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			if err := session.HandleAudio(msg); err != nil {
				r.logger.Printf("client_ws: audio error for session %s: %v", session.ID(), err)
			}
			continue
		}

		var parsed clientMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			// Malformed frames are dropped, the session stays up.
			r.logger.Printf("client_ws: dropping malformed message for session %s: %v", session.ID(), err)
			continue
		}

		switch {
		case parsed.Type == "start_chat":
			session.StartChat(parsed.User.Name, parsed.User.Email)
		case parsed.Type == "transcript" && parsed.Transcript != "":
			session.HandleText(parsed.Transcript)
		case parsed.Text != "":
			session.HandleText(parsed.Text)
		}
	}
}
