// Package httpapi exposes the relay's HTTP surface: the client websocket,
// conversation history lookups and a health check.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	orchestration "github.com/zildanalbaihaqi/realtimews/core"
	"github.com/zildanalbaihaqi/realtimews/internal/history"
)

type Router struct {
	sessions *orchestration.SessionManager
	history  history.Store
	logger   *log.Logger
	mux      *http.ServeMux
}

func NewRouter(sessions *orchestration.SessionManager, historyStore history.Store, logger *log.Logger) http.Handler {
	r := &Router{
		sessions: sessions,
		history:  historyStore,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /ws", r.handleClientWS)
	r.mux.HandleFunc("GET /api/sessions/{sessionId}/history", r.handleSessionHistory)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleSessionHistory(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("sessionId")
	if sessionID == "" {
		http.Error(w, `{"error": "missing session id"}`, http.StatusBadRequest)
		return
	}

	records, err := r.history.List(req.Context(), sessionID)
	if err != nil {
		r.logger.Printf("history: failed to list session %s: %v", sessionID, err)
		captureError(req, err, "history: list failed")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"turns":     records,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
