package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"battle-service/internal/app"
	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the websocket endpoint, health check and session snapshots.
func NewRouter(engine *app.Engine, hub *Hub, ws *WSHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"activeSessions": engine.ActiveSessions(),
			"connections":    hub.Connected(),
		})
	})
	r.Get("/ws", ws.ServeWS)
	r.Get("/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		snap, err := engine.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrSessionNotFound) {
				status = http.StatusNotFound
			} else {
				logging.Error("session snapshot", zap.Error(err))
			}
			writeJSON(w, status, domain.NewErrorEvent(err))
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Debug("write response", zap.Error(err))
	}
}
