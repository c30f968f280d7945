package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsPushInterval = time.Second

// Handler returns the HTTP handler of the control server.
func (r *Runner) Handler() http.Handler {
	mux := http.NewServeMux()

	if r.settingsManager != nil {
		NewSettingsHandler(r.clients.Logger, r.settingsManager, r.auth).RegisterRoutes(mux)
	}
	NewAPIHandler(r.clients.Logger, r.stores.Users, r.stores.History, r.sessions, r.auth).RegisterRoutes(mux)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// JSON stats endpoint
	mux.HandleFunc("GET /stats", r.auth.Require(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.GetStats())
	}))

	// WebSocket endpoint for real-time stats
	mux.HandleFunc("GET /ws", r.auth.Require(r.serveStatsWS))

	return mux
}

func (r *Runner) serveStatsWS(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.clients.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(r.GetStats()); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-req.Context().Done():
			return
		case <-r.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// startHealthServer starts the control server on port.
func (r *Runner) startHealthServer(port int) {
	r.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.clients.Logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (r *Runner) stopHealthServer() {
	if r.healthServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.healthServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
