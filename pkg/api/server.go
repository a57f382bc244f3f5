// Package api exposes the game over HTTP: ledger and marker reads,
// collection attempts, position ingest (single-shot and websocket stream),
// and daemon health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stashhunt/stashd/pkg"
	"github.com/stashhunt/stashd/pkg/collect"
	"github.com/stashhunt/stashd/pkg/history"
	"github.com/stashhunt/stashd/pkg/logx"
	"github.com/stashhunt/stashd/pkg/session"
	"github.com/stashhunt/stashd/pkg/store"
)

// Server is the game HTTP API.
type Server struct {
	sessions  *session.Manager
	ledger    store.LedgerStore
	commit    *collect.CommitPolicy
	events    *history.Store
	apiKey    string
	logger    *logx.Logger
	srv       *http.Server
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewServer creates the API server. ledger serves the daemon-side ledger
// read endpoint used by remote instances; it may be nil on client-mode
// deployments.
func NewServer(addr, apiKey string, sessions *session.Manager, ledger store.LedgerStore, commit *collect.CommitPolicy, events *history.Store, logger *logx.Logger) *Server {
	s := &Server{
		sessions: sessions,
		ledger:   ledger,
		commit:   commit,
		events:   events,
		apiKey:   apiKey,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/ledger", s.authMiddleware(s.handleLedger))
	mux.HandleFunc("/api/ledger/collect", s.authMiddleware(s.handleLedgerCollect))
	mux.HandleFunc("/api/markers", s.authMiddleware(s.handleMarkers))
	mux.HandleFunc("/api/collect", s.authMiddleware(s.handleCollect))
	mux.HandleFunc("/api/position", s.authMiddleware(s.handlePosition))
	mux.HandleFunc("/api/position/stream", s.authMiddleware(s.handlePositionStream))
	mux.HandleFunc("/api/reset", s.authMiddleware(s.handleReset))
	mux.HandleFunc("/api/events", s.authMiddleware(s.handleEvents))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// authMiddleware rejects requests without the configured API key. With no
// key configured access is anonymous.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Query().Get("auth")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		if key != s.apiKey {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// Start serves the API until Stop is called. It does not block.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err.Error())
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"sessions":       s.sessions.Count(),
		"pending_events": s.commit.PendingCount(),
	})
}

// handleLedger serves GET /api/ledger?user=<id>: the persisted snapshot
// when this instance is authoritative, otherwise the live session ledger.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user parameter required", http.StatusBadRequest)
		return
	}

	if s.ledger != nil {
		snap, err := s.ledger.ReadLedger(r.Context(), userID)
		if err == store.ErrNotFound {
			http.Error(w, "ledger not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.logger.Error("Ledger read failed", "user_id", userID, "error", err.Error())
			http.Error(w, "ledger read failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, snap)
		return
	}

	sess, err := s.sessions.Get(r.Context(), userID)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleLedgerCollect applies a collection event directly to the
// authoritative store. Remote stashd instances use it to commit and to
// replay their offline queues.
func (s *Server) handleLedgerCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "not an authoritative instance", http.StatusNotImplemented)
		return
	}

	var ev store.CollectionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.UserID == "" || ev.EntityID == "" {
		http.Error(w, "user_id and entity_id required", http.StatusBadRequest)
		return
	}

	if err := s.ledger.WriteCollectionEvent(r.Context(), &ev); err != nil {
		s.logger.Error("Collection write failed", "user_id", ev.UserID,
			"entity_id", ev.EntityID, "error", err.Error())
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.userSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"markers": sess.Markers(),
	})
}

// collectRequest is the body of POST /api/collect.
type collectRequest struct {
	UserID   string          `json:"user_id"`
	EntityID string          `json:"entity_id"`
	Position *pkg.Coordinate `json:"position,omitempty"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.EntityID == "" {
		http.Error(w, "user_id and entity_id required", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Get(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	res, err := sess.Collect(r.Context(), req.EntityID, req.Position)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// positionRequest is the body of POST /api/position and each websocket
// stream message.
type positionRequest struct {
	UserID   string         `json:"user_id"`
	Position pkg.Coordinate `json:"position"`
	Accuracy float64        `json:"accuracy_meters"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Get(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	display, err := sess.UpdateFix(r.Context(), &pkg.Fix{
		Position:       req.Position,
		AccuracyMeters: req.Accuracy,
		Timestamp:      time.Now(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"display_position": display,
		"motion":           sess.MotionState(),
	})
}

// handlePositionStream upgrades to a websocket and ingests a stream of
// position fixes, answering each with the snapped display position and
// current marker count.
func (s *Server) handlePositionStream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user parameter required", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Get(r.Context(), userID)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	s.logger.Debug("Position stream opened", "user_id", userID)
	for {
		var req positionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Position stream failed", "user_id", userID, "error", err.Error())
			}
			return
		}

		display, err := sess.UpdateFix(r.Context(), &pkg.Fix{
			Position:       req.Position,
			AccuracyMeters: req.Accuracy,
			Timestamp:      time.Now(),
		})
		resp := map[string]interface{}{
			"display_position": display,
			"markers":          len(sess.Markers()),
			"motion":           sess.MotionState(),
		}
		if err != nil {
			resp = map[string]interface{}{"error": err.Error()}
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.userSession(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "respawned",
		"markers": len(sess.Markers()),
	})
}

// handleEvents serves GET /api/events?user=&since=&limit=: recent game
// events from the in-memory history buffer.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		http.Error(w, "event history disabled", http.StatusNotImplemented)
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
	}

	events := s.events.Query(r.URL.Query().Get("user"), since, limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// userSession resolves the session named by the user query parameter,
// writing the error response itself on failure.
func (s *Server) userSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user parameter required", http.StatusBadRequest)
		return nil, false
	}
	sess, err := s.sessions.Get(r.Context(), userID)
	if err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err.Error())
	}
}
