package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/flowstream/backend/internal/health"
	"github.com/flowstream/backend/internal/metrics"
	"github.com/flowstream/backend/internal/orchestrator"
	"github.com/flowstream/backend/internal/session"
)

// SessionController is the part of the orchestrator the control surface
// drives.
type SessionController interface {
	Connect(ctx context.Context, deposit uint64) error
	Disconnect(ctx context.Context) error
}

type Server struct {
	hub            *session.Hub
	controller     SessionController
	checker        *health.Checker
	metrics        *metrics.Metrics
	staticHandler  http.Handler
	authToken      string
	allowedOrigins map[string]bool
}

func NewServer(hub *session.Hub, controller SessionController, checker *health.Checker, m *metrics.Metrics, staticHandler http.Handler, authToken string, allowedOrigins []string) *Server {
	s := &Server{
		hub:            hub,
		controller:     controller,
		checker:        checker,
		metrics:        m,
		staticHandler:  staticHandler,
		authToken:      authToken,
		allowedOrigins: make(map[string]bool),
	}
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			s.allowedOrigins[trimmed] = true
		}
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	if s.staticHandler != nil {
		mux.Handle("/", s.staticHandler)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("Subscriber connected: %s", r.RemoteAddr)
	ch := s.hub.Subscribe()
	s.metrics.Subscribers.Inc()

	go s.writePump(conn, ch)

	go func() {
		defer func() {
			s.hub.Unsubscribe(ch)
			s.metrics.Subscribers.Dec()
			log.Printf("Subscriber disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writePump pushes every snapshot frame from the hub to one client. It
// exits when the subscriber channel is closed by Unsubscribe or when a
// write fails.
func (s *Server) writePump(conn *websocket.Conn, ch chan session.Snapshot) {
	defer conn.Close()
	for snap := range ch {
		msg := Message{Type: MsgSnapshot, Payload: snap}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.controller.Connect(r.Context(), req.DepositAmount)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, orchestrator.ErrInvalidDeposit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orchestrator.ErrAlreadyConnected):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Blocks until finalization completes; a no-op when idle.
	if err := s.controller.Disconnect(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Current())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	statuses := s.checker.Check()
	resp := HealthResponse{AllRunning: true, Validators: statuses}
	for _, st := range statuses {
		if !st.Running {
			resp.AllRunning = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) > 0 {
		return s.allowedOrigins[origin]
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	// Local development defaults.
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return false
}

// ListenAndServe binds the first available port in [port, port+attempts)
// and serves mux on it, mirroring the demo driver's port probing.
func ListenAndServe(host string, port, attempts int, mux *http.ServeMux) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		addr := fmt.Sprintf("%s:%d", host, port+i)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		log.Printf("Server listening on %s", addr)
		return http.Serve(ln, mux)
	}
	return fmt.Errorf("no available port in %d attempts starting at %d", attempts, port)
}
