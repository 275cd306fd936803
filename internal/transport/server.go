// Package transport exposes call sessions over a websocket together with
// the HTTP health, status and metrics endpoints.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-call/core"
	"github.com/koscakluka/ema-call/core/requests"
	"github.com/koscakluka/ema-call/internal/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionFactory builds the orchestrator for a new connection. The
// correlator is shared by every session of the server.
type SessionFactory func(sessionID string, correlator *requests.Correlator) *orchestration.Orchestrator

type Server struct {
	newSession     SessionFactory
	correlator     *requests.Correlator
	metricsHandler http.Handler
	targetLatency  time.Duration
	port           int
	services       map[string]string
	log            *slog.Logger
	upgrader       websocket.Upgrader
	maxMessageSize int64
	maxUtterance   int

	mu       sync.Mutex
	sessions map[string]*orchestration.Orchestrator
	closed   bool
}

type Option func(*Server)

// WithMetricsHandler serves handler on /metrics, usually the Prometheus
// exporter.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = handler
	}
}

func WithTargetLatency(target time.Duration) Option {
	return func(s *Server) {
		s.targetLatency = target
	}
}

// WithServices lists the configured providers reported by /status.
func WithServices(port int, services map[string]string) Option {
	return func(s *Server) {
		s.port = port
		s.services = services
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func WithCorrelator(correlator *requests.Correlator) Option {
	return func(s *Server) {
		if correlator != nil {
			s.correlator = correlator
		}
	}
}

func WithMaxMessageSize(size int64) Option {
	return func(s *Server) {
		s.maxMessageSize = size
	}
}

// WithMaxUtteranceSize bounds the audio buffered for one utterance. An
// utterance that grows past it is discarded.
func WithMaxUtteranceSize(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.maxUtterance = size
		}
	}
}

func NewServer(newSession SessionFactory, opts ...Option) *Server {
	s := &Server{
		newSession:     newSession,
		correlator:     requests.NewCorrelator(),
		targetLatency:  300 * time.Millisecond,
		log:            logger,
		maxMessageSize: 4 << 20,
		maxUtterance:   16 << 20,
		sessions:       map[string]*orchestration.Orchestrator{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWebsocket)
	mux.HandleFunc("GET /health", s.serveHealth)
	mux.HandleFunc("GET /status", s.serveStatus)
	mux.HandleFunc("GET /metrics/{sessionID}", s.serveSessionMetrics)
	mux.HandleFunc("GET /protocol/schema", s.serveSchema)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return otelhttp.NewHandler(mux, "ema-call",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/ws" }),
	)
}

func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Session(sessionID string) (*orchestration.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

// Shutdown cleans up every session and waits, bounded by ctx, for their
// in-flight replies to settle. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*orchestration.Orchestrator, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	s.log.Info("cleaning up sessions", slog.Int("count", len(sessions)))
	for _, session := range sessions {
		session.Cleanup()
	}

	var err error
	for _, session := range sessions {
		if waitErr := session.AwaitCompletion(ctx); waitErr != nil && err == nil {
			err = waitErr
		}
		s.removeSession(session.SessionID())
	}
	return err
}

func (s *Server) addSession(session *orchestration.Orchestrator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[session.SessionID()] = session
	activeSessions.Add(context.Background(), 1)
	return true
}

func (s *Server) removeSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	delete(s.sessions, sessionID)
	activeSessions.Add(context.Background(), -1)
}

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	TargetLatency  int64  `json:"targetLatency"`
	ActiveSessions int    `json:"activeSessions"`
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		TargetLatency:  s.targetLatency.Milliseconds(),
		ActiveSessions: s.ActiveSessions(),
	})
}

type statusResponse struct {
	Server         string            `json:"server"`
	Port           int               `json:"port"`
	Services       map[string]string `json:"services"`
	ActiveSessions int               `json:"activeSessions"`
	Timestamp      string            `json:"timestamp"`
}

func (s *Server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	services := s.services
	if services == nil {
		services = map[string]string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Server:         "online",
		Port:           s.port,
		Services:       services,
		ActiveSessions: s.ActiveSessions(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) serveSessionMetrics(w http.ResponseWriter, r *http.Request) {
	session, ok := s.Session(r.PathValue("sessionID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewSessionMetrics(session.SessionMetrics()))
}

func (s *Server) serveSchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.Schemas())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
