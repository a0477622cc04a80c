package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/internal/dispatch"
	"github.com/voxrelay/voxrelay/internal/export"
	"github.com/voxrelay/voxrelay/internal/provider"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/internal/session"
	"github.com/voxrelay/voxrelay/internal/store"
)

const recordingsPrefix = "/static/recordings"

type Config struct {
	Host            string
	Port            int
	RecordingsDir   string
	ProviderTimeout time.Duration
	AuthReady       bool
	AuthInfo        map[string]any
}

// Server is the transport shell around the session engine: WebSocket upgrade,
// the thin collaborator-facing APIs, and static serving of recordings.
type Server struct {
	config   Config
	registry *registry.Registry
	store    *store.Store
	exports  *export.Manager
	handler  *session.Handler

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
	shutdown   chan struct{}
}

func New(config Config, reg *registry.Registry, providers map[string]provider.Transcriber) (*Server, error) {
	if config.RecordingsDir == "" {
		return nil, fmt.Errorf("recordings directory is required")
	}
	if err := os.MkdirAll(config.RecordingsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	st := store.New()
	engine := dispatch.New(providers, st, config.ProviderTimeout)
	handler := session.NewHandler(session.Config{
		RecordingsDir: config.RecordingsDir,
		PublicPrefix:  recordingsPrefix,
		AuthReady:     config.AuthReady,
		AuthInfo:      config.AuthInfo,
	}, st, reg, engine)

	s := &Server{
		config:   config,
		registry: reg,
		store:    st,
		exports:  export.NewManager(config.RecordingsDir, recordingsPrefix),
		handler:  handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		shutdown: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/services", s.handleListServices)
	mux.HandleFunc("POST /api/services/{key}", s.handleToggleService)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionRecord)
	mux.HandleFunc("POST /api/sessions/{id}/export", s.handleStartExport)
	mux.HandleFunc("GET /api/exports/{jobID}", s.handlePollExport)
	mux.Handle(recordingsPrefix+"/", http.StripPrefix(recordingsPrefix+"/",
		http.FileServer(http.Dir(config.RecordingsDir))))

	s.httpServer = &http.Server{Handler: mux}
	return s, nil
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	log.Printf("voxrelay listening on %s", addr)
	if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts down the HTTP server and waits for open sessions to finish
// their cleanup.
func (s *Server) Stop() {
	close(s.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	s.wg.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade failed: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer conn.Close()
		s.handler.Handle(conn)
	}()
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleToggleService(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	services, ok := s.registry.SetEnabled(r.PathValue("key"), body.Enabled)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown service"})
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleSessionRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Session(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.exports.StartExport(r.PathValue("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, export.ErrNoSegments) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handlePollExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.exports.Poll(r.PathValue("jobID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
