package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatledger/internal/constants"
	"chatledger/internal/metrics"
	"chatledger/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the read-only operational endpoint. It exposes health, the
// metrics snapshot and unread state over an existing store; no message
// events ever enter over HTTP.
type Server struct {
	router *mux.Router
	logger *logrus.Logger
	ledger *service.Ledger
	server *http.Server
	port   int
}

func NewServer(ledger *service.Ledger, port int, logger *logrus.Logger) *Server {
	if port == 0 {
		port = constants.DefaultInspectPort
	}
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		ledger: ledger,
		port:   port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	threads := s.router.PathPrefix("/threads").Subrouter()
	threads.HandleFunc("", s.handleThreads()).Methods(http.MethodGet)
	threads.HandleFunc("/{key}", s.handleThread()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.WithField("port", s.port).Info("Inspect endpoint listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}

func (s *Server) handleThreads() http.HandlerFunc {
	type response struct {
		Global  int            `json:"global"`
		Threads map[string]int `json:"threads"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, response{
			Global:  s.ledger.GlobalUnreadCount(),
			Threads: s.ledger.UnreadSnapshot(),
		})
	}
}

func (s *Server) handleThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]
		summary, err := s.ledger.ThreadSummary(r.Context(), key)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}
