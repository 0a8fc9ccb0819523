// Package server exposes registered entity types over a JSON HTTP API.
//
// Routes:
//
//	GET    /entities/{type}        list a page of entities
//	POST   /entities/{type}        create an entity
//	GET    /entities/{type}/{id}   read one entity
//	PATCH  /entities/{type}/{id}   update an entity
//	DELETE /entities/{type}/{id}   delete an entity
//	GET    /health                 liveness probe
//
// Query parameters map onto read options: view, fields (comma-separated
// dot paths), limit, offset, sort, order, meta, resolve. Any other
// parameter filters the primary query by that field; "q" runs a full-text
// match through the entity's search binding when one is declared.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/orneryd/fusedb/pkg/entity"
)

// ErrServerClosed is returned by Start after Stop has been called.
var ErrServerClosed = errors.New("server: closed")

const maxRequestSize = 4 << 20 // 4 MiB

// Config holds the server's listen and timeout settings.
type Config struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the entity API for a set of registered types.
type Server struct {
	config Config
	types  map[string]*entity.Type
	logger entity.Logger

	listener   net.Listener
	httpServer *http.Server
	started    time.Time
	closed     atomic.Bool
	errorCount atomic.Int64
}

// New creates a server for the given entity types, keyed by the type name
// used in the URL path.
func New(types map[string]*entity.Type, config Config, logger entity.Logger) *Server {
	if logger == nil {
		logger = entity.NewLogger()
	}
	return &Server{
		config: config,
		types:  types,
		logger: logger,
	}
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Log("ERROR", "http server error", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /entities/{type}", s.handleList)
	mux.HandleFunc("POST /entities/{type}", s.handleCreate)
	mux.HandleFunc("GET /entities/{type}/{id}", s.handleRead)
	mux.HandleFunc("PATCH /entities/{type}/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /entities/{type}/{id}", s.handleDelete)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

// JSON helpers

func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxRequestSize)
	return json.NewDecoder(body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// writeEntityError maps domain errors to HTTP responses. Validation
// failures carry their per-field detail; source failures expose only the
// user-safe message.
func (s *Server) writeEntityError(w http.ResponseWriter, err error) {
	var ve *entity.ValidationError
	if errors.As(err, &ve) {
		s.errorCount.Add(1)
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   true,
			"message": ve.Error(),
			"code":    http.StatusBadRequest,
			"fields":  ve.Fields,
		})
		return
	}
	if entity.IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if entity.IsDuplicate(err) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
