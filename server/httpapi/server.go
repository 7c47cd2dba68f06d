// Package httpapi exposes the captured mailboxes over a small REST API:
// mailbox listings, message listings, raw and plaintext message bodies,
// deletion, Prometheus metrics and a health probe.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frank-leitner/smtp4dev/helpers"
	"github.com/frank-leitner/smtp4dev/logger"
	"github.com/frank-leitner/smtp4dev/routing"
	"github.com/frank-leitner/smtp4dev/store"
)

// ConnectionStats reports live SMTP connection counters; implemented by
// the SMTP backend.
type ConnectionStats interface {
	GetTotalConnections() int64
	GetActiveConnections() int64
}

// Server represents the HTTP API server.
type Server struct {
	addr      string
	store     *store.Store
	mailboxes []routing.Mailbox
	stats     ConnectionStats
	server    *http.Server
}

// ServerOptions holds configuration options for the HTTP API server.
type ServerOptions struct {
	Addr      string
	Mailboxes []routing.Mailbox
	Stats     ConnectionStats
}

// New creates a new HTTP API server.
func New(st *store.Store, options ServerOptions) (*Server, error) {
	if options.Addr == "" {
		return nil, fmt.Errorf("HTTP API listen address is required")
	}
	return &Server{
		addr:      options.Addr,
		store:     st,
		mailboxes: options.Mailboxes,
		stats:     options.Stats,
	}, nil
}

// Start runs the HTTP API server until ctx is canceled, reporting fatal
// errors on errChan.
func Start(ctx context.Context, st *store.Store, options ServerOptions, errChan chan<- error) {
	server, err := New(st, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	logger.Info("HTTP API server listening", "addr", options.Addr)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the configured router; used by tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/mailboxes", s.handleListMailboxes).Methods("GET")
	v1.HandleFunc("/mailboxes/{name}/messages", s.handleListMessages).Methods("GET")
	v1.HandleFunc("/mailboxes/{name}/messages", s.handleClearMailbox).Methods("DELETE")

	v1.HandleFunc("/messages/{id}", s.handleGetMessage).Methods("GET")
	v1.HandleFunc("/messages/{id}", s.handleDeleteMessage).Methods("DELETE")
	v1.HandleFunc("/messages/{id}/raw", s.handleGetMessageRaw).Methods("GET")
	v1.HandleFunc("/messages/{id}/plaintext", s.handleGetMessagePlaintext).Methods("GET")

	v1.HandleFunc("/server/stats", s.handleServerStats).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("API request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode API response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mailboxSummary is one configured mailbox with its stored message count.
type mailboxSummary struct {
	Name          string                 `json:"name"`
	Recipients    string                 `json:"recipients"`
	HeaderFilters []routing.HeaderFilter `json:"headerFilters,omitempty"`
	SourceFilters []routing.SourceFilter `json:"sourceFilters,omitempty"`
	MessageCount  int64                  `json:"messageCount"`
}

func (s *Server) handleListMailboxes(w http.ResponseWriter, r *http.Request) {
	summaries := make([]mailboxSummary, 0, len(s.mailboxes))
	for _, m := range s.mailboxes {
		count, err := s.store.MessageCount(r.Context(), m.Name)
		if err != nil {
			logger.Error("Failed to count mailbox messages", "mailbox", m.Name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Error counting messages")
			return
		}
		summaries = append(summaries, mailboxSummary{
			Name:          m.Name,
			Recipients:    m.Recipients,
			HeaderFilters: m.HeaderFilters,
			SourceFilters: m.SourceFilters,
			MessageCount:  count,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"mailboxes": summaries})
}

// findMailbox resolves a configured mailbox by name. Mailbox names are
// matched case-sensitively; they come verbatim from the configuration.
func (s *Server) findMailbox(name string) *routing.Mailbox {
	for i := range s.mailboxes {
		if s.mailboxes[i].Name == name {
			return &s.mailboxes[i]
		}
	}
	return nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.findMailbox(name) == nil {
		s.writeError(w, http.StatusNotFound, "Mailbox not found")
		return
	}

	messages, err := s.store.ListMessages(r.Context(), name)
	if err != nil {
		logger.Error("Failed to list messages", "mailbox", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error listing messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mailbox":  name,
		"messages": messages,
	})
}

func (s *Server) handleClearMailbox(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.findMailbox(name) == nil {
		s.writeError(w, http.StatusNotFound, "Mailbox not found")
		return
	}

	deleted, err := s.store.DeleteMailboxMessages(r.Context(), name)
	if err != nil {
		logger.Error("Failed to clear mailbox", "mailbox", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error clearing mailbox")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mailbox": name,
		"deleted": deleted,
	})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := s.store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.Error("Failed to load message", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error loading message")
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleGetMessageRaw(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := s.store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.Error("Failed to load message", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error loading message")
		return
	}

	w.Header().Set("Content-Type", "message/rfc822")
	w.WriteHeader(http.StatusOK)
	w.Write(msg.Data)
}

func (s *Server) handleGetMessagePlaintext(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := s.store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.Error("Failed to load message", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error loading message")
		return
	}

	entity, err := helpers.ParseMessage(bytes.NewReader(msg.Data))
	if err != nil {
		logger.Error("Failed to parse message", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error parsing message")
		return
	}
	text, err := helpers.PlainTextBody(entity)
	if err != nil {
		logger.Error("Failed to extract text body", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error rendering message")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, text)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.store.DeleteMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		logger.Error("Failed to delete message", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Error deleting message")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleServerStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{"mailboxes": len(s.mailboxes)}
	if s.stats != nil {
		stats["totalConnections"] = s.stats.GetTotalConnections()
		stats["activeConnections"] = s.stats.GetActiveConnections()
	}
	s.writeJSON(w, http.StatusOK, stats)
}
