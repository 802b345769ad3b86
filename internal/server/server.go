package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/audiolibrelab/spotcapture/internal/coordinator"
	"github.com/audiolibrelab/spotcapture/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// StatusSource provides the recorder state
type StatusSource interface {
	Snapshot() coordinator.Snapshot
}

// HistorySource lists finalized captures
type HistorySource interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server exposes a read-only JSON view of a running recorder
type Server struct {
	addr      string
	sessionID string
	outputDir string
	started   time.Time
	status    StatusSource
	history   HistorySource

	httpServer *http.Server
	listener   net.Listener
}

// Options configures a Server. History may be nil when history is disabled.
type Options struct {
	Address   string
	SessionID string
	OutputDir string
	Status    StatusSource
	History   HistorySource
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	SessionID string    `json:"session_id"`
	OutputDir string    `json:"output_dir"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	coordinator.Snapshot
}

// HistoryResponse represents the JSON response for the history endpoint
type HistoryResponse struct {
	Entries    []history.Entry `json:"entries"`
	TotalCount int             `json:"total_count"`
}

// New creates a status server
func New(opts Options) *Server {
	s := &Server{
		addr:      opts.Address,
		sessionID: opts.SessionID,
		outputDir: opts.OutputDir,
		started:   time.Now(),
		status:    opts.Status,
		history:   opts.History,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	return mux
}

// Listen binds the configured address. Addr is valid afterwards.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve handles requests until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	slog.Info("Starting status server", "address", s.Addr(), "url", fmt.Sprintf("http://%s/status", s.Addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Status server shutdown failed", "error", err)
		}
		slog.Debug("Status server stopped")
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path, "method", r.Method)
		return
	}

	response := StatusResponse{
		SessionID: s.sessionID,
		OutputDir: s.outputDir,
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Snapshot:  s.status.Snapshot(),
	}

	s.sendJSON(w, response)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path, "method", r.Method)
		return
	}
	if s.history == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "History is disabled", "operation", "history")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), "limit", raw)
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to read history", "error", err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	s.sendJSON(w, HistoryResponse{Entries: entries, TotalCount: len(entries)})
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	slog.Warn("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errorMsg,
	})
}
