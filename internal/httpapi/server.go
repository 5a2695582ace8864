package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ageentiq/watrack/internal/watrack"
)

const writeTimeout = 10 * time.Second

type ServerConfig struct {
	APIKey       string
	MaxBodyBytes int64
}

type Server struct {
	runner  *watrack.Runner
	store   watrack.StatusStore
	cfg     ServerConfig
	hub     *streamHub
	metrics http.Handler
}

func NewServer(runner *watrack.Runner, store watrack.StatusStore, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		runner:  runner,
		store:   store,
		cfg:     cfg,
		hub:     newStreamHub(),
		metrics: promhttp.Handler(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		s.metrics.ServeHTTP(w, r)
		return
	}

	correlationID := getCorrelationID(r)
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid api key", correlationID)
		return
	}

	if r.URL.Path == "/v1/stream" && r.Method == http.MethodGet {
		s.handleStream(w, r)
		return
	}
	if r.URL.Path == "/v1/track" && r.Method == http.MethodGet {
		s.handleTrack(w, r, correlationID)
		return
	}
	if r.URL.Path == "/v1/scan" && r.Method == http.MethodPost {
		s.handleScan(w, r, correlationID)
		return
	}
	if r.URL.Path == "/v1/messages" && r.Method == http.MethodGet {
		s.handleListMessages(w, r, correlationID)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "messages" && parts[2] != "" && r.Method == http.MethodGet {
		s.handleGetMessage(w, r, parts[2], correlationID)
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	return r.Header.Get("X-API-KEY") == s.cfg.APIKey
}

// handleTrack runs a targeted scan for one message. waId and messageId are
// required; limit and since are optional.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request, correlationID string) {
	query := r.URL.Query()
	waID := strings.TrimSpace(query.Get("waId"))
	messageID := strings.TrimSpace(query.Get("messageId"))
	if waID == "" || messageID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "waId and messageId are required", correlationID)
		return
	}
	limit, ok := intQueryParam(w, query.Get("limit"), correlationID)
	if !ok {
		return
	}
	since, ok := int64QueryParam(w, query.Get("since"), correlationID)
	if !ok {
		return
	}

	scanner := s.runner.Scanner()
	if scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "scanner not configured", correlationID)
		return
	}
	result, err := scanner.TrackMessage(r.Context(), waID, messageID, watrack.TrackOptions{Limit: limit, Since: since})
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleScan triggers one bulk scan-and-persist cycle outside the periodic
// schedule.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request, correlationID string) {
	result, stats, err := s.runner.ScanOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflowId":    result.WorkflowID,
		"totalMessages": result.TotalMessages,
		"upserts":       stats,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no status store configured", correlationID)
		return
	}
	query := r.URL.Query()
	limit, ok := intQueryParam(w, query.Get("limit"), correlationID)
	if !ok {
		return
	}
	docs, err := s.store.ListByRecipient(r.Context(), strings.TrimSpace(query.Get("waId")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": docs, "count": len(docs)})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request, messageID, correlationID string) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "no status store configured", correlationID)
		return
	}
	doc, err := s.store.GetMessage(r.Context(), messageID)
	if errors.Is(err, watrack.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "message not found", correlationID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func intQueryParam(w http.ResponseWriter, raw, correlationID string) (int, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid numeric query parameter", correlationID)
		return 0, false
	}
	return parsed, true
}

func int64QueryParam(w http.ResponseWriter, raw, correlationID string) (int64, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid numeric query parameter", correlationID)
		return 0, false
	}
	return parsed, true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
