package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bennah995/quoterelay/internal/quote"
	"github.com/bennah995/quoterelay/internal/quotestore"
)

// ServerConfig carries the knobs the daemon wires in from the environment.
// Zero values fall back to development defaults so tests stay terse.
type ServerConfig struct {
	JWTSecret          string
	InternalHMACSecret string
	InternalMaxSkew    time.Duration
	RateLimitMax       int
	RateLimitWindow    time.Duration
	MaxBodyBytes       int64
}

type Server struct {
	store  *quotestore.Store
	config ServerConfig
	logger *log.Logger

	limiter *rateLimiter

	rngMu sync.Mutex
	rng   *rand.Rand

	internalMu   sync.Mutex
	seenInternal map[string]time.Time
}

func NewServer(store *quotestore.Store, config ServerConfig, logger *log.Logger) *Server {
	if config.JWTSecret == "" {
		config.JWTSecret = "dev-secret"
	}
	if config.InternalHMACSecret == "" {
		config.InternalHMACSecret = "dev-internal-secret"
	}
	if config.InternalMaxSkew <= 0 {
		config.InternalMaxSkew = 5 * time.Minute
	}
	if config.RateLimitMax <= 0 {
		config.RateLimitMax = 120
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = time.Minute
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:        store,
		config:       config,
		logger:       logger,
		limiter:      newRateLimiter(config.RateLimitMax, config.RateLimitWindow),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		seenInternal: map[string]time.Time{},
	}
}

func (s *Server) randInt(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")

	if path == "" || path == "dashboard" {
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", "")
			return
		}
		s.handleDashboard(w, r)
		return
	}
	if path == "healthz" {
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", "")
			return
		}
		writeJSON(w, 200, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(path, "/")
	if parts[0] != "v1" {
		writeError(w, 404, "not_found", "unknown route", "")
		return
	}

	if len(parts) >= 2 && parts[1] == "internal" {
		s.routeInternal(w, r, parts)
		return
	}
	if len(parts) >= 2 && parts[1] == "admin" {
		s.routeAdmin(w, r, parts)
		return
	}
	if len(parts) >= 3 && parts[1] == "workspaces" {
		s.routeWorkspace(w, r, parts)
		return
	}
	writeError(w, 404, "not_found", "unknown route", "")
}

func (s *Server) routeWorkspace(w http.ResponseWriter, r *http.Request, parts []string) {
	workspaceID := parts[2]
	if workspaceID == "" {
		writeError(w, 404, "not_found", "unknown route", "")
		return
	}
	rest := parts[3:]

	// The websocket route skips the correlation-ID requirement since
	// browsers cannot attach custom headers to an Upgrade request.
	if len(rest) == 2 && rest[0] == "quotes" && rest[1] == "watch" {
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", "")
			return
		}
		s.handleQuotesWatch(w, r, workspaceID)
		return
	}

	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, 400, "invalid_request", "X-Correlation-Id header is required", "")
		return
	}

	switch {
	case len(rest) == 1 && rest[0] == "quotes":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleListQuotes(w, r, workspaceID, correlationID)
	case len(rest) == 2 && rest[0] == "quotes" && rest[1] == "random":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleRandomQuote(w, r, workspaceID, correlationID)
	case len(rest) == 2 && rest[0] == "quotes":
		quoteID, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil || quoteID <= 0 {
			writeError(w, 400, "invalid_request", "quote id must be a positive integer", correlationID)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleGetQuote(w, r, workspaceID, quoteID, correlationID)
		case http.MethodPut:
			s.handlePutQuote(w, r, workspaceID, quoteID, correlationID)
		case http.MethodDelete:
			s.handleDeleteQuote(w, r, workspaceID, quoteID, correlationID)
		default:
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
		}
	case len(rest) == 1 && rest[0] == "categories":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleCategories(w, r, workspaceID, correlationID)
	case len(rest) == 1 && rest[0] == "events":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleEvents(w, r, workspaceID, correlationID)
	case len(rest) == 1 && rest[0] == "export":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleExport(w, r, workspaceID, correlationID)
	case len(rest) == 1 && rest[0] == "import":
		if r.Method != http.MethodPost {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleImport(w, r, workspaceID, correlationID)
	case len(rest) == 2 && rest[0] == "sync" && rest[1] == "status":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleSyncStatus(w, r, workspaceID, correlationID)
	case len(rest) >= 2 && rest[0] == "sync" && rest[1] == "dead-letter":
		s.routeDeadLetter(w, r, workspaceID, rest[2:], correlationID)
	case len(rest) == 1 && rest[0] == "ops":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleListOperations(w, r, workspaceID, correlationID)
	case len(rest) == 2 && rest[0] == "ops":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleGetOperation(w, r, workspaceID, rest[1], correlationID)
	case len(rest) == 3 && rest[0] == "ops" && rest[2] == "replay":
		if r.Method != http.MethodPost {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleReplayOperation(w, r, workspaceID, rest[1], correlationID)
	default:
		writeError(w, 404, "not_found", "unknown route", correlationID)
	}
}

func (s *Server) routeDeadLetter(w http.ResponseWriter, r *http.Request, workspaceID string, rest []string, correlationID string) {
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleListDeadLetters(w, r, workspaceID, correlationID)
	case len(rest) == 1:
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleGetDeadLetter(w, r, workspaceID, rest[0], correlationID)
	case len(rest) == 2 && rest[1] == "ack":
		if r.Method != http.MethodPost {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleAckDeadLetter(w, r, workspaceID, rest[0], correlationID)
	case len(rest) == 2 && rest[1] == "replay":
		if r.Method != http.MethodPost {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleReplayDeadLetter(w, r, workspaceID, rest[0], correlationID)
	default:
		writeError(w, 404, "not_found", "unknown route", correlationID)
	}
}

func (s *Server) routeAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, 400, "invalid_request", "X-Correlation-Id header is required", "")
		return
	}
	rest := parts[2:]
	switch {
	case len(rest) == 1 && rest[0] == "backends":
		if r.Method != http.MethodGet {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleAdminBackends(w, r, correlationID)
	case len(rest) == 3 && rest[0] == "replay":
		if r.Method != http.MethodPost {
			writeError(w, 405, "method_not_allowed", "method not allowed", correlationID)
			return
		}
		s.handleAdminReplay(w, r, rest[1], rest[2], correlationID)
	default:
		writeError(w, 404, "not_found", "unknown route", correlationID)
	}
}

func (s *Server) routeInternal(w http.ResponseWriter, r *http.Request, parts []string) {
	rest := parts[2:]
	if len(rest) == 1 && rest[0] == "imports" {
		if r.Method != http.MethodPost {
			writeError(w, 405, "method_not_allowed", "method not allowed", "")
			return
		}
		s.handleInternalImport(w, r)
		return
	}
	writeError(w, 404, "not_found", "unknown route", "")
}

// authorize validates the bearer token, checks workspace and scope, and
// applies the per-agent rate limit. A nil return means the response has
// already been written.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, workspaceID, scope, correlationID string) *accessClaims {
	claims, authErr := checkAccess(r.Header.Get("Authorization"), s.config.JWTSecret, workspaceID, scope, time.Now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return nil
	}
	limiterKey := claims.Workspace + "|" + claims.Agent
	if !s.limiter.allow(limiterKey, time.Now()) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.config.RateLimitWindow/time.Second)))
		writeError(w, 429, "rate_limited", "too many requests", correlationID)
		return nil
	}
	return &claims
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:read", correlationID) == nil {
		return
	}
	limit, err := parseOptionalBoundedInt(r.URL.Query().Get("limit"), 1, 500)
	if err != nil {
		writeError(w, 400, "invalid_request", "limit must be an integer between 1 and 500", correlationID)
		return
	}
	list, err := s.store.ListQuotes(workspaceID, r.URL.Query().Get("category"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, list)
}

func (s *Server) handleRandomQuote(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:read", correlationID) == nil {
		return
	}
	picked, err := s.store.RandomQuote(workspaceID, r.URL.Query().Get("category"), s.randInt)
	if errors.Is(err, quotestore.ErrNotFound) {
		writeError(w, 404, "not_found", "no quotes available", correlationID)
		return
	}
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, picked)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request, workspaceID string, quoteID int64, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:read", correlationID) == nil {
		return
	}
	stored, err := s.store.GetQuote(workspaceID, quoteID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.Header().Set("ETag", `"`+stored.Revision+`"`)
	writeJSON(w, 200, stored)
}

func (s *Server) handlePutQuote(w http.ResponseWriter, r *http.Request, workspaceID string, quoteID int64, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:write", correlationID) == nil {
		return
	}
	body, ok := readRequestBody(w, r, s.config.MaxBodyBytes, correlationID)
	if !ok {
		return
	}
	var payload struct {
		Text     string `json:"text"`
		Category string `json:"category"`
	}
	if !decodeJSONBody(w, body, &payload, correlationID) {
		return
	}
	result, err := s.store.PutQuote(quotestore.WriteRequest{
		WorkspaceID: workspaceID,
		Quote: quote.Quote{
			ID:       quoteID,
			Text:     payload.Text,
			Category: payload.Category,
		},
		IfMatch:       normalizeIfMatchHeader(r.Header.Get("If-Match")),
		CorrelationID: correlationID,
	})
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	w.Header().Set("ETag", `"`+result.TargetRevision+`"`)
	writeJSON(w, 200, result)
}

func (s *Server) handleDeleteQuote(w http.ResponseWriter, r *http.Request, workspaceID string, quoteID int64, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:write", correlationID) == nil {
		return
	}
	result, err := s.store.DeleteQuote(quotestore.DeleteRequest{
		WorkspaceID:   workspaceID,
		QuoteID:       quoteID,
		IfMatch:       normalizeIfMatchHeader(r.Header.Get("If-Match")),
		CorrelationID: correlationID,
	})
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, result)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:read", correlationID) == nil {
		return
	}
	quotes, err := s.store.ExportQuotes(workspaceID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, map[string]any{"categories": quote.Categories(quotes)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:read", correlationID) == nil {
		return
	}
	limit, err := parseOptionalBoundedInt(r.URL.Query().Get("limit"), 1, 500)
	if err != nil {
		writeError(w, 400, "invalid_request", "limit must be an integer between 1 and 500", correlationID)
		return
	}
	feed, err := s.store.GetEvents(workspaceID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, feed)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:read", correlationID) == nil {
		return
	}
	quotes, err := s.store.ExportQuotes(workspaceID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	doc, err := quote.Document(quotes)
	if err != nil {
		writeError(w, 500, "internal_error", "failed to encode export", correlationID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	_, _ = w.Write(doc)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "quotes:write", correlationID) == nil {
		return
	}
	body, ok := readRequestBody(w, r, s.config.MaxBodyBytes, correlationID)
	if !ok {
		return
	}
	var payload struct {
		ImportID string          `json:"importId"`
		Source   string          `json:"source"`
		Document json.RawMessage `json:"document"`
	}
	if !decodeJSONBody(w, body, &payload, correlationID) {
		return
	}
	if payload.ImportID == "" {
		payload.ImportID = fmt.Sprintf("imp_%d", time.Now().UnixNano())
	}
	if len(payload.Document) == 0 {
		// A bare quote document posted without the envelope wrapper.
		payload.Document = body
	}
	s.acceptImport(w, quotestore.ImportRequest{
		ImportID:      payload.ImportID,
		WorkspaceID:   workspaceID,
		Source:        payload.Source,
		ReceivedAt:    time.Now().UTC().Format(time.RFC3339),
		Document:      payload.Document,
		CorrelationID: correlationID,
	}, correlationID)
}

func (s *Server) acceptImport(w http.ResponseWriter, req quotestore.ImportRequest, correlationID string) {
	queued, err := s.store.IngestImport(req)
	if errors.Is(err, quotestore.ErrQueueFull) {
		w.Header().Set("Retry-After", "1")
		writeError(w, 429, "queue_full", "import queue is full, retry later", correlationID)
		return
	}
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 202, queued)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "sync:read", correlationID) == nil {
		return
	}
	status, err := s.store.GetSyncStatus(workspaceID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, status)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "sync:read", correlationID) == nil {
		return
	}
	limit, err := parseOptionalBoundedInt(r.URL.Query().Get("limit"), 1, 500)
	if err != nil {
		writeError(w, 400, "invalid_request", "limit must be an integer between 1 and 500", correlationID)
		return
	}
	feed, err := s.store.ListDeadLetters(workspaceID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, feed)
}

func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request, workspaceID, importID, correlationID string) {
	if s.authorize(w, r, workspaceID, "sync:read", correlationID) == nil {
		return
	}
	item, err := s.store.GetDeadLetter(workspaceID, importID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, item)
}

func (s *Server) handleAckDeadLetter(w http.ResponseWriter, r *http.Request, workspaceID, importID, correlationID string) {
	if s.authorize(w, r, workspaceID, "sync:trigger", correlationID) == nil {
		return
	}
	ack, err := s.store.AcknowledgeDeadLetter(workspaceID, importID, correlationID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, ack)
}

func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request, workspaceID, importID, correlationID string) {
	if s.authorize(w, r, workspaceID, "sync:trigger", correlationID) == nil {
		return
	}
	queued, err := s.store.ReplayImport(workspaceID, importID, correlationID)
	if errors.Is(err, quotestore.ErrQueueFull) {
		w.Header().Set("Retry-After", "1")
		writeError(w, 429, "queue_full", "import queue is full, retry later", correlationID)
		return
	}
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 202, queued)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request, workspaceID, correlationID string) {
	if s.authorize(w, r, workspaceID, "ops:read", correlationID) == nil {
		return
	}
	limit, err := parseOptionalBoundedInt(r.URL.Query().Get("limit"), 1, 500)
	if err != nil {
		writeError(w, 400, "invalid_request", "limit must be an integer between 1 and 500", correlationID)
		return
	}
	query := r.URL.Query()
	feed, err := s.store.ListOperations(workspaceID, query.Get("status"), query.Get("action"), query.Get("cursor"), limit)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, feed)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request, workspaceID, opID, correlationID string) {
	if s.authorize(w, r, workspaceID, "ops:read", correlationID) == nil {
		return
	}
	op, err := s.store.GetOperation(workspaceID, opID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 200, op)
}

func (s *Server) handleReplayOperation(w http.ResponseWriter, r *http.Request, workspaceID, opID, correlationID string) {
	if s.authorize(w, r, workspaceID, "ops:replay", correlationID) == nil {
		return
	}
	queued, err := s.store.ReplayOperation(workspaceID, opID, correlationID)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 202, queued)
}

func (s *Server) handleAdminBackends(w http.ResponseWriter, r *http.Request, correlationID string) {
	claims, authErr := checkAccess(r.Header.Get("Authorization"), s.config.JWTSecret, "", "", time.Now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !hasAnyScope(claims.Scopes, "admin:read", "admin:replay") {
		writeError(w, 403, "forbidden", "scope admin:read required", correlationID)
		return
	}
	writeJSON(w, 200, s.store.GetBackendStatus())
}

func (s *Server) handleAdminReplay(w http.ResponseWriter, r *http.Request, kind, id, correlationID string) {
	claims, authErr := checkAccess(r.Header.Get("Authorization"), s.config.JWTSecret, "", "", time.Now())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !hasAnyScope(claims.Scopes, "admin:replay") {
		writeError(w, 403, "forbidden", "scope admin:replay required", correlationID)
		return
	}
	var queued quotestore.QueuedResponse
	var err error
	switch kind {
	case "imports":
		queued, err = s.store.ReplayImport("", id, correlationID)
	case "ops":
		queued, err = s.store.ReplayOperationAny(id, correlationID)
	default:
		writeError(w, 404, "not_found", "unknown replay kind", correlationID)
		return
	}
	if errors.Is(err, quotestore.ErrQueueFull) {
		w.Header().Set("Retry-After", "1")
		writeError(w, 429, "queue_full", "queue is full, retry later", correlationID)
		return
	}
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, 202, queued)
}

// handleInternalImport is the trusted intake for pipeline deliveries. It
// is authenticated with a shared-secret HMAC over timestamp and body
// instead of a bearer token, with a replay window on the signature.
func (s *Server) handleInternalImport(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r, s.config.MaxBodyBytes, "")
	if !ok {
		return
	}
	timestamp := r.Header.Get("X-Quoterelay-Timestamp")
	signature := r.Header.Get("X-Quoterelay-Signature")
	if authErr := checkInternalSignature(s.config.InternalHMACSecret, timestamp, signature, body, time.Now(), s.config.InternalMaxSkew); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, "")
		return
	}
	if !s.markInternalReplaySeen(signature, time.Now()) {
		writeError(w, 409, "duplicate_delivery", "signature already seen within replay window", "")
		return
	}

	var payload struct {
		ImportID      string          `json:"importId"`
		WorkspaceID   string          `json:"workspaceId"`
		Source        string          `json:"source"`
		Document      json.RawMessage `json:"document"`
		CorrelationID string          `json:"correlationId"`
	}
	if !decodeJSONBody(w, body, &payload, "") {
		return
	}
	if payload.WorkspaceID == "" || payload.ImportID == "" {
		writeError(w, 400, "invalid_request", "workspaceId and importId are required", payload.CorrelationID)
		return
	}
	if payload.CorrelationID == "" {
		payload.CorrelationID = fmt.Sprintf("internal_%d", time.Now().UnixNano())
	}
	s.acceptImport(w, quotestore.ImportRequest{
		ImportID:      payload.ImportID,
		WorkspaceID:   payload.WorkspaceID,
		Source:        payload.Source,
		ReceivedAt:    time.Now().UTC().Format(time.RFC3339),
		Document:      payload.Document,
		CorrelationID: payload.CorrelationID,
	}, payload.CorrelationID)
}

// markInternalReplaySeen records the signature and reports whether it was
// new. Old entries are pruned as they age past the skew window.
func (s *Server) markInternalReplaySeen(signature string, now time.Time) bool {
	s.internalMu.Lock()
	defer s.internalMu.Unlock()
	for sig, seenAt := range s.seenInternal {
		if now.Sub(seenAt) > s.config.InternalMaxSkew {
			delete(s.seenInternal, sig)
		}
	}
	if _, ok := s.seenInternal[signature]; ok {
		return false
	}
	s.seenInternal[signature] = now
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	var conflict *quotestore.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, 409, map[string]any{
			"code":             "revision_conflict",
			"message":          "revision conflict",
			"expectedRevision": conflict.ExpectedRevision,
			"currentRevision":  conflict.CurrentRevision,
			"correlationId":    correlationID,
		})
	case errors.Is(err, quotestore.ErrNotFound):
		writeError(w, 404, "not_found", "resource not found", correlationID)
	case errors.Is(err, quotestore.ErrMissingPrecondition):
		writeError(w, 428, "missing_precondition", "If-Match header is required", correlationID)
	case errors.Is(err, quotestore.ErrInvalidInput), errors.Is(err, quote.ErrInvalidQuote):
		writeError(w, 400, "invalid_request", err.Error(), correlationID)
	case errors.Is(err, quotestore.ErrInvalidState):
		writeError(w, 409, "invalid_state", "operation is not in a replayable state", correlationID)
	case errors.Is(err, quotestore.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, 429, "queue_full", "queue is full, retry later", correlationID)
	default:
		s.logger.Printf("httpapi: internal error: %v", err)
		writeError(w, 500, "internal_error", "internal error", correlationID)
	}
}

// rateLimiter is a fixed-window counter keyed by workspace and agent.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[string]*rateBucket
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:     max,
		window:  window,
		buckets: map[string]*rateBucket{},
	}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[key]
	if !ok || now.Sub(bucket.windowStart) >= l.window {
		l.buckets[key] = &rateBucket{windowStart: now, count: 1}
		return true
	}
	if bucket.count >= l.max {
		return false
	}
	bucket.count++
	return true
}

func getCorrelationID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
}

func readRequestBody(w http.ResponseWriter, r *http.Request, maxBytes int64, correlationID string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		writeError(w, 413, "payload_too_large", "request body too large", correlationID)
		return nil, false
	}
	return body, true
}

func decodeJSONBody(w http.ResponseWriter, body []byte, dst any, correlationID string) bool {
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, 400, "invalid_request", "request body is not valid JSON", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if correlationID != "" {
		body["correlationId"] = correlationID
	}
	writeJSON(w, status, body)
}

// normalizeIfMatchHeader strips the weak validator prefix and quotes so
// revisions compare against the stored value directly.
func normalizeIfMatchHeader(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "W/")
	return strings.Trim(value, `"`)
}

func parseOptionalBoundedInt(raw string, min, max int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", n, min, max)
	}
	return n, nil
}

func hasAnyScope(scopes map[string]struct{}, wanted ...string) bool {
	for _, scope := range wanted {
		if _, ok := scopes[scope]; ok {
			return true
		}
	}
	return false
}
