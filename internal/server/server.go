package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatpdf/internal/ratelimit"
	"chatpdf/internal/session"
	"chatpdf/internal/util"
	"chatpdf/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Controller               *session.Controller
	RedisAddr                string
	RedisPassword            string
	UploadRateLimitPerMinute int
	ChatRateLimitPerMinute   int
	MaxUploadBytes           int64
	TrustedProxies           *util.TrustedProxies
}

// Server exposes the chat-with-your-PDF session over HTTP.
type Server struct {
	controller     *session.Controller
	mux            *http.ServeMux
	maxUploadBytes int64
	trustedProxies *util.TrustedProxies
	uploadLimiter  *ratelimit.FixedWindowLimiter
	chatLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	uploadLimit := cfg.UploadRateLimitPerMinute
	if uploadLimit <= 0 {
		uploadLimit = 5
	}
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 20
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "chatpdf:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	uploadLimiter, err := newLimiter("upload", uploadLimit)
	if err != nil {
		return nil, err
	}
	chatLimiter, err := newLimiter("chat", chatLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		controller:     cfg.Controller,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		trustedProxies: cfg.TrustedProxies,
		uploadLimiter:  uploadLimiter,
		chatLimiter:    chatLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("chatpdf", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/documents", s.handleDocuments)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/reset", s.handleReset)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDocuments accepts a multipart upload, runs the validation gate and
// drives the ingestion to completion before answering.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.uploadLimiter, "too many upload attempts") {
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	uploader := s.controller.Uploader()
	if err := uploader.Select(header.Filename, header.Header.Get("Content-Type"), data); err != nil {
		writeUploadError(w, err)
		return
	}
	if state := uploader.State(); state.Phase == domain.PhaseFailed {
		// The validation gate rejected the file without any network call.
		writeJSON(w, http.StatusUnprocessableEntity, state)
		return
	}
	if err := uploader.Upload(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoSelection) {
			writeUploadError(w, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, uploader.State())
		return
	}
	writeJSON(w, http.StatusCreated, uploader.State())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.chatLimiter, "too many chat requests") {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, ok := s.controller.Conversation()
	if !ok {
		writeError(w, http.StatusConflict, "no active document")
		return
	}
	reply, err := conv.Send(req.Query)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, History: conv.History()})
}

// handleSession returns a full snapshot of the session so a client can render
// the current screen after a reconnect.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snapshot := sessionSnapshot{Upload: s.controller.Uploader().State()}
	if conv, ok := s.controller.Conversation(); ok {
		doc := conv.Document()
		snapshot.Document = &doc
		snapshot.Summary = conv.Summary()
		snapshot.History = conv.History()
		snapshot.Outstanding = conv.Outstanding()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.controller.Back(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type chatRequest struct {
	Query string `json:"query"`
}

type chatResponse struct {
	Reply   domain.Message   `json:"reply"`
	History []domain.Message `json:"history"`
}

type sessionSnapshot struct {
	Upload      session.UploadState `json:"upload"`
	Document    *domain.Document    `json:"document,omitempty"`
	Summary     string              `json:"summary,omitempty"`
	History     []domain.Message    `json:"history"`
	Outstanding bool                `json:"outstanding"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUploadInFlight):
		writeError(w, http.StatusConflict, "an upload is already in progress")
	case errors.Is(err, session.ErrUploadComplete):
		writeError(w, http.StatusConflict, "a document is already active; reset the session first")
	case errors.Is(err, session.ErrNoSelection):
		writeError(w, http.StatusBadRequest, "no file selected")
	default:
		writeError(w, http.StatusBadGateway, "document service unavailable")
	}
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "query is required")
	case errors.Is(err, session.ErrQueryInFlight):
		writeError(w, http.StatusConflict, "a question is already in flight")
	default:
		writeError(w, http.StatusBadGateway, "chat unavailable")
	}
}
