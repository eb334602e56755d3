package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"notecrm/api/internal/auth"
	"notecrm/api/internal/store"
	"notecrm/api/internal/util"
)

type HTTPConfig struct {
	CORSOrigin string
	// Events serves GET /api/events, the push channel upgrade.
	Events http.Handler
	// Connections reports open push channels for /api/ready.
	Connections func() int
	Logger      zerolog.Logger
}

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	events      http.Handler
	connections func() int
	logger      zerolog.Logger
}

func NewHTTPServer(service *Service, cfg HTTPConfig) *HTTPServer {
	return &HTTPServer{
		service:     service,
		corsOrigin:  cfg.CORSOrigin,
		events:      cfg.Events,
		connections: cfg.Connections,
		logger:      cfg.Logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/events" {
		if s.events == nil {
			writeError(w, http.StatusServiceUnavailable, "PUSH_UNAVAILABLE", "Push channel not configured", nil)
			return
		}
		s.events.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			s.logger.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case parts[1] == "notes" && len(parts) == 2:
		s.handleNotes(w, r, session)
	case parts[1] == "notes" && len(parts) == 3 && r.Method == http.MethodGet:
		note, err := s.service.GetNote(r.Context(), session, parts[2])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"note": noteView(note)})
	case parts[1] == "search" && len(parts) == 2 && r.Method == http.MethodGet:
		query := r.URL.Query()
		resp, err := s.service.SearchNotes(r.Context(), session, query.Get("q"), queryInt(query.Get("limit")), queryInt(query.Get("offset")))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		notes, err := s.service.ListNotes(r.Context(), session, queryInt(r.URL.Query().Get("limit")))
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(notes))
		for _, note := range notes {
			items = append(items, noteView(note))
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": items})
	case http.MethodPost:
		var body CreateNoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		note, err := s.service.CreateNote(r.Context(), session, body)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"note": noteView(note)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		ready = false
		checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.connections != nil {
		checks["push"] = map[string]any{"status": "ok", "connections": s.connections()}
	}

	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the push endpoint take over the connection for a websocket.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Conflict", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userName":     session.UserName,
		"userId":       session.UserID,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func noteView(note store.Note) map[string]any {
	return map[string]any{
		"id":          note.ID,
		"title":       note.Title,
		"titleSource": string(note.TitleSource),
		"content":     note.Content,
		"createdAt":   note.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   note.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
