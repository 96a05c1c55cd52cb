package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pablo12222/notes-manager/internal/auth"
	"github.com/pablo12222/notes-manager/internal/mgmt"
	"github.com/pablo12222/notes-manager/internal/store"
)

const maxCardTextLength = 1000

var cardColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "board" {
		s.handleBoard(w, r, claims, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "notes" {
		s.handleNotes(w, r, claims, parts)
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "profile" && r.Method == http.MethodGet {
		sub, err := claims.UserSubject()
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		payload, err := s.service.Profile(r.Context(), sub, claims.Name, claims.Email)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "admin" {
		s.handleAdmin(w, r, claims, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ── Board cards ──

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request, claims auth.Claims, parts []string) {
	if len(parts) < 3 || parts[2] != "cards" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Card routes never accept machine identities; a client-credentials
	// token cannot own a board.
	sub, err := claims.PersonalSubject()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:cards") {
			return
		}
		items, err := s.service.ListCards(r.Context(), sub)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPost {
		if !s.allow(w, claims, "create:cards") {
			return
		}
		var body struct {
			Text   string             `json:"text"`
			Color  string             `json:"color"`
			Column *store.BoardColumn `json:"column"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Color == "" {
			body.Color = store.DefaultCardColor
		}
		if msg := validateCardInput(body.Text, body.Color); msg != "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", msg, nil)
			return
		}
		column := store.ColumnBacklog
		if body.Column != nil {
			column = *body.Column
		}
		if !column.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "column must be 0, 1 or 2", nil)
			return
		}
		payload, err := s.service.AddCard(r.Context(), sub, body.Text, body.Color, column)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "reorder" && r.Method == http.MethodPost {
		if !s.allow(w, claims, "update:cards") {
			return
		}
		var body struct {
			Column     store.BoardColumn `json:"column"`
			OrderedIds []string          `json:"orderedIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if !body.Column.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "column must be 0, 1 or 2", nil)
			return
		}
		if err := s.service.ReorderCards(r.Context(), sub, body.Column, body.OrderedIds); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPatch {
		if !s.allow(w, claims, "update:cards") {
			return
		}
		cardID := parts[3]
		var body struct {
			Text  string `json:"text"`
			Color string `json:"color"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateCard(r.Context(), cardID, sub, body.Text, body.Color)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[4] == "move" && r.Method == http.MethodPost {
		if !s.allow(w, claims, "update:cards") {
			return
		}
		cardID := parts[3]
		var body struct {
			TargetColumn store.BoardColumn `json:"targetColumn"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if !body.TargetColumn.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "targetColumn must be 0, 1 or 2", nil)
			return
		}
		if err := s.service.MoveCard(r.Context(), cardID, sub, body.TargetColumn); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodDelete {
		if !s.allow(w, claims, "delete:cards") {
			return
		}
		cardID := parts[3]
		if err := s.service.DeleteCard(r.Context(), cardID, sub); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// ── Notes ──

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, claims auth.Claims, parts []string) {
	sub, err := claims.UserSubject()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:notes") {
			return
		}
		items, err := s.service.ListNotes(r.Context(), sub)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		if !s.allow(w, claims, "create:notes") {
			return
		}
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddNote(r.Context(), sub, body.Title, body.Content)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 3 && parts[2] == "search" && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:notes") {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)
		payload, err := s.service.SearchNotes(r.Context(), sub, q, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:notes") {
			return
		}
		payload, err := s.service.GetNote(r.Context(), parts[2], sub)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPut {
		if !s.allow(w, claims, "create:notes") {
			return
		}
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			Status  string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ok, err := s.service.UpdateNote(r.Context(), parts[2], sub, body.Title, body.Content, body.Status)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if !s.allow(w, claims, "create:notes") {
			return
		}
		ok, err := s.service.DeleteNote(r.Context(), parts[2], sub)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// ── Admin ──

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, claims auth.Claims, parts []string) {
	if len(parts) == 3 && parts[2] == "secret" && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:admin-secret") {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"topSecret": "42", "you": claims.Subject})
		return
	}

	if len(parts) == 3 && parts[2] == "users" && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:admin-users") {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		page := queryInt(r, "page", 0)
		pageSize := queryInt(r, "pageSize", 25)
		payload, err := s.service.AdminUsers(r.Context(), q, page, pageSize)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "users" && parts[4] == "block" && r.Method == http.MethodPost {
		if !s.allow(w, claims, "update:admin-users") {
			return
		}
		var body struct {
			Block bool `json:"block"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AdminBlockUser(r.Context(), parts[3], body.Block); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if len(parts) == 5 && parts[2] == "users" && parts[4] == "reset-password" && r.Method == http.MethodPost {
		if !s.allow(w, claims, "reset:admin-passwords") {
			return
		}
		resultURL := strings.TrimSpace(r.URL.Query().Get("resultUrl"))
		ticketURL, err := s.service.AdminResetPasswordTicket(r.Context(), parts[3], resultURL)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ticketUrl": ticketURL})
		return
	}

	if len(parts) == 3 && parts[2] == "roles" && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:admin-roles") {
			return
		}
		payload, err := s.service.AdminRoles(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "roles" && parts[4] == "permissions" && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:admin-roles") {
			return
		}
		payload, err := s.service.AdminRolePermissions(r.Context(), parts[3])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "users" && parts[4] == "roles" && r.Method == http.MethodGet {
		if !s.allow(w, claims, "read:admin-roles") {
			return
		}
		payload, err := s.service.AdminUserRoles(r.Context(), parts[3])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "users" && parts[4] == "roles" && r.Method == http.MethodPost {
		if !s.allow(w, claims, "manage:admin-roles") {
			return
		}
		var body struct {
			RoleIds []string `json:"roleIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AdminAssignRoles(r.Context(), parts[3], body.RoleIds); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if len(parts) == 6 && parts[2] == "users" && parts[4] == "roles" && r.Method == http.MethodDelete {
		if !s.allow(w, claims, "manage:admin-roles") {
			return
		}
		if err := s.service.AdminRemoveRole(r.Context(), parts[3], parts[5]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ── Plumbing ──

func (s *HTTPServer) requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, false
	}
	claims, err := auth.ParseToken([]byte(s.service.cfg.JWTSecret), s.service.cfg.Issuer, s.service.cfg.Audience, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, false
	}
	return claims, true
}

// allow enforces the scope gate. Ownership checks stay in the service as an
// independent second gate.
func (s *HTTPServer) allow(w http.ResponseWriter, claims auth.Claims, permission string) bool {
	if !claims.HasPermission(permission) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return false
	}
	return true
}

func validateCardInput(text, color string) string {
	if strings.TrimSpace(text) == "" {
		return "text is required"
	}
	if len(text) > maxCardTextLength {
		return fmt.Sprintf("text must be at most %d characters", maxCardTextLength)
	}
	if !cardColorPattern.MatchString(color) {
		return "color must match #RRGGBB"
	}
	return ""
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return
	}
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) ||
		errors.Is(err, auth.ErrMissingSubject) || errors.Is(err, auth.ErrMachineToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var upstreamErr *mgmt.UpstreamError
	if errors.As(err, &upstreamErr) {
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Identity provider call failed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
