package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"qualedit/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
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

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		var body CreateDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateDocument(r.Context(), body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/codings/resize" {
		var body struct {
			Owner string `json:"owner"`
			End   string `json:"end"`
			Delta int    `json:"delta"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ResizeCodings(r.Context(), body.Owner, body.End, body.Delta)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "documents":
		documentID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleDocuments(w, r, documentID, parts[3:])
	case "edit":
		s.handleEditSession(w, r, parts[2], parts[3:])
	case "codings":
		codingID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleCodings(w, r, codingID, parts[3:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, documentID int64, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		doc, err := s.service.GetDocument(r.Context(), documentID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	switch {
	case r.Method == http.MethodPost && rest[0] == "edit":
		handle, err := s.service.BeginEdit(r.Context(), documentID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, handle)

	case r.Method == http.MethodGet && rest[0] == "positions":
		positions, err := s.service.DocumentPositions(r.Context(), documentID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "positions": positions})

	case r.Method == http.MethodGet && rest[0] == "revisions" && len(rest) == 2:
		revision, err := s.service.Revision(r.Context(), documentID, rest[1])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, revision)

	case r.Method == http.MethodGet && rest[0] == "revisions":
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
				return
			}
			limit = parsed
		}
		revisions, err := s.service.Revisions(r.Context(), documentID, limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "revisions": revisions})

	case r.Method == http.MethodPost && rest[0] == "shift":
		var body struct {
			After int `json:"after"`
			Delta int `json:"delta"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ShiftPositions(r.Context(), documentID, body.After, body.Delta)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodPost && rest[0] == "codings":
		var body CreateCodingInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		coding, err := s.service.CreateCoding(r.Context(), documentID, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, coding)

	case r.Method == http.MethodPost && rest[0] == "annotations":
		var body CreateAnnotationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		annotation, err := s.service.CreateAnnotation(r.Context(), documentID, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, annotation)

	case r.Method == http.MethodPost && rest[0] == "cases":
		var body CreateCaseTextInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		link, err := s.service.CreateCaseText(r.Context(), documentID, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, link)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleEditSession(w http.ResponseWriter, r *http.Request, sessionID string, rest []string) {
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodPut && rest[0] == "text":
		var body struct {
			Text *string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Text == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
			return
		}
		edit, err := s.service.UpdateText(r.Context(), sessionID, *body.Text)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"shape":       edit.Shape.String(),
			"length":      edit.Length,
			"preLength":   edit.PreLength,
			"postLength":  edit.PostLength,
			"approximate": edit.Approximate,
		})

	case r.Method == http.MethodGet && rest[0] == "positions":
		positions, err := s.service.LivePositions(sessionID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "positions": positions})

	case r.Method == http.MethodPost && (rest[0] == "commit" || rest[0] == "revert"):
		var body struct {
			Author string `json:"author"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.EndEdit(r.Context(), sessionID, rest[0] == "revert", body.Author)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleCodings(w http.ResponseWriter, r *http.Request, codingID int64, rest []string) {
	if r.Method != http.MethodPost || len(rest) != 1 || rest[0] != "adjust" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	var body struct {
		End   string `json:"end"`
		Delta int    `json:"delta"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	coding, err := s.service.AdjustCoding(r.Context(), codingID, body.End, body.Delta)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coding)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
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

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid id", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}
