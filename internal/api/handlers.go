// Package api exposes HTTP handlers for the repcount service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/repcount/internal/auth"
	"example.com/repcount/internal/domain"
	"example.com/repcount/internal/insights"
)

const (
	defaultMaxUpload = 1 << 30
	frameBoundary    = "frame"
	noInsights       = "No insights returned."
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	maxUpload int64
	logger    *log.Logger
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithMaxUploadBytes limits the size of uploaded videos.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithLogger overrides the handler logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		maxUpload: defaultMaxUpload,
		logger:    log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", h.stream)
	mux.HandleFunc("GET /v1/sessions/{id}/metrics", h.metrics)
	mux.HandleFunc("GET /v1/sessions/{id}/dataset", h.dataset)
	mux.HandleFunc("GET /v1/sessions/{id}/summary", h.summary)
	mux.HandleFunc("GET /v1/sessions/{id}/chart.png", h.chart)
	mux.HandleFunc("POST /v1/sessions/{id}/insights", h.insights)
	mux.HandleFunc("GET /healthz", healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize returns the caller's claims when they carry one of scopes, writing the error
// response otherwise.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("scope %s required", scopes[0]))
	return nil, false
}

func readAccess(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	return authorize(w, r, auth.ScopeSessionsRead, auth.ScopeSessionsWrite)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "video exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart field video is required")
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	sess, err := h.service.CreateSession(r.Context(), domain.CreateSessionInput{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Exercise: r.FormValue("exercise"),
		Filename: header.Filename,
		Video:    file,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidUpload) {
			writeError(w, http.StatusBadRequest, "invalid_request", "video upload is empty or unnamed")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		Exercise:  string(sess.Exercise),
		Status:    string(sess.State()),
		StreamURL: "/v1/sessions/" + sess.ID + "/stream",
	})
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := readAccess(w, r)
	if !ok {
		return
	}

	stream, err := h.service.StartStream(r.Context(), claims.TenantID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+frameBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Analysis-Mode", string(stream.Mode))
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	broken := false
	for frame := range stream.Frames {
		if broken {
			continue
		}
		if err := writePart(w, frame); err != nil {
			broken = true
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			broken = true
		}
	}
	stream.Wait()
}

func writePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", frameBoundary); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	claims, ok := readAccess(w, r)
	if !ok {
		return
	}
	view, err := h.service.Metrics(r.Context(), claims.TenantID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) dataset(w http.ResponseWriter, r *http.Request) {
	claims, ok := readAccess(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	path, err := h.service.Dataset(r.Context(), claims.TenantID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		h.writeDomainError(w, domain.ErrDatasetNotReady)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, id))
	http.ServeContent(w, r, id+".csv", info.ModTime(), file)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	claims, ok := readAccess(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), claims.TenantID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) chart(w http.ResponseWriter, r *http.Request) {
	claims, ok := readAccess(w, r)
	if !ok {
		return
	}
	png, err := h.service.Chart(r.Context(), claims.TenantID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) insights(w http.ResponseWriter, r *http.Request) {
	claims, ok := readAccess(w, r)
	if !ok {
		return
	}

	// The body is optional; an unreadable one is treated as no request.
	var req InsightsRequest
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req)
	}

	text, err := h.service.Insights(r.Context(), claims.TenantID, r.PathValue("id"), strings.TrimSpace(req.Prompt))
	if errors.Is(err, insights.ErrEmptyResponse) {
		text, err = noInsights, nil
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InsightsResponse{Insights: text})
}

// writeDomainError maps service errors onto HTTP responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var statusErr *insights.StatusError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, domain.ErrSessionStarted):
		writeError(w, http.StatusConflict, "already_started", "session stream already started")
	case errors.Is(err, domain.ErrDatasetNotReady):
		writeError(w, http.StatusConflict, "dataset_not_ready", "CSV not ready yet")
	case errors.Is(err, domain.ErrSessionNotDone):
		writeError(w, http.StatusConflict, "session_not_done", "session analysis has not finished")
	case errors.Is(err, domain.ErrVideoUnreadable):
		writeError(w, http.StatusUnprocessableEntity, "video_unreadable", err.Error())
	case errors.Is(err, insights.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, "insights_not_configured", "insights provider not configured on server")
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, "insights_upstream_error", statusErr.Error())
	case errors.Is(err, insights.ErrUnreachable):
		writeError(w, http.StatusBadGateway, "insights_unreachable", err.Error())
	default:
		h.logger.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// CreateSessionResponse describes the response body for POST /v1/sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Exercise  string `json:"exercise"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

// InsightsRequest is the optional payload for POST /v1/sessions/{id}/insights.
type InsightsRequest struct {
	Prompt string `json:"prompt"`
}

// InsightsResponse carries the generated advice.
type InsightsResponse struct {
	Insights string `json:"insights"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
