package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/mailer"
	"app/internal/middleware"
	"app/internal/service"
	"app/internal/storage"

	"github.com/rs/zerolog"
)

type TasksHandler struct {
	verifyClient        service.VerifyClient
	notifyService       service.NotifyService
	archiver            storage.Archiver
	webhookSecret       string
	uploadMaxMB         int64
	manualVerifyMaxRows int
	logger              zerolog.Logger
}

func NewTasksHandler(verifyClient service.VerifyClient, notifyService service.NotifyService, archiver storage.Archiver, webhookSecret string, uploadMaxMB int64, manualVerifyMaxRows int, logger zerolog.Logger) *TasksHandler {
	return &TasksHandler{
		verifyClient:        verifyClient,
		notifyService:       notifyService,
		archiver:            archiver,
		webhookSecret:       webhookSecret,
		uploadMaxMB:         uploadMaxMB,
		manualVerifyMaxRows: manualVerifyMaxRows,
		logger:              logger,
	}
}

// RegisterRoutes mounts task routes. The bulk-upload webhook authenticates by
// HMAC signature; everything else requires a confirmed principal.
func (h *TasksHandler) RegisterRoutes(mux *http.ServeMux, confirmedMw func(http.Handler) http.Handler) {
	mux.Handle("/tasks/webhooks/bulk-upload", http.HandlerFunc(h.handleUploadWebhook))
	mux.Handle("/tasks/upload", confirmedMw(http.HandlerFunc(h.uploadFile)))
	mux.Handle("/tasks/verify", confirmedMw(http.HandlerFunc(h.manualVerify)))
	mux.Handle("/tasks/", confirmedMw(http.HandlerFunc(h.proxyRead)))
	mux.Handle("/tasks", confirmedMw(http.HandlerFunc(h.proxyRead)))
}

func (h *TasksHandler) handleUploadWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	if h.webhookSecret != "" {
		if !h.signatureValid(rawBody, r.Header.Get("X-Webhook-Signature")) {
			h.logger.Warn().Msg("Upload webhook signature missing or mismatched")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	} else {
		h.logger.Warn().Msg("Upload webhook secret not configured, accepting unsigned request")
	}

	var payload dto.UploadWebhookDTO
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	result, err := h.notifyService.HandleUploadCompletion(r.Context(), service.UploadWebhookInput{
		EventType: payload.EventType,
		TaskID:    payload.TaskID,
		Data:      payload.Data,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUpstream), errors.Is(err, mailer.ErrDelivery):
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error().Err(err).Msg("Upload webhook processing failed")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *TasksHandler) signatureValid(rawBody []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(expected)) == 1
}

func (h *TasksHandler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	maxBytes := h.uploadMaxMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		http.Error(w, "file too large or malformed form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Archive before forwarding; a storage failure is logged but does not
	// block the verification upload.
	if _, err := h.archiver.ArchiveUpload(r.Context(), principal.UserID, header.Filename, data, contentType); err != nil {
		h.logger.Error().Err(err).Str("user_id", principal.UserID).Str("filename", header.Filename).Msg("Failed to archive upload")
	}

	body, status, err := h.verifyClient.UploadFile(r.Context(), principal.RawToken, header.Filename, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Upload to verification service failed")
		http.Error(w, "verification service unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// manualVerify forwards a pasted batch of addresses to the verification
// service, rejecting batches over the configured row cap before any upstream
// call is made.
func (h *TasksHandler) manualVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload dto.ManualVerifyDTO
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(payload.Emails) == 0 {
		http.Error(w, "emails must not be empty", http.StatusBadRequest)
		return
	}
	if len(payload.Emails) > h.manualVerifyMaxRows {
		http.Error(w, fmt.Sprintf("at most %d emails per request", h.manualVerifyMaxRows), http.StatusBadRequest)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	respBody, status, err := h.verifyClient.ProxyPost(r.Context(), principal.RawToken, "/tasks/verify", body)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("Manual verify proxy failed")
		http.Error(w, "verification service unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

func (h *TasksHandler) proxyRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	body, status, err := h.verifyClient.ProxyGet(r.Context(), principal.RawToken, path)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", principal.UserID).Str("path", path).Msg("Task read proxy failed")
		http.Error(w, "verification service unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
