/**
 * @description
 * This file contains the HTTP handlers for the affiliate-service: the sync
 * trigger endpoint (cron or manual), the run history endpoint, and the
 * binding submission endpoint.
 *
 * @dependencies
 * - crypto/subtle, encoding/json, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Internal packages.
 */

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coinatlas/affiliate-service/internal/app"
	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/coinatlas/affiliate-service/internal/store"
	"github.com/google/uuid"
)

// SyncRunner is implemented by the orchestrator service.
type SyncRunner interface {
	RunSync(ctx context.Context, program string) (*domain.SyncRun, error)
}

// BindingStore is the subset of the repository the handlers need directly.
type BindingStore interface {
	CreateBinding(ctx context.Context, binding *domain.Binding) error
	ListSyncRuns(ctx context.Context, program string, limit int) ([]domain.SyncRun, error)
}

// SyncHandlers holds the dependencies for the HTTP handlers.
type SyncHandlers struct {
	service        SyncRunner
	repo           BindingStore
	triggerSecret  string
	defaultProgram string
	logger         *slog.Logger
}

// NewSyncHandlers creates the handler set.
func NewSyncHandlers(service SyncRunner, repo BindingStore, triggerSecret, defaultProgram string, logger *slog.Logger) *SyncHandlers {
	return &SyncHandlers{
		service:        service,
		repo:           repo,
		triggerSecret:  triggerSecret,
		defaultProgram: defaultProgram,
		logger:         logger,
	}
}

// syncResponse is the JSON summary returned by the trigger endpoint.
type syncResponse struct {
	Message    string   `json:"message"`
	Total      int      `json:"total"`
	Success    int      `json:"success"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors"`
	DurationMS int64    `json:"duration_ms"`
}

// TriggerSyncHandler runs one sync. GET and POST behave identically; POST
// exists for manual/admin-triggered invocation. The shared secret arrives as
// a bearer token or a `secret` query parameter, and a mismatch returns 401
// before any partner call is made.
func (h *SyncHandlers) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedTrigger(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	program := strings.TrimSpace(r.URL.Query().Get("program"))
	if program == "" {
		program = h.defaultProgram
	}

	run, err := h.service.RunSync(r.Context(), program)
	if err != nil {
		if errors.Is(err, app.ErrSyncAlreadyRunning) {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("sync run failed", "program", program, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "sync failed: "+err.Error())
		return
	}

	message := "sync completed"
	if run.NothingToSync {
		message = "nothing to sync"
	}

	errMessages := make([]string, 0, len(run.Errors))
	for _, syncErr := range run.Errors {
		errMessages = append(errMessages, syncErr.ExternalUID+": "+syncErr.Message)
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Message:    message,
		Total:      run.Total,
		Success:    run.Updated,
		Failed:     run.Failed,
		Skipped:    run.Skipped,
		Errors:     errMessages,
		DurationMS: run.DurationMS,
	})
}

// ListSyncRunsHandler returns recent run summaries for operators.
func (h *SyncHandlers) ListSyncRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedTrigger(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	program := strings.TrimSpace(r.URL.Query().Get("program"))
	if program == "" {
		program = h.defaultProgram
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.repo.ListSyncRuns(r.Context(), program, limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", "program", program, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}
	if runs == nil {
		runs = []domain.SyncRun{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// CreateBindingHandler lets an authenticated user submit their external UID
// for verification. The binding starts as pending; metrics are not writable
// through this path.
func (h *SyncHandlers) CreateBindingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.CreateBindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Program = strings.TrimSpace(req.Program)
	req.ExternalUID = strings.TrimSpace(req.ExternalUID)
	if req.Program == "" || req.ExternalUID == "" {
		writeJSONError(w, http.StatusBadRequest, "program and external_uid are required")
		return
	}

	binding := &domain.Binding{
		ID:          uuid.New(),
		UserID:      userID,
		Program:     req.Program,
		ExternalUID: req.ExternalUID,
		Status:      domain.BindingStatusPending,
	}

	if err := h.repo.CreateBinding(r.Context(), binding); err != nil {
		if errors.Is(err, store.ErrDuplicateBinding) {
			writeJSONError(w, http.StatusConflict, "binding already exists for this program and uid")
			return
		}
		h.logger.Error("failed to create binding", "program", req.Program, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to create binding")
		return
	}

	writeJSON(w, http.StatusCreated, binding)
}

// authorizedTrigger validates the shared secret in constant time.
func (h *SyncHandlers) authorizedTrigger(r *http.Request) bool {
	if h.triggerSecret == "" {
		return false
	}

	provided := ""
	authHeader := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(authHeader, "Bearer "); token != authHeader {
		provided = token
	} else {
		provided = r.URL.Query().Get("secret")
	}

	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.triggerSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
