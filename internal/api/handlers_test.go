package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coinatlas/affiliate-service/internal/app"
	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/coinatlas/affiliate-service/internal/store"
	"github.com/google/uuid"
)

type runnerStub struct {
	calls int
	run   *domain.SyncRun
	err   error
}

func (s *runnerStub) RunSync(ctx context.Context, program string) (*domain.SyncRun, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.run, nil
}

type bindingStoreStub struct {
	created   *domain.Binding
	createErr error
	runs      []domain.SyncRun
}

func (s *bindingStoreStub) CreateBinding(ctx context.Context, binding *domain.Binding) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = binding
	return nil
}

func (s *bindingStoreStub) ListSyncRuns(ctx context.Context, program string, limit int) ([]domain.SyncRun, error) {
	return s.runs, nil
}

func newTestHandlers(runner SyncRunner, repo BindingStore) *SyncHandlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSyncHandlers(runner, repo, "cron-secret", "okx", logger)
}

func TestTriggerSync_WrongSecretIsRejectedBeforeAnyWork(t *testing.T) {
	runner := &runnerStub{}
	handlers := newTestHandlers(runner, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodGet, "/sync?secret=wrong", nil)
	rec := httptest.NewRecorder()
	handlers.TriggerSyncHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatal("expected zero sync runs for an unauthorized trigger")
	}
}

func TestTriggerSync_MissingSecretIsRejected(t *testing.T) {
	runner := &runnerStub{}
	handlers := newTestHandlers(runner, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rec := httptest.NewRecorder()
	handlers.TriggerSyncHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatal("expected zero sync runs for an unauthorized trigger")
	}
}

func TestTriggerSync_BearerTokenSummaryResponse(t *testing.T) {
	runner := &runnerStub{
		run: &domain.SyncRun{
			ID:         uuid.New(),
			Program:    "okx",
			Total:      45,
			Updated:    42,
			Skipped:    2,
			Failed:     1,
			Errors:     []domain.SyncError{{ExternalUID: "uid-020", Message: "write conflict"}},
			DurationMS: 6300,
		},
	}
	handlers := newTestHandlers(runner, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodGet, "/sync", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	handlers.TriggerSyncHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message    string   `json:"message"`
		Total      int      `json:"total"`
		Success    int      `json:"success"`
		Failed     int      `json:"failed"`
		Skipped    int      `json:"skipped"`
		Errors     []string `json:"errors"`
		DurationMS int64    `json:"duration_ms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 45 || resp.Success != 42 || resp.Skipped != 2 || resp.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
	if resp.Success+resp.Skipped+resp.Failed != resp.Total {
		t.Fatal("summary counts do not sum to total")
	}
	if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "uid-020") {
		t.Fatalf("expected the failing uid in errors, got %v", resp.Errors)
	}
	if resp.DurationMS != 6300 {
		t.Fatalf("expected duration_ms 6300, got %d", resp.DurationMS)
	}
}

func TestTriggerSync_QuerySecretAccepted(t *testing.T) {
	runner := &runnerStub{run: &domain.SyncRun{ID: uuid.New(), Program: "okx", NothingToSync: true}}
	handlers := newTestHandlers(runner, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodGet, "/sync?secret=cron-secret", nil)
	rec := httptest.NewRecorder()
	handlers.TriggerSyncHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one sync run, got %d", runner.calls)
	}
	if !strings.Contains(rec.Body.String(), "nothing to sync") {
		t.Fatalf("expected nothing-to-sync message, got %s", rec.Body.String())
	}
}

func TestTriggerSync_ConcurrentRunConflict(t *testing.T) {
	runner := &runnerStub{err: app.ErrSyncAlreadyRunning}
	handlers := newTestHandlers(runner, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodPost, "/sync?secret=cron-secret", nil)
	rec := httptest.NewRecorder()
	handlers.TriggerSyncHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an overlapping run, got %d", rec.Code)
	}
}

func TestCreateBinding_RequiresAuthenticatedUser(t *testing.T) {
	handlers := newTestHandlers(&runnerStub{}, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodPost, "/bindings", strings.NewReader(`{"program":"okx","external_uid":"123"}`))
	rec := httptest.NewRecorder()
	handlers.CreateBindingHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an authenticated user, got %d", rec.Code)
	}
}

func TestCreateBinding_CreatesPendingBinding(t *testing.T) {
	repo := &bindingStoreStub{}
	handlers := newTestHandlers(&runnerStub{}, repo)
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/bindings", strings.NewReader(`{"program":"okx","external_uid":" 12345 "}`))
	req = req.WithContext(context.WithValue(req.Context(), userIDKey, userID))
	rec := httptest.NewRecorder()
	handlers.CreateBindingHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.created == nil {
		t.Fatal("expected a binding to be created")
	}
	if repo.created.Status != domain.BindingStatusPending {
		t.Fatalf("expected pending status, got %q", repo.created.Status)
	}
	if repo.created.ExternalUID != "12345" {
		t.Fatalf("expected trimmed uid, got %q", repo.created.ExternalUID)
	}
	if repo.created.UserID != userID {
		t.Fatal("expected the binding to belong to the authenticated user")
	}
}

func TestCreateBinding_DuplicateConflict(t *testing.T) {
	repo := &bindingStoreStub{createErr: store.ErrDuplicateBinding}
	handlers := newTestHandlers(&runnerStub{}, repo)

	req := httptest.NewRequest(http.MethodPost, "/bindings", strings.NewReader(`{"program":"okx","external_uid":"123"}`))
	req = req.WithContext(context.WithValue(req.Context(), userIDKey, uuid.New()))
	rec := httptest.NewRecorder()
	handlers.CreateBindingHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate binding, got %d", rec.Code)
	}
}

func TestCreateBinding_ValidatesBody(t *testing.T) {
	handlers := newTestHandlers(&runnerStub{}, &bindingStoreStub{})

	req := httptest.NewRequest(http.MethodPost, "/bindings", strings.NewReader(`{"program":"","external_uid":""}`))
	req = req.WithContext(context.WithValue(req.Context(), userIDKey, uuid.New()))
	rec := httptest.NewRecorder()
	handlers.CreateBindingHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}
}
