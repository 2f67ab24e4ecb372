package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/http/middleware"
	"github.com/retina/retina-export-back/internal/repository"
	"github.com/retina/retina-export-back/internal/service"
)

type staticVerifier struct{}

// Tokens are "user:<id>" so each test request can pick its caller.
func (staticVerifier) Verify(token string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(token, "user:%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("bad token")
	}
	return id, nil
}

type noopWaker struct{}

func (noopWaker) Wake() {}

type downloadsFixture struct {
	api   *API
	jobs  *repository.MemoryJobsRepository
	users *repository.MemoryUsersRepository
}

func newDownloadsFixture(t *testing.T) *downloadsFixture {
	t.Helper()

	jobs := repository.NewMemoryJobsRepository()
	users := repository.NewMemoryUsersRepository()
	for _, name := range []string{"Alice", "Bob"} {
		if _, err := users.UpsertByGoogleID(context.Background(), &domain.User{
			GoogleID: name,
			Email:    strings.ToLower(name) + "@example.com",
			Name:     name,
		}); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
	}

	downloads := service.NewDownloadsService(jobs, users, noopWaker{}, nil)
	api := NewAPI(APIDependencies{Downloads: downloads, Users: users})
	return &downloadsFixture{api: api, jobs: jobs, users: users}
}

func (f *downloadsFixture) do(t *testing.T, userID int64, method, target string, body string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Authorization", fmt.Sprintf("Bearer user:%d", userID))
	recorder := httptest.NewRecorder()
	middleware.Auth(staticVerifier{})(handler).ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestStartDownloadAccepted(t *testing.T) {
	fixture := newDownloadsFixture(t)

	recorder := fixture.do(t, 1, http.MethodPost, "/api/download/start",
		`{"startDate":"2025-06-01","endDate":"2025-06-30","sendEmail":true}`,
		fixture.api.StartDownload)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["queued"] != false {
		t.Fatalf("expected immediate start, got %v", payload)
	}
	if payload["status"] != string(domain.JobStatusProcessing) {
		t.Fatalf("expected processing status, got %v", payload["status"])
	}
}

func TestStartDownloadRejectsDuplicate(t *testing.T) {
	fixture := newDownloadsFixture(t)

	first := fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on first start, got %d", first.Code)
	}

	second := fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	if second.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on duplicate, got %d", second.Code)
	}
	payload := decodeBody(t, second)
	if payload["jobId"] == nil {
		t.Fatalf("expected existing job id in duplicate response, got %v", payload)
	}
}

func TestStartDownloadQueuesSecondUser(t *testing.T) {
	fixture := newDownloadsFixture(t)

	fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	recorder := fixture.do(t, 2, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["queued"] != true {
		t.Fatalf("expected queued response, got %v", payload)
	}
	if payload["queuePosition"] != float64(1) {
		t.Fatalf("expected position 1, got %v", payload["queuePosition"])
	}
}

func TestStartDownloadRequiresAuth(t *testing.T) {
	fixture := newDownloadsFixture(t)

	request := httptest.NewRequest(http.MethodPost, "/api/download/start", strings.NewReader(`{}`))
	recorder := httptest.NewRecorder()
	middleware.Auth(staticVerifier{})(http.HandlerFunc(fixture.api.StartDownload)).ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", recorder.Code)
	}
}

func TestDownloadStatusNotFound(t *testing.T) {
	fixture := newDownloadsFixture(t)

	recorder := fixture.do(t, 1, http.MethodGet, "/api/download/status/99", "", fixture.api.DownloadStatus)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestDownloadStatusReturnsProgress(t *testing.T) {
	fixture := newDownloadsFixture(t)

	started := fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	jobID := int64(decodeBody(t, started)["jobId"].(float64))

	recorder := fixture.do(t, 1, http.MethodGet, fmt.Sprintf("/api/download/status/%d", jobID), "", fixture.api.DownloadStatus)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["stage"] != string(domain.StageStarting) {
		t.Fatalf("expected starting stage, got %v", payload["stage"])
	}
}

func TestCancelDownloadOwnerOnly(t *testing.T) {
	fixture := newDownloadsFixture(t)

	started := fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	jobID := int64(decodeBody(t, started)["jobId"].(float64))

	other := fixture.do(t, 2, http.MethodPost, fmt.Sprintf("/api/download/cancel/%d", jobID), "", fixture.api.CancelDownload)
	if other.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", other.Code)
	}

	owner := fixture.do(t, 1, http.MethodPost, fmt.Sprintf("/api/download/cancel/%d", jobID), "", fixture.api.CancelDownload)
	if owner.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d: %s", owner.Code, owner.Body.String())
	}

	again := fixture.do(t, 1, http.MethodPost, fmt.Sprintf("/api/download/cancel/%d", jobID), "", fixture.api.CancelDownload)
	if again.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for finished job, got %d", again.Code)
	}
}

func TestCancelDownloadCompletedJobIsBadRequest(t *testing.T) {
	fixture := newDownloadsFixture(t)

	started := fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	jobID := int64(decodeBody(t, started)["jobId"].(float64))

	if err := fixture.jobs.Finish(context.Background(), jobID, domain.JobStatusCompleted, "https://drive.google.com/file/d/abc", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	recorder := fixture.do(t, 1, http.MethodPost, fmt.Sprintf("/api/download/cancel/%d", jobID), "", fixture.api.CancelDownload)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for completed job, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestDownloadQueueSnapshot(t *testing.T) {
	fixture := newDownloadsFixture(t)

	fixture.do(t, 1, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)
	fixture.do(t, 2, http.MethodPost, "/api/download/start", `{}`, fixture.api.StartDownload)

	recorder := fixture.do(t, 1, http.MethodGet, "/api/download/queue", "", fixture.api.DownloadQueue)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	processing, ok := payload["processing"].(map[string]any)
	if !ok {
		t.Fatalf("expected processing entry, got %v", payload)
	}
	if processing["userName"] != "Alice" {
		t.Fatalf("expected owner name resolved, got %v", processing["userName"])
	}
	if payload["queueLength"] != float64(1) {
		t.Fatalf("expected one queued job, got %v", payload["queueLength"])
	}
}

func TestActiveDownloadForIdleUser(t *testing.T) {
	fixture := newDownloadsFixture(t)

	recorder := fixture.do(t, 1, http.MethodGet, "/api/download/active", "", fixture.api.ActiveDownload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["active"] != false {
		t.Fatalf("expected inactive response, got %v", payload)
	}
}
