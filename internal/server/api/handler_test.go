package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edavis/river/internal/archive"
	"github.com/edavis/river/internal/server/storage"
)

func newTestArchive(t *testing.T, now time.Time) *archive.Archive {
	t.Helper()
	arch, err := archive.New(t.TempDir(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	return arch
}

func TestGetUpdates(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	arch := newTestArchive(t, now)
	if err := arch.Append(&archive.Update{
		Timestamp: now,
		UUID:      "u1",
		Factor:    1.0,
		Feed:      archive.FeedInfo{Title: "Example", FeedURL: "https://example.com/feed"},
		ItemCount: 1,
		FeedItems: []archive.ItemView{{Timestamp: now, GUID: "g1", Title: "An item"}},
	}); err != nil {
		t.Fatalf("Failed to seed archive: %v", err)
	}

	handler := NewUpdatesHandler(arch)

	req := httptest.NewRequest(http.MethodGet, "/v1/updates?date=2023-07-03", nil)
	rec := httptest.NewRecorder()
	handler.GetUpdates(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got: %s", ct)
	}

	var updates []archive.Update
	if err := json.Unmarshal(rec.Body.Bytes(), &updates); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("Expected 1 update, got: %d", len(updates))
	}
	if updates[0].UUID != "u1" {
		t.Errorf("Expected the seeded update, got: %s", updates[0].UUID)
	}
}

func TestGetUpdatesEmptyDay(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	handler := NewUpdatesHandler(newTestArchive(t, now))

	req := httptest.NewRequest(http.MethodGet, "/v1/updates?date=2020-01-01", nil)
	rec := httptest.NewRecorder()
	handler.GetUpdates(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" {
		t.Errorf("Expected an empty collection, got: %s", body)
	}
}

func TestGetUpdatesInvalidDate(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	handler := NewUpdatesHandler(newTestArchive(t, now))

	req := httptest.NewRequest(http.MethodGet, "/v1/updates?date=07%2F03%2F2023", nil)
	rec := httptest.NewRecorder()
	handler.GetUpdates(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got: %d", rec.Code)
	}
}

func TestGetUpdatesMethodNotAllowed(t *testing.T) {
	now := time.Date(2023, 7, 3, 12, 0, 0, 0, time.UTC)
	handler := NewUpdatesHandler(newTestArchive(t, now))

	req := httptest.NewRequest(http.MethodPost, "/v1/updates", nil)
	rec := httptest.NewRecorder()
	handler.GetUpdates(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected status 405, got: %d", rec.Code)
	}
}

type fakeRepository struct {
	statuses []storage.FeedStatus
	err      error
}

func (r *fakeRepository) FetchFeedStates(_ context.Context) ([]storage.FeedStatus, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.statuses, nil
}

func TestGetFeeds(t *testing.T) {
	checked := time.Date(2023, 7, 3, 11, 0, 0, 0, time.UTC)
	repo := &fakeRepository{statuses: []storage.FeedStatus{
		{
			URL:         "https://a.example.com/feed",
			Factor:      1.0,
			LastChecked: &checked,
			CheckCount:  3,
			ItemCount:   9,
			UpdatedAt:   checked,
		},
	}}
	handler := NewFeedsHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/feeds", nil)
	rec := httptest.NewRecorder()
	handler.GetFeeds(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", rec.Code)
	}

	var statuses []storage.FeedStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 status, got: %d", len(statuses))
	}
	if statuses[0].URL != "https://a.example.com/feed" {
		t.Errorf("Expected the repository row, got: %s", statuses[0].URL)
	}
	if statuses[0].CheckCount != 3 {
		t.Errorf("Expected check count 3, got: %d", statuses[0].CheckCount)
	}
}

func TestGetFeedsWithoutStateTracking(t *testing.T) {
	handler := NewFeedsHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/feeds", nil)
	rec := httptest.NewRecorder()
	handler.GetFeeds(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got: %d", rec.Code)
	}
}

func TestGetFeedsRepositoryError(t *testing.T) {
	handler := NewFeedsHandler(&fakeRepository{err: errors.New("locked")})

	req := httptest.NewRequest(http.MethodGet, "/v1/feeds", nil)
	rec := httptest.NewRecorder()
	handler.GetFeeds(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got: %d", rec.Code)
	}
}
