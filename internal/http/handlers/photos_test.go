package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/retina/retina-export-back/internal/cache"
	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/http/middleware"
	"github.com/retina/retina-export-back/internal/objstore"
	"github.com/retina/retina-export-back/internal/repository"
	"github.com/retina/retina-export-back/internal/service"
)

func newPhotosAPI(t *testing.T) (*API, *objstore.MemoryStore) {
	t.Helper()

	store := objstore.NewMemoryStore()
	store.Put("uploads/photo-1.jpg", []byte("jpeg-bytes"))

	photos := repository.NewMemoryPhotosRepository([]domain.Photo{
		{
			ID:            1,
			ObjectKey:     "uploads/photo-1.jpg",
			UploaderCode:  "SF001",
			UploaderEmail: "uploader@example.com",
			ImageCategory: "shelf",
			CreatedAt:     time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
			Store:         domain.Store{Name: "Central", City: "Pune", Region: "West", Area: "Maharashtra"},
		},
		{
			ID:            2,
			ObjectKey:     "uploads/photo-2.jpg",
			UploaderCode:  "SF002",
			UploaderEmail: "other@example.com",
			ImageCategory: "entrance",
			CreatedAt:     time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
			Store:         domain.Store{Name: "North Side", City: "Delhi", Region: "North", Area: "Delhi NCR"},
		},
	})

	photosService := service.NewPhotosService(photos, store, cache.NewMemoryCache(), nil)
	return NewAPI(APIDependencies{Photos: photosService}), store
}

func photosGet(t *testing.T, api *API, target string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, target, nil)
	request.Header.Set("Authorization", "Bearer user:1")
	recorder := httptest.NewRecorder()
	middleware.Auth(staticVerifier{})(handler).ServeHTTP(recorder, request)
	return recorder
}

func TestUploadsFiltersByArea(t *testing.T) {
	api, _ := newPhotosAPI(t)

	recorder := photosGet(t, api, "/api/uploads?area=Maharashtra", api.Uploads)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["total"] != float64(1) {
		t.Fatalf("expected one match, got %v", payload["total"])
	}
	items := payload["items"].([]any)
	item := items[0].(map[string]any)
	if item["thumbnailUrl"] != "/api/image?filename=uploads%2Fphoto-1.jpg" {
		t.Fatalf("unexpected thumbnail url %v", item["thumbnailUrl"])
	}
	if item["outletCity"] != "Pune" {
		t.Fatalf("expected store fields joined, got %v", item)
	}
}

func TestUploadsDateRangeIsInclusive(t *testing.T) {
	api, _ := newPhotosAPI(t)

	recorder := photosGet(t, api, "/api/uploads?startDate=2025-06-15&endDate=2025-06-15", api.Uploads)
	payload := decodeBody(t, recorder)
	if payload["total"] != float64(1) {
		t.Fatalf("expected same-day photo included, got %v", payload["total"])
	}
}

func TestUploadsRejectsMalformedDates(t *testing.T) {
	api, _ := newPhotosAPI(t)

	recorder := photosGet(t, api, "/api/uploads?startDate=bad&endDate=2025-06-30", api.Uploads)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestMasterDataListsDistinctLocations(t *testing.T) {
	api, _ := newPhotosAPI(t)

	recorder := photosGet(t, api, "/api/master-data", api.MasterData)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	locations := payload["locations"].([]any)
	if len(locations) != 2 {
		t.Fatalf("expected two location rows, got %d", len(locations))
	}
}

func TestImageStreamsObject(t *testing.T) {
	api, _ := newPhotosAPI(t)

	recorder := photosGet(t, api, "/api/image?filename=uploads%2Fphoto-1.jpg", api.Image)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != "jpeg-bytes" {
		t.Fatalf("expected object body, got %q", recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("expected image content type, got %q", got)
	}
}

func TestImageMissingObject(t *testing.T) {
	api, _ := newPhotosAPI(t)

	recorder := photosGet(t, api, "/api/image?filename=uploads%2Fmissing.jpg", api.Image)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}
