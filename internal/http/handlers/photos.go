package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/export"
	"github.com/retina/retina-export-back/internal/repository"
)

func (api *API) Uploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	query := r.URL.Query()
	filter, err := export.Filter(domain.ExportRequest{
		StartDate:     strings.TrimSpace(query.Get("startDate")),
		EndDate:       strings.TrimSpace(query.Get("endDate")),
		Area:          strings.TrimSpace(query.Get("area")),
		Region:        strings.TrimSpace(query.Get("region")),
		City:          strings.TrimSpace(query.Get("city")),
		ImageCategory: strings.TrimSpace(query.Get("imageCategory")),
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid date filter")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 10)
	result, err := api.photos.List(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load uploads")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) MasterData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rows, err := api.photos.MasterData(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load master data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": rows})
}

// Image streams one photo from the object store so the frontend never
// needs direct bucket access.
func (api *API) Image(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("filename"))
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "filename is required")
		return
	}

	reader, info, err := api.photos.Image(r.Context(), key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "image not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load image")
		return
	}
	defer reader.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = io.Copy(w, reader)
}
