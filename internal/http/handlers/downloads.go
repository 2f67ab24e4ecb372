package handlers

import (
	"errors"
	"net/http"

	"github.com/retina/retina-export-back/internal/domain"
	"github.com/retina/retina-export-back/internal/http/middleware"
	"github.com/retina/retina-export-back/internal/repository"
	"github.com/retina/retina-export-back/internal/service"
)

func (api *API) StartDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request domain.ExportRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	userID := middleware.GetUserID(r.Context())
	result, err := api.downloads.Start(r.Context(), userID, request)
	if err != nil {
		var duplicate *repository.DuplicateActiveJobError
		if errors.As(err, &duplicate) {
			response := map[string]any{
				"error":  "You already have an active download request",
				"jobId":  duplicate.Existing.ID,
				"status": duplicate.Existing.Status,
			}
			if duplicate.Existing.QueuePosition != nil {
				response["queuePosition"] = *duplicate.Existing.QueuePosition
			}
			writeJSON(w, http.StatusBadRequest, response)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to start download")
		return
	}

	response := map[string]any{
		"jobId":  result.Job.ID,
		"status": result.Job.Status,
		"queued": result.Queued,
	}
	if result.Queued {
		response["queuePosition"] = result.Position
		response["message"] = "Your download request has been queued"
	} else {
		response["message"] = "Your download is being processed"
	}
	writeJSON(w, http.StatusAccepted, response)
}

func (api *API) ActiveDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	view, err := api.downloads.Active(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load active download")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID, err := pathID(r.URL.Path, "/api/download/status/")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	view, err := api.downloads.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job status")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *API) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID, err := pathID(r.URL.Path, "/api/download/cancel/")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	err = api.downloads.Cancel(r.Context(), middleware.GetUserID(r.Context()), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId":   jobID,
			"status":  domain.JobStatusCancelled,
			"message": "Download cancelled",
		})
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, service.ErrNotJobOwner):
		writeError(w, r, http.StatusForbidden, "forbidden", "you can only cancel your own downloads")
	case errors.Is(err, repository.ErrJobTerminal):
		writeError(w, r, http.StatusBadRequest, "invalid_request", "cannot cancel a job that has already finished")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel download")
	}
}

func (api *API) DownloadQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	snapshot, err := api.downloads.Queue(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load queue")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
