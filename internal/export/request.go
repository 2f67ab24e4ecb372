package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/retina/retina-export-back/internal/domain"
)

// ParseRequest decodes the filter payload persisted at admission time.
// The raw bytes are stored verbatim on the progress record, so a queued job
// resumes with exactly the parameters the owner submitted.
func ParseRequest(raw json.RawMessage) (domain.ExportRequest, error) {
	var request domain.ExportRequest
	if len(raw) == 0 {
		return request, nil
	}
	if err := json.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("unmarshal export request: %w", err)
	}
	return request, nil
}

// Filter translates the request into a photo query. Dates accept either a
// plain date or RFC 3339; a date-only end is widened to the end of that day
// so the range stays inclusive. Both dates must be present for the range to
// apply, matching the catalog listing.
func Filter(request domain.ExportRequest) (domain.PhotoFilter, error) {
	filter := domain.PhotoFilter{
		Area:          request.Area,
		Region:        request.Region,
		City:          request.City,
		ImageCategory: request.ImageCategory,
	}

	if request.StartDate != "" && request.EndDate != "" {
		start, _, err := parseRequestDate(request.StartDate)
		if err != nil {
			return filter, fmt.Errorf("invalid start date %q: %w", request.StartDate, err)
		}
		end, dateOnly, err := parseRequestDate(request.EndDate)
		if err != nil {
			return filter, fmt.Errorf("invalid end date %q: %w", request.EndDate, err)
		}
		if dateOnly {
			end = end.Add(24*time.Hour - time.Nanosecond)
		}
		filter.StartDate = &start
		filter.EndDate = &end
	}

	return filter, nil
}

func parseRequestDate(value string) (time.Time, bool, error) {
	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		return parsed.UTC(), true, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed.UTC(), false, nil
}
