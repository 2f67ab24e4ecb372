package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/retina/retina-export-back/internal/domain"
)

func TestParseRequestRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{"startDate":"2025-06-01","endDate":"2025-06-30","area":"Maharashtra","sendEmail":true}`)

	request, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if request.StartDate != "2025-06-01" || request.EndDate != "2025-06-30" {
		t.Fatalf("unexpected dates %q..%q", request.StartDate, request.EndDate)
	}
	if request.Area != "Maharashtra" || !request.SendEmail {
		t.Fatalf("unexpected request %+v", request)
	}
}

func TestParseRequestEmptyPayload(t *testing.T) {
	request, err := ParseRequest(nil)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if request != (domain.ExportRequest{}) {
		t.Fatalf("expected zero request, got %+v", request)
	}
}

func TestFilterWidensDateOnlyEndToEndOfDay(t *testing.T) {
	filter, err := Filter(domain.ExportRequest{
		StartDate: "2025-06-01",
		EndDate:   "2025-06-30",
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if filter.StartDate == nil || filter.EndDate == nil {
		t.Fatalf("expected both bounds set")
	}

	lastMoment := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)
	if filter.EndDate.Before(lastMoment) {
		t.Fatalf("expected end widened past %v, got %v", lastMoment, filter.EndDate)
	}
	nextDay := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if !filter.EndDate.Before(nextDay) {
		t.Fatalf("expected end before %v, got %v", nextDay, filter.EndDate)
	}
}

func TestFilterKeepsRFC3339EndExact(t *testing.T) {
	filter, err := Filter(domain.ExportRequest{
		StartDate: "2025-06-01T00:00:00Z",
		EndDate:   "2025-06-15T08:30:00Z",
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	want := time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)
	if !filter.EndDate.Equal(want) {
		t.Fatalf("expected exact end %v, got %v", want, filter.EndDate)
	}
}

func TestFilterIgnoresHalfOpenRange(t *testing.T) {
	filter, err := Filter(domain.ExportRequest{StartDate: "2025-06-01"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if filter.StartDate != nil || filter.EndDate != nil {
		t.Fatalf("expected date range dropped when only one bound is set")
	}
}

func TestFilterRejectsMalformedDate(t *testing.T) {
	_, err := Filter(domain.ExportRequest{StartDate: "06/01/2025", EndDate: "2025-06-30"})
	if err == nil {
		t.Fatalf("expected error for malformed date")
	}
}
