package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type Stage string

const (
	StageQueued           Stage = "queued"
	StageStarting         Stage = "starting"
	StageProcessing       Stage = "processing"
	StageZipping          Stage = "zipping"
	StageZippingCompleted Stage = "zipping_completed"
	StageUploadingToDrive Stage = "uploading_to_drive"
	StageDriveUploaded    Stage = "drive_upload_completed"
	StageSendingEmail     Stage = "sending_email"
	StageEmailSent        Stage = "email_sent"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageCancelled        Stage = "cancelled"
)

// ExportJob is one user-initiated bulk export and its lifecycle record.
// At most one job per owner may be queued or processing, and at most one
// job system-wide may be processing.
type ExportJob struct {
	ID            int64
	OwnerID       int64
	Status        JobStatus
	QueuePosition *int
	QueuedAt      *time.Time
	ResultRef     string
	ErrorDetail   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExportProgress tracks the fine-grained pipeline stage for one job.
// RequestJSON keeps the serialized filter request so a queued job can be
// resumed later without the original HTTP body.
type ExportProgress struct {
	JobID          int64
	Stage          Stage
	TotalItems     int
	ProcessedItems int
	ResultRef      string
	RequestJSON    json.RawMessage
	UpdatedAt      time.Time
}

// ExportRequest is the filter payload of a bulk export. Empty fields are
// not applied. StartDate and EndDate form an inclusive range and are only
// applied together.
type ExportRequest struct {
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	Area          string `json:"area,omitempty"`
	Region        string `json:"region,omitempty"`
	City          string `json:"city,omitempty"`
	ImageCategory string `json:"imageCategory,omitempty"`
	SendEmail     bool   `json:"sendEmail,omitempty"`
}

// QueueEntry is one queued job as exposed by the queue snapshot endpoint.
type QueueEntry struct {
	JobID     int64      `json:"jobId"`
	OwnerID   int64      `json:"userId"`
	OwnerName string     `json:"userName,omitempty"`
	Position  int        `json:"position"`
	QueuedAt  *time.Time `json:"queuedAt,omitempty"`
}

// QueueSnapshot is the read-only view of the whole queue.
type QueueSnapshot struct {
	Processing *QueueEntry  `json:"processing"`
	Queue      []QueueEntry `json:"queue"`
	Length     int          `json:"queueLength"`
}
