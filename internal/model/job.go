package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FileItem is one uploaded file inside a job payload.
type FileItem struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`      // declared size
	MimeType string `json:"mime_type"` // declared mime type
	Data     []byte `json:"-"`
}

// JobPayload is the batch submitted for ingestion.
type JobPayload struct {
	OwnerID    string     `json:"owner_id"`
	BatchLabel string     `json:"batch_label"`
	ParentName string     `json:"parent_name"`
	SessionID  string     `json:"session_id"`
	Files      []FileItem `json:"files"`
}

// Job describes a queued batch and its bookkeeping.
type Job struct {
	ID          string     `json:"id"`
	Payload     JobPayload `json:"payload"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at,omitzero"`
	FinishedAt  time.Time  `json:"finished_at,omitzero"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
}

// FileFailure records why a single file was not ingested.
type FileFailure struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

// JobResult aggregates the per-file outcomes of one job.
type JobResult struct {
	AlbumID   uuid.UUID       `json:"album_id"`
	Succeeded []CatalogRecord `json:"succeeded"`
	Failed    []FileFailure   `json:"failed"`
}

// SucceededNames returns the filenames that produced a catalog record.
func (r JobResult) SucceededNames() []string {
	names := make([]string, 0, len(r.Succeeded))
	for _, rec := range r.Succeeded {
		names = append(names, rec.Filename)
	}

	return names
}

// QueueStats is a point-in-time snapshot of scheduler state.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TotalJobs int `json:"total_jobs,omitempty"` // set for session-scoped stats
}
