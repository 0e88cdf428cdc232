package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

// StagedFile references an upload already stored in the blob store.
type StagedFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Key      string `json:"key"`
}

// Message is a batch submission received from Kafka.
type Message struct {
	OwnerID    string       `json:"owner_id"`
	BatchLabel string       `json:"batch_label"`
	ParentName string       `json:"parent_name"`
	SessionID  string       `json:"session_id"`
	Priority   int          `json:"priority"`
	Files      []StagedFile `json:"files"`
}

// stagedStore reads staged uploads.
type stagedStore interface {
	Load(ctx context.Context, key string) (io.ReadCloser, error)
}

// submitter enqueues ingestion jobs.
type submitter interface {
	Submit(payload model.JobPayload, priority int) (string, error)
}

// Handler turns submission messages into queued jobs.
type Handler struct {
	store       stagedStore
	scheduler   submitter
	maxFileSize int64
	strategy    retry.Strategy
}

// NewHandler creates a new handler. Staged files are read up to maxFileSize+1 bytes,
// so oversized files still fail validation as too large.
func NewHandler(store stagedStore, sched submitter, maxFileSize int64, s retry.Strategy) *Handler {
	return &Handler{
		store:       store,
		scheduler:   sched,
		maxFileSize: maxFileSize,
		strategy:    s,
	}
}

// Handle loads the staged files of msg and submits them as one job.
// Submission is retried with the handler's strategy, so a full queue gets time to drain.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var m Message
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", model.ErrInvalidSubmission, err)
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("submission %s: %w", m.SessionID, model.ErrEmptyBatch)
	}

	payload := model.JobPayload{
		OwnerID:    m.OwnerID,
		BatchLabel: m.BatchLabel,
		ParentName: m.ParentName,
		SessionID:  m.SessionID,
		Files:      make([]model.FileItem, 0, len(m.Files)),
	}

	for _, f := range m.Files {
		data, err := h.load(ctx, f.Key)
		if err != nil {
			return fmt.Errorf("load staged file %s: %w", f.Key, err)
		}

		payload.Files = append(payload.Files, model.FileItem{
			Name:     f.Name,
			Size:     int64(len(data)),
			MimeType: f.MimeType,
			Data:     data,
		})
	}

	var jobID string
	err := retry.Do(func() error {
		id, err := h.scheduler.Submit(payload, m.Priority)
		if err != nil {
			return err
		}
		jobID = id
		return nil
	}, h.strategy)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	zlog.Logger.Info().
		Str("job_id", jobID).
		Str("session_id", m.SessionID).
		Int("files", len(payload.Files)).
		Msg("submission queued")

	return nil
}

func (h *Handler) load(ctx context.Context, key string) ([]byte, error) {
	var data []byte

	err := retry.Do(func() error {
		rc, err := h.store.Load(ctx, key)
		if err != nil {
			return err
		}
		defer rc.Close()

		data, err = io.ReadAll(io.LimitReader(rc, h.maxFileSize+1))
		return err
	}, h.strategy)

	return data, err
}
