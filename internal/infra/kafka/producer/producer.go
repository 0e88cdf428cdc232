package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/config"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

const publishTimeout = 10 * time.Second

// JobEvent is published when a job reaches a terminal status.
type JobEvent struct {
	JobID      string              `json:"job_id"`
	SessionID  string              `json:"session_id"`
	OwnerID    string              `json:"owner_id"`
	BatchLabel string              `json:"batch_label"`
	Status     model.JobStatus     `json:"status"`
	Attempts   int                 `json:"attempts"`
	Error      string              `json:"error,omitempty"`
	AlbumID    string              `json:"album_id,omitempty"`
	Succeeded  int                 `json:"succeeded"`
	Failed     []model.FileFailure `json:"failed,omitempty"`
	FinishedAt time.Time           `json:"finished_at"`
}

// NewJobEvent summarizes job for publishing.
func NewJobEvent(job model.Job) JobEvent {
	ev := JobEvent{
		JobID:      job.ID,
		SessionID:  job.Payload.SessionID,
		OwnerID:    job.Payload.OwnerID,
		BatchLabel: job.Payload.BatchLabel,
		Status:     job.Status,
		Attempts:   job.Attempts,
		Error:      job.LastError,
		FinishedAt: job.FinishedAt,
	}
	if job.Result != nil {
		ev.AlbumID = job.Result.AlbumID.String()
		ev.Succeeded = len(job.Result.Succeeded)
		ev.Failed = job.Result.Failed
	}

	return ev
}

// Producer publishes job events to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer writing to the events topic.
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.EventsTopic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Produce serializes the event to JSON and sends it to Kafka.
// The job id is used as the message key for partitioning and ordering.
func (p *Producer) Produce(ctx context.Context, ev JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, []byte(ev.JobID), data); err != nil {
		return fmt.Errorf("failed to send job event: %w", err)
	}

	return nil
}

// JobFinished publishes the terminal state of job. Failures are logged only.
func (p *Producer) JobFinished(ctx context.Context, job model.Job) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.Produce(ctx, NewJobEvent(job)); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("topic", p.cfg.EventsTopic).
			Msg("failed to publish job event")
	}
}
