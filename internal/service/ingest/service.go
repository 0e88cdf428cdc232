package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/metrics"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/processor"
)

const untitledAlbum = "Untitled album"

// albumStore resolves the parent album of a batch.
type albumStore interface {
	CreateAlbum(ctx context.Context, album model.Album) (model.Album, error)
}

// fileProcessor runs the per-file derivation pipeline.
type fileProcessor interface {
	Process(ctx context.Context, in processor.Input) (model.CatalogRecord, error)
}

// memoryGate holds back file dispatch under memory pressure.
type memoryGate interface {
	Wait(ctx context.Context) error
}

// Service turns a batch of uploaded files into an album of catalog records.
type Service struct {
	albums          albumStore
	processor       fileProcessor
	gate            memoryGate
	fileConcurrency int
}

// NewService creates a Service that processes up to fileConcurrency files at once.
// gate may be nil.
func NewService(albums albumStore, p fileProcessor, gate memoryGate, fileConcurrency int) *Service {
	if fileConcurrency < 1 {
		fileConcurrency = 1
	}

	return &Service{
		albums:          albums,
		processor:       p,
		gate:            gate,
		fileConcurrency: fileConcurrency,
	}
}

// Run implements the scheduler runner.
func (s *Service) Run(ctx context.Context, jobID string, payload model.JobPayload) (model.JobResult, error) {
	result, err := s.Ingest(ctx, payload)
	if err != nil {
		return result, fmt.Errorf("job %s: %w", jobID, err)
	}

	return result, nil
}

// Ingest processes every file of payload under one album.
// A failed file never aborts the batch; it is reported in the result.
// The job fails only when the album cannot be resolved, the context is cancelled,
// or no file was ingested.
func (s *Service) Ingest(ctx context.Context, payload model.JobPayload) (model.JobResult, error) {
	if len(payload.Files) == 0 {
		return model.JobResult{}, model.ErrEmptyBatch
	}

	name := payload.ParentName
	if name == "" {
		name = payload.BatchLabel
	}
	if name == "" {
		name = untitledAlbum
	}

	album, err := s.albums.CreateAlbum(ctx, model.Album{
		OwnerID:    payload.OwnerID,
		Name:       name,
		BatchLabel: payload.BatchLabel,
	})
	if err != nil {
		return model.JobResult{}, fmt.Errorf("%w: album %q: %v", model.ErrCatalogWrite, name, err)
	}

	result := model.JobResult{AlbumID: album.ID}
	files := payload.Files

	for start := 0; start < len(files); start += s.fileConcurrency {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("ingest stopped after %d of %d files: %w", start, len(files), err)
		}

		end := min(start+s.fileConcurrency, len(files))
		if err := s.processBatch(ctx, album, files[start:end], &result); err != nil {
			return result, fmt.Errorf("ingest stopped after %d of %d files: %w", start, len(files), err)
		}
	}

	zlog.Logger.Info().
		Str("album_id", album.ID.String()).
		Str("session_id", payload.SessionID).
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Msg("batch ingested")

	if len(result.Succeeded) == 0 {
		return result, fmt.Errorf("%w: %w", model.ErrNoFilesIngested, zeroSuccessCause(result.Failed))
	}

	return result, nil
}

type outcome struct {
	record model.CatalogRecord
	err    error
}

// processBatch runs one batch concurrently and appends the outcomes in file order.
// It only returns an error when ctx is done while waiting on the memory gate.
func (s *Service) processBatch(ctx context.Context, album model.Album, batch []model.FileItem, result *model.JobResult) error {
	outcomes := make([]outcome, len(batch))
	var (
		wg       sync.WaitGroup
		gateErr  error
		launched int
	)

	for i, f := range batch {
		if s.gate != nil {
			if err := s.gate.Wait(ctx); err != nil {
				gateErr = err
				break
			}
		}

		launched++
		wg.Add(1)
		go func() {
			defer wg.Done()

			rec, err := s.processor.Process(ctx, processor.Input{
				OwnerID:  album.OwnerID,
				ParentID: album.ID,
				Filename: f.Name,
				MimeType: f.MimeType,
				Data:     f.Data,
			})
			outcomes[i] = outcome{record: rec, err: err}
		}()
	}
	wg.Wait()

	for i, o := range outcomes[:launched] {
		name := batch[i].Name

		if o.err != nil {
			kind := model.ErrorKind(o.err)
			result.Failed = append(result.Failed, model.FileFailure{
				Filename: name,
				Kind:     kind,
				Error:    o.err.Error(),
				Err:      o.err,
			})
			metrics.FilesProcessed.WithLabelValues(kind).Inc()

			zlog.Logger.Warn().
				Err(o.err).
				Str("filename", name).
				Str("kind", kind).
				Msg("file not ingested")
			continue
		}

		result.Succeeded = append(result.Succeeded, o.record)
		metrics.FilesProcessed.WithLabelValues("ok").Inc()
	}

	return gateErr
}

// zeroSuccessCause picks the error that decides whether a batch with no ingested
// file is retried: the first non-retryable file error if any, else the first error.
func zeroSuccessCause(failed []model.FileFailure) error {
	for _, f := range failed {
		if !model.IsRetryable(f.Err) {
			return f.Err
		}
	}

	return failed[0].Err
}
