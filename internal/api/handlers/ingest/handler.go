package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/api/respond"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/repository/catalog"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/scheduler"
)

const multipartMemory = 32 << 20

// jobScheduler queues jobs and reports their state.
type jobScheduler interface {
	Submit(payload model.JobPayload, priority int) (string, error)
	Get(id string) (model.Job, bool)
	Stats() model.QueueStats
	StatsForSession(sessionID string) model.QueueStats
	CancelSession(sessionID string) int
}

// ingester processes a batch in the request goroutine.
type ingester interface {
	Ingest(ctx context.Context, payload model.JobPayload) (model.JobResult, error)
}

// photoReader reads the catalog.
type photoReader interface {
	GetPhoto(ctx context.Context, id uuid.UUID) (model.CatalogRecord, error)
	ListAlbumPhotos(ctx context.Context, albumID uuid.UUID) ([]model.CatalogRecord, error)
}

// Handler provides HTTP handlers for batch ingestion and queue inspection.
type Handler struct {
	scheduler     jobScheduler
	ingester      ingester
	photos        photoReader
	maxUploadSize int64
	maxFileSize   int64
}

// NewHandler creates a new Handler. Request bodies are limited to maxUploadSize bytes
// and every file is read up to maxFileSize+1 bytes.
func NewHandler(s jobScheduler, i ingester, photos photoReader, maxUploadSize, maxFileSize int64) *Handler {
	return &Handler{
		scheduler:     s,
		ingester:      i,
		photos:        photos,
		maxUploadSize: maxUploadSize,
		maxFileSize:   maxFileSize,
	}
}

// SubmitResponse is returned for a queued batch.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Submit handles a multipart batch upload. With sync=true the batch is ingested
// before responding, otherwise it is queued.
func (h *Handler) Submit(c *ginext.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	ownerID := c.PostForm("owner_id")
	if ownerID == "" {
		respond.Fail(c, http.StatusBadRequest, errors.New("owner_id is required"))
		return
	}

	priority := 0
	if p := c.PostForm("priority"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid priority: %v", err))
			return
		}
		priority = v
	}

	headers := c.Request.MultipartForm.File["files"]
	if len(headers) == 0 {
		respond.FailKind(c, http.StatusBadRequest, model.ErrorKind(model.ErrEmptyBatch), model.ErrEmptyBatch)
		return
	}

	payload := model.JobPayload{
		OwnerID:    ownerID,
		BatchLabel: c.PostForm("batch_label"),
		ParentName: c.PostForm("parent_name"),
		SessionID:  c.PostForm("session_id"),
		Files:      make([]model.FileItem, 0, len(headers)),
	}

	for _, fh := range headers {
		item, err := h.readFile(fh)
		if err != nil {
			zlog.Logger.Err(err).Str("filename", fh.Filename).Msg("failed to read uploaded file")
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to read %s", fh.Filename))
			return
		}
		payload.Files = append(payload.Files, item)
	}

	if c.PostForm("sync") == "true" {
		h.ingestNow(c, payload)
		return
	}

	jobID, err := h.scheduler.Submit(payload, priority)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("session_id", payload.SessionID).Msg("submission rejected")
		respond.FailKind(c, statusFor(err), model.ErrorKind(err), err)
		return
	}

	respond.Accepted(c, SubmitResponse{JobID: jobID, Status: "queued"})
}

func (h *Handler) ingestNow(c *ginext.Context, payload model.JobPayload) {
	result, err := h.ingester.Ingest(c.Request.Context(), payload)
	if err != nil {
		zlog.Logger.Err(err).Str("session_id", payload.SessionID).Msg("synchronous ingest failed")

		if errors.Is(err, model.ErrNoFilesIngested) {
			respond.JSON(c, statusFor(err), respond.Success{Result: result})
			return
		}
		respond.FailKind(c, statusFor(err), model.ErrorKind(err), err)
		return
	}

	respond.OK(c, result)
}

func (h *Handler) readFile(fh *multipart.FileHeader) (model.FileItem, error) {
	f, err := fh.Open()
	if err != nil {
		return model.FileItem{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxFileSize+1))
	if err != nil {
		return model.FileItem{}, err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	return model.FileItem{
		Name:     fh.Filename,
		Size:     fh.Size,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// GetJob returns the state of a job.
func (h *Handler) GetJob(c *ginext.Context) {
	job, ok := h.scheduler.Get(c.Param("id"))
	if !ok {
		respond.Fail(c, http.StatusNotFound, errors.New("job not found"))
		return
	}

	respond.OK(c, job)
}

// Stats returns the global queue counters.
func (h *Handler) Stats(c *ginext.Context) {
	respond.OK(c, h.scheduler.Stats())
}

// SessionStats returns the counters of one upload session.
func (h *Handler) SessionStats(c *ginext.Context) {
	respond.OK(c, h.scheduler.StatsForSession(c.Param("id")))
}

// CancelSession fails the waiting jobs of a session and stops its running ones.
func (h *Handler) CancelSession(c *ginext.Context) {
	n := h.scheduler.CancelSession(c.Param("id"))

	respond.OK(c, map[string]int{"cancelled": n})
}

// GetPhoto returns one catalog record.
func (h *Handler) GetPhoto(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return
	}

	rec, err := h.photos.GetPhoto(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrPhotoNotFound) {
			respond.Fail(c, http.StatusNotFound, errors.New("photo not found"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to get photo")
		respond.Fail(c, http.StatusInternalServerError, errors.New("failed to get photo"))
		return
	}

	respond.OK(c, rec)
}

// ListAlbumPhotos returns the catalog records of an album.
func (h *Handler) ListAlbumPhotos(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return
	}

	photos, err := h.photos.ListAlbumPhotos(c.Request.Context(), id)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to list album photos")
		respond.Fail(c, http.StatusInternalServerError, errors.New("failed to list album photos"))
		return
	}
	if photos == nil {
		photos = []model.CatalogRecord{}
	}

	respond.OK(c, photos)
}

// statusFor maps a job error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrBackpressureRejected):
		return http.StatusTooManyRequests
	case errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNoFilesIngested):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUploadFailure), errors.Is(err, model.ErrCatalogWrite):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	}

	return http.StatusInternalServerError
}
