package model

import (
	"context"
	"errors"
)

// Per-file validation failures. They are deterministic and never retried.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrImageTooLarge     = errors.New("image too large")
	ErrCorruptImage      = errors.New("corrupt image")
	ErrEncodeTimeout     = errors.New("encode timed out")
)

// Transient failures.
var (
	ErrUploadFailure = errors.New("upload failed")
	ErrCatalogWrite  = errors.New("catalog write failed")
)

// Scheduling failures.
var (
	ErrBackpressureRejected = errors.New("queue is full")
	ErrNoFilesIngested      = errors.New("no file in the batch was ingested")
	ErrEmptyBatch           = errors.New("batch has no files")
	ErrInvalidSubmission    = errors.New("invalid submission")
	ErrJobCancelled         = errors.New("job cancelled")
)

// IsRetryable reports whether a job that failed with err may be retried.
// Unclassified errors are retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrJobCancelled), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrUploadFailure), errors.Is(err, ErrCatalogWrite):
		return true
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrImageTooLarge),
		errors.Is(err, ErrCorruptImage),
		errors.Is(err, ErrEncodeTimeout),
		errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrInvalidSubmission):
		return false
	}

	return true
}

// ErrorKind returns a stable identifier for err, used in API payloads and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFilesIngested):
		return "no_files_ingested"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, ErrImageTooLarge):
		return "image_too_large"
	case errors.Is(err, ErrCorruptImage):
		return "corrupt_image"
	case errors.Is(err, ErrEncodeTimeout):
		return "encode_timeout"
	case errors.Is(err, ErrUploadFailure):
		return "upload_failure"
	case errors.Is(err, ErrCatalogWrite):
		return "catalog_write_failure"
	case errors.Is(err, ErrBackpressureRejected):
		return "backpressure_rejected"
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.Is(err, ErrInvalidSubmission):
		return "invalid_submission"
	case errors.Is(err, ErrJobCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	}

	return "internal"
}
