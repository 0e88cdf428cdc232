package main

import (
	"context"
	"fmt"
	"io"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/config"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/hostres"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/processor"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/repository/catalog"
	ingestsvc "github.com/galhardo1999/albumcraft-pro-sub000/internal/service/ingest"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/storage/file"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/storage/s3"
)

// blobStore is what both storage drivers provide.
type blobStore interface {
	processor.BlobStore
	Load(ctx context.Context, key string) (io.ReadCloser, error)
}

// pipeline bundles the components shared by the serve and ingest commands.
type pipeline struct {
	db       *dbpg.DB
	catalog  *catalog.Repository
	blobs    blobStore // nil when no driver is configured
	service  *ingestsvc.Service
	host     hostres.HostInfo
	limits   hostres.Limits
	strategy retry.Strategy
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	db, err := connectDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := catalog.Migrate(db.Master); err != nil {
		closeDB(db)
		return nil, err
	}

	// Retry strategy for Kafka, uploads and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	host := hostres.Detect()
	limits := hostres.ComputeConcurrency(host)
	if cfg.Ingest.JobConcurrency > 0 {
		limits.JobConcurrency = cfg.Ingest.JobConcurrency
	}
	if cfg.Ingest.FileConcurrency > 0 {
		limits.FileConcurrency = cfg.Ingest.FileConcurrency
	}
	gate := hostres.NewGate(hostres.MemoryCeiling(host, cfg.Ingest.MemoryHeadroomFraction))

	zlog.Logger.Info().
		Int("cpus", host.CPUs).
		Int("job_concurrency", limits.JobConcurrency).
		Int("file_concurrency", limits.FileConcurrency).
		Uint64("memory_ceiling", gate.Ceiling()).
		Msg("concurrency limits resolved")

	variants, err := cfg.Ingest.VariantSpecs()
	if err != nil {
		closeDB(db)
		return nil, err
	}

	repo := catalog.NewRepository(db)

	var store processor.BlobStore
	if blobs != nil {
		store = blobs
	}
	p := processor.New(processor.Config{
		MaxFileSize:   cfg.Ingest.MaxFileSizeBytes,
		MaxMegapixels: cfg.Ingest.MaxMegapixels,
		EncodeTimeout: cfg.Ingest.EncodeTimeout,
		UploadTimeout: cfg.Ingest.UploadTimeout,
		EncodeWorkers: cfg.Ingest.EncodeWorkers,
		Variants:      variants,
		Watermark: processor.Watermark{
			Text:     cfg.Ingest.Watermark.Text,
			FontPath: cfg.Ingest.Watermark.FontPath,
		},
		Retry: strategy,
	}, store, repo)

	return &pipeline{
		db:       db,
		catalog:  repo,
		blobs:    blobs,
		service:  ingestsvc.NewService(repo, p, gate, limits.FileConcurrency),
		host:     host,
		limits:   limits,
		strategy: strategy,
	}, nil
}

func (p *pipeline) close() {
	closeDB(p.db)
}

// connectDB connects to PostgreSQL (master and slaves).
func connectDB(cfg config.Database) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func closeDB(db *dbpg.DB) {
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}
}

// newBlobStore connects the configured driver. It returns nil without error when
// storage is disabled, which makes the processor embed variants.
func newBlobStore(ctx context.Context, cfg config.Storage) (blobStore, error) {
	switch cfg.Driver {
	case config.StorageMinIO:
		s, err := file.NewStorage(ctx, file.Options{
			Endpoint:   cfg.Endpoint,
			AccessKey:  cfg.AccessKey,
			SecretKey:  cfg.SecretKey,
			BucketName: cfg.BucketName,
			UseSSL:     cfg.UseSSL,
			PublicURL:  cfg.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
		return s, nil
	case config.StorageS3:
		s, err := s3.NewStorage(ctx, s3.Options{
			BucketName: cfg.BucketName,
			Region:     cfg.Region,
			Endpoint:   cfg.Endpoint,
			PublicURL:  cfg.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to storage: %w", err)
		}
		return s, nil
	}

	zlog.Logger.Warn().Msg("no blob store configured, photos will be embedded as data URIs")

	return nil, nil
}
