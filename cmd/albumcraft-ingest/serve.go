package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	ingesthandler "github.com/galhardo1999/albumcraft-pro-sub000/internal/api/handlers/ingest"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/api/router"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/api/server"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/config"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/infra/kafka/consumer"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/infra/kafka/producer"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/kafka/handlers/submission"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/scheduler"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job scheduler and the Kafka consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), config.MustLoad(*configPath))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	pl, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pl.close()

	var opts []scheduler.Option

	var p *producer.Producer
	if cfg.Kafka.Enabled {
		p = producer.New(&cfg.Kafka, pl.strategy)
		opts = append(opts, scheduler.WithNotifier(p))
	}

	sched := scheduler.New(scheduler.Config{
		JobConcurrency: pl.limits.JobConcurrency,
		MaxAttempts:    cfg.Ingest.MaxAttempts,
		MaxQueueDepth:  cfg.Ingest.MaxQueueDepth,
		HistoryLimit:   cfg.Ingest.HistoryLimit,
		NudgeInterval:  cfg.Ingest.NudgeInterval,
	}, pl.service, opts...)
	sched.Start(ctx)

	// Kafka consumer for batches staged in the blob store.
	var (
		wg sync.WaitGroup
		c  *consumer.Consumer
	)
	switch {
	case !cfg.Kafka.Enabled:
	case pl.blobs == nil:
		zlog.Logger.Warn().Msg("kafka submissions need a blob store, consumer not started")
	default:
		h := submission.NewHandler(pl.blobs, sched, cfg.Ingest.MaxFileSizeBytes, pl.strategy)
		c = consumer.New(&cfg.Kafka, pl.strategy, h)

		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	// Start HTTP server in a separate goroutine.
	h := ingesthandler.NewHandler(sched, pl.service, pl.catalog, cfg.Server.MaxUploadSize, cfg.Ingest.MaxFileSizeBytes)
	s := server.New(cfg.Server.HTTPPort, router.Setup(h))
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("server started")

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Wait for Kafka consumer goroutine to finish before the scheduler stops accepting.
	wg.Wait()

	if abandoned := sched.Shutdown(shutdownCtx); abandoned > 0 {
		zlog.Logger.Warn().Int("jobs", abandoned).Msg("waiting jobs dropped on shutdown")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close Kafka producer and consumer clients.
	if p != nil {
		if err := p.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}

	return nil
}
