package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	goretry "github.com/sethvargo/go-retry"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/config"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

const (
	// maxRedeliveries bounds how often a message failing with a retryable error other
	// than backpressure is handled again before it is committed and dropped.
	maxRedeliveries = 5
	maxBackoff      = 30 * time.Second
	minBackoff      = 100 * time.Millisecond
)

// handler processes one submission message.
type handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// client is the part of the Kafka consumer used here.
type client interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer reads batch submissions from Kafka and passes them to the handler.
type Consumer struct {
	Client   client
	handler  handler
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Consumer on the submission topic.
func New(
	cfg *config.Kafka,
	s retry.Strategy,
	h handler,
) *Consumer {
	return newConsumer(wbfkafka.NewConsumer(cfg.Brokers, cfg.SubmissionTopic, cfg.GroupID), cfg, s, h)
}

func newConsumer(c client, cfg *config.Kafka, s retry.Strategy, h handler) *Consumer {
	return &Consumer{
		Client:   c,
		handler:  h,
		cfg:      cfg,
		strategy: s,
	}
}

// Consume continuously fetches messages, hands them to the handler and commits them.
// Messages failing with a retryable error are handled again after a backoff and stay
// uncommitted until then; a full queue is waited out without limit.
// It stops on context cancellation, leaving an unfinished message uncommitted.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.cfg.SubmissionTopic).
		Msg("starting consumer")

	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if !c.handle(ctx, msg) {
			continue
		}

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Msg("message handled")
	}
}

// handle runs the handler until msg is done with and reports whether it may be committed.
// It returns false only when ctx ends first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	base := c.strategy.Delay
	if base <= 0 {
		base = minBackoff
	}
	backoff := goretry.WithCappedDuration(maxBackoff, goretry.NewExponential(base))

	redeliveries := 0
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.handler.Handle(ctx, msg)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return err
		case !model.IsRetryable(err):
			zlog.Logger.Err(err).
				Int64("offset", msg.Offset).
				Msg("submission rejected, skipping message")
			return nil
		}

		if !errors.Is(err, model.ErrBackpressureRejected) {
			redeliveries++
			if redeliveries > maxRedeliveries {
				zlog.Logger.Err(err).
					Int64("offset", msg.Offset).
					Int("attempts", redeliveries).
					Msg("submission still failing, skipping message")
				return nil
			}
		}

		zlog.Logger.Warn().Err(err).
			Int64("offset", msg.Offset).
			Msg("failed to handle submission, retrying")

		return goretry.RetryableError(err)
	})

	return err == nil
}
