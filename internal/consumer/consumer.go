// Package consumer runs the job loop: poll the queue, transcode each upload,
// publish the rendition tree, record it and tell the owner. A message is
// acknowledged only once the status store holds the manifest reference.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hlscast/internal/job"
	"hlscast/internal/logging"
	"hlscast/internal/metrics"
	"hlscast/internal/queue"
	"hlscast/internal/retry"
	"hlscast/internal/transcode"
)

var errPoison = errors.New("poison message")

type ObjectStore interface {
	Metadata(ctx context.Context, bucket, key string) (map[string]string, error)
	Download(ctx context.Context, bucket, key, dest string) error
	// UploadTree publishes root under prefix and returns the public
	// reference of the master manifest.
	UploadTree(ctx context.Context, root, prefix, masterName string) (string, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, outputDir string) (*transcode.Output, error)
}

// StatusStore updates are conditional on (videoID, ownerID) and report
// whether a record was affected.
type StatusStore interface {
	MarkProcessing(ctx context.Context, videoID, ownerID string) (bool, error)
	MarkReady(ctx context.Context, videoID, ownerID, masterURL string) (bool, error)
	MarkFailed(ctx context.Context, videoID, ownerID string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, event job.Event) (int, error)
}

type Deps struct {
	Source     queue.Source
	Store      ObjectStore
	Transcoder Transcoder
	Status     StatusStore
	// Notifier may be nil, in which case no events are sent.
	Notifier Notifier
	Metrics  *metrics.Collector
}

type Options struct {
	// ScratchDir holds per-job working directories, os.TempDir() when empty.
	ScratchDir string
	IdleDelay  time.Duration
	// VisibilityTimeout is applied when a job starts and re-applied every half
	// period while it runs.
	VisibilityTimeout time.Duration
	AckAttempts       int
	MaxReceives       int
}

type Consumer struct {
	Deps
	opts   Options
	logger zerolog.Logger
}

func New(deps Deps, opts Options) *Consumer {
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.AckAttempts < 1 {
		opts.AckAttempts = 3
	}
	return &Consumer{Deps: deps, opts: opts, logger: logging.Component("consumer")}
}

// Run polls until ctx is cancelled or the source reports queue.ErrClosed.
// Other receive errors are logged and retried after the idle delay.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("waiting for messages")
	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := c.Source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				c.logger.Error().Err(err).Msg("job queue closed, stopping")
				return err
			}
			c.logger.Error().Err(err).Msg("failed to receive messages")
			sleep(ctx, c.opts.IdleDelay)
			continue
		}
		if len(messages) == 0 {
			sleep(ctx, c.opts.IdleDelay)
			continue
		}

		for _, msg := range messages {
			c.Process(ctx, msg)
		}
	}
}

// Process handles one delivery to completion and returns its outcome
// (metrics.OutcomeOK, OutcomeFailed or OutcomePoison).
func (c *Consumer) Process(ctx context.Context, msg queue.Message) string {
	start := time.Now()
	outcome := c.process(ctx, msg)
	c.Metrics.JobFinished(outcome, time.Since(start))
	return outcome
}

func (c *Consumer) process(ctx context.Context, msg queue.Message) string {
	logger := c.logger.With().Str("messageId", msg.ID).Logger()

	j, err := c.resolve(ctx, msg)
	if err != nil {
		if errors.Is(err, errPoison) {
			logger.Warn().Err(err).Msg("dropping poison message")
			if err := c.ack(ctx, msg, logger); err != nil {
				return metrics.OutcomeFailed
			}
			return metrics.OutcomePoison
		}
		logger.Error().Err(err).Msg("failed to resolve the job")
		c.release(ctx, msg, logger)
		return metrics.OutcomeFailed
	}

	logger = logger.With().Str("key", j.Key).Str("userId", j.OwnerID).Str("videoId", j.VideoID).Logger()
	logger.Info().Int("receiveCount", j.ReceiveCount).Msg("received a job")

	stop := c.keepVisible(ctx, msg, logger)
	err = c.run(ctx, j, logger)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("failed to process the job")
		c.giveUp(ctx, j, logger)
		c.release(ctx, msg, logger)
		return metrics.OutcomeFailed
	}

	if err := c.ack(ctx, msg, logger); err != nil {
		return metrics.OutcomeFailed
	}
	logger.Info().Msg("successfully processed the job")
	return metrics.OutcomeOK
}

// resolve parses the storage event and reads the owner and video id from the
// source object's metadata. Unparseable bodies and missing metadata wrap
// errPoison.
func (c *Consumer) resolve(ctx context.Context, msg queue.Message) (*job.Job, error) {
	bucket, key, err := job.ParseBody(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errPoison, err)
	}

	j := &job.Job{
		MessageID:     msg.ID,
		ReceiptHandle: msg.ReceiptHandle,
		ReceiveCount:  msg.ReceiveCount,
		Bucket:        bucket,
		Key:           key,
	}
	metadata, err := c.Store.Metadata(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if err := j.ApplyMetadata(metadata); err != nil {
		if errors.Is(err, job.ErrMissingMetadata) {
			return nil, fmt.Errorf("%w: %s: %w", errPoison, key, err)
		}
		return nil, err
	}
	return j, nil
}

func (c *Consumer) run(ctx context.Context, j *job.Job, logger zerolog.Logger) error {
	c.notify(ctx, j, job.StatusProcessing, logger)
	if updated, err := c.Status.MarkProcessing(ctx, j.VideoID, j.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("failed to record the processing status")
	} else if !updated {
		logger.Debug().Msg("video was not in the uploaded state")
	}

	scratch := filepath.Join(c.opts.ScratchDir, "hlscast-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn().Err(err).Str("path", scratch).Msg("failed to remove the scratch directory")
		}
	}()

	source := filepath.Join(scratch, "source"+filepath.Ext(j.Key))
	if err := c.Store.Download(ctx, j.Bucket, j.Key, source); err != nil {
		return err
	}

	out, err := c.Transcoder.Transcode(ctx, source, filepath.Join(scratch, "output"))
	if err != nil {
		return err
	}

	masterURL, err := c.Store.UploadTree(ctx, out.Dir, j.VideoID, transcode.MasterName)
	if err != nil {
		return err
	}

	updated, err := c.Status.MarkReady(ctx, j.VideoID, j.OwnerID, masterURL)
	if err != nil {
		return err
	}
	if !updated {
		logger.Warn().Str("url", masterURL).Msg("no video record matched the ready update")
		return nil
	}
	logger.Info().Str("url", masterURL).Msg("video is ready")

	c.notify(ctx, j, job.StatusReady, logger)
	return nil
}

// giveUp marks the video failed once the delivery has used up its receives,
// just before the queue dead-letters it.
func (c *Consumer) giveUp(ctx context.Context, j *job.Job, logger zerolog.Logger) {
	if c.opts.MaxReceives <= 0 || j.ReceiveCount < c.opts.MaxReceives || ctx.Err() != nil {
		return
	}
	updated, err := c.Status.MarkFailed(ctx, j.VideoID, j.OwnerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record the failed status")
		return
	}
	if updated {
		logger.Warn().Int("receiveCount", j.ReceiveCount).Msg("video marked failed")
		c.notify(ctx, j, job.StatusFailed, logger)
	}
}

// notify is best-effort: errors are logged and never fail the job.
func (c *Consumer) notify(ctx context.Context, j *job.Job, status job.Status, logger zerolog.Logger) {
	if c.Notifier == nil {
		return
	}
	delivered, err := c.Notifier.Notify(ctx, j.OwnerID, job.NewEvent(j.OwnerID, j.VideoID, status))
	if err != nil {
		logger.Warn().Err(err).Str("status", string(status)).Msg("failed to send the notification")
		return
	}
	logger.Debug().Str("status", string(status)).Int("delivered", delivered).Msg("sent the notification")
}

// ack deletes the message, retrying immediately up to AckAttempts times. It
// survives cancellation of ctx because the job's effects are already
// durable.
func (c *Consumer) ack(ctx context.Context, msg queue.Message, logger zerolog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	err := retry.Immediate(c.opts.AckAttempts).Do(ctx, func(ctx context.Context) error {
		return c.Source.Ack(ctx, msg)
	}, func(attempt int, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to acknowledge the message")
	})
	if err != nil {
		c.Metrics.AckFailed()
		logger.Error().Err(err).Msg("giving up on acknowledging the message")
	}
	return err
}

func (c *Consumer) release(ctx context.Context, msg queue.Message, logger zerolog.Logger) {
	if err := c.Source.Release(context.WithoutCancel(ctx), msg); err != nil {
		logger.Error().Err(err).Msg("failed to release the message")
	}
}

// keepVisible extends the message's visibility at once and then every half
// timeout until the returned stop function is called.
func (c *Consumer) keepVisible(ctx context.Context, msg queue.Message, logger zerolog.Logger) (stop func()) {
	timeout := c.opts.VisibilityTimeout
	if timeout <= 0 {
		return func() {}
	}

	extend := func() {
		if err := c.Source.Extend(ctx, msg, timeout); err != nil {
			logger.Warn().Err(err).Msg("failed to extend the message visibility")
		}
	}
	// the queue's own timeout may be shorter than ours
	extend()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(timeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				extend()
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
