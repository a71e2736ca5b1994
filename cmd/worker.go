package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hlscast/internal/config"
	"hlscast/internal/consumer"
	"hlscast/internal/metrics"
	"hlscast/internal/notify"
	"hlscast/internal/objectstore"
	"hlscast/internal/status"
	"hlscast/internal/transcode"
)

func WorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "consumes upload events and transcodes them into HLS renditions",
		Long: `Polls the job queue, transcodes each uploaded video into the configured
rendition ladder, uploads the result, marks the video ready and notifies its
owner. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	log.Info().Msg("using ffmpeg backend")
	backend := &transcode.FfmpegBackend{Binary: cfg.Transcode.FFmpeg}
	if !backend.IsAvailable() {
		return fmt.Errorf("ffmpeg backend: %w", transcode.ErrBackendUnavailable)
	}
	transcoder := transcode.New(backend, cfg.Transcode.Renditions, transcode.Options{
		SegmentSeconds: cfg.Transcode.SegmentSeconds,
		ReferenceWidth: cfg.Transcode.ReferenceWidth,
		Parallel:       cfg.Transcode.Parallel,
	})

	storeOpts := objectstore.Options{
		Region:        cfg.Storage.Region,
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UsePathStyle:  cfg.Storage.UsePathStyle,
		OutputBucket:  cfg.Storage.OutputBucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Concurrency:   cfg.Storage.UploadConcurrency,
	}
	s3Client, err := objectstore.NewS3API(ctx, storeOpts)
	if err != nil {
		return fmt.Errorf("failed to load S3 config: %w", err)
	}
	store, err := objectstore.New(s3Client, storeOpts)
	if err != nil {
		return err
	}

	statusStore, err := status.NewPostgresStore(ctx, status.Options{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		ApplicationName: "hlscast-worker",
	})
	if err != nil {
		return fmt.Errorf("failed to open the status store: %w", err)
	}
	defer statusStore.Close()

	collector := metrics.NewCollector()
	notifier, closeNotifier, err := openNotifier(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer closeNotifier()

	source, err := openSource(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to open the job queue: %w", err)
	}
	defer source.Close()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, collector)
	}

	c := consumer.New(consumer.Deps{
		Source:     source,
		Store:      store,
		Transcoder: transcoder,
		Status:     statusStore,
		Notifier:   notifier,
		Metrics:    collector,
	}, consumer.Options{
		ScratchDir:        cfg.Transcode.ScratchDir,
		IdleDelay:         cfg.Queue.IdleDelay,
		VisibilityTimeout: visibilityTimeout(cfg.Queue),
		AckAttempts:       cfg.Queue.AckAttempts,
		MaxReceives:       cfg.Queue.MaxReceives,
	})
	err = c.Run(ctx)
	log.Info().Msg("worker stopped")
	return err
}

// visibilityTimeout only applies to SQS; AMQP deliveries stay with the
// consumer until acknowledged.
func visibilityTimeout(q config.QueueConfig) time.Duration {
	if q.Driver != config.QueueDriverSQS {
		return 0
	}
	return q.VisibilityTimeout
}

// openNotifier returns the worker's side of notification delivery: either a
// client of a running notifier server, or an in-process fan-out through API
// Gateway managed connections.
func openNotifier(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (consumer.Notifier, func(), error) {
	switch cfg.Notifier.Mode {
	case config.NotifierModeHTTP:
		if cfg.Notifier.Endpoint == "" {
			log.Warn().Msg("no notifier endpoint configured; notifications are disabled")
			return nil, func() {}, nil
		}
		return notify.NewHTTPClient(cfg.Notifier.Endpoint, cfg.Notifier.RequestTimeout), func() {}, nil
	case config.NotifierModeAPIGateway:
		pusher, err := notify.NewAPIGatewayPusher(ctx, cfg.Notifier.GatewayEndpoint, cfg.Notifier.Region)
		if err != nil {
			return nil, nil, err
		}
		reg, closeRegistry, err := openRegistry(ctx, cfg.Registry)
		if err != nil {
			return nil, nil, err
		}
		return notify.New(reg, pusher, collector), closeRegistry, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier mode %q", cfg.Notifier.Mode)
	}
}
