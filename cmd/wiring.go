package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"hlscast/internal/config"
	"hlscast/internal/metrics"
	"hlscast/internal/queue"
	"hlscast/internal/registry"
)

func openRegistry(ctx context.Context, c config.RegistryConfig) (registry.Registry, func(), error) {
	switch c.Driver {
	case config.RegistryDriverMemory:
		log.Warn().Msg("using the in-memory connection registry; channels are not shared between instances")
		return registry.NewMemory(), func() {}, nil
	case config.RegistryDriverRedis:
		client := registry.NewRedisClient(registry.RedisOptions{
			Addr:      c.Addr,
			Password:  c.Password,
			DB:        c.DB,
			TLS:       c.TLS,
			KeyPrefix: c.KeyPrefix,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Addr, err)
		}
		log.Info().Str("addr", c.Addr).Msg("connected to redis")
		return registry.NewRedis(client, c.KeyPrefix), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry driver %q", c.Driver)
	}
}

func openSource(ctx context.Context, c config.QueueConfig) (queue.Source, error) {
	switch c.Driver {
	case config.QueueDriverSQS:
		source, err := queue.NewSQSSource(ctx, queue.SQSOptions{
			QueueURL:    c.URL,
			Region:      c.Region,
			WaitSeconds: c.WaitSeconds,
			MaxMessages: c.MaxMessages,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("queue", c.URL).Msg("polling sqs")
		return source, nil
	case config.QueueDriverAMQP:
		source, err := queue.DialAMQP(queue.AMQPOptions{
			URL:         c.URL,
			Queue:       c.Name,
			Wait:        time.Duration(c.WaitSeconds) * time.Second,
			MaxMessages: int(c.MaxMessages),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("queue", c.Name).Msg("consuming from RabbitMQ")
		return source, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", c.Driver)
	}
}

// serveMetrics exposes collector on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("failed to serve metrics")
	}
}
