// Package notify fans pipeline events out to a user's live channels and
// prunes channels the push transport reports as gone.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"hlscast/internal/job"
	"hlscast/internal/metrics"
	"hlscast/internal/registry"
)

// ErrChannelGone is wrapped by pushers when the channel no longer exists.
var ErrChannelGone = errors.New("channel is gone")

// ErrChannelElsewhere is wrapped by pushers that can only reach their own
// channels when asked for one owned by another process. Such channels are
// left registered.
var ErrChannelElsewhere = errors.New("channel is held by another instance")

// Pusher delivers a payload to one live channel.
type Pusher interface {
	Push(ctx context.Context, channelID string, payload []byte) error
}

// PusherFunc adapts a function to Pusher.
type PusherFunc func(ctx context.Context, channelID string, payload []byte) error

func (f PusherFunc) Push(ctx context.Context, channelID string, payload []byte) error {
	return f(ctx, channelID, payload)
}

type Notifier struct {
	registry registry.Registry
	pusher   Pusher
	metrics  *metrics.Collector
}

func New(reg registry.Registry, pusher Pusher, collector *metrics.Collector) *Notifier {
	return &Notifier{registry: reg, pusher: pusher, metrics: collector}
}

// Notify pushes event to every channel registered for userID and returns how
// many pushes succeeded. A user with no live channels is not an error. Each
// channel is attempted once regardless of failures on the others; gone
// channels are unregistered on the spot.
func (n *Notifier) Notify(ctx context.Context, userID string, event job.Event) (int, error) {
	channels, err := n.registry.ActiveChannels(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("look up channels: %w", err)
	}
	if len(channels) == 0 {
		log.Debug().Str("userId", userID).Msg("no active connections")
		return 0, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, channelID := range channels {
		err := n.pusher.Push(ctx, channelID, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrChannelGone):
			log.Info().Str("userId", userID).Str("channelId", channelID).Msg("pruning stale connection")
			if err := n.registry.Unregister(ctx, channelID); err != nil {
				log.Error().Err(err).Str("channelId", channelID).Msg("failed to prune the connection")
				continue
			}
			n.metrics.ChannelPruned()
		case errors.Is(err, ErrChannelElsewhere):
			log.Debug().Str("userId", userID).Str("channelId", channelID).Msg("skipping connection held elsewhere")
		default:
			log.Error().Err(err).Str("userId", userID).Str("channelId", channelID).Msg("failed to push the notification")
			n.metrics.DeliveryFailed()
		}
	}

	n.metrics.Delivered(delivered)
	log.Debug().Str("userId", userID).Str("videoId", event.VideoID).Str("status", string(event.Status)).
		Int("channels", len(channels)).Int("delivered", delivered).Msg("notified user")
	return delivered, nil
}
