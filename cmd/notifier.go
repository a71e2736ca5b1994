package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hlscast/internal/gateway"
	"hlscast/internal/metrics"
)

func NotifierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifier",
		Short: "serves client WebSockets and fans notify triggers out to them",
		Long: `Accepts WebSocket connections on /ws, records {"action":"register","userId":...}
messages in the connection registry and pushes events posted to /notify to
every live connection of the user. Metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg, closeRegistry, err := openRegistry(ctx, cfg.Registry)
			if err != nil {
				return err
			}
			defer closeRegistry()

			srv := gateway.New(gateway.Config{
				Registry:     reg,
				Metrics:      metrics.NewCollector(),
				InstanceID:   instanceID(cfg.Notifier.InstanceID),
				WriteTimeout: cfg.Notifier.WriteTimeout,
				Heartbeat:    cfg.Notifier.Heartbeat,
			})
			err = srv.Run(ctx, cfg.Notifier.Listen)
			log.Info().Msg("notifier stopped")
			return err
		},
	}
}

// instanceID falls back to the hostname so a restarted notifier recognises
// the channels its previous run left behind.
func instanceID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
