package cmd

import (
	"github.com/spf13/cobra"
)

func ConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "prints the effective configuration",
		Example: `  hlscast config
  HLSCAST_QUEUE_DRIVER=amqp hlscast config --config hlscast.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cfg.Export()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
