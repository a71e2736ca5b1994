package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hlscast/internal/config"
	"hlscast/internal/logging"
)

const (
	FlagConfig    = "config"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.Config

// RootCmd creates the hlscast command tree. Configuration comes from
// defaults, the optional --config file, HLSCAST_* variables and flags, in
// increasing priority.
func RootCmd() *cobra.Command {
	r := &cobra.Command{
		Use:           "hlscast",
		Short:         "hlscast turns uploaded videos into HLS ladders and tells their owners when they are ready.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString(FlagConfig)
			if err != nil {
				return err
			}
			loaded, err := config.Load(viper.GetViper(), path)
			if err != nil {
				return err
			}
			cfg = loaded
			logging.Setup(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	r.PersistentFlags().String(FlagConfig, "", "path to a YAML config file")
	r.PersistentFlags().String(FlagLogLevel, "info", "log level. debug|info|warn|error")
	r.PersistentFlags().String(FlagLogFormat, logging.FormatConsole, "log format. console|json")

	mustBind("log.level", r, FlagLogLevel)
	mustBind("log.format", r, FlagLogFormat)

	r.AddCommand(WorkerCmd(), NotifierCmd(), ConfigCmd(), VersionCmd())
	return r
}

func mustBind(key string, r *cobra.Command, flag string) {
	if err := viper.BindPFlag(key, r.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
