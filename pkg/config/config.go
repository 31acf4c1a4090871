package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neverbiasu/civitai-dl/pkg/optname"
)

const DefaultBaseURL = "https://civitai.com/api/v1"

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().String(optname.APIKey, "", "Civitai API key, passed as a Bearer token on metadata calls and as a token query parameter on downloads")
	cmd.PersistentFlags().String(optname.BaseURL, DefaultBaseURL, "Base URL of the Civitai REST API")
	cmd.PersistentFlags().IntP(optname.MaxWorkers, "w", 3, "Maximum number of concurrent download workers")
	cmd.PersistentFlags().String(optname.ChunkSize, "64K", "Read chunk size used when streaming a download to disk (e.g. 64K, 1M)")
	cmd.PersistentFlags().IntP(optname.Retries, "r", 3, "Number of retries for an interrupted transfer")
	cmd.PersistentFlags().Duration(optname.RetryDelay, 2*time.Second, "Base delay between transfer retries, doubled on each attempt")
	cmd.PersistentFlags().Duration(optname.MinRequestInterval, time.Second, "Minimum interval between API requests")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 30*time.Second, "Timeout for a single HTTP call, format is <number><unit>, e.g. 30s")
	cmd.PersistentFlags().StringP(optname.OutputDir, "o", "./downloads", "Directory downloads are written to")
	cmd.PersistentFlags().BoolP(optname.Force, "f", false, "Force download, overwriting existing complete files")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")

	viper.SetEnvPrefix("CIVITAI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}

	return nil
}

func PersistentStartupProcessFlags() error {
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(optname.LoggingLevel))
	return nil
}

func setLogLevel(logLevel string) {
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
