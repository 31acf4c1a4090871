package cli

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/neverbiasu/civitai-dl/pkg/api"
	"github.com/neverbiasu/civitai-dl/pkg/download"
	"github.com/neverbiasu/civitai-dl/pkg/logging"
	"github.com/neverbiasu/civitai-dl/pkg/optname"
)

const UsageTemplate = `
Usage:{{if .Runnable}}
{{if .HasAvailableFlags}}{{appendIfNotPresent .UseLine "[flags]"}}{{else}}{{.UseLine}}{{end}}{{end}}{{if .HasAvailableSubCommands}}
{{.CommandPath}} [command]{{end}}{{if gt .Aliases 0}}

Aliases:
{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
{{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

// NewAPIClient builds the rate-limited API client from the bound flags.
func NewAPIClient() *api.Client {
	return api.NewClient(api.Options{
		BaseURL:            viper.GetString(optname.BaseURL),
		APIKey:             viper.GetString(optname.APIKey),
		Timeout:            viper.GetDuration(optname.ConnTimeout),
		MinRequestInterval: viper.GetDuration(optname.MinRequestInterval),
		MaxRetries:         viper.GetInt(optname.Retries),
	})
}

// NewEngine builds the download engine from the bound flags and wires
// progress reporting into the logger.
func NewEngine() (*download.Engine, error) {
	chunkSize, err := humanize.ParseBytes(viper.GetString(optname.ChunkSize))
	if err != nil {
		return nil, err
	}

	engine := download.NewEngine(download.Options{
		MaxWorkers: viper.GetInt(optname.MaxWorkers),
		ChunkSize:  int64(chunkSize),
		Retries:    viper.GetInt(optname.Retries),
		RetryDelay: viper.GetDuration(optname.RetryDelay),
		Timeout:    viper.GetDuration(optname.ConnTimeout),
	})

	logger := logging.GetLogger()
	engine.RegisterProgressCallback(func(t download.Task) {
		event := logger.Debug().
			Str("task_id", t.ID).
			Str("filename", t.Filename).
			Str("downloaded", humanize.Bytes(uint64(t.DownloadedSize)))
		if t.TotalSize > 0 {
			event = event.Str("total", humanize.Bytes(uint64(t.TotalSize))).
				Str("progress", humanize.FtoaWithDigits(t.Progress()*100, 1)+"%")
		}
		if t.Speed > 0 {
			event = event.Str("speed", humanize.Bytes(uint64(t.Speed))+"/s")
		}
		event.Msg("Progress")
	})
	return engine, nil
}
