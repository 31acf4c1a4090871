package root

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neverbiasu/civitai-dl/pkg/cli"
	"github.com/neverbiasu/civitai-dl/pkg/civitai"
	"github.com/neverbiasu/civitai-dl/pkg/config"
	"github.com/neverbiasu/civitai-dl/pkg/download"
	"github.com/neverbiasu/civitai-dl/pkg/optname"
)

const rootLongDesc = `
civitai-dl

A download manager for the Civitai model catalog. It drives resumable, ranged
HTTP transfers through a bounded worker pool and talks to the catalog API
through a rate-limited client that backs off when the server throttles.

Invoked with a bare URL it downloads that single file, resuming from any
partial file already on disk. The model and images subcommands look up
catalog metadata first and queue every artifact they find.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "civitai-dl [flags] <url> [dest]",
		Short: "civitai-dl",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE:    runRootCMD,
		Args:    cobra.RangeArgs(1, 2),
		Example: `  civitai-dl https://civitai.com/api/download/models/12345 model.safetensors`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	if err := config.AddRootPersistentFlags(cmd); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	urlString := args[0]
	outputDir := viper.GetString(optname.OutputDir)
	var filename string
	if len(args) == 2 {
		outputDir, filename = filepath.Split(args[1])
		if outputDir == "" {
			outputDir = "."
		}
	}

	log.Info().Str("url", urlString).
		Str("output_dir", outputDir).
		Str("chunk_size", viper.GetString(optname.ChunkSize)).
		Msg("Initiating")

	return rootExecute(cmd.Context(), urlString, outputDir, filename)
}

func rootExecute(ctx context.Context, urlString, outputDir, filename string) error {
	engine, err := cli.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Shutdown(true)

	id, err := engine.Submit(download.SubmitOptions{
		URL:        urlString,
		OutputPath: outputDir,
		Filename:   filename,
		Force:      viper.GetBool(optname.Force),
	})
	if err != nil {
		return err
	}

	dl := civitai.Downloader{Engine: engine}
	return dl.WaitAll(ctx, []string{id})
}
