package images

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neverbiasu/civitai-dl/pkg/cli"
	"github.com/neverbiasu/civitai-dl/pkg/civitai"
	"github.com/neverbiasu/civitai-dl/pkg/optname"
)

var (
	versionID int
	limit     int
)

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "images [flags] <model-id>",
		Short:   "Download gallery images for a model",
		RunE:    runImagesCMD,
		Args:    cobra.ExactArgs(1),
		Example: `  civitai-dl images 12345 --limit 20`,
	}
	cmd.Flags().IntVar(&versionID, "version", 0, "Restrict to one model version")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of images (0 = all)")
	return cmd
}

func runImagesCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	modelID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid model id %q", args[0])
	}

	engine, err := cli.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Shutdown(true)

	dl := civitai.Downloader{
		API:       cli.NewAPIClient(),
		Engine:    engine,
		OutputDir: viper.GetString(optname.OutputDir),
		Force:     viper.GetBool(optname.Force),
	}

	ids, err := dl.DownloadImages(cmd.Context(), modelID, versionID, limit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		log.Info().Int("model_id", modelID).Msg("No images matched")
		return nil
	}

	log.Info().Int("model_id", modelID).Int("tasks", len(ids)).Msg("Downloads queued")
	return dl.WaitAll(cmd.Context(), ids)
}
