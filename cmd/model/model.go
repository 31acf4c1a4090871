package model

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

const longDesc = `
Download a model version and, optionally, its gallery images.

Looks up the model in the catalog, picks the requested version (or the latest
one), chooses a file by format preference, and queues the transfers. Files
land under the output directory in a path rendered from the template
"{type}/{creator}/{name}".
`

var (
	versionID  int
	format     string
	withImages bool
	imageLimit int
	template   string
)

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "model [flags] <model-id>",
		Short:   "Download a model version by id",
		Long:    longDesc,
		RunE:    runModelCMD,
		Args:    cobra.ExactArgs(1),
		Example: `  civitai-dl model 12345 --with-images --image-limit 5`,
	}
	cmd.Flags().IntVar(&versionID, "version", 0, "Version id to download (defaults to the latest)")
	cmd.Flags().StringVar(&format, "format", "", "Preferred file format (e.g. SafeTensor)")
	cmd.Flags().BoolVar(&withImages, "with-images", false, "Also download the version's gallery images")
	cmd.Flags().IntVar(&imageLimit, "image-limit", 5, "Maximum number of gallery images to download")
	cmd.Flags().StringVar(&template, "template", civitai.DefaultTemplate, "Output path template")
	return cmd
}

func runModelCMD(cmd *cobra.Command, args []string) error {
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
		Template:  template,
		Force:     viper.GetBool(optname.Force),
	}

	ids, err := dl.DownloadModelVersion(cmd.Context(), modelID, civitai.ModelOptions{
		VersionID:  versionID,
		Format:     format,
		WithImages: withImages,
		ImageLimit: imageLimit,
	})
	if err != nil {
		return err
	}

	log.Info().Int("model_id", modelID).Int("tasks", len(ids)).Msg("Downloads queued")
	return dl.WaitAll(cmd.Context(), ids)
}
