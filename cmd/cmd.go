package cmd

import (
	"github.com/spf13/cobra"

	"github.com/neverbiasu/civitai-dl/cmd/images"
	"github.com/neverbiasu/civitai-dl/cmd/model"
	"github.com/neverbiasu/civitai-dl/cmd/root"
	"github.com/neverbiasu/civitai-dl/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(model.GetCommand())
	rootCMD.AddCommand(images.GetCommand())
	rootCMD.AddCommand(version.VersionCMD)
	return rootCMD
}
