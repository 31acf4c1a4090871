package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neverbiasu/civitai-dl/pkg/version"
)

// VersionCMD prints version information
var VersionCMD *cobra.Command = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of civitai-dl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("civitai-dl version %s - built at %s\n", version.GetVersion(), version.BuildTime)
	},
}
