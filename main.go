package main

import (
	"os"

	"github.com/neverbiasu/civitai-dl/cmd"
	"github.com/neverbiasu/civitai-dl/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()
	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}
