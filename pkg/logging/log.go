// Package logging owns the process-wide zerolog logger.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger installs a console writer on stderr. Color stays off so the
// output is clean when piped or captured.
func SetupLogger() {
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    true,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[ %s ]", i)
		},
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// GetLogger returns the shared logger.
func GetLogger() zerolog.Logger {
	return log.Logger
}
