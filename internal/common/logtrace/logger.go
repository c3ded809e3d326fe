// Package logtrace configures the process-wide zerolog logger.
package logtrace

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger sets the global logger to write structured JSON to stderr with
// unix timestamps and the given service name on every line.
func InitLogger(service string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", service).Logger()
}
