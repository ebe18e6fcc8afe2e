package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger derives a component logger from the process logger configured
// by the logging package.
func InitLogger(app string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Logger()
}
