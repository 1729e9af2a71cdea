package observability

import (
	"io"
	"log/slog"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/mesh-weather-relay/internal/config"
)

const serviceName = "mesh-weather-relay"

// NewLogger builds the relay logger from LOG_LEVEL and LOG_FORMAT.
//
// With a nil writer it is the shared storm-data logger, which writes to
// stdout and becomes the slog default. Dry runs print their messages on
// stdout, so they pass a writer (stderr) and get an equivalent local handler
// that leaves stdout and the slog default alone.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", serviceName)
}
