package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel = "FISSIONLINK_LOG_LEVEL"
	EnvLogJSON  = "FISSIONLINK_LOG_JSON"
)

// LogOptions mirrors the [log] config section.
type LogOptions struct {
	Level string
	JSON  bool
	Out   io.Writer
}

// InitLogger builds the process logger and installs it as the zerolog
// global. Environment variables win over opts.
func InitLogger(app, node string, opts LogOptions) zerolog.Logger {
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		opts.Level = v
	}
	if v, ok := os.LookupEnv(EnvLogJSON); ok {
		opts.JSON = v == "1" || strings.EqualFold(v, "true")
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp().Str("app", app)
	if node != "" {
		ctx = ctx.Str("node", node)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}
