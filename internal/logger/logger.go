package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. An empty or unknown level means info.
func Init(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
	}
	log.Logger = zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// WithComponent returns a child logger tagged with the component name.
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
