package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName tags every log line and telemetry resource.
const ServiceName = "verifai"

// NewLogger constructs the service logger: JSON on stdout, or a console
// writer at debug level in development.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName).
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases zerolog.Logger for packages that only pass a logger along.
type Logger = zerolog.Logger
