package orkestra

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig configures NewLogger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error or disabled.
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error disabled"`
	// Format is json or console.
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output"`
	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `mapstructure:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// DefaultLoggingConfig logs info and above as JSON to stderr.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json", Output: "stderr", TimeFormat: "rfc3339"}
}

// NewLogger builds a zerolog logger from cfg. The returned closer releases
// the log file when Output names one and is a no-op otherwise.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, io.Closer, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writer io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log output: %w", err)
		}
		writer, closer = file, file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(writer).Level(level).
		Hook(timestampHook{format: cfg.TimeFormat, now: time.Now}).
		With().Str("library", "orkestra").Logger()
	return logger, closer, nil
}

// timestampHook writes the event time in this logger's format. It stands in
// for zerolog's Timestamp context, whose format is process-wide.
type timestampHook struct {
	format string
	now    func() time.Time
}

func (h timestampHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	t := h.now()
	switch h.format {
	case "unix":
		e.Int64(zerolog.TimestampFieldName, t.Unix())
	case "unixms":
		e.Int64(zerolog.TimestampFieldName, t.UnixMilli())
	default:
		e.Str(zerolog.TimestampFieldName, t.Format(time.RFC3339))
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "":
		return zerolog.InfoLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
