package orkestra

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orkestra.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: path, TimeFormat: "unix"})
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Str("k", "v").Msg("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"message":"kept"`)
	assert.Contains(t, out, `"library":"orkestra"`)
	assert.Regexp(t, `"time":\d+`, out)
}

func TestNewLoggerTimeFormatIsPerLogger(t *testing.T) {
	before := zerolog.TimeFieldFormat
	dir := t.TempDir()

	unixLogger, unixCloser, err := NewLogger(LoggingConfig{Output: filepath.Join(dir, "unix.log"), TimeFormat: "unixms"})
	require.NoError(t, err)
	defer unixCloser.Close()
	rfcLogger, rfcCloser, err := NewLogger(LoggingConfig{Output: filepath.Join(dir, "rfc.log"), TimeFormat: "rfc3339"})
	require.NoError(t, err)
	defer rfcCloser.Close()
	assert.Equal(t, before, zerolog.TimeFieldFormat)

	unixLogger.Info().Msg("a")
	rfcLogger.Info().Msg("b")

	unixOut, err := os.ReadFile(filepath.Join(dir, "unix.log"))
	require.NoError(t, err)
	rfcOut, err := os.ReadFile(filepath.Join(dir, "rfc.log"))
	require.NoError(t, err)
	assert.Regexp(t, `"time":\d{13}`, string(unixOut))
	assert.Regexp(t, `"time":"\d{4}-\d{2}-\d{2}T`, string(rfcOut))
}

func TestNewLoggerStandardStreamsCloseIsNoop(t *testing.T) {
	_, closer, err := NewLogger(LoggingConfig{Output: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

func TestNewLoggerErrors(t *testing.T) {
	_, _, err := NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, _, err = NewLogger(LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestWithRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	conn := &scriptedConnector{script: []func(*http.Request) (*http.Response, error){
		respond(503, "unavailable"),
		respond(200, "ok"),
	}}
	client := newTestClient(conn, &recordingSleeper{}, WithLogger(logger), WithRequestLogging())

	_, err := client.Invoke(context.Background(), testOperation(), &getThingInput{ID: "1"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"starting call"`)
	assert.Equal(t, 2, strings.Count(out, `"message":"attempt finished"`))
	assert.Contains(t, out, `"status":503`)
	assert.Contains(t, out, `"message":"call finished"`)
	assert.Contains(t, out, `"operation":"GetThing"`)
}

func TestContextLoggerTakesPrecedence(t *testing.T) {
	var clientBuf, ctxBuf bytes.Buffer
	conn := &scriptedConnector{script: []func(*http.Request) (*http.Response, error){respond(200, "ok")}}
	client := newTestClient(conn, &recordingSleeper{},
		WithLogger(zerolog.New(&clientBuf).Level(zerolog.DebugLevel)),
		WithRequestLogging(),
	)

	ctx := zerolog.New(&ctxBuf).Level(zerolog.DebugLevel).WithContext(context.Background())
	_, err := client.Invoke(ctx, testOperation(), &getThingInput{ID: "1"})
	require.NoError(t, err)

	assert.Empty(t, clientBuf.String())
	assert.Contains(t, ctxBuf.String(), "call finished")
}
