package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Global logger instance
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Initialize sets up the global logger with a console writer and the requested level.
func Initialize(logLevel string) {
	InitializeWithWriter(logLevel, consoleWriter())
}

// InitializeWithFile is Initialize that also appends JSON lines to the file at path. The file
// stays open for the life of the process.
func InitializeWithFile(logLevel, path string) error {
	file, err := FileWriter(path)
	if err != nil {
		return err
	}
	InitializeWithWriter(logLevel, zerolog.MultiLevelWriter(consoleWriter(), file))
	return nil
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	}
}

// InitializeWithWriter is Initialize with an explicit output.
func InitializeWithWriter(logLevel string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	Logger = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	// Replace standard log with zerolog
	log.Logger = Logger
}

// ParseLevel maps the LOG_LEVEL strings to zerolog levels, defaulting to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch logLevel {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// GetForComponent returns a logger with a component field for better filtering
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// FileWriter returns a writer to a log file for optional use alongside console logging
func FileWriter(path string) (io.Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return file, nil
}
