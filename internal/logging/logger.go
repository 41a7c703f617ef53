// Package logging owns zerolog setup for the engine. Everything else
// receives a zerolog.Logger and derives component loggers from it.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"` // Include caller file and line
}

var (
	defaultLogger zerolog.Logger
	defaultSet    bool
	mu            sync.Mutex
)

// ParseLevel converts a string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a root logger with the given configuration.
func New(cfg *Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	if cfg.Output == "stderr" {
		output = os.Stderr
	} else if cfg.Output != "" && cfg.Output != "stdout" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// SetDefault sets the process-wide default logger.
func SetDefault(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
	defaultSet = true
}

// Default returns the default logger, creating a stdout JSON logger if
// none was set.
func Default() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !defaultSet {
		defaultLogger = New(&Config{Level: "INFO", Output: "stdout", JSONFormat: true})
		defaultSet = true
	}
	return defaultLogger
}

// Component returns the default logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Default().With().Str("component", name).Logger()
}
