package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr whether to also write to stderr.
	WriteToStderr bool
}

// DefaultConfig returns the quiet default: warnings to stderr, no file.
func DefaultConfig() Config {
	return Config{
		Level:         "warn",
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig returns configuration for --debug: everything to the log file.
func DebugConfig(dataDir string) Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.FilePath = LogPathIn(dataDir)
	return cfg
}

// ServeConfig returns a file-only configuration. The MCP stdio transport
// owns stdout and stderr, so nothing else may write there while serving.
func ServeConfig(dataDir, level string) Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.FilePath = LogPathIn(dataDir)
	cfg.WriteToStderr = false
	return cfg
}

// sensitiveKeys are attribute names whose values are always masked.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"authorization": true,
	"secret":        true,
	"token":         true,
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// Setup builds a JSON logger from cfg and returns it with a cleanup function
// that flushes and closes the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		writers []io.Writer
		rw      *RotatingWriter
	)

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, err
		}
		var err error
		rw, err = NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, rw)
	}
	if cfg.WriteToStderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	})

	cleanup := func() {
		if rw != nil {
			_ = rw.Sync()
			_ = rw.Close()
		}
	}

	return slog.New(handler), cleanup, nil
}

// SetupDefault installs a logger built from cfg as the slog default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	if cfg.FilePath != "" {
		slog.Debug("logging_initialized",
			slog.String("log_file", cfg.FilePath),
			slog.String("level", cfg.Level),
			slog.Bool("stderr", cfg.WriteToStderr))
	}
	return cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts string level to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
