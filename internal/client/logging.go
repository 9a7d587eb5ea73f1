package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/config"
)

// ConfigureLogging applies the configured level and destination to the default
// logger. When fallbackFile is set and no log file is configured, logs go there
// instead of stderr. The returned closer releases the log file.
func ConfigureLogging(cfg *config.Config, fallbackFile string) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(level)

	path := cfg.ResolvedLogFile()
	if path == "" {
		path = fallbackFile
	}
	if path == "" {
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return f, nil
}
