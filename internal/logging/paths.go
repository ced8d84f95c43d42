package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.amankb/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amankb", "logs")
	}
	return filepath.Join(home, ".amankb", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "amankb.log")
}

// LogPathIn returns the log file path under a custom data directory.
func LogPathIn(dataDir string) string {
	if dataDir == "" {
		return DefaultLogPath()
	}
	return filepath.Join(dataDir, "logs", "amankb.log")
}

// FindLogFile returns explicit if it exists, otherwise the default path.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no log file found, run with --debug first (expected at %s)", path)
}
