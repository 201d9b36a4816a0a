package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the platform-specific directory comacoded uses to persist
// its host certificate and key. Mirrors the layout of the reference
// implementation's cert store:
//
//	macOS:   ~/Library/Application Support/comacode/
//	Linux:   ~/.local/share/comacode/
//	Windows: %LOCALAPPDATA%\comacode\
//
// No pack dependency covers cross-platform app-data resolution, so this is
// implemented directly on os/runtime — the one place in the repo that
// reaches for the standard library where a library might otherwise be
// expected (see DESIGN.md).
func DataDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "comacode"), nil
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		if local == "" {
			return "", fmt.Errorf("LOCALAPPDATA is not set")
		}
		return filepath.Join(local, "comacode"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share", "comacode"), nil
	}
}

// EnsureDataDir creates the data directory (and parents) if missing.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}
