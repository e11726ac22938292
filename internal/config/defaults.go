package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS: ~/Library/Application Support/tabward/
//   - Linux: ~/.local/share/tabward/
//
// Falls back to ~/.tabward if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "tabward")
	case "linux":
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "tabward")
		}
		return filepath.Join(homeDir(), ".local", "share", "tabward")
	default:
		return fallbackDataDir()
	}
}

func fallbackDataDir() string {
	return filepath.Join(homeDir(), ".tabward")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
