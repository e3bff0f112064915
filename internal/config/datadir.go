package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir returns the platform data directory from spec.md §6:
// Windows %APPDATA%\aegis\data, macOS ~/Library/Application
// Support/aegis/data, Linux ~/.local/share/aegis/data.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "aegis", "data")
		}
		return filepath.Join(".", "aegis-data")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "aegis-data")
		}
		return filepath.Join(home, "Library", "Application Support", "aegis", "data")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "aegis-data")
		}
		return filepath.Join(home, ".local", "share", "aegis", "data")
	}
}
