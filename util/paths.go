package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppConfigDir = ".config/fedi"
)

// GetConfigDir returns ~/.config/fedi, creating it when missing.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// ResolveFilePath prefers an existing file relative to the working directory,
// then one in the config dir. When neither exists the config dir path is
// returned so the caller can create it there. Absolute paths are returned as is.
func ResolveFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return name
	}

	userPath := filepath.Join(configDir, name)
	if dir := filepath.Dir(userPath); dir != configDir {
		os.MkdirAll(dir, 0755)
	}
	return userPath
}
