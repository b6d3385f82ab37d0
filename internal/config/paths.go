package config

import (
	"os"
	"path/filepath"
)

// GetUserConfigDir returns ~/.wingchat.
func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".wingchat"), nil
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	dir, err := GetUserConfigDir()
	if err != nil {
		return "wingchat.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}
