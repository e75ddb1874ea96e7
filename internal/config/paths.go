package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.qterm. qtermd serve does not consult it: its
// config and tokens paths come only from the command line.
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".qterm"), nil
}

// EnsureUserConfigDir creates ~/.qterm if it does not already exist and
// returns its path. `qtermd keygen` does not call it; keygen writes to the
// paths given by --cert-out and --key-out.
func EnsureUserConfigDir() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
