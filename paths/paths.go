// Package paths resolves where waldiez-runner keeps its files.
//
// Two layouts are supported:
//
//   - Legacy: everything under ~/.waldiez-runner/ (config.yaml, logs/)
//   - XDG: config.yaml under XDG_CONFIG_HOME, logs/ under XDG_STATE_HOME
//
// Resolution order:
//  1. If ~/.waldiez-runner/ exists → legacy layout
//  2. If XDG_CONFIG_HOME or XDG_STATE_HOME is set → XDG layout
//  3. Otherwise → legacy layout
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appDirName = "waldiez-runner"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	stateDir  string
	legacy    bool
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	legacyDir := filepath.Join(home, "."+appDirName)

	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		resolved = &resolvedPaths{configDir: legacyDir, stateDir: legacyDir, legacy: true}
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appDirName),
			stateDir:  filepath.Join(xdgState, appDirName),
		}
		return resolved, nil
	}

	resolved = &resolvedPaths{configDir: legacyDir, stateDir: legacyDir, legacy: true}
	return resolved, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// IsLegacyLayout returns true if using the ~/.waldiez-runner/ flat layout.
func IsLegacyLayout() bool {
	r, err := resolve()
	if err != nil {
		return true // assume legacy on error
	}
	return r.legacy
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
