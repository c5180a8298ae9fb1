// Package profile lays out the on-disk state of yarning clients and the
// relay under one base directory.
package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory.
const HomeEnv = "YARNING_HOME"

// BaseDir returns $YARNING_HOME, or ~/.yarning.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".yarning")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SettingsPath returns a profile's relay address and credential file.
func SettingsPath(name string) string {
	return filepath.Join(Dir(name), "profile.toml")
}

// LogPath returns the client log file of a profile. Terminal clients log
// there instead of the screen.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "yarntui.log")
}

// RelayDir returns the default relay data directory.
func RelayDir() string {
	return filepath.Join(BaseDir(), "relay")
}

// RelayConfigPath returns the relay config file inside a data directory.
func RelayConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "yarnd.toml")
}

// RelayDBPath returns the default SQLite database inside a data directory.
func RelayDBPath(dataDir string) string {
	return filepath.Join(dataDir, "yarnd.db")
}

// RelayLogPath returns the relay log file inside a data directory.
func RelayLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "yarnd.log")
}

// EnsureDir creates a profile's directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), filepath.Dir(LogPath(name))} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
