package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "parley"

// UserConfigPaths returns the user config files to try, in order.
func UserConfigPaths() []string {
	dir := filepath.Join(xdg.ConfigHome, AppName)
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
	}
}

// GetDefaultDataPath returns the default directory for exported conversations
func GetDefaultDataPath() string {
	// Use XDG_DATA_HOME for user-specific data files
	return filepath.Join(xdg.DataHome, AppName)
}

// GetHistoryPath returns the path of the interactive line history file
func GetHistoryPath() string {
	// Use XDG_STATE_HOME for runtime state data
	return filepath.Join(xdg.StateHome, AppName, "history")
}
