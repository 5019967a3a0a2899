// Package app provides the application initialization and wiring.
package app

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const appName = "odoobackup"

// DefaultDataDir is where artifacts, locks and logs live by default.
// A root install, typically the unit that runs beside the Odoo service,
// uses /var/lib/odoobackup. Anyone else gets the XDG data directory.
func DefaultDataDir() string {
	return dataDirFor(os.Geteuid() == 0)
}

func dataDirFor(root bool) string {
	if root {
		return filepath.Join("/var/lib", appName)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appName)
	}
	return filepath.Join("/var/lib", appName)
}

// configDirs lists the directories searched for odoobackup.{toml,yaml}
// in the order viper tries them.
func configDirs() []string {
	dirs := []string{filepath.Join("/etc", appName)}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); filepath.IsAbs(xdg) {
		dirs = append(dirs, filepath.Join(xdg, appName))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", appName))
	}
	return append(dirs, ".")
}

// ConfigureViper points v at configPath, or at the search directories
// when no path is given.
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName(appName)
	for _, dir := range configDirs() {
		v.AddConfigPath(dir)
	}
}
