package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataDirFor(t *testing.T) {
	assert.Equal(t, "/var/lib/odoobackup", dataDirFor(true))

	xdg := t.TempDir()
	t.Setenv("XDG_DATA_HOME", xdg)
	assert.Equal(t, filepath.Join(xdg, "odoobackup"), dataDirFor(false))

	home := t.TempDir()
	t.Setenv("XDG_DATA_HOME", "relative/ignored")
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".local", "share", "odoobackup"), dataDirFor(false))
}

func TestConfigDirs(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	assert.Equal(t, []string{"/etc/odoobackup", filepath.Join(xdg, "odoobackup"), "."}, configDirs())

	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	assert.Equal(t, []string{"/etc/odoobackup", filepath.Join(home, ".config", "odoobackup"), "."}, configDirs())
}
