package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Address)
	require.EqualValues(t, 5555, cfg.Port)
	require.Equal(t, "/dev/spidev0.0", cfg.SPI.Device)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "0.0.0.0:5555", cfg.ListenAddr())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	contents := []byte("address: 127.0.0.1\nport: 6000\nloglevel: debug\nspi:\n  device: /dev/spidev1.0\n  cs_line: 5\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Address)
	require.EqualValues(t, 6000, cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/dev/spidev1.0", cfg.SPI.Device)
	require.EqualValues(t, 5, cfg.SPI.CSLine)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("EZSP_BRIDGE_PORT", "7000")
	cfg, err := Load("")
	require.NoError(t, err)
	require.EqualValues(t, 7000, cfg.Port)
}
