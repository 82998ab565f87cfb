package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks defaulting and format validations for Config.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Nil config.
	err := Validate(nil)
	require.Error(t, err)

	// Empty config gets full defaults.
	cfg := new(Config)

	err = Validate(cfg)
	require.NoError(t, err)
	require.Equal(t, DefaultBaudRate, cfg.BaudRate)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, DefaultStaticDir, cfg.StaticDir)
	require.Equal(t, DefaultTiming(), cfg.Timing)

	// Bad listen address.
	cfg = &Config{
		ListenAddress: "bad:address",
	}

	err = Validate(cfg)
	require.Error(t, err)

	// Explicit timing values survive validation.
	cfg = &Config{
		Device: "/dev/ttyUSB0",
		Timing: Timing{
			AutoResetTimeout: 10 * time.Second,
		},
	}

	err = Validate(cfg)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.Timing.AutoResetTimeout)
	require.Equal(t, DefaultTiming().ReconnectBackoff, cfg.Timing.ReconnectBackoff)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		Device:        "/dev/ttyUSB0",
		BaudRate:      115200,
		ListenAddress: "127.0.0.1:9090",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Device, loaded.Device)
	require.Equal(t, cfg.BaudRate, loaded.BaudRate)
	require.Equal(t, cfg.ListenAddress, loaded.ListenAddress)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}
