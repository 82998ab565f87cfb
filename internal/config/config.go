package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the sensor bridge needs to run.
type Config struct {
	// Device is the path to the serial device streaming sensor lines
	// (e.g. /dev/ttyUSB0).
	Device string `yaml:"device"`
	// BaudRate is the serial line speed. The sensor array talks at 57600.
	BaudRate int `yaml:"baud_rate"`
	// ListenAddress is the HTTP bind address for the dashboard and the
	// WebSocket endpoint (e.g. ":8080").
	ListenAddress string `yaml:"listen_addr"`
	// StaticDir is the directory the dashboard assets are served from.
	StaticDir string `yaml:"static_dir"`
	// LogLevel is the minimum log level (debug, info, warn, error, fatal).
	LogLevel string `yaml:"log_level"`
	// Timing groups every delay and timeout of the serial protocol.
	Timing Timing `yaml:"timing"`
}

// Timing holds the delays and timeouts of the serial protocol. The device
// navigates a textual menu with no acknowledgements, so commands are paced
// by fixed delays; deployments with a slower device can widen them here.
type Timing struct {
	// AutoResetTimeout is the quiet period after which an alarm clears
	// itself in auto mode.
	AutoResetTimeout time.Duration `yaml:"auto_reset_timeout"`
	// ReconnectBackoff is the wait between reconnection attempts after
	// the serial link drops.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	// ReadTimeout bounds a single serial read so the reader loop can
	// service the auto-reset check even when the line is idle.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// OpenDelay is the settle time after opening the port, before the
	// bring-up sequence starts.
	OpenDelay time.Duration `yaml:"open_delay"`
	// SettleDelay paces the bring-up commands.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// MenuDelay paces menu-navigation commands.
	MenuDelay time.Duration `yaml:"menu_delay"`
	// ApplyDelay follows a value-changing command (threshold, gain) to
	// let the device store it.
	ApplyDelay time.Duration `yaml:"apply_delay"`
}

const (
	// DefaultConfigFilename is the default filename for bridge settings.
	DefaultConfigFilename = "sensor-bridge-settings.yaml"

	// DefaultBaudRate is the line speed of the sensor array.
	DefaultBaudRate = 57600

	// DefaultListenAddress is the default HTTP bind address.
	DefaultListenAddress = ":8080"

	// DefaultStaticDir is the default dashboard asset directory.
	DefaultStaticDir = "static"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

// DefaultTiming returns the protocol timing the device was characterized
// with. The values mirror the firmware's observed menu latency.
func DefaultTiming() Timing {
	return Timing{
		AutoResetTimeout: 4 * time.Second,
		ReconnectBackoff: 2 * time.Second,
		ReadTimeout:      time.Second,
		OpenDelay:        500 * time.Millisecond,
		SettleDelay:      300 * time.Millisecond,
		MenuDelay:        200 * time.Millisecond,
		ApplyDelay:       500 * time.Millisecond,
	}
}

// Default returns a configuration with every field at its default value.
// The serial device has no default and must be supplied by the caller.
func Default() *Config {
	return &Config{
		BaudRate:      DefaultBaudRate,
		ListenAddress: DefaultListenAddress,
		StaticDir:     DefaultStaticDir,
		LogLevel:      "info",
		Timing:        DefaultTiming(),
	}
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks formats and fills in defaults for every omitted field.
// The serial device path is deliberately not required here: it can still
// arrive as a CLI override after the file is loaded.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.StaticDir == "" {
		cfg.StaticDir = DefaultStaticDir
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	defaults := DefaultTiming()
	if cfg.Timing.AutoResetTimeout <= 0 {
		cfg.Timing.AutoResetTimeout = defaults.AutoResetTimeout
	}

	if cfg.Timing.ReconnectBackoff <= 0 {
		cfg.Timing.ReconnectBackoff = defaults.ReconnectBackoff
	}

	if cfg.Timing.ReadTimeout <= 0 {
		cfg.Timing.ReadTimeout = defaults.ReadTimeout
	}

	if cfg.Timing.OpenDelay <= 0 {
		cfg.Timing.OpenDelay = defaults.OpenDelay
	}

	if cfg.Timing.SettleDelay <= 0 {
		cfg.Timing.SettleDelay = defaults.SettleDelay
	}

	if cfg.Timing.MenuDelay <= 0 {
		cfg.Timing.MenuDelay = defaults.MenuDelay
	}

	if cfg.Timing.ApplyDelay <= 0 {
		cfg.Timing.ApplyDelay = defaults.ApplyDelay
	}

	return nil
}
