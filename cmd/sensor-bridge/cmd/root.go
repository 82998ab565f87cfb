package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/sensor-bridge/internal/config"
	"github.com/oshokin/sensor-bridge/internal/service/bridge"
	"github.com/oshokin/sensor-bridge/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// device is an optional serial device override.
	device string
	// listenAddress is an optional HTTP bind address override.
	listenAddress string
	// logLevel is an optional log level override.
	logLevel string

	// rootCmd represents the base command for running the sensor bridge.
	rootCmd = &cobra.Command{
		Use:   "sensor-bridge",
		Short: "Bridge a serial sensor array to a live web dashboard.",
		Long: `Starts the sensor bridge: it owns the serial link to the sensor array,
parses the detection line protocol, maintains the global alarm state and
fans events and status out to every connected WebSocket observer.

Settings come from the configuration file; the serial device, listen
address and log level can be overridden with flags. The bridge runs until
interrupted and keeps retrying the serial link while the device is
unplugged.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &bridge.Options{
				ConfigPath:    configPath,
				Device:        device,
				ListenAddress: listenAddress,
				LogLevel:      logLevel,
			}

			return bridge.Run(ctx, options)
		},
	}
)

// Execute runs the sensor-bridge CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+")")
	rootCmd.Flags().StringVarP(&device, "device", "d", "", "serial device path (e.g. /dev/ttyUSB0)")
	rootCmd.Flags().StringVarP(&listenAddress, "listen", "l", "", "HTTP bind address (e.g. :8080)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, fatal)")
}
