package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/oshokin/sensor-bridge/internal/api/ws"
	"github.com/oshokin/sensor-bridge/internal/broadcast"
	"github.com/oshokin/sensor-bridge/internal/config"
	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
	"github.com/oshokin/sensor-bridge/internal/logger"
	"github.com/oshokin/sensor-bridge/internal/serialio"
)

// Options controls the sensor-bridge process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Device overrides the serial device path from the config.
	Device string
	// ListenAddress overrides the HTTP bind address from the config.
	ListenAddress string
	// LogLevel overrides the log level from the config.
	LogLevel string
}

// ErrNoDevice indicates that no serial device was configured.
var ErrNoDevice = errors.New("no serial device configured")

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Run starts the bridge and blocks until the context is canceled. It wires
// the shared state, the broadcast hub, the serial link manager and the
// HTTP/WebSocket server, then runs the ingestion and delivery loops for
// the life of the process.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sensor-bridge")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	state := sensor.NewState(cfg.Timing.AutoResetTimeout)
	hub := broadcast.NewHub()

	service := NewService(state, hub, cfg.Timing)
	manager := serialio.NewManager(cfg, state, service, service)
	service.AttachLink(manager)

	server := ws.NewServer(service, hub, state, cfg.StaticDir)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go hub.Run(ctx)
	go manager.Run(ctx)

	logger.InfoKV(ctx, "Sensor bridge listening",
		"listen_address", cfg.ListenAddress, "device", cfg.Device, "baud_rate", cfg.BaudRate)

	// Done channel is closed after Shutdown finishes so we block until the
	// server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf(ctx, "HTTP shutdown: %v", err)
		}

		close(done)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "Sensor bridge stopped")

	return nil
}

// loadConfig loads the settings file, applies CLI overrides and checks
// that a serial device ended up configured. A missing default settings
// file is not an error: the bridge can run entirely from flags.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && opts.ConfigPath == "":
		cfg = config.Default()
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.Device != "" {
		cfg.Device = opts.Device
	}

	if opts.ListenAddress != "" {
		cfg.ListenAddress = opts.ListenAddress
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if cfg.Device == "" {
		return nil, ErrNoDevice
	}

	return cfg, nil
}
