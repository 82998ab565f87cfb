package serialio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/oshokin/sensor-bridge/internal/config"
	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
	"github.com/oshokin/sensor-bridge/internal/logger"
)

// Port is the subset of the serial device surface the manager uses.
// go.bug.st/serial ports satisfy it; tests substitute an in-memory one.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(d time.Duration) error
}

// OpenFunc opens the named device at the given speed with the fixed 8N1
// framing the sensor array uses.
type OpenFunc func(device string, baudRate int) (Port, error)

// Sink receives every complete line read from the device.
type Sink interface {
	HandleLine(ctx context.Context, line string)
}

// StatusPublisher pushes a fresh status snapshot to observers.
type StatusPublisher interface {
	PublishStatus()
}

// readBufferSize is the chunk size of a single serial read.
const readBufferSize = 4096

// Manager owns the physical serial connection for the life of the process:
// it reconnects with a fixed backoff, switches the device into
// detection-streaming mode, feeds complete lines to the sink and services
// the alarm auto-reset timer on every read iteration.
//
// The port handle and the write path share one lock, independent from the
// sensor state's lock, so a command write never waits on alarm mutation.
type Manager struct {
	device string
	baud   int
	timing config.Timing
	open   OpenFunc

	state  *sensor.State
	sink   Sink
	notify StatusPublisher

	mu   sync.Mutex
	port Port
}

// NewManager wires a manager for the configured device. Opening is done
// lazily inside Run.
func NewManager(
	cfg *config.Config,
	state *sensor.State,
	sink Sink,
	notify StatusPublisher,
) *Manager {
	return &Manager{
		device: cfg.Device,
		baud:   cfg.BaudRate,
		timing: cfg.Timing,
		open:   openSerialPort,
		state:  state,
		sink:   sink,
		notify: notify,
	}
}

// openSerialPort opens a real device through go.bug.st/serial.
func openSerialPort(device string, baudRate int) (Port, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}

	return port, nil
}

// Run keeps the serial link alive until the context is canceled. Every
// connection-level fault marks the state disconnected, publishes a status
// update and retries after the configured backoff; the loop itself never
// fails.
func (m *Manager) Run(ctx context.Context) {
	ctx = logger.WithName(ctx, "serial")

	for {
		if ctx.Err() != nil {
			return
		}

		err := m.session(ctx)
		if ctx.Err() != nil {
			m.closePort()

			return
		}

		logger.WarnKV(ctx, "Serial link lost", "device", m.device, "error", err)
		m.markDisconnected()

		if !sleep(ctx, m.timing.ReconnectBackoff) {
			return
		}
	}
}

// session opens the port, brings the device up and reads lines until a
// fault. It always returns a non-nil error unless the context ended.
func (m *Manager) session(ctx context.Context) error {
	port, err := m.open(m.device, m.baud)
	if err != nil {
		return err
	}

	if err := port.SetReadTimeout(m.timing.ReadTimeout); err != nil {
		_ = port.Close()

		return fmt.Errorf("set read timeout: %w", err)
	}

	m.mu.Lock()
	m.port = port
	m.mu.Unlock()

	m.state.SetSerialConnected(true)
	m.state.SetAlarm(sensor.AlarmClear)
	m.notify.PublishStatus()
	logger.InfoKV(ctx, "Serial link established", "device", m.device, "baud_rate", m.baud)

	if err := m.bringUp(ctx, port); err != nil {
		return err
	}

	return m.readLoop(ctx, port)
}

// bringUp navigates the device menu into detection-streaming mode. The
// device confirms nothing, so each step is paced by a fixed delay.
func (m *Manager) bringUp(ctx context.Context, port Port) error {
	if !sleep(ctx, m.timing.OpenDelay) {
		return ctx.Err()
	}

	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}

	for _, cmd := range []string{"/", "cmd", "re 3 4"} {
		m.SendCommand(cmd)

		if !sleep(ctx, m.timing.SettleDelay) {
			return ctx.Err()
		}
	}

	return nil
}

// readLoop accumulates raw bytes into lines and hands each complete line
// to the sink. A read that times out with no data is not an error; the
// auto-reset check runs on every iteration either way, which is how the
// debounce timer is serviced on an idle link.
func (m *Manager) readLoop(ctx context.Context, port Port) error {
	buf := make([]byte, readBufferSize)

	var pending string

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := port.Read(buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if n > 0 {
			pending += strings.ToValidUTF8(string(buf[:n]), "�")

			for {
				idx := strings.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}

				line := pending[:idx]
				pending = pending[idx+1:]
				m.sink.HandleLine(ctx, line)
			}
		}

		if m.state.AutoResetCheck() {
			m.notify.PublishStatus()
		}
	}
}

// SendCommand writes one command line to the device. Commands issued while
// the link is down are silently dropped, not queued; there is no
// acknowledgement channel to report the loss on.
func (m *Manager) SendCommand(cmd string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return
	}

	if _, err := m.port.Write([]byte(cmd + "\r")); err != nil {
		logger.DebugKV(context.Background(), "Dropped serial command", "command", cmd, "error", err)
	}
}

// markDisconnected records the link loss and tells observers.
func (m *Manager) markDisconnected() {
	m.closePort()
	m.state.SetSerialConnected(false)
	m.state.SetAlarm(sensor.AlarmDisconnected)
	m.notify.PublishStatus()
}

// closePort clears the owned handle so writes start dropping.
func (m *Manager) closePort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port != nil {
		_ = m.port.Close()
		m.port = nil
	}
}

// sleep waits for the duration or the context, whichever ends first, and
// reports whether the context is still alive.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
