package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oshokin/sensor-bridge/internal/broadcast"
	"github.com/oshokin/sensor-bridge/internal/config"
	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
	"github.com/oshokin/sensor-bridge/internal/logger"
	"github.com/oshokin/sensor-bridge/internal/parser"
)

// Link is the serial write path the dispatcher drives. Writes are blind:
// the device confirms nothing and a write with the link down is dropped.
type Link interface {
	SendCommand(cmd string)
}

// Service routes parsed events into the shared state and translates
// observer intents into timed device command sequences. It is the sink of
// the serial manager and the dispatcher behind the WebSocket transport.
type Service struct {
	state  *sensor.State
	hub    *broadcast.Hub
	timing config.Timing
	link   Link
}

// NewService creates the router/dispatcher around the shared state and
// the broadcast hub. The serial link is attached separately because the
// link manager needs the service as its sink.
func NewService(state *sensor.State, hub *broadcast.Hub, timing config.Timing) *Service {
	return &Service{
		state:  state,
		hub:    hub,
		timing: timing,
	}
}

// AttachLink wires the serial write path. Until a link is attached,
// command sequences are dropped the same way they are with the port closed.
func (s *Service) AttachLink(link Link) {
	s.link = link
}

// HandleLine parses one raw device line and routes the resulting event.
// Unparseable lines are dropped silently; the wire is full of noise.
func (s *Service) HandleLine(ctx context.Context, line string) {
	event := parser.Parse(line)
	if event == nil {
		return
	}

	s.HandleEvent(ctx, event)
}

// HandleEvent applies the variant-specific state mutation, records the
// event, and broadcasts it followed by a status snapshot reflecting the
// post-mutation state.
func (s *Service) HandleEvent(ctx context.Context, event sensor.Event) {
	switch e := event.(type) {
	case *sensor.Detection:
		s.state.MarkDetection()
		s.state.SetAlarm(sensor.AlarmTriggered)
	case *sensor.CommLoss:
		s.state.SetAlarm(sensor.AlarmCommLoss)
	case *sensor.Connected:
		// Topology-only signal, informational.
	case *sensor.MapSnapshot:
		s.state.UpdateMap(e)
	}

	// Map snapshots live in the cache, not in the scrolling history.
	if event.Kind() != sensor.KindMap {
		s.state.AddEvent(event)
	}

	s.broadcastEvent(ctx, event)
	s.PublishStatus()
}

// broadcastEvent serializes the event and enqueues it for every observer.
func (s *Service) broadcastEvent(ctx context.Context, event sensor.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to serialize event", "kind", event.Kind(), "error", err)

		return
	}

	s.hub.Enqueue("event", payload)
}

// PublishStatus enqueues a fresh authoritative status snapshot.
func (s *Service) PublishStatus() {
	payload, err := json.Marshal(s.state.Status())
	if err != nil {
		return
	}

	s.hub.Enqueue("status", payload)
}

// SetThreshold persists the threshold, re-enables detection and walks the
// device menu to apply the new value.
func (s *Service) SetThreshold(ctx context.Context, value int) {
	s.state.SetThreshold(value)
	s.applyThreshold(ctx, value)
}

// SetGain walks the device menu to apply a new gain.
func (s *Service) SetGain(ctx context.Context, value int) {
	s.navigate(ctx, fmt.Sprintf("gain %d", value))
}

// RequestMap asks the array to broadcast its map; the responses arrive
// asynchronously as map events on the serial line.
func (s *Service) RequestMap(ctx context.Context) {
	s.send("/")
	s.pause(ctx, s.timing.MenuDelay)
	s.send("cmd")
	s.pause(ctx, s.timing.MenuDelay)
	s.send("map")
}

// Acknowledge marks the standing alarm as seen and tells observers.
func (s *Service) Acknowledge(_ context.Context) {
	s.state.Acknowledge()
	s.PublishStatus()
}

// ToggleDetection flips detection on or off. Disabling sends threshold 0,
// which stops the array from triggering; enabling restores the saved one.
func (s *Service) ToggleDetection(ctx context.Context) {
	enabled := s.state.ToggleDetection()

	value := s.state.SavedThreshold()
	if !enabled {
		value = 0
	}

	s.applyThreshold(ctx, value)
	s.PublishStatus()
}

// SetAlarmMode switches between auto and manual alarm handling.
// Unrecognized modes are silently ignored.
func (s *Service) SetAlarmMode(_ context.Context, mode string) {
	switch sensor.AlarmMode(mode) {
	case sensor.ModeAuto, sensor.ModeManual:
		s.state.SetMode(sensor.AlarmMode(mode))
		s.PublishStatus()
	}
}

// applyThreshold runs the threshold navigation sequence.
func (s *Service) applyThreshold(ctx context.Context, value int) {
	s.navigate(ctx, fmt.Sprintf("threshold %d", value))
}

// navigate drives the device through the configuration context, applies
// the given command and returns to detection-streaming mode. Every step is
// a blind write paced by a fixed delay; there is no acknowledgement and no
// cancellation of a sequence already in flight.
func (s *Service) navigate(ctx context.Context, apply string) {
	s.send("/")
	s.pause(ctx, s.timing.MenuDelay)
	s.send("mpedT")
	s.pause(ctx, s.timing.MenuDelay)
	s.send(apply)
	s.pause(ctx, s.timing.ApplyDelay)
	s.send("/")
	s.pause(ctx, s.timing.MenuDelay)
	s.send("cmd")
	s.pause(ctx, s.timing.MenuDelay)
	s.send("re 3 4")
}

func (s *Service) send(cmd string) {
	if s.link == nil {
		return
	}

	s.link.SendCommand(cmd)
}

func (s *Service) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
