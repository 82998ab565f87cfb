package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sensor-bridge/internal/broadcast"
	"github.com/oshokin/sensor-bridge/internal/config"
	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
)

// fakeLink records every command the dispatcher sends down the wire.
type fakeLink struct {
	mu   sync.Mutex
	cmds []string
}

func (l *fakeLink) SendCommand(cmd string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cmds = append(l.cmds, cmd)
}

func (l *fakeLink) sent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.cmds))
	copy(out, l.cmds)

	return out
}

// recorder collects broadcast messages decoded as JSON objects.
type recorder struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (r *recorder) Send(msg broadcast.Message) error {
	var decoded map[string]any
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, decoded)

	return nil
}

func (r *recorder) received() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]map[string]any, len(r.msgs))
	copy(out, r.msgs)

	return out
}

// zeroTiming removes every pacing delay so dispatcher tests run instantly.
func zeroTiming() config.Timing {
	timing := config.DefaultTiming()
	timing.MenuDelay = 0
	timing.ApplyDelay = 0

	return timing
}

// newTestService wires a service with a running hub, an attached fake link
// and a registered recorder.
func newTestService(t *testing.T) (*Service, *sensor.State, *fakeLink, *recorder) {
	t.Helper()

	state := sensor.NewState(4 * time.Second)
	hub := broadcast.NewHub()
	service := NewService(state, hub, zeroTiming())

	link := new(fakeLink)
	service.AttachLink(link)

	observer := new(recorder)
	hub.Register(observer)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go hub.Run(ctx)

	return service, state, link, observer
}

// TestHandleLine_DetectionScenario routes the concrete detection line and
// verifies the state mutation, history append and broadcast order.
func TestHandleLine_DetectionScenario(t *testing.T) {
	t.Parallel()

	service, state, _, observer := newTestService(t)

	service.HandleLine(context.Background(), "[123] I CMD:DETECTION A(1)-B(2) th:500 val:600 c:3")

	require.Equal(t, sensor.AlarmTriggered, state.EffectiveState())
	require.Len(t, state.HistorySnapshot(), 1)

	require.Eventually(t, func() bool {
		return len(observer.received()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	msgs := observer.received()

	// The event goes out first, then the post-mutation status.
	require.Equal(t, "detection", msgs[0]["type"])
	require.EqualValues(t, 1, msgs[0]["unit_a"])
	require.Equal(t, "B", msgs[0]["id_b"])
	require.EqualValues(t, 600, msgs[0]["value"])
	require.EqualValues(t, 123, msgs[0]["device_ts"])

	require.Equal(t, "status", msgs[1]["type"])
	require.Equal(t, "alarm", msgs[1]["alarm_state"])
}

// TestHandleLine_NoiseProducesNothing verifies unparseable lines are
// dropped before they reach the state or the hub.
func TestHandleLine_NoiseProducesNothing(t *testing.T) {
	t.Parallel()

	service, state, _, observer := newTestService(t)

	service.HandleLine(context.Background(), "garbled \x1b[32mnoise with no prefix")
	service.HandleLine(context.Background(), "[77] I CMD:DETECTION-COMM A(1)-B(2) 5")

	require.Eventually(t, func() bool {
		return len(observer.received()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// The first message stems from the comm-loss line, not the noise.
	msgs := observer.received()
	require.Equal(t, "comm_loss", msgs[0]["type"])
	require.Equal(t, sensor.AlarmCommLoss, state.EffectiveState())
}

// TestHandleEvent_MapCacheOnly verifies map snapshots update the cache
// without entering the scrolling history.
func TestHandleEvent_MapCacheOnly(t *testing.T) {
	t.Parallel()

	service, state, _, observer := newTestService(t)

	service.HandleEvent(context.Background(), &sensor.MapSnapshot{UnitID: 5, Gain: 1})
	service.HandleEvent(context.Background(), &sensor.MapSnapshot{UnitID: 5, Gain: 7})

	require.Empty(t, state.HistorySnapshot())

	units := state.MapUnits()
	require.Len(t, units, 1)
	require.Equal(t, 7, units[0].Gain)

	// Both snapshots were still broadcast, each followed by a status.
	require.Eventually(t, func() bool {
		return len(observer.received()) == 4
	}, 5*time.Second, 10*time.Millisecond)
}

// TestSetThreshold_Sequence verifies the exact navigation sequence and the
// state bookkeeping of a threshold change.
func TestSetThreshold_Sequence(t *testing.T) {
	t.Parallel()

	service, state, link, _ := newTestService(t)

	service.SetThreshold(context.Background(), 600)

	require.Equal(t, 600, state.SavedThreshold())
	require.True(t, state.Status().DetectionEnabled)
	require.Equal(t, []string{"/", "mpedT", "threshold 600", "/", "cmd", "re 3 4"}, link.sent())
}

// TestSetGain_Sequence verifies the gain navigation sequence.
func TestSetGain_Sequence(t *testing.T) {
	t.Parallel()

	service, _, link, _ := newTestService(t)

	service.SetGain(context.Background(), 3)

	require.Equal(t, []string{"/", "mpedT", "gain 3", "/", "cmd", "re 3 4"}, link.sent())
}

// TestRequestMap_Sequence verifies the shorter map request sequence.
func TestRequestMap_Sequence(t *testing.T) {
	t.Parallel()

	service, _, link, _ := newTestService(t)

	service.RequestMap(context.Background())

	require.Equal(t, []string{"/", "cmd", "map"}, link.sent())
}

// TestToggleDetection verifies disabling sends threshold 0 and re-enabling
// restores the saved threshold.
func TestToggleDetection(t *testing.T) {
	t.Parallel()

	service, state, link, _ := newTestService(t)

	service.SetThreshold(context.Background(), 750)

	service.ToggleDetection(context.Background())
	require.False(t, state.Status().DetectionEnabled)
	require.Contains(t, link.sent(), "threshold 0")

	service.ToggleDetection(context.Background())
	require.True(t, state.Status().DetectionEnabled)

	sent := link.sent()
	require.Equal(t, "threshold 750", sent[len(sent)-4])
}

// TestAcknowledge verifies the manual acknowledge clears the alarm and
// publishes a status.
func TestAcknowledge(t *testing.T) {
	t.Parallel()

	service, state, _, observer := newTestService(t)

	service.SetAlarmMode(context.Background(), "manual")
	state.SetAlarm(sensor.AlarmTriggered)

	service.Acknowledge(context.Background())

	require.Equal(t, sensor.AlarmClear, state.EffectiveState())

	require.Eventually(t, func() bool {
		msgs := observer.received()

		return len(msgs) >= 2 && msgs[len(msgs)-1]["alarm_state"] == "clear"
	}, 5*time.Second, 10*time.Millisecond)
}

// TestSetAlarmMode verifies valid modes switch and invalid ones are ignored.
func TestSetAlarmMode(t *testing.T) {
	t.Parallel()

	service, state, _, _ := newTestService(t)

	service.SetAlarmMode(context.Background(), "manual")
	require.Equal(t, sensor.ModeManual, state.Mode())

	service.SetAlarmMode(context.Background(), "sideways")
	require.Equal(t, sensor.ModeManual, state.Mode())

	service.SetAlarmMode(context.Background(), "auto")
	require.Equal(t, sensor.ModeAuto, state.Mode())
}

// TestHistoryReplayCap verifies an observer connecting after 60 routed
// detections would be handed exactly 50 history entries, newest first.
func TestHistoryReplayCap(t *testing.T) {
	t.Parallel()

	service, state, _, _ := newTestService(t)

	for i := 0; i < 60; i++ {
		service.HandleEvent(context.Background(), &sensor.Detection{Count: i})
	}

	history := state.HistorySnapshot()
	require.Len(t, history, sensor.HistoryCapacity)

	newest, ok := history[0].(*sensor.Detection)
	require.True(t, ok)
	require.Equal(t, 59, newest.Count)
}

// TestLoadConfig verifies override precedence and the device requirement.
func TestLoadConfig(t *testing.T) {
	t.Parallel()

	// No config file, no device: refused.
	_, err := loadConfig(&Options{})
	require.ErrorIs(t, err, ErrNoDevice)

	// No config file, device from flags: defaults fill the rest.
	cfg, err := loadConfig(&Options{Device: "/dev/ttyUSB0"})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", cfg.Device)
	require.Equal(t, config.DefaultBaudRate, cfg.BaudRate)
	require.Equal(t, config.DefaultListenAddress, cfg.ListenAddress)

	// Explicit missing config path is an error.
	_, err = loadConfig(&Options{ConfigPath: "does-not-exist.yaml", Device: "/dev/ttyUSB0"})
	require.Error(t, err)
}
