package sensor

import (
	"sort"
	"sync"
	"time"
)

// AlarmState is the global alarm condition derived from device events.
type AlarmState string

// Alarm states as they appear in status messages.
const (
	AlarmClear        AlarmState = "clear"
	AlarmTriggered    AlarmState = "alarm"
	AlarmCommLoss     AlarmState = "comm_loss"
	AlarmDisconnected AlarmState = "disconnected"
)

// AlarmMode selects how an alarm returns to clear.
type AlarmMode string

// Alarm modes. Auto self-heals after a quiet period; manual requires an
// explicit acknowledgement and re-arms on a new detection.
const (
	ModeAuto   AlarmMode = "auto"
	ModeManual AlarmMode = "manual"
)

const (
	// HistoryCapacity bounds the scrolling event history.
	HistoryCapacity = 50

	// DefaultThreshold is the detection threshold assumed until a client
	// explicitly sets one.
	DefaultThreshold = 500
)

// Status is the authoritative state snapshot sent to observers. It exposes
// only the effective alarm state; the raw state and the acknowledgement
// flag are never serialized directly.
type Status struct {
	Type             string     `json:"type"`
	SerialConnected  bool       `json:"serial_connected"`
	AlarmState       AlarmState `json:"alarm_state"`
	AlarmMode        AlarmMode  `json:"alarm_mode"`
	DetectionEnabled bool       `json:"detection_enabled"`
}

// State is the single shared aggregate read by every status message and
// every new observer's snapshot. One mutex guards every field touched by
// more than one goroutine; compound mutations (SetAlarm, UpdateMap) are
// atomic under it. The serial write path has its own lock elsewhere and
// the two are never held together.
type State struct {
	mu sync.Mutex

	serialConnected  bool
	alarmState       AlarmState
	alarmMode        AlarmMode
	acknowledged     bool
	lastDetection    time.Time
	history          []Event
	mapUnits         []*MapSnapshot
	detectionEnabled bool
	savedThreshold   int

	autoResetTimeout time.Duration
	now              func() time.Time
}

// NewState creates the process-wide sensor state. The alarm starts as
// disconnected until the serial link manager reports otherwise.
func NewState(autoResetTimeout time.Duration) *State {
	return &State{
		alarmState:       AlarmDisconnected,
		alarmMode:        ModeAuto,
		detectionEnabled: true,
		savedThreshold:   DefaultThreshold,
		autoResetTimeout: autoResetTimeout,
		now:              time.Now,
	}
}

// SetAlarm transitions the raw alarm state. A new detection arriving while
// an acknowledged manual alarm is standing clears the acknowledgement
// first, so the alarm re-arms. Any change of the raw state resets the
// acknowledgement.
func (s *State) SetAlarm(next AlarmState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next == AlarmTriggered && s.alarmState == AlarmTriggered &&
		s.acknowledged && s.alarmMode == ModeManual {
		s.acknowledged = false
	}

	if next != s.alarmState {
		s.acknowledged = false
	}

	s.alarmState = next
}

// Acknowledge marks the current alarm as seen. In manual mode an
// acknowledgement is a direct clear, not merely a suppression flag.
func (s *State) Acknowledge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acknowledged = true
	if s.alarmMode == ModeManual {
		s.alarmState = AlarmClear
	}
}

// EffectiveState folds the acknowledgement into the raw state. This is the
// only alarm state ever exposed to observers.
func (s *State) EffectiveState() AlarmState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.effectiveStateLocked()
}

func (s *State) effectiveStateLocked() AlarmState {
	if s.alarmState == AlarmTriggered && s.alarmMode == ModeManual && s.acknowledged {
		return AlarmClear
	}

	return s.alarmState
}

// AutoResetCheck clears a standing alarm in auto mode once the quiet
// period since the last detection exceeds the configured timeout. It
// reports whether the state changed so the caller can publish a fresh
// status.
func (s *State) AutoResetCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alarmMode != ModeAuto || s.alarmState != AlarmTriggered ||
		s.now().Sub(s.lastDetection) <= s.autoResetTimeout {
		return false
	}

	s.alarmState = AlarmClear
	s.acknowledged = false

	return true
}

// MarkDetection records the wall-clock time of the most recent detection.
func (s *State) MarkDetection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastDetection = s.now()
}

// SetSerialConnected records whether the serial link is currently open.
func (s *State) SetSerialConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serialConnected = connected
}

// AddEvent prepends the event to the scrolling history, evicting the
// oldest entry past capacity. Map snapshots belong in the map cache and
// must not be passed here.
func (s *State) AddEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append([]Event{event}, s.history...)
	if len(s.history) > HistoryCapacity {
		s.history = s.history[:HistoryCapacity]
	}
}

// UpdateMap replaces any cached snapshot for the same unit and keeps the
// cache sorted ascending by unit ID.
func (s *State) UpdateMap(snapshot *MapSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.mapUnits[:0]
	for _, unit := range s.mapUnits {
		if unit.UnitID != snapshot.UnitID {
			kept = append(kept, unit)
		}
	}

	s.mapUnits = append(kept, snapshot)
	sort.Slice(s.mapUnits, func(i, j int) bool {
		return s.mapUnits[i].UnitID < s.mapUnits[j].UnitID
	})
}

// SetMode switches between auto and manual alarm handling.
func (s *State) SetMode(mode AlarmMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alarmMode = mode
}

// Mode returns the current alarm mode.
func (s *State) Mode() AlarmMode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.alarmMode
}

// SetThreshold stores the client-chosen threshold and re-enables
// detection; the saved value is restored when detection is toggled back on.
func (s *State) SetThreshold(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.savedThreshold = value
	s.detectionEnabled = true
}

// SavedThreshold returns the last threshold the client explicitly set.
func (s *State) SavedThreshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.savedThreshold
}

// ToggleDetection flips the detection flag and returns the new value.
func (s *State) ToggleDetection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detectionEnabled = !s.detectionEnabled

	return s.detectionEnabled
}

// Status returns the snapshot sent to observers.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Type:             "status",
		SerialConnected:  s.serialConnected,
		AlarmState:       s.effectiveStateLocked(),
		AlarmMode:        s.alarmMode,
		DetectionEnabled: s.detectionEnabled,
	}
}

// HistorySnapshot returns a copy of the event history, newest first.
func (s *State) HistorySnapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]Event, len(s.history))
	copy(snapshot, s.history)

	return snapshot
}

// MapUnits returns a copy of the map cache, sorted by unit ID.
func (s *State) MapUnits() []*MapSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]*MapSnapshot, len(s.mapUnits))
	copy(snapshot, s.mapUnits)

	return snapshot
}
