package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
)

// TestParse_Detection verifies field extraction from a well-formed
// detection line, including one wrapped in ANSI escape sequences.
func TestParse_Detection(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 15, 4, 5, 678e6, time.UTC)

	lines := []string{
		"[123] I CMD:DETECTION A(1)-B(2) th:500 val:600 c:3",
		"\x1b[32m[123] I \x1b[0mCMD:DETECTION A(1)-B\x1b[33m(2) th:500 val:600 c:3\x1b[0m",
	}

	for _, line := range lines {
		event := parseAt(line, now)
		require.NotNil(t, event, line)

		detection, ok := event.(*sensor.Detection)
		require.True(t, ok, line)
		require.Equal(t, "A", detection.IDA)
		require.Equal(t, 1, detection.UnitA)
		require.Equal(t, "B", detection.IDB)
		require.Equal(t, 2, detection.UnitB)
		require.Equal(t, 500, detection.Threshold)
		require.Equal(t, 600, detection.Value)
		require.Equal(t, 3, detection.Count)
		require.Equal(t, int64(123), detection.DeviceTS)
		require.Equal(t, "2026-01-02T15:04:05.678", detection.Timestamp)
	}
}

// TestParse_CommLoss verifies comm-loss extraction.
func TestParse_CommLoss(t *testing.T) {
	t.Parallel()

	event := Parse("[456] I CMD:DETECTION-COMM A(1)-B(2) 17")
	require.NotNil(t, event)

	commLoss, ok := event.(*sensor.CommLoss)
	require.True(t, ok)
	require.Equal(t, "A", commLoss.IDA)
	require.Equal(t, 1, commLoss.UnitA)
	require.Equal(t, 2, commLoss.UnitB)
	require.Equal(t, 17, commLoss.Value)
	require.Equal(t, int64(456), commLoss.DeviceTS)
}

// TestParse_Connected verifies both link directions of a topology line.
func TestParse_Connected(t *testing.T) {
	t.Parallel()

	event := Parse("[7] I CMD:CONNECTED A(1) connected:B(2) 1")
	require.NotNil(t, event)

	connected, ok := event.(*sensor.Connected)
	require.True(t, ok)
	require.Equal(t, "A", connected.IDUnit)
	require.Equal(t, 1, connected.Unit)
	require.Equal(t, "B", connected.IDPeer)
	require.Equal(t, 2, connected.Peer)
	require.True(t, connected.Connected)

	event = Parse("[8] I CMD:CONNECTED A(1) connected:B(2) 0")
	require.NotNil(t, event)

	connected, ok = event.(*sensor.Connected)
	require.True(t, ok)
	require.False(t, connected.Connected)
}

// TestParse_Map verifies the variable-length peer sub-grammar, including a
// garbled fragment yielding fewer peers instead of an error.
func TestParse_Map(t *testing.T) {
	t.Parallel()

	line := "[99] I CMD:MAP_RSP from 5 ver:1.4.2 gain:3 voltage:3300 scan:100 adv:200: " +
		"[2 th3:500 -71dBm dt:12] [garbled peer] [7 th3:450 -80dBm dt:30]"

	event := Parse(line)
	require.NotNil(t, event)

	snapshot, ok := event.(*sensor.MapSnapshot)
	require.True(t, ok)
	require.Equal(t, 5, snapshot.UnitID)
	require.Equal(t, "1.4.2", snapshot.Version)
	require.Equal(t, 3, snapshot.Gain)
	require.Equal(t, 3300, snapshot.Voltage)
	require.Equal(t, int64(99), snapshot.DeviceTS)

	require.Len(t, snapshot.Peers, 2)
	require.Equal(t, sensor.Peer{ID: 2, Threshold: 500, RSSI: -71, DT: 12}, snapshot.Peers[0])
	require.Equal(t, sensor.Peer{ID: 7, Threshold: 450, RSSI: -80, DT: 30}, snapshot.Peers[1])
}

// TestParse_Rejections enumerates lines that must yield nothing.
func TestParse_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":                 "",
		"whitespace":            "   \t  ",
		"ansi only":             "\x1b[0m\x1b[32m",
		"no prefix":             "CMD:DETECTION A(1)-B(2) th:500 val:600 c:3",
		"wrong severity":        "[123] E CMD:DETECTION A(1)-B(2) th:500 val:600 c:3",
		"unknown keyword":       "[123] I CMD:UNKNOWN something",
		"plain noise":           "[123] I booting radio stack",
		"truncated detection":   "[123] I CMD:DETECTION A(1)-B(2) th:500",
		"overflowing capture":   "[123] I CMD:DETECTION A(99999999999999999999)-B(2) th:500 val:600 c:3",
		"fragment mid-reboot":   "ETECTION A(1)-B(2) th:500 val:600 c:3",
		"timestamp not numeric": "[abc] I CMD:DETECTION A(1)-B(2) th:500 val:600 c:3",
	}

	for name, line := range cases {
		require.Nil(t, Parse(line), name)
	}
}

// TestParse_MapWithoutPeers verifies an empty peer list parses cleanly.
func TestParse_MapWithoutPeers(t *testing.T) {
	t.Parallel()

	event := Parse("[11] I CMD:MAP_RSP from 3 ver:2.0 gain:1 voltage:2900 scan:50 adv:80: none")
	require.NotNil(t, event)

	snapshot, ok := event.(*sensor.MapSnapshot)
	require.True(t, ok)
	require.Equal(t, 3, snapshot.UnitID)
	require.Empty(t, snapshot.Peers)
}
