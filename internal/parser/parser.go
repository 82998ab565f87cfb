package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
)

// timestampLayout renders the ingestion wall clock with millisecond
// precision, matching the dashboard's expected format.
const timestampLayout = "2006-01-02T15:04:05.000"

// The device firmware interleaves ANSI color sequences mid-line; they are
// stripped before any grammar is tried.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// prefixPattern matches the `[<deviceTimestamp>] I ` prefix every
// informational line carries. Lines without it are noise.
var prefixPattern = regexp.MustCompile(`^\[(\d+)\]\s+I\s+(.*)`)

// Event grammars, keyed by their distinct literal keywords. The keywords
// are mutually exclusive, so match order does not affect correctness.
var (
	detectionPattern = regexp.MustCompile(
		`CMD:DETECTION\s+(\w+)\((\d+)\)-(\w+)\((\d+)\)\s+th:(\d+)\s+val:(\d+)\s+c:(\d+)`)
	commLossPattern = regexp.MustCompile(
		`CMD:DETECTION-COMM\s+(\w+)\((\d+)\)-(\w+)\((\d+)\)\s+(\d+)`)
	connectedPattern = regexp.MustCompile(
		`CMD:CONNECTED\s+(\w+)\((\d+)\)\s+connected:(\w+)\((\d+)\)\s+([01])`)
	mapPattern = regexp.MustCompile(
		`CMD:MAP_RSP\s+from\s+(\d+)\s+ver:(\S+)\s+gain:(\d+)\s+voltage:(\d+)\s+scan:(\d+)\s+adv:(\d+):\s+(.*)`)
	peerPattern = regexp.MustCompile(
		`\[(\d+)\s+th3:(\d+)\s+(-?\d+)dBm\s+dt:(\d+)\]`)
)

// Parse turns one raw device line into a typed event, or nil when the line
// is noise, lacks the timestamp prefix, or matches no grammar. Malformed
// input never faults: the wire is an uncontrolled serial stream and
// garbage lines must not disturb ingestion.
func Parse(line string) sensor.Event {
	return parseAt(line, time.Now())
}

// parseAt is Parse with an explicit ingestion clock, for tests.
func parseAt(line string, now time.Time) sensor.Event {
	line = strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))
	if line == "" {
		return nil
	}

	prefix := prefixPattern.FindStringSubmatch(line)
	if prefix == nil {
		return nil
	}

	deviceTS, err := strconv.ParseInt(prefix[1], 10, 64)
	if err != nil {
		return nil
	}

	content := prefix[2]
	timestamp := now.Format(timestampLayout)

	if m := detectionPattern.FindStringSubmatch(content); m != nil {
		return parseDetection(m, deviceTS, timestamp)
	}

	if m := commLossPattern.FindStringSubmatch(content); m != nil {
		return parseCommLoss(m, deviceTS, timestamp)
	}

	if m := connectedPattern.FindStringSubmatch(content); m != nil {
		return parseConnected(m, deviceTS, timestamp)
	}

	if m := mapPattern.FindStringSubmatch(content); m != nil {
		return parseMap(m, deviceTS, timestamp)
	}

	return nil
}

func parseDetection(m []string, deviceTS int64, timestamp string) sensor.Event {
	c := new(captures)

	event := &sensor.Detection{
		IDA:       m[1],
		UnitA:     c.int(m[2]),
		IDB:       m[3],
		UnitB:     c.int(m[4]),
		Threshold: c.int(m[5]),
		Value:     c.int(m[6]),
		Count:     c.int(m[7]),
		DeviceTS:  deviceTS,
		Timestamp: timestamp,
	}
	if c.failed {
		return nil
	}

	return event
}

func parseCommLoss(m []string, deviceTS int64, timestamp string) sensor.Event {
	c := new(captures)

	event := &sensor.CommLoss{
		IDA:       m[1],
		UnitA:     c.int(m[2]),
		IDB:       m[3],
		UnitB:     c.int(m[4]),
		Value:     c.int(m[5]),
		DeviceTS:  deviceTS,
		Timestamp: timestamp,
	}
	if c.failed {
		return nil
	}

	return event
}

func parseConnected(m []string, deviceTS int64, timestamp string) sensor.Event {
	c := new(captures)

	event := &sensor.Connected{
		IDUnit:    m[1],
		Unit:      c.int(m[2]),
		IDPeer:    m[3],
		Peer:      c.int(m[4]),
		Connected: m[5] == "1",
		DeviceTS:  deviceTS,
		Timestamp: timestamp,
	}
	if c.failed {
		return nil
	}

	return event
}

func parseMap(m []string, deviceTS int64, timestamp string) sensor.Event {
	c := new(captures)

	event := &sensor.MapSnapshot{
		UnitID:    c.int(m[1]),
		Version:   m[2],
		Gain:      c.int(m[3]),
		Voltage:   c.int(m[4]),
		Peers:     parsePeers(m[7]),
		DeviceTS:  deviceTS,
		Timestamp: timestamp,
	}

	// Scan and adv intervals are validated by the grammar but not
	// reported to observers.
	c.int(m[5])
	c.int(m[6])

	if c.failed {
		return nil
	}

	return event
}

// parsePeers extracts the embedded peer records. A fragment that fails the
// sub-grammar simply yields fewer peers, never an error.
func parsePeers(s string) []sensor.Peer {
	var peers []sensor.Peer

	for _, m := range peerPattern.FindAllStringSubmatch(s, -1) {
		c := new(captures)
		peer := sensor.Peer{
			ID:        c.int(m[1]),
			Threshold: c.int(m[2]),
			RSSI:      c.int(m[3]),
			DT:        c.int(m[4]),
		}

		if !c.failed {
			peers = append(peers, peer)
		}
	}

	return peers
}

// captures accumulates integer conversions for one grammar match. A single
// failed conversion (e.g. a digit run overflowing int) poisons the whole
// match, so a keyword line with a bad numeric capture parses to nothing
// rather than a partially populated event.
type captures struct {
	failed bool
}

func (c *captures) int(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		c.failed = true

		return 0
	}

	return v
}
