package sensor

import "encoding/json"

// EventKind discriminates the event variants on the observer wire.
type EventKind string

// Event kinds as they appear in the serialized "type" field.
const (
	KindDetection EventKind = "detection"
	KindCommLoss  EventKind = "comm_loss"
	KindConnected EventKind = "connected"
	KindMap       EventKind = "map"
)

// Event is one parsed protocol occurrence. The variant set is closed:
// Detection, CommLoss, Connected and MapSnapshot are the only
// implementations, so the router can switch over them exhaustively.
//
// Every event carries two independent clocks: DeviceTimestamp is the
// device-local counter from the line prefix, Timestamp is the wall clock
// at ingestion. They are never assumed to be synchronized.
type Event interface {
	Kind() EventKind
	DeviceTimestamp() int64
}

// Detection reports that a pair of units detected a threshold crossing.
type Detection struct {
	UnitA     int    `json:"unit_a"`
	UnitB     int    `json:"unit_b"`
	IDA       string `json:"id_a"`
	IDB       string `json:"id_b"`
	Threshold int    `json:"threshold"`
	Value     int    `json:"value"`
	Count     int    `json:"count"`
	DeviceTS  int64  `json:"device_ts"`
	Timestamp string `json:"timestamp"`
}

// Kind implements Event.
func (*Detection) Kind() EventKind { return KindDetection }

// DeviceTimestamp implements Event.
func (e *Detection) DeviceTimestamp() int64 { return e.DeviceTS }

// MarshalJSON tags the record with its kind.
func (e *Detection) MarshalJSON() ([]byte, error) {
	type alias Detection

	return json.Marshal(struct {
		Type EventKind `json:"type"`
		*alias
	}{KindDetection, (*alias)(e)})
}

// CommLoss reports that a pair of units lost communication.
type CommLoss struct {
	UnitA     int    `json:"unit_a"`
	UnitB     int    `json:"unit_b"`
	IDA       string `json:"id_a"`
	IDB       string `json:"id_b"`
	Value     int    `json:"value"`
	DeviceTS  int64  `json:"device_ts"`
	Timestamp string `json:"timestamp"`
}

// Kind implements Event.
func (*CommLoss) Kind() EventKind { return KindCommLoss }

// DeviceTimestamp implements Event.
func (e *CommLoss) DeviceTimestamp() int64 { return e.DeviceTS }

// MarshalJSON tags the record with its kind.
func (e *CommLoss) MarshalJSON() ([]byte, error) {
	type alias CommLoss

	return json.Marshal(struct {
		Type EventKind `json:"type"`
		*alias
	}{KindCommLoss, (*alias)(e)})
}

// Connected reports a link topology change between a unit and a peer.
// It is informational: the router broadcasts it without mutating state.
type Connected struct {
	Unit      int    `json:"unit"`
	IDUnit    string `json:"id_unit"`
	Peer      int    `json:"peer"`
	IDPeer    string `json:"id_peer"`
	Connected bool   `json:"connected"`
	DeviceTS  int64  `json:"device_ts"`
	Timestamp string `json:"timestamp"`
}

// Kind implements Event.
func (*Connected) Kind() EventKind { return KindConnected }

// DeviceTimestamp implements Event.
func (e *Connected) DeviceTimestamp() int64 { return e.DeviceTS }

// MarshalJSON tags the record with its kind.
func (e *Connected) MarshalJSON() ([]byte, error) {
	type alias Connected

	return json.Marshal(struct {
		Type EventKind `json:"type"`
		*alias
	}{KindConnected, (*alias)(e)})
}

// Peer is one row of a unit's self-reported peer table.
type Peer struct {
	ID        int `json:"id"`
	Threshold int `json:"threshold"`
	RSSI      int `json:"rssi"`
	DT        int `json:"dt"`
}

// MapSnapshot is a unit's self-reported configuration and peer table.
// Snapshots supersede any earlier snapshot for the same unit and are
// cached rather than kept in the scrolling event history.
type MapSnapshot struct {
	UnitID    int    `json:"unit_id"`
	Version   string `json:"version"`
	Gain      int    `json:"gain"`
	Voltage   int    `json:"voltage"`
	Peers     []Peer `json:"peers"`
	DeviceTS  int64  `json:"device_ts"`
	Timestamp string `json:"timestamp"`
}

// Kind implements Event.
func (*MapSnapshot) Kind() EventKind { return KindMap }

// DeviceTimestamp implements Event.
func (e *MapSnapshot) DeviceTimestamp() int64 { return e.DeviceTS }

// MarshalJSON tags the record with its kind.
func (e *MapSnapshot) MarshalJSON() ([]byte, error) {
	type alias MapSnapshot

	return json.Marshal(struct {
		Type EventKind `json:"type"`
		*alias
	}{KindMap, (*alias)(e)})
}
