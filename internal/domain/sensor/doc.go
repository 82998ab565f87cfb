// Package sensor contains the core domain types of the bridge: the closed
// set of parsed device events and the shared State aggregate with the
// alarm state machine (auto/manual modes, acknowledgement, auto-reset),
// the scrolling event history and the per-unit map cache.
package sensor
