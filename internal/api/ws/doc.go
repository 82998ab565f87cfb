// Package ws is the observer-facing transport: a WebSocket endpoint that
// registers each connection as a broadcast observer, replays the state
// snapshot on connect, and decodes JSON command messages into dispatcher
// calls. It also serves the static dashboard.
package ws
