package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/gorilla/websocket"

	"github.com/oshokin/sensor-bridge/internal/broadcast"
	"github.com/oshokin/sensor-bridge/internal/domain/sensor"
	"github.com/oshokin/sensor-bridge/internal/logger"
)

// Dispatcher abstracts the command operations the transport layer depends on.
type Dispatcher interface {
	SetThreshold(ctx context.Context, value int)
	SetGain(ctx context.Context, value int)
	RequestMap(ctx context.Context)
	Acknowledge(ctx context.Context)
	ToggleDetection(ctx context.Context)
	SetAlarmMode(ctx context.Context, mode string)
}

// clientCommand is one inbound observer message. Cmd selects the command;
// the other fields are read per command and ignored otherwise.
type clientCommand struct {
	Cmd   string `json:"cmd"`
	Value *int   `json:"value"`
	Mode  string `json:"mode"`
}

// mapFullMessage is the connect-time dump of the map cache.
type mapFullMessage struct {
	Type  string                `json:"type"`
	Units []*sensor.MapSnapshot `json:"units"`
}

// Server exposes the observer-facing surface: the WebSocket endpoint that
// registers each connection with the broadcast hub, and the static
// dashboard files.
type Server struct {
	dispatcher Dispatcher
	hub        *broadcast.Hub
	state      *sensor.State
	staticDir  string
	upgrader   websocket.Upgrader
}

// NewServer wires the provided dispatcher, hub and state into an HTTP handler.
func NewServer(dispatcher Dispatcher, hub *broadcast.Hub, state *sensor.State, staticDir string) *Server {
	return &Server{
		dispatcher: dispatcher,
		hub:        hub,
		state:      state,
		staticDir:  staticDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served same-origin; local tools may
			// connect from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the HTTP handler for the bridge.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	mux.HandleFunc("/", s.handleIndex)

	return mux
}

// handleIndex serves the dashboard entry point.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)

		return
	}

	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

// handleWebSocket upgrades the connection, sends the snapshot, registers
// the observer and reads commands until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "ws")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(ctx, "WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)

		return
	}

	observer := newClient(conn)
	go observer.writePump()

	// Snapshot first, then live: the snapshot lands in the observer's
	// buffer before any broadcast message can.
	s.sendSnapshot(ctx, observer)
	s.hub.Register(observer)

	logger.InfoKV(ctx, "Observer connected", "remote", r.RemoteAddr)

	s.readCommands(ctx, conn)

	s.hub.Unregister(observer)
	observer.close()
	logger.InfoKV(ctx, "Observer disconnected", "remote", r.RemoteAddr)
}

// sendSnapshot queues the connect-time state dump: authoritative status,
// buffered history newest-first, and the map cache when non-empty.
func (s *Server) sendSnapshot(ctx context.Context, observer *client) {
	s.enqueueJSON(ctx, observer, s.state.Status())

	for _, event := range s.state.HistorySnapshot() {
		s.enqueueJSON(ctx, observer, event)
	}

	if units := s.state.MapUnits(); len(units) > 0 {
		s.enqueueJSON(ctx, observer, mapFullMessage{Type: "map_full", Units: units})
	}
}

func (s *Server) enqueueJSON(ctx context.Context, observer *client, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to serialize snapshot record", "error", err)

		return
	}

	// A snapshot overflowing the buffer means the client is already gone;
	// the read loop will tear it down.
	_ = observer.Send(broadcast.Message{Kind: "snapshot", Payload: payload})
}

// readCommands decodes observer messages until the connection drops.
// Messages that are not valid JSON or carry an unknown command are
// silently ignored; there is no error response in the protocol.
func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientCommand
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		s.dispatch(ctx, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, msg clientCommand) {
	switch msg.Cmd {
	case "set_threshold":
		if msg.Value != nil {
			s.dispatcher.SetThreshold(ctx, *msg.Value)
		}
	case "set_gain":
		if msg.Value != nil {
			s.dispatcher.SetGain(ctx, *msg.Value)
		}
	case "map":
		s.dispatcher.RequestMap(ctx)
	case "acknowledge":
		s.dispatcher.Acknowledge(ctx)
	case "toggle_detection":
		s.dispatcher.ToggleDetection(ctx)
	case "set_alarm_mode":
		mode := msg.Mode
		if mode == "" {
			mode = string(sensor.ModeAuto)
		}

		s.dispatcher.SetAlarmMode(ctx, mode)
	default:
		// Unknown commands are ignored.
	}
}
