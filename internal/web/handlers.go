package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/logic/capture"
)

// Recorder is the command target. *capture.Loop satisfies it.
type Recorder interface {
	Start()
	Stop()
	Status() capture.Status
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Hub         *Hub
	Recorder    Recorder
	Metrics     http.Handler

	upgrader  websocket.Upgrader
	heartbeat time.Duration
}

// NewHandlers creates handlers with the given dependencies.
// If metrics is nil, GET /metrics returns 404.
func NewHandlers(broadcaster *StatusBroadcaster, hub *Hub, rec Recorder, metrics http.Handler) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Hub:         hub,
		Recorder:    rec,
		Metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
			Subprotocols:    []string{ChannelName},
		},
		heartbeat: 30 * time.Second,
	}
}

// Dispatch runs a method-channel command. Both commands return at once;
// the recorder does its work in the background.
func (h *Handlers) Dispatch(method string) error {
	switch method {
	case MethodStartRecording:
		debug.Verbose("Command: %s", method)
		h.Recorder.Start()
		return nil
	case MethodStopRecording:
		debug.Verbose("Command: %s", method)
		h.Recorder.Stop()
		return nil
	default:
		debug.Info("Command %q not implemented", method)
		return ErrNotImplemented
	}
}

// HandleChannel upgrades GET /channel to the method channel.
func (h *Handlers) HandleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		debug.Verbose("Channel: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	c := newClient(conn)
	h.Hub.add(c)
	defer h.Hub.remove(c)

	go c.writePump()
	c.readLoop(h.Dispatch)
}

// HandleStart handles POST /recording/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.command(w, MethodStartRecording)
}

// HandleStop handles POST /recording/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.command(w, MethodStopRecording)
}

// HandleCommand handles POST /command/{method}.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	h.command(w, chi.URLParam(r, "method"))
}

func (h *Handlers) command(w http.ResponseWriter, method string) {
	if err := h.Dispatch(method); err != nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": errorCode(err)})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"state":  h.Recorder.Status().State,
	})
}

// statusReply is the recorder status plus who is listening to it.
type statusReply struct {
	capture.Status
	ChannelClients int `json:"channel_clients"`
	StreamClients  int `json:"stream_clients"`
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusReply{
		Status:         h.Recorder.Status(),
		ChannelClients: h.Hub.Clients(),
		StreamClients:  h.Broadcaster.Subscribers(),
	})
}

// HandleMetrics handles GET /metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.Metrics.ServeHTTP(w, r)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Verbose("write response: %v", err)
	}
}
