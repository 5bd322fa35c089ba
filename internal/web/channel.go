package web

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/torchrec/internal/debug"
)

// ChannelName identifies the recorder's method channel.
const ChannelName = "video_recorder"

// Channel methods.
const (
	MethodStartRecording = "startRecording"
	MethodStopRecording  = "stopRecording"
	MethodSegmentSaved   = "segmentSaved"
)

// Error codes returned in Reply.Error.
const (
	CodeNotImplemented = "notImplemented"
	CodeBadRequest     = "badRequest"
)

// ErrNotImplemented is returned for methods the recorder does not handle.
var ErrNotImplemented = errors.New("method not implemented")

// Call is an inbound method invocation.
type Call struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
}

// Reply answers a Call. Result is always null; Error is set on failure.
type Reply struct {
	ID     int64  `json:"id"`
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Event is an outbound notification.
type Event struct {
	Method    string `json:"method"`
	Arguments string `json:"arguments"`
}

// readLoop answers calls until the connection drops.
func (c *client) readLoop(dispatch func(method string) error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Warn(err, "Channel: read from %s", c.conn.RemoteAddr())
			}
			return
		}

		var call Call
		reply := Reply{}
		if err := json.Unmarshal(data, &call); err != nil || call.Method == "" {
			reply.Error = CodeBadRequest
		} else {
			reply.ID = call.ID
			if err := dispatch(call.Method); err != nil {
				reply.Error = errorCode(err)
			}
		}

		out, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if !c.queue(out) {
			return
		}
	}
}

func errorCode(err error) string {
	if errors.Is(err, ErrNotImplemented) {
		return CodeNotImplemented
	}
	return err.Error()
}
