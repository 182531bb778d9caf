package corebus

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// WebSocketPort is a RawTransport over a loopback WebSocket connection,
// used when a view or worker runs as a separate OS process and cannot
// share Go channels with the host. Wire messages are JSON-encoded text
// frames. There is no reconnection: a Recv error ends the owning Port's
// receive pump and closes that Port. Process Lifecycle detects a worker
// crash from the process exit, not from the socket.
type WebSocketPort struct {
	conn *websocket.Conn
	ctx  context.Context
}

// DialWebSocketPort connects out to a host-side Accept listener, used by
// the view/worker side of the loopback pair.
func DialWebSocketPort(ctx context.Context, url string) (*WebSocketPort, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocketPort{conn: conn, ctx: ctx}, nil
}

// AcceptWebSocketPort upgrades an inbound HTTP request, used by the
// host's loopback listener to accept the view/worker's Dial.
func AcceptWebSocketPort(ctx context.Context, w http.ResponseWriter, r *http.Request) (*WebSocketPort, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		return nil, err
	}
	return &WebSocketPort{conn: conn, ctx: ctx}, nil
}

func (w *WebSocketPort) Send(msg WireMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.conn.Write(w.ctx, websocket.MessageText, b)
}

func (w *WebSocketPort) Recv() (WireMessage, error) {
	_, b, err := w.conn.Read(w.ctx)
	if err != nil {
		return WireMessage{}, err
	}

	var msg WireMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return WireMessage{}, err
	}
	return msg, nil
}

func (w *WebSocketPort) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "port closed")
}
