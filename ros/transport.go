package ros

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const writeDeadline = 10 * time.Second

// TransportHandler receives transport lifecycle events. OnOpen fires
// before the first OnMessage; after OnClose no further callbacks are
// delivered.
type TransportHandler interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string, clean bool)
}

// Transport carries rosbridge text frames over one bidirectional
// connection. Send must not interleave frames; frame ordering is
// preserved in both directions.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Dialer opens a Transport to the given URL and attaches the handler.
// The session's default dials a WebSocket; tests substitute in-memory
// transports.
type Dialer func(url string, handler TransportHandler, headers http.Header) (Transport, error)

type webSocketTransport struct {
	conn       *websocket.Conn
	handler    TransportHandler
	writeMutex sync.Mutex
	closed     atomic.Bool
}

func dialWebSocket(url string, handler TransportHandler, headers http.Header) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, headers)
	if err != nil {
		return nil, errors.Wrapf(ErrConnectionFailed, "dial %s: %v", url, err)
	}

	t := &webSocketTransport{conn: conn, handler: handler}
	handler.OnOpen()
	go t.readLoop()
	return t, nil
}

func (t *webSocketTransport) Send(data []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	if t.closed.Load() {
		return ErrClosed
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *webSocketTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.writeMutex.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(500*time.Millisecond))
	t.writeMutex.Unlock()

	return t.conn.Close()
}

func (t *webSocketTransport) readLoop() {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			clean := t.closed.Load()
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code, reason = closeErr.Code, closeErr.Text
				if code == websocket.CloseNormalClosure {
					clean = true
				}
			}
			if !clean {
				t.handler.OnError(err)
			}
			t.conn.Close()
			t.handler.OnClose(code, reason, clean)
			return
		}

		if messageType != websocket.TextMessage {
			t.handler.OnError(errors.Errorf("unexpected binary frame of %d bytes", len(data)))
			continue
		}
		t.handler.OnMessage(data)
	}
}
