package ros

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testTransport is an in-memory Transport. Outgoing frames are
// recorded as decoded Messages; incoming frames are injected with
// deliver. One instance serves every dial of a session so reconnects
// reuse it.
type testTransport struct {
	mutex     sync.Mutex
	handler   TransportHandler
	sent      []Message
	closed    bool
	refuse    bool
	dialCount int
}

func (t *testTransport) Send(data []byte) error {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t.mutex.Lock()
	t.sent = append(t.sent, m)
	t.mutex.Unlock()
	return nil
}

func (t *testTransport) Close() error {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return nil
	}
	t.closed = true
	handler := t.handler
	t.mutex.Unlock()

	handler.OnClose(1000, "closed", true)
	return nil
}

// deliver injects one incoming frame.
func (t *testTransport) deliver(frame string) {
	t.mutex.Lock()
	handler := t.handler
	t.mutex.Unlock()
	handler.OnMessage([]byte(frame))
}

// drop simulates an unexpected connection loss.
func (t *testTransport) drop() {
	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		return
	}
	t.closed = true
	handler := t.handler
	t.mutex.Unlock()

	handler.OnClose(1006, "abnormal closure", false)
}

func (t *testTransport) frames() []Message {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	frames := make([]Message, len(t.sent))
	copy(frames, t.sent)
	return frames
}

func (t *testTransport) framesByOp(op string) []Message {
	var matched []Message
	for _, frame := range t.frames() {
		if frame.String("op") == op {
			matched = append(matched, frame)
		}
	}
	return matched
}

func (t *testTransport) dials() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.dialCount
}

func (t *testTransport) dialer() Dialer {
	return func(url string, handler TransportHandler, headers http.Header) (Transport, error) {
		t.mutex.Lock()
		t.dialCount++
		if t.refuse {
			t.mutex.Unlock()
			return nil, ErrConnectionFailed
		}
		t.handler = handler
		t.closed = false
		t.mutex.Unlock()

		handler.OnOpen()
		return t, nil
	}
}

// serviceResponder answers every outgoing call_service frame with the
// values produced by respond, mimicking a rosbridge server.
func (t *testTransport) serviceResponder(respond func(service string, args Message) (Message, bool)) Dialer {
	base := t.dialer()
	return func(url string, handler TransportHandler, headers http.Header) (Transport, error) {
		transport, err := base(url, handler, headers)
		if err != nil {
			return nil, err
		}
		return &respondingTransport{testTransport: t, inner: transport, respond: respond}, nil
	}
}

type respondingTransport struct {
	*testTransport
	inner   Transport
	respond func(service string, args Message) (Message, bool)
}

func (t *respondingTransport) Send(data []byte) error {
	if err := t.inner.Send(data); err != nil {
		return err
	}

	var frame Message
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	if frame.String("op") != opCallService {
		return nil
	}

	values, ok := t.respond(frame.String("service"), frame.Object("args"))
	reply := Message{
		"op":      opServiceResponse,
		"id":      frame.String("id"),
		"service": frame.String("service"),
		"values":  values,
		"result":  ok,
	}
	encoded, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	go t.deliver(string(encoded))
	return nil
}

func newTestSession(t *testing.T, config Config, transport *testTransport) *Ros {
	t.Helper()

	if config.Dialer == nil {
		config.Dialer = transport.dialer()
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.ReadyTimeout == 0 {
		config.ReadyTimeout = 2 * time.Second
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 2 * time.Second
	}

	session := NewRos(config)
	require.NoError(t, session.Run())
	t.Cleanup(session.Close)
	return session
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Fail(t, "condition not met within "+timeout.String())
}
