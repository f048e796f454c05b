package actionlib

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edwinhayes/rosbridge/ros"
)

// testTransport is an in-memory ros.Transport; outgoing frames are
// recorded, incoming ones injected through deliver.
type testTransport struct {
	mutex   sync.Mutex
	handler ros.TransportHandler
	sent    []ros.Message
}

func (t *testTransport) Send(data []byte) error {
	var m ros.Message
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
	handler := t.handler
	t.mutex.Unlock()

	handler.OnClose(1000, "closed", true)
	return nil
}

func (t *testTransport) dialer() ros.Dialer {
	return func(url string, handler ros.TransportHandler, headers http.Header) (ros.Transport, error) {
		t.mutex.Lock()
		t.handler = handler
		t.mutex.Unlock()

		handler.OnOpen()
		return t, nil
	}
}

func (t *testTransport) deliver(frame ros.Message) {
	data, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}
	t.mutex.Lock()
	handler := t.handler
	t.mutex.Unlock()
	handler.OnMessage(data)
}

// publish injects an incoming topic message.
func (t *testTransport) publish(topic string, msg ros.Message) {
	t.deliver(ros.Message{"op": "publish", "topic": topic, "msg": msg})
}

func (t *testTransport) frames() []ros.Message {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	frames := make([]ros.Message, len(t.sent))
	copy(frames, t.sent)
	return frames
}

// published returns the msg payloads published on one topic.
func (t *testTransport) published(topic string) []ros.Message {
	var matched []ros.Message
	for _, frame := range t.frames() {
		if frame.String("op") == "publish" && frame.String("topic") == topic {
			matched = append(matched, frame.Object("msg"))
		}
	}
	return matched
}

func (t *testTransport) advertised(topic string) bool {
	for _, frame := range t.frames() {
		if frame.String("op") == "advertise" && frame.String("topic") == topic {
			return true
		}
	}
	return false
}

func (t *testTransport) subscribed(topic string) bool {
	for _, frame := range t.frames() {
		if frame.String("op") == "subscribe" && frame.String("topic") == topic {
			return true
		}
	}
	return false
}

func newTestSession(t *testing.T) (*ros.Ros, *testTransport) {
	t.Helper()

	transport := &testTransport{}
	session := ros.NewRos(ros.Config{
		Host:           "localhost",
		Dialer:         transport.dialer(),
		ReadyTimeout:   2 * time.Second,
		DefaultTimeout: 2 * time.Second,
	})
	require.NoError(t, session.Run())
	t.Cleanup(session.Close)
	return session, transport
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

func goalStatus(id string, status uint8) ros.Message {
	return ros.Message{
		"goal_id": ros.Message{
			"stamp": ros.Message{"secs": 0, "nsecs": 0},
			"id":    id,
		},
		"status": status,
	}
}
