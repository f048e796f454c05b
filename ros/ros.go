package ros

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type sessionState int

const (
	stateClosed sessionState = iota
	stateOpening
	stateOpen
	stateReady
	stateClosing
)

const (
	defaultPort         = 9090
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 60 * time.Second
	defaultTimeout      = 10 * time.Second
	defaultReadyTimeout = 10 * time.Second
	maxBackoffShift     = 31
)

// Config holds the per-session options. Zero values fall back to the
// conventional defaults (port 9090, 1s..60s backoff, unlimited
// retries, 10s timeouts).
type Config struct {
	Host   string
	Port   int
	Secure bool

	// Authentication, when non-nil, is sent as the auth frame on every
	// ready transition before any other traffic.
	Authentication Message

	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxRetries bounds reconnection attempts; zero means unlimited.
	MaxRetries int

	// DefaultTimeout applies to blocking calls invoked without one.
	DefaultTimeout time.Duration
	// ReadyTimeout bounds the readiness wait of Run.
	ReadyTimeout time.Duration

	Logger  logrus.FieldLogger
	Headers http.Header
	// Dialer opens the underlying transport; defaults to WebSocket.
	Dialer Dialer
}

type connectIntent struct {
	key   string
	frame Message
}

type topicSubscription struct {
	id    string
	count int
}

// Ros is a session with one rosbridge server. It owns the transport,
// the protocol multiplexer, the event bus and the registries of live
// topics, services and pending calls.
type Ros struct {
	*EventEmitter

	config Config
	log    logrus.FieldLogger
	proto  *protocol

	idCounter uint64

	mutex         sync.Mutex
	state         sessionState
	transport     Transport
	intents       []*connectIntent
	queue         []Message
	subscriptions map[string]*topicSubscription
	attempt       int
	userClosed    bool
	reconnecting  bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewRos creates a session for the given endpoint. The session does
// not connect until Run, RunForever or Connect is called.
func NewRos(config Config) *Ros {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaultInitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaultTimeout
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = defaultReadyTimeout
	}
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.Dialer == nil {
		config.Dialer = dialWebSocket
	}

	ros := &Ros{
		EventEmitter:  NewEventEmitter(),
		config:        config,
		log:           moduleLogger(config.Logger, "session"),
		subscriptions: make(map[string]*topicSubscription),
		done:          make(chan struct{}),
	}
	ros.proto = newProtocol(ros, config.Logger)
	return ros
}

// Logger returns the session's configured logger.
func (ros *Ros) Logger() logrus.FieldLogger {
	return ros.config.Logger
}

// URL returns the endpoint this session connects to.
func (ros *Ros) URL() string {
	scheme := "ws"
	if ros.config.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, ros.config.Host, ros.config.Port)
}

// IsConnected reports whether the session is ready for traffic.
func (ros *Ros) IsConnected() bool {
	ros.mutex.Lock()
	defer ros.mutex.Unlock()

	return ros.state == stateReady
}

// Run connects in the background and waits until the session is ready
// or the readiness timeout expires, in which case it returns
// ErrNotReady while reconnection attempts continue.
func (ros *Ros) Run() error {
	if ros.IsConnected() {
		return nil
	}

	readyChan := make(chan struct{}, 1)
	token := ros.Once("ready", func(interface{}) {
		select {
		case readyChan <- struct{}{}:
		default:
		}
	})

	ros.Connect()

	select {
	case <-readyChan:
		return nil
	case <-time.After(ros.config.ReadyTimeout):
		ros.Off("ready", token)
		return errors.Wrap(ErrNotReady, ros.URL())
	}
}

// RunForever connects and blocks the calling goroutine until the
// session is terminally closed.
func (ros *Ros) RunForever() error {
	if err := ros.Run(); err != nil {
		return err
	}
	<-ros.done
	return nil
}

// Connect starts the transport without waiting for readiness. Calling
// it on a connected or connecting session does nothing.
func (ros *Ros) Connect() {
	ros.mutex.Lock()
	if ros.state != stateClosed || ros.reconnecting {
		ros.mutex.Unlock()
		return
	}
	ros.userClosed = false
	ros.state = stateOpening
	ros.mutex.Unlock()

	ros.Emit("connecting", nil)
	go ros.dial()
}

// Close terminates the session. The closing event fires before the
// transport shuts down so handlers can flush final publishes. No
// reconnection is attempted afterwards.
func (ros *Ros) Close() {
	ros.mutex.Lock()
	if ros.userClosed {
		ros.mutex.Unlock()
		return
	}
	ros.userClosed = true
	transport := ros.transport
	ros.mutex.Unlock()

	ros.Emit("closing", nil)

	if transport == nil {
		ros.mutex.Lock()
		ros.state = stateClosed
		ros.mutex.Unlock()
		ros.signalDone()
		return
	}

	ros.mutex.Lock()
	ros.state = stateClosing
	ros.mutex.Unlock()
	transport.Close()
}

// Done is closed once the session is terminally closed.
func (ros *Ros) Done() <-chan struct{} {
	return ros.done
}

// CallLater schedules fn on a timer.
func (ros *Ros) CallLater(delay time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(delay, fn)
}

// CallInThread runs fn on its own goroutine.
func (ros *Ros) CallInThread(fn func()) {
	go fn()
}

// RegisterDecoder installs a payload decoder for the given compression
// ("png", "cbor"). The engine itself only emits compression "none".
func (ros *Ros) RegisterDecoder(compression string, decoder Decoder) {
	ros.proto.registerDecoder(compression, decoder)
}

// Authenticate configures the auth payload and, when already ready,
// sends it immediately. The payload is re-sent on every reconnect.
func (ros *Ros) Authenticate(mac, client, dest, rand string, t int64, level string, end int64) {
	auth := Message{
		"mac":    mac,
		"client": client,
		"dest":   dest,
		"rand":   rand,
		"t":      t,
		"level":  level,
		"end":    end,
	}

	ros.mutex.Lock()
	ros.config.Authentication = auth
	ready := ros.state == stateReady
	ros.mutex.Unlock()

	if ready {
		ros.sendFrame(ros.authFrame())
	}
}

// SetStatusLevel asks the server to change its status message level.
func (ros *Ros) SetStatusLevel(level string, id string) {
	ros.SendOnReady(Message{"op": opSetLevel, "level": level, "id": id})
}

// SendOnReady sends the frame immediately when ready, otherwise queues
// it for the next ready transition. Queued frames are dropped when the
// connection is lost; rosbridge delivery is best effort per session.
func (ros *Ros) SendOnReady(m Message) {
	ros.mutex.Lock()
	if ros.state == stateReady && ros.transport != nil {
		transport := ros.transport
		ros.mutex.Unlock()
		ros.send(transport, m)
		return
	}
	if !ros.userClosed {
		ros.queue = append(ros.queue, m)
	}
	ros.mutex.Unlock()
}

func (ros *Ros) nextID(kind, name string) string {
	n := atomic.AddUint64(&ros.idCounter, 1)
	return fmt.Sprintf("%s:%s:%d", kind, name, n)
}

// sendFrame sends only when ready; intent frames must not queue since
// the ready replay covers them.
func (ros *Ros) sendFrame(m Message) {
	ros.mutex.Lock()
	transport := ros.transport
	ready := ros.state == stateReady
	ros.mutex.Unlock()

	if !ready || transport == nil {
		return
	}
	ros.send(transport, m)
}

func (ros *Ros) send(transport Transport, m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		ros.log.Errorf("encoding frame: %v", err)
		ros.Emit("error", errors.Wrap(err, "encoding frame"))
		return
	}
	ros.log.Debugf("sending %s", data)
	if err := transport.Send(data); err != nil {
		ros.log.Errorf("sending frame: %v", err)
		ros.Emit("error", errors.Wrap(err, "sending frame"))
	}
}

func (ros *Ros) dial() {
	transport, err := ros.config.Dialer(ros.URL(), ros, ros.config.Headers)
	if err != nil {
		ros.log.Warnf("connecting to %s: %v", ros.URL(), err)
		ros.Emit("error", err)
		ros.mutex.Lock()
		ros.state = stateClosed
		ros.mutex.Unlock()
		ros.scheduleReconnect()
		return
	}

	ros.mutex.Lock()
	if ros.userClosed {
		ros.mutex.Unlock()
		transport.Close()
		return
	}
	ros.transport = transport
	ros.state = stateOpen
	ros.mutex.Unlock()

	ros.Emit("connection", nil)
	ros.becomeReady()
}

// becomeReady replays the resubscription intents in insertion order,
// flushes frames queued while disconnected and announces readiness.
func (ros *Ros) becomeReady() {
	ros.mutex.Lock()
	if ros.state != stateOpen {
		ros.mutex.Unlock()
		return
	}
	ros.state = stateReady
	ros.attempt = 0
	intents := make([]Message, 0, len(ros.intents))
	for _, intent := range ros.intents {
		intents = append(intents, intent.frame)
	}
	queued := ros.queue
	ros.queue = nil
	auth := ros.config.Authentication
	ros.mutex.Unlock()

	if auth != nil {
		ros.sendFrame(ros.authFrame())
	}
	for _, frame := range intents {
		ros.sendFrame(frame)
	}
	for _, frame := range queued {
		ros.sendFrame(frame)
	}

	ros.Emit("ready", nil)
}

func (ros *Ros) authFrame() Message {
	frame := Message{"op": opAuth}
	for k, v := range ros.config.Authentication {
		frame[k] = v
	}
	return frame
}

// OnOpen implements TransportHandler.
func (ros *Ros) OnOpen() {
	ros.log.Debugf("transport open to %s", ros.URL())
}

// OnMessage implements TransportHandler.
func (ros *Ros) OnMessage(data []byte) {
	ros.proto.incoming(data)
}

// OnError implements TransportHandler.
func (ros *Ros) OnError(err error) {
	ros.Emit("error", err)
}

// OnClose implements TransportHandler. Every outstanding call fails
// with ErrConnectionLost; an unexpected close schedules a reconnect.
func (ros *Ros) OnClose(code int, reason string, clean bool) {
	ros.mutex.Lock()
	ros.transport = nil
	ros.state = stateClosed
	ros.queue = nil
	userClosed := ros.userClosed
	ros.mutex.Unlock()

	ros.proto.failAll(ErrConnectionLost)
	ros.Emit("close", Message{"code": code, "reason": reason, "clean": clean})

	if userClosed {
		ros.signalDone()
		return
	}
	ros.scheduleReconnect()
}

func (ros *Ros) scheduleReconnect() {
	ros.mutex.Lock()
	if ros.userClosed || ros.reconnecting {
		ros.mutex.Unlock()
		return
	}
	ros.attempt++
	attempt := ros.attempt
	if ros.config.MaxRetries > 0 && attempt > ros.config.MaxRetries {
		ros.mutex.Unlock()
		ros.log.Errorf("giving up on %s after %d attempts", ros.URL(), attempt-1)
		ros.signalDone()
		return
	}
	ros.reconnecting = true
	ros.mutex.Unlock()

	delay := ros.backoffDelay(attempt)
	ros.log.Infof("reconnecting to %s in %v (attempt %d)", ros.URL(), delay, attempt)

	time.AfterFunc(delay, func() {
		ros.mutex.Lock()
		ros.reconnecting = false
		if ros.userClosed {
			ros.mutex.Unlock()
			return
		}
		ros.state = stateOpening
		ros.mutex.Unlock()

		ros.Emit("connecting", nil)
		ros.dial()
	})
}

func (ros *Ros) backoffDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := ros.config.InitialDelay << uint(shift)
	if delay > ros.config.MaxDelay || delay <= 0 {
		delay = ros.config.MaxDelay
	}
	return delay
}

func (ros *Ros) signalDone() {
	ros.doneOnce.Do(func() {
		close(ros.done)
	})
}

// registerIntent records a frame to reissue on every ready transition.
// Re-registering a key replaces its frame in place.
func (ros *Ros) registerIntent(key string, frame Message) {
	ros.mutex.Lock()
	defer ros.mutex.Unlock()

	for _, intent := range ros.intents {
		if intent.key == key {
			intent.frame = frame
			return
		}
	}
	ros.intents = append(ros.intents, &connectIntent{key: key, frame: frame})
}

func (ros *Ros) releaseIntent(key string) {
	ros.mutex.Lock()
	defer ros.mutex.Unlock()

	for i, intent := range ros.intents {
		if intent.key == key {
			ros.intents = append(ros.intents[:i:i], ros.intents[i+1:]...)
			return
		}
	}
}

func (ros *Ros) callServiceAsync(frame Message, callback func(ServiceResponse), errback func(error)) {
	id := frame.String("id")
	ros.proto.registerPending(id, callback, errback)
	ros.SendOnReady(frame)
}

func (ros *Ros) callService(frame Message, timeout time.Duration) (ServiceResponse, error) {
	if timeout <= 0 {
		timeout = ros.config.DefaultTimeout
	}

	type outcome struct {
		response ServiceResponse
		err      error
	}
	resultChan := make(chan outcome, 2)

	ros.callServiceAsync(frame,
		func(response ServiceResponse) { resultChan <- outcome{response: response} },
		func(err error) { resultChan <- outcome{err: err} })

	select {
	case result := <-resultChan:
		return result.response, result.err
	case <-time.After(timeout):
		ros.proto.takePending(frame.String("id"))
		return nil, errors.Wrap(ErrTimeout, frame.String("service"))
	}
}
