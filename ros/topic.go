package ros

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 100

var supportedCompression = map[string]bool{
	"none": true,
	"png":  true,
	"cbor": true,
}

// TopicOptions carries the optional subscribe/advertise parameters
// forwarded to the server.
type TopicOptions struct {
	// Compression selects the wire encoding; defaults to "none".
	Compression string
	// Latch asks the server to replay the last message to new subscribers.
	Latch bool
	// ThrottleRate is the minimum interval between messages, in ms.
	ThrottleRate int
	// QueueSize bounds the bridge-side republishing queue; defaults to 100.
	QueueSize int
	// QueueLength bounds the bridge-side subscribe queue.
	QueueLength int
	// NoReconnectOnClose leaves the topic unregistered after a
	// reconnect instead of replaying its advertise/subscribe intents.
	NoReconnectOnClose bool
}

// Topic is a publish/subscribe handle for one named, typed stream.
// Multiple local subscribers share a single server subscription,
// refcounted across all Topic handles of the session.
type Topic struct {
	ros         *Ros
	name        string
	messageType string
	options     TopicOptions
	log         logrus.FieldLogger

	tokens      []int
	subscribed  bool
	advertised  bool
	advertiseID string
}

// NewTopic creates a handle for the named topic. The message type uses
// the ROS name verbatim, e.g. std_msgs/String.
func NewTopic(ros *Ros, name, messageType string, options *TopicOptions) (*Topic, error) {
	opts := TopicOptions{}
	if options != nil {
		opts = *options
	}
	if opts.Compression == "" {
		opts.Compression = "none"
	}
	if !supportedCompression[opts.Compression] {
		return nil, errors.Errorf("unsupported compression %q", opts.Compression)
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = defaultQueueSize
	}

	return &Topic{
		ros:         ros,
		name:        name,
		messageType: messageType,
		options:     opts,
		log:         moduleLogger(ros.config.Logger, "topic"),
	}, nil
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Type returns the ROS message type name.
func (t *Topic) Type() string {
	return t.messageType
}

// IsSubscribed reports whether this handle holds live subscriptions.
func (t *Topic) IsSubscribed() bool {
	t.ros.mutex.Lock()
	defer t.ros.mutex.Unlock()

	return t.subscribed
}

// IsAdvertised reports whether this handle advertises the topic.
func (t *Topic) IsAdvertised() bool {
	t.ros.mutex.Lock()
	defer t.ros.mutex.Unlock()

	return t.advertised
}

// Subscribe registers a callback for incoming messages and returns a
// token for Unsubscribe. The first subscriber of a topic name sends
// the subscribe frame; later ones just attach.
func (t *Topic) Subscribe(callback func(Message)) int {
	token := t.ros.On(t.name, func(payload interface{}) {
		msg, ok := payload.(Message)
		if !ok {
			return
		}
		callback(msg)
	})

	ros := t.ros
	ros.mutex.Lock()
	t.tokens = append(t.tokens, token)
	t.subscribed = true
	sub := ros.subscriptions[t.name]
	if sub != nil {
		sub.count++
		ros.mutex.Unlock()
		return token
	}
	id := ros.nextID("subscribe", t.name)
	ros.subscriptions[t.name] = &topicSubscription{id: id, count: 1}
	ros.mutex.Unlock()

	t.log.Debugf("subscribing to %s as %s", t.name, id)

	frame := Message{
		"op":            opSubscribe,
		"id":            id,
		"type":          t.messageType,
		"topic":         t.name,
		"compression":   t.options.Compression,
		"throttle_rate": t.options.ThrottleRate,
		"queue_length":  t.options.QueueLength,
	}
	if !t.options.NoReconnectOnClose {
		ros.registerIntent("subscribe:"+t.name, frame)
	}
	ros.sendFrame(frame)
	return token
}

// Unsubscribe removes one subscriber. When the last subscriber of the
// topic name detaches, the unsubscribe frame is sent with the id of
// the original subscribe.
func (t *Topic) Unsubscribe(token int) {
	t.ros.Off(t.name, token)

	ros := t.ros
	ros.mutex.Lock()
	held := false
	for i, candidate := range t.tokens {
		if candidate == token {
			t.tokens = append(t.tokens[:i:i], t.tokens[i+1:]...)
			held = true
			break
		}
	}
	if !held {
		ros.mutex.Unlock()
		return
	}
	t.subscribed = len(t.tokens) > 0

	sub := ros.subscriptions[t.name]
	if sub == nil {
		ros.mutex.Unlock()
		return
	}
	sub.count--
	if sub.count > 0 {
		ros.mutex.Unlock()
		return
	}
	delete(ros.subscriptions, t.name)
	ros.mutex.Unlock()

	ros.releaseIntent("subscribe:" + t.name)
	ros.sendFrame(Message{
		"op":    opUnsubscribe,
		"id":    sub.id,
		"topic": t.name,
	})
}

// Advertise registers this handle as a publisher. Publish calls it
// implicitly on first use.
func (t *Topic) Advertise() {
	ros := t.ros
	ros.mutex.Lock()
	if t.advertised {
		ros.mutex.Unlock()
		return
	}
	t.advertised = true
	id := ros.nextID("advertise", t.name)
	t.advertiseID = id
	ros.mutex.Unlock()

	frame := Message{
		"op":         opAdvertise,
		"id":         id,
		"type":       t.messageType,
		"topic":      t.name,
		"latch":      t.options.Latch,
		"queue_size": t.options.QueueSize,
	}
	if t.options.NoReconnectOnClose {
		// The server forgets the advertise with the socket; the next
		// publish after a reconnect re-advertises.
		ros.Once("close", func(interface{}) {
			ros.mutex.Lock()
			t.advertised = false
			ros.mutex.Unlock()
		})
	} else {
		ros.registerIntent("advertise:"+t.name, frame)
	}

	ros.sendFrame(frame)
}

// Unadvertise releases the publisher registration.
func (t *Topic) Unadvertise() {
	ros := t.ros
	ros.mutex.Lock()
	if !t.advertised {
		ros.mutex.Unlock()
		return
	}
	t.advertised = false
	id := t.advertiseID
	ros.mutex.Unlock()

	ros.releaseIntent("advertise:" + t.name)
	ros.sendFrame(Message{
		"op":    opUnadvertise,
		"id":    id,
		"topic": t.name,
	})
}

// Next blocks until one message arrives on the topic or the timeout
// expires. A zero timeout uses the session default.
func (t *Topic) Next(timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = t.ros.config.DefaultTimeout
	}

	received := make(chan Message, 1)
	token := t.Subscribe(func(msg Message) {
		select {
		case received <- msg:
		default:
		}
	})
	defer t.Unsubscribe(token)

	select {
	case msg := <-received:
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.Wrap(ErrTimeout, t.name)
	}
}

// Publish sends one message, advertising first when needed.
func (t *Topic) Publish(msg Message) {
	t.Advertise()

	t.ros.SendOnReady(Message{
		"op":    opPublish,
		"id":    t.ros.nextID("publish", t.name),
		"topic": t.name,
		"msg":   msg,
		"latch": t.options.Latch,
	})
}
