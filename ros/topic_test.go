package ros

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeSendsSingleFrame(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	first, err := NewTopic(session, "/chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	second, err := NewTopic(session, "/chatter", "std_msgs/String", nil)
	require.NoError(t, err)

	tokenA := first.Subscribe(func(Message) {})
	tokenB := second.Subscribe(func(Message) {})

	subscribes := transport.framesByOp(opSubscribe)
	require.Len(t, subscribes, 1)
	assert.Equal(t, "/chatter", subscribes[0].String("topic"))
	assert.Equal(t, "std_msgs/String", subscribes[0].String("type"))
	assert.Equal(t, "none", subscribes[0].String("compression"))

	first.Unsubscribe(tokenA)
	assert.Empty(t, transport.framesByOp(opUnsubscribe))

	second.Unsubscribe(tokenB)
	unsubscribes := transport.framesByOp(opUnsubscribe)
	require.Len(t, unsubscribes, 1)
	assert.Equal(t, subscribes[0]["id"], unsubscribes[0]["id"])
	assert.False(t, second.IsSubscribed())
}

func TestSubscribeForwardsThrottleOptions(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	topic, err := NewTopic(session, "/pose", "turtlesim/Pose", &TopicOptions{
		ThrottleRate: 500,
		QueueLength:  10,
	})
	require.NoError(t, err)
	topic.Subscribe(func(Message) {})

	subscribes := transport.framesByOp(opSubscribe)
	require.Len(t, subscribes, 1)
	rate, _ := subscribes[0].Int("throttle_rate")
	length, _ := subscribes[0].Int("queue_length")
	assert.Equal(t, 500, rate)
	assert.Equal(t, 10, length)
}

func TestPublishAdvertisesOnce(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	topic, err := NewTopic(session, "/chatter", "std_msgs/String", nil)
	require.NoError(t, err)

	topic.Publish(Message{"data": "one"})
	topic.Publish(Message{"data": "two"})

	advertises := transport.framesByOp(opAdvertise)
	require.Len(t, advertises, 1)
	assert.Equal(t, "/chatter", advertises[0].String("topic"))

	publishes := transport.framesByOp(opPublish)
	require.Len(t, publishes, 2)
	assert.Equal(t, "one", publishes[0].Object("msg").String("data"))
	assert.Equal(t, "two", publishes[1].Object("msg").String("data"))
	assert.True(t, topic.IsAdvertised())
}

func TestUnadvertiseStopsReconnectReplay(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{InitialDelay: 5 * time.Millisecond}, transport)

	topic, err := NewTopic(session, "/chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	topic.Publish(Message{"data": "hi"})
	topic.Unadvertise()

	require.Len(t, transport.framesByOp(opUnadvertise), 1)

	readyAgain := make(chan struct{}, 1)
	session.Once("ready", func(interface{}) { readyAgain <- struct{}{} })
	transport.drop()

	select {
	case <-readyAgain:
	case <-time.After(time.Second):
		t.Fatal("session did not reconnect")
	}

	assert.Len(t, transport.framesByOp(opAdvertise), 1)
}

func TestLatchedPublish(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	topic, err := NewTopic(session, "/map", "nav_msgs/OccupancyGrid", &TopicOptions{Latch: true})
	require.NoError(t, err)
	topic.Publish(Message{"data": []interface{}{}})

	advertises := transport.framesByOp(opAdvertise)
	require.Len(t, advertises, 1)
	assert.Equal(t, true, advertises[0]["latch"])

	publishes := transport.framesByOp(opPublish)
	require.Len(t, publishes, 1)
	assert.Equal(t, true, publishes[0]["latch"])
}

func TestNewTopicRejectsUnknownCompression(t *testing.T) {
	session := NewRos(Config{Host: "localhost"})

	_, err := NewTopic(session, "/chatter", "std_msgs/String", &TopicOptions{Compression: "zip"})
	assert.Error(t, err)
}

func TestRoundTripEcho(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	inbound, err := NewTopic(session, "/chatter", "std_msgs/String", nil)
	require.NoError(t, err)
	outbound, err := NewTopic(session, "/chatter_echo", "std_msgs/String", nil)
	require.NoError(t, err)

	inbound.Subscribe(func(msg Message) { outbound.Publish(msg) })
	transport.deliver(`{"op":"publish","topic":"/chatter","msg":{"data":"hello","count":3}}`)

	waitFor(t, time.Second, func() bool {
		return len(transport.framesByOp(opPublish)) == 1
	})

	echoed := transport.framesByOp(opPublish)[0].Object("msg")
	assert.Equal(t, "hello", echoed.String("data"))
	count, _ := echoed.Int("count")
	assert.Equal(t, 3, count)
}

func TestNextReturnsFirstMessage(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	topic, err := NewTopic(session, "/chatter", "std_msgs/String", nil)
	require.NoError(t, err)

	go func() {
		for i := 0; i < 500; i++ {
			if len(transport.framesByOp(opSubscribe)) == 1 {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		transport.deliver(`{"op":"publish","topic":"/chatter","msg":{"data":"first"}}`)
	}()

	msg, err := topic.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", msg.String("data"))

	// The one-shot subscription is gone again.
	unsubscribes := transport.framesByOp(opUnsubscribe)
	assert.Len(t, unsubscribes, 1)
}

func TestNextTimesOut(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	topic, err := NewTopic(session, "/silent", "std_msgs/String", nil)
	require.NoError(t, err)

	_, err = topic.Next(20 * time.Millisecond)
	assert.Error(t, err)
}
