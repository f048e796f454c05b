package ros

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCallResolvesWithValues(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{
		Dialer: transport.serviceResponder(func(service string, args Message) (Message, bool) {
			require.Equal(t, "/rosout/get_loggers", service)
			return Message{"loggers": []interface{}{
				map[string]interface{}{"name": "ros", "level": "INFO"},
			}}, true
		}),
	}, transport)

	service := NewService(session, "/rosout/get_loggers", "roscpp/GetLoggers")
	response, err := service.Call(ServiceRequest{}, time.Second)
	require.NoError(t, err)

	loggers, ok := response["loggers"].([]interface{})
	require.True(t, ok)
	require.Len(t, loggers, 1)
	entry := Message(loggers[0].(map[string]interface{}))
	assert.Equal(t, "ros", entry.String("name"))
	assert.Equal(t, "INFO", entry.String("level"))
}

func TestServiceCallFailureCarriesValues(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{
		Dialer: transport.serviceResponder(func(string, Message) (Message, bool) {
			return Message{"message": "no such handler"}, false
		}),
	}, transport)

	service := NewService(session, "/broken", "std_srvs/Trigger")
	_, err := service.Call(ServiceRequest{}, time.Second)
	require.Error(t, err)

	var serviceErr *ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "/broken", serviceErr.Service)
	assert.Equal(t, "no such handler", serviceErr.Values.String("message"))
}

func TestServiceCallTimesOut(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	service := NewService(session, "/silent", "std_srvs/Trigger")
	_, err := service.Call(ServiceRequest{}, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 0, session.proto.pendingCount())
}

func TestConcurrentCallsResolveIndependently(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	service := NewService(session, "/echo", "rosapi/Echo")

	resultA := make(chan ServiceResponse, 1)
	resultB := make(chan ServiceResponse, 1)
	require.NoError(t, service.CallAsync(ServiceRequest{"tag": "a"},
		func(r ServiceResponse) { resultA <- r }, nil))
	require.NoError(t, service.CallAsync(ServiceRequest{"tag": "b"},
		func(r ServiceResponse) { resultB <- r }, nil))

	calls := transport.framesByOp(opCallService)
	require.Len(t, calls, 2)
	idA := calls[0].String("id")
	idB := calls[1].String("id")
	require.NotEqual(t, idA, idB)

	// Replies arrive out of order; each resolver still gets its own.
	transport.deliver(`{"op":"service_response","id":"` + idB + `","values":{"tag":"b"},"result":true}`)
	transport.deliver(`{"op":"service_response","id":"` + idA + `","values":{"tag":"a"},"result":true}`)

	select {
	case r := <-resultA:
		assert.Equal(t, "a", Message(r).String("tag"))
	case <-time.After(time.Second):
		t.Fatal("first call unresolved")
	}
	select {
	case r := <-resultB:
		assert.Equal(t, "b", Message(r).String("tag"))
	case <-time.After(time.Second):
		t.Fatal("second call unresolved")
	}
}

func TestAdvertisedServiceAnswersCalls(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	service := NewService(session, "/toggle", "std_srvs/SetBool")
	require.NoError(t, service.Advertise(func(request ServiceRequest) (ServiceResponse, error) {
		data, _ := request["data"].(bool)
		message := "data:False"
		if data {
			message = "data:True"
		}
		return ServiceResponse{"success": true, "message": message}, nil
	}))
	assert.True(t, service.IsAdvertised())

	advertises := transport.framesByOp(opAdvertiseService)
	require.Len(t, advertises, 1)
	assert.Equal(t, "std_srvs/SetBool", advertises[0].String("type"))

	transport.deliver(`{"op":"call_service","id":"call_service:/toggle:9","service":"/toggle","args":{"data":true}}`)

	waitFor(t, time.Second, func() bool {
		return len(transport.framesByOp(opServiceResponse)) == 1
	})
	reply := transport.framesByOp(opServiceResponse)[0]
	assert.Equal(t, "call_service:/toggle:9", reply.String("id"))
	assert.Equal(t, true, reply["result"])
	assert.Equal(t, "data:True", reply.Object("values").String("message"))
}

func TestAdvertisedServiceHandlerErrorSendsFailure(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	service := NewService(session, "/fails", "std_srvs/Trigger")
	require.NoError(t, service.Advertise(func(ServiceRequest) (ServiceResponse, error) {
		return nil, errors.New("handler exploded")
	}))

	transport.deliver(`{"op":"call_service","id":"call_service:/fails:1","service":"/fails","args":{}}`)

	waitFor(t, time.Second, func() bool {
		return len(transport.framesByOp(opServiceResponse)) == 1
	})
	reply := transport.framesByOp(opServiceResponse)[0]
	assert.Equal(t, false, reply["result"])
	assert.Empty(t, reply.Object("values"))
	assert.True(t, session.IsConnected())
}

func TestAdvertisedServiceHandlerPanicSendsFailure(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	service := NewService(session, "/panics", "std_srvs/Trigger")
	require.NoError(t, service.Advertise(func(ServiceRequest) (ServiceResponse, error) {
		panic("unexpected")
	}))

	transport.deliver(`{"op":"call_service","id":"call_service:/panics:1","service":"/panics","args":{}}`)

	waitFor(t, time.Second, func() bool {
		return len(transport.framesByOp(opServiceResponse)) == 1
	})
	assert.Equal(t, false, transport.framesByOp(opServiceResponse)[0]["result"])
	assert.True(t, session.IsConnected())
}

func TestAdvertisedServiceRefusesOutgoingCalls(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	service := NewService(session, "/toggle", "std_srvs/SetBool")
	require.NoError(t, service.Advertise(func(ServiceRequest) (ServiceResponse, error) {
		return ServiceResponse{}, nil
	}))

	_, err := service.Call(ServiceRequest{}, time.Second)
	assert.Error(t, err)
}

func TestUnadvertiseSendsFrameAndDetachesHandler(t *testing.T) {
	transport := &testTransport{}
	session := newTestSession(t, Config{}, transport)

	called := 0
	service := NewService(session, "/once", "std_srvs/Trigger")
	require.NoError(t, service.Advertise(func(ServiceRequest) (ServiceResponse, error) {
		called++
		return ServiceResponse{}, nil
	}))
	service.Unadvertise()

	require.Len(t, transport.framesByOp(opUnadvertiseService), 1)
	transport.deliver(`{"op":"call_service","id":"call_service:/once:1","service":"/once","args":{}}`)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, called)
	assert.False(t, service.IsAdvertised())
}
