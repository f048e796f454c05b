package ros

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServiceRequest carries the named fields of a ROS service request.
type ServiceRequest map[string]interface{}

// ServiceResponse carries the named fields of a ROS service response.
type ServiceResponse map[string]interface{}

// ServiceHandler serves one incoming call of an advertised service.
// Returning an error produces a service_response with result=false.
type ServiceHandler func(request ServiceRequest) (ServiceResponse, error)

// Service is a client or server for one named ROS service. A handle
// turns into a server when Advertise is called; an advertised handle
// refuses outgoing calls.
type Service struct {
	ros         *Ros
	name        string
	serviceType string
	log         logrus.FieldLogger

	advertised   bool
	handlerToken int
}

// NewService creates a handle for the named service. The service type
// uses the ROS name verbatim, e.g. std_srvs/SetBool.
func NewService(ros *Ros, name, serviceType string) *Service {
	return &Service{
		ros:         ros,
		name:        name,
		serviceType: serviceType,
		log:         moduleLogger(ros.config.Logger, "service"),
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// IsAdvertised reports whether this handle acts as the server.
func (s *Service) IsAdvertised() bool {
	s.ros.mutex.Lock()
	defer s.ros.mutex.Unlock()

	return s.advertised
}

// Call sends a request and blocks until the response, an error from
// the peer, a lost connection or the timeout. A zero timeout uses the
// session default.
func (s *Service) Call(request ServiceRequest, timeout time.Duration) (ServiceResponse, error) {
	if s.IsAdvertised() {
		return nil, errors.Errorf("service %s is advertised; servers cannot call", s.name)
	}
	return s.ros.callService(s.callFrame(request), timeout)
}

// CallAsync sends a request and delivers the outcome to exactly one of
// the two callbacks.
func (s *Service) CallAsync(request ServiceRequest, callback func(ServiceResponse), errback func(error)) error {
	if s.IsAdvertised() {
		return errors.Errorf("service %s is advertised; servers cannot call", s.name)
	}
	s.ros.callServiceAsync(s.callFrame(request), callback, errback)
	return nil
}

func (s *Service) callFrame(request ServiceRequest) Message {
	if request == nil {
		request = ServiceRequest{}
	}
	return Message{
		"op":      opCallService,
		"id":      s.ros.nextID(opCallService, s.name),
		"service": s.name,
		"args":    map[string]interface{}(request),
	}
}

// Advertise turns the handle into the server for this service. The
// handler runs for every incoming call; its response is sent back
// under the caller's correlation id. The registration is replayed on
// reconnect.
func (s *Service) Advertise(handler ServiceHandler) error {
	if handler == nil {
		return errors.New("service handler must not be nil")
	}

	ros := s.ros
	ros.mutex.Lock()
	if s.advertised {
		ros.mutex.Unlock()
		return nil
	}
	s.advertised = true
	ros.mutex.Unlock()

	s.handlerToken = ros.On(s.name, func(payload interface{}) {
		frame, ok := payload.(Message)
		if !ok {
			return
		}
		s.serve(handler, frame)
	})

	frame := Message{
		"op":      opAdvertiseService,
		"type":    s.serviceType,
		"service": s.name,
	}
	ros.registerIntent("advertise_service:"+s.name, frame)
	ros.sendFrame(frame)
	return nil
}

// Unadvertise releases the server registration.
func (s *Service) Unadvertise() {
	ros := s.ros
	ros.mutex.Lock()
	if !s.advertised {
		ros.mutex.Unlock()
		return
	}
	s.advertised = false
	token := s.handlerToken
	ros.mutex.Unlock()

	ros.Off(s.name, token)
	ros.releaseIntent("advertise_service:" + s.name)
	ros.sendFrame(Message{
		"op":      opUnadvertiseService,
		"service": s.name,
	})
}

func (s *Service) serve(handler ServiceHandler, frame Message) {
	request := ServiceRequest{}
	if args := frame.Object("args"); args != nil {
		request = ServiceRequest(args)
	}

	response, err := s.invoke(handler, request)
	values := Message{}
	if err != nil {
		s.log.Errorf("handler for %s failed: %v", s.name, err)
		s.ros.Emit("error", errors.Wrapf(err, "service %s handler", s.name))
	} else {
		values = Message(response)
		if values == nil {
			values = Message{}
		}
	}

	reply := Message{
		"op":      opServiceResponse,
		"service": s.name,
		"values":  values,
		"result":  err == nil,
	}
	if id := frame.String("id"); id != "" {
		reply["id"] = id
	}
	s.ros.SendOnReady(reply)
}

func (s *Service) invoke(handler ServiceHandler, request ServiceRequest) (response ServiceResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return handler(request)
}
