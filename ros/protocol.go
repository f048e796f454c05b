package ros

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Recognized rosbridge v2 operations.
const (
	opAdvertise          = "advertise"
	opUnadvertise        = "unadvertise"
	opPublish            = "publish"
	opSubscribe          = "subscribe"
	opUnsubscribe        = "unsubscribe"
	opCallService        = "call_service"
	opAdvertiseService   = "advertise_service"
	opUnadvertiseService = "unadvertise_service"
	opServiceResponse    = "service_response"
	opSetLevel           = "set_level"
	opAuth               = "auth"
	opStatus             = "status"
	opFragment           = "fragment"
	opPNG                = "png"
	opCBOR               = "cbor"
)

// Decoder turns a compressed frame payload back into plain JSON.
// Registered per compression name ("png", "cbor").
type Decoder func(data []byte) ([]byte, error)

type pendingRequest struct {
	id       string
	callback func(ServiceResponse)
	errback  func(error)
}

type fragmentBuffer struct {
	total int
	parts map[int]string
}

// protocol frames outgoing messages and routes incoming frames by op
// and correlation id. All registry access is internally locked; user
// callbacks run outside the lock.
type protocol struct {
	ros *Ros
	log logrus.FieldLogger

	mutex     sync.Mutex
	pending   map[string]*pendingRequest
	fragments map[string]*fragmentBuffer
	decoders  map[string]Decoder
}

func newProtocol(ros *Ros, log logrus.FieldLogger) *protocol {
	return &protocol{
		ros:       ros,
		log:       moduleLogger(log, "protocol"),
		pending:   make(map[string]*pendingRequest),
		fragments: make(map[string]*fragmentBuffer),
		decoders:  make(map[string]Decoder),
	}
}

func (p *protocol) registerDecoder(compression string, decoder Decoder) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.decoders[compression] = decoder
}

func (p *protocol) registerPending(id string, callback func(ServiceResponse), errback func(error)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.pending[id] = &pendingRequest{id: id, callback: callback, errback: errback}
}

func (p *protocol) takePending(id string) *pendingRequest {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	request := p.pending[id]
	delete(p.pending, id)
	return request
}

func (p *protocol) pendingCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.pending)
}

// failAll rejects every outstanding request. Called on disconnect so
// blocked callers observe ErrConnectionLost instead of hanging until
// their own deadlines.
func (p *protocol) failAll(err error) {
	p.mutex.Lock()
	outstanding := make([]*pendingRequest, 0, len(p.pending))
	for _, request := range p.pending {
		outstanding = append(outstanding, request)
	}
	p.pending = make(map[string]*pendingRequest)
	p.fragments = make(map[string]*fragmentBuffer)
	p.mutex.Unlock()

	sort.Slice(outstanding, func(i, j int) bool { return outstanding[i].id < outstanding[j].id })
	for _, request := range outstanding {
		if request.errback != nil {
			request.errback(err)
		}
	}
}

func (p *protocol) incoming(data []byte) {
	op, err := jsonparser.GetString(data, "op")
	if err != nil {
		p.log.Warnf("dropping frame without op: %v", err)
		p.ros.Emit("error", errors.Wrap(err, "invalid frame"))
		return
	}

	switch op {
	case opPublish:
		p.handlePublish(data)
	case opServiceResponse:
		p.handleServiceResponse(data)
	case opCallService:
		p.handleCallService(data)
	case opStatus:
		p.handleStatus(data)
	case opFragment:
		p.handleFragment(data)
	case opPNG, opCBOR:
		p.handleCompressed(op, data)
	default:
		p.log.Warnf("no handler for op %q", op)
		p.ros.Emit("error", errors.Errorf("no handler registered for op %q", op))
	}
}

func (p *protocol) handlePublish(data []byte) {
	topic, err := jsonparser.GetString(data, "topic")
	if err != nil {
		p.ros.Emit("error", errors.Wrap(err, "publish frame without topic"))
		return
	}

	payload, dataType, _, err := jsonparser.Get(data, "msg")
	if err != nil || dataType != jsonparser.Object {
		p.ros.Emit("error", errors.Errorf("publish on %s without msg object", topic))
		return
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.ros.Emit("error", errors.Wrapf(err, "malformed msg on %s", topic))
		return
	}

	p.ros.Emit(topic, msg)
}

func (p *protocol) handleServiceResponse(data []byte) {
	id, err := jsonparser.GetString(data, "id")
	if err != nil {
		p.ros.Emit("error", errors.Wrap(err, "service_response without id"))
		return
	}

	request := p.takePending(id)
	if request == nil {
		p.log.Warnf("service_response for unknown id %q", id)
		return
	}

	values := Message{}
	if payload, dataType, _, err := jsonparser.Get(data, "values"); err == nil && dataType == jsonparser.Object {
		if err := json.Unmarshal(payload, &values); err != nil {
			p.log.Warnf("malformed values for id %q: %v", id, err)
		}
	}

	result, err := jsonparser.GetBoolean(data, "result")
	if err == nil && !result {
		service, _ := jsonparser.GetString(data, "service")
		if request.errback != nil {
			request.errback(&ServiceError{Service: service, Values: values})
		}
		return
	}

	if request.callback != nil {
		request.callback(ServiceResponse(values))
	}
}

func (p *protocol) handleCallService(data []byte) {
	service, err := jsonparser.GetString(data, "service")
	if err != nil {
		p.ros.Emit("error", errors.Wrap(err, "call_service without service"))
		return
	}

	var frame Message
	if err := json.Unmarshal(data, &frame); err != nil {
		p.ros.Emit("error", errors.Wrapf(err, "malformed call_service for %s", service))
		return
	}

	p.ros.Emit(service, frame)
}

func (p *protocol) handleStatus(data []byte) {
	var frame Message
	if err := json.Unmarshal(data, &frame); err != nil {
		p.ros.Emit("error", errors.Wrap(err, "malformed status frame"))
		return
	}

	if id := frame.String("id"); id != "" {
		p.ros.Emit("status:"+id, frame)
	}
	p.ros.Emit(opStatus, frame)
}

// handleFragment reassembles a fragmented frame and feeds the joined
// payload back through incoming. Fragments of one frame share an id
// and arrive with num/total counters.
func (p *protocol) handleFragment(data []byte) {
	id, err := jsonparser.GetString(data, "id")
	if err != nil {
		p.ros.Emit("error", errors.Wrap(err, "fragment without id"))
		return
	}
	part, err := jsonparser.GetString(data, "data")
	if err != nil {
		p.ros.Emit("error", errors.Wrapf(err, "fragment %s without data", id))
		return
	}
	num, err := jsonparser.GetInt(data, "num")
	if err != nil {
		num = 0
	}
	total, err := jsonparser.GetInt(data, "total")
	if err != nil {
		total = 1
	}

	p.mutex.Lock()
	buffer := p.fragments[id]
	if buffer == nil {
		buffer = &fragmentBuffer{total: int(total), parts: make(map[int]string)}
		p.fragments[id] = buffer
	}
	buffer.parts[int(num)] = part
	complete := len(buffer.parts) == buffer.total
	if complete {
		delete(p.fragments, id)
	}
	p.mutex.Unlock()

	if !complete {
		return
	}

	joined := make([]byte, 0)
	for i := 0; i < buffer.total; i++ {
		joined = append(joined, buffer.parts[i]...)
	}
	p.incoming(joined)
}

func (p *protocol) handleCompressed(compression string, data []byte) {
	p.mutex.Lock()
	decoder := p.decoders[compression]
	p.mutex.Unlock()

	if decoder == nil {
		p.log.Warnf("no decoder registered for compression %q", compression)
		return
	}

	payload, err := jsonparser.GetString(data, "data")
	if err != nil {
		p.ros.Emit("error", errors.Wrapf(err, "%s frame without data", compression))
		return
	}

	decoded, err := decoder([]byte(payload))
	if err != nil {
		p.ros.Emit("error", errors.Wrapf(err, "decoding %s frame", compression))
		return
	}
	p.incoming(decoded)
}
