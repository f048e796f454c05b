package ros

import (
	"github.com/pkg/errors"
)

// NodeDetails lists what one node subscribes, publishes and serves.
type NodeDetails struct {
	Subscribing []string
	Publishing  []string
	Services    []string
}

// GetTopics retrieves the list of topics known to ROS.
func (ros *Ros) GetTopics() ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/topics", "rosapi/Topics", nil)
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "topics")
}

// GetTopicType retrieves the message type of a topic.
func (ros *Ros) GetTopicType(topic string) (string, error) {
	response, err := ros.rosapiCall("/rosapi/topic_type", "rosapi/TopicType", ServiceRequest{"topic": topic})
	if err != nil {
		return "", err
	}
	return stringField(response, "type")
}

// GetTopicsForType retrieves the topics carrying the given message type.
func (ros *Ros) GetTopicsForType(topicType string) ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/topics_for_type", "rosapi/TopicsForType", ServiceRequest{"type": topicType})
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "topics")
}

// GetServices retrieves the list of active service names.
func (ros *Ros) GetServices() ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/services", "rosapi/Services", nil)
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "services")
}

// GetServiceType retrieves the type of a service.
func (ros *Ros) GetServiceType(service string) (string, error) {
	response, err := ros.rosapiCall("/rosapi/service_type", "rosapi/ServiceType", ServiceRequest{"service": service})
	if err != nil {
		return "", err
	}
	return stringField(response, "type")
}

// GetServicesForType retrieves the services of the given type.
func (ros *Ros) GetServicesForType(serviceType string) ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/services_for_type", "rosapi/ServicesForType", ServiceRequest{"type": serviceType})
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "services")
}

// GetMessageDetails retrieves the field layout of a message type.
func (ros *Ros) GetMessageDetails(messageType string) (Message, error) {
	response, err := ros.rosapiCall("/rosapi/message_details", "rosapi/MessageDetails", ServiceRequest{"type": messageType})
	if err != nil {
		return nil, err
	}
	return Message(response), nil
}

// GetServiceRequestDetails retrieves the request layout of a service type.
func (ros *Ros) GetServiceRequestDetails(serviceType string) (Message, error) {
	response, err := ros.rosapiCall("/rosapi/service_request_details", "rosapi/ServiceRequestDetails", ServiceRequest{"type": serviceType})
	if err != nil {
		return nil, err
	}
	return Message(response), nil
}

// GetServiceResponseDetails retrieves the response layout of a service type.
func (ros *Ros) GetServiceResponseDetails(serviceType string) (Message, error) {
	response, err := ros.rosapiCall("/rosapi/service_response_details", "rosapi/ServiceResponseDetails", ServiceRequest{"type": serviceType})
	if err != nil {
		return nil, err
	}
	return Message(response), nil
}

// GetParams retrieves the parameter names on the parameter server.
func (ros *Ros) GetParams() ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/get_param_names", "rosapi/GetParamNames", nil)
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "names")
}

// GetParam fetches one parameter value.
func (ros *Ros) GetParam(name string) (interface{}, error) {
	return NewParam(ros, name).Get(0)
}

// SetParam stores one parameter value.
func (ros *Ros) SetParam(name string, value interface{}) error {
	return NewParam(ros, name).Set(value, 0)
}

// DeleteParam removes one parameter.
func (ros *Ros) DeleteParam(name string) error {
	return NewParam(ros, name).Delete(0)
}

// GetNodes retrieves the list of active node names.
func (ros *Ros) GetNodes() ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/nodes", "rosapi/Nodes", nil)
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "nodes")
}

// GetNodeDetails retrieves the topics and services of one node.
func (ros *Ros) GetNodeDetails(node string) (*NodeDetails, error) {
	response, err := ros.rosapiCall("/rosapi/node_details", "rosapi/NodeDetails", ServiceRequest{"node": node})
	if err != nil {
		return nil, err
	}

	details := &NodeDetails{}
	if details.Subscribing, err = stringSlice(response, "subscribing"); err != nil {
		return nil, err
	}
	if details.Publishing, err = stringSlice(response, "publishing"); err != nil {
		return nil, err
	}
	if details.Services, err = stringSlice(response, "services"); err != nil {
		return nil, err
	}
	return details, nil
}

// GetActionServers retrieves the list of action servers.
func (ros *Ros) GetActionServers() ([]string, error) {
	response, err := ros.rosapiCall("/rosapi/action_servers", "rosapi/GetActionServers", nil)
	if err != nil {
		return nil, err
	}
	return stringSlice(response, "action_servers")
}

// GetTime retrieves the current ROS time.
func (ros *Ros) GetTime() (Time, error) {
	response, err := ros.rosapiCall("/rosapi/get_time", "rosapi/GetTime", nil)
	if err != nil {
		return Time{}, err
	}

	values := Message(response)
	secs, ok := values.Int("time", "secs")
	if !ok {
		return Time{}, errors.New("get_time response without time")
	}
	nsecs, _ := values.Int("time", "nsecs")
	return NewTime(uint32(secs), uint32(nsecs)), nil
}

// GetTopicsAsync is the non-blocking form of GetTopics.
func (ros *Ros) GetTopicsAsync(callback func([]string), errback func(error)) {
	ros.rosapiCallAsync("/rosapi/topics", "rosapi/Topics", nil, func(response ServiceResponse) {
		topics, err := stringSlice(response, "topics")
		deliverList(topics, err, callback, errback)
	}, errback)
}

// GetServicesAsync is the non-blocking form of GetServices.
func (ros *Ros) GetServicesAsync(callback func([]string), errback func(error)) {
	ros.rosapiCallAsync("/rosapi/services", "rosapi/Services", nil, func(response ServiceResponse) {
		services, err := stringSlice(response, "services")
		deliverList(services, err, callback, errback)
	}, errback)
}

// GetTopicTypeAsync is the non-blocking form of GetTopicType.
func (ros *Ros) GetTopicTypeAsync(topic string, callback func(string), errback func(error)) {
	ros.rosapiCallAsync("/rosapi/topic_type", "rosapi/TopicType", ServiceRequest{"topic": topic},
		func(response ServiceResponse) {
			topicType, err := stringField(response, "type")
			deliverString(topicType, err, callback, errback)
		}, errback)
}

// GetServiceTypeAsync is the non-blocking form of GetServiceType.
func (ros *Ros) GetServiceTypeAsync(service string, callback func(string), errback func(error)) {
	ros.rosapiCallAsync("/rosapi/service_type", "rosapi/ServiceType", ServiceRequest{"service": service},
		func(response ServiceResponse) {
			serviceType, err := stringField(response, "type")
			deliverString(serviceType, err, callback, errback)
		}, errback)
}

func (ros *Ros) rosapiCall(name, serviceType string, request ServiceRequest) (ServiceResponse, error) {
	return NewService(ros, name, serviceType).Call(request, 0)
}

func (ros *Ros) rosapiCallAsync(name, serviceType string, request ServiceRequest,
	callback func(ServiceResponse), errback func(error)) {
	NewService(ros, name, serviceType).CallAsync(request, callback, errback)
}

func deliverList(values []string, err error, callback func([]string), errback func(error)) {
	if err != nil {
		if errback != nil {
			errback(err)
		}
		return
	}
	if callback != nil {
		callback(values)
	}
}

func deliverString(value string, err error, callback func(string), errback func(error)) {
	if err != nil {
		if errback != nil {
			errback(err)
		}
		return
	}
	if callback != nil {
		callback(value)
	}
}

func stringField(response ServiceResponse, key string) (string, error) {
	value, ok := response[key].(string)
	if !ok {
		return "", errors.Errorf("response without %s field", key)
	}
	return value, nil
}

func stringSlice(response ServiceResponse, key string) ([]string, error) {
	raw, ok := response[key]
	if !ok {
		return nil, errors.Errorf("response without %s field", key)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Errorf("response field %s is not a list", key)
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values, nil
}
