package ros

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const (
	getParamService    = "/rosapi/get_param"
	setParamService    = "/rosapi/set_param"
	deleteParamService = "/rosapi/delete_param"
)

// Param is one entry of the ROS parameter server, accessed through the
// standard rosapi services. Values round-trip as JSON inside the
// service's value string field.
type Param struct {
	ros  *Ros
	name string
}

// NewParam creates a handle for the named parameter.
func NewParam(ros *Ros, name string) *Param {
	return &Param{ros: ros, name: name}
}

// Get fetches the current value, blocking up to the timeout.
func (p *Param) Get(timeout time.Duration) (interface{}, error) {
	client := NewService(p.ros, getParamService, "rosapi/GetParam")
	response, err := client.Call(ServiceRequest{"name": p.name}, timeout)
	if err != nil {
		return nil, err
	}
	return decodeParamValue(p.name, response)
}

// GetAsync fetches the current value and delivers it to the callback.
func (p *Param) GetAsync(callback func(interface{}), errback func(error)) {
	client := NewService(p.ros, getParamService, "rosapi/GetParam")
	client.CallAsync(ServiceRequest{"name": p.name}, func(response ServiceResponse) {
		value, err := decodeParamValue(p.name, response)
		if err != nil {
			if errback != nil {
				errback(err)
			}
			return
		}
		if callback != nil {
			callback(value)
		}
	}, errback)
}

// Set stores a new value, blocking up to the timeout. Any
// JSON-representable value is accepted.
func (p *Param) Set(value interface{}, timeout time.Duration) error {
	request, err := encodeParamValue(p.name, value)
	if err != nil {
		return err
	}
	client := NewService(p.ros, setParamService, "rosapi/SetParam")
	_, err = client.Call(request, timeout)
	return err
}

// SetAsync stores a new value and confirms through the callback.
func (p *Param) SetAsync(value interface{}, callback func(), errback func(error)) {
	request, err := encodeParamValue(p.name, value)
	if err != nil {
		if errback != nil {
			errback(err)
		}
		return
	}
	client := NewService(p.ros, setParamService, "rosapi/SetParam")
	client.CallAsync(request, func(ServiceResponse) {
		if callback != nil {
			callback()
		}
	}, errback)
}

// Delete removes the parameter, blocking up to the timeout.
func (p *Param) Delete(timeout time.Duration) error {
	client := NewService(p.ros, deleteParamService, "rosapi/DeleteParam")
	_, err := client.Call(ServiceRequest{"name": p.name}, timeout)
	return err
}

// DeleteAsync removes the parameter and confirms through the callback.
func (p *Param) DeleteAsync(callback func(), errback func(error)) {
	client := NewService(p.ros, deleteParamService, "rosapi/DeleteParam")
	client.CallAsync(ServiceRequest{"name": p.name}, func(ServiceResponse) {
		if callback != nil {
			callback()
		}
	}, errback)
}

func encodeParamValue(name string, value interface{}) (ServiceRequest, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding param %s", name)
	}
	return ServiceRequest{"name": name, "value": string(encoded)}, nil
}

func decodeParamValue(name string, response ServiceResponse) (interface{}, error) {
	raw, _ := response["value"].(string)
	if raw == "" {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, errors.Wrapf(err, "decoding param %s", name)
	}
	return value, nil
}
