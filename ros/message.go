package ros

// Message is a dynamic rosbridge payload. Topic messages, service
// arguments and goal contents are all open JSON objects; no schema is
// enforced client side.
type Message map[string]interface{}

// NewMessage copies the given values into a fresh Message. A nil
// argument yields an empty message.
func NewMessage(values map[string]interface{}) Message {
	m := make(Message, len(values))
	for k, v := range values {
		m[k] = v
	}
	return m
}

// NewHeader builds a std_msgs/Header payload. The stamp is carried as
// a Time value so both components stay integers on the wire.
func NewHeader(seq uint32, stamp Time, frameID string) Message {
	return Message{
		"seq":      seq,
		"stamp":    stamp,
		"frame_id": frameID,
	}
}

// Field walks nested objects by key and reports whether the full path
// exists. Decoded frames nest as map[string]interface{}.
func (m Message) Field(keys ...string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(m)
	for _, key := range keys {
		obj := asObject(current)
		if obj == nil {
			return nil, false
		}
		var ok bool
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the string at the given path, or "" when the path is
// missing or not a string.
func (m Message) String(keys ...string) string {
	v, ok := m.Field(keys...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Object returns the nested object at the given path as a Message.
func (m Message) Object(keys ...string) Message {
	v, ok := m.Field(keys...)
	if !ok {
		return nil
	}
	obj := asObject(v)
	if obj == nil {
		return nil
	}
	return Message(obj)
}

// Int returns the numeric field at the given path truncated to int.
// JSON numbers decode as float64.
func (m Message) Int(keys ...string) (int, bool) {
	v, ok := m.Field(keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case uint8:
		return int(n), true
	case int64:
		return int(n), true
	}
	return 0, false
}

func asObject(v interface{}) map[string]interface{} {
	switch obj := v.(type) {
	case map[string]interface{}:
		return obj
	case Message:
		return obj
	}
	return nil
}
