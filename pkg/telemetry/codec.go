package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec converts events between their in-memory form and the durable textual
// form stored in failed_event.event_data.
type Codec interface {
	Encode(event *Event) (string, error)
	Decode(text string) (*Event, error)
}

// JSONCodec stores events as their JSON envelope. The envelope carries the
// handler name, device and timestamp, so a record can be reconstructed
// without any external schema lookup.
type JSONCodec struct{}

// NewJSONCodec returns the codec used by the dispatcher and the coordinator.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode serializes a valid event. It is total over valid events.
func (c *JSONCodec) Encode(event *Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("%w: marshal event: %v", ErrInvalidEvent, err)
	}
	return string(data), nil
}

// Decode parses a durable payload back into an event. Malformed or truncated
// input fails with ErrDecode, as does an envelope missing required fields.
func (c *JSONCodec) Decode(text string) (*Event, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.DisallowUnknownFields()

	var event Event
	if err := decoder.Decode(&event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// Trailing garbage also indicates corruption.
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after event", ErrDecode)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &event, nil
}
