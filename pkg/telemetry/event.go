// Package telemetry defines the in-memory representation of vehicle events,
// the durable codec used by the dead-letter store, and the named handler
// registry that routes events to processing logic.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Handler names. Each name maps one event source on the device stream to the
// handler that processes it, and is what gets persisted in the
// failed_event.handler_name column.
const (
	HandlerSpeed       = "speed"
	HandlerDriverCard  = "driver_one_card"
	HandlerDriveState  = "driver_one_drive_state"
	HandlerOdometer    = "odometer_reading"
	HandlerTemperature = "temperature_sensors_reading"
)

var (
	// ErrDecode classifies malformed durable payloads. A decode failure on a
	// dead-lettered record indicates corruption, not a transient handler
	// failure, and is surfaced distinctly.
	ErrDecode = errors.New("telemetry decode error")
	// ErrUnknownHandler classifies dispatch to a name with no registered
	// handler. Misconfiguration: reported, never silently dropped.
	ErrUnknownHandler = errors.New("telemetry unknown handler")
	// ErrInvalidEvent classifies events missing required envelope fields.
	ErrInvalidEvent = errors.New("telemetry invalid event")
)

// Event is the self-describing envelope for one telemetry reading. The
// payload stays opaque JSON so the envelope can be stored and reprocessed
// long after the producing process exited.
type Event struct {
	Name      string          `json:"name"`
	IMEI      string          `json:"imei"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the envelope fields every event must carry.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.IMEI) == "" {
		return fmt.Errorf("%w: imei is required", ErrInvalidEvent)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be > 0", ErrInvalidEvent)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidEvent)
	}
	return nil
}

// NewEvent builds an event envelope, marshaling the typed payload.
func NewEvent(name, imei string, timestamp int64, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrInvalidEvent, err)
	}
	event := &Event{
		Name:      name,
		IMEI:      imei,
		Timestamp: timestamp,
		Payload:   data,
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// SpeedPayload is the current vehicle speed in km/h.
type SpeedPayload struct {
	Speed float64 `json:"speed"`
}

// OdometerPayload is the total odometer reading in meters.
type OdometerPayload struct {
	Odometer uint64 `json:"odometer"`
}

// DriverCardPayload reports a driver card being inserted or removed.
type DriverCardPayload struct {
	CardID   string `json:"card_id"`
	Inserted bool   `json:"inserted"`
}

// Drive state values for DriveStatePayload.
const (
	DriveStateDrive = "DRIVE"
	DriveStateRest  = "REST"
)

// DriveStatePayload reports the driver work state.
type DriveStatePayload struct {
	State string `json:"state"`
}

// TemperatureReading is one sensor sample.
type TemperatureReading struct {
	SensorID string  `json:"sensor_id"`
	Celsius  float64 `json:"celsius"`
}

// TemperaturePayload carries all sensor readings of one frame.
type TemperaturePayload struct {
	Readings []TemperatureReading `json:"readings"`
}
