package telemetry

import (
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func mustEvent(t *testing.T, name, imei string, ts int64, payload any) *Event {
	t.Helper()
	event, err := NewEvent(name, imei, ts, payload)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return event
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	codec := NewJSONCodec()

	tests := []struct {
		name  string
		event *Event
	}{
		{
			name:  "speed",
			event: mustEvent(t, HandlerSpeed, "352094081234567", 1715000000, SpeedPayload{Speed: 82.5}),
		},
		{
			name:  "odometer",
			event: mustEvent(t, HandlerOdometer, "352094081234567", 1715000100, OdometerPayload{Odometer: 1_234_567}),
		},
		{
			name:  "driver card",
			event: mustEvent(t, HandlerDriverCard, "352094089999999", 1715000200, DriverCardPayload{CardID: "FIN123456", Inserted: true}),
		},
		{
			name:  "drive state",
			event: mustEvent(t, HandlerDriveState, "352094089999999", 1715000300, DriveStatePayload{State: DriveStateDrive}),
		},
		{
			name: "temperature sensors",
			event: mustEvent(t, HandlerTemperature, "352094081234567", 1715000400, TemperaturePayload{
				Readings: []TemperatureReading{
					{SensorID: "sensor-1", Celsius: -18.5},
					{SensorID: "sensor-2", Celsius: 4.0},
				},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := codec.Encode(tt.event)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			decoded, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(decoded, tt.event) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, tt.event)
			}
		})
	}
}

func TestJSONCodec_Encode_InvalidEvent(t *testing.T) {
	codec := NewJSONCodec()

	tests := []struct {
		name  string
		event *Event
	}{
		{name: "nil event", event: nil},
		{name: "missing name", event: &Event{IMEI: "352094081234567", Timestamp: 1, Payload: []byte("{}")}},
		{name: "missing imei", event: &Event{Name: HandlerSpeed, Timestamp: 1, Payload: []byte("{}")}},
		{name: "zero timestamp", event: &Event{Name: HandlerSpeed, IMEI: "352094081234567", Payload: []byte("{}")}},
		{name: "empty payload", event: &Event{Name: HandlerSpeed, IMEI: "352094081234567", Timestamp: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Encode(tt.event); !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Encode() error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestJSONCodec_Decode_Malformed(t *testing.T) {
	codec := NewJSONCodec()
	valid, err := codec.Encode(mustEvent(t, HandlerSpeed, "352094081234567", 1715000000, SpeedPayload{Speed: 50}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "not json", text: "avl frame bytes"},
		{name: "truncated", text: valid[:len(valid)/2]},
		{name: "trailing garbage", text: valid + "garbage"},
		{name: "wrong shape", text: `[1, 2, 3]`},
		{name: "missing envelope fields", text: `{"payload":{"speed":1}}`},
		{name: "unknown envelope field", text: `{"name":"speed","imei":"1","timestamp":1,"payload":{},"extra":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decode(tt.text); !errors.Is(err, ErrDecode) {
				t.Errorf("Decode(%q) error = %v, want ErrDecode", tt.text, err)
			}
		})
	}
}

// Round-trip holds for arbitrary valid envelopes, not just the curated cases.
func TestProperty_CodecRoundTrip(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	codec := NewJSONCodec()
	names := []string{HandlerSpeed, HandlerDriverCard, HandlerDriveState, HandlerOdometer, HandlerTemperature}

	properties.Property("decode(encode(e)) == e", prop.ForAll(
		func(nameIdx int, imeiDigits int64, timestamp int64, speed float64) bool {
			imei := "35209408" + padDigits(imeiDigits)
			event, err := NewEvent(names[nameIdx], imei, timestamp, SpeedPayload{Speed: speed})
			if err != nil {
				return false
			}
			encoded, err := codec.Encode(event)
			if err != nil {
				return false
			}
			decoded, err := codec.Decode(encoded)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(decoded, event)
		},
		gen.IntRange(0, len(names)-1),
		gen.Int64Range(0, 9_999_999),
		gen.Int64Range(1, 1<<40),
		gen.Float64Range(0, 300),
	))

	properties.TestingRun(t)
}

func padDigits(n int64) string {
	digits := []byte("0000000")
	for i := len(digits) - 1; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}
