// Package codec turns bus topics and JSON payloads into typed telemetry and back.
//
// Topics have the form {source}/{kind…}/{sensor}. The middle segment is
// classified by substring, so "flowsensor", "flowsensorV2" and "xflowsensor"
// are all flow topics.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/waternet/internal/model/entities"
	"github.com/LeonardoBeccarini/waternet/internal/model/messages"
)

// DecodeError reports a topic or payload that cannot become telemetry.
type DecodeError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: decode %q: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("codec: decode %q: %s", e.Topic, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(topic, reason string, err error) error {
	return &DecodeError{Topic: topic, Reason: reason, Err: err}
}

// ParseTopic splits a topic and classifies its sensor kind.
func ParseTopic(topic string) (source string, kind entities.Kind, sensor string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", "", "", decodeErr(topic, fmt.Sprintf("expected 3 segments, got %d", len(parts)), nil)
	}
	source, middle, sensor := parts[0], parts[1], parts[2]
	if source == "" || sensor == "" {
		return "", "", "", decodeErr(topic, "empty source or sensor segment", nil)
	}
	for _, k := range entities.Kinds {
		if strings.Contains(middle, string(k)) {
			return source, k, sensor, nil
		}
	}
	return "", "", "", decodeErr(topic, fmt.Sprintf("unknown sensor kind %q", middle), nil)
}

// Decode parses one bus message.
func Decode(topic string, payload []byte) (messages.Telemetry, error) {
	source, kind, sensor, err := ParseTopic(topic)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, decodeErr(topic, "payload is not a JSON object", err)
	}
	if fields == nil {
		return nil, decodeErr(topic, "payload is null", nil)
	}

	switch kind {
	case entities.KindFlow:
		rate, err := number(fields, "flowRate")
		if err != nil {
			return nil, decodeErr(topic, "flowRate", err)
		}
		if rate != nil && *rate < 0 {
			return nil, decodeErr(topic, fmt.Sprintf("negative flowRate %v", *rate), nil)
		}
		total, err := number(fields, "totalWaterFlown")
		if err != nil {
			return nil, decodeErr(topic, "totalWaterFlown", err)
		}
		return messages.FlowReading{SourceName: source, SensorName: sensor, FlowRate: rate, TotalWaterFlown: total}, nil

	case entities.KindPressure:
		p, err := number(fields, "pressure")
		if err != nil {
			return nil, decodeErr(topic, "pressure", err)
		}
		return messages.PressureReading{SourceName: source, SensorName: sensor, Pressure: p}, nil

	default:
		state := entities.ValveClosed
		var s string
		if raw, ok := fields["state"]; ok && json.Unmarshal(raw, &s) == nil && entities.ValveState(s) == entities.ValveOpen {
			state = entities.ValveOpen
		}
		pct := 0
		if raw, ok := fields["percentageOpen"]; ok {
			var f float64
			if json.Unmarshal(raw, &f) == nil {
				if f < 0 || f > 100 {
					return nil, decodeErr(topic, fmt.Sprintf("percentageOpen %v out of range 0..100", f), nil)
				}
				pct = int(f)
			}
		}
		return messages.ValveReport{SourceName: source, SensorName: sensor, State: state, PercentageOpen: pct}, nil
	}
}

// number reads an optional numeric field; absent and null both mean "not sent".
func number(fields map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("not a number: %s", raw)
	}
	return &f, nil
}

// Topic builds the bus topic for a sensor.
func Topic(source string, kind entities.Kind, sensor string) string {
	return source + "/" + string(kind) + "/" + sensor
}

// Encode is the inverse of Decode.
func Encode(t messages.Telemetry) (string, []byte, error) {
	var body any
	switch ev := t.(type) {
	case messages.FlowReading:
		body = messages.FlowPayload{FlowRate: ev.FlowRate, TotalWaterFlown: ev.TotalWaterFlown}
	case messages.PressureReading:
		body = messages.PressurePayload{Pressure: ev.Pressure}
	case messages.ValveReport:
		body = messages.ValvePayload{State: string(ev.State), PercentageOpen: ev.PercentageOpen}
	default:
		return "", nil, fmt.Errorf("codec: encode: unsupported telemetry %T", t)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("codec: encode: %w", err)
	}
	return Topic(t.Source(), t.Kind(), t.Sensor()), b, nil
}

var sensorPrefix = map[entities.Kind]string{
	entities.KindFlow:     "flow",
	entities.KindPressure: "pressure",
	entities.KindValve:    "valve",
}

// SensorName is the conventional device name: flow1, pressure3, valve2.
func SensorName(kind entities.Kind, n int) string {
	return sensorPrefix[kind] + strconv.Itoa(n)
}

// Enumerate lists {source}/{kind}/{prefix}{n} for n in 1..counts[kind].
func Enumerate(sources []string, counts map[entities.Kind]int) []string {
	var out []string
	for _, src := range sources {
		for _, k := range entities.Kinds {
			for n := 1; n <= counts[k]; n++ {
				out = append(out, Topic(src, k, SensorName(k, n)))
			}
		}
	}
	return out
}
