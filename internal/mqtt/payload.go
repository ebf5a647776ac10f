package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

var (
	ErrInvalidTopic   = errors.New("invalid telemetry topic")
	ErrInvalidPayload = errors.New("invalid telemetry payload")
)

const topicSuffix = "telemetry"

// Topic returns the telemetry topic of sensorID under prefix.
func Topic(prefix, sensorID string) string {
	return prefix + "/" + sensorID + "/" + topicSuffix
}

// ParseTopic extracts the sensor id from "<prefix>/<sensorID>/telemetry".
// prefix may itself contain slashes.
func ParseTopic(prefix, topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", fmt.Errorf("%w: %q outside %q", ErrInvalidTopic, topic, prefix)
	}
	id, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != topicSuffix {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "+#") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return id, nil
}

type entry struct {
	Metric string          `json:"metric"`
	Value  *float64        `json:"value"`
	TS     json.RawMessage `json:"ts"`
}

type envelope struct {
	entry
	Readings []entry `json:"readings"`
}

// DecodePayload turns a device message into readings for sensorID. A message
// is either a single {"metric","value","ts"} object or {"readings":[...]}.
// ts is optional and may be unix seconds or an RFC3339 string.
func DecodePayload(sensorID string, payload []byte) ([]telemetry.Reading, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	entries := env.Readings
	if len(entries) == 0 {
		if env.Metric == "" {
			return nil, fmt.Errorf("%w: no metric or readings", ErrInvalidPayload)
		}
		entries = []entry{env.entry}
	}
	if len(entries) > telemetry.MaxBatchSize {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, telemetry.ErrBatchTooLarge)
	}

	out := make([]telemetry.Reading, 0, len(entries))
	for i, e := range entries {
		if e.Metric == "" || e.Value == nil {
			return nil, fmt.Errorf("%w: reading %d needs metric and value", ErrInvalidPayload, i)
		}
		ts, err := parseTimestamp(e.TS)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %d: %v", ErrInvalidPayload, i, err)
		}
		out = append(out, telemetry.Reading{
			SensorID: sensorID,
			Metric:   telemetry.Metric(e.Metric),
			Value:    *e.Value,
			Time:     ts,
			Source:   Source,
		})
	}
	return out, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("ts %q is not RFC3339", s)
		}
		return t.UTC(), nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, fmt.Errorf("ts %s is not a number or string", raw)
	}
	if secs <= 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return time.Time{}, fmt.Errorf("ts %s out of range", raw)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}
