package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxFutureSkew bounds how far ahead of the server clock a reading may be stamped.
const MaxFutureSkew = 5 * time.Minute

var (
	ErrSensorRequired  = errors.New("sensor id is required")
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrInvalidValue    = errors.New("value is not a finite number")
	ErrOutOfRange      = errors.New("value outside valid range")
	ErrFutureTimestamp = errors.New("timestamp too far in the future")
)

// Reading is one sample of one metric from one sensor.
type Reading struct {
	SensorID string    `json:"sensorId"`
	Metric   Metric    `json:"metric"`
	Value    float64   `json:"value"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source,omitempty"`
}

// Key identifies the series a reading belongs to.
func (r Reading) Key() string {
	return SeriesKey(r.SensorID, r.Metric)
}

// SeriesKey joins a sensor id and metric.
func SeriesKey(sensorID string, metric Metric) string {
	return sensorID + "/" + string(metric)
}

// Validate normalises r in place and checks it against the metric catalogue.
func Validate(r *Reading, now time.Time) error {
	r.SensorID = strings.TrimSpace(r.SensorID)
	r.Metric = Metric(strings.ToLower(strings.TrimSpace(string(r.Metric))))
	r.Source = strings.TrimSpace(r.Source)

	if r.SensorID == "" {
		return ErrSensorRequired
	}
	spec, ok := Lookup(r.Metric)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, r.Metric)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return ErrInvalidValue
	}
	if !spec.Valid.Contains(r.Value) {
		return fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfRange, r.Metric, r.Value, spec.Valid.Min, spec.Valid.Max)
	}
	if r.Time.IsZero() {
		r.Time = now
	}
	if r.Time.After(now.Add(MaxFutureSkew)) {
		return fmt.Errorf("%w: %s", ErrFutureTimestamp, r.Time.Format(time.RFC3339))
	}
	r.Time = r.Time.UTC()
	return nil
}
