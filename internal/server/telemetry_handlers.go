package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Vertexcore-AI/IoT/internal/influxdb"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const (
	apiSource         = "api"
	maxIngestBody     = 1 << 20
	defaultSeriesSpan = 24 * time.Hour
	defaultSeriesStep = time.Hour
	maxSeriesBuckets  = 1000
	defaultHistoryLen = 100
)

func (h *handlers) requireIngestToken(c *gin.Context) {
	if h.cfg.IngestToken == "" {
		c.Next()
		return
	}
	token := strings.TrimSpace(c.GetHeader("X-Ingest-Token"))
	if bearer := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(bearer, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.IngestToken)) != 1 {
		h.fail(c, errUnauthorized)
		return
	}
	c.Next()
}

// decodeReadings accepts a single reading, an array, or {"readings": [...]}.
func decodeReadings(body []byte) ([]telemetry.Reading, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", errBadRequest)
	}
	var rs []telemetry.Reading
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &rs); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	case '{':
		var env struct {
			telemetry.Reading
			Readings []telemetry.Reading `json:"readings"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if env.Readings != nil {
			rs = env.Readings
		} else {
			rs = []telemetry.Reading{env.Reading}
		}
	default:
		return nil, fmt.Errorf("%w: expected JSON object or array", errBadRequest)
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: no readings", errBadRequest)
	}
	for i := range rs {
		if rs[i].Source == "" {
			rs[i].Source = apiSource
		}
	}
	return rs, nil
}

func (h *handlers) ingest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody)
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	rs, err := decodeReadings(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.Ingestor.IngestBatch(c.Request.Context(), rs)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusAccepted
	if res.Accepted == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func metricParam(c *gin.Context) (telemetry.Metric, error) {
	m := telemetry.Metric(strings.ToLower(strings.TrimSpace(c.Query("metric"))))
	if m == "" {
		return "", nil
	}
	if _, ok := telemetry.Lookup(m); !ok {
		return "", fmt.Errorf("%w: %q", telemetry.ErrUnknownMetric, m)
	}
	return m, nil
}

func (h *handlers) latest(c *gin.Context) {
	metric, err := metricParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	sensor := strings.TrimSpace(c.Query("sensor"))
	store := h.Ingestor.Store()
	if sensor != "" && metric != "" {
		r, ok := store.Latest(sensor, metric)
		if !ok {
			h.fail(c, errNoReading)
			return
		}
		c.JSON(http.StatusOK, r)
		return
	}

	all := store.LatestAll()
	out := make([]telemetry.Reading, 0, len(all))
	for _, r := range all {
		if sensor != "" && r.SensorID != sensor {
			continue
		}
		if metric != "" && r.Metric != metric {
			continue
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"readings": out})
}

func durationQuery(c *gin.Context, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration", errBadRequest, key)
	}
	return d, nil
}

// series buckets the in-memory history of one sensor metric.
func (h *handlers) series(c *gin.Context) {
	metric, err := metricParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if metric == "" {
		h.fail(c, fmt.Errorf("%w: metric is required", errBadRequest))
		return
	}
	sensor := strings.TrimSpace(c.Query("sensor"))
	if sensor == "" {
		sensor = h.sources[metric]
	}
	span, err := durationQuery(c, "window", defaultSeriesSpan)
	if err != nil {
		h.fail(c, err)
		return
	}
	step, err := durationQuery(c, "step", defaultSeriesStep)
	if err != nil {
		h.fail(c, err)
		return
	}
	if span/step > maxSeriesBuckets {
		h.fail(c, fmt.Errorf("%w: window/step yields more than %d buckets", errBadRequest, maxSeriesBuckets))
		return
	}

	to := time.Now().UTC()
	from := to.Add(-span)
	readings := h.Ingestor.Store().Range(sensor, metric, from, to)
	c.JSON(http.StatusOK, gin.H{
		"sensorId": sensor,
		"metric":   metric,
		"from":     from,
		"to":       to,
		"step":     step.String(),
		"buckets":  telemetry.Aggregate(readings, from, to, step),
		"summary":  telemetry.Summarize(readings),
	})
}

// history reads raw points back from InfluxDB: the newest within lookback,
// or oldest first from since when given.
func (h *handlers) history(c *gin.Context) {
	if h.Influx == nil {
		h.fail(c, errUnavailable)
		return
	}
	metric, err := metricParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	lookback, err := durationQuery(c, "lookback", time.Hour)
	if err != nil {
		h.fail(c, err)
		return
	}
	limit := defaultHistoryLen
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}
	f := influxdb.Filter{SensorID: strings.TrimSpace(c.Query("sensor")), Metric: metric, Source: strings.TrimSpace(c.Query("source"))}
	var rs []telemetry.Reading
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			h.fail(c, fmt.Errorf("%w: since must be an RFC3339 timestamp", errBadRequest))
			return
		}
		rs, err = h.Influx.ReadingsSince(c.Request.Context(), f, since, limit)
	} else {
		rs, err = h.Influx.RecentReadings(c.Request.Context(), f, lookback, limit)
	}
	if err != nil {
		if errors.Is(err, influxdb.ErrNotConfigured) {
			h.fail(c, errUnavailable)
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"readings": rs})
}

func (h *handlers) stream(c *gin.Context) {
	if h.Hub == nil {
		h.fail(c, errUnavailable)
		return
	}
	h.Hub.Handler()(c)
}
