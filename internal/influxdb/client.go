package influxdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Measurement is where every telemetry reading is written.
const Measurement = "telemetry"

// Tag keys and the value field.
const (
	TagSensorID = "sensor_id"
	TagMetric   = "metric"
	TagSource   = "source"
	FieldValue  = "value"
)

// ErrNotConfigured means the INFLUX_* variables are absent.
var ErrNotConfigured = errors.New("influxdb not configured")

// Config maps the connection details required to reach InfluxDB.
type Config struct {
	URL             string
	Token           string
	Org             string
	Bucket          string
	Timeout         time.Duration
	ConnectAttempts uint
	RetryDelay      time.Duration
}

// FromEnv loads configuration values from environment variables.
// INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG, and INFLUX_BUCKET are required.
// INFLUX_TIMEOUT defaults to 5s, INFLUX_CONNECT_ATTEMPTS to 5 and
// INFLUX_RETRY_DELAY to 2s.
func FromEnv() (Config, error) {
	cfg := Config{
		URL:             os.Getenv("INFLUX_URL"),
		Token:           os.Getenv("INFLUX_TOKEN"),
		Org:             os.Getenv("INFLUX_ORG"),
		Bucket:          os.Getenv("INFLUX_BUCKET"),
		Timeout:         5 * time.Second,
		ConnectAttempts: 5,
		RetryDelay:      2 * time.Second,
	}

	if cfg.URL == "" && cfg.Token == "" && cfg.Org == "" && cfg.Bucket == "" {
		return Config{}, ErrNotConfigured
	}
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return Config{}, fmt.Errorf("missing InfluxDB configuration, ensure INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG, and INFLUX_BUCKET are set")
	}

	if raw := os.Getenv("INFLUX_TIMEOUT"); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INFLUX_TIMEOUT: %w", err)
		}
		cfg.Timeout = dur
	}
	if raw := os.Getenv("INFLUX_CONNECT_ATTEMPTS"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("invalid INFLUX_CONNECT_ATTEMPTS %q", raw)
		}
		cfg.ConnectAttempts = uint(n)
	}
	if raw := os.Getenv("INFLUX_RETRY_DELAY"); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INFLUX_RETRY_DELAY: %w", err)
		}
		cfg.RetryDelay = dur
	}

	return cfg, nil
}

// Client wraps the InfluxDB client with project-specific defaults.
type Client struct {
	cfg    Config
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// Filter narrows a query to a sensor, metric or source. Empty fields match all.
type Filter struct {
	SensorID string
	Metric   telemetry.Metric
	Source   string
}

func (f Filter) tags() [][2]string {
	var out [][2]string
	if f.SensorID != "" {
		out = append(out, [2]string{TagSensorID, f.SensorID})
	}
	if f.Metric != "" {
		out = append(out, [2]string{TagMetric, string(f.Metric)})
	}
	if f.Source != "" {
		out = append(out, [2]string{TagSource, f.Source})
	}
	return out
}

// WindowQuery asks for one aggregate per window.
type WindowQuery struct {
	Filter   Filter
	Lookback time.Duration
	Every    time.Duration
	// Fn is a Flux aggregate: mean (default), sum, min, max, last.
	Fn string
}

// WindowPoint is one aggregated window.
type WindowPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// New establishes a new InfluxDB client based on the provided configuration.
// The server is pinged until it answers or the attempts run out.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			ctxPing := ctx
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctxPing, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}
			ok, err := client.Ping(ctxPing)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("influxdb ping failed")
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("influxdb not ready, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping InfluxDB: %w", err)
	}

	return &Client{cfg: cfg, client: client, writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

// WriteAPI returns the blocking write API bound to the configured org and bucket.
func (c *Client) WriteAPI() api.WriteAPIBlocking {
	return c.writer
}

// QueryAPI returns the query API bound to the configured org.
func (c *Client) QueryAPI() api.QueryAPI {
	return c.client.QueryAPI(c.cfg.Org)
}

// Config exposes the immutable client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// WriteReadings stores readings as points of the telemetry measurement.
func (c *Client) WriteReadings(ctx context.Context, readings []telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, Point(r))
	}
	if err := c.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write telemetry points: %w", err)
	}
	return nil
}

// Point converts a reading into its line-protocol point.
func Point(r telemetry.Reading) *write.Point {
	tags := map[string]string{
		TagSensorID: r.SensorID,
		TagMetric:   string(r.Metric),
	}
	if r.Source != "" {
		tags[TagSource] = r.Source
	}
	return influxdb2.NewPoint(Measurement, tags, map[string]interface{}{FieldValue: r.Value}, r.Time)
}

// RecentReadings fetches the newest readings within the lookback window, newest first.
func (c *Client) RecentReadings(ctx context.Context, f Filter, lookback time.Duration, limit int) ([]telemetry.Reading, error) {
	return c.readings(ctx, recentQuery(c.cfg.Bucket, f, lookback, limit), limit)
}

// ReadingsSince fetches readings recorded at or after start, oldest first.
func (c *Client) ReadingsSince(ctx context.Context, f Filter, start time.Time, limit int) ([]telemetry.Reading, error) {
	if start.IsZero() {
		start = time.Now().Add(-time.Hour)
	}
	return c.readings(ctx, sinceQuery(c.cfg.Bucket, f, start, limit), limit)
}

func (c *Client) readings(ctx context.Context, flux string, limit int) ([]telemetry.Reading, error) {
	result, err := c.QueryAPI().Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query influx: %w", err)
	}
	defer result.Close()

	readings := make([]telemetry.Reading, 0, max(limit, 0))
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		readings = append(readings, telemetry.Reading{
			SensorID: stringify(record.ValueByKey(TagSensorID)),
			Metric:   telemetry.Metric(stringify(record.ValueByKey(TagMetric))),
			Source:   stringify(record.ValueByKey(TagSource)),
			Value:    value,
			Time:     record.Time(),
		})
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate influx result: %w", err)
	}

	return readings, nil
}

// Window aggregates readings per window with aggregateWindow.
func (c *Client) Window(ctx context.Context, q WindowQuery) ([]WindowPoint, error) {
	result, err := c.QueryAPI().Query(ctx, windowQuery(c.cfg.Bucket, q))
	if err != nil {
		return nil, fmt.Errorf("query influx: %w", err)
	}
	defer result.Close()

	var points []WindowPoint
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		points = append(points, WindowPoint{Time: record.Time(), Value: value})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate influx result: %w", err)
	}
	return points, nil
}

// QueryRaw runs flux and returns the annotated CSV response.
func (c *Client) QueryRaw(ctx context.Context, flux string) (string, error) {
	raw, err := c.QueryAPI().QueryRaw(ctx, flux, nil)
	if err != nil {
		return "", fmt.Errorf("query influx: %w", err)
	}
	return raw, nil
}

// Ping checks the InfluxDB availability using the wrapped client.
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influxdb ping failed")
	}
	return nil
}

// Close releases resources held by the underlying client.
func (c *Client) Close() {
	c.client.Close()
}

func baseQuery(bucket, rangeClause string, f Filter) string {
	flux := fmt.Sprintf(`from(bucket: %s)
|> range(%s)
|> filter(fn: (r) => r["_measurement"] == %s)
|> filter(fn: (r) => r["_field"] == %s)`, fluxStringLiteral(bucket), rangeClause, fluxStringLiteral(Measurement), fluxStringLiteral(FieldValue))
	for _, tag := range f.tags() {
		flux = fmt.Sprintf("%s\n|> filter(fn: (r) => r[%q] == %s)", flux, tag[0], fluxStringLiteral(tag[1]))
	}
	return flux
}

func recentQuery(bucket string, f Filter, lookback time.Duration, limit int) string {
	if lookback <= 0 {
		lookback = time.Hour
	}
	flux := baseQuery(bucket, "start: -"+toFluxDuration(lookback), f)
	flux += "\n|> group()"
	flux += "\n|> sort(columns: [\"_time\"], desc: true)"
	if limit > 0 {
		flux = fmt.Sprintf("%s\n|> limit(n:%d)", flux, limit)
	}
	return flux
}

func sinceQuery(bucket string, f Filter, start time.Time, limit int) string {
	flux := baseQuery(bucket, fmt.Sprintf("start: time(v: %q)", start.UTC().Format(time.RFC3339Nano)), f)
	flux += "\n|> group()"
	flux += "\n|> sort(columns: [\"_time\"])"
	if limit > 0 {
		flux = fmt.Sprintf("%s\n|> limit(n:%d)", flux, limit)
	}
	return flux
}

func windowQuery(bucket string, q WindowQuery) string {
	lookback := q.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	every := q.Every
	if every <= 0 {
		every = time.Hour
	}
	fn := strings.ToLower(strings.TrimSpace(q.Fn))
	switch fn {
	case "mean", "sum", "min", "max", "last":
	default:
		fn = "mean"
	}
	flux := baseQuery(bucket, "start: -"+toFluxDuration(lookback), q.Filter)
	flux += "\n|> group()"
	flux += fmt.Sprintf("\n|> aggregateWindow(every: %s, fn: %s, createEmpty: false)", toFluxDuration(every), fn)
	flux += "\n|> sort(columns: [\"_time\"])"
	return flux
}

func toFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toFluxDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Truncate(time.Second)
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return fmt.Sprintf("%dns", d.Nanoseconds())
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func fluxStringLiteral(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", s)
}
