package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/influxdb"
	"github.com/Vertexcore-AI/IoT/internal/present"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const (
	defaultRefreshInterval = time.Minute
	defaultRange           = "7d"
	dashboardWindow        = 24 * time.Hour
	dashboardStep          = 4 * time.Hour
	energyBudgetPerDayKWh  = 12.0
	farmPumpID             = "WP01"
)

// Performance statuses.
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusOptimal   = "optimal"
	StatusWarning   = "warning"
)

// ErrInvalidRange is returned for range keys other than 24h, 7d and 30d.
var ErrInvalidRange = errors.New("range must be one of 24h, 7d or 30d")

var ranges = map[string]struct {
	span time.Duration
	step time.Duration
}{
	"24h": {span: 24 * time.Hour, step: 4 * time.Hour},
	"7d":  {span: 7 * 24 * time.Hour, step: 24 * time.Hour},
	"30d": {span: 30 * 24 * time.Hour, step: 24 * time.Hour},
}

// CardMetrics are the metrics summarised on the statistics page.
var CardMetrics = []telemetry.Metric{
	telemetry.MetricVPD,
	telemetry.MetricCO2,
	telemetry.MetricHumidity,
	telemetry.MetricTemperature,
}

// nominalWatts converts actuator power percentages into energy.
var nominalWatts = map[string]float64{
	"GL01": 400,
	"WP01": 250,
	"DH01": 300,
	"FN01": 150,
}

// WindowReader serves aggregated series from a time-series store.
type WindowReader interface {
	Window(ctx context.Context, q influxdb.WindowQuery) ([]influxdb.WindowPoint, error)
}

// MetricCard summarises one metric over the selected range.
type MetricCard struct {
	Metric     telemetry.Metric `json:"metric"`
	Label      string           `json:"label"`
	Unit       string           `json:"unit"`
	Current    float64          `json:"current"`
	Average    float64          `json:"average"`
	Trend      telemetry.Trend  `json:"trend"`
	Optimal    string           `json:"optimal"`
	Compliance float64          `json:"compliance"`
	Samples    int              `json:"samples"`
}

// Point is one labelled chart value.
type Point struct {
	Label string    `json:"label"`
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// PerformanceRow is one line of the system performance table.
type PerformanceRow struct {
	Key    string          `json:"key"`
	Metric string          `json:"metric"`
	Value  float64         `json:"value"`
	Unit   string          `json:"unit"`
	Target string          `json:"target"`
	Status string          `json:"status"`
	Trend  telemetry.Trend `json:"trend"`
}

// Alert flags a metric outside its warning band.
type Alert struct {
	SensorID string           `json:"sensorId"`
	Metric   telemetry.Metric `json:"metric"`
	Value    float64          `json:"value"`
	Band     telemetry.Range  `json:"band"`
}

// Overview is the statistics page data.
type Overview struct {
	Range       string           `json:"range"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Cards       []MetricCard     `json:"cards"`
	VPDTrend    []Point          `json:"vpdTrend"`
	WaterUsage  []Point          `json:"waterUsage"`
	Performance []PerformanceRow `json:"performance"`
	Alerts      []Alert          `json:"alerts"`
}

// DashboardSeries feeds the dashboard charts.
type DashboardSeries struct {
	VPD         []telemetry.Bucket `json:"vpd"`
	CO2         []telemetry.Bucket `json:"co2"`
	Temperature []telemetry.Bucket `json:"temperature"`
	Light       []telemetry.Bucket `json:"light"`
}

// Service computes statistics from telemetry and farm state.
type Service struct {
	store      *telemetry.Store
	fleet      *farm.Fleet
	planner    *farm.Planner
	window     WindowReader
	sources    map[telemetry.Metric]string
	interval   time.Duration
	now        func() time.Time
	logger     *zap.Logger
	mu         sync.RWMutex
	cache      map[string]Overview
	lastAlerts map[string]bool
}

// Option customises the service.
type Option func(*Service)

// WithWindowReader reads daily series from InfluxDB instead of memory.
func WithWindowReader(w WindowReader) Option {
	return func(s *Service) {
		s.window = w
	}
}

// WithInterval overrides the refresh interval.
func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds a statistics service. fleet and planner may be nil.
func NewService(store *telemetry.Store, fleet *farm.Fleet, planner *farm.Planner, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		fleet:      fleet,
		planner:    planner,
		interval:   defaultRefreshInterval,
		now:        time.Now,
		logger:     zap.NewNop(),
		cache:      make(map[string]Overview),
		lastAlerts: make(map[string]bool),
	}
	if fleet != nil {
		svc.sources = farm.Sources(fleet.Devices())
	} else {
		svc.sources = farm.Sources(farm.DefaultDevices())
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ValidRange reports whether key is a supported range.
func ValidRange(key string) bool {
	_, ok := ranges[key]
	return ok
}

// Start refreshes the cached overview until ctx cancels.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("statistics service running", zap.Duration("interval", s.interval))
		s.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("statistics service stopped")
				return
			case <-ticker.C:
				s.refresh(ctx)
			}
		}
	}()
}

func (s *Service) refresh(ctx context.Context) {
	ov, err := s.Overview(ctx, defaultRange)
	if err != nil {
		s.logger.Warn("statistics refresh failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[string]bool, len(ov.Alerts))
	for _, a := range ov.Alerts {
		key := telemetry.SeriesKey(a.SensorID, a.Metric)
		active[key] = true
		if !s.lastAlerts[key] {
			s.logger.Warn("metric outside warning band",
				zap.String("sensor", a.SensorID),
				zap.String("metric", string(a.Metric)),
				zap.Float64("value", a.Value),
				zap.Float64("min", a.Band.Min),
				zap.Float64("max", a.Band.Max),
			)
		}
	}
	for key := range s.lastAlerts {
		if !active[key] {
			s.logger.Info("metric back within warning band", zap.String("series", key))
		}
	}
	s.lastAlerts = active
}

// Cached returns the last overview computed for key.
func (s *Service) Cached(key string) (Overview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ov, ok := s.cache[key]
	return ov, ok
}

// Overview computes the statistics page for rangeKey (24h, 7d or 30d).
func (s *Service) Overview(ctx context.Context, rangeKey string) (Overview, error) {
	spec, ok := ranges[rangeKey]
	if !ok {
		return Overview{}, fmt.Errorf("%w: %q", ErrInvalidRange, rangeKey)
	}
	now := s.now().UTC()
	from := now.Add(-spec.span)

	ov := Overview{Range: rangeKey, GeneratedAt: now}
	for _, m := range CardMetrics {
		ov.Cards = append(ov.Cards, s.card(m, from, now))
	}
	ov.VPDTrend = s.series(ctx, s.sources[telemetry.MetricVPD], telemetry.MetricVPD, "mean", from, now, spec.step, spec.span)
	water := s.series(ctx, farmPumpID, telemetry.MetricWaterVolume, "sum", from, now, spec.step, spec.span)
	for i := range water {
		water[i].Value = telemetry.Round(water[i].Value/1000, 2)
	}
	ov.WaterUsage = water
	ov.Alerts = s.alerts()

	prev, hasPrev := s.Cached(rangeKey)
	ov.Performance = s.performance(from, now, spec.span, prev, hasPrev)

	s.mu.Lock()
	s.cache[rangeKey] = ov
	s.mu.Unlock()
	return ov, nil
}

func (s *Service) card(m telemetry.Metric, from, to time.Time) MetricCard {
	spec, _ := telemetry.Lookup(m)
	card := MetricCard{Metric: m, Label: spec.Label, Unit: spec.Unit, Trend: telemetry.TrendStable}
	sensorID := s.sources[m]
	if latest, ok := s.store.Latest(sensorID, m); ok {
		card.Current = latest.Value
	}
	readings := s.store.Range(sensorID, m, from, to)
	summary := telemetry.Summarize(readings)
	card.Samples = summary.Count
	card.Average = telemetry.Round(summary.Mean, 2)
	if spec.Optimal != nil {
		card.Optimal = present.RangeLabel(m, *spec.Optimal)
		card.Compliance = telemetry.Compliance(readings, *spec.Optimal)
		card.Trend = telemetry.SeriesTrend(readings, spec.Optimal.Span()/100)
	}
	return card
}

// series returns one point per step, read from InfluxDB when configured
// and from the in-memory store otherwise.
func (s *Service) series(ctx context.Context, sensorID string, m telemetry.Metric, fn string, from, to time.Time, step, span time.Duration) []Point {
	if s.window != nil {
		points, err := s.window.Window(ctx, influxdb.WindowQuery{
			Filter:   influxdb.Filter{SensorID: sensorID, Metric: m},
			Lookback: span,
			Every:    step,
			Fn:       fn,
		})
		if err == nil {
			out := make([]Point, 0, len(points))
			for _, p := range points {
				// aggregateWindow stamps the window end.
				start := p.Time.Add(-step)
				out = append(out, Point{Label: label(start, step), Time: start, Value: telemetry.Round(p.Value, 2)})
			}
			return out
		}
		s.logger.Warn("window query failed, using memory", zap.String("metric", string(m)), zap.Error(err))
	}

	buckets := telemetry.Aggregate(s.store.Range(sensorID, m, from, to), from, to, step)
	out := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		v := b.Mean
		if fn == "sum" {
			v = b.Mean * float64(b.Count)
		}
		out = append(out, Point{Label: label(b.Start, step), Time: b.Start, Value: telemetry.Round(v, 2)})
	}
	return out
}

func label(t time.Time, step time.Duration) string {
	if step < 24*time.Hour {
		return t.Format("15:04")
	}
	return t.Format("Mon")
}

func (s *Service) alerts() []Alert {
	var out []Alert
	for _, m := range CardMetrics {
		spec, _ := telemetry.Lookup(m)
		band := spec.Warning
		if band == nil {
			band = spec.Optimal
		}
		if band == nil {
			continue
		}
		sensorID := s.sources[m]
		r, ok := s.store.Latest(sensorID, m)
		if !ok || band.Contains(r.Value) {
			continue
		}
		out = append(out, Alert{SensorID: sensorID, Metric: m, Value: r.Value, Band: *band})
	}
	return out
}

func (s *Service) performance(from, to time.Time, span time.Duration, prev Overview, hasPrev bool) []PerformanceRow {
	days := span.Hours() / 24

	uptime, alerts := 0.0, 0.0
	if s.fleet != nil {
		states := s.fleet.Snapshot()
		online := 0
		for _, st := range states {
			if st.Status == farm.StatusOnline {
				online++
			}
			if st.Status != farm.StatusOnline || st.Calibration != farm.Calibrated {
				alerts++
			}
		}
		if len(states) > 0 {
			uptime = telemetry.Round(float64(online)*100/float64(len(states)), 1)
		}
	}

	delivered := telemetry.Summarize(s.store.Range(farmPumpID, telemetry.MetricWaterVolume, from, to))
	efficiency := 0.0
	if s.planner != nil {
		planned := s.planner.DailyVolume(s.conditions()) * days
		if planned > 0 {
			efficiency = telemetry.Round(math.Min(100, delivered.Mean*float64(delivered.Count)*100/planned), 1)
		}
	}

	energy := 0.0
	for id, watts := range nominalWatts {
		energy += EnergyKWh(s.store.Range(id, telemetry.MetricPower, from, to), watts)
	}
	energy = telemetry.Round(energy, 2)
	budget := energyBudgetPerDayKWh * days

	rows := []PerformanceRow{
		{Key: "uptime", Metric: "System Uptime", Value: uptime, Unit: "%", Target: "> 95%", Status: grade(uptime, 95, 80)},
		{Key: "water", Metric: "Water Efficiency", Value: efficiency, Unit: "%", Target: "> 90%", Status: grade(efficiency, 90, 75)},
		{Key: "energy", Metric: "Energy Usage", Value: energy, Unit: "kWh", Target: fmt.Sprintf("< %.0f kWh", budget), Status: energyStatus(energy, budget)},
		{Key: "maintenance", Metric: "Maintenance Alerts", Value: alerts, Unit: "", Target: "0", Status: maintenanceStatus(alerts)},
	}
	for i := range rows {
		rows[i].Trend = telemetry.TrendStable
		if !hasPrev {
			continue
		}
		for _, p := range prev.Performance {
			if p.Key == rows[i].Key {
				rows[i].Trend = telemetry.TrendOf(p.Value, rows[i].Value, 0.05)
			}
		}
	}
	return rows
}

func (s *Service) conditions() farm.Conditions {
	return farm.CurrentConditions(s.store, s.sources)
}

// EnergyKWh integrates power percentage readings of one actuator rated at
// watts. Each reading holds until the next one.
func EnergyKWh(readings []telemetry.Reading, watts float64) float64 {
	total := 0.0
	for i := 1; i < len(readings); i++ {
		hours := readings[i].Time.Sub(readings[i-1].Time).Hours()
		total += readings[i-1].Value / 100 * watts * hours
	}
	return total / 1000
}

func grade(v, excellent, good float64) string {
	switch {
	case v >= excellent:
		return StatusExcellent
	case v >= good:
		return StatusGood
	default:
		return StatusWarning
	}
}

func energyStatus(used, budget float64) string {
	if used <= budget {
		return StatusOptimal
	}
	return StatusWarning
}

func maintenanceStatus(alerts float64) string {
	if alerts == 0 {
		return StatusGood
	}
	return StatusWarning
}

// Dashboard returns 4-hour buckets over the last day for the dashboard charts.
func (s *Service) Dashboard() DashboardSeries {
	to := s.now().UTC()
	from := to.Add(-dashboardWindow)
	bucket := func(m telemetry.Metric) []telemetry.Bucket {
		return telemetry.Aggregate(s.store.Range(s.sources[m], m, from, to), from, to, dashboardStep)
	}
	return DashboardSeries{
		VPD:         bucket(telemetry.MetricVPD),
		CO2:         bucket(telemetry.MetricCO2),
		Temperature: bucket(telemetry.MetricTemperature),
		Light:       bucket(telemetry.MetricLight),
	}
}
