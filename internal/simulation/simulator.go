package simulation

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const (
	defaultInterval = 3 * time.Second
	// Source tags every reading produced here.
	Source = "simulator"

	batteryEvery    = 20
	batteryDrain    = 0.01
	lightSunrise    = 6
	lightSunset     = 18
	lightPeak       = 1800.0
	lightNight      = 5.0
	lightNoiseWidth = 50.0
)

// Ingester accepts batches of readings.
type Ingester interface {
	IngestBatch(ctx context.Context, rs []telemetry.Reading) (telemetry.BatchResult, error)
}

// Channel is one simulated series doing a clamped random walk.
type Channel struct {
	SensorID     string           `json:"sensorId"`
	Metric       telemetry.Metric `json:"metric"`
	CurrentValue float64          `json:"currentValue"`
	Drift        float64          `json:"drift"`
	Limits       telemetry.Range  `json:"limits"`

	initial float64
	// diurnal channels follow the daylight curve instead of a walk.
	diurnal bool
}

// NewChannel starts a channel at value, moving at most drift/2 per tick.
func NewChannel(sensorID string, metric telemetry.Metric, value, drift float64, limits telemetry.Range) *Channel {
	value = limits.Clamp(value)
	return &Channel{SensorID: sensorID, Metric: metric, CurrentValue: value, Drift: drift, Limits: limits, initial: value}
}

// DefaultChannels is the greenhouse climate as the dashboard animates it.
func DefaultChannels() []*Channel {
	light := NewChannel("LI101", telemetry.MetricLight, 850, lightNoiseWidth, telemetry.Range{Min: 0, Max: 2000})
	light.diurnal = true
	return []*Channel{
		NewChannel(farm.ClimateStationID, telemetry.MetricVPD, 1.1, 0.1, telemetry.Range{Min: 0.2, Max: 2.5}),
		NewChannel("CO201", telemetry.MetricCO2, 450, 20, telemetry.Range{Min: 300, Max: 2000}),
		NewChannel("HU01", telemetry.MetricHumidity, 82, 2, telemetry.Range{Min: 60, Max: 95}),
		NewChannel("TH01", telemetry.MetricTemperature, 24.2, 0.5, telemetry.Range{Min: 18, Max: 30}),
		NewChannel("SM201", telemetry.MetricSoilMoisture, 65, 1, telemetry.Range{Min: 30, Max: 90}),
		light,
		NewChannel("PH01", telemetry.MetricPH, 6.8, 0.04, telemetry.Range{Min: 5.5, Max: 7.5}),
	}
}

// Simulator generates mock greenhouse telemetry on a ticker.
type Simulator struct {
	ingest     Ingester
	controller *farm.Controller
	channels   []*Channel
	batteries  map[string]float64
	devices    []farm.Device
	ticks      int
	enabled    bool
	mu         sync.RWMutex
	rng        *rand.Rand
	interval   time.Duration
	logger     *zap.Logger
}

// Option customizes Simulator creation.
type Option func(*Simulator)

// WithInterval overrides the default generation interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Simulator) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithRand makes the walk deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithController animates actuators alongside the climate.
func WithController(c *farm.Controller) Option {
	return func(s *Simulator) {
		s.controller = c
	}
}

// WithDevices drains the battery of each device.
func WithDevices(devices []farm.Device) Option {
	return func(s *Simulator) {
		s.devices = append([]farm.Device(nil), devices...)
	}
}

// New creates a disabled Simulator feeding ingest.
func New(ingest Ingester, channels []*Channel, opts ...Option) *Simulator {
	sim := &Simulator{
		ingest:   ingest,
		channels: channels,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		interval: defaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sim)
	}
	sim.reset()
	return sim
}

// Start begins periodic data generation until ctx cancels.
func (s *Simulator) Start(ctx context.Context) {
	s.logger.Info("simulator running", zap.Duration("interval", s.interval), zap.Int("channels", len(s.channels)))
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("simulator stopped")
				return
			case ts := <-ticker.C:
				s.tick(ctx, ts)
			}
		}
	}()
}

func (s *Simulator) tick(ctx context.Context, ts time.Time) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	ts = ts.UTC()
	readings := make([]telemetry.Reading, 0, len(s.channels)+len(s.batteries)+8)
	for _, ch := range s.channels {
		readings = append(readings, s.reading(ch.SensorID, ch.Metric, s.nextValue(ch, ts), ts))
	}

	s.ticks++
	if s.ticks%batteryEvery == 0 {
		for _, d := range s.devices {
			level := math.Max(0, s.batteries[d.ID]-batteryDrain*batteryEvery)
			s.batteries[d.ID] = level
			readings = append(readings, s.reading(d.ID, telemetry.MetricBattery, telemetry.Round(level, 2), ts))
		}
	}
	controller := s.controller
	rng := s.rng
	s.mu.Unlock()

	if controller != nil {
		s.mu.Lock()
		actuators := controller.Jitter(rng)
		s.mu.Unlock()
		readings = append(readings, actuatorReadings(actuators, ts)...)
	}

	result, err := s.ingest.IngestBatch(ctx, readings)
	if err != nil {
		s.logger.Warn("simulated batch rejected", zap.Error(err))
		return
	}
	for _, rej := range result.Rejected {
		s.logger.Warn("simulated reading rejected", zap.Int("index", rej.Index), zap.String("error", rej.Error))
	}
	s.logger.Debug("telemetry simulated", zap.Int("readings", result.Accepted))
}

func (s *Simulator) reading(sensorID string, metric telemetry.Metric, v float64, ts time.Time) telemetry.Reading {
	return telemetry.Reading{SensorID: sensorID, Metric: metric, Value: v, Time: ts, Source: Source}
}

func (s *Simulator) nextValue(ch *Channel, ts time.Time) float64 {
	if ch.diurnal {
		ch.CurrentValue = ch.Limits.Clamp(daylight(ts) + (s.rng.Float64()-0.5)*ch.Drift)
	} else {
		ch.CurrentValue = ch.Limits.Clamp(ch.CurrentValue + (s.rng.Float64()-0.5)*ch.Drift)
	}
	ch.CurrentValue = telemetry.Round(ch.CurrentValue, decimals(ch.Metric))
	return ch.CurrentValue
}

// daylight is a half-sine between sunrise and sunset in the reading's hour.
func daylight(ts time.Time) float64 {
	h := float64(ts.Hour()) + float64(ts.Minute())/60
	if h < lightSunrise || h > lightSunset {
		return lightNight
	}
	phase := (h - lightSunrise) / (lightSunset - lightSunrise)
	return lightNight + (lightPeak-lightNight)*math.Sin(math.Pi*phase)
}

func decimals(m telemetry.Metric) int {
	switch m {
	case telemetry.MetricVPD, telemetry.MetricPH:
		return 2
	case telemetry.MetricCO2, telemetry.MetricLight:
		return 0
	default:
		return 1
	}
}

func actuatorReadings(actuators []farm.Actuator, ts time.Time) []telemetry.Reading {
	out := make([]telemetry.Reading, 0, len(actuators)*2)
	add := func(id string, m telemetry.Metric, v float64) {
		out = append(out, telemetry.Reading{SensorID: id, Metric: m, Value: telemetry.Round(v, 1), Time: ts, Source: Source})
	}
	for _, a := range actuators {
		add(a.ID, telemetry.MetricPower, a.Power)
		if a.Intensity != nil {
			add(a.ID, telemetry.MetricIntensity, *a.Intensity)
		}
		if a.FlowRate != nil {
			add(a.ID, telemetry.MetricFlowRate, *a.FlowRate)
		}
		if a.Humidity != nil {
			add(a.ID, telemetry.MetricHumidity, *a.Humidity)
		}
		if a.Speed != nil {
			add(a.ID, telemetry.MetricSpeed, *a.Speed)
		}
	}
	return out
}

func (s *Simulator) reset() {
	for _, ch := range s.channels {
		ch.CurrentValue = ch.initial
	}
	s.batteries = make(map[string]float64, len(s.devices))
	for _, d := range s.devices {
		s.batteries[d.ID] = d.Battery
	}
	s.ticks = 0
}

// Enable activates the simulator and resets channel state.
func (s *Simulator) Enable() {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return
	}
	s.reset()
	s.enabled = true
	channels := len(s.channels)
	s.mu.Unlock()
	s.logger.Info("simulator enabled", zap.Int("channels", channels))
}

// Disable pauses generation.
func (s *Simulator) Disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	s.mu.Unlock()
	s.logger.Info("simulator disabled")
}

// Toggle flips the enabled state and returns the new one.
func (s *Simulator) Toggle() bool {
	if s.Enabled() {
		s.Disable()
		return false
	}
	s.Enable()
	return true
}

// Enabled reports whether the simulator is currently generating data.
func (s *Simulator) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Snapshot returns a copy of every channel with its current value.
func (s *Simulator) Snapshot() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]Channel, len(s.channels))
	for i, ch := range s.channels {
		snapshot[i] = *ch
	}
	return snapshot
}

// Interval returns the configured simulation interval.
func (s *Simulator) Interval() time.Duration {
	return s.interval
}
