package farm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Actuator keys.
const (
	GrowLights   = "growLights"
	WaterPump    = "waterPump"
	Dehumidifier = "dehumidifier"
	Fans         = "fans"
)

// Actuator statuses.
const (
	StatusOn  = "on"
	StatusOff = "off"
)

var (
	ErrActuatorNotFound = errors.New("actuator not found")
	ErrLevelUnsupported = errors.New("actuator has no adjustable level")
)

var (
	percentRange      = telemetry.Range{Min: 0, Max: 100}
	flowRange         = telemetry.Range{Min: 0, Max: 200}
	dehumidifierRange = telemetry.Range{Min: 50, Max: 90}
)

// ActuatorSchedule holds the automation settings shown on each card.
type ActuatorSchedule struct {
	Start           string  `json:"start,omitempty"`
	End             string  `json:"end,omitempty"`
	NextActivation  string  `json:"nextActivation,omitempty"`
	DurationMinutes int     `json:"duration,omitempty"`
	TargetHumidity  float64 `json:"targetHumidity,omitempty"`
	TargetTemp      float64 `json:"targetTemp,omitempty"`
	AutoMode        bool    `json:"autoMode"`
}

// Actuator is a controllable device.
type Actuator struct {
	Key          string           `json:"key"`
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Status       string           `json:"status"`
	Power        float64          `json:"power"`
	Intensity    *float64         `json:"intensity,omitempty"`
	FlowRate     *float64         `json:"flowRate,omitempty"`
	Humidity     *float64         `json:"humidity,omitempty"`
	Speed        *float64         `json:"speed,omitempty"`
	Schedule     ActuatorSchedule `json:"schedule"`
	LastReading  time.Time        `json:"lastReading"`
	DefaultPower float64          `json:"-"`
}

// On reports whether the actuator is running.
func (a Actuator) On() bool {
	return a.Status == StatusOn
}

func (a Actuator) clone() Actuator {
	c := a
	c.Intensity = copyFloat(a.Intensity)
	c.FlowRate = copyFloat(a.FlowRate)
	c.Humidity = copyFloat(a.Humidity)
	c.Speed = copyFloat(a.Speed)
	return c
}

// Command is an entry of the actuator audit log.
type Command struct {
	ID          string    `json:"id"`
	ActuatorKey string    `json:"actuatorKey"`
	ActuatorID  string    `json:"actuatorId"`
	Action      string    `json:"action"`
	FromStatus  string    `json:"fromStatus"`
	ToStatus    string    `json:"toStatus"`
	Value       float64   `json:"value"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CommandLog persists actuator commands.
type CommandLog interface {
	RecordCommand(ctx context.Context, cmd Command) error
	RecentCommands(ctx context.Context, limit int) ([]Command, error)
}

// DefaultActuators is the actuator bank of the demo greenhouse.
func DefaultActuators(now time.Time) []Actuator {
	return []Actuator{
		{
			Key: GrowLights, ID: "GL01", Name: "Grow Lights", Status: StatusOn, Power: 85, DefaultPower: 85,
			Intensity:   ptr(75),
			Schedule:    ActuatorSchedule{Start: "06:00", End: "18:00", AutoMode: true},
			LastReading: now,
		},
		{
			Key: WaterPump, ID: "WP01", Name: "Water Pump", Status: StatusOff, Power: 0, DefaultPower: 70,
			FlowRate:    ptr(0),
			Schedule:    ActuatorSchedule{NextActivation: "10:00 AM", DurationMinutes: 5, AutoMode: true},
			LastReading: now,
		},
		{
			Key: Dehumidifier, ID: "DH01", Name: "Dehumidifier", Status: StatusOn, Power: 60, DefaultPower: 60,
			Humidity:    ptr(65),
			Schedule:    ActuatorSchedule{TargetHumidity: 70, AutoMode: true},
			LastReading: now,
		},
		{
			Key: Fans, ID: "FN01", Name: "Ventilation Fans", Status: StatusOn, Power: 40, DefaultPower: 40,
			Speed:       ptr(60),
			Schedule:    ActuatorSchedule{TargetTemp: 24, AutoMode: true},
			LastReading: now,
		},
	}
}

// Controller owns actuator state and records every command.
type Controller struct {
	mu        sync.RWMutex
	actuators []Actuator
	log       CommandLog
	logger    *zap.Logger
	now       func() time.Time
}

// NewController creates a controller over actuators. log may be nil.
func NewController(actuators []Actuator, log CommandLog, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{log: log, logger: logger, now: time.Now}
	for _, a := range actuators {
		c.actuators = append(c.actuators, a.clone())
	}
	return c
}

// Snapshot returns a copy of every actuator in display order.
func (c *Controller) Snapshot() []Actuator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Actuator, len(c.actuators))
	for i, a := range c.actuators {
		out[i] = a.clone()
	}
	return out
}

// Get returns the actuator registered under key.
func (c *Controller) Get(key string) (Actuator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.indexOf(key)
	if i < 0 {
		return Actuator{}, fmt.Errorf("%w: %s", ErrActuatorNotFound, key)
	}
	return c.actuators[i].clone(), nil
}

// Toggle switches an actuator. Turning on restores its default power,
// turning off drops power to zero.
func (c *Controller) Toggle(ctx context.Context, key, actor string) (Actuator, error) {
	c.mu.Lock()
	i := c.indexOf(key)
	if i < 0 {
		c.mu.Unlock()
		return Actuator{}, fmt.Errorf("%w: %s", ErrActuatorNotFound, key)
	}
	a := &c.actuators[i]
	from := a.Status
	if a.On() {
		a.Status = StatusOff
		a.Power = 0
		if a.FlowRate != nil {
			*a.FlowRate = 0
		}
	} else {
		a.Status = StatusOn
		a.Power = a.DefaultPower
	}
	a.LastReading = c.now()
	updated := a.clone()
	c.mu.Unlock()

	c.record(ctx, updated, "toggle", from, updated.Power, actor)
	return updated, nil
}

// SetLevel adjusts grow light intensity or fan speed, clamped to 0..100.
func (c *Controller) SetLevel(ctx context.Context, key string, level float64, actor string) (Actuator, error) {
	c.mu.Lock()
	i := c.indexOf(key)
	if i < 0 {
		c.mu.Unlock()
		return Actuator{}, fmt.Errorf("%w: %s", ErrActuatorNotFound, key)
	}
	a := &c.actuators[i]
	level = percentRange.Clamp(level)
	var action string
	switch {
	case a.Intensity != nil:
		*a.Intensity = level
		action = "set_intensity"
	case a.Speed != nil:
		*a.Speed = level
		action = "set_speed"
	default:
		c.mu.Unlock()
		return Actuator{}, fmt.Errorf("%w: %s", ErrLevelUnsupported, key)
	}
	a.LastReading = c.now()
	updated := a.clone()
	c.mu.Unlock()

	c.record(ctx, updated, action, updated.Status, level, actor)
	return updated, nil
}

// SetPump switches the water pump to the given state and flow.
func (c *Controller) SetPump(ctx context.Context, on bool, flow float64, actor string) (Actuator, error) {
	c.mu.Lock()
	i := c.indexOf(WaterPump)
	if i < 0 {
		c.mu.Unlock()
		return Actuator{}, fmt.Errorf("%w: %s", ErrActuatorNotFound, WaterPump)
	}
	a := &c.actuators[i]
	from := a.Status
	if on {
		a.Status = StatusOn
		a.Power = a.DefaultPower
		a.FlowRate = ptr(flowRange.Clamp(flow))
	} else {
		a.Status = StatusOff
		a.Power = 0
		a.FlowRate = ptr(0)
	}
	a.LastReading = c.now()
	updated := a.clone()
	c.mu.Unlock()

	action := "pump_off"
	if on {
		action = "pump_on"
	}
	c.record(ctx, updated, action, from, *updated.FlowRate, actor)
	return updated, nil
}

// SetNextActivation updates the label shown on the pump card.
func (c *Controller) SetNextActivation(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(WaterPump); i >= 0 {
		c.actuators[i].Schedule.NextActivation = label
	}
}

// Jitter perturbs running actuators the way the live view animates them and
// returns the new state. Every value stays within its documented range and
// stopped actuators report zero power.
func (c *Controller) Jitter(rng *rand.Rand) []Actuator {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for i := range c.actuators {
		a := &c.actuators[i]
		on := a.On()
		switch a.Key {
		case GrowLights:
			a.Power = jitterPower(rng, on, a.Power, 5)
		case WaterPump:
			a.Power = jitterPower(rng, on, a.Power, 10)
			if a.FlowRate != nil {
				*a.FlowRate = jitterGated(rng, on, *a.FlowRate, 20, flowRange)
			}
		case Dehumidifier:
			a.Power = jitterPower(rng, on, a.Power, 8)
			if a.Humidity != nil {
				*a.Humidity = dehumidifierRange.Clamp(*a.Humidity + spread(rng, 3))
			}
		case Fans:
			a.Power = jitterPower(rng, on, a.Power, 6)
			if a.Speed != nil {
				*a.Speed = jitterGated(rng, on, *a.Speed, 10, percentRange)
			}
		}
		a.LastReading = now
	}
	out := make([]Actuator, len(c.actuators))
	for i, a := range c.actuators {
		out[i] = a.clone()
	}
	return out
}

// RecentCommands returns the newest commands from the log.
func (c *Controller) RecentCommands(ctx context.Context, limit int) ([]Command, error) {
	if c.log == nil {
		return nil, nil
	}
	return c.log.RecentCommands(ctx, limit)
}

func (c *Controller) record(ctx context.Context, a Actuator, action, from string, value float64, actor string) {
	c.logger.Info("actuator command",
		zap.String("actuator", a.Key),
		zap.String("action", action),
		zap.String("from", from),
		zap.String("to", a.Status),
		zap.Float64("value", value),
		zap.String("actor", actor),
	)
	if c.log == nil {
		return
	}
	cmd := Command{
		ID:          uuid.NewString(),
		ActuatorKey: a.Key,
		ActuatorID:  a.ID,
		Action:      action,
		FromStatus:  from,
		ToStatus:    a.Status,
		Value:       value,
		Actor:       actor,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.log.RecordCommand(ctx, cmd); err != nil {
		c.logger.Warn("record actuator command failed", zap.String("actuator", a.Key), zap.Error(err))
	}
}

func (c *Controller) indexOf(key string) int {
	for i := range c.actuators {
		if c.actuators[i].Key == key {
			return i
		}
	}
	return -1
}

// spread returns a uniform value in [-width/2, width/2).
func spread(rng *rand.Rand, width float64) float64 {
	return (rng.Float64() - 0.5) * width
}

func jitterPower(rng *rand.Rand, on bool, power, width float64) float64 {
	return jitterGated(rng, on, power, width, percentRange)
}

func jitterGated(rng *rand.Rand, on bool, v, width float64, r telemetry.Range) float64 {
	if !on {
		return 0
	}
	return r.Clamp(v + spread(rng, width))
}

func ptr(v float64) *float64 {
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MemoryCommandLog keeps the newest commands in memory.
type MemoryCommandLog struct {
	mu       sync.Mutex
	commands []Command
	limit    int
}

// NewMemoryCommandLog retains at most limit commands.
func NewMemoryCommandLog(limit int) *MemoryCommandLog {
	if limit <= 0 {
		limit = 500
	}
	return &MemoryCommandLog{limit: limit}
}

func (m *MemoryCommandLog) RecordCommand(_ context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	if len(m.commands) > m.limit {
		m.commands = m.commands[len(m.commands)-m.limit:]
	}
	return nil
}

func (m *MemoryCommandLog) RecentCommands(_ context.Context, limit int) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.commands) {
		limit = len(m.commands)
	}
	out := make([]Command, 0, limit)
	for i := len(m.commands) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.commands[i])
	}
	return out, nil
}
