package simulation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const (
	defaultPumpDuration = 5 * time.Minute
	// SchedulerActor is recorded on commands issued by the coordinator.
	SchedulerActor = "scheduler"
)

// Coordinator runs the watering schedule: when auto mode is on and an
// active slot's hour begins it runs the pump for the planned volume, then
// stops it once the slot duration has elapsed. Each slot fires at most
// once per day.
type Coordinator struct {
	planner      *farm.Planner
	controller   *farm.Controller
	ingest       Ingester
	store        *telemetry.Store
	pollInterval time.Duration
	duration     time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu       sync.Mutex
	fired    map[string]struct{}
	pumpOff  time.Time
	lastSlot *FiredSlot
}

// FiredSlot describes the latest irrigation run.
type FiredSlot struct {
	Hour    int       `json:"hour"`
	Volume  float64   `json:"volume"`
	Started time.Time `json:"started"`
	Ends    time.Time `json:"ends"`
}

// CoordinatorOption customises coordinator behaviour.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorPollInterval overrides how often the schedule is checked.
func WithCoordinatorPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPumpDuration overrides how long the pump runs per slot.
func WithPumpDuration(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.duration = d
		}
	}
}

// WithCoordinatorClock replaces time.Now.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator wires the planner with the pump. store supplies the live
// CO₂ and VPD that adjust planned volumes and may be nil.
func NewCoordinator(planner *farm.Planner, controller *farm.Controller, ingest Ingester, store *telemetry.Store, opts ...CoordinatorOption) *Coordinator {
	coord := &Coordinator{
		planner:      planner,
		controller:   controller,
		ingest:       ingest,
		store:        store,
		pollInterval: defaultPollEvery,
		duration:     defaultPumpDuration,
		now:          time.Now,
		logger:       zap.NewNop(),
		fired:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(coord)
	}
	return coord
}

// Start begins background orchestration until the context is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	if c.planner == nil || c.controller == nil {
		c.logger.Warn("irrigation coordinator inactive (planner or controller missing)")
		return
	}
	c.Sync(ctx)
	go c.run(ctx)
}

func (c *Coordinator) run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("irrigation coordinator stopped")
			return
		case <-ticker.C:
			c.Sync(ctx)
		}
	}
}

// Sync evaluates the schedule once.
func (c *Coordinator) Sync(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	stop := !c.pumpOff.IsZero() && !now.Before(c.pumpOff)
	if stop {
		c.pumpOff = time.Time{}
	}
	c.mu.Unlock()
	if stop {
		if _, err := c.controller.SetPump(ctx, false, 0, SchedulerActor); err != nil {
			c.logger.Warn("stop pump failed", zap.Error(err))
		}
	}

	if _, at, ok := c.planner.NextActivation(now); ok {
		c.controller.SetNextActivation(at.Format("3:04 PM"))
	} else {
		c.controller.SetNextActivation("")
	}

	if !c.planner.Settings().AutoMode {
		return
	}
	slot, ok := c.planner.SlotAt(now.Hour())
	if !ok || slot.Status != farm.SlotActive {
		return
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, 0, 0, 0, now.Location())
	if now.Sub(start) >= c.duration {
		return
	}

	key := start.Format("2006-01-02T15")
	c.mu.Lock()
	if _, done := c.fired[key]; done {
		c.mu.Unlock()
		return
	}
	c.fired[key] = struct{}{}
	c.prune(start)
	c.mu.Unlock()

	c.fire(ctx, slot, now)
}

func (c *Coordinator) fire(ctx context.Context, slot farm.Slot, now time.Time) {
	volume := c.planner.PlannedVolume(slot, c.conditions())
	if volume <= 0 {
		return
	}
	flow := volume / c.duration.Minutes()
	pump, err := c.controller.SetPump(ctx, true, flow, SchedulerActor)
	if err != nil {
		c.logger.Warn("start pump failed", zap.Int("hour", slot.Hour), zap.Error(err))
		return
	}

	ends := now.Add(c.duration)
	c.mu.Lock()
	c.pumpOff = ends
	c.lastSlot = &FiredSlot{Hour: slot.Hour, Volume: volume, Started: now, Ends: ends}
	c.mu.Unlock()

	if c.ingest != nil {
		r := telemetry.Reading{SensorID: pump.ID, Metric: telemetry.MetricWaterVolume, Value: volume, Time: now.UTC(), Source: SchedulerActor}
		res, err := c.ingest.IngestBatch(ctx, []telemetry.Reading{r})
		if err != nil {
			c.logger.Warn("record water volume failed", zap.Error(err))
		}
		for _, rej := range res.Rejected {
			c.logger.Warn("water volume reading rejected", zap.Int("hour", slot.Hour), zap.Float64("volume_ml", volume), zap.String("reason", rej.Error))
		}
	}
	c.logger.Info("irrigation slot started",
		zap.Int("hour", slot.Hour),
		zap.Float64("volume_ml", volume),
		zap.Float64("flow_ml_min", flow),
		zap.Time("ends", ends),
	)
}

func (c *Coordinator) conditions() farm.Conditions {
	var cond farm.Conditions
	if c.store == nil {
		return cond
	}
	if r, ok := c.store.LatestByMetric(telemetry.MetricCO2); ok {
		cond.CO2 = r.Value
	}
	if r, ok := c.store.LatestByMetric(telemetry.MetricVPD); ok {
		cond.VPD = r.Value
	}
	return cond
}

// prune forgets fired slots from before yesterday. Callers hold c.mu.
func (c *Coordinator) prune(now time.Time) {
	cutoff := now.Add(-48 * time.Hour).Format("2006-01-02T15")
	for key := range c.fired {
		if key < cutoff {
			delete(c.fired, key)
		}
	}
}

// LastRun returns the latest irrigation run, if any.
func (c *Coordinator) LastRun() (FiredSlot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSlot == nil {
		return FiredSlot{}, false
	}
	return *c.lastSlot, true
}
