package simulation

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newIngestor() *telemetry.Ingestor {
	return telemetry.NewIngestor(telemetry.NewStore(), telemetry.WithClock(func() time.Time { return t0.Add(72 * time.Hour) }))
}

func TestSimulatorDisabledByDefault(t *testing.T) {
	in := newIngestor()
	sim := New(in, DefaultChannels(), WithRand(rand.New(rand.NewSource(1))))

	assert.False(t, sim.Enabled())
	sim.tick(context.Background(), t0)
	assert.Zero(t, in.Stats().Accepted)
	assert.Equal(t, defaultInterval, sim.Interval())
}

func TestSimulatorValuesStayClamped(t *testing.T) {
	in := newIngestor()
	controller := farm.NewController(farm.DefaultActuators(t0), nil, nil)
	sim := New(in, DefaultChannels(),
		WithRand(rand.New(rand.NewSource(42))),
		WithController(controller),
		WithDevices(farm.DefaultDevices()),
	)
	sim.Enable()

	limits := map[telemetry.Metric]telemetry.Range{}
	for _, ch := range sim.Snapshot() {
		limits[ch.Metric] = ch.Limits
	}

	ts := t0
	for i := 0; i < 500; i++ {
		ts = ts.Add(3 * time.Minute)
		sim.tick(context.Background(), ts)
		for _, ch := range sim.Snapshot() {
			assert.True(t, ch.Limits.Contains(ch.CurrentValue), "%s=%v", ch.Metric, ch.CurrentValue)
		}
	}

	stats := in.Stats()
	assert.Zero(t, stats.Rejected)
	assert.NotZero(t, stats.Accepted)

	store := in.Store()
	for _, ch := range sim.Snapshot() {
		r, ok := store.Latest(ch.SensorID, ch.Metric)
		require.True(t, ok, ch.SensorID)
		assert.True(t, limits[ch.Metric].Contains(r.Value))
		assert.Equal(t, Source, r.Source)
	}

	dh, ok := store.Latest("DH01", telemetry.MetricHumidity)
	require.True(t, ok)
	assert.True(t, dh.Value >= 50 && dh.Value <= 90)

	power, ok := store.Latest("GL01", telemetry.MetricPower)
	require.True(t, ok)
	assert.True(t, power.Value >= 0 && power.Value <= 100)

	battery, ok := store.Latest("TH01", telemetry.MetricBattery)
	require.True(t, ok)
	assert.Less(t, battery.Value, 85.0)
}

func TestSimulatorEnableResets(t *testing.T) {
	sim := New(newIngestor(), DefaultChannels(), WithRand(rand.New(rand.NewSource(3))))
	sim.Enable()
	for i := 0; i < 50; i++ {
		sim.tick(context.Background(), t0.Add(time.Duration(i)*time.Second))
	}
	assert.False(t, sim.Toggle())
	assert.True(t, sim.Toggle())

	snap := sim.Snapshot()
	assert.Equal(t, 1.1, snap[0].CurrentValue)
	assert.Equal(t, 450.0, snap[1].CurrentValue)
}

func TestDaylight(t *testing.T) {
	night := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, lightNight, daylight(night))
	assert.InDelta(t, lightPeak, daylight(noon), 1e-9)
}

func TestIntervalFromString(t *testing.T) {
	assert.Equal(t, defaultInterval, IntervalFromString(""))
	assert.Equal(t, defaultInterval, IntervalFromString("soon"))
	assert.Equal(t, defaultInterval, IntervalFromString("-1s"))
	assert.Equal(t, 500*time.Millisecond, IntervalFromString("500ms"))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SIMULATION_INTERVAL", "10s")
	t.Setenv("SIMULATION_ENABLED", "false")
	t.Setenv("IRRIGATION_POLL_INTERVAL", "")

	cfg := FromEnv()
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, defaultPollEvery, cfg.PollInterval)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestCoordinatorRunsSlotOnce(t *testing.T) {
	in := newIngestor()
	planner := farm.NewPlanner(farm.DefaultSlots(), farm.DefaultSettings(), nil)
	controller := farm.NewController(farm.DefaultActuators(t0), farm.NewMemoryCommandLog(10), nil)
	clk := &clock{now: t0.Add(30 * time.Second)}
	coord := NewCoordinator(planner, controller, in, in.Store(), WithCoordinatorClock(clk.Now))
	ctx := context.Background()

	coord.Sync(ctx)
	pump, err := controller.Get(farm.WaterPump)
	require.NoError(t, err)
	assert.Equal(t, farm.StatusOn, pump.Status)
	// 10:00 slot is 200 mL, spinach factor 1.2, over five minutes.
	assert.InDelta(t, 48.0, *pump.FlowRate, 1e-9)

	water, ok := in.Store().Latest("WP01", telemetry.MetricWaterVolume)
	require.True(t, ok)
	assert.Equal(t, 240.0, water.Value)

	run, ok := coord.LastRun()
	require.True(t, ok)
	assert.Equal(t, 10, run.Hour)

	clk.now = t0.Add(2 * time.Minute)
	coord.Sync(ctx)
	assert.Equal(t, 1, in.Store().Len("WP01", telemetry.MetricWaterVolume))

	clk.now = t0.Add(6 * time.Minute)
	coord.Sync(ctx)
	pump, err = controller.Get(farm.WaterPump)
	require.NoError(t, err)
	assert.Equal(t, farm.StatusOff, pump.Status)
	assert.Equal(t, "11:00 AM", pump.Schedule.NextActivation)

	cmds, err := controller.RecentCommands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "pump_off", cmds[0].Action)
	assert.Equal(t, SchedulerActor, cmds[0].Actor)
}

func TestCoordinatorRespectsAutoModeAndStatus(t *testing.T) {
	ctx := context.Background()
	planner := farm.NewPlanner(farm.DefaultSlots(), farm.DefaultSettings(), nil)
	controller := farm.NewController(farm.DefaultActuators(t0), nil, nil)
	clk := &clock{now: t0}
	coord := NewCoordinator(planner, controller, nil, nil, WithCoordinatorClock(clk.Now))

	off := false
	_, err := planner.UpdateSettings(ctx, farm.SettingsPatch{AutoMode: &off})
	require.NoError(t, err)
	coord.Sync(ctx)
	pump, _ := controller.Get(farm.WaterPump)
	assert.Equal(t, farm.StatusOff, pump.Status)

	on := true
	_, err = planner.UpdateSettings(ctx, farm.SettingsPatch{AutoMode: &on})
	require.NoError(t, err)

	// 07:00 is a skip slot.
	clk.now = time.Date(2026, 3, 2, 7, 1, 0, 0, time.UTC)
	coord.Sync(ctx)
	pump, _ = controller.Get(farm.WaterPump)
	assert.Equal(t, farm.StatusOff, pump.Status)

	// Past the first minutes of the hour nothing starts.
	clk.now = time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC)
	coord.Sync(ctx)
	pump, _ = controller.Get(farm.WaterPump)
	assert.Equal(t, farm.StatusOff, pump.Status)
	_, ran := coord.LastRun()
	assert.False(t, ran)
}
