package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/influxdb"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Monday noon.
var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func seededStore() *telemetry.Store {
	store := telemetry.NewStore()
	from := now.Add(-24 * time.Hour)
	for i := 0; i < 24; i++ {
		ts := from.Add(30*time.Minute + time.Duration(i)*time.Hour)
		vpd := 1.0
		if i >= 12 {
			vpd = 1.3
		}
		store.Append(telemetry.Reading{SensorID: farm.ClimateStationID, Metric: telemetry.MetricVPD, Value: vpd, Time: ts})
		store.Append(telemetry.Reading{SensorID: "GL01", Metric: telemetry.MetricPower, Value: 50, Time: ts})
	}
	store.Append(telemetry.Reading{SensorID: "WP01", Metric: telemetry.MetricWaterVolume, Value: 240, Time: now.Add(-3 * time.Hour)})
	store.Append(telemetry.Reading{SensorID: "WP01", Metric: telemetry.MetricWaterVolume, Value: 240, Time: now.Add(-2 * time.Hour)})
	return store
}

func clock() time.Time { return now }

func TestOverviewRejectsUnknownRange(t *testing.T) {
	svc := NewService(telemetry.NewStore(), nil, nil, WithClock(clock))
	_, err := svc.Overview(context.Background(), "90d")
	assert.True(t, errors.Is(err, ErrInvalidRange))
	assert.True(t, ValidRange("30d"))
	assert.False(t, ValidRange(""))
}

func TestOverviewCards(t *testing.T) {
	store := seededStore()
	svc := NewService(store, nil, nil, WithClock(clock))

	ov, err := svc.Overview(context.Background(), "24h")
	require.NoError(t, err)
	require.Len(t, ov.Cards, 4)

	vpd := ov.Cards[0]
	assert.Equal(t, telemetry.MetricVPD, vpd.Metric)
	assert.Equal(t, 1.3, vpd.Current)
	assert.InDelta(t, 1.15, vpd.Average, 1e-9)
	assert.Equal(t, telemetry.TrendUp, vpd.Trend)
	assert.Equal(t, 50.0, vpd.Compliance)
	assert.Equal(t, "0.8-1.2 kPa", vpd.Optimal)
	assert.Equal(t, 24, vpd.Samples)

	co2 := ov.Cards[1]
	assert.Zero(t, co2.Samples)
	assert.Equal(t, telemetry.TrendStable, co2.Trend)

	require.Len(t, ov.VPDTrend, 6)
	assert.Equal(t, "12:00", ov.VPDTrend[0].Label)
	assert.Equal(t, 1.0, ov.VPDTrend[0].Value)
	assert.Equal(t, 1.3, ov.VPDTrend[5].Value)

	total := 0.0
	for _, p := range ov.WaterUsage {
		total += p.Value
	}
	assert.InDelta(t, 0.48, total, 1e-9)
	assert.Empty(t, ov.Alerts)

	cached, ok := svc.Cached("24h")
	require.True(t, ok)
	assert.Equal(t, ov.GeneratedAt, cached.GeneratedAt)
}

func TestOverviewPerformance(t *testing.T) {
	store := seededStore()
	fleet := farm.NewFleet(farm.DefaultDevices(), store)
	planner := farm.NewPlanner(farm.DefaultSlots(), farm.DefaultSettings(), nil)
	svc := NewService(store, fleet, planner, WithClock(clock))

	ov, err := svc.Overview(context.Background(), "24h")
	require.NoError(t, err)
	rows := map[string]PerformanceRow{}
	for _, r := range ov.Performance {
		rows[r.Key] = r
	}

	assert.Equal(t, 66.7, rows["uptime"].Value)
	assert.Equal(t, StatusWarning, rows["uptime"].Status)

	// 480 mL delivered of 2100 mL planned.
	assert.Equal(t, 22.9, rows["water"].Value)
	assert.Equal(t, StatusWarning, rows["water"].Status)

	assert.Equal(t, 4.6, rows["energy"].Value)
	assert.Equal(t, StatusOptimal, rows["energy"].Status)

	assert.Equal(t, 2.0, rows["maintenance"].Value)
	assert.Equal(t, StatusWarning, rows["maintenance"].Status)

	again, err := svc.Overview(context.Background(), "24h")
	require.NoError(t, err)
	for _, r := range again.Performance {
		assert.Equal(t, telemetry.TrendStable, r.Trend, r.Key)
	}
}

func TestOverviewAlerts(t *testing.T) {
	store := telemetry.NewStore()
	store.Append(telemetry.Reading{SensorID: "HU01", Metric: telemetry.MetricHumidity, Value: 91, Time: now.Add(-time.Minute)})
	store.Append(telemetry.Reading{SensorID: farm.ClimateStationID, Metric: telemetry.MetricVPD, Value: 1.5, Time: now.Add(-time.Minute)})
	svc := NewService(store, nil, nil, WithClock(clock))

	ov, err := svc.Overview(context.Background(), "24h")
	require.NoError(t, err)
	require.Len(t, ov.Alerts, 1)
	assert.Equal(t, "HU01", ov.Alerts[0].SensorID)
	assert.Equal(t, telemetry.Range{Min: 60, Max: 80}, ov.Alerts[0].Band)
}

type fakeWindow struct {
	queries []influxdb.WindowQuery
	err     error
}

func (f *fakeWindow) Window(_ context.Context, q influxdb.WindowQuery) ([]influxdb.WindowPoint, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	value := 1.1
	if q.Fn == "sum" {
		value = 1200
	}
	return []influxdb.WindowPoint{{Time: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Value: value}}, nil
}

func TestOverviewUsesWindowReader(t *testing.T) {
	w := &fakeWindow{}
	svc := NewService(telemetry.NewStore(), nil, nil, WithClock(clock), WithWindowReader(w))

	ov, err := svc.Overview(context.Background(), "7d")
	require.NoError(t, err)
	require.Len(t, w.queries, 2)
	assert.Equal(t, influxdb.Filter{SensorID: farm.ClimateStationID, Metric: telemetry.MetricVPD}, w.queries[0].Filter)
	assert.Equal(t, 24*time.Hour, w.queries[0].Every)
	assert.Equal(t, "mean", w.queries[0].Fn)
	assert.Equal(t, "sum", w.queries[1].Fn)

	require.Len(t, ov.VPDTrend, 1)
	assert.Equal(t, "Sun", ov.VPDTrend[0].Label)
	require.Len(t, ov.WaterUsage, 1)
	assert.Equal(t, 1.2, ov.WaterUsage[0].Value)
}

func TestOverviewFallsBackToMemory(t *testing.T) {
	w := &fakeWindow{err: errors.New("influx down")}
	svc := NewService(seededStore(), nil, nil, WithClock(clock), WithWindowReader(w))

	ov, err := svc.Overview(context.Background(), "7d")
	require.NoError(t, err)
	assert.Len(t, ov.VPDTrend, 8)
	assert.Equal(t, "Mon", ov.VPDTrend[0].Label)
}

func TestDashboard(t *testing.T) {
	svc := NewService(seededStore(), nil, nil, WithClock(clock))
	d := svc.Dashboard()
	require.Len(t, d.VPD, 6)
	for _, b := range d.VPD {
		assert.Equal(t, 4, b.Count)
	}
	require.Len(t, d.CO2, 6)
	assert.Zero(t, d.CO2[0].Count)
}

func TestEnergyKWh(t *testing.T) {
	readings := []telemetry.Reading{
		{Value: 100, Time: now},
		{Value: 50, Time: now.Add(time.Hour)},
		{Value: 0, Time: now.Add(3 * time.Hour)},
	}
	// 400 W for 1h plus 200 W for 2h.
	assert.InDelta(t, 0.8, EnergyKWh(readings, 400), 1e-9)
	assert.Zero(t, EnergyKWh(nil, 400))
}
