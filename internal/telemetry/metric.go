package telemetry

import (
	"math"
	"sort"
)

// Metric names a measured quantity.
type Metric string

const (
	MetricVPD          Metric = "vpd"
	MetricCO2          Metric = "co2"
	MetricHumidity     Metric = "humidity"
	MetricTemperature  Metric = "temperature"
	MetricSoilMoisture Metric = "soil_moisture"
	MetricLight        Metric = "light"
	MetricPH           Metric = "ph"
	MetricBattery      Metric = "battery"
	MetricPower        Metric = "power"
	MetricFlowRate     Metric = "flow_rate"
	MetricSpeed        Metric = "speed"
	MetricIntensity    Metric = "intensity"
	MetricWaterVolume  Metric = "water_volume"
)

// Range is a closed interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp pins v into the range.
func (r Range) Clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Span is Max-Min.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// MetricSpec describes units and the accepted and desired value bands of a metric.
type MetricSpec struct {
	Metric  Metric `json:"metric"`
	Label   string `json:"label"`
	Unit    string `json:"unit"`
	Valid   Range  `json:"valid"`
	Optimal *Range `json:"optimal,omitempty"`
	Warning *Range `json:"warning,omitempty"`
}

var catalog = map[Metric]MetricSpec{
	MetricVPD: {
		Metric: MetricVPD, Label: "VPD", Unit: "kPa",
		Valid: Range{0, 5}, Optimal: &Range{0.8, 1.2}, Warning: &Range{0.4, 1.6},
	},
	MetricCO2: {
		Metric: MetricCO2, Label: "CO₂", Unit: "ppm",
		Valid: Range{0, 5000}, Optimal: &Range{400, 1200},
	},
	MetricHumidity: {
		Metric: MetricHumidity, Label: "Humidity", Unit: "%",
		Valid: Range{0, 100}, Optimal: &Range{60, 80},
	},
	MetricTemperature: {
		Metric: MetricTemperature, Label: "Temperature", Unit: "°C",
		Valid: Range{-40, 85}, Optimal: &Range{18, 28},
	},
	MetricSoilMoisture: {
		Metric: MetricSoilMoisture, Label: "Soil Moisture", Unit: "%",
		Valid: Range{0, 100}, Optimal: &Range{40, 70},
	},
	MetricLight: {
		Metric: MetricLight, Label: "Light Intensity", Unit: "lux",
		Valid: Range{0, 200000}, Optimal: &Range{200, 2000},
	},
	MetricPH: {
		Metric: MetricPH, Label: "pH", Unit: "",
		Valid: Range{0, 14}, Optimal: &Range{5.5, 7.0},
	},
	MetricBattery:     {Metric: MetricBattery, Label: "Battery", Unit: "%", Valid: Range{0, 100}},
	MetricPower:       {Metric: MetricPower, Label: "Power", Unit: "%", Valid: Range{0, 100}},
	MetricFlowRate:    {Metric: MetricFlowRate, Label: "Flow Rate", Unit: "mL/min", Valid: Range{0, 200}},
	MetricSpeed:       {Metric: MetricSpeed, Label: "Speed", Unit: "%", Valid: Range{0, 100}},
	MetricIntensity:   {Metric: MetricIntensity, Label: "Intensity", Unit: "%", Valid: Range{0, 100}},
	MetricWaterVolume: {Metric: MetricWaterVolume, Label: "Water Volume", Unit: "mL", Valid: Range{0, 2000}},
}

// Lookup returns the spec for m.
func Lookup(m Metric) (MetricSpec, bool) {
	spec, ok := catalog[m]
	return spec, ok
}

// Metrics lists every catalogued metric in name order.
func Metrics() []MetricSpec {
	specs := make([]MetricSpec, 0, len(catalog))
	for _, spec := range catalog {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Metric < specs[j].Metric })
	return specs
}
