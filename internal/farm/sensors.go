package farm

import (
	"sync"
	"time"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Sensor statuses.
const (
	StatusOnline  = "online"
	StatusWarning = "warning"
	StatusOffline = "offline"
)

// Calibration states.
const (
	Calibrated         = "calibrated"
	NeedsCalibration   = "needs_calibration"
	CalibrationExpired = "expired"
)

// ClimateStationID is the greenhouse climate station reporting VPD.
const ClimateStationID = "ENV01"

const (
	staleAfter          = 10 * time.Minute
	offlineBatteryBelow = 15.0
	warningBatteryBelow = 50.0
)

// Device is a field sensor as registered in the farm profile.
type Device struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Type        string           `json:"type" yaml:"type"`
	Metric      telemetry.Metric `json:"metric" yaml:"metric"`
	Icon        string           `json:"icon" yaml:"icon"`
	Battery     float64          `json:"battery" yaml:"battery"`
	Calibration string           `json:"calibration" yaml:"calibration"`
	Signal      string           `json:"signal" yaml:"signal"`
	Seed        float64          `json:"seed" yaml:"seed"`
}

// SensorState is a device joined with its latest telemetry.
type SensorState struct {
	Device
	Status      string     `json:"status"`
	Value       float64    `json:"value"`
	LastReading *time.Time `json:"lastReading,omitempty"`
}

// DefaultDevices is the sensor fleet of the demo greenhouse.
func DefaultDevices() []Device {
	return []Device{
		{ID: "TH01", Name: "ACE Temperature", Type: "Temperature", Metric: telemetry.MetricTemperature, Icon: "thermometer", Battery: 85, Calibration: Calibrated, Signal: "high", Seed: 24.2},
		{ID: "SM201", Name: "JLNew H10: Soil Moisture", Type: "Soil Moisture", Metric: telemetry.MetricSoilMoisture, Icon: "droplets", Battery: 92, Calibration: Calibrated, Signal: "high", Seed: 65},
		{ID: "CO201", Name: "SenseAir CO₂", Type: "CO₂", Metric: telemetry.MetricCO2, Icon: "activity", Battery: 78, Calibration: Calibrated, Signal: "medium", Seed: 450},
		{ID: "LI101", Name: "Apogee Light Sensor", Type: "Light Intensity", Metric: telemetry.MetricLight, Icon: "activity", Battery: 45, Calibration: NeedsCalibration, Signal: "low", Seed: 850},
		{ID: "PH01", Name: "Atlas Scientific pH", Type: "pH", Metric: telemetry.MetricPH, Icon: "activity", Battery: 12, Calibration: CalibrationExpired, Signal: "none", Seed: 6.8},
		{ID: "HU01", Name: "Sensirion Humidity", Type: "Humidity", Metric: telemetry.MetricHumidity, Icon: "droplets", Battery: 95, Calibration: Calibrated, Signal: "high", Seed: 82},
	}
}

// Fleet answers what every registered sensor currently reports.
type Fleet struct {
	mu      sync.RWMutex
	devices []Device
	store   *telemetry.Store
	now     func() time.Time
}

// NewFleet joins devices with the telemetry store.
func NewFleet(devices []Device, store *telemetry.Store) *Fleet {
	return &Fleet{devices: append([]Device(nil), devices...), store: store, now: time.Now}
}

// Devices returns the registered devices.
func (f *Fleet) Devices() []Device {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Device(nil), f.devices...)
}

// Device returns the device with id.
func (f *Fleet) Device(id string) (Device, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, d := range f.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// SetCalibration records a calibration state for a device.
func (f *Fleet) SetCalibration(id, calibration string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].ID == id {
			f.devices[i].Calibration = calibration
			return true
		}
	}
	return false
}

// Snapshot returns the state of every device in registration order.
func (f *Fleet) Snapshot() []SensorState {
	now := f.now()
	devices := f.Devices()
	out := make([]SensorState, 0, len(devices))
	for _, d := range devices {
		state := SensorState{Device: d, Value: d.Seed}
		if f.store != nil {
			if r, ok := f.store.Latest(d.ID, d.Metric); ok {
				state.Value = r.Value
				t := r.Time
				state.LastReading = &t
			}
			if b, ok := f.store.Latest(d.ID, telemetry.MetricBattery); ok {
				state.Battery = b.Value
			}
		}
		state.Status = DeriveStatus(state.Device, state.LastReading, now)
		out = append(out, state)
	}
	return out
}

// DeriveStatus grades a device. A sensor whose last reading is older than
// ten minutes, or whose battery is nearly flat, is offline; weak battery,
// missing calibration or a low signal is a warning.
func DeriveStatus(d Device, lastReading *time.Time, now time.Time) string {
	if lastReading != nil && now.Sub(*lastReading) > staleAfter {
		return StatusOffline
	}
	if d.Battery < offlineBatteryBelow || d.Signal == "none" {
		return StatusOffline
	}
	if d.Battery < warningBatteryBelow || d.Calibration != Calibrated || d.Signal == "low" {
		return StatusWarning
	}
	return StatusOnline
}

// Sources maps each environment metric to the device reporting it. VPD
// comes from the climate station.
func Sources(devices []Device) map[telemetry.Metric]string {
	out := map[telemetry.Metric]string{telemetry.MetricVPD: ClimateStationID}
	for _, d := range devices {
		if _, taken := out[d.Metric]; !taken {
			out[d.Metric] = d.ID
		}
	}
	return out
}

// CurrentConditions reads the latest CO₂ and VPD from the sensors named in sources.
func CurrentConditions(store *telemetry.Store, sources map[telemetry.Metric]string) Conditions {
	var cond Conditions
	if store == nil {
		return cond
	}
	if r, ok := store.Latest(sources[telemetry.MetricCO2], telemetry.MetricCO2); ok {
		cond.CO2 = r.Value
	}
	if r, ok := store.Latest(sources[telemetry.MetricVPD], telemetry.MetricVPD); ok {
		cond.VPD = r.Value
	}
	return cond
}
