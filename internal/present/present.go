// Package present maps domain states to the badge colours, icons and
// labels the dashboard pages render.
package present

import (
	"fmt"
	"math"
	"strings"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Badge colour classes.
const (
	ColorGreen  = "bg-green-100 text-green-800"
	ColorYellow = "bg-yellow-100 text-yellow-800"
	ColorRed    = "bg-red-100 text-red-800"
	ColorBlue   = "bg-blue-100 text-blue-800"
	ColorGray   = "bg-gray-100 text-gray-800"

	darkGreen  = " dark:bg-green-900 dark:text-green-200"
	darkYellow = " dark:bg-yellow-900 dark:text-yellow-200"
	darkRed    = " dark:bg-red-900 dark:text-red-200"
	darkGray   = " dark:bg-gray-800 dark:text-gray-200"

	darkGreenSoft  = " dark:bg-green-900/30 dark:text-green-300"
	darkYellowSoft = " dark:bg-yellow-900/30 dark:text-yellow-300"
	darkGraySoft   = " dark:bg-gray-900/30 dark:text-gray-300"
)

// Icon names rendered by the client icon set.
const (
	IconWifi          = "wifi"
	IconWifiOff       = "wifi-off"
	IconActivity      = "activity"
	IconSignalHigh    = "signal-high"
	IconSignalMedium  = "signal-medium"
	IconSignalLow     = "signal-low"
	IconPower         = "power"
	IconPowerOff      = "power-off"
	IconAlertTriangle = "alert-triangle"
	IconXCircle       = "x-circle"
	IconCheckCircle   = "check-circle"
	IconPlay          = "play"
	IconPause         = "pause"
	IconX             = "x"
	IconClock         = "clock"
	IconTrendingUp    = "trending-up"
	IconTrendingDown  = "trending-down"
	IconMinus         = "minus"
)

// Icon pairs an icon name with its colour class.
type Icon struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

// SensorStatusColor colours the online/warning/offline badge of a sensor card.
func SensorStatusColor(status string) string {
	switch status {
	case "online":
		return ColorGreen
	case "warning":
		return ColorYellow
	case "offline":
		return ColorRed
	default:
		return ColorGray
	}
}

// SensorStatusIcon is the icon shown inside the sensor status badge.
func SensorStatusIcon(status string) string {
	switch status {
	case "online":
		return IconWifi
	case "warning":
		return IconActivity
	default:
		return IconWifiOff
	}
}

// CalibrationColor colours the calibration badge.
func CalibrationColor(calibration string) string {
	switch calibration {
	case "calibrated":
		return ColorGreen
	case "needs_calibration":
		return ColorYellow
	case "expired":
		return ColorRed
	default:
		return ColorGray
	}
}

// SignalIcon maps a signal strength to its icon.
func SignalIcon(strength string) Icon {
	switch strength {
	case "high":
		return Icon{Name: IconSignalHigh, Class: "h-4 w-4 text-green-600"}
	case "medium":
		return Icon{Name: IconSignalMedium, Class: "h-4 w-4 text-yellow-600"}
	case "low":
		return Icon{Name: IconSignalLow, Class: "h-4 w-4 text-red-600"}
	default:
		return Icon{Name: IconWifiOff, Class: "h-4 w-4 text-gray-400"}
	}
}

// ActuatorStatusColor colours the on/off/warning/error badge of an actuator.
func ActuatorStatusColor(status string) string {
	switch status {
	case "on":
		return ColorGreen + darkGreen
	case "off":
		return ColorGray + darkGray
	case "warning":
		return ColorYellow + darkYellow
	case "error":
		return ColorRed + darkRed
	default:
		return ColorGray + darkGray
	}
}

// ActuatorStatusIcon is the icon inside the actuator badge.
func ActuatorStatusIcon(status string) string {
	switch status {
	case "on":
		return IconPower
	case "warning":
		return IconAlertTriangle
	case "error":
		return IconXCircle
	default:
		return IconPowerOff
	}
}

// ScheduleStatusColor colours a watering slot badge.
func ScheduleStatusColor(status string) string {
	switch status {
	case "active":
		return ColorGreen + darkGreenSoft
	case "paused":
		return ColorYellow + darkYellowSoft
	default:
		return ColorGray + darkGraySoft
	}
}

// ScheduleStatusIcon is the icon of a watering slot badge.
func ScheduleStatusIcon(status string) string {
	switch status {
	case "active":
		return IconPlay
	case "skip":
		return IconX
	case "paused":
		return IconPause
	default:
		return IconClock
	}
}

// PerformanceStatusColor colours a row of the performance table.
func PerformanceStatusColor(status string) string {
	switch status {
	case "excellent", "optimal":
		return ColorGreen
	case "good":
		return ColorBlue
	case "warning":
		return ColorYellow
	default:
		return ColorGray
	}
}

// VPDBadge is the dashboard VPD status.
type VPDBadge struct {
	Status string `json:"status"`
	Color  string `json:"color"`
	Icon   string `json:"icon"`
}

// VPDStatus grades a VPD value in kPa.
func VPDStatus(vpd float64) VPDBadge {
	spec, _ := telemetry.Lookup(telemetry.MetricVPD)
	switch {
	case spec.Optimal.Contains(vpd):
		return VPDBadge{Status: "Optimal", Color: ColorGreen + darkGreen, Icon: IconCheckCircle}
	case spec.Warning.Contains(vpd):
		return VPDBadge{Status: "Warning", Color: ColorYellow + darkYellow, Icon: IconAlertTriangle}
	default:
		return VPDBadge{Status: "Critical", Color: ColorRed + darkRed, Icon: IconXCircle}
	}
}

// TrendIcon maps a trend to its icon.
func TrendIcon(trend telemetry.Trend) Icon {
	switch trend {
	case telemetry.TrendUp:
		return Icon{Name: IconTrendingUp, Class: "h-4 w-4 text-green-600 dark:text-green-400"}
	case telemetry.TrendDown:
		return Icon{Name: IconTrendingDown, Class: "h-4 w-4 text-red-600 dark:text-red-400"}
	default:
		return Icon{Name: IconMinus, Class: "h-4 w-4 text-muted-foreground"}
	}
}

// ChangeIcon is TrendIcon of the change from previous to current.
func ChangeIcon(current, previous float64) Icon {
	return TrendIcon(telemetry.TrendOf(previous, current, 0))
}

// Humanize turns snake_case states into words.
func Humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// FormatValue renders a reading the way sensor cards show it, e.g. "24.2°C", "65%", "450 ppm".
func FormatValue(metric telemetry.Metric, v float64) string {
	spec, ok := telemetry.Lookup(metric)
	if !ok {
		return trimFloat(v, 2)
	}
	switch metric {
	case telemetry.MetricCO2, telemetry.MetricLight:
		return fmt.Sprintf("%.0f %s", math.Round(v), spec.Unit)
	case telemetry.MetricVPD:
		return fmt.Sprintf("%s %s", trimFloat(v, 2), spec.Unit)
	case telemetry.MetricPH:
		return trimFloat(v, 1)
	case telemetry.MetricTemperature:
		return trimFloat(v, 1) + spec.Unit
	case telemetry.MetricFlowRate, telemetry.MetricWaterVolume:
		return fmt.Sprintf("%.0f %s", math.Round(v), spec.Unit)
	default:
		return fmt.Sprintf("%.0f%s", math.Round(v), spec.Unit)
	}
}

// UnitSuffix is the suffix the statistics cards append to a value.
func UnitSuffix(metric telemetry.Metric) string {
	switch metric {
	case telemetry.MetricVPD:
		return " kPa"
	case telemetry.MetricCO2:
		return " ppm"
	case telemetry.MetricHumidity:
		return "%"
	default:
		return "°C"
	}
}

// RangeLabel renders an optimal band such as "0.8-1.2 kPa" or "60-80%".
func RangeLabel(metric telemetry.Metric, r telemetry.Range) string {
	return trimFloat(r.Min, 2) + "-" + trimFloat(r.Max, 2) + UnitSuffix(metric)
}

func trimFloat(v float64, decimals int) string {
	s := fmt.Sprintf("%.*f", decimals, v)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
