package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/present"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const defaultCommandLimit = 20

func actorOf(c *gin.Context) string {
	if u := auth.UserFrom(c); u != nil {
		return u.Email
	}
	return "anonymous"
}

type sensorCard struct {
	farm.SensorState
	Display          string       `json:"display"`
	LastReadingLabel string       `json:"lastReadingLabel"`
	StatusColor      string       `json:"statusColor"`
	StatusIcon       string       `json:"statusIcon"`
	CalibrationColor string       `json:"calibrationColor"`
	CalibrationLabel string       `json:"calibrationLabel"`
	SignalIcon       present.Icon `json:"signalIcon"`
}

type sensorSummary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Warning int `json:"warning"`
	Offline int `json:"offline"`
}

func sensorCards(states []farm.SensorState) ([]sensorCard, sensorSummary) {
	cards := make([]sensorCard, 0, len(states))
	sum := sensorSummary{Total: len(states)}
	for _, s := range states {
		card := sensorCard{
			SensorState:      s,
			Display:          present.FormatValue(s.Metric, s.Value),
			LastReadingLabel: "never",
			StatusColor:      present.SensorStatusColor(s.Status),
			StatusIcon:       present.SensorStatusIcon(s.Status),
			CalibrationColor: present.CalibrationColor(s.Calibration),
			CalibrationLabel: present.Humanize(s.Calibration),
			SignalIcon:       present.SignalIcon(s.Signal),
		}
		if s.LastReading != nil {
			card.LastReadingLabel = s.LastReading.Local().Format("03:04 PM")
		}
		switch s.Status {
		case farm.StatusOnline:
			sum.Online++
		case farm.StatusWarning:
			sum.Warning++
		default:
			sum.Offline++
		}
		cards = append(cards, card)
	}
	return cards, sum
}

func (h *handlers) sensors(c *gin.Context) {
	if h.Fleet == nil {
		h.fail(c, errUnavailable)
		return
	}
	cards, sum := sensorCards(h.Fleet.Snapshot())
	c.JSON(http.StatusOK, gin.H{"sensors": cards, "summary": sum})
}

type actuatorCard struct {
	farm.Actuator
	StatusColor string `json:"statusColor"`
	StatusIcon  string `json:"statusIcon"`
}

func actuatorCards(actuators []farm.Actuator) []actuatorCard {
	out := make([]actuatorCard, 0, len(actuators))
	for _, a := range actuators {
		out = append(out, actuatorCard{
			Actuator:    a,
			StatusColor: present.ActuatorStatusColor(a.Status),
			StatusIcon:  present.ActuatorStatusIcon(a.Status),
		})
	}
	return out
}

func (h *handlers) actuators(c *gin.Context) {
	if h.Controller == nil {
		h.fail(c, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actuators": actuatorCards(h.Controller.Snapshot())})
}

func (h *handlers) commands(c *gin.Context) {
	if h.Controller == nil {
		h.fail(c, errUnavailable)
		return
	}
	limit := defaultCommandLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}
	cmds, err := h.Controller.RecentCommands(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}

func (h *handlers) toggleActuator(c *gin.Context) {
	if h.Controller == nil {
		h.fail(c, errUnavailable)
		return
	}
	a, err := h.Controller.Toggle(c.Request.Context(), c.Param("key"), actorOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actuatorCards([]farm.Actuator{a})[0])
}

type levelRequest struct {
	Level *float64 `json:"level"`
}

func (h *handlers) setActuatorLevel(c *gin.Context) {
	if h.Controller == nil {
		h.fail(c, errUnavailable)
		return
	}
	var req levelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Level == nil {
		h.fail(c, fmt.Errorf("%w: level is required", errBadRequest))
		return
	}
	a, err := h.Controller.SetLevel(c.Request.Context(), c.Param("key"), *req.Level, actorOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, actuatorCards([]farm.Actuator{a})[0])
}

type slotRow struct {
	farm.Slot
	Index         int     `json:"index"`
	Label         string  `json:"label"`
	PlannedVolume float64 `json:"plannedVolume"`
	StatusColor   string  `json:"statusColor"`
	StatusIcon    string  `json:"statusIcon"`
}

type scheduleView struct {
	Slots          []slotRow            `json:"slots"`
	Settings       farm.Settings        `json:"settings"`
	GrowthStages   []farm.GrowthStage   `json:"growthStages"`
	PlantProfiles  []farm.PlantProfile  `json:"plantProfiles"`
	Conditions     farm.Conditions      `json:"conditions"`
	VPDTarget      string               `json:"vpdTarget"`
	DailyVolume    float64              `json:"dailyVolume"`
	NextActivation *nextActivationLabel `json:"nextActivation"`
}

type nextActivationLabel struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

func (h *handlers) scheduleView() scheduleView {
	cond := farm.CurrentConditions(h.Ingestor.Store(), h.sources)
	slots := h.Planner.Slots()
	rows := make([]slotRow, 0, len(slots))
	for i, s := range slots {
		rows = append(rows, slotRow{
			Slot:          s,
			Index:         i,
			Label:         s.Label(),
			PlannedVolume: h.Planner.PlannedVolume(s, cond),
			StatusColor:   present.ScheduleStatusColor(s.Status),
			StatusIcon:    present.ScheduleStatusIcon(s.Status),
		})
	}
	view := scheduleView{
		Slots:         rows,
		Settings:      h.Planner.Settings(),
		GrowthStages:  farm.GrowthStages(),
		PlantProfiles: farm.PlantProfiles(),
		Conditions:    cond,
		VPDTarget:     present.RangeLabel(telemetry.MetricVPD, h.Planner.VPDTarget()),
		DailyVolume:   h.Planner.DailyVolume(cond),
	}
	if slot, at, ok := h.Planner.NextActivation(time.Now()); ok {
		view.NextActivation = &nextActivationLabel{Label: slot.Label(), At: at}
	}
	return view
}

func (h *handlers) schedule(c *gin.Context) {
	if h.Planner == nil {
		h.fail(c, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, h.scheduleView())
}

func (h *handlers) updateSlot(c *gin.Context) {
	if h.Planner == nil {
		h.fail(c, errUnavailable)
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: slot index must be an integer", errBadRequest))
		return
	}
	var patch farm.SlotPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if _, err := h.Planner.UpdateSlot(c.Request.Context(), index, patch); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scheduleView())
}

func (h *handlers) updateSettings(c *gin.Context) {
	if h.Planner == nil {
		h.fail(c, errUnavailable)
		return
	}
	var patch farm.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if _, err := h.Planner.UpdateSettings(c.Request.Context(), patch); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.scheduleView())
}

func (h *handlers) statistics(c *gin.Context) {
	if h.Stats == nil {
		h.fail(c, errUnavailable)
		return
	}
	ov, err := h.Stats.Overview(c.Request.Context(), c.DefaultQuery("range", "7d"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h *handlers) dashboardSeries(c *gin.Context) {
	if h.Stats == nil {
		h.fail(c, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, h.Stats.Dashboard())
}
