package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/inertia"
	"github.com/Vertexcore-AI/IoT/internal/present"
	"github.com/Vertexcore-AI/IoT/internal/stats"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

type pumpCard struct {
	Active         bool    `json:"active"`
	FlowRate       float64 `json:"flowRate"`
	NextActivation string  `json:"nextActivation"`
	DailyUsage     float64 `json:"dailyUsage"`
}

type fanCard struct {
	Speed            float64 `json:"speed"`
	PowerConsumption float64 `json:"powerConsumption"`
	AutoMode         bool    `json:"autoMode"`
}

type sensorData struct {
	VPD         float64  `json:"vpd"`
	CO2         float64  `json:"co2"`
	Humidity    float64  `json:"humidity"`
	Temperature float64  `json:"temperature"`
	WaterPump   pumpCard `json:"waterPump"`
	Fan         fanCard  `json:"fan"`
}

func (h *handlers) current(m telemetry.Metric, fallback float64) float64 {
	if r, ok := h.Ingestor.Store().Latest(h.sources[m], m); ok {
		return r.Value
	}
	return fallback
}

func (h *handlers) sensorData() sensorData {
	data := sensorData{
		VPD:         h.current(telemetry.MetricVPD, 1.1),
		CO2:         h.current(telemetry.MetricCO2, 450),
		Humidity:    h.current(telemetry.MetricHumidity, 82),
		Temperature: h.current(telemetry.MetricTemperature, 24),
	}
	if h.Controller != nil {
		if pump, err := h.Controller.Get(farm.WaterPump); err == nil {
			data.WaterPump = pumpCard{Active: pump.On(), NextActivation: pump.Schedule.NextActivation}
			if pump.FlowRate != nil {
				data.WaterPump.FlowRate = *pump.FlowRate
			}
		}
		if fans, err := h.Controller.Get(farm.Fans); err == nil {
			data.Fan = fanCard{PowerConsumption: fans.Power, AutoMode: fans.Schedule.AutoMode}
			if fans.Speed != nil {
				data.Fan.Speed = *fans.Speed
			}
		}
	}
	if h.Planner != nil {
		cond := farm.Conditions{CO2: data.CO2, VPD: data.VPD}
		data.WaterPump.DailyUsage = telemetry.Round(h.Planner.DailyVolume(cond)/1000, 2)
	}
	return data
}

func (h *handlers) dashboardPage(c *gin.Context) {
	plot, _ := farm.SelectPlot(h.Plots, c.Query("plot"))
	data := h.sensorData()
	props := inertia.Props{
		"plots":        h.Plots,
		"selectedPlot": plot,
		"weather":      h.Weather,
		"sensorData":   data,
		"vpdStatus":    present.VPDStatus(data.VPD),
		"serverTime":   time.Now().UTC(),
	}
	if h.Stats != nil {
		props["charts"] = h.Stats.Dashboard()
	}
	h.pages.Render(c, "Dashboard", props)
}

func (h *handlers) sensorsPage(c *gin.Context) {
	var cards []sensorCard
	var sum sensorSummary
	if h.Fleet != nil {
		cards, sum = sensorCards(h.Fleet.Snapshot())
	}
	h.pages.Render(c, "Sensors", inertia.Props{"sensors": cards, "summary": sum})
}

func (h *handlers) actuatorsPage(c *gin.Context) {
	props := inertia.Props{"actuators": []actuatorCard{}, "commands": []farm.Command{}}
	if h.Controller != nil {
		props["actuators"] = actuatorCards(h.Controller.Snapshot())
		cmds, err := h.Controller.RecentCommands(c.Request.Context(), 10)
		if err != nil {
			h.logger.Warn("load actuator commands failed", zap.Error(err))
		} else {
			props["commands"] = cmds
		}
	}
	h.pages.Render(c, "Actuators", props)
}

func (h *handlers) schedulePage(c *gin.Context) {
	props := inertia.Props{}
	if h.Planner != nil {
		props["schedule"] = h.scheduleView()
	}
	h.pages.Render(c, "WateringSchedule", props)
}

type cardView struct {
	stats.MetricCard
	TrendIcon present.Icon `json:"trendIcon"`
	Display   string       `json:"display"`
}

type performanceView struct {
	stats.PerformanceRow
	StatusColor string       `json:"statusColor"`
	TrendIcon   present.Icon `json:"trendIcon"`
}

func (h *handlers) statisticsPage(c *gin.Context) {
	rangeKey := c.DefaultQuery("range", "7d")
	if !stats.ValidRange(rangeKey) {
		rangeKey = "7d"
	}
	props := inertia.Props{"range": rangeKey, "ranges": []string{"24h", "7d", "30d"}}
	if h.Stats != nil {
		ov, err := h.Stats.Overview(c.Request.Context(), rangeKey)
		if err != nil {
			h.fail(c, err)
			return
		}
		cards := make([]cardView, 0, len(ov.Cards))
		for _, card := range ov.Cards {
			cards = append(cards, cardView{
				MetricCard: card,
				TrendIcon:  present.TrendIcon(card.Trend),
				Display:    present.FormatValue(card.Metric, card.Current),
			})
		}
		perf := make([]performanceView, 0, len(ov.Performance))
		for _, row := range ov.Performance {
			perf = append(perf, performanceView{
				PerformanceRow: row,
				StatusColor:    present.PerformanceStatusColor(row.Status),
				TrendIcon:      present.TrendIcon(row.Trend),
			})
		}
		props["cards"] = cards
		props["vpdTrend"] = ov.VPDTrend
		props["waterUsage"] = ov.WaterUsage
		props["performance"] = perf
		props["alerts"] = ov.Alerts
		props["generatedAt"] = ov.GeneratedAt
	}
	h.pages.Render(c, "Statistics", props)
}

func (h *handlers) profilePage(c *gin.Context) {
	h.pages.Render(c, "Profile/Edit", inertia.Props{})
}

func (h *handlers) updateProfile(c *gin.Context) {
	u := auth.UserFrom(c)
	var in auth.ProfileInput
	if err := c.ShouldBind(&in); err != nil {
		h.formError(c, "Profile/Edit", errBadRequest)
		return
	}
	updated, err := h.Auth.UpdateProfile(c.Request.Context(), u.ID, in)
	if err != nil {
		h.formError(c, "Profile/Edit", err)
		return
	}
	auth.SetUser(c, &updated)
	inertia.Redirect(c, h.Routes.MustURL("profile.edit"))
}

func (h *handlers) showLogin(c *gin.Context) {
	h.pages.Render(c, "Auth/Login", inertia.Props{})
}

type loginForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (h *handlers) login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		h.formError(c, "Auth/Login", errBadRequest)
		return
	}
	sess, _, err := h.Auth.Login(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		h.formError(c, "Auth/Login", err)
		return
	}
	auth.SetCookie(c, h.cfg.SessionCookie, sess, h.cfg.SecureCookies)
	inertia.Redirect(c, h.Routes.MustURL("dashboard"))
}

func (h *handlers) showRegister(c *gin.Context) {
	h.pages.Render(c, "Auth/Register", inertia.Props{})
}

func (h *handlers) register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBind(&in); err != nil {
		h.formError(c, "Auth/Register", errBadRequest)
		return
	}
	u, err := h.Auth.Register(c.Request.Context(), in)
	if err != nil {
		h.formError(c, "Auth/Register", err)
		return
	}
	sess, err := h.Auth.Open(c.Request.Context(), u.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	auth.SetCookie(c, h.cfg.SessionCookie, sess, h.cfg.SecureCookies)
	inertia.Redirect(c, h.Routes.MustURL("dashboard"))
}

func (h *handlers) logout(c *gin.Context) {
	if token, err := c.Cookie(h.cfg.SessionCookie); err == nil && token != "" {
		if err := h.Auth.Logout(c.Request.Context(), token); err != nil {
			h.logger.Warn("logout failed", zap.Error(err))
		}
	}
	auth.ClearCookie(c, h.cfg.SessionCookie)
	auth.SetUser(c, nil)
	inertia.Redirect(c, h.Routes.MustURL("login"))
}

// formError re-renders component with the validation error attached to its field.
func (h *handlers) formError(c *gin.Context, component string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.fail(c, err)
		return
	}
	h.pages.RenderStatus(c, status, component, inertia.Props{
		"errors": inertia.Props{fieldFor(err): err.Error()},
	})
}
