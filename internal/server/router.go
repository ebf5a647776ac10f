package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/inertia"
	"github.com/Vertexcore-AI/IoT/internal/influxdb"
	"github.com/Vertexcore-AI/IoT/internal/logging"
	"github.com/Vertexcore-AI/IoT/internal/routes"
	"github.com/Vertexcore-AI/IoT/internal/simulation"
	"github.com/Vertexcore-AI/IoT/internal/stats"
	"github.com/Vertexcore-AI/IoT/internal/stream"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// SimulatorControl is the part of the simulator the HTTP layer drives.
type SimulatorControl interface {
	Enabled() bool
	Toggle() bool
	Interval() time.Duration
	Snapshot() []simulation.Channel
}

// IrrigationStatus reports the latest scheduled pump run.
type IrrigationStatus interface {
	LastRun() (simulation.FiredSlot, bool)
}

// TimeSeries is the InfluxDB surface used by the API and the assistant.
type TimeSeries interface {
	Ping(ctx context.Context) error
	Config() influxdb.Config
	RecentReadings(ctx context.Context, f influxdb.Filter, lookback time.Duration, limit int) ([]telemetry.Reading, error)
	ReadingsSince(ctx context.Context, f influxdb.Filter, start time.Time, limit int) ([]telemetry.Reading, error)
	QueryRaw(ctx context.Context, flux string) (string, error)
}

// TextGenerator produces model completions.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt string, userParts ...string) (string, error)
}

// Dependencies groups objects the HTTP layer needs. Optional subsystems left
// nil answer 503.
type Dependencies struct {
	Config     Config
	Logger     *zap.Logger
	Ingestor   *telemetry.Ingestor
	Fleet      *farm.Fleet
	Controller *farm.Controller
	Planner    *farm.Planner
	Plots      []farm.Plot
	Weather    farm.Weather
	Stats      *stats.Service
	Auth       *auth.Service
	Routes     *routes.Registry
	Simulator  SimulatorControl
	Irrigation IrrigationStatus
	Hub        *stream.Hub
	Influx     TimeSeries
	LLM        TextGenerator
}

type handlers struct {
	Dependencies
	cfg     Config
	logger  *zap.Logger
	pages   *inertia.Renderer
	sources map[telemetry.Metric]string
}

// NewRouter configures all HTTP routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Ingestor == nil {
		return nil, fmt.Errorf("telemetry ingestor is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	cfg := deps.Config.withDefaults()
	logger := logging.OrNop(deps.Logger)
	if deps.Routes == nil {
		deps.Routes = routes.Default()
	}
	if len(deps.Plots) == 0 {
		deps.Plots = farm.DefaultPlots()
	}
	if deps.Weather.Location == "" {
		deps.Weather = farm.DefaultWeather()
	}

	pages, err := NewRenderer(cfg, deps.Routes)
	if err != nil {
		return nil, err
	}
	h := &handlers{Dependencies: deps, cfg: cfg, logger: logger, pages: pages}
	if deps.Fleet != nil {
		h.sources = farm.Sources(deps.Fleet.Devices())
	} else {
		h.sources = farm.Sources(farm.DefaultDevices())
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger), cors.New(corsConfig(cfg)))
	r.Use(deps.Auth.Middleware(cfg.SessionCookie))

	loginURL := deps.Routes.MustURL("login")
	homeURL := deps.Routes.MustURL("dashboard")

	web := r.Group("/", pages.Middleware())
	guest := web.Group("/", auth.Guest(homeURL))
	guest.GET("/login", h.showLogin)
	guest.POST("/login", h.login)
	guest.GET("/register", h.showRegister)
	guest.POST("/register", h.register)
	web.POST("/logout", h.logout)

	app := web.Group("/", auth.Required(loginURL))
	app.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, homeURL) })
	app.GET("/dashboard", h.dashboardPage)
	app.GET("/sensors", h.sensorsPage)
	app.GET("/actuators", h.actuatorsPage)
	app.GET("/watering-schedule", h.schedulePage)
	app.GET("/statistics", h.statisticsPage)
	app.GET("/profile", h.profilePage)
	app.PATCH("/profile", h.updateProfile)

	api := r.Group("/api")
	api.GET("/health", h.health)
	api.GET("/influx/ping", h.influxPing)
	api.GET("/routes", func(c *gin.Context) { c.JSON(http.StatusOK, deps.Routes.All()) })
	api.POST("/telemetry", h.requireIngestToken, h.ingest)

	secured := api.Group("/", auth.Required(loginURL))
	secured.GET("/telemetry/latest", h.latest)
	secured.GET("/telemetry/series", h.series)
	secured.GET("/telemetry/history", h.history)
	secured.GET("/telemetry/stream", h.stream)
	secured.GET("/dashboard", h.dashboardSeries)
	secured.GET("/sensors", h.sensors)
	secured.GET("/actuators", h.actuators)
	secured.GET("/actuators/commands", h.commands)
	secured.POST("/actuators/:key/toggle", h.toggleActuator)
	secured.PUT("/actuators/:key/level", h.setActuatorLevel)
	secured.GET("/schedule", h.schedule)
	secured.PUT("/schedule/slots/:index", h.updateSlot)
	secured.PUT("/schedule/settings", h.updateSettings)
	secured.GET("/statistics", h.statistics)
	secured.GET("/simulation/status", h.simulationStatus)
	secured.POST("/simulation/toggle", h.toggleSimulation)
	secured.POST("/chat/query", h.chatQuery)

	return r, nil
}

// NewRenderer builds the page renderer with the props every page shares.
func NewRenderer(cfg Config, reg *routes.Registry) (*inertia.Renderer, error) {
	cfg = cfg.withDefaults()
	return inertia.New(cfg.AssetVersion,
		inertia.WithTitle(cfg.AppName),
		inertia.WithShared(func(c *gin.Context) inertia.Props {
			var user any
			if u := auth.UserFrom(c); u != nil {
				user = u.Public()
			}
			current, _ := reg.NameFor(c.Request.URL.Path)
			return inertia.Props{
				"appName": cfg.AppName,
				"auth":    inertia.Props{"user": user},
				"routes":  reg.Table(),
				"route":   current,
			}
		}),
	)
}

func corsConfig(cfg Config) cors.Config {
	cc := cors.DefaultConfig()
	cc.AllowHeaders = append(cc.AllowHeaders,
		"Authorization", "X-Requested-With", "X-Ingest-Token",
		inertia.HeaderInertia, inertia.HeaderVersion)
	cc.ExposeHeaders = []string{inertia.HeaderInertia, inertia.HeaderLocation}
	cc.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	if cfg.allowAllOrigins() {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = cfg.CORSOrigins
	cc.AllowCredentials = true
	return cc
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"app":    h.cfg.AppName,
		"ingest": h.Ingestor.Stats(),
		"subsystems": gin.H{
			"influx":    h.Influx != nil,
			"llm":       h.LLM != nil,
			"simulator": h.Simulator != nil && h.Simulator.Enabled(),
			"stream":    h.Hub != nil,
		},
	})
}

func (h *handlers) influxPing(c *gin.Context) {
	if h.Influx == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "missing client"})
		return
	}
	if err := h.Influx.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("influx ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) simulationStatus(c *gin.Context) {
	if h.Simulator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"running": false})
		return
	}
	body := gin.H{
		"running":  h.Simulator.Enabled(),
		"interval": h.Simulator.Interval().String(),
		"channels": h.Simulator.Snapshot(),
	}
	if h.Irrigation != nil {
		if run, ok := h.Irrigation.LastRun(); ok {
			body["lastIrrigation"] = run
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) toggleSimulation(c *gin.Context) {
	if h.Simulator == nil {
		h.fail(c, errUnavailable)
		return
	}
	running := h.Simulator.Toggle()
	actor := ""
	if u := auth.UserFrom(c); u != nil {
		actor = u.Email
	}
	h.logger.Info("simulation toggled", zap.Bool("running", running), zap.String("actor", actor))
	c.JSON(http.StatusOK, gin.H{"running": running})
}
