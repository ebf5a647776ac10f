package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/influxdb"
	"github.com/Vertexcore-AI/IoT/internal/llm"
	"github.com/Vertexcore-AI/IoT/internal/metadata"
	"github.com/Vertexcore-AI/IoT/internal/mqtt"
	"github.com/Vertexcore-AI/IoT/internal/mysql"
	"github.com/Vertexcore-AI/IoT/internal/routes"
	"github.com/Vertexcore-AI/IoT/internal/server"
	"github.com/Vertexcore-AI/IoT/internal/simulation"
	"github.com/Vertexcore-AI/IoT/internal/stats"
	"github.com/Vertexcore-AI/IoT/internal/stream"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

const (
	shutdownTimeout  = 10 * time.Second
	sessionPurgeTick = time.Hour
	commandLogLimit  = 200
)

// stores bundles the persistence backends chosen at startup.
type stores struct {
	users    auth.UserStore
	sessions auth.SessionStore
	commands farm.CommandLog
	schedule farm.ScheduleStore
}

func memoryStores() stores {
	mem := auth.NewMemoryStore()
	return stores{
		users:    mem,
		sessions: mem,
		commands: farm.NewMemoryCommandLog(commandLogLimit),
		schedule: &farm.MemoryScheduleStore{},
	}
}

// openMetadata connects to MySQL when configured. When it is not configured
// or cannot be reached every store stays in memory.
func openMetadata(ctx context.Context, logger *zap.Logger) (stores, func()) {
	cfg, err := mysql.FromEnv()
	if errors.Is(err, mysql.ErrNotConfigured) {
		logger.Info("mysql not configured, using in-memory stores")
		return memoryStores(), func() {}
	}
	if err != nil {
		logger.Warn("mysql config invalid, using in-memory stores", zap.Error(err))
		return memoryStores(), func() {}
	}
	db, err := mysql.New(ctx, cfg, logger)
	if err != nil {
		logger.Warn("mysql unavailable, using in-memory stores", zap.Error(err))
		return memoryStores(), func() {}
	}
	repo := metadata.NewRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		logger.Warn("mysql schema setup failed, using in-memory stores", zap.Error(err))
		return memoryStores(), func() {}
	}
	logger.Info("mysql metadata store ready")
	return stores{users: repo, sessions: repo, commands: repo, schedule: repo}, func() { db.Close() }
}

// openInflux returns nil when InfluxDB is not configured or unreachable.
func openInflux(ctx context.Context, logger *zap.Logger) *influxdb.Client {
	cfg, err := influxdb.FromEnv()
	if errors.Is(err, influxdb.ErrNotConfigured) {
		logger.Info("influxdb not configured, history and assistant disabled")
		return nil
	}
	if err != nil {
		logger.Warn("influxdb config invalid", zap.Error(err))
		return nil
	}
	client, err := influxdb.New(ctx, cfg, logger)
	if err != nil {
		logger.Warn("influxdb unavailable", zap.Error(err))
		return nil
	}
	return client
}

func openLLM(ctx context.Context, logger *zap.Logger) *llm.Client {
	cfg, err := llm.FromEnv()
	if errors.Is(err, llm.ErrMissingAPIKey) {
		logger.Info("GEMINI_API_KEY not set, assistant disabled")
		return nil
	}
	if err != nil {
		logger.Warn("llm config invalid", zap.Error(err))
		return nil
	}
	client, err := llm.New(ctx, cfg, logger)
	if err != nil {
		logger.Warn("llm client unavailable", zap.Error(err))
		return nil
	}
	return client
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := zap.L()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := server.FromEnv()
	if err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	profile, err := farm.ProfileFromEnv()
	if err != nil {
		return err
	}

	st, closeStores := openMetadata(ctx, logger)
	defer closeStores()

	store := telemetry.NewStore(telemetry.WithCapacity(cfg.StoreCapacity), telemetry.WithMaxSeries(cfg.StoreSeries))
	ingestor := telemetry.NewIngestor(store, telemetry.WithLogger(logger.Named("ingest")))

	deps := server.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Ingestor: ingestor,
		Plots:    profile.Plots,
		Routes:   routes.Default(),
	}
	if profile.Weather != nil {
		deps.Weather = *profile.Weather
	}

	statsOpts := []stats.Option{stats.WithLogger(logger.Named("stats"))}
	if influx := openInflux(ctx, logger); influx != nil {
		defer influx.Close()
		ingestor.AddSink(influx)
		statsOpts = append(statsOpts, stats.WithWindowReader(influx))
		deps.Influx = influx
	}
	if model := openLLM(ctx, logger); model != nil {
		defer model.Close()
		deps.LLM = model
	}

	var broker *mqtt.Broker
	commands := st.commands
	if mqttCfg := mqtt.FromEnv(); mqttCfg.Enabled {
		if broker, err = mqtt.New(mqttCfg, ingestor, logger.Named("mqtt")); err != nil {
			return err
		}
		defer broker.Close() //nolint:errcheck
		commands = mqtt.NewCommandMirror(commands, broker.TopicPrefix(), broker, logger.Named("mqtt"))
	}

	fleet := farm.NewFleet(profile.Devices, store)
	controller := farm.NewController(farm.DefaultActuators(time.Now()), commands, logger.Named("actuators"))
	settings := farm.DefaultSettings()
	if profile.Settings != nil {
		settings = *profile.Settings
	}
	planner := farm.NewPlanner(profile.Slots, settings, st.schedule)
	if err := planner.Load(ctx); err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	deps.Fleet, deps.Controller, deps.Planner = fleet, controller, planner

	simCfg := simulation.FromEnv()
	simulator := simulation.New(ingestor, simulation.DefaultChannels(),
		simulation.WithInterval(simCfg.Interval),
		simulation.WithLogger(logger.Named("simulator")),
		simulation.WithController(controller),
		simulation.WithDevices(profile.Devices),
	)
	if simCfg.Enabled {
		simulator.Enable()
	}
	simulator.Start(ctx)
	deps.Simulator = simulator

	coordinator := simulation.NewCoordinator(planner, controller, ingestor, store,
		simulation.WithCoordinatorPollInterval(simCfg.PollInterval),
		simulation.WithCoordinatorLogger(logger.Named("irrigation")),
	)
	coordinator.Start(ctx)
	deps.Irrigation = coordinator

	statsSvc := stats.NewService(store, fleet, planner, statsOpts...)
	statsSvc.Start(ctx)
	deps.Stats = statsSvc

	authSvc := auth.NewService(st.users, st.sessions,
		auth.WithTTL(cfg.SessionTTL),
		auth.WithLogger(logger.Named("auth")),
	)
	authSvc.Start(ctx, sessionPurgeTick)
	deps.Auth = authSvc

	hub := stream.NewHub(ingestor, stream.WithLogger(logger.Named("stream")))
	hub.Start(ctx)
	deps.Hub = hub

	router, err := server.NewRouter(deps)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if broker != nil {
		g.Go(func() error { return broker.Run(gctx) })
	}

	return g.Wait()
}
