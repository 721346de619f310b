package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/api/rest"
	"github.com/ferralab/prepcore/internal/api/websocket"
	"github.com/ferralab/prepcore/internal/auth"
	"github.com/ferralab/prepcore/internal/config"
	"github.com/ferralab/prepcore/internal/instrument"
	"github.com/ferralab/prepcore/internal/motion"
	"github.com/ferralab/prepcore/internal/recipe"
	"github.com/ferralab/prepcore/internal/sensors"
	"github.com/ferralab/prepcore/internal/storage"
	"github.com/ferralab/prepcore/internal/telemetry"
	"github.com/ferralab/prepcore/internal/vision"
	"github.com/ferralab/prepcore/internal/workflow"
)

// LifecycleManager wires configuration, hardware ports, storage and the
// workflow engine together and owns startup/shutdown ordering.
type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	calStore *recipe.CalibrationStore
	recipes  *recipe.Loader

	motionClient     *motion.Client
	motionPort       motion.Port
	instrumentClient *instrument.SCPIClient
	instrumentPort   instrument.Port
	monitor          *sensors.Monitor

	store         *storage.PostgresClient
	recorder      workflow.Recorder
	telemetrySink *storage.TelemetrySink
	csvSink       *telemetry.CSVSink
	series        *telemetry.Series

	engine     *workflow.Engine
	hub        *websocket.Hub
	bridge     *websocket.Bridge
	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		currentState: StateInitializing,
	}

	calStore, err := recipe.OpenCalibration(cfg.Paths.CalibrationFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration: %w", err)
	}
	lm.calStore = calStore

	recipes, err := recipe.NewLoader(cfg.Paths.RecipesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe loader: %w", err)
	}
	lm.recipes = recipes

	if cfg.Motion.Simulated {
		cal := calStore.Calibration()
		lm.motionPort = motion.NewSimulator(motion.Position{Z: cal.Beaker[2] + 20})
		logger.Warn("Motion stage is simulated")
	} else {
		lm.motionClient = motion.NewClient(cfg.Motion.Address, cfg.Motion.DialTimeout, cfg.Motion.IdlePoll, logger)
		lm.motionPort = lm.motionClient
	}

	if cfg.Instrument.Simulated {
		lm.instrumentPort = instrument.NewSimulator()
		logger.Warn("Power source is simulated")
	} else {
		lm.instrumentClient = instrument.NewSCPIClient(cfg.Instrument.Address, cfg.Instrument.Timeout, logger)
		lm.instrumentPort = lm.instrumentClient
	}

	lm.monitor = sensors.NewMonitor(
		&sensors.InstrumentSource{Power: lm.instrumentPort},
		cfg.Sensors.PollInterval,
		logger.Named("sensors"),
	)

	authService := auth.NewService(cfg.Auth.JWTSecret(), cfg.Auth.TokenTTL, cfg.Auth.OperatorHash, logger.Named("auth"))
	lm.hub = websocket.NewHub(logger.Named("websocket"), authService)

	var frames vision.FrameSource
	if cfg.Camera.SnapshotURL != "" {
		frames = vision.NewHTTPFrameSource(cfg.Camera.SnapshotURL, cfg.Camera.Timeout)
	} else {
		frames = &vision.SyntheticFrameSource{}
		logger.Warn("No camera snapshot URL configured, using synthetic frames")
	}

	lm.series = telemetry.NewSeries(0)
	sinks := telemetry.MultiSink{lm.series, &websocket.TelemetrySink{Hub: lm.hub}}

	if cfg.Database.Enabled {
		store, err := storage.NewPostgresClient(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			store.Close()
			return nil, err
		}
		lm.store = store
		lm.recorder = storage.NewJobRecorder(store, logger.Named("storage"))
		lm.telemetrySink = storage.NewTelemetrySink(store, logger.Named("storage"))
		sinks = append(sinks, lm.telemetrySink)
	} else {
		logger.Warn("Database disabled, run history will not be persisted")
	}

	if cfg.Paths.TelemetryDir != "" {
		runID := time.Now().UTC().Format("20060102-150405")
		csvSink, err := telemetry.NewCSVSink(cfg.Paths.TelemetryDir, runID, logger.Named("telemetry"))
		if err != nil {
			logger.Warn("CSV telemetry disabled", zap.Error(err))
		} else {
			lm.csvSink = csvSink
			sinks = append(sinks, csvSink)
		}
	}

	engine, err := workflow.New(workflow.Settings{
		DefaultRecipe:     cfg.Workflow.DefaultRecipe,
		SampleInterval:    cfg.Workflow.SampleInterval,
		MoveTimeout:       cfg.Motion.MoveTimeout,
		MacroTimeout:      cfg.Motion.MacroTimeout,
		ImageTimeout:      cfg.Workflow.ImageTimeout,
		SeparationCadence: cfg.Workflow.SeparationCadence,
		BaselineWindow:    cfg.Workflow.BaselineWindow,
	}, workflow.Deps{
		Motion:      lm.motionPort,
		Power:       lm.instrumentPort,
		Sensors:     lm.monitor,
		Frames:      frames,
		Analyzer:    &vision.WidthProfileAnalyzer{},
		Recipes:     recipes,
		Calibration: calStore.Calibration(),
		ZeroSaver:   calStore,
		Recorder:    lm.recorder,
		Sink:        sinks,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	lm.engine = engine

	lm.bridge = websocket.NewBridge(lm.hub, engine)
	lm.restServer = rest.NewServer(cfg, engine, recipes, calStore, lm.series, logger.Named("rest"), lm.hub, authService)

	return lm, nil
}

// Engine returns the workflow engine.
func (lm *LifecycleManager) Engine() *workflow.Engine {
	return lm.engine
}

// Start connects the hardware and brings up all services.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting prepcore")
	lm.setState(StateInitializing)

	if lm.motionClient != nil {
		if err := lm.motionClient.Connect(); err != nil {
			lm.setState(StateError)
			return fmt.Errorf("failed to connect motion stage: %w", err)
		}
	}
	if lm.instrumentClient != nil {
		if err := lm.instrumentClient.Connect(); err != nil {
			lm.setState(StateError)
			return fmt.Errorf("failed to connect power source: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), lm.config.Instrument.Timeout)
		idn, err := lm.instrumentClient.Identify(ctx)
		cancel()
		if err != nil {
			lm.logger.Warn("Power source identification failed", zap.Error(err))
		} else {
			lm.logger.Info("Power source connected", zap.String("idn", idn))
		}
	}

	lm.monitor.Start()
	if lm.telemetrySink != nil {
		lm.telemetrySink.Start()
	}

	go lm.hub.Run()
	lm.bridge.Start()

	lm.engine.SetConnected(true)
	lm.engine.Start()

	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return err
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("database", lm.store != nil))
	return nil
}

// Shutdown stops services in reverse order of startup. The engine stops
// first so no new motion begins while the surfaces drain.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		lm.engine.Stop()
		lm.engine.SetConnected(false)

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("rest api shutdown failed: %w", err)
		}
		cancel()

		lm.bridge.Stop()
		lm.monitor.Stop()

		if lm.telemetrySink != nil {
			lm.telemetrySink.Stop()
		}
		if lm.csvSink != nil {
			if err := lm.csvSink.Close(); err != nil {
				lm.logger.Warn("Closing telemetry CSV failed", zap.Error(err))
			}
		}

		if lm.motionClient != nil {
			if err := lm.motionClient.Close(); err != nil {
				lm.logger.Warn("Closing motion connection failed", zap.Error(err))
			}
		}
		if lm.instrumentClient != nil {
			if err := lm.instrumentClient.Close(); err != nil {
				lm.logger.Warn("Closing power source connection failed", zap.Error(err))
			}
		}
		if lm.store != nil {
			lm.store.Close()
		}

		lm.setState(StateStopped)
		lm.logger.Info("Shutdown complete")
	})

	return shutdownErr
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	lm.currentState = state
	lm.stateMu.Unlock()
}
