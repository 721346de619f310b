package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/api/websocket"
	"github.com/ferralab/prepcore/internal/auth"
	"github.com/ferralab/prepcore/internal/config"
	"github.com/ferralab/prepcore/internal/recipe"
	"github.com/ferralab/prepcore/internal/telemetry"
	"github.com/ferralab/prepcore/internal/workflow"
)

type Server struct {
	router      *gin.Engine
	engine      *workflow.Engine
	recipes     *recipe.Loader
	calStore    *recipe.CalibrationStore
	series      *telemetry.Series
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.Service
}

func NewServer(cfg *config.Config, engine *workflow.Engine, recipes *recipe.Loader, calStore *recipe.CalibrationStore, series *telemetry.Series, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.Service) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		engine:      engine,
		recipes:     recipes,
		calStore:    calStore,
		series:      series,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		// ==================== READ SURFACE (OPERATOR) ====================
		protected := v1.Group("")
		protected.Use(s.authService.Middleware())
		{
			protected.GET("/recipes", s.listRecipes)
			protected.GET("/recipes/:name", s.getRecipe)

			protected.GET("/slots", s.listSlots)
			protected.PUT("/slots/:id/specimen", s.setSlotSpecimen)

			protected.GET("/queue", s.listJobs)
			protected.POST("/queue", s.enqueueJob)

			protected.GET("/jobs/:id", s.getJob)
			protected.POST("/jobs/:id/cancel", s.cancelJob)
			protected.POST("/jobs/:id/acknowledge", s.acknowledgeJob)

			protected.GET("/machine/status", s.getMachineStatus)
			protected.GET("/machine/telemetry", s.getTelemetry)
		}

		// ==================== WEBSOCKET (Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
