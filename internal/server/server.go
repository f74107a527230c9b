package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openfms/console/internal/config"
	"openfms/console/internal/handler"
	"openfms/console/internal/middleware"
	"openfms/console/internal/querycache"
	"openfms/console/internal/report"
	"openfms/console/internal/service"
)

// Deps are the long-lived components main builds and the server routes to.
type Deps struct {
	Backend  service.Backend
	Cache    *querycache.Cache
	Fetcher  *service.Fetcher
	Sessions *service.SessionService
	Reports  *report.Session
	// Limiter counts rate-limited requests; nil disables rate limiting.
	Limiter middleware.RateLimiter
	// Notifier receives form notices besides the websocket hub, e.g. the NATS bridge.
	Notifier service.Notifier
}

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	deps       Deps
	logger     *zap.Logger
	httpServer *http.Server
	wsHub      *handler.WSHub
	wsHandler  *handler.WSHandler
	stopEvents func()
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// Setup initializes routes and handlers
func (s *Server) Setup() {
	// WebSocket hub first: forms notify through it
	s.wsHub = handler.NewWSHub(s.logger)
	s.wsHandler = handler.NewWSHandler(s.wsHub)
	events, cancel := s.deps.Cache.Subscribe(64)
	s.stopEvents = cancel
	go s.wsHub.Run(events)

	formDeps := service.FormDeps{
		Backend:  s.deps.Backend,
		Cache:    s.deps.Cache,
		Notifier: service.Notifiers{s.wsHub, s.deps.Notifier},
		Logger:   s.logger.Named("form"),
	}

	sessionHandler := handler.NewSessionHandler(s.deps.Sessions, s.logger)
	deviceHandler := handler.NewDeviceHandler(s.deps.Fetcher, formDeps)
	userHandler := handler.NewUserHandler(s.deps.Fetcher, formDeps)
	notificationHandler := handler.NewNotificationHandler(s.deps.Fetcher)
	overviewHandler := handler.NewOverviewHandler(s.deps.Fetcher, s.deps.Sessions)
	reportHandler := handler.NewReportHandler(s.deps.Reports)

	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.AccessLog(s.logger.Named("http")))
	s.router.Use(cors.New(s.corsConfig()))
	s.router.SetHTMLTemplate(report.Templates())

	limit := s.rateLimit()

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"ws_clients": s.wsHub.GetClientCount(),
		})
	})

	s.router.GET("/ws/events", s.wsHandler.HandleEvents)
	s.router.GET("/ws/stats", s.wsHandler.GetStats)

	api := s.router.Group("/api")
	{
		api.POST("/session", limit, sessionHandler.Login)
		api.DELETE("/session", sessionHandler.Logout)

		api.GET("/overview", overviewHandler.Get)

		api.GET("/devices", deviceHandler.List)
		api.POST("/devices", deviceHandler.Create)
		api.GET("/devices/forms", deviceHandler.FormStatus)
		api.POST("/permissions", deviceHandler.Assign)

		api.GET("/users", userHandler.List)
		api.POST("/users", userHandler.Create)
		api.PUT("/users/:id", userHandler.Update)

		api.GET("/notifications", notificationHandler.List)
		api.POST("/notifications/read-all", notificationHandler.MarkAllRead)
		api.POST("/notifications/clear", notificationHandler.Clear)

		reports := api.Group("/reports")
		reports.GET("/types", reportHandler.Types)
		reports.POST("", limit, reportHandler.Generate)
		reports.GET("/current", reportHandler.Current)
		reports.GET("/current/view", reportHandler.CurrentView)
		reports.GET("/current/download", reportHandler.Download)
		reports.POST("/previews", reportHandler.OpenPreview)
		reports.GET("/previews/:id", reportHandler.GetPreview)
		reports.DELETE("/previews/:id", reportHandler.ClosePreview)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// rateLimit builds the limiter applied to login and report generation.
func (s *Server) rateLimit() gin.HandlerFunc {
	if !s.config.RateLimit.Enabled || s.deps.Limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	group := middleware.NewRateLimitGroup(s.deps.Limiter, s.logger.Named("ratelimit"))
	for _, rule := range s.config.RateLimit.SpecificRules {
		group.AddPathConfig(rule.Path, rule.ToMiddlewareConfig())
	}
	return group.Middleware()
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Disposition", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.config.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = s.config.AllowedOrigins
	cfg.AllowCredentials = true
	return cfg
}

// Run starts the HTTP server and blocks until it is shut down.
func (s *Server) Run() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetWSHub returns the WebSocket hub for external use
func (s *Server) GetWSHub() *handler.WSHub {
	return s.wsHub
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.stopEvents != nil {
		s.stopEvents()
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
		s.logger.Info("WebSocket hub stopped")
	}
	return err
}
