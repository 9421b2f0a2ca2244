package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundvault/rfidcore/internal/api/websocket"
	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/interfaces"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.Default(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
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

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", s.shutdown)
		}

		// ==================== TAGS ====================
		tags := v1.Group("/tags")
		{
			tags.GET("", s.listTags)
			tags.GET("/:epc", s.getTag)
			tags.POST("/:epc/retire", s.retireTag)
			tags.POST("/:epc/tid", s.captureTid)
		}

		// ==================== SESSIONS ====================
		sessions := v1.Group("/sessions")
		{
			sessions.GET("/bulk-write", s.getBulkStatus)
			sessions.POST("/bulk-write/start", s.startBulkWrite)
			sessions.POST("/bulk-write/stop", s.stopBulkWrite)

			sessions.GET("/scan", s.getScanStatus)
			sessions.POST("/scan/start", s.startScan)
			sessions.POST("/scan/stop", s.stopScan)
		}

		// ==================== READER ====================
		reader := v1.Group("/reader")
		{
			reader.GET("/version", s.getFirmwareVersion)
			reader.GET("/power", s.getRFPower)
			reader.PUT("/power", s.setRFPower)
		}

		// ==================== PROFILES ====================
		profileRoutes := v1.Group("/profiles")
		{
			profileRoutes.GET("", s.listProfiles)
			profileRoutes.GET("/:id", s.getProfile)
		}

		// ==================== WEBSOCKET ====================
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
