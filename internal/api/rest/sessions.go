package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

// GET /api/v1/sessions/bulk-write
func (s *Server) getBulkStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.BulkWriter().Status())
}

// POST /api/v1/sessions/bulk-write/start
func (s *Server) startBulkWrite(c *gin.Context) {
	if err := s.lm.BulkWriter().Start(c.Request.Context()); err != nil {
		s.logger.Error("Bulk write start failed", zap.Error(err))
		c.JSON(sessionErrorStatus(err), types.NewErrorResponse("SESSION_START", "Failed to start bulk write", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, s.lm.BulkWriter().Status())
}

// POST /api/v1/sessions/bulk-write/stop
func (s *Server) stopBulkWrite(c *gin.Context) {
	if err := s.lm.BulkWriter().Stop(c.Request.Context()); err != nil {
		c.JSON(sessionErrorStatus(err), types.NewErrorResponse("SESSION_STOP", "Failed to stop bulk write", err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.lm.BulkWriter().Status())
}

// GET /api/v1/sessions/scan
func (s *Server) getScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Scanner().Status())
}

// POST /api/v1/sessions/scan/start
func (s *Server) startScan(c *gin.Context) {
	if err := s.lm.Scanner().Start(c.Request.Context()); err != nil {
		s.logger.Error("Scan start failed", zap.Error(err))
		c.JSON(sessionErrorStatus(err), types.NewErrorResponse("SESSION_START", "Failed to start scan", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, s.lm.Scanner().Status())
}

// POST /api/v1/sessions/scan/stop
func (s *Server) stopScan(c *gin.Context) {
	if err := s.lm.Scanner().Stop(c.Request.Context()); err != nil {
		c.JSON(sessionErrorStatus(err), types.NewErrorResponse("SESSION_STOP", "Failed to stop scan", err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.lm.Scanner().Status())
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, types.ErrSessionNotRunning):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
