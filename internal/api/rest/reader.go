package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

// GET /api/v1/reader/version
func (s *Server) getFirmwareVersion(c *gin.Context) {
	version, err := s.lm.Reader().FirmwareVersion(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to read firmware version", zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("READER_502", "Failed to query reader", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"firmware_version": version})
}

// GET /api/v1/reader/power
func (s *Server) getRFPower(c *gin.Context) {
	dbm, err := s.lm.Reader().RFPower(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to read RF power", zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("READER_502", "Failed to query reader", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rf_power_dbm": dbm})
}

type setPowerRequest struct {
	Dbm int `json:"dbm" binding:"required"`
}

// PUT /api/v1/reader/power
func (s *Server) setRFPower(c *gin.Context) {
	var req setPowerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("READER_400", "Invalid request body", err.Error()))
		return
	}

	// The active profile bounds the transmit power the module accepts.
	profileID := s.lm.Config().Reader.Profile
	if profileID != "" {
		profile, err := s.lm.ProfileLoader().Load(profileID)
		if err != nil {
			s.logger.Error("Failed to load reader profile", zap.String("profile", profileID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("READER_500", "Failed to load reader profile", err.Error()))
			return
		}
		if req.Dbm < profile.Power.MinDbm || req.Dbm > profile.Power.MaxDbm {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("READER_400", "Power out of range for reader profile",
				gin.H{"min_dbm": profile.Power.MinDbm, "max_dbm": profile.Power.MaxDbm}))
			return
		}
	}

	if err := s.lm.Reader().SetRFPower(c.Request.Context(), req.Dbm); err != nil {
		s.logger.Error("Failed to set RF power", zap.Int("dbm", req.Dbm), zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("READER_502", "Failed to set RF power", err.Error()))
		return
	}

	s.logger.Info("RF power updated", zap.Int("dbm", req.Dbm))
	c.JSON(http.StatusOK, gin.H{"rf_power_dbm": req.Dbm})
}
