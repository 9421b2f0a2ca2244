package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/soundvault/rfidcore/internal/profiles"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	vendors := profiles.Catalog(s.lm.Config().Profiles.SearchPaths, s.logger)
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

// GET /api/v1/profiles/:id
func (s *Server) getProfile(c *gin.Context) {
	profileID := c.Param("id")

	profile, err := s.lm.ProfileLoader().Load(profileID)
	if err != nil {
		s.logger.Warn("Profile lookup failed", zap.String("profile", profileID), zap.Error(err))
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PROFILE_404", "Profile not found", profileID))
		return
	}
	c.JSON(http.StatusOK, profile)
}
