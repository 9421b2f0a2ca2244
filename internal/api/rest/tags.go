package rest

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/soundvault/rfidcore/internal/epc"
	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/storage"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

const defaultTagListLimit = 100

// GET /api/v1/tags?limit=N
func (s *Server) listTags(c *gin.Context) {
	limit := defaultTagListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("TAG_400", "Invalid limit parameter", raw))
			return
		}
		limit = parsed
	}

	tags, err := s.lm.Storage().ListTags(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list tags", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TAG_500", "Failed to list tags", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags, "count": len(tags)})
}

// GET /api/v1/tags/:epc
func (s *Server) getTag(c *gin.Context) {
	code := strings.ToUpper(c.Param("epc"))
	if !epc.Valid(code) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TAG_400", "Invalid EPC format", code))
		return
	}

	record, err := s.lm.Storage().FindTagByEpc(c.Request.Context(), code)
	if err != nil {
		s.logger.Error("Failed to look up tag", zap.String("epc", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TAG_500", "Failed to look up tag", err.Error()))
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TAG_404", "Tag not found", code))
		return
	}
	c.JSON(http.StatusOK, record)
}

// POST /api/v1/tags/:epc/retire
func (s *Server) retireTag(c *gin.Context) {
	code := strings.ToUpper(c.Param("epc"))
	if !epc.Valid(code) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TAG_400", "Invalid EPC format", code))
		return
	}

	record, err := s.lm.Storage().FindTagByEpc(c.Request.Context(), code)
	if err != nil {
		s.logger.Error("Failed to look up tag", zap.String("epc", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TAG_500", "Failed to look up tag", err.Error()))
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TAG_404", "Tag not found", code))
		return
	}

	if !record.Status.CanTransition(storage.TagStatusRetired) {
		c.JSON(http.StatusConflict, types.NewErrorResponse("TAG_409", "Tag cannot be retired from its current status", string(record.Status)))
		return
	}

	retired, err := s.lm.Storage().RetireTag(c.Request.Context(), record.ID)
	if err != nil {
		s.logger.Error("Failed to retire tag", zap.String("epc", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TAG_500", "Failed to retire tag", err.Error()))
		return
	}

	s.logger.Info("Tag retired", zap.String("epc", code))
	c.JSON(http.StatusOK, retired)
}

// POST /api/v1/tags/:epc/tid
//
// Reads the factory TID of the tag currently in field and records it on the
// tag's row. The tag in field must report the requested EPC.
func (s *Server) captureTid(c *gin.Context) {
	code := strings.ToUpper(c.Param("epc"))
	if !epc.Valid(code) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("TAG_400", "Invalid EPC format", code))
		return
	}

	record, err := s.lm.Storage().FindTagByEpc(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TAG_500", "Failed to look up tag", err.Error()))
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("TAG_404", "Tag not found", code))
		return
	}

	read, err := s.lm.Reader().SinglePoll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("READER_502", "No tag in field", err.Error()))
		return
	}
	if read.EPC != code {
		c.JSON(http.StatusConflict, types.NewErrorResponse("TAG_409", "Tag in field carries a different EPC", read.EPC))
		return
	}

	password, err := s.lm.Config().Provision.AccessPasswordBytes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("TAG_500", "Invalid access password", err.Error()))
		return
	}

	data, err := s.lm.Reader().ReadData(c.Request.Context(), protocol.BankTID, 0, 6, password)
	if err != nil {
		s.logger.Error("TID read failed", zap.String("epc", code), zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("READER_502", "TID read failed", err.Error()))
		return
	}
	tid := strings.ToUpper(hex.EncodeToString(data))

	if err := s.lm.Storage().SetTagTid(c.Request.Context(), record.ID, tid); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("TAG_409", "TID already recorded", err.Error()))
		return
	}

	s.logger.Info("TID captured", zap.String("epc", code), zap.String("tid", tid))
	c.JSON(http.StatusOK, gin.H{"epc": code, "tid": tid})
}
