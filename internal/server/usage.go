package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/timesync/internal/usage/domain"
)

func (s *Server) GetUsageOverview(c *gin.Context) {
	billingLineID := strings.TrimSpace(c.Param("billing_line_id"))
	c.Set("billing_line_id", billingLineID)

	limit, err := parseOptionalLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
		return
	}

	overview, err := s.aggregator.Overview(c.Request.Context(), billingLineID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": overview})
}

func (s *Server) QuoteTimeEntry(c *gin.Context) {
	var query struct {
		BillingLineID string `form:"billing_line_id" binding:"required"`
		StartTime     string `form:"start_time" binding:"required"`
		EndTime       string `form:"end_time" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	quote, err := s.coordinator.Quote(c.Request.Context(), usagedomain.QuoteRequest{
		BillingLineID: query.BillingLineID,
		StartTime:     query.StartTime,
		EndTime:       query.EndTime,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}
