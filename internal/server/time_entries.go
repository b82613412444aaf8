package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/timesync/internal/duration"
	usagedomain "github.com/smallbiznis/timesync/internal/usage/domain"
)

type createTimeEntryRequest struct {
	BillingLineID string         `json:"billing_line_id" binding:"required,billing_line"`
	CustomerID    string         `json:"customer_id" binding:"required,max=255"`
	Date          string         `json:"date" binding:"omitempty,datetime=2006-01-02"`
	StartTime     string         `json:"start_time" binding:"required,clock_time"`
	EndTime       string         `json:"end_time" binding:"required,clock_time"`
	Description   string         `json:"description" binding:"max=1000"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *Server) CreateTimeEntry(c *gin.Context) {
	var req createTimeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	c.Set("billing_line_id", strings.TrimSpace(req.BillingLineID))
	c.Set("customer_id", strings.TrimSpace(req.CustomerID))

	var date time.Time
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := duration.ParseDate(req.Date, s.cfg.Location())
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "must be a YYYY-MM-DD date"))
			return
		}
		date = parsed
	}

	res, err := s.coordinator.RecordAndReportUsage(c.Request.Context(), usagedomain.RecordUsageRequest{
		CustomerID:    req.CustomerID,
		BillingLineID: req.BillingLineID,
		Date:          date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Description:   req.Description,
		Metadata:      req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
}

func (s *Server) ListTimeEntries(c *gin.Context) {
	var query struct {
		CustomerID string `form:"customer_id" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	views, err := s.aggregator.ListCustomerIntervals(c.Request.Context(), query.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}
