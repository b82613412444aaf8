package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/timesync/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonCustomerRate = "customer-rate"

	maxTimeEntryBodyBytes = 64 << 10
)

type timeEntryRateLimitKey struct {
	CustomerID string `json:"customer_id"`
}

// TimeEntryRateLimit throttles submissions per customer before the body is
// bound. A limiter outage fails closed with 503.
func (s *Server) TimeEntryRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		customerID, err := readTimeEntryKey(c)
		if err != nil {
			if errors.Is(err, ErrRequestTooLarge) {
				AbortWithError(c, err)
				return
			}
			logger.FromContext(ctx).Warn("time entry rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		result, err := s.limiter.AllowCustomer(ctx, customerID)
		if err != nil {
			logger.FromContext(ctx).Warn("time entry rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("time entry rate limit exceeded",
				zap.String("reason", rateLimitReasonCustomerRate),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonCustomerRate)

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonCustomerRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

// readTimeEntryKey peeks at customer_id and restores the body for binding.
// A body that is not JSON yields no key and is rejected later by binding.
func readTimeEntryKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", ErrRequestTooLarge
		}
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload timeEntryRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.CustomerID), nil
}

// limitBody caps the request body; reads past n fail with *http.MaxBytesError.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
