package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/timesync/internal/config"
	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	"github.com/smallbiznis/timesync/internal/observability"
	"github.com/smallbiznis/timesync/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	usagedomain "github.com/smallbiznis/timesync/internal/usage/domain"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const validLine = "si_NkVx2a9Qp1"

type coordinatorMock struct {
	mock.Mock
}

func (m *coordinatorMock) RecordAndReportUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (usagedomain.RecordUsageResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(usagedomain.RecordUsageResult), args.Error(1)
}

func (m *coordinatorMock) Quote(ctx context.Context, req usagedomain.QuoteRequest) (usagedomain.QuoteResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(usagedomain.QuoteResult), args.Error(1)
}

type aggregatorMock struct {
	mock.Mock
}

func (m *aggregatorMock) Overview(ctx context.Context, billingLineID string, limit int) (usagedomain.UsageOverview, error) {
	args := m.Called(ctx, billingLineID, limit)
	return args.Get(0).(usagedomain.UsageOverview), args.Error(1)
}

func (m *aggregatorMock) ListCustomerIntervals(ctx context.Context, customerID string) ([]usagedomain.IntervalView, error) {
	args := m.Called(ctx, customerID)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.([]usagedomain.IntervalView), args.Error(1)
}

type limiterMock struct {
	mock.Mock
}

func (m *limiterMock) Enabled() bool { return true }

func (m *limiterMock) AllowCustomer(ctx context.Context, customerID string) (*ratelimit.RateLimitResult, error) {
	args := m.Called(ctx, customerID)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*ratelimit.RateLimitResult), args.Error(1)
}

func requestFor(customerID string) interface{} {
	return mock.MatchedBy(func(req usagedomain.RecordUsageRequest) bool {
		return req.CustomerID == customerID
	})
}

func testQuote() ratingdomain.Quote {
	return ratingdomain.Quote{
		Quantity:   45,
		UnitAmount: decimal.RequireFromString("0.84"),
		Cost:       decimal.RequireFromString("37.8"),
		Currency:   "AUD",
	}
}

func newTestServer(t *testing.T) (*Server, *coordinatorMock, *aggregatorMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	coordinator := &coordinatorMock{}
	aggregator := &aggregatorMock{}
	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{}, nil),
		Cfg:         config.Config{Timezone: "UTC"},
		Coordinator: coordinator,
		Aggregator:  aggregator,
	})
	return srv, coordinator, aggregator
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

const validEntry = `{"billing_line_id":"si_NkVx2a9Qp1","customer_id":"cus_acme","date":"2025-03-14","start_time":"09:00","end_time":"09:45","description":"pairing"}`

func TestCreateTimeEntry(t *testing.T) {
	srv, coordinator, _ := newTestServer(t)
	usageRecordID := "mbur_1"
	coordinator.On("RecordAndReportUsage", mock.Anything, mock.Anything).Return(usagedomain.RecordUsageResult{
		Record:        &intervaldomain.Record{ID: 42, Quantity: 45, UsageRecordID: &usageRecordID},
		UsageRecordID: usageRecordID,
		Quote:         testQuote(),
	}, nil).Once()

	resp := do(srv, http.MethodPost, "/api/time-entries", validEntry)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			UsageRecordID string `json:"usage_record_id"`
			Quote         struct {
				Cost string `json:"cost"`
			} `json:"quote"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "mbur_1", body.Data.UsageRecordID)
	assert.Equal(t, "37.80", body.Data.Quote.Cost)

	coordinator.AssertNumberOfCalls(t, "RecordAndReportUsage", 1)
	req := coordinator.Calls[0].Arguments.Get(1).(usagedomain.RecordUsageRequest)
	assert.Equal(t, "cus_acme", req.CustomerID)
	assert.Equal(t, validLine, req.BillingLineID)
	assert.True(t, req.Date.Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "09:00", req.StartTime)
	assert.Equal(t, "pairing", req.Description)
}

func TestCreateTimeEntryRejectsMalformedBody(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
		code  string
	}{
		{
			name:  "unknown field",
			body:  `{"billing_line_id":"si_NkVx2a9Qp1","customer_id":"cus_acme","start_time":"09:00","end_time":"09:45","quantity":45}`,
			field: "request",
			code:  "invalid_request",
		},
		{
			name:  "bad billing line",
			body:  `{"billing_line_id":"price_1","customer_id":"cus_acme","start_time":"09:00","end_time":"09:45"}`,
			field: "billing_line_id",
			code:  "invalid_billing_line",
		},
		{
			name:  "bad clock time",
			body:  `{"billing_line_id":"si_NkVx2a9Qp1","customer_id":"cus_acme","start_time":"9am","end_time":"09:45"}`,
			field: "start_time",
			code:  "invalid_clock_time",
		},
		{
			name:  "missing customer",
			body:  `{"billing_line_id":"si_NkVx2a9Qp1","start_time":"09:00","end_time":"09:45"}`,
			field: "customer_id",
			code:  "required",
		},
		{
			name:  "bad date",
			body:  `{"billing_line_id":"si_NkVx2a9Qp1","customer_id":"cus_acme","date":"14/03/2025","start_time":"09:00","end_time":"09:45"}`,
			field: "date",
			code:  "invalid_date",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, coordinator, _ := newTestServer(t)

			resp := do(srv, http.MethodPost, "/api/time-entries", tc.body)
			require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

			payload := decodeError(t, resp)
			assert.Equal(t, "validation_error", payload.Type)
			require.NotEmpty(t, payload.Errors)
			assert.Equal(t, tc.field, payload.Errors[0].Field)
			assert.Equal(t, tc.code, payload.Errors[0].Code)
			coordinator.AssertNotCalled(t, "RecordAndReportUsage", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateTimeEntryMapsSyncFailures(t *testing.T) {
	recordID := snowflake.ID(42)
	rejected := &usagereportdomain.RemoteReportError{
		Provider:     "stripe",
		Message:      "No such subscription item",
		ProviderCode: "resource_missing",
		StatusCode:   http.StatusNotFound,
	}

	cases := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, p errorPayload)
	}{
		{
			name:   "zero duration",
			err:    &usagedomain.ValidationError{Fields: []usagedomain.FieldError{{Field: "end_time", Err: usagedomain.ErrZeroDuration}}},
			status: http.StatusBadRequest,
			check: func(t *testing.T, p errorPayload) {
				require.Len(t, p.Errors, 1)
				assert.Equal(t, "zero_duration", p.Errors[0].Code)
				assert.Equal(t, "end_time", p.Errors[0].Field)
			},
		},
		{
			name:   "provider rejected",
			err:    rejected,
			status: http.StatusBadRequest,
			check: func(t *testing.T, p errorPayload) {
				assert.Equal(t, "usage_report_rejected", p.Type)
				assert.Equal(t, "resource_missing", p.Code)
				assert.Equal(t, "No such subscription item", p.Details)
			},
		},
		{
			name:   "provider unavailable",
			err:    &usagereportdomain.RemoteReportError{Provider: "stripe", Message: "api error", StatusCode: http.StatusInternalServerError},
			status: http.StatusBadGateway,
			check: func(t *testing.T, p errorPayload) {
				assert.Equal(t, "usage_provider_unavailable", p.Type)
			},
		},
		{
			name:   "ambiguous",
			err:    &usagedomain.AmbiguousOutcomeError{RecordID: recordID, Err: usagereportdomain.ErrOutcomeUnknown},
			status: http.StatusGatewayTimeout,
			check: func(t *testing.T, p errorPayload) {
				assert.Equal(t, "42", p.IntervalRecordID)
			},
		},
		{
			name:   "compensation failed",
			err:    &usagedomain.CompensationError{RecordID: recordID, ReportErr: rejected, DeleteErr: errors.New("locked")},
			status: http.StatusInternalServerError,
			check: func(t *testing.T, p errorPayload) {
				assert.Equal(t, "compensation_failed", p.Type)
				assert.Equal(t, "42", p.IntervalRecordID)
				assert.Equal(t, "No such subscription item", p.Details)
			},
		},
		{
			name: "reconcile failed",
			err: &usagedomain.ReconcileError{RecordID: recordID, UsageRecordID: "mbur_9",
				Err: &intervaldomain.PersistenceError{Op: "update", ID: recordID, Err: errors.New("reset")}},
			status: http.StatusInternalServerError,
			check: func(t *testing.T, p errorPayload) {
				assert.Equal(t, "reconcile_failed", p.Type)
				assert.Equal(t, "mbur_9", p.UsageRecordID)
			},
		},
		{
			name:   "persistence failed",
			err:    &intervaldomain.PersistenceError{Op: "create", Err: errors.New("disk full")},
			status: http.StatusInternalServerError,
			check: func(t *testing.T, p errorPayload) {
				assert.Equal(t, "persistence_error", p.Type)
				assert.NotContains(t, p.Message, "disk full")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, coordinator, _ := newTestServer(t)
			coordinator.On("RecordAndReportUsage", mock.Anything, requestFor("cus_acme")).
				Return(usagedomain.RecordUsageResult{}, tc.err).Once()

			resp := do(srv, http.MethodPost, "/api/time-entries", validEntry)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())
			tc.check(t, decodeError(t, resp))
		})
	}
}

func TestCreateTimeEntryRateLimited(t *testing.T) {
	srv, coordinator, _ := newTestServer(t)
	limiter := &limiterMock{}
	limiter.On("AllowCustomer", mock.Anything, "cus_acme").
		Return(&ratelimit.RateLimitResult{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil).Once()
	srv.limiter = limiter

	resp := do(srv, http.MethodPost, "/api/time-entries", validEntry)

	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "2", resp.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, resp).Type)
	limiter.AssertExpectations(t)
	coordinator.AssertNotCalled(t, "RecordAndReportUsage", mock.Anything, mock.Anything)
}

func TestCreateTimeEntryLimiterOutage(t *testing.T) {
	srv, coordinator, _ := newTestServer(t)
	limiter := &limiterMock{}
	limiter.On("AllowCustomer", mock.Anything, "cus_acme").Return(nil, errors.New("redis down")).Once()
	srv.limiter = limiter

	resp := do(srv, http.MethodPost, "/api/time-entries", validEntry)

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	coordinator.AssertNotCalled(t, "RecordAndReportUsage", mock.Anything, mock.Anything)
}

func TestCreateTimeEntryAllowedByLimiterKeepsBody(t *testing.T) {
	srv, coordinator, _ := newTestServer(t)
	limiter := &limiterMock{}
	limiter.On("AllowCustomer", mock.Anything, "cus_acme").Return(&ratelimit.RateLimitResult{Allowed: true}, nil).Once()
	srv.limiter = limiter
	coordinator.On("RecordAndReportUsage", mock.Anything, requestFor("cus_acme")).
		Return(usagedomain.RecordUsageResult{Record: &intervaldomain.Record{ID: 42, Quantity: 45}, Quote: testQuote()}, nil).Once()

	resp := do(srv, http.MethodPost, "/api/time-entries", validEntry)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	coordinator.AssertExpectations(t)
}

func TestCreateTimeEntryRejectsOversizedBody(t *testing.T) {
	oversized := `{"billing_line_id":"si_NkVx2a9Qp1","customer_id":"cus_acme","start_time":"09:00","end_time":"09:45","description":"` +
		strings.Repeat("x", maxTimeEntryBodyBytes) + `"}`

	t.Run("binding", func(t *testing.T) {
		srv, coordinator, _ := newTestServer(t)

		resp := do(srv, http.MethodPost, "/api/time-entries", oversized)

		require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code, resp.Body.String())
		assert.Equal(t, "request_too_large", decodeError(t, resp).Type)
		coordinator.AssertNotCalled(t, "RecordAndReportUsage", mock.Anything, mock.Anything)
	})

	t.Run("rate limit peek", func(t *testing.T) {
		srv, coordinator, _ := newTestServer(t)
		limiter := &limiterMock{}
		srv.limiter = limiter

		resp := do(srv, http.MethodPost, "/api/time-entries", oversized)

		require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code, resp.Body.String())
		limiter.AssertNotCalled(t, "AllowCustomer", mock.Anything, mock.Anything)
		coordinator.AssertNotCalled(t, "RecordAndReportUsage", mock.Anything, mock.Anything)
	})
}

func TestListTimeEntries(t *testing.T) {
	srv, _, aggregator := newTestServer(t)
	aggregator.On("ListCustomerIntervals", mock.Anything, "cus_acme").
		Return([]usagedomain.IntervalView{{Record: intervaldomain.Record{ID: 7, CustomerID: "cus_acme", Quantity: 45}}}, nil).Once()

	resp := do(srv, http.MethodGet, "/api/time-entries?customer_id=cus_acme", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"quantity":45`)

	resp = do(srv, http.MethodGet, "/api/time-entries", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "customer_id", decodeError(t, resp).Errors[0].Field)
	aggregator.AssertNumberOfCalls(t, "ListCustomerIntervals", 1)
}

func TestGetUsageOverview(t *testing.T) {
	srv, _, aggregator := newTestServer(t)
	aggregator.On("Overview", mock.Anything, validLine, 5).
		Return(usagedomain.UsageOverview{BillingLineID: validLine}, nil).Once()
	aggregator.On("Overview", mock.Anything, "bogus", 0).
		Return(usagedomain.UsageOverview{}, &usagedomain.ValidationError{
			Fields: []usagedomain.FieldError{{Field: "billing_line_id", Err: usagereportdomain.ErrInvalidBillingLine}},
		}).Once()

	resp := do(srv, http.MethodGet, "/api/usage/"+validLine+"?limit=5", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = do(srv, http.MethodGet, "/api/usage/"+validLine+"?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "limit", decodeError(t, resp).Errors[0].Field)

	resp = do(srv, http.MethodGet, "/api/usage/bogus", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_billing_line", decodeError(t, resp).Errors[0].Code)
	aggregator.AssertExpectations(t)
}

func TestQuoteTimeEntry(t *testing.T) {
	srv, coordinator, _ := newTestServer(t)
	coordinator.On("Quote", mock.Anything, usagedomain.QuoteRequest{
		BillingLineID: validLine,
		StartTime:     "09:00",
		EndTime:       "09:45",
	}).Return(usagedomain.QuoteResult{Minutes: 45, Quote: testQuote()}, nil).Once()

	resp := do(srv, http.MethodGet, "/api/quote?billing_line_id="+validLine+"&start_time=09:00&end_time=09:45", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"minutes":45`)
	assert.Contains(t, resp.Body.String(), `"cost":"37.80"`)
	coordinator.AssertExpectations(t)
	coordinator.AssertNotCalled(t, "RecordAndReportUsage", mock.Anything, mock.Anything)
}

func TestHealthAndFallback(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/health", "").Code)

	resp := do(srv, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeError(t, resp).Type)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(&usagereportdomain.RemoteReportError{Provider: "stripe", ProviderCode: "resource_missing", StatusCode: 404})
	assert.Equal(t, "usage_report_rejected", typ)
	assert.Equal(t, "resource_missing", code)

	typ, code = classifyErrorForLog(invalidRequestError())
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_request", code)
}
