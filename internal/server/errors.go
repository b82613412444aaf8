package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/timesync/internal/duration"
	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	usagedomain "github.com/smallbiznis/timesync/internal/usage/domain"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type             string            `json:"type"`
	Message          string            `json:"message"`
	Code             string            `json:"code,omitempty"`
	Details          string            `json:"details,omitempty"`
	Errors           []ValidationError `json:"errors,omitempty"`
	IntervalRecordID string            `json:"interval_record_id,omitempty"`
	UsageRecordID    string            `json:"usage_record_id,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRequestTooLarge    = errors.New("request_too_large")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds error_type and error_code into the request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  translateFieldErrors(fieldErrs),
		}
	}

	var domainErr *usagedomain.ValidationError
	if errors.As(err, &domainErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  translateDomainErrors(domainErr),
		}
	}

	// Typed sync failures first: they wrap the report and store errors below.
	var ambiguous *usagedomain.AmbiguousOutcomeError
	var compensation *usagedomain.CompensationError
	var reconcile *usagedomain.ReconcileError
	var remote *usagereportdomain.RemoteReportError
	var persistence *intervaldomain.PersistenceError

	switch {
	case errors.As(err, &ambiguous):
		return http.StatusGatewayTimeout, errorPayload{
			Type:             "usage_report_timeout",
			Message:          "usage report outcome unknown; the interval was kept for review",
			IntervalRecordID: ambiguous.RecordID.String(),
		}
	case errors.As(err, &compensation):
		return http.StatusInternalServerError, errorPayload{
			Type:             "compensation_failed",
			Message:          "usage report failed and the interval could not be rolled back",
			Details:          remoteDetails(compensation.ReportErr),
			IntervalRecordID: compensation.RecordID.String(),
		}
	case errors.As(err, &reconcile):
		return http.StatusInternalServerError, errorPayload{
			Type:             "reconcile_failed",
			Message:          "usage reported but the interval could not be marked reconciled",
			IntervalRecordID: reconcile.RecordID.String(),
			UsageRecordID:    reconcile.UsageRecordID,
		}
	case errors.As(err, &remote):
		if remote.Rejected() {
			return http.StatusBadRequest, errorPayload{
				Type:    "usage_report_rejected",
				Message: "failed to sync with " + remote.Provider,
				Code:    remote.ProviderCode,
				Details: remote.Message,
			}
		}
		return http.StatusBadGateway, errorPayload{
			Type:    "usage_provider_unavailable",
			Message: "failed to sync with " + remote.Provider,
			Code:    remote.ProviderCode,
			Details: remote.Message,
		}
	case errors.As(err, &persistence):
		return http.StatusInternalServerError, errorPayload{
			Type:    "persistence_error",
			Message: "failed to store interval",
			Code:    persistence.Op,
			Details: persistence.Reason,
		}
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "request", Code: "invalid_request", Message: "invalid request"},
			},
		}
	case errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "request_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many time entries, retry later",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func remoteDetails(err error) string {
	var remote *usagereportdomain.RemoteReportError
	if errors.As(err, &remote) {
		return remote.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

var fieldSentinels = []error{
	usagedomain.ErrZeroDuration,
	usagedomain.ErrInvalidStartTime,
	usagedomain.ErrInvalidEndTime,
	usagedomain.ErrInvalidCustomer,
	usagedomain.ErrDescriptionTooLong,
	usagereportdomain.ErrInvalidBillingLine,
	duration.ErrInvalidDate,
}

func translateDomainErrors(vErr *usagedomain.ValidationError) []ValidationError {
	out := make([]ValidationError, 0, len(vErr.Fields))
	for _, f := range vErr.Fields {
		code := "invalid_value"
		for _, sentinel := range fieldSentinels {
			if errors.Is(f.Err, sentinel) {
				code = sentinel.Error()
				break
			}
		}
		out = append(out, ValidationError{
			Field:   f.Field,
			Code:    code,
			Message: validationMessage(code),
		})
	}
	return out
}

func validationMessage(code string) string {
	switch code {
	case "zero_duration":
		return "start and end time must differ"
	case "invalid_start_time", "invalid_end_time", "invalid_clock_time":
		return "must be a 24-hour HH:MM time"
	case "invalid_customer":
		return "customer is required"
	case "description_too_long":
		return "description is too long"
	case "invalid_billing_line":
		return "must be a subscription item id (si_...)"
	case "invalid_date":
		return "must be a YYYY-MM-DD date"
	case "required":
		return "this field is required"
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
