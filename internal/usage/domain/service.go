package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Coordinator performs the two-step write: persist locally, then report
// remotely, compensating with a local delete when the report definitely failed.
type Coordinator interface {
	RecordAndReportUsage(context.Context, RecordUsageRequest) (RecordUsageResult, error)
	Quote(context.Context, QuoteRequest) (QuoteResult, error)
}

// Aggregator is read-only.
type Aggregator interface {
	Overview(ctx context.Context, billingLineID string, limit int) (UsageOverview, error)
	ListCustomerIntervals(ctx context.Context, customerID string) ([]IntervalView, error)
}

var (
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidStartTime   = errors.New("invalid_start_time")
	ErrInvalidEndTime     = errors.New("invalid_end_time")
	ErrZeroDuration       = errors.New("zero_duration")
	ErrDescriptionTooLong = errors.New("description_too_long")
)

// MaxDescriptionLength bounds the free-text annotation, in runes.
const MaxDescriptionLength = 1000

// FieldError is one rejected input field.
type FieldError struct {
	Field string
	Err   error
}

// ValidationError means the request was rejected before any side effect.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Field, f.Err))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is matches any of the field sentinels, e.g. errors.Is(err, ErrZeroDuration).
func (e *ValidationError) Is(target error) bool {
	for _, f := range e.Fields {
		if errors.Is(f.Err, target) {
			return true
		}
	}
	return false
}

// CompensationError means the rollback delete failed after a definite remote
// failure. RecordID is left in the store unreconciled and needs manual cleanup.
type CompensationError struct {
	RecordID  snowflake.ID
	ReportErr error
	DeleteErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for interval %s: delete: %v (after report failure: %v)", e.RecordID, e.DeleteErr, e.ReportErr)
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.ReportErr, e.DeleteErr}
}

// AmbiguousOutcomeError means the report timed out; the provider may or may
// not have recorded the usage. Retrying risks double billing.
type AmbiguousOutcomeError struct {
	RecordID snowflake.ID
	Err      error
}

func (e *AmbiguousOutcomeError) Error() string {
	return fmt.Sprintf("usage report outcome unknown for interval %s: %v", e.RecordID, e.Err)
}

func (e *AmbiguousOutcomeError) Unwrap() error { return e.Err }

// ReconcileError means the provider accepted the report but the local record
// could not be marked reconciled.
type ReconcileError struct {
	RecordID      snowflake.ID
	UsageRecordID string
	Err           error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("interval %s reported as %s but not reconciled: %v", e.RecordID, e.UsageRecordID, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
