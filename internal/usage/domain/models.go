package domain

import (
	"time"

	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
)

// RecordUsageRequest is one time entry to synchronize. Date anchors the
// clock times; a zero Date means "today" in the configured timezone.
type RecordUsageRequest struct {
	CustomerID    string
	BillingLineID string
	Date          time.Time
	StartTime     string
	EndTime       string
	Description   string
	Metadata      map[string]any
}

type RecordUsageResult struct {
	Record        *intervaldomain.Record `json:"interval_record"`
	UsageRecordID string                 `json:"usage_record_id"`
	Quote         ratingdomain.Quote     `json:"quote"`
}

// IntervalView is a stored interval decorated for display.
type IntervalView struct {
	intervaldomain.Record
	Quote        *ratingdomain.Quote        `json:"quote,omitempty"`
	UsageSummary *usagereportdomain.Summary `json:"usage_summary,omitempty"`
}

// PeriodComparison lines a provider period total up against local usage
// reported inside the same period.
type PeriodComparison struct {
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	ReportedUnits int64     `json:"reported_units"`
	LocalUnits    int64     `json:"local_units"`
	Discrepancy   int64     `json:"discrepancy"`
}

type UsageOverview struct {
	BillingLineID  string                      `json:"billing_line_id"`
	Summaries      []usagereportdomain.Summary `json:"summaries"`
	SummariesError string                      `json:"summaries_error,omitempty"`
	Reconciled     []intervaldomain.Record     `json:"reconciled_intervals"`
	Unreconciled   []intervaldomain.Record     `json:"unreconciled_intervals"`
	Periods        []PeriodComparison          `json:"periods"`
}

type QuoteRequest struct {
	BillingLineID string
	StartTime     string
	EndTime       string
}

type QuoteResult struct {
	Minutes int                `json:"minutes"`
	Quote   ratingdomain.Quote `json:"quote"`
}
