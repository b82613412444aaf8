package domain

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Report is one usage increment against a billing line.
type Report struct {
	BillingLineID string
	Quantity      int64
	// Timestamp is the report time, not the interval's start or end.
	Timestamp      time.Time
	IdempotencyKey string
}

type Result struct {
	UsageRecordID string
	Quantity      int64
	Timestamp     time.Time
}

// Summary is a provider-side period total. It is display data only.
type Summary struct {
	ID            string    `json:"id"`
	BillingLineID string    `json:"billing_line_id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	TotalUnits    int64     `json:"total_units"`
	InvoiceID     string    `json:"invoice_id,omitempty"`
}

type Reporter interface {
	ReportUsage(ctx context.Context, report Report) (Result, error)
}

type SummarySource interface {
	// ListUsageSummaries returns up to limit summaries, newest period first.
	ListUsageSummaries(ctx context.Context, billingLineID string, limit int) ([]Summary, error)
}

// Provider is a metered-billing backend.
type Provider interface {
	Reporter
	SummarySource
	Name() string
}

type AdapterConfig struct {
	SecretKey  string
	APIBaseURL string
	HTTPClient *http.Client
	Log        *zap.Logger
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Provider, error)
}
