package stripe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/timesync/internal/usagereport/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

const providerName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

// NewAdapter builds a Stripe client owned by the adapter. The package-level
// stripe.Key is never set.
func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Provider, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	backendCfg := &stripego.BackendConfig{
		HTTPClient: httpClient,
		// The coordinator never retries; a transport retry here would be a
		// second billable attempt hidden from it.
		MaxNetworkRetries: stripego.Int64(0),
		EnableTelemetry:   stripego.Bool(false),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
		backendCfg.URL = stripego.String(strings.TrimRight(base, "/"))
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	return &Adapter{
		api: client.New(secret, &stripego.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
	}, nil
}

type Adapter struct {
	api *client.API
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) ReportUsage(ctx context.Context, report domain.Report) (domain.Result, error) {
	if err := domain.ValidateReport(report); err != nil {
		return domain.Result{}, err
	}

	params := &stripego.UsageRecordParams{
		SubscriptionItem: stripego.String(report.BillingLineID),
		Quantity:         stripego.Int64(report.Quantity),
		Timestamp:        stripego.Int64(report.Timestamp.Unix()),
		Action:           stripego.String(string(stripego.UsageRecordActionIncrement)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(report.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	record, err := a.api.UsageRecords.New(params)
	if err != nil {
		return domain.Result{}, translateError(ctx, err)
	}

	return domain.Result{
		UsageRecordID: record.ID,
		Quantity:      record.Quantity,
		Timestamp:     time.Unix(record.Timestamp, 0).UTC(),
	}, nil
}

func (a *Adapter) ListUsageSummaries(ctx context.Context, billingLineID string, limit int) ([]domain.Summary, error) {
	if err := domain.ValidateBillingLineID(billingLineID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	params := &stripego.UsageRecordSummaryListParams{
		SubscriptionItem: stripego.String(billingLineID),
	}
	params.Context = ctx
	params.Limit = stripego.Int64(int64(min(limit, 100)))

	summaries := make([]domain.Summary, 0, limit)
	iter := a.api.UsageRecordSummaries.List(params)
	for len(summaries) < limit && iter.Next() {
		s := iter.UsageRecordSummary()
		summary := domain.Summary{
			ID:            s.ID,
			BillingLineID: billingLineID,
			TotalUnits:    s.TotalUsage,
			InvoiceID:     s.Invoice,
		}
		if s.Period != nil {
			summary.PeriodStart = time.Unix(s.Period.Start, 0).UTC()
			summary.PeriodEnd = time.Unix(s.Period.End, 0).UTC()
		}
		summaries = append(summaries, summary)
	}
	if err := iter.Err(); err != nil {
		return nil, translateError(ctx, err)
	}
	return summaries, nil
}

// translateError separates "the provider said no" from "we do not know".
// Only a refusal Stripe answered, or a connection that never opened, is a
// definite failure; anything lost after the request left is ambiguous.
func translateError(ctx context.Context, err error) error {
	if isTimeout(ctx, err) {
		return errors.Join(domain.ErrOutcomeUnknown, err)
	}

	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		// Stripe documents a 500 api_error as indeterminate.
		if stripeErr.HTTPStatusCode == http.StatusInternalServerError && stripeErr.Type == stripego.ErrorTypeAPI {
			return errors.Join(domain.ErrOutcomeUnknown, err)
		}
		return &domain.RemoteReportError{
			Provider:     providerName,
			Message:      stripeErr.Msg,
			ProviderCode: string(stripeErr.Code),
			StatusCode:   stripeErr.HTTPStatusCode,
			Err:          err,
		}
	}

	if neverSent(err) {
		return &domain.RemoteReportError{
			Provider: providerName,
			Message:  err.Error(),
			Err:      err,
		}
	}
	return errors.Join(domain.ErrOutcomeUnknown, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// neverSent reports whether err happened before a connection existed, so no
// request byte can have reached Stripe.
func neverSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
