package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/timesync/internal/cache"
	"github.com/smallbiznis/timesync/internal/config"
	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	"github.com/smallbiznis/timesync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/timesync/internal/observability/metrics"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	usagedomain "github.com/smallbiznis/timesync/internal/usage/domain"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultSummaryLimit = 10
	maxSummaryLimit     = 100
)

type AggregatorParam struct {
	fx.In

	Config       config.Config
	Log          *zap.Logger
	Intervals    intervaldomain.Repository
	Summaries    usagereportdomain.SummarySource
	Rating       ratingdomain.Service
	SummaryCache cache.SummaryCache  `optional:"true"`
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

// Aggregator exposes provider totals next to local intervals. It reports
// discrepancies but never acts on them.
type Aggregator struct {
	log    *zap.Logger
	tracer trace.Tracer

	defaultLimit int
	intervals    intervaldomain.Repository
	summaries    usagereportdomain.SummarySource
	rating       ratingdomain.Service
	cache        cache.SummaryCache
	metrics      *obsmetrics.Metrics
}

func NewAggregator(p AggregatorParam) usagedomain.Aggregator {
	limit := p.Config.Usage.SummaryDefaultLimit
	if limit <= 0 || limit > maxSummaryLimit {
		limit = defaultSummaryLimit
	}
	return &Aggregator{
		log:    p.Log.Named("usage.aggregator"),
		tracer: otel.Tracer("timesync/usage"),

		defaultLimit: limit,
		intervals:    p.Intervals,
		summaries:    p.Summaries,
		rating:       p.Rating,
		cache:        p.SummaryCache,
		metrics:      p.Metrics,
	}
}

func (a *Aggregator) Overview(ctx context.Context, billingLineID string, limit int) (usagedomain.UsageOverview, error) {
	ctx, span := a.tracer.Start(ctx, "usage.Overview")
	defer span.End()

	billingLineID = strings.TrimSpace(billingLineID)
	if err := usagereportdomain.ValidateBillingLineID(billingLineID); err != nil {
		return usagedomain.UsageOverview{}, &usagedomain.ValidationError{
			Fields: []usagedomain.FieldError{{Field: "billing_line_id", Err: err}},
		}
	}
	if limit <= 0 {
		limit = a.defaultLimit
	}
	if limit > maxSummaryLimit {
		limit = maxSummaryLimit
	}

	records, err := a.intervals.ListByBillingLine(ctx, billingLineID)
	if err != nil {
		return usagedomain.UsageOverview{}, err
	}

	overview := usagedomain.UsageOverview{
		BillingLineID: billingLineID,
		Summaries:     []usagereportdomain.Summary{},
		Reconciled:    []intervaldomain.Record{},
		Unreconciled:  []intervaldomain.Record{},
		Periods:       []usagedomain.PeriodComparison{},
	}
	for _, r := range records {
		if r.Reconciled() {
			overview.Reconciled = append(overview.Reconciled, r)
		} else {
			overview.Unreconciled = append(overview.Unreconciled, r)
		}
	}

	summaries, err := a.listSummaries(ctx, billingLineID, limit)
	if err != nil {
		logger.WithContext(ctx, a.log).Warn("usage summaries unavailable",
			zap.String("billing_line_id", billingLineID),
			zap.Error(err),
		)
		overview.SummariesError = err.Error()
		return overview, nil
	}
	overview.Summaries = summaries
	overview.Periods = comparePeriods(summaries, overview.Reconciled)
	return overview, nil
}

// ListCustomerIntervals returns the customer's intervals, most recent first,
// each with its cost and the latest provider summary of its billing line.
func (a *Aggregator) ListCustomerIntervals(ctx context.Context, customerID string) ([]usagedomain.IntervalView, error) {
	ctx, span := a.tracer.Start(ctx, "usage.ListCustomerIntervals")
	defer span.End()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, &usagedomain.ValidationError{
			Fields: []usagedomain.FieldError{{Field: "customer_id", Err: usagedomain.ErrInvalidCustomer}},
		}
	}

	records, err := a.intervals.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, a.log)
	latest := map[string]*usagereportdomain.Summary{}
	views := make([]usagedomain.IntervalView, 0, len(records))
	for _, r := range records {
		view := usagedomain.IntervalView{Record: r}

		if quote, err := a.rating.Quote(ctx, r.BillingLineID, r.Quantity); err == nil {
			view.Quote = &quote
		} else {
			log.Warn("cost unavailable", zap.String("interval_record_id", r.ID.String()), zap.Error(err))
		}

		summary, seen := latest[r.BillingLineID]
		if !seen {
			summaries, err := a.listSummaries(ctx, r.BillingLineID, 1)
			if err != nil {
				log.Warn("usage summary unavailable",
					zap.String("billing_line_id", r.BillingLineID),
					zap.Error(err),
				)
			} else if len(summaries) > 0 {
				summary = &summaries[0]
			}
			latest[r.BillingLineID] = summary
		}
		view.UsageSummary = summary

		views = append(views, view)
	}
	return views, nil
}

func (a *Aggregator) listSummaries(ctx context.Context, billingLineID string, limit int) ([]usagereportdomain.Summary, error) {
	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, billingLineID, limit); ok {
			a.metrics.RecordSummaryCache(ctx, "hit")
			return cached, nil
		}
		a.metrics.RecordSummaryCache(ctx, "miss")
	}

	summaries, err := a.summaries.ListUsageSummaries(ctx, billingLineID, limit)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Set(ctx, billingLineID, limit, summaries)
	}
	return summaries, nil
}

// comparePeriods buckets local reconciled usage by the time it was reported,
// which is the timestamp the provider files it under.
func comparePeriods(summaries []usagereportdomain.Summary, reconciled []intervaldomain.Record) []usagedomain.PeriodComparison {
	periods := make([]usagedomain.PeriodComparison, 0, len(summaries))
	for _, s := range summaries {
		var local int64
		for _, r := range reconciled {
			if r.ReportedAt == nil {
				continue
			}
			at := *r.ReportedAt
			if !at.Before(s.PeriodStart) && at.Before(s.PeriodEnd) {
				local += r.Quantity
			}
		}
		periods = append(periods, usagedomain.PeriodComparison{
			PeriodStart:   s.PeriodStart,
			PeriodEnd:     s.PeriodEnd,
			ReportedUnits: s.TotalUnits,
			LocalUnits:    local,
			Discrepancy:   s.TotalUnits - local,
		})
	}
	return periods
}
