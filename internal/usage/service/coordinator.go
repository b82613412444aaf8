package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/timesync/internal/cache"
	"github.com/smallbiznis/timesync/internal/clock"
	"github.com/smallbiznis/timesync/internal/config"
	"github.com/smallbiznis/timesync/internal/duration"
	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	obscontext "github.com/smallbiznis/timesync/internal/observability/context"
	"github.com/smallbiznis/timesync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/timesync/internal/observability/metrics"
	"github.com/smallbiznis/timesync/internal/observability/tracing"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	usagedomain "github.com/smallbiznis/timesync/internal/usage/domain"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const defaultReportTimeout = 15 * time.Second

// sync outcome labels
const (
	outcomeReported           = "reported"
	outcomeInvalid            = "invalid"
	outcomeRatingFailed       = "rating_failed"
	outcomePersistenceFailed  = "persistence_failed"
	outcomeCompensated        = "compensated"
	outcomeCompensationFailed = "compensation_failed"
	outcomeAmbiguous          = "ambiguous"
	outcomeReconcileFailed    = "reconcile_failed"
)

type CoordinatorParam struct {
	fx.In

	Config       config.Config
	Log          *zap.Logger
	Clock        clock.Clock
	Intervals    intervaldomain.Repository
	Reporter     usagereportdomain.Reporter
	Rating       ratingdomain.Service
	SummaryCache cache.SummaryCache  `optional:"true"`
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Coordinator struct {
	log    *zap.Logger
	tracer trace.Tracer

	clock         clock.Clock
	location      *time.Location
	reportTimeout time.Duration

	intervals    intervaldomain.Repository
	reporter     usagereportdomain.Reporter
	provider     string
	rating       ratingdomain.Service
	summaryCache cache.SummaryCache
	metrics      *obsmetrics.Metrics
}

func NewCoordinator(p CoordinatorParam) usagedomain.Coordinator {
	timeout := p.Config.Usage.ReportTimeout
	if timeout <= 0 {
		timeout = defaultReportTimeout
	}
	provider := "unknown"
	if named, ok := p.Reporter.(interface{ Name() string }); ok {
		provider = named.Name()
	}
	return &Coordinator{
		log:    p.Log.Named("usage.coordinator"),
		tracer: otel.Tracer("timesync/usage"),

		clock:         p.Clock,
		location:      p.Config.Location(),
		reportTimeout: timeout,

		intervals:    p.Intervals,
		reporter:     p.Reporter,
		provider:     provider,
		rating:       p.Rating,
		summaryCache: p.SummaryCache,
		metrics:      p.Metrics,
	}
}

type validatedRequest struct {
	customerID    string
	billingLineID string
	interval      duration.Interval
	description   string
}

// RecordAndReportUsage persists the interval unreconciled, reports it, then
// either reconciles it or deletes it. It never retries.
func (c *Coordinator) RecordAndReportUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (usagedomain.RecordUsageResult, error) {
	ctx, span := c.tracer.Start(ctx, "usage.RecordAndReportUsage")
	defer span.End()

	in, err := c.validate(req)
	if err != nil {
		c.finish(ctx, span, outcomeInvalid, err)
		return usagedomain.RecordUsageResult{}, err
	}
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("billing_line_id", in.billingLineID),
		attribute.Int("quantity", in.interval.Minutes),
	)...)

	quote, err := c.rating.Quote(ctx, in.billingLineID, int64(in.interval.Minutes))
	if err != nil {
		c.finish(ctx, span, outcomeRatingFailed, err)
		return usagedomain.RecordUsageResult{}, err
	}

	// Past validation the sequence must run to a definite end even if the
	// caller goes away; only the report itself is time-bounded.
	ctx = obscontext.WithCustomerID(context.WithoutCancel(ctx), in.customerID)
	log := logger.WithContext(ctx, c.log).With(zap.String("billing_line_id", in.billingLineID))

	record, err := c.persist(ctx, in, req.Metadata)
	if err != nil {
		log.Error("interval persist failed; nothing reported", persistenceFields(err)...)
		c.finish(ctx, span, outcomePersistenceFailed, err)
		return usagedomain.RecordUsageResult{}, err
	}
	log = log.With(zap.String("interval_record_id", record.ID.String()))

	reportedAt := c.clock.Now().UTC()
	result, err := c.report(ctx, record, reportedAt)
	if err != nil {
		outcome, failure := c.handleReportFailure(ctx, log, record, err)
		c.finish(ctx, span, outcome, failure)
		return usagedomain.RecordUsageResult{}, failure
	}
	c.invalidateSummaries(ctx, in.billingLineID)

	reconciled, err := c.reconcile(ctx, record, result.UsageRecordID, reportedAt)
	if err != nil {
		// The provider has the usage; the local row is the stale side.
		log.Error("usage reported but interval not reconciled",
			zap.String("usage_record_id", result.UsageRecordID),
			zap.Error(err),
		)
		failure := &usagedomain.ReconcileError{RecordID: record.ID, UsageRecordID: result.UsageRecordID, Err: err}
		c.finish(ctx, span, outcomeReconcileFailed, failure)
		return usagedomain.RecordUsageResult{Record: record, UsageRecordID: result.UsageRecordID, Quote: quote}, failure
	}

	log.Info("usage reported",
		zap.String("usage_record_id", result.UsageRecordID),
		zap.Int64("quantity", reconciled.Quantity),
	)
	c.finish(ctx, span, outcomeReported, nil)
	return usagedomain.RecordUsageResult{
		Record:        reconciled,
		UsageRecordID: result.UsageRecordID,
		Quote:         quote,
	}, nil
}

// Quote previews minutes and cost without side effects. A zero-length
// interval quotes zero.
func (c *Coordinator) Quote(ctx context.Context, req usagedomain.QuoteRequest) (usagedomain.QuoteResult, error) {
	var fields []usagedomain.FieldError
	line := strings.TrimSpace(req.BillingLineID)
	if err := usagereportdomain.ValidateBillingLineID(line); err != nil {
		fields = append(fields, usagedomain.FieldError{Field: "billing_line_id", Err: err})
	}
	start, end, clockFields := parseClockPair(req.StartTime, req.EndTime)
	fields = append(fields, clockFields...)
	if len(fields) > 0 {
		return usagedomain.QuoteResult{}, &usagedomain.ValidationError{Fields: fields}
	}

	minutes := duration.Minutes(start, end)
	quote, err := c.rating.Quote(ctx, line, int64(minutes))
	if err != nil {
		return usagedomain.QuoteResult{}, err
	}
	return usagedomain.QuoteResult{Minutes: minutes, Quote: quote}, nil
}

func (c *Coordinator) validate(req usagedomain.RecordUsageRequest) (validatedRequest, error) {
	var fields []usagedomain.FieldError

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		fields = append(fields, usagedomain.FieldError{Field: "customer_id", Err: usagedomain.ErrInvalidCustomer})
	}
	line := strings.TrimSpace(req.BillingLineID)
	if err := usagereportdomain.ValidateBillingLineID(line); err != nil {
		fields = append(fields, usagedomain.FieldError{Field: "billing_line_id", Err: err})
	}
	if utf8.RuneCountInString(req.Description) > usagedomain.MaxDescriptionLength {
		fields = append(fields, usagedomain.FieldError{Field: "description", Err: usagedomain.ErrDescriptionTooLong})
	}

	start, end, clockFields := parseClockPair(req.StartTime, req.EndTime)
	fields = append(fields, clockFields...)
	if len(clockFields) == 0 && duration.Minutes(start, end) <= 0 {
		fields = append(fields, usagedomain.FieldError{Field: "end_time", Err: usagedomain.ErrZeroDuration})
	}

	if len(fields) > 0 {
		return validatedRequest{}, &usagedomain.ValidationError{Fields: fields}
	}

	return validatedRequest{
		customerID:    customerID,
		billingLineID: line,
		interval:      duration.Resolve(c.anchorDate(req.Date), start, end),
		description:   strings.TrimSpace(req.Description),
	}, nil
}

func parseClockPair(startRaw, endRaw string) (duration.ClockTime, duration.ClockTime, []usagedomain.FieldError) {
	var fields []usagedomain.FieldError
	start, err := duration.ParseClockTime(startRaw)
	if err != nil {
		fields = append(fields, usagedomain.FieldError{Field: "start_time", Err: errors.Join(usagedomain.ErrInvalidStartTime, err)})
	}
	end, err := duration.ParseClockTime(endRaw)
	if err != nil {
		fields = append(fields, usagedomain.FieldError{Field: "end_time", Err: errors.Join(usagedomain.ErrInvalidEndTime, err)})
	}
	return start, end, fields
}

// anchorDate places the selected calendar day in the configured timezone.
func (c *Coordinator) anchorDate(date time.Time) time.Time {
	if date.IsZero() {
		date = c.clock.Now().In(c.location)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.location)
}

func (c *Coordinator) persist(ctx context.Context, in validatedRequest, extra map[string]any) (*intervaldomain.Record, error) {
	ctx, span := c.tracer.Start(ctx, "interval.create")
	defer span.End()

	// Caller keys go in first; provider and request_id are always ours.
	metadata := make(datatypes.JSONMap, len(extra)+2)
	for k, v := range extra {
		metadata[k] = v
	}
	metadata["provider"] = c.provider
	delete(metadata, "request_id")
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	record, err := c.intervals.Create(ctx, &intervaldomain.Record{
		CustomerID:    in.customerID,
		StartTime:     in.interval.StartAt.UTC(),
		EndTime:       in.interval.EndAt.UTC(),
		Quantity:      int64(in.interval.Minutes),
		Description:   in.description,
		BillingLineID: in.billingLineID,
		Metadata:      metadata,
	})
	if err != nil {
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	return record, nil
}

func (c *Coordinator) report(ctx context.Context, record *intervaldomain.Record, reportedAt time.Time) (usagereportdomain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reportTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "usage.report", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("provider", c.provider))

	start := time.Now()
	result, err := c.reporter.ReportUsage(ctx, usagereportdomain.Report{
		BillingLineID:  record.BillingLineID,
		Quantity:       record.Quantity,
		Timestamp:      reportedAt,
		IdempotencyKey: "interval_" + record.ID.String(),
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, "report failed")
	}
	c.metrics.ObserveReport(ctx, c.provider, outcome, time.Since(start))
	return result, err
}

func (c *Coordinator) reconcile(ctx context.Context, record *intervaldomain.Record, usageRecordID string, reportedAt time.Time) (*intervaldomain.Record, error) {
	ctx, span := c.tracer.Start(ctx, "interval.reconcile")
	defer span.End()

	updated, err := c.intervals.Update(ctx, record.ID, intervaldomain.Patch{
		UsageRecordID: usageRecordID,
		ReportedAt:    reportedAt,
	})
	if err != nil {
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, err
	}
	return updated, nil
}

// handleReportFailure decides between compensation and leaving the record
// in place. Only a definite failure is compensated.
func (c *Coordinator) handleReportFailure(ctx context.Context, log *zap.Logger, record *intervaldomain.Record, reportErr error) (string, error) {
	if isAmbiguous(reportErr) {
		log.Error("usage report outcome unknown; interval kept unreconciled for remediation", zap.Error(reportErr))
		return outcomeAmbiguous, &usagedomain.AmbiguousOutcomeError{RecordID: record.ID, Err: reportErr}
	}

	var remote *usagereportdomain.RemoteReportError
	if !errors.As(reportErr, &remote) {
		remote = &usagereportdomain.RemoteReportError{
			Provider: c.provider,
			Message:  reportErr.Error(),
			Err:      reportErr,
		}
	}

	ctx, span := c.tracer.Start(ctx, "interval.compensate")
	defer span.End()

	if err := c.intervals.Delete(ctx, record.ID); err != nil {
		span.SetStatus(codes.Error, "compensation failed")
		log.Error("compensation failed; orphaned unreconciled interval needs manual cleanup",
			zap.NamedError("report_error", remote),
			zap.NamedError("delete_error", err),
		)
		c.metrics.RecordCompensation(ctx, "failed")
		return outcomeCompensationFailed, &usagedomain.CompensationError{RecordID: record.ID, ReportErr: remote, DeleteErr: err}
	}

	log.Warn("usage report failed; interval rolled back",
		zap.String("provider_code", remote.ProviderCode),
		zap.Int("provider_status", remote.StatusCode),
		zap.Error(remote),
	)
	c.metrics.RecordCompensation(ctx, "deleted")
	return outcomeCompensated, remote
}

func (c *Coordinator) invalidateSummaries(ctx context.Context, billingLineID string) {
	if c.summaryCache != nil {
		c.summaryCache.Invalidate(ctx, billingLineID)
	}
}

func (c *Coordinator) finish(ctx context.Context, span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, outcome)
	}
	c.metrics.RecordSyncOutcome(ctx, outcome)
}

func isAmbiguous(err error) bool {
	return errors.Is(err, usagereportdomain.ErrOutcomeUnknown) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func persistenceFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var perr *intervaldomain.PersistenceError
	if errors.As(err, &perr) {
		fields = append(fields, zap.String("store_op", perr.Op), zap.String("store_reason", perr.Reason))
	}
	return fields
}
