// Package memory is an in-process usage ledger for local development. It
// behaves like a metered-billing provider that never fails.
package memory

import (
	"context"
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/timesync/internal/usagereport/domain"
)

const providerName = "memory"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(domain.AdapterConfig) (domain.Provider, error) {
	return NewLedger(), nil
}

type entry struct {
	id        string
	quantity  int64
	timestamp time.Time
}

// Ledger keeps reported usage per billing line and totals it by calendar month.
type Ledger struct {
	mu          sync.Mutex
	entropy     *ulid.MonotonicEntropy
	lines       map[string][]entry
	idempotency map[string]domain.Result
}

func NewLedger() *Ledger {
	return &Ledger{
		entropy:     ulid.Monotonic(rand.Reader, 0),
		lines:       map[string][]entry{},
		idempotency: map[string]domain.Result{},
	}
}

func (l *Ledger) Name() string { return providerName }

func (l *Ledger) ReportUsage(ctx context.Context, report domain.Report) (domain.Result, error) {
	if err := domain.ValidateReport(report); err != nil {
		return domain.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := strings.TrimSpace(report.IdempotencyKey)
	if key != "" {
		if res, ok := l.idempotency[key]; ok {
			return res, nil
		}
	}

	ts := report.Timestamp.UTC()
	id := "mbur_" + ulid.MustNew(ulid.Timestamp(ts), l.entropy).String()
	l.lines[report.BillingLineID] = append(l.lines[report.BillingLineID], entry{
		id:        id,
		quantity:  report.Quantity,
		timestamp: ts,
	})

	res := domain.Result{UsageRecordID: id, Quantity: report.Quantity, Timestamp: ts}
	if key != "" {
		l.idempotency[key] = res
	}
	return res, nil
}

func (l *Ledger) ListUsageSummaries(ctx context.Context, billingLineID string, limit int) ([]domain.Summary, error) {
	if err := domain.ValidateBillingLineID(billingLineID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	totals := map[time.Time]int64{}
	for _, e := range l.lines[billingLineID] {
		start := time.Date(e.timestamp.Year(), e.timestamp.Month(), 1, 0, 0, 0, 0, time.UTC)
		totals[start] += e.quantity
	}

	summaries := make([]domain.Summary, 0, len(totals))
	for start, total := range totals {
		summaries = append(summaries, domain.Summary{
			ID:            "sis_" + billingLineID + "_" + start.Format("200601"),
			BillingLineID: billingLineID,
			PeriodStart:   start,
			PeriodEnd:     start.AddDate(0, 1, 0),
			TotalUnits:    total,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].PeriodStart.After(summaries[j].PeriodStart)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}
