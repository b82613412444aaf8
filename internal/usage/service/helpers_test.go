package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/timesync/internal/clock"
	"github.com/smallbiznis/timesync/internal/config"
	intervaldomain "github.com/smallbiznis/timesync/internal/interval/domain"
	intervalrepo "github.com/smallbiznis/timesync/internal/interval/repository"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	ratingservice "github.com/smallbiznis/timesync/internal/rating/service"
	usagereportdomain "github.com/smallbiznis/timesync/internal/usagereport/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testLine = "si_NkVx2a9Qp1"

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) intervaldomain.Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&intervaldomain.Record{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return intervalrepo.Provide(db, node)
}

func setupRating(t *testing.T) ratingdomain.Service {
	t.Helper()
	holder, err := config.NewStaticRatesHolder(config.DefaultRatesConfig())
	require.NoError(t, err)
	return ratingservice.NewService(ratingservice.ServiceParam{Log: zap.NewNop(), Rates: holder})
}

func testConfig() config.Config {
	return config.Config{
		Timezone: "UTC",
		Usage: config.UsageConfig{
			ReportTimeout:       100 * time.Millisecond,
			SummaryDefaultLimit: 10,
		},
	}
}

func newTestClock() *clock.FakeClock {
	return clock.NewFakeClock(testNow)
}

type reporterMock struct {
	mock.Mock
}

func (m *reporterMock) Name() string { return "stub" }

func (m *reporterMock) ReportUsage(ctx context.Context, report usagereportdomain.Report) (usagereportdomain.Result, error) {
	args := m.Called(ctx, report)
	return args.Get(0).(usagereportdomain.Result), args.Error(1)
}

// reported returns the reports received so far, in call order.
func (m *reporterMock) reported() []usagereportdomain.Report {
	var out []usagereportdomain.Report
	for _, call := range m.Calls {
		if call.Method == "ReportUsage" {
			out = append(out, call.Arguments.Get(1).(usagereportdomain.Report))
		}
	}
	return out
}

func accepted(usageRecordID string, quantity int64) usagereportdomain.Result {
	return usagereportdomain.Result{UsageRecordID: usageRecordID, Quantity: quantity, Timestamp: testNow}
}

// faultyStore injects failures into one store operation.
type faultyStore struct {
	intervaldomain.Repository
	createErr error
	updateErr error
	deleteErr error
}

func (s *faultyStore) Create(ctx context.Context, r *intervaldomain.Record) (*intervaldomain.Record, error) {
	if s.createErr != nil {
		return nil, &intervaldomain.PersistenceError{Op: "create", Err: s.createErr}
	}
	return s.Repository.Create(ctx, r)
}

func (s *faultyStore) Update(ctx context.Context, id snowflake.ID, p intervaldomain.Patch) (*intervaldomain.Record, error) {
	if s.updateErr != nil {
		return nil, &intervaldomain.PersistenceError{Op: "update", ID: id, Err: s.updateErr}
	}
	return s.Repository.Update(ctx, id, p)
}

func (s *faultyStore) Delete(ctx context.Context, id snowflake.ID) error {
	if s.deleteErr != nil {
		return &intervaldomain.PersistenceError{Op: "delete", ID: id, Err: s.deleteErr}
	}
	return s.Repository.Delete(ctx, id)
}

type summaryMock struct {
	mock.Mock
}

func (m *summaryMock) ListUsageSummaries(ctx context.Context, billingLineID string, limit int) ([]usagereportdomain.Summary, error) {
	args := m.Called(ctx, billingLineID, limit)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.([]usagereportdomain.Summary), args.Error(1)
}
