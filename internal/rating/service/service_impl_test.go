package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/timesync/internal/config"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, cfg config.RatesConfig) ratingdomain.Service {
	t.Helper()
	holder, err := config.NewStaticRatesHolder(cfg)
	require.NoError(t, err)
	return NewService(ServiceParam{
		Log:   zap.NewNop(),
		Rates: holder,
	})
}

func TestCostIsExact(t *testing.T) {
	cost := Cost(45, decimal.RequireFromString("0.84"))
	assert.Equal(t, "37.8", cost.String())

	// 7 * 0.333 = 2.331 stays exact; rounding only happens for display.
	cost = Cost(7, decimal.RequireFromString("0.333"))
	assert.Equal(t, "2.331", cost.String())
}

func TestQuoteDefaultRateScenario(t *testing.T) {
	svc := newTestService(t, config.DefaultRatesConfig())

	q, err := svc.Quote(context.Background(), "si_Anything123", 45)
	require.NoError(t, err)

	assert.Equal(t, int64(45), q.Quantity)
	assert.Equal(t, "37.80", q.DisplayCost())
	assert.Equal(t, "AUD", q.Currency)
}

func TestQuoteUsesLineOverride(t *testing.T) {
	cfg := config.DefaultRatesConfig()
	cfg.Lines = []config.RateEntry{{BillingLineID: "si_Premium01", UnitAmount: "1.5", Currency: "usd"}}
	svc := newTestService(t, cfg)

	q, err := svc.Quote(context.Background(), "si_Premium01", 20)
	require.NoError(t, err)
	assert.Equal(t, "30.00", q.DisplayCost())
	assert.Equal(t, "USD", q.Currency)

	q, err = svc.Quote(context.Background(), "si_Standard1", 20)
	require.NoError(t, err)
	assert.Equal(t, "16.80", q.DisplayCost())
}

func TestQuoteDisplayRoundsHalfUp(t *testing.T) {
	cfg := config.DefaultRatesConfig()
	cfg.Default.UnitAmount = "0.335"
	svc := newTestService(t, cfg)

	q, err := svc.Quote(context.Background(), "si_X1", 1)
	require.NoError(t, err)
	assert.Equal(t, "0.335", q.Cost.String())
	assert.Equal(t, "0.34", q.DisplayCost())
}

func TestQuoteRejectsNegativeQuantity(t *testing.T) {
	svc := newTestService(t, config.DefaultRatesConfig())

	_, err := svc.Quote(context.Background(), "si_X1", -1)
	assert.ErrorIs(t, err, ratingdomain.ErrInvalidQuantity)
}

func TestQuoteJSON(t *testing.T) {
	q := ratingdomain.Quote{
		Quantity:   45,
		UnitAmount: decimal.RequireFromString("0.84"),
		Cost:       Cost(45, decimal.RequireFromString("0.84")),
		Currency:   "AUD",
	}
	raw, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"quantity":45,"unit_amount":"0.84","cost":"37.80","currency":"AUD"}`, string(raw))
}
