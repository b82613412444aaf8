package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/timesync/internal/config"
	ratingdomain "github.com/smallbiznis/timesync/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log   *zap.Logger
	rates *config.RatesHolder
}

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Rates *config.RatesHolder
}

func NewService(p ServiceParam) ratingdomain.Service {
	return &Service{
		log:   p.Log.Named("rating.service"),
		rates: p.Rates,
	}
}

// Cost is quantity * rate, unrounded.
func Cost(quantity int64, unitAmount decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(quantity).Mul(unitAmount)
}

func (s *Service) RateFor(ctx context.Context, billingLineID string) (ratingdomain.Rate, error) {
	entry := s.rates.Lookup(strings.TrimSpace(billingLineID))
	amount, err := decimal.NewFromString(strings.TrimSpace(entry.UnitAmount))
	if err != nil || amount.IsNegative() {
		s.log.Error("configured rate is not a valid amount",
			zap.String("billing_line_id", billingLineID),
			zap.String("unit_amount", entry.UnitAmount),
		)
		return ratingdomain.Rate{}, fmt.Errorf("%w: %q", ratingdomain.ErrInvalidRate, entry.UnitAmount)
	}
	return ratingdomain.Rate{
		BillingLineID: billingLineID,
		UnitAmount:    amount,
		Currency:      strings.ToUpper(entry.Currency),
	}, nil
}

func (s *Service) Quote(ctx context.Context, billingLineID string, quantity int64) (ratingdomain.Quote, error) {
	if quantity < 0 {
		return ratingdomain.Quote{}, ratingdomain.ErrInvalidQuantity
	}
	rate, err := s.RateFor(ctx, billingLineID)
	if err != nil {
		return ratingdomain.Quote{}, err
	}
	return ratingdomain.Quote{
		Quantity:   quantity,
		UnitAmount: rate.UnitAmount,
		Cost:       Cost(quantity, rate.UnitAmount),
		Currency:   rate.Currency,
	}, nil
}
