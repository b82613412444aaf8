package domain

import (
	"context"
	"errors"
)

type Service interface {
	// RateFor resolves the rate configured for a billing line, falling back
	// to the default rate.
	RateFor(ctx context.Context, billingLineID string) (Rate, error)
	Quote(ctx context.Context, billingLineID string, quantity int64) (Quote, error)
}

var (
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrInvalidRate     = errors.New("invalid_rate")
)
