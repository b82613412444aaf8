package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Repository is the durable interval store. Every error it returns is a
// *PersistenceError.
type Repository interface {
	Create(ctx context.Context, record *Record) (*Record, error)
	Update(ctx context.Context, id snowflake.ID, patch Patch) (*Record, error)
	Delete(ctx context.Context, id snowflake.ID) error
	// ListByCustomer returns records most recent first.
	ListByCustomer(ctx context.Context, customerID string) ([]Record, error)
	ListByBillingLine(ctx context.Context, billingLineID string) ([]Record, error)
	// ListUnreconciled returns up to limit records created before the cutoff
	// that never received a usage record id, oldest first.
	ListUnreconciled(ctx context.Context, createdBefore time.Time, limit int) ([]Record, error)
	CountUnreconciled(ctx context.Context, createdBefore time.Time) (int64, error)
}

var (
	ErrNotFound      = errors.New("interval_not_found")
	ErrInvalidRecord = errors.New("invalid_interval_record")
)

// PersistenceError reports that the local store could not complete Op.
// Reason is a low-cardinality label such as "unique_violation" or "connection".
type PersistenceError struct {
	Op     string
	ID     snowflake.ID
	Reason string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("interval store %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("interval store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
