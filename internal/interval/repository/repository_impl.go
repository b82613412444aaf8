package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/timesync/internal/interval/domain"
	pkgdb "github.com/smallbiznis/timesync/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func Provide(db *gorm.DB, genID *snowflake.Node) domain.Repository {
	return &repo{db: db, genID: genID}
}

func storeError(op string, id snowflake.ID, err error) *domain.PersistenceError {
	reason := pkgdb.Reason(err)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, domain.ErrInvalidRecord):
		reason = "invalid_record"
	}
	return &domain.PersistenceError{Op: op, ID: id, Reason: reason, Err: err}
}

func (r *repo) Create(ctx context.Context, record *domain.Record) (*domain.Record, error) {
	if record == nil {
		return nil, storeError("create", 0, domain.ErrInvalidRecord)
	}
	if strings.TrimSpace(record.CustomerID) == "" || strings.TrimSpace(record.BillingLineID) == "" || record.Quantity <= 0 {
		return nil, storeError("create", 0, domain.ErrInvalidRecord)
	}

	row := *record
	row.ID = r.genID.Generate()
	row.UsageRecordID = nil
	row.ReportedAt = nil
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, storeError("create", 0, err)
	}
	return &row, nil
}

func (r *repo) Update(ctx context.Context, id snowflake.ID, patch domain.Patch) (*domain.Record, error) {
	var row domain.Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Record{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"usage_record_id": patch.UsageRecordID,
				"reported_at":     patch.ReportedAt.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.First(&row, "id = ?", id).Error
	})
	if err != nil {
		return nil, storeError("update", id, err)
	}
	return &row, nil
}

func (r *repo) Delete(ctx context.Context, id snowflake.ID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Record{})
	if res.Error != nil {
		return storeError("delete", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storeError("delete", id, domain.ErrNotFound)
	}
	return nil
}

func (r *repo) ListByCustomer(ctx context.Context, customerID string) ([]domain.Record, error) {
	var rows []domain.Record
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("start_time desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, storeError("list_by_customer", 0, err)
	}
	return rows, nil
}

func (r *repo) ListByBillingLine(ctx context.Context, billingLineID string) ([]domain.Record, error) {
	var rows []domain.Record
	err := r.db.WithContext(ctx).
		Where("billing_line_id = ?", billingLineID).
		Order("start_time desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, storeError("list_by_billing_line", 0, err)
	}
	return rows, nil
}

func (r *repo) ListUnreconciled(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.Record
	err := r.db.WithContext(ctx).
		Where("usage_record_id IS NULL AND created_at < ?", createdBefore.UTC()).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storeError("list_unreconciled", 0, err)
	}
	return rows, nil
}

func (r *repo) CountUnreconciled(ctx context.Context, createdBefore time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("usage_record_id IS NULL AND created_at < ?", createdBefore.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, storeError("count_unreconciled", 0, err)
	}
	return count, nil
}
