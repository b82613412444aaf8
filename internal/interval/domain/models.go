package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Record is one tracked work period for a customer. UsageRecordID is the
// single source of truth for reconciliation with the billing provider.
type Record struct {
	ID            snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CustomerID    string            `gorm:"type:varchar(255);not null;index:idx_interval_records_customer,priority:1" json:"customer_id"`
	StartTime     time.Time         `gorm:"not null;index:idx_interval_records_customer,priority:2" json:"start_time"`
	EndTime       time.Time         `gorm:"not null" json:"end_time"`
	Quantity      int64             `gorm:"not null" json:"quantity"`
	Description   string            `gorm:"type:text" json:"description,omitempty"`
	BillingLineID string            `gorm:"type:varchar(255);not null;index" json:"billing_line_id"`
	UsageRecordID *string           `gorm:"type:varchar(255)" json:"usage_record_id"`
	ReportedAt    *time.Time        `json:"reported_at,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string { return "interval_records" }

func (r *Record) Reconciled() bool {
	return r != nil && r.UsageRecordID != nil && *r.UsageRecordID != ""
}

// Patch is the only mutation a record ever receives: the reconcile step.
type Patch struct {
	UsageRecordID string
	ReportedAt    time.Time
}
