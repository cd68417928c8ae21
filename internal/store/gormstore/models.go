package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UsageRecord mirrors the usage_records table: one mutable row per
// (player, day) key.
type UsageRecord struct {
	Player        string    `gorm:"primaryKey"`
	Day           string    `gorm:"primaryKey;index:idx_usage_day"`
	PlayedSeconds int64     `gorm:"not null"`
	BudgetSeconds int64     `gorm:"not null"`
	LastUpdate    time.Time `gorm:"column:updated_at;not null"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// BudgetAdjustment mirrors the budget_adjustments audit table.
type BudgetAdjustment struct {
	AdjustmentID  string         `gorm:"type:uuid;primaryKey"`
	Player        string         `gorm:"not null;index:idx_adjustments_player_day,priority:1"`
	Day           string         `gorm:"not null;index:idx_adjustments_player_day,priority:2"`
	Action        string         `gorm:"not null"`
	BudgetSeconds int64          `gorm:"not null"`
	Actor         string         `gorm:"not null"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

func (BudgetAdjustment) TableName() string { return "budget_adjustments" }

func (adjustment *BudgetAdjustment) BeforeCreate(tx *gorm.DB) error {
	if adjustment.AdjustmentID == "" {
		adjustment.AdjustmentID = uuid.NewString()
	}
	return nil
}
