package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/soferio/minertimer/pkg/playtime"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	errorOperationStore     = "store"
	errorSubjectUsage       = "usage"
	errorSubjectAdjustment  = "adjustment"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeList           = "list"
	errorCodeSetBudget      = "set_budget"
	errorCodeUpsert         = "upsert"
	columnPlayer            = "player"
	columnDay               = "day"
	columnPlayedSeconds     = "played_seconds"
	columnBudgetSeconds     = "budget_seconds"
	columnUpdatedAt         = "updated_at"
	// The existing row's column must be table-qualified: inside postgres
	// DO UPDATE both the target table and excluded are in scope, so an
	// unqualified played_seconds is ambiguous there. SQLite accepts the
	// qualified form as well.
	keepGreaterPlayedClause = "CASE WHEN usage_records.played_seconds >= excluded.played_seconds THEN usage_records.played_seconds ELSE excluded.played_seconds END"
)

// Store implements playtime.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&UsageRecord{}, &BudgetAdjustment{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore playtime.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// UpsertReport merges a usage report in one conditional upsert. The stored
// played time only ever grows; the budget column is untouched on conflict so
// a client-claimed budget can never overwrite the authoritative cap.
func (store *Store) UpsertReport(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay, played playtime.PlayedSeconds, fallbackBudget playtime.BudgetSeconds, nowUnixUTC int64) (playtime.UsageRecord, error) {
	row := UsageRecord{
		Player:        player.String(),
		Day:           day.String(),
		PlayedSeconds: played.Int64(),
		BudgetSeconds: fallbackBudget.Int64(),
		LastUpdate:    time.Unix(nowUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: columnPlayer}, {Name: columnDay}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				columnPlayedSeconds: gorm.Expr(keepGreaterPlayedClause),
				columnUpdatedAt:     gorm.Expr("excluded." + columnUpdatedAt),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return playtime.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeUpsert, err)
	}
	return store.fetchRecord(ctx, player, day)
}

// GetRecord reads one (player, day) row. A row that fails to decode reports
// LookupDamaged with no error so the read path stays available.
func (store *Store) GetRecord(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay) (playtime.UsageRecord, playtime.LookupOutcome, error) {
	var row UsageRecord
	err := store.db.WithContext(ctx).
		Where("player = ? AND day = ?", player.String(), day.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return playtime.UsageRecord{}, playtime.LookupAbsent, nil
		}
		return playtime.UsageRecord{}, playtime.LookupAbsent, wrapStoreError(errorSubjectUsage, errorCodeGet, err)
	}
	record, err := mapUsageRecord(row)
	if err != nil {
		return playtime.UsageRecord{}, playtime.LookupDamaged, nil
	}
	return record, playtime.LookupFound, nil
}

// SetBudget rewrites the budget for a key, creating the row with zero played
// time when absent. Played time is never modified here.
func (store *Store) SetBudget(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay, budget playtime.BudgetSeconds, nowUnixUTC int64) (playtime.UsageRecord, error) {
	row := UsageRecord{
		Player:        player.String(),
		Day:           day.String(),
		PlayedSeconds: 0,
		BudgetSeconds: budget.Int64(),
		LastUpdate:    time.Unix(nowUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: columnPlayer}, {Name: columnDay}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				columnBudgetSeconds: gorm.Expr("excluded." + columnBudgetSeconds),
				columnUpdatedAt:     gorm.Expr("excluded." + columnUpdatedAt),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return playtime.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeSetBudget, err)
	}
	return store.fetchRecord(ctx, player, day)
}

// ListDay returns every decodable record for one day. Damaged rows are
// skipped, matching the availability-over-diagnosis read semantics.
func (store *Store) ListDay(ctx context.Context, day playtime.CalendarDay) ([]playtime.UsageRecord, error) {
	var rows []UsageRecord
	err := store.db.WithContext(ctx).
		Where("day = ?", day.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
	}
	records := make([]playtime.UsageRecord, 0, len(rows))
	for _, row := range rows {
		record, err := mapUsageRecord(row)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// RecordAdjustment appends one audit row for an administrative action.
func (store *Store) RecordAdjustment(ctx context.Context, adjustment playtime.BudgetAdjustment) error {
	row := BudgetAdjustment{
		AdjustmentID:  adjustment.AdjustmentID,
		Player:        adjustment.Player.String(),
		Day:           adjustment.Day.String(),
		Action:        string(adjustment.Action),
		BudgetSeconds: adjustment.BudgetSeconds.Int64(),
		Actor:         adjustment.Actor,
		Metadata:      datatypesJSON(adjustment.MetadataJSON),
		CreatedAt:     time.Unix(adjustment.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectAdjustment, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) fetchRecord(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay) (playtime.UsageRecord, error) {
	var row UsageRecord
	err := store.db.WithContext(ctx).
		Where("player = ? AND day = ?", player.String(), day.String()).
		Take(&row).Error
	if err != nil {
		return playtime.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeGet, err)
	}
	record, err := mapUsageRecord(row)
	if err != nil {
		return playtime.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeGet, err)
	}
	return record, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return playtime.WrapError(errorOperationStore, subject, code, err)
}

func mapUsageRecord(row UsageRecord) (playtime.UsageRecord, error) {
	player, err := playtime.NewPlayerName(row.Player)
	if err != nil {
		return playtime.UsageRecord{}, err
	}
	day, err := playtime.NewCalendarDay(row.Day)
	if err != nil {
		return playtime.UsageRecord{}, err
	}
	played, err := playtime.NewPlayedSeconds(row.PlayedSeconds)
	if err != nil {
		return playtime.UsageRecord{}, err
	}
	if row.BudgetSeconds < 0 {
		return playtime.UsageRecord{}, playtime.ErrInvalidBudgetSeconds
	}
	return playtime.UsageRecord{
		Player:         player,
		Day:            day,
		Played:         played,
		Budget:         playtime.BudgetSeconds(row.BudgetSeconds),
		UpdatedUnixUTC: row.LastUpdate.UTC().Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
