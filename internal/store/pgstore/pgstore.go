// Package pgstore implements playtime.Store directly on pgx for deployments
// that run PostgreSQL without the ORM layer.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/soferio/minertimer/pkg/playtime"
)

const (
	errorOperationStore    = "store"
	errorSubjectUsage      = "usage"
	errorSubjectAdjustment = "adjustment"
	errorSubjectSchema     = "schema"
	errorSubjectTx         = "transaction"
	errorCodeBegin         = "begin"
	errorCodeCommit        = "commit"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeList          = "list"
	errorCodeMigrate       = "migrate"
	errorCodeSetBudget     = "set_budget"
	errorCodeUpsert        = "upsert"

	sqlCreateSchema = `
		create table if not exists usage_records (
			player text not null,
			day text not null,
			played_seconds bigint not null,
			budget_seconds bigint not null,
			updated_at timestamptz not null,
			primary key (player, day)
		);
		create index if not exists idx_usage_day on usage_records(day);
		create table if not exists budget_adjustments (
			adjustment_id uuid primary key default gen_random_uuid(),
			player text not null,
			day text not null,
			action text not null,
			budget_seconds bigint not null,
			actor text not null,
			metadata jsonb not null default '{}',
			created_at timestamptz not null default now()
		);
		create index if not exists idx_adjustments_player_day on budget_adjustments(player, day);
	`

	// greatest() makes the monotonic merge a single atomic statement, so
	// two racing reports can never lose the larger played value.
	sqlUpsertReport = `
		insert into usage_records(player, day, played_seconds, budget_seconds, updated_at)
		values ($1, $2, $3, $4, to_timestamp($5))
		on conflict (player, day) do update set
			played_seconds = greatest(usage_records.played_seconds, excluded.played_seconds),
			updated_at = excluded.updated_at
		returning player, day, played_seconds, budget_seconds, extract(epoch from updated_at)::bigint
	`

	sqlSetBudget = `
		insert into usage_records(player, day, played_seconds, budget_seconds, updated_at)
		values ($1, $2, 0, $3, to_timestamp($4))
		on conflict (player, day) do update set
			budget_seconds = excluded.budget_seconds,
			updated_at = excluded.updated_at
		returning player, day, played_seconds, budget_seconds, extract(epoch from updated_at)::bigint
	`

	sqlSelectRecord = `
		select player, day, played_seconds, budget_seconds, extract(epoch from updated_at)::bigint
		from usage_records
		where player = $1 and day = $2
	`

	sqlListDay = `
		select player, day, played_seconds, budget_seconds, extract(epoch from updated_at)::bigint
		from usage_records
		where day = $1
	`

	sqlInsertAdjustment = `
		insert into budget_adjustments(adjustment_id, player, day, action, budget_seconds, actor, metadata, created_at)
		values (
			coalesce(nullif($1,'')::uuid, gen_random_uuid()),
			$2, $3, $4, $5, $6,
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8)
		)
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements playtime.Store using a pgx connection pool (autocommit);
// WithTx swaps the pool for an open transaction.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// Migrate creates the schema when it does not exist yet.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.q.Exec(ctx, sqlCreateSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore playtime.Store) error) error {
	if store.pool == nil {
		// Already inside a transaction; reuse it.
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) UpsertReport(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay, played playtime.PlayedSeconds, fallbackBudget playtime.BudgetSeconds, nowUnixUTC int64) (playtime.UsageRecord, error) {
	row := store.q.QueryRow(ctx, sqlUpsertReport, player.String(), day.String(), played.Int64(), fallbackBudget.Int64(), nowUnixUTC)
	record, err := scanRecord(row)
	if err != nil {
		return playtime.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeUpsert, err)
	}
	return record, nil
}

func (store *Store) GetRecord(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay) (playtime.UsageRecord, playtime.LookupOutcome, error) {
	row := store.q.QueryRow(ctx, sqlSelectRecord, player.String(), day.String())
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return playtime.UsageRecord{}, playtime.LookupAbsent, nil
		}
		if isDecodeFailure(err) {
			return playtime.UsageRecord{}, playtime.LookupDamaged, nil
		}
		return playtime.UsageRecord{}, playtime.LookupAbsent, wrapStoreError(errorSubjectUsage, errorCodeGet, err)
	}
	return record, playtime.LookupFound, nil
}

func (store *Store) SetBudget(ctx context.Context, player playtime.PlayerName, day playtime.CalendarDay, budget playtime.BudgetSeconds, nowUnixUTC int64) (playtime.UsageRecord, error) {
	row := store.q.QueryRow(ctx, sqlSetBudget, player.String(), day.String(), budget.Int64(), nowUnixUTC)
	record, err := scanRecord(row)
	if err != nil {
		return playtime.UsageRecord{}, wrapStoreError(errorSubjectUsage, errorCodeSetBudget, err)
	}
	return record, nil
}

func (store *Store) ListDay(ctx context.Context, day playtime.CalendarDay) ([]playtime.UsageRecord, error) {
	rows, err := store.q.Query(ctx, sqlListDay, day.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
	}
	defer rows.Close()

	records := make([]playtime.UsageRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			if isDecodeFailure(err) {
				continue
			}
			return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectUsage, errorCodeList, err)
	}
	return records, nil
}

func (store *Store) RecordAdjustment(ctx context.Context, adjustment playtime.BudgetAdjustment) error {
	_, err := store.q.Exec(ctx, sqlInsertAdjustment,
		adjustment.AdjustmentID,
		adjustment.Player.String(),
		adjustment.Day.String(),
		string(adjustment.Action),
		adjustment.BudgetSeconds.Int64(),
		adjustment.Actor,
		adjustment.MetadataJSON,
		adjustment.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAdjustment, errorCodeInsert, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (playtime.UsageRecord, error) {
	var (
		playerValue string
		dayValue    string
		playedValue int64
		budgetValue int64
		updatedUnix int64
	)
	if err := row.Scan(&playerValue, &dayValue, &playedValue, &budgetValue, &updatedUnix); err != nil {
		return playtime.UsageRecord{}, err
	}
	player, err := playtime.NewPlayerName(playerValue)
	if err != nil {
		return playtime.UsageRecord{}, err
	}
	day, err := playtime.NewCalendarDay(dayValue)
	if err != nil {
		return playtime.UsageRecord{}, err
	}
	played, err := playtime.NewPlayedSeconds(playedValue)
	if err != nil {
		return playtime.UsageRecord{}, err
	}
	if budgetValue < 0 {
		return playtime.UsageRecord{}, playtime.ErrInvalidBudgetSeconds
	}
	return playtime.UsageRecord{
		Player:         player,
		Day:            day,
		Played:         played,
		Budget:         playtime.BudgetSeconds(budgetValue),
		UpdatedUnixUTC: updatedUnix,
	}, nil
}

// isDecodeFailure separates "row exists but will not map onto the domain"
// from transport-level query failures; the former behaves as absent.
func isDecodeFailure(err error) bool {
	return errors.Is(err, playtime.ErrInvalidPlayerName) ||
		errors.Is(err, playtime.ErrInvalidCalendarDay) ||
		errors.Is(err, playtime.ErrInvalidPlayedSeconds) ||
		errors.Is(err, playtime.ErrInvalidBudgetSeconds)
}

func wrapStoreError(subject string, code string, err error) error {
	return playtime.WrapError(errorOperationStore, subject, code, err)
}
