package playtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Service contains the quota-engine logic over a Store and a Directory.
type Service struct {
	store         Store
	directory     Directory
	calendar      Calendar
	nowFn         func() time.Time
	defaultBudget BudgetSeconds
	logger        OperationLogger
}

// NewService wires a Service. defaultBudget is the system-wide fallback used
// when a player has no directory entry.
func NewService(store Store, directory Directory, calendar Calendar, now func() time.Time, defaultBudget BudgetSeconds, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: directory dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if defaultBudget <= 0 {
		return nil, fmt.Errorf("%w: default budget must be positive", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:         store,
		directory:     directory,
		calendar:      calendar,
		nowFn:         now,
		defaultBudget: defaultBudget,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Today resolves the current calendar day in the service time zone.
func (service *Service) Today() CalendarDay {
	return service.calendar.DayOf(service.nowFn())
}

// Report merges a usage report for (player, day) and returns the effective
// budget. The stored played time never decreases. claimedBudget is advisory
// only and never applied: a new record starts from the player's configured
// default, never from the client's claim.
func (service *Service) Report(ctx context.Context, player PlayerName, day CalendarDay, played PlayedSeconds, claimedBudget BudgetSeconds) (BudgetSeconds, error) {
	fallbackBudget, err := service.fallbackBudget(ctx, player)
	var record UsageRecord
	if err == nil {
		record, err = service.store.UpsertReport(ctx, player, day, played, fallbackBudget, service.nowFn().UTC().Unix())
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationReport,
		Player:    player,
		Day:       day,
		Played:    record.Played,
		Budget:    record.Budget,
		Error:     err,
	})
	if err != nil {
		return 0, err
	}
	return record.Budget, nil
}

// IncreaseBudget sets the absolute daily cap for a player's current day.
// Callers compose "current cap plus increment" before calling; this is not a
// delta. Administrator only.
func (service *Service) IncreaseBudget(ctx context.Context, viewer UserAccount, player PlayerName, newTotal BudgetSeconds) (UsageRecord, error) {
	record, err := service.adjustBudget(ctx, viewer, player, AdjustIncrease, newTotal)
	service.logOperation(ctx, OperationLog{
		Operation: operationIncrease,
		Player:    player,
		Day:       record.Day,
		Played:    record.Played,
		Budget:    record.Budget,
		Actor:     viewer.Name.String(),
		Error:     err,
	})
	return record, err
}

// StopPlaytime caps the player's budget at the time already played, using up
// the remaining allowance for the current day. Played time is untouched.
// Administrator only.
func (service *Service) StopPlaytime(ctx context.Context, viewer UserAccount, player PlayerName) (UsageRecord, error) {
	record, err := service.adjustBudget(ctx, viewer, player, AdjustStop, 0)
	service.logOperation(ctx, OperationLog{
		Operation: operationStop,
		Player:    player,
		Day:       record.Day,
		Played:    record.Played,
		Budget:    record.Budget,
		Actor:     viewer.Name.String(),
		Error:     err,
	})
	return record, err
}

func (service *Service) adjustBudget(ctx context.Context, viewer UserAccount, player PlayerName, action AdjustAction, newTotal BudgetSeconds) (UsageRecord, error) {
	if viewer.Role != RoleAdministrator {
		return UsageRecord{}, WrapError(string(action), "viewer", "forbidden", ErrPermissionDenied)
	}
	_, found, err := service.directory.Lookup(ctx, player)
	if err != nil {
		return UsageRecord{}, err
	}
	if !found {
		return UsageRecord{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, player.String())
	}

	day := service.Today()
	nowUnixUTC := service.nowFn().UTC().Unix()
	var updated UsageRecord
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, _, err := transactionStore.GetRecord(ctx, player, day)
		if err != nil {
			return err
		}
		budget := newTotal
		if action == AdjustStop {
			budget = BudgetSeconds(current.Played)
			if budget < 0 {
				budget = 0
			}
		}
		updated, err = transactionStore.SetBudget(ctx, player, day, budget, nowUnixUTC)
		if err != nil {
			return err
		}
		return transactionStore.RecordAdjustment(ctx, BudgetAdjustment{
			Player:         player,
			Day:            day,
			Action:         action,
			BudgetSeconds:  budget,
			Actor:          viewer.Name.String(),
			MetadataJSON:   adjustmentMetadata(current),
			CreatedUnixUTC: nowUnixUTC,
		})
	})
	if operationError != nil {
		return UsageRecord{}, operationError
	}
	return updated, nil
}

// SnapshotForViewer builds the dashboard view of one day. Administrators see
// every member (record or not); members see only themselves. Administrator
// accounts and records without a directory entry never appear.
func (service *Service) SnapshotForViewer(ctx context.Context, day CalendarDay, viewer UserAccount) (Snapshot, error) {
	users, err := service.directory.Load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	viewerIsAdmin := viewer.Role == RoleAdministrator

	players := make(map[PlayerName]PlayerStatus)
	for name, account := range users {
		if account.Role == RoleAdministrator {
			continue
		}
		if !viewerIsAdmin && name != viewer.Name {
			continue
		}
		players[name] = PlayerStatus{
			Played: 0,
			Budget: account.DefaultBudget,
		}
	}

	records, err := service.store.ListDay(ctx, day)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationSnapshot,
			Day:       day,
			Actor:     viewer.Name.String(),
			Error:     err,
		})
		return Snapshot{}, err
	}
	nowUnixUTC := service.nowFn().UTC().Unix()
	for _, record := range records {
		account, known := users[record.Player]
		if !known || account.Role == RoleAdministrator {
			continue
		}
		if !viewerIsAdmin && record.Player != viewer.Name {
			continue
		}
		minutes := (nowUnixUTC - record.UpdatedUnixUTC) / secondsPerMinute
		players[record.Player] = PlayerStatus{
			Played:             record.Played,
			Budget:             record.Budget,
			MinutesSinceUpdate: &minutes,
		}
	}

	service.logOperation(ctx, OperationLog{
		Operation: operationSnapshot,
		Day:       day,
		Actor:     viewer.Name.String(),
	})
	return Snapshot{Day: day, Players: players}, nil
}

// Authenticate matches a name and secret against the directory. The secret
// comparison is an exact match against the stored value.
func (service *Service) Authenticate(ctx context.Context, name PlayerName, secret string) (UserAccount, error) {
	account, found, err := service.directory.Lookup(ctx, name)
	if err != nil {
		return UserAccount{}, err
	}
	if !found || secret != account.Secret {
		err := WrapError(operationAuthenticate, "credential", "mismatch", ErrAuthenticationFailed)
		service.logOperation(ctx, OperationLog{
			Operation: operationAuthenticate,
			Player:    name,
			Error:     err,
		})
		return UserAccount{}, err
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationAuthenticate,
		Player:    name,
	})
	return account, nil
}

func (service *Service) fallbackBudget(ctx context.Context, player PlayerName) (BudgetSeconds, error) {
	account, found, err := service.directory.Lookup(ctx, player)
	if err != nil {
		return 0, err
	}
	if !found || account.DefaultBudget <= 0 {
		return service.defaultBudget, nil
	}
	return account.DefaultBudget, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func adjustmentMetadata(previous UsageRecord) string {
	raw, err := json.Marshal(map[string]int64{
		"previous_played_seconds": previous.Played.Int64(),
		"previous_budget_seconds": previous.Budget.Int64(),
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}
