package playtime

import (
	"context"
	"testing"
	"time"
)

const testNowUnixUTC = int64(1704103200) // 2024-01-01 10:00:00 UTC

func testNow() time.Time {
	return time.Unix(testNowUnixUTC, 0).UTC()
}

type stubStore struct {
	records     map[string]UsageRecord
	damaged     map[string]bool
	adjustments []BudgetAdjustment

	upsertError error
	getError    error
	setError    error
	listError   error
	adjustError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		records: make(map[string]UsageRecord),
		damaged: make(map[string]bool),
	}
}

func recordKey(player PlayerName, day CalendarDay) string {
	return player.String() + "|" + day.String()
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) UpsertReport(_ context.Context, player PlayerName, day CalendarDay, played PlayedSeconds, fallbackBudget BudgetSeconds, nowUnixUTC int64) (UsageRecord, error) {
	if store.upsertError != nil {
		return UsageRecord{}, store.upsertError
	}
	key := recordKey(player, day)
	record, exists := store.records[key]
	if !exists {
		record = UsageRecord{Player: player, Day: day, Budget: fallbackBudget}
	}
	if played > record.Played {
		record.Played = played
	}
	record.UpdatedUnixUTC = nowUnixUTC
	store.records[key] = record
	return record, nil
}

func (store *stubStore) GetRecord(_ context.Context, player PlayerName, day CalendarDay) (UsageRecord, LookupOutcome, error) {
	if store.getError != nil {
		return UsageRecord{}, LookupAbsent, store.getError
	}
	key := recordKey(player, day)
	if store.damaged[key] {
		return UsageRecord{}, LookupDamaged, nil
	}
	record, exists := store.records[key]
	if !exists {
		return UsageRecord{}, LookupAbsent, nil
	}
	return record, LookupFound, nil
}

func (store *stubStore) SetBudget(_ context.Context, player PlayerName, day CalendarDay, budget BudgetSeconds, nowUnixUTC int64) (UsageRecord, error) {
	if store.setError != nil {
		return UsageRecord{}, store.setError
	}
	key := recordKey(player, day)
	record, exists := store.records[key]
	if !exists {
		record = UsageRecord{Player: player, Day: day}
	}
	record.Budget = budget
	record.UpdatedUnixUTC = nowUnixUTC
	store.records[key] = record
	return record, nil
}

func (store *stubStore) ListDay(_ context.Context, day CalendarDay) ([]UsageRecord, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	records := make([]UsageRecord, 0, len(store.records))
	for key, record := range store.records {
		if record.Day == day && !store.damaged[key] {
			records = append(records, record)
		}
	}
	return records, nil
}

func (store *stubStore) RecordAdjustment(_ context.Context, adjustment BudgetAdjustment) error {
	if store.adjustError != nil {
		return store.adjustError
	}
	store.adjustments = append(store.adjustments, adjustment)
	return nil
}

func (store *stubStore) mustRecord(test *testing.T, player PlayerName, day CalendarDay) UsageRecord {
	test.Helper()
	record, exists := store.records[recordKey(player, day)]
	if !exists {
		test.Fatalf("expected record for %s on %s", player.String(), day.String())
	}
	return record
}

type stubDirectory struct {
	accounts    map[PlayerName]UserAccount
	lookupError error
}

func newStubDirectory(accounts ...UserAccount) *stubDirectory {
	indexed := make(map[PlayerName]UserAccount, len(accounts))
	for _, account := range accounts {
		indexed[account.Name] = account
	}
	return &stubDirectory{accounts: indexed}
}

func (directory *stubDirectory) Load(_ context.Context) (map[PlayerName]UserAccount, error) {
	if directory.lookupError != nil {
		return nil, directory.lookupError
	}
	return directory.accounts, nil
}

func (directory *stubDirectory) Lookup(_ context.Context, name PlayerName) (UserAccount, bool, error) {
	if directory.lookupError != nil {
		return UserAccount{}, false, directory.lookupError
	}
	account, found := directory.accounts[name]
	return account, found, nil
}

func mustPlayerName(test *testing.T, raw string) PlayerName {
	test.Helper()
	name, err := NewPlayerName(raw)
	if err != nil {
		test.Fatalf("player name %q: %v", raw, err)
	}
	return name
}

func mustCalendarDay(test *testing.T, raw string) CalendarDay {
	test.Helper()
	day, err := NewCalendarDay(raw)
	if err != nil {
		test.Fatalf("calendar day %q: %v", raw, err)
	}
	return day
}

func mustPlayedSeconds(test *testing.T, raw int64) PlayedSeconds {
	test.Helper()
	played, err := NewPlayedSeconds(raw)
	if err != nil {
		test.Fatalf("played seconds %d: %v", raw, err)
	}
	return played
}

func mustBudgetSeconds(test *testing.T, raw int64) BudgetSeconds {
	test.Helper()
	budget, err := NewBudgetSeconds(raw)
	if err != nil {
		test.Fatalf("budget seconds %d: %v", raw, err)
	}
	return budget
}

func memberAccount(test *testing.T, name string, defaultBudget int64) UserAccount {
	test.Helper()
	return UserAccount{
		Name:          mustPlayerName(test, name),
		Secret:        "secret-" + name,
		Role:          RoleMember,
		DefaultBudget: mustBudgetSeconds(test, defaultBudget),
	}
}

func adminAccount(test *testing.T, name string) UserAccount {
	test.Helper()
	return UserAccount{
		Name:          mustPlayerName(test, name),
		Secret:        "secret-" + name,
		Role:          RoleAdministrator,
		DefaultBudget: mustBudgetSeconds(test, 1800),
	}
}

func mustNewService(test *testing.T, store Store, directory Directory, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, directory, NewCalendar("UTC"), testNow, mustBudgetSeconds(test, 1800), options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}
