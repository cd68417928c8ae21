package playtime

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) lastEntry(test *testing.T) OperationLog {
	test.Helper()
	if len(logger.entries) == 0 {
		test.Fatalf("expected at least one log entry")
	}
	return logger.entries[len(logger.entries)-1]
}

func TestReportLogsSuccess(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), newStubDirectory(alice), WithOperationLogger(logger))
	day := mustCalendarDay(test, "2024-01-01")

	if _, err := service.Report(context.Background(), alice.Name, day, mustPlayedSeconds(test, 120), mustBudgetSeconds(test, 1800)); err != nil {
		test.Fatalf("report: %v", err)
	}
	entry := logger.lastEntry(test)
	if entry.Operation != "report" || entry.Status != "ok" {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Player != alice.Name || entry.Played != 120 || entry.Budget != 1800 {
		test.Fatalf("unexpected entry fields: %+v", entry)
	}
}

func TestReportLogsFailureWithError(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	store := newStubStore(test)
	store.upsertError = errStoreBroken
	logger := &recorderLogger{}
	service := mustNewService(test, store, newStubDirectory(alice), WithOperationLogger(logger))
	day := mustCalendarDay(test, "2024-01-01")

	if _, err := service.Report(context.Background(), alice.Name, day, mustPlayedSeconds(test, 120), mustBudgetSeconds(test, 1800)); err == nil {
		test.Fatalf("expected report to fail")
	}
	entry := logger.lastEntry(test)
	if entry.Status != "error" {
		test.Fatalf("expected error status, got %q", entry.Status)
	}
	if !errors.Is(entry.Error, errStoreBroken) {
		test.Fatalf("expected logged cause, got %v", entry.Error)
	}
}

func TestAdjustmentLogsActor(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	admin := adminAccount(test, "bob")
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), newStubDirectory(alice, admin), WithOperationLogger(logger))

	if _, err := service.IncreaseBudget(context.Background(), admin, alice.Name, mustBudgetSeconds(test, 3600)); err != nil {
		test.Fatalf("increase: %v", err)
	}
	entry := logger.lastEntry(test)
	if entry.Operation != "increase" || entry.Actor != "bob" || entry.Budget != 3600 {
		test.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestAuthenticateLogsBothOutcomes(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), newStubDirectory(alice), WithOperationLogger(logger))

	if _, err := service.Authenticate(context.Background(), alice.Name, alice.Secret); err != nil {
		test.Fatalf("authenticate: %v", err)
	}
	if entry := logger.lastEntry(test); entry.Operation != "authenticate" || entry.Status != "ok" {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if _, err := service.Authenticate(context.Background(), alice.Name, "wrong"); err == nil {
		test.Fatalf("expected failure")
	}
	if entry := logger.lastEntry(test); entry.Status != "error" || !errors.Is(entry.Error, ErrAuthenticationFailed) {
		test.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestServiceWithoutLoggerStaysQuiet(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	service := mustNewService(test, newStubStore(test), newStubDirectory(alice))
	day := mustCalendarDay(test, "2024-01-01")

	if _, err := service.Report(context.Background(), alice.Name, day, mustPlayedSeconds(test, 1), mustBudgetSeconds(test, 1800)); err != nil {
		test.Fatalf("report: %v", err)
	}
}
