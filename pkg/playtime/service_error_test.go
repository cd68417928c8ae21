package playtime

import (
	"context"
	"errors"
	"testing"
)

var errStoreBroken = errors.New("store broken")

func TestAdjustmentsRequireAdministrator(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	carol := memberAccount(test, "carol", 1800)
	store := newStubStore(test)
	service := mustNewService(test, store, newStubDirectory(alice, carol))

	if _, err := service.IncreaseBudget(context.Background(), alice, carol.Name, mustBudgetSeconds(test, 3600)); !errors.Is(err, ErrPermissionDenied) {
		test.Fatalf("expected ErrPermissionDenied on increase, got %v", err)
	}
	if _, err := service.StopPlaytime(context.Background(), alice, carol.Name); !errors.Is(err, ErrPermissionDenied) {
		test.Fatalf("expected ErrPermissionDenied on stop, got %v", err)
	}
	if len(store.adjustments) != 0 {
		test.Fatalf("expected no audit rows, got %d", len(store.adjustments))
	}
}

func TestAdjustmentRejectsUnknownPlayer(test *testing.T) {
	test.Parallel()
	admin := adminAccount(test, "bob")
	store := newStubStore(test)
	service := mustNewService(test, store, newStubDirectory(admin))
	ghost := mustPlayerName(test, "ghost")

	if _, err := service.IncreaseBudget(context.Background(), admin, ghost, mustBudgetSeconds(test, 3600)); !errors.Is(err, ErrUnknownPlayer) {
		test.Fatalf("expected ErrUnknownPlayer, got %v", err)
	}
}

func TestReportPropagatesStoreFailure(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	store := newStubStore(test)
	store.upsertError = errStoreBroken
	service := mustNewService(test, store, newStubDirectory(alice))
	day := mustCalendarDay(test, "2024-01-01")

	if _, err := service.Report(context.Background(), alice.Name, day, mustPlayedSeconds(test, 100), mustBudgetSeconds(test, 1800)); !errors.Is(err, errStoreBroken) {
		test.Fatalf("expected wrapped store failure, got %v", err)
	}
}

func TestAdjustmentRollsBackWhenAuditFails(test *testing.T) {
	test.Parallel()
	alice := memberAccount(test, "alice", 1800)
	admin := adminAccount(test, "bob")
	store := newStubStore(test)
	store.adjustError = errStoreBroken
	service := mustNewService(test, store, newStubDirectory(alice, admin))

	if _, err := service.IncreaseBudget(context.Background(), admin, alice.Name, mustBudgetSeconds(test, 3600)); !errors.Is(err, errStoreBroken) {
		test.Fatalf("expected wrapped audit failure, got %v", err)
	}
}

func TestSnapshotPropagatesDirectoryFailure(test *testing.T) {
	test.Parallel()
	admin := adminAccount(test, "bob")
	directory := newStubDirectory(admin)
	directory.lookupError = errStoreBroken
	service := mustNewService(test, newStubStore(test), directory)
	day := mustCalendarDay(test, "2024-01-01")

	if _, err := service.SnapshotForViewer(context.Background(), day, admin); !errors.Is(err, errStoreBroken) {
		test.Fatalf("expected wrapped directory failure, got %v", err)
	}
}

func TestSnapshotPropagatesListFailure(test *testing.T) {
	test.Parallel()
	admin := adminAccount(test, "bob")
	store := newStubStore(test)
	store.listError = errStoreBroken
	service := mustNewService(test, store, newStubDirectory(admin))
	day := mustCalendarDay(test, "2024-01-01")

	if _, err := service.SnapshotForViewer(context.Background(), day, admin); !errors.Is(err, errStoreBroken) {
		test.Fatalf("expected wrapped list failure, got %v", err)
	}
}

func TestNewServiceRejectsMissingDependencies(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory()
	calendar := NewCalendar("UTC")
	defaultBudget := mustBudgetSeconds(test, 1800)

	cases := []struct {
		name  string
		build func() (*Service, error)
	}{
		{name: "nil store", build: func() (*Service, error) {
			return NewService(nil, directory, calendar, testNow, defaultBudget)
		}},
		{name: "nil directory", build: func() (*Service, error) {
			return NewService(store, nil, calendar, testNow, defaultBudget)
		}},
		{name: "nil clock", build: func() (*Service, error) {
			return NewService(store, directory, calendar, nil, defaultBudget)
		}},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := testCase.build(); !errors.Is(err, ErrInvalidServiceConfig) {
				test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
			}
		})
	}
}

func TestOperationErrorCarriesContext(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("report", "alice", "storage_failure", errStoreBroken)
	if !errors.Is(wrapped, errStoreBroken) {
		test.Fatalf("expected wrapped cause to survive errors.Is")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != "report" || operationError.Subject() != "alice" || operationError.Code() != "storage_failure" {
		test.Fatalf("unexpected operation error: %v", operationError)
	}
}
