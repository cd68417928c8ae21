package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/soferio/minertimer/pkg/playtime"
)

const fallbackBudget = playtime.BudgetSeconds(1800)

func writeCredentialFile(test *testing.T, contents string) string {
	test.Helper()
	path := filepath.Join(test.TempDir(), "password")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		test.Fatalf("write credential file: %v", err)
	}
	return path
}

func mustName(test *testing.T, raw string) playtime.PlayerName {
	test.Helper()
	name, err := playtime.NewPlayerName(raw)
	if err != nil {
		test.Fatalf("player name %q: %v", raw, err)
	}
	return name
}

func TestLoadParsesAccounts(test *testing.T) {
	test.Parallel()
	path := writeCredentialFile(test, ""+
		"# local accounts\n"+
		"alice:hunter2:member:45\n"+
		"bob:letmein:admin\n"+
		"\n"+
		"carol:pass:member:not-a-number\n")
	fileDirectory := NewFileDirectory(path, fallbackBudget)

	accounts, err := fileDirectory.Load(context.Background())
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if len(accounts) != 3 {
		test.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	alice := accounts[mustName(test, "alice")]
	if alice.Secret != "hunter2" || alice.Role != playtime.RoleMember {
		test.Fatalf("unexpected alice: %+v", alice)
	}
	if alice.DefaultBudget != 45*60 {
		test.Fatalf("expected 2700 second budget, got %d", alice.DefaultBudget)
	}
	bob := accounts[mustName(test, "bob")]
	if bob.Role != playtime.RoleAdministrator || bob.DefaultBudget != fallbackBudget {
		test.Fatalf("unexpected bob: %+v", bob)
	}
	carol := accounts[mustName(test, "carol")]
	if carol.DefaultBudget != fallbackBudget {
		test.Fatalf("expected fallback for non-numeric minutes, got %d", carol.DefaultBudget)
	}
}

func TestLoadSkipsMalformedLines(test *testing.T) {
	test.Parallel()
	path := writeCredentialFile(test, ""+
		"only-two:fields\n"+
		"bad name:secret:member\n"+
		"../escape:secret:member\n"+
		"ok:secret:member\n")
	fileDirectory := NewFileDirectory(path, fallbackBudget)

	accounts, err := fileDirectory.Load(context.Background())
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if len(accounts) != 1 {
		test.Fatalf("expected only the valid line, got %d accounts", len(accounts))
	}
	if _, found := accounts[mustName(test, "ok")]; !found {
		test.Fatalf("expected the ok account to survive")
	}
}

func TestLoadMissingFileYieldsEmptyDirectory(test *testing.T) {
	test.Parallel()
	fileDirectory := NewFileDirectory(filepath.Join(test.TempDir(), "absent"), fallbackBudget)

	accounts, err := fileDirectory.Load(context.Background())
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if len(accounts) != 0 {
		test.Fatalf("expected empty directory, got %d accounts", len(accounts))
	}
}

func TestLoadTreatsUnknownRoleAsMember(test *testing.T) {
	test.Parallel()
	path := writeCredentialFile(test, "alice:secret:Administrator\n")
	fileDirectory := NewFileDirectory(path, fallbackBudget)

	accounts, err := fileDirectory.Load(context.Background())
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if accounts[mustName(test, "alice")].Role != playtime.RoleMember {
		test.Fatalf("expected unmatched role string to default to member")
	}
}

func TestLookupReflectsFileEdits(test *testing.T) {
	test.Parallel()
	path := writeCredentialFile(test, "alice:secret:member\n")
	fileDirectory := NewFileDirectory(path, fallbackBudget)
	alice := mustName(test, "alice")

	if _, found, err := fileDirectory.Lookup(context.Background(), alice); err != nil || !found {
		test.Fatalf("expected alice before edit, found=%v err=%v", found, err)
	}
	if err := os.WriteFile(path, []byte("bob:secret:member\n"), 0o600); err != nil {
		test.Fatalf("rewrite credential file: %v", err)
	}
	if _, found, err := fileDirectory.Lookup(context.Background(), alice); err != nil || found {
		test.Fatalf("expected alice to vanish after edit, found=%v err=%v", found, err)
	}
}
