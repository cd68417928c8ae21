// Package directory loads user accounts from a colon-delimited credential
// file. The file is re-read on every call so hand edits take effect without
// a restart; there is deliberately no in-memory cache.
package directory

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/soferio/minertimer/pkg/playtime"
)

const (
	fieldDelimiter = ":"
	commentPrefix  = "#"
	minimumFields  = 3
)

// FileDirectory implements playtime.Directory over a flat file with one
// "name:secret:role[:default_minutes]" entry per line.
type FileDirectory struct {
	path           string
	fallbackBudget playtime.BudgetSeconds
}

// NewFileDirectory returns a directory reading the given file. fallbackBudget
// applies to entries without a usable default-minutes field.
func NewFileDirectory(path string, fallbackBudget playtime.BudgetSeconds) *FileDirectory {
	return &FileDirectory{path: path, fallbackBudget: fallbackBudget}
}

// Load parses the whole credential file. Blank lines, comment lines, lines
// with fewer than three fields, and lines with invalid identifiers are
// skipped. A missing file yields an empty directory, not an error.
func (directory *FileDirectory) Load(_ context.Context) (map[playtime.PlayerName]playtime.UserAccount, error) {
	accounts := make(map[playtime.PlayerName]playtime.UserAccount)
	file, err := os.Open(directory.path)
	if err != nil {
		return accounts, nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}
		fields := strings.Split(line, fieldDelimiter)
		if len(fields) < minimumFields {
			continue
		}
		name, err := playtime.NewPlayerName(fields[0])
		if err != nil {
			continue
		}
		accounts[name] = playtime.UserAccount{
			Name:          name,
			Secret:        fields[1],
			Role:          playtime.ParseRole(fields[2]),
			DefaultBudget: directory.defaultBudget(fields),
		}
	}
	if scanner.Err() != nil {
		return make(map[playtime.PlayerName]playtime.UserAccount), nil
	}
	return accounts, nil
}

// Lookup loads the file and resolves a single account.
func (directory *FileDirectory) Lookup(ctx context.Context, name playtime.PlayerName) (playtime.UserAccount, bool, error) {
	accounts, err := directory.Load(ctx)
	if err != nil {
		return playtime.UserAccount{}, false, err
	}
	account, found := accounts[name]
	return account, found, nil
}

// defaultBudget reads the optional fourth field as minutes. A missing or
// non-numeric value falls back to the system-wide default instead of failing
// the whole load.
func (directory *FileDirectory) defaultBudget(fields []string) playtime.BudgetSeconds {
	if len(fields) < minimumFields+1 {
		return directory.fallbackBudget
	}
	minutes, err := strconv.ParseInt(strings.TrimSpace(fields[minimumFields]), 10, 64)
	if err != nil || minutes <= 0 {
		return directory.fallbackBudget
	}
	return playtime.BudgetSeconds(minutes * 60)
}
