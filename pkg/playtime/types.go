package playtime

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// PlayedSeconds is the accumulated play time for one day, in seconds.
type PlayedSeconds int64

// BudgetSeconds is the daily allowance cap, in seconds.
type BudgetSeconds int64

// PlayerName identifies a tracked player.
type PlayerName struct {
	value string
}

// CalendarDay is a calendar date in the service time zone.
type CalendarDay struct {
	value string
}

const calendarDayLayout = "2006-01-02"

var playerNamePattern = regexp.MustCompile(`^\w+$`)

// NewPlayerName validates a player identifier (word characters only).
func NewPlayerName(raw string) (PlayerName, error) {
	if !playerNamePattern.MatchString(raw) {
		return PlayerName{}, fmt.Errorf("%w: %q", ErrInvalidPlayerName, raw)
	}
	return PlayerName{value: raw}, nil
}

// String returns the validated identifier.
func (name PlayerName) String() string {
	return name.value
}

// NewCalendarDay validates a strict YYYY-MM-DD date string.
func NewCalendarDay(raw string) (CalendarDay, error) {
	parsed, err := time.Parse(calendarDayLayout, raw)
	if err != nil {
		return CalendarDay{}, fmt.Errorf("%w: %q", ErrInvalidCalendarDay, raw)
	}
	if parsed.Format(calendarDayLayout) != raw {
		return CalendarDay{}, fmt.Errorf("%w: %q", ErrInvalidCalendarDay, raw)
	}
	return CalendarDay{value: raw}, nil
}

// String returns the normalized date string.
func (day CalendarDay) String() string {
	return day.value
}

// NewPlayedSeconds validates a non-negative play time.
func NewPlayedSeconds(raw int64) (PlayedSeconds, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidPlayedSeconds)
	}
	return PlayedSeconds(raw), nil
}

// Int64 returns the raw second count.
func (played PlayedSeconds) Int64() int64 {
	return int64(played)
}

// NewBudgetSeconds validates a strictly positive budget.
// A stop adjustment may still store a zero budget derived from played time.
func NewBudgetSeconds(raw int64) (BudgetSeconds, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidBudgetSeconds)
	}
	return BudgetSeconds(raw), nil
}

// Int64 returns the raw second count.
func (budget BudgetSeconds) Int64() int64 {
	return int64(budget)
}

// Role is the closed set of account roles.
type Role string

const (
	RoleMember        Role = "member"
	RoleAdministrator Role = "admin"
)

// ParseRole maps a directory role marker onto the closed enumeration.
// Only the administrator marker is significant; every other value is a member.
func ParseRole(raw string) Role {
	if raw == string(RoleAdministrator) {
		return RoleAdministrator
	}
	return RoleMember
}

// String returns the role marker.
func (role Role) String() string {
	return string(role)
}

// UserAccount is one entry of the credential directory.
type UserAccount struct {
	Name          PlayerName
	Secret        string
	Role          Role
	DefaultBudget BudgetSeconds
}

// UsageRecord is the durable per-(player, day) ledger state.
type UsageRecord struct {
	Player         PlayerName
	Day            CalendarDay
	Played         PlayedSeconds
	Budget         BudgetSeconds
	UpdatedUnixUTC int64
}

// TrackingState classifies a (player, day) key.
type TrackingState string

const (
	StateUnseen    TrackingState = "unseen"
	StateTracking  TrackingState = "tracking"
	StateExhausted TrackingState = "exhausted"
)

// State derives the tracking state from the stored pair.
func (record UsageRecord) State() TrackingState {
	if record.Played >= PlayedSeconds(record.Budget) {
		return StateExhausted
	}
	return StateTracking
}

// PlayerStatus is one row of a dashboard snapshot.
// MinutesSinceUpdate is nil when no record exists yet.
type PlayerStatus struct {
	Played             PlayedSeconds
	Budget             BudgetSeconds
	MinutesSinceUpdate *int64
}

// Exhausted reports whether the allowance for the day is used up.
func (status PlayerStatus) Exhausted() bool {
	return status.Played >= PlayedSeconds(status.Budget)
}

// Snapshot is the per-day usage view for one viewer.
type Snapshot struct {
	Day     CalendarDay
	Players map[PlayerName]PlayerStatus
}

// LookupOutcome names the result of a single-record read.
type LookupOutcome string

const (
	// LookupFound means a well-formed record exists.
	LookupFound LookupOutcome = "found"
	// LookupAbsent means no record exists for the key.
	LookupAbsent LookupOutcome = "absent"
	// LookupDamaged means a record exists but failed to decode; callers
	// must treat it exactly like LookupAbsent.
	LookupDamaged LookupOutcome = "damaged"
)

// AdjustAction enumerates budget adjustment modes.
type AdjustAction string

const (
	AdjustIncrease AdjustAction = "increase"
	AdjustStop     AdjustAction = "stop"
)

// BudgetAdjustment is the audit trail row written for every admin action.
type BudgetAdjustment struct {
	AdjustmentID   string
	Player         PlayerName
	Day            CalendarDay
	Action         AdjustAction
	BudgetSeconds  BudgetSeconds
	Actor          string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// UpsertReport merges a usage report in a single atomic statement:
	// it inserts (played, fallbackBudget) for a new key, or raises the
	// stored played time to max(stored, played) for an existing one. The
	// stored budget is never changed on conflict. Returns the post-write
	// record.
	UpsertReport(ctx context.Context, player PlayerName, day CalendarDay, played PlayedSeconds, fallbackBudget BudgetSeconds, nowUnixUTC int64) (UsageRecord, error)
	GetRecord(ctx context.Context, player PlayerName, day CalendarDay) (UsageRecord, LookupOutcome, error)
	// SetBudget rewrites the budget for a key, creating the record with
	// zero played time when absent. Played time is never touched.
	SetBudget(ctx context.Context, player PlayerName, day CalendarDay, budget BudgetSeconds, nowUnixUTC int64) (UsageRecord, error)
	ListDay(ctx context.Context, day CalendarDay) ([]UsageRecord, error)
	RecordAdjustment(ctx context.Context, adjustment BudgetAdjustment) error
}

// Directory resolves user accounts from the credential store. Implementations
// must re-read the backing store on every call so out-of-band edits take
// effect without a restart.
type Directory interface {
	Load(ctx context.Context) (map[PlayerName]UserAccount, error)
	Lookup(ctx context.Context, name PlayerName) (UserAccount, bool, error)
}
