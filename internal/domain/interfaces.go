package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Provider Interfaces ────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// UserDirectory supplies and maintains user records.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, email string) (User, error)
	GetUserByCode(ctx context.Context, code string) (User, error)
	InsertUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
	PurchasedReferrals(ctx context.Context) (map[string]int, error)
	AddPurchasedReferrals(ctx context.Context, email string, n int) (int, error)
}

// LevelProvider supplies the admin-editable tier table.
type LevelProvider interface {
	ListLevels(ctx context.Context) (LevelTable, error)
	ReplaceLevels(ctx context.Context, levels LevelTable) error
}

// RuleProvider supplies the four reward rule collections.
type RuleProvider interface {
	ListRules(ctx context.Context) (RuleSet, error)
	ReplaceRules(ctx context.Context, rules RuleSet) error
}

// BalanceStore reads sub-balances and the completed-task log.
type BalanceStore interface {
	GetBalances(ctx context.Context, email string) (Balances, error)
	ListBalances(ctx context.Context) (map[string]Balances, error)
	ListCompletions(ctx context.Context, since time.Time) (map[string][]TaskCompletion, error)
}

// MarkerStore reads per-user checkpoints and claim records.
// A zero time with ok=false means the marker was never set.
type MarkerStore interface {
	GetMarker(ctx context.Context, email, marker string) (at time.Time, ok bool, err error)
	ListMarkers(ctx context.Context, email string) (map[string]time.Time, error)
}

// Crediter applies a Payout atomically: balance, activity and marker advance
// commit together or not at all.
type Crediter interface {
	Credit(ctx context.Context, p Payout) (Activity, error)
}

// Ledger performs wallet fund movements and exposes the activity log.
type Ledger interface {
	Move(ctx context.Context, m Movement) (Balances, error)
	ListActivity(ctx context.Context, email string, limit int) ([]Activity, error)
	CountActivitySince(ctx context.Context, email string, c Category, since time.Time) (int, error)
	CountCompletionsSince(ctx context.Context, email string, since time.Time) (int, error)
}

// Movement is a signed change to a user's sub-balances.
// The ledger rejects any movement that would leave a sub-balance negative.
type Movement struct {
	Email       string
	Main        decimal.Decimal
	Task        decimal.Decimal
	Interest    decimal.Decimal
	Category    Category
	Amount      decimal.Decimal // Amount recorded on the activity row
	Description string
	Completion  *TaskCompletion // Logged alongside the movement when set
	At          time.Time
}

// EngineStore is everything an evaluation pass reads or writes.
type EngineStore interface {
	UserDirectory
	LevelProvider
	RuleProvider
	BalanceStore
	MarkerStore
	Crediter
}
