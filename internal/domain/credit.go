package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Credit Types ───────────────────────────────────────────────────────────
// The engine never mutates balances itself. It emits Payouts; the ledger
// applies them and records an Activity.

// Category is the business reason attached to a balance movement.
type Category string

const (
	CategoryTeam           Category = "team"
	CategoryCommunity      Category = "community"
	CategoryUpline         Category = "upline"
	CategoryTeamReward     Category = "team_reward"
	CategoryTeamSizeReward Category = "team_size_reward"
	CategorySalary         Category = "salary"
	CategoryTask           Category = "task"
	CategoryDeposit        Category = "deposit"
	CategoryCommit         Category = "commit"
	CategoryWithdrawal     Category = "withdrawal"
)

// CommissionCategories are the categories that own a credit checkpoint.
var CommissionCategories = []Category{CategoryTeam, CategoryCommunity, CategoryUpline}

// CheckpointMarker returns the marker key holding a category's checkpoint.
func CheckpointMarker(c Category) string {
	return "checkpoint:" + string(c)
}

// ClaimMarker returns the marker key recording the last claim of a rule.
func ClaimMarker(kind RuleKind, ruleID string) string {
	return "claim:" + string(kind) + ":" + ruleID
}

// Payout is a credit instruction emitted by the engine.
//
// Marker/Expected form the optimistic guard: the ledger applies the payout
// only if the marker still holds Expected (zero time means "never set"),
// and advances it to At in the same transaction.
type Payout struct {
	Email       string          `json:"email"`
	Category    Category        `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Marker      string          `json:"marker"`
	Expected    time.Time       `json:"expected"`
	At          time.Time       `json:"at"`
}

// Activity is an immutable ledger log row.
type Activity struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Category    Category        `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
