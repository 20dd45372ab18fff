// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the engine and depends on nothing but money math.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── User Types ─────────────────────────────────────────────────────────────

// UserStatus is the soft account state. Users are never hard-deleted.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
	StatusDisabled UserStatus = "disabled"
)

// Valid reports whether s is one of the known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDisabled:
		return true
	}
	return false
}

// User is an identity and a node in the referral graph.
// Email is the natural key everywhere in the engine.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	ReferralCode  string     `json:"referral_code"`
	ReferredBy    string     `json:"referred_by,omitempty"` // Referral code of the upline, empty if organic
	Status        UserStatus `json:"status"`
	Activated     bool       `json:"activated"`
	OverrideLevel *int       `json:"override_level,omitempty"` // Manual tier; 0 is a valid override
	CreatedAt     time.Time  `json:"created_at"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
}

// IsActive reports whether the user currently counts as an active member.
func (u User) IsActive() bool { return u.Status == StatusActive }

// HasUpline reports whether the user was referred by someone.
func (u User) HasUpline() bool { return u.ReferredBy != "" }

// ─── Level Types ────────────────────────────────────────────────────────────

// Level is one tier definition. Tier 0 is the floor and has no requirements.
type Level struct {
	Number             int             `json:"number" toml:"number"`
	MinAmount          decimal.Decimal `json:"min_amount" toml:"min_amount"`
	Referrals          int             `json:"referrals" toml:"referrals"`
	DailyRate          decimal.Decimal `json:"daily_rate" toml:"daily_rate"` // percent
	TaskQuota          int             `json:"task_quota" toml:"task_quota"`
	MonthlyWithdrawals int             `json:"monthly_withdrawals" toml:"monthly_withdrawals"`
	MinWithdrawal      decimal.Decimal `json:"min_withdrawal" toml:"min_withdrawal"`
	MaxWithdrawal      decimal.Decimal `json:"max_withdrawal" toml:"max_withdrawal"` // zero means unbounded
	WithdrawalFee      decimal.Decimal `json:"withdrawal_fee" toml:"withdrawal_fee"` // percent
}

// LevelTable is the admin-configured list of tiers, in any order.
type LevelTable []Level

// Lookup returns the definition for tier n.
func (t LevelTable) Lookup(n int) (Level, bool) {
	for _, l := range t {
		if l.Number == n {
			return l, true
		}
	}
	return Level{}, false
}

// ─── Balance Types ──────────────────────────────────────────────────────────

// Balances holds a user's three sub-balances.
// Task and Interest are ring-fenced; Main is freely spendable.
type Balances struct {
	Email    string          `json:"email"`
	Main     decimal.Decimal `json:"main"`
	Task     decimal.Decimal `json:"task"`
	Interest decimal.Decimal `json:"interest"`
}

// Committed returns the ring-fenced total that drives tier gating.
func (b Balances) Committed() decimal.Decimal {
	return b.Task.Add(b.Interest)
}

// Total returns main + task + interest, the proxy for lifetime capital.
func (b Balances) Total() decimal.Decimal {
	return b.Main.Add(b.Task).Add(b.Interest)
}

// TaskCompletion is one logged, completed micro-task and what it earned.
type TaskCompletion struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Earned      decimal.Decimal `json:"earned"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ─── Downline Types ─────────────────────────────────────────────────────────

// Tree is the materialized downline of one user.
type Tree struct {
	Level1 []User `json:"level1"`
	Level2 []User `json:"level2"`
	Level3 []User `json:"level3"`
	Tail   []User `json:"tail"` // L4+ community
}

// Team returns L1, L2 and L3 concatenated.
func (t Tree) Team() []User {
	out := make([]User, 0, len(t.Level1)+len(t.Level2)+len(t.Level3))
	out = append(out, t.Level1...)
	out = append(out, t.Level2...)
	return append(out, t.Level3...)
}

// Layers returns L1..L3 as an indexable slice.
func (t Tree) Layers() [3][]User {
	return [3][]User{t.Level1, t.Level2, t.Level3}
}

// MemberView is a downline member enriched at read time.
type MemberView struct {
	Email       string     `json:"email"`
	Tier        int        `json:"tier"`
	Status      UserStatus `json:"status"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// LayerSummary is the ephemeral aggregate for one layer.
type LayerSummary struct {
	Members                int             `json:"members"`
	Active                 int             `json:"active"`
	TotalDeposits          decimal.Decimal `json:"total_deposits"`
	EarningsSinceCutoff    decimal.Decimal `json:"earnings_since_cutoff"`
	ActivationsSinceCutoff int             `json:"activations_since_cutoff"`
}

// Add merges another summary into this one.
func (s LayerSummary) Add(o LayerSummary) LayerSummary {
	return LayerSummary{
		Members:                s.Members + o.Members,
		Active:                 s.Active + o.Active,
		TotalDeposits:          s.TotalDeposits.Add(o.TotalDeposits),
		EarningsSinceCutoff:    s.EarningsSinceCutoff.Add(o.EarningsSinceCutoff),
		ActivationsSinceCutoff: s.ActivationsSinceCutoff + o.ActivationsSinceCutoff,
	}
}
