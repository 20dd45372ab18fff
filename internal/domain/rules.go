package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Reward Rules ───────────────────────────────────────────────────────────
// Four independent admin-managed collections. Disabled rules never reach
// the evaluator.

// RuleKind tags a rule variant.
type RuleKind string

const (
	KindTeamReward       RuleKind = "team_reward"
	KindTeamSizeReward   RuleKind = "team_size_reward"
	KindSalary           RuleKind = "salary"
	KindCommunity        RuleKind = "community"
	KindTeamCommission   RuleKind = "team_commission"
	KindUplineCommission RuleKind = "upline_commission"
)

// TeamReward pays a flat bonus once L1–L3 business reaches a threshold.
type TeamReward struct {
	ID             string          `json:"id" toml:"id" validate:"required"`
	Name           string          `json:"name" toml:"name"`
	RequiredAmount decimal.Decimal `json:"required_amount" toml:"required_amount"`
	Level          int             `json:"level" toml:"level" validate:"gte=0"` // 0 means all tiers
	RewardAmount   decimal.Decimal `json:"reward_amount" toml:"reward_amount"`
	StartsAt       time.Time       `json:"starts_at" toml:"starts_at"`
	DurationDays   int             `json:"duration_days" toml:"duration_days" validate:"gte=0"` // 0 means open-ended
	Enabled        bool            `json:"enabled" toml:"enabled"`
}

// TeamSizeReward pays a flat bonus once enough L1–L3 members are active.
type TeamSizeReward struct {
	ID                    string          `json:"id" toml:"id" validate:"required"`
	Name                  string          `json:"name" toml:"name"`
	RequiredActiveMembers int             `json:"required_active_members" toml:"required_active_members" validate:"gte=0"`
	Level                 int             `json:"level" toml:"level" validate:"gte=0"`
	UserEmail             string          `json:"user_email,omitempty" toml:"user_email" validate:"omitempty,email"`
	RewardAmount          decimal.Decimal `json:"reward_amount" toml:"reward_amount"`
	Enabled               bool            `json:"enabled" toml:"enabled"`
}

// SalaryPackage pays a recurring flat amount once per period.
type SalaryPackage struct {
	ID         string          `json:"id" toml:"id" validate:"required"`
	Name       string          `json:"name" toml:"name"`
	Level      int             `json:"level" toml:"level" validate:"gte=0"`
	UserEmail  string          `json:"user_email,omitempty" toml:"user_email" validate:"omitempty,email"`
	Amount     decimal.Decimal `json:"amount" toml:"amount"`
	PeriodDays int             `json:"period_days" toml:"period_days" validate:"gte=0"`
	Enabled    bool            `json:"enabled" toml:"enabled"`
}

// CommunityRule pays a percentage of L4+ earnings.
type CommunityRule struct {
	ID                      string          `json:"id" toml:"id" validate:"required"`
	Name                    string          `json:"name" toml:"name"`
	RequiredLevel           int             `json:"required_level" toml:"required_level" validate:"gte=0"`
	RequiredDirectReferrals int             `json:"required_direct_referrals" toml:"required_direct_referrals" validate:"gte=0"`
	RequiredTeamSize        int             `json:"required_team_size" toml:"required_team_size" validate:"gte=0"`
	CommissionRate          decimal.Decimal `json:"commission_rate" toml:"commission_rate"` // percent
	Enabled                 bool            `json:"enabled" toml:"enabled"`
}

// RuleSet groups the four rule collections.
type RuleSet struct {
	TeamRewards     []TeamReward     `json:"team_rewards" toml:"team_rewards" validate:"dive"`
	TeamSizeRewards []TeamSizeReward `json:"team_size_rewards" toml:"team_size_rewards" validate:"dive"`
	Salaries        []SalaryPackage  `json:"salaries" toml:"salaries" validate:"dive"`
	Community       []CommunityRule  `json:"community" toml:"community" validate:"dive"`
}

// Enabled returns a copy containing only enabled rules.
func (rs RuleSet) Enabled() RuleSet {
	var out RuleSet
	for _, r := range rs.TeamRewards {
		if r.Enabled {
			out.TeamRewards = append(out.TeamRewards, r)
		}
	}
	for _, r := range rs.TeamSizeRewards {
		if r.Enabled {
			out.TeamSizeRewards = append(out.TeamSizeRewards, r)
		}
	}
	for _, r := range rs.Salaries {
		if r.Enabled {
			out.Salaries = append(out.Salaries, r)
		}
	}
	for _, r := range rs.Community {
		if r.Enabled {
			out.Community = append(out.Community, r)
		}
	}
	return out
}

// Count returns the total number of rules across collections.
func (rs RuleSet) Count() int {
	return len(rs.TeamRewards) + len(rs.TeamSizeRewards) + len(rs.Salaries) + len(rs.Community)
}

// ─── Commission Plan ────────────────────────────────────────────────────────

// CommissionPlan configures the percentage commissions that are not rule
// collections: per-layer team commission and upline commission.
type CommissionPlan struct {
	TeamMinLevel   int                `json:"team_min_level" toml:"team_min_level"`
	TeamRates      [3]decimal.Decimal `json:"team_rates" toml:"team_rates"` // L1, L2, L3 percent
	UplineMinLevel int                `json:"upline_min_level" toml:"upline_min_level"`
	UplineRate     decimal.Decimal    `json:"upline_rate" toml:"upline_rate"` // percent
}

// DefaultCommissionPlan returns the stock 10/5/2 team split and a 5% upline share.
func DefaultCommissionPlan() CommissionPlan {
	return CommissionPlan{
		TeamMinLevel: 1,
		TeamRates: [3]decimal.Decimal{
			decimal.NewFromInt(10),
			decimal.NewFromInt(5),
			decimal.NewFromInt(2),
		},
		UplineMinLevel: 1,
		UplineRate:     decimal.NewFromInt(5),
	}
}
