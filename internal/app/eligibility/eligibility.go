// Package eligibility tests aggregated downline data against reward rules.
//
// Every evaluator checks its gates in a fixed order and stops at the first
// one that fails. An ineligible Result always carries a zero Amount; the
// amount is computed only after every gate has passed.
package eligibility

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/app/aggregate"
	"github.com/taskyield/taskyield/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Condition is one named gate and whether it held.
type Condition struct {
	Name string `json:"name"`
	Met  bool   `json:"met"`
}

// Result is the outcome of evaluating one rule for one user.
type Result struct {
	RuleID     string          `json:"rule_id"`
	Kind       domain.RuleKind `json:"kind"`
	Eligible   bool            `json:"eligible"`
	Amount     decimal.Decimal `json:"amount"`
	Conditions []Condition     `json:"conditions"`
}

// Upline describes the evaluating user's referrer.
type Upline struct {
	Email    string
	Active   bool
	Earnings decimal.Decimal // since the user's upline checkpoint
}

// Context is everything the evaluators know about one user.
type Context struct {
	Email string
	Tier  int
	Now   time.Time

	// Team is rolled up at the team checkpoint.
	Team aggregate.Team
	// CommunityEarnings is L4+ earnings since the community checkpoint.
	CommunityEarnings decimal.Decimal

	Upline *Upline              // nil when the referrer does not resolve
	Claims map[string]time.Time // claim marker → last claim
}

// ─── Result Builder ─────────────────────────────────────────────────────────

func newResult(id string, kind domain.RuleKind) *Result {
	return &Result{RuleID: id, Kind: kind, Amount: decimal.Zero}
}

// require records a gate and reports whether it held.
func (r *Result) require(name string, met bool) bool {
	r.Conditions = append(r.Conditions, Condition{Name: name, Met: met})
	return met
}

func (r *Result) deny() Result {
	r.Eligible = false
	r.Amount = decimal.Zero
	return *r
}

func (r *Result) grant(amount decimal.Decimal) Result {
	r.Eligible = true
	r.Amount = amount
	return *r
}

// ─── Shared Gates ───────────────────────────────────────────────────────────

// tierGate treats level 0 as open to every tier.
func tierGate(level, tier int) bool {
	return level == 0 || tier >= level
}

func userScope(scope, email string) bool {
	return scope == "" || strings.EqualFold(scope, email)
}

func (c Context) claimed(marker string) (time.Time, bool) {
	at, ok := c.Claims[marker]
	return at, ok
}

// percent returns base × rate / 100.
func percent(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

// ─── Evaluators ─────────────────────────────────────────────────────────────

// TeamReward pays rule.RewardAmount once when L1–L3 business reaches the
// threshold inside the claim window.
func TeamReward(rule domain.TeamReward, c Context) Result {
	r := newResult(rule.ID, domain.KindTeamReward)
	_, claimed := c.claimed(domain.ClaimMarker(domain.KindTeamReward, rule.ID))
	if !r.require("unclaimed", !claimed) ||
		!r.require("window_open", windowOpen(rule, c.Now)) ||
		!r.require("team_business", c.Team.Total.TotalDeposits.GreaterThanOrEqual(rule.RequiredAmount)) ||
		!r.require("tier", tierGate(rule.Level, c.Tier)) {
		return r.deny()
	}
	return r.grant(rule.RewardAmount)
}

// windowOpen reports whether now falls in the rule's claim window. A rule
// without a start date is open-ended.
func windowOpen(rule domain.TeamReward, now time.Time) bool {
	if rule.StartsAt.IsZero() {
		return true
	}
	if now.Before(rule.StartsAt) {
		return false
	}
	if rule.DurationDays == 0 {
		return true
	}
	return now.Before(rule.StartsAt.AddDate(0, 0, rule.DurationDays))
}

// TeamSizeReward pays rule.RewardAmount once when enough L1–L3 members
// are active.
func TeamSizeReward(rule domain.TeamSizeReward, c Context) Result {
	r := newResult(rule.ID, domain.KindTeamSizeReward)
	_, claimed := c.claimed(domain.ClaimMarker(domain.KindTeamSizeReward, rule.ID))
	if !r.require("unclaimed", !claimed) ||
		!r.require("active_members", c.Team.Total.Active >= rule.RequiredActiveMembers) ||
		!r.require("tier", tierGate(rule.Level, c.Tier)) ||
		!r.require("user_scope", userScope(rule.UserEmail, c.Email)) {
		return r.deny()
	}
	return r.grant(rule.RewardAmount)
}

// Salary pays rule.Amount once per PeriodDays. A package never claimed,
// or with a zero period, is always due.
func Salary(rule domain.SalaryPackage, c Context) Result {
	r := newResult(rule.ID, domain.KindSalary)
	if !r.require("tier", tierGate(rule.Level, c.Tier)) ||
		!r.require("user_scope", userScope(rule.UserEmail, c.Email)) ||
		!r.require("period_elapsed", c.periodElapsed(rule)) {
		return r.deny()
	}
	return r.grant(rule.Amount)
}

func (c Context) periodElapsed(rule domain.SalaryPackage) bool {
	last, ok := c.claimed(domain.ClaimMarker(domain.KindSalary, rule.ID))
	if !ok || rule.PeriodDays <= 0 {
		return true
	}
	return !c.Now.Before(last.AddDate(0, 0, rule.PeriodDays))
}

// Community pays a percentage of L4+ earnings since the community checkpoint.
func Community(rule domain.CommunityRule, c Context) Result {
	r := newResult(rule.ID, domain.KindCommunity)
	if !r.require("tier", c.Tier >= rule.RequiredLevel) ||
		!r.require("active_direct_referrals", c.Team.ActiveDirect() >= rule.RequiredDirectReferrals) ||
		!r.require("team_size", c.Team.Total.Members >= rule.RequiredTeamSize) {
		return r.deny()
	}
	return r.grant(percent(c.CommunityEarnings, rule.CommissionRate))
}

// TeamCommission pays each layer's earnings since the team checkpoint at
// that layer's rate.
func TeamCommission(plan domain.CommissionPlan, c Context) Result {
	r := newResult("team", domain.KindTeamCommission)
	if !r.require("tier", tierGate(plan.TeamMinLevel, c.Tier)) {
		return r.deny()
	}
	amount := decimal.Zero
	for i, layer := range c.Team.Layers {
		amount = amount.Add(percent(layer.EarningsSinceCutoff, plan.TeamRates[i]))
	}
	return r.grant(amount)
}

// UplineCommission pays a share of the referrer's earnings. A referral code
// that resolves to nobody is treated as having no upline.
func UplineCommission(plan domain.CommissionPlan, c Context) Result {
	r := newResult("upline", domain.KindUplineCommission)
	if !r.require("has_upline", c.Upline != nil) ||
		!r.require("upline_active", c.Upline.Active) ||
		!r.require("tier", tierGate(plan.UplineMinLevel, c.Tier)) {
		return r.deny()
	}
	return r.grant(percent(c.Upline.Earnings, plan.UplineRate))
}

// All evaluates every rule in rules plus both commissions, in a fixed order.
// Multiple rules of one kind may fire independently.
func All(rules domain.RuleSet, plan domain.CommissionPlan, c Context) []Result {
	out := make([]Result, 0, rules.Count()+2)
	for _, rule := range rules.TeamRewards {
		out = append(out, TeamReward(rule, c))
	}
	for _, rule := range rules.TeamSizeRewards {
		out = append(out, TeamSizeReward(rule, c))
	}
	for _, rule := range rules.Salaries {
		out = append(out, Salary(rule, c))
	}
	for _, rule := range rules.Community {
		out = append(out, Community(rule, c))
	}
	out = append(out, TeamCommission(plan, c))
	out = append(out, UplineCommission(plan, c))
	return out
}
