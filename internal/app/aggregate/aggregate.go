// Package aggregate rolls downline layers up into the summaries the
// eligibility evaluators consume.
package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/domain"
)

// Summarize aggregates one layer against the snapshot.
//
// Status is re-read from the snapshot rather than trusted from members,
// since it can change between building the tree and aggregating it.
// Members missing from the snapshot count toward Members only.
// Earnings include only active members' completions at or after cutoff.
func Summarize(members []domain.User, snap *domain.Snapshot, cutoff time.Time) domain.LayerSummary {
	s := domain.LayerSummary{
		TotalDeposits:       decimal.Zero,
		EarningsSinceCutoff: decimal.Zero,
	}
	for _, m := range members {
		s.Members++
		s.TotalDeposits = s.TotalDeposits.Add(snap.BalancesOf(m.Email).Total())

		live, ok := snap.User(m.Email)
		if !ok {
			continue
		}
		if live.ActivatedAt != nil && !live.ActivatedAt.Before(cutoff) {
			s.ActivationsSinceCutoff++
		}
		if !live.IsActive() {
			continue
		}
		s.Active++
		s.EarningsSinceCutoff = s.EarningsSinceCutoff.Add(Earnings(snap.CompletionsOf(m.Email), cutoff))
	}
	return s
}

// Earnings sums completed-task earnings at or after cutoff.
// A zero cutoff includes the whole log.
func Earnings(log []domain.TaskCompletion, cutoff time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range log {
		if c.CompletedAt.Before(cutoff) {
			continue
		}
		sum = sum.Add(c.Earned)
	}
	return sum
}

// Team is the rolled-up view of one user's downline for a single cutoff.
type Team struct {
	Layers    [3]domain.LayerSummary `json:"layers"`
	Total     domain.LayerSummary    `json:"total"`     // L1..L3
	Community domain.LayerSummary    `json:"community"` // L4+
}

// ActiveDirect returns the active L1 count.
func (t Team) ActiveDirect() int { return t.Layers[0].Active }

// Rollup summarizes every layer of tree and the L1–L3 total.
func Rollup(tree domain.Tree, snap *domain.Snapshot, cutoff time.Time) Team {
	var t Team
	t.Total = domain.LayerSummary{TotalDeposits: decimal.Zero, EarningsSinceCutoff: decimal.Zero}
	for i, layer := range tree.Layers() {
		t.Layers[i] = Summarize(layer, snap, cutoff)
		t.Total = t.Total.Add(t.Layers[i])
	}
	t.Community = Summarize(tree.Tail, snap, cutoff)
	return t
}
