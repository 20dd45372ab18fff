// Package tier resolves a user's effective level from committed balance and
// direct referrals. Resolution is pure: the same snapshot and table always
// yield the same tier.
package tier

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/domain"
)

// Resolve returns the effective tier of u.
//
// A manual override wins, including an override of 0. Otherwise the table is
// scanned from the highest tier down, skipping tier 0, and the first tier
// whose balance AND referral thresholds are both met is returned.
// Direct referrals count organic signups plus purchased referral credits.
func Resolve(u domain.User, snap *domain.Snapshot, levels domain.LevelTable) int {
	if u.OverrideLevel != nil {
		return *u.OverrideLevel
	}
	committed := snap.BalancesOf(u.Email).Committed()
	return ResolveAmounts(committed, DirectReferrals(u, snap), nil, levels)
}

// ResolveAmounts is the threshold arithmetic behind Resolve.
func ResolveAmounts(committed decimal.Decimal, referrals int, override *int, levels domain.LevelTable) int {
	if override != nil {
		return *override
	}
	for _, l := range descending(levels) {
		if l.Number <= 0 {
			continue
		}
		if committed.GreaterThanOrEqual(l.MinAmount) && referrals >= l.Referrals {
			return l.Number
		}
	}
	return 0
}

// DirectReferrals counts users whose ReferredBy equals u's code, plus any
// purchased referral credits. Purchased credits are not capped.
func DirectReferrals(u domain.User, snap *domain.Snapshot) int {
	return len(snap.Referrals(u.ReferralCode)) + snap.PurchasedReferrals(u.Email)
}

// ResolveAll resolves every user in the snapshot, keyed by email.
func ResolveAll(snap *domain.Snapshot, levels domain.LevelTable) map[string]int {
	out := make(map[string]int, snap.Len())
	for _, u := range snap.Users() {
		out[u.Email] = Resolve(u, snap, levels)
	}
	return out
}

// Lookup returns the definition of tier n, or ErrLevelNotFound.
func Lookup(levels domain.LevelTable, n int) (domain.Level, error) {
	l, ok := levels.Lookup(n)
	if !ok {
		return domain.Level{}, domain.ErrLevelNotFound
	}
	return l, nil
}

func descending(levels domain.LevelTable) domain.LevelTable {
	out := make(domain.LevelTable, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out
}
