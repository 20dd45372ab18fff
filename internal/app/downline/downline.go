// Package downline materializes a user's referral tree from a flat snapshot.
//
// Layers L1..L3 hold the first three generations; everything beyond is the
// community tail. One visited set, seeded with the evaluating user, is
// shared across every generation so that malformed or cyclic referral data
// can neither loop forever nor place a user in their own downline.
package downline

import (
	"github.com/taskyield/taskyield/internal/app/tier"
	"github.com/taskyield/taskyield/internal/domain"
)

// Build returns the downline tree of u. Member order follows snapshot order.
func Build(u domain.User, snap *domain.Snapshot) domain.Tree {
	w := walker{snap: snap, visited: map[string]bool{u.Email: true}}

	var t domain.Tree
	t.Level1 = w.next([]domain.User{u})
	t.Level2 = w.next(t.Level1)
	t.Level3 = w.next(t.Level2)

	gen := t.Level3
	for len(gen) > 0 {
		gen = w.next(gen)
		t.Tail = append(t.Tail, gen...)
	}
	return t
}

type walker struct {
	snap    *domain.Snapshot
	visited map[string]bool
}

// next returns the unvisited direct referrals of every user in gen.
func (w *walker) next(gen []domain.User) []domain.User {
	var out []domain.User
	for _, parent := range gen {
		for _, child := range w.snap.Referrals(parent.ReferralCode) {
			if w.visited[child.Email] {
				continue
			}
			w.visited[child.Email] = true
			out = append(out, child)
		}
	}
	return out
}

// Enrich attaches live tier and status to each member. Records are re-read
// from the snapshot, so a stale member copy never leaks into the view.
func Enrich(members []domain.User, snap *domain.Snapshot, levels domain.LevelTable) []domain.MemberView {
	out := make([]domain.MemberView, 0, len(members))
	for _, m := range members {
		live, ok := snap.User(m.Email)
		if !ok {
			live = m
		}
		out = append(out, domain.MemberView{
			Email:       live.Email,
			Tier:        tier.Resolve(live, snap, levels),
			Status:      live.Status,
			ActivatedAt: live.ActivatedAt,
		})
	}
	return out
}

// View is the enriched, serializable form of a Tree.
type View struct {
	Email  string              `json:"email"`
	Level1 []domain.MemberView `json:"level1"`
	Level2 []domain.MemberView `json:"level2"`
	Level3 []domain.MemberView `json:"level3"`
	Tail   []domain.MemberView `json:"tail"`
}

// Describe builds and enriches the downline of u in one call.
func Describe(u domain.User, snap *domain.Snapshot, levels domain.LevelTable) View {
	t := Build(u, snap)
	return View{
		Email:  u.Email,
		Level1: Enrich(t.Level1, snap, levels),
		Level2: Enrich(t.Level2, snap, levels),
		Level3: Enrich(t.Level3, snap, levels),
		Tail:   Enrich(t.Tail, snap, levels),
	}
}
