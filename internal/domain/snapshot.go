package domain

import "time"

// ─── Snapshot ───────────────────────────────────────────────────────────────
// A Snapshot is one consistent read of the user population and its persisted
// stats. Every pure component reads from a Snapshot so that one evaluation
// pass never sees two different versions of the directory.

// Snapshot indexes users by email and by upline referral code.
type Snapshot struct {
	TakenAt time.Time

	users       []User
	balances    map[string]Balances
	completions map[string][]TaskCompletion
	purchased   map[string]int

	byEmail  map[string]int
	byCode   map[string]int
	children map[string][]int // referral code → indices of direct referrals
}

// NewSnapshot builds the indexes. Nil maps are treated as empty.
// Users keep their input order, which makes every derived view deterministic.
func NewSnapshot(users []User, balances map[string]Balances, completions map[string][]TaskCompletion, purchased map[string]int) *Snapshot {
	s := &Snapshot{
		users:       users,
		balances:    balances,
		completions: completions,
		purchased:   purchased,
		byEmail:     make(map[string]int, len(users)),
		byCode:      make(map[string]int, len(users)),
		children:    make(map[string][]int),
	}
	for i, u := range users {
		if _, dup := s.byEmail[u.Email]; !dup {
			s.byEmail[u.Email] = i
		}
		if u.ReferralCode != "" {
			if _, dup := s.byCode[u.ReferralCode]; !dup {
				s.byCode[u.ReferralCode] = i
			}
		}
		if u.ReferredBy != "" {
			s.children[u.ReferredBy] = append(s.children[u.ReferredBy], i)
		}
	}
	return s
}

// Users returns the population in snapshot order.
func (s *Snapshot) Users() []User { return s.users }

// Len returns the population size.
func (s *Snapshot) Len() int { return len(s.users) }

// User returns the current record for email.
func (s *Snapshot) User(email string) (User, bool) {
	i, ok := s.byEmail[email]
	if !ok {
		return User{}, false
	}
	return s.users[i], true
}

// ByCode returns the user owning a referral code.
func (s *Snapshot) ByCode(code string) (User, bool) {
	if code == "" {
		return User{}, false
	}
	i, ok := s.byCode[code]
	if !ok {
		return User{}, false
	}
	return s.users[i], true
}

// Referrals returns the users whose ReferredBy equals code, in snapshot order.
func (s *Snapshot) Referrals(code string) []User {
	if code == "" {
		return nil
	}
	idx := s.children[code]
	out := make([]User, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.users[i])
	}
	return out
}

// Upline returns the user's referrer. A dangling code means no upline.
func (s *Snapshot) Upline(u User) (User, bool) {
	return s.ByCode(u.ReferredBy)
}

// BalancesOf returns the persisted balances for email, zero if none.
func (s *Snapshot) BalancesOf(email string) Balances {
	if b, ok := s.balances[email]; ok {
		return b
	}
	return Balances{Email: email}
}

// CompletionsOf returns the logged task completions for email.
func (s *Snapshot) CompletionsOf(email string) []TaskCompletion {
	return s.completions[email]
}

// PurchasedReferrals returns the non-organic referral credits for email.
func (s *Snapshot) PurchasedReferrals(email string) int {
	return s.purchased[email]
}
