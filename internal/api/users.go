package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/app/downline"
	"github.com/taskyield/taskyield/internal/app/tier"
	"github.com/taskyield/taskyield/internal/domain"
)

// ─── User API ───────────────────────────────────────────────────────────────
//
// POST /api/users                           register with optional referral code
// GET  /api/users/{email}/tier              resolved tier and its inputs
// GET  /api/users/{email}/downline          L1, L2, L3 and community members
// GET  /api/users/{email}/eligibility       rule-by-rule dry evaluation
// GET  /api/users/{email}/activity          newest ledger rows
// POST /api/users/{email}/deposit           add to main balance
// POST /api/users/{email}/commit            main → interest balance
// POST /api/users/{email}/tasks             complete one task
// POST /api/users/{email}/withdrawals       quote or withdraw

type registerRequest struct {
	Email      string `json:"email" validate:"required,email"`
	ReferredBy string `json:"referred_by" validate:"omitempty,max=64"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type withdrawRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	QuoteOnly bool            `json:"quote_only"`
}

func emailParam(r *http.Request) string {
	return strings.ToLower(chi.URLParam(r, "email"))
}

// snapshot reads what the tier and downline views need.
func (s *Server) snapshot(ctx context.Context) (*domain.Snapshot, domain.LevelTable, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, nil, err
	}
	balances, err := s.store.ListBalances(ctx)
	if err != nil {
		return nil, nil, err
	}
	purchased, err := s.store.PurchasedReferrals(ctx)
	if err != nil {
		return nil, nil, err
	}
	levels, err := s.store.ListLevels(ctx)
	if err != nil {
		return nil, nil, err
	}
	return domain.NewSnapshot(users, balances, nil, purchased), levels, nil
}

// handleRegister creates a user.
// POST /api/users
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.accounts.Register(r.Context(), req.Email, req.ReferredBy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleTier returns the resolved tier with the values it was resolved from.
// GET /api/users/{email}/tier
func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	snap, levels, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	u, ok := snap.User(emailParam(r))
	if !ok {
		s.fail(w, r, domain.ErrUserNotFound)
		return
	}

	n := tier.Resolve(u, snap, levels)
	resp := map[string]interface{}{
		"email":               u.Email,
		"tier":                n,
		"committed":           snap.BalancesOf(u.Email).Committed(),
		"direct_referrals":    len(snap.Referrals(u.ReferralCode)),
		"purchased_referrals": snap.PurchasedReferrals(u.Email),
		"override_level":      u.OverrideLevel,
	}
	if lvl, ok := levels.Lookup(n); ok {
		resp["level"] = lvl
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDownline returns the enriched downline tree.
// GET /api/users/{email}/downline
func (s *Server) handleDownline(w http.ResponseWriter, r *http.Request) {
	snap, levels, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	u, ok := snap.User(emailParam(r))
	if !ok {
		s.fail(w, r, domain.ErrUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, downline.Describe(u, snap, levels))
}

// handleEligibility evaluates every rule for the user without crediting.
// GET /api/users/{email}/eligibility
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Preview(r.Context(), emailParam(r), s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleActivity lists the newest ledger rows.
// GET /api/users/{email}/activity?limit=N
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	if _, err := s.store.GetUser(r.Context(), email); err != nil {
		s.fail(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.store.ListActivity(r.Context(), email, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []domain.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity": rows,
	})
}

// handleDeposit credits the main balance.
// POST /api/users/{email}/deposit
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.wallet.Deposit(r.Context(), emailParam(r), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleCommit moves funds into the interest balance.
// POST /api/users/{email}/commit
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.wallet.Commit(r.Context(), emailParam(r), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleCompleteTask records one completed task.
// POST /api/users/{email}/tasks
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	res, err := s.wallet.CompleteTask(r.Context(), emailParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleWithdraw quotes or performs a withdrawal.
// POST /api/users/{email}/withdrawals
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.QuoteOnly {
		q, err := s.wallet.QuoteWithdrawal(r.Context(), emailParam(r), req.Amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"quote": q})
		return
	}

	q, b, err := s.wallet.Withdraw(r.Context(), emailParam(r), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"quote":    q,
		"balances": b,
	})
}
