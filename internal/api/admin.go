package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/taskyield/taskyield/internal/app/commission"
	"github.com/taskyield/taskyield/internal/domain"
)

// ─── Admin API ──────────────────────────────────────────────────────────────
//
// GET|PUT /api/admin/levels                                 tier table
// GET|PUT /api/admin/rules                                  reward rules
// GET     /api/admin/evaluations                            recent pass spans
// PUT     /api/admin/users/{email}/override                 manual tier
// PUT     /api/admin/users/{email}/status                   account state
// POST    /api/admin/users/{email}/purchased-referrals      referral credits
// POST    /api/evaluate                                     run a pass now

type levelsRequest struct {
	Levels domain.LevelTable `json:"levels" validate:"required,min=1"`
}

type overrideRequest struct {
	Level *int `json:"level" validate:"omitempty,gte=0"`
}

type statusRequest struct {
	Status domain.UserStatus `json:"status" validate:"required,oneof=active inactive disabled"`
}

type purchasedRequest struct {
	Count int `json:"count" validate:"gt=0"`
}

type evaluateRequest struct {
	DryRun bool   `json:"dry_run"`
	Email  string `json:"email" validate:"omitempty,email"`
}

// handleGetLevels returns the tier table.
// GET /api/admin/levels
func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := s.store.ListLevels(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"levels": levels})
}

// handlePutLevels replaces the tier table.
// PUT /api/admin/levels
func (s *Server) handlePutLevels(w http.ResponseWriter, r *http.Request) {
	var req levelsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := checkLevels(req.Levels); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.ReplaceLevels(r.Context(), req.Levels); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"levels": req.Levels})
}

// checkLevels requires unique, non-negative tier numbers and a tier 0 floor.
func checkLevels(levels domain.LevelTable) error {
	seen := make(map[int]bool, len(levels))
	for _, l := range levels {
		if l.Number < 0 {
			return errBadRequest{fmt.Sprintf("level %d: number must not be negative", l.Number)}
		}
		if seen[l.Number] {
			return errBadRequest{fmt.Sprintf("level %d defined twice", l.Number)}
		}
		if l.MinAmount.IsNegative() || l.DailyRate.IsNegative() || l.WithdrawalFee.IsNegative() {
			return errBadRequest{fmt.Sprintf("level %d: amounts must not be negative", l.Number)}
		}
		if l.Referrals < 0 || l.TaskQuota < 0 || l.MonthlyWithdrawals < 0 {
			return errBadRequest{fmt.Sprintf("level %d: counts must not be negative", l.Number)}
		}
		seen[l.Number] = true
	}
	if !seen[0] {
		return errBadRequest{"level 0 is required"}
	}
	return nil
}

// handleGetRules returns all four rule collections.
// GET /api/admin/rules
func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// handlePutRules replaces all four rule collections.
// PUT /api/admin/rules
func (s *Server) handlePutRules(w http.ResponseWriter, r *http.Request) {
	var rules domain.RuleSet
	if err := decode(r, &rules); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := CheckRules(rules); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.ReplaceRules(r.Context(), rules); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// CheckRules validates every rule and rejects duplicate IDs within a kind.
// A team reward claim window needs a start date to be bounded.
func CheckRules(rs domain.RuleSet) error {
	for _, r := range rs.TeamRewards {
		if r.DurationDays > 0 && r.StartsAt.IsZero() {
			return errBadRequest{fmt.Sprintf("%s %q: duration_days requires starts_at", domain.KindTeamReward, r.ID)}
		}
	}

	type keyed struct {
		kind domain.RuleKind
		id   string
		v    interface{}
	}
	var all []keyed
	for _, r := range rs.TeamRewards {
		all = append(all, keyed{domain.KindTeamReward, r.ID, r})
	}
	for _, r := range rs.TeamSizeRewards {
		all = append(all, keyed{domain.KindTeamSizeReward, r.ID, r})
	}
	for _, r := range rs.Salaries {
		all = append(all, keyed{domain.KindSalary, r.ID, r})
	}
	for _, r := range rs.Community {
		all = append(all, keyed{domain.KindCommunity, r.ID, r})
	}

	seen := make(map[string]bool, len(all))
	for _, k := range all {
		if err := validate.Struct(k.v); err != nil {
			return errBadRequest{fmt.Sprintf("%s %q: %v", k.kind, k.id, err)}
		}
		key := string(k.kind) + ":" + k.id
		if seen[key] {
			return errBadRequest{fmt.Sprintf("%s %q defined twice", k.kind, k.id)}
		}
		seen[key] = true
	}
	return nil
}

// handleEvaluations lists recent evaluation pass spans.
// GET /api/admin/evaluations?limit=N
func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": s.tracer.Spans("evaluate", limit),
		"stats":       s.engine.Stats(),
	})
}

// handleSetOverride pins or clears a user's tier.
// PUT /api/admin/users/{email}/override
func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.accounts.SetOverride(r.Context(), emailParam(r), req.Level)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleSetStatus changes a user's account state.
// PUT /api/admin/users/{email}/status
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.accounts.SetStatus(r.Context(), emailParam(r), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleAddPurchased adds purchased referral credits.
// POST /api/admin/users/{email}/purchased-referrals
func (s *Server) handleAddPurchased(w http.ResponseWriter, r *http.Request) {
	var req purchasedRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	total, err := s.accounts.AddPurchasedReferrals(r.Context(), emailParam(r), req.Count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":               emailParam(r),
		"purchased_referrals": total,
	})
}

// handleEvaluate runs an evaluation pass now.
// POST /api/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	ctx := commission.WithTrigger(r.Context(), "api")
	now := s.now()

	var (
		report commission.Report
		err    error
	)
	switch {
	case req.Email != "":
		report, err = s.engine.EvaluateUser(ctx, strings.ToLower(strings.TrimSpace(req.Email)), now, req.DryRun)
	case req.DryRun:
		report, err = s.engine.DryRun(ctx, now)
	default:
		report, err = s.engine.Evaluate(ctx, now)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
