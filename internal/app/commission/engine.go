// Package commission runs evaluation passes over the whole user population.
//
// A pass:
//  1. Takes one snapshot of users, balances, completions and configuration
//  2. Resolves every tier against that snapshot
//  3. Evaluates users on a bounded worker pool
//  4. Per user, under a lock, re-reads markers, evaluates every rule and
//     credits eligible payouts through the atomic crediter
//
// Earnings windows are half-open [marker, now): a credit advances the
// marker to now, so the next window starts exactly where this one ended.
package commission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskyield/taskyield/internal/app/aggregate"
	"github.com/taskyield/taskyield/internal/app/downline"
	"github.com/taskyield/taskyield/internal/app/eligibility"
	"github.com/taskyield/taskyield/internal/app/tier"
	"github.com/taskyield/taskyield/internal/domain"
	"github.com/taskyield/taskyield/internal/infra/lock"
	"github.com/taskyield/taskyield/internal/infra/observability"
)

// Config controls engine behavior.
type Config struct {
	MaxConcurrent int                   // Users evaluated in parallel (default: 4)
	UserTimeout   time.Duration         // Budget for one user's evaluation (default: 30s)
	Plan          domain.CommissionPlan // Team and upline commission rates
}

// DefaultConfig returns safe engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		UserTimeout:   30 * time.Second,
		Plan:          domain.DefaultCommissionPlan(),
	}
}

// Listener receives every applied credit.
type Listener func(domain.Activity)

// Engine evaluates and credits commissions and rewards.
type Engine struct {
	mu        sync.RWMutex
	config    Config
	store     domain.EngineStore
	locker    lock.Locker
	tracer    *observability.Tracer
	logger    *zap.Logger
	listeners []Listener

	passes    int64
	credits   int64
	conflicts int64
	lastPass  time.Time
}

// New creates an engine. A nil locker falls back to an in-process lock.
func New(cfg Config, store domain.EngineStore, locker lock.Locker, tracer *observability.Tracer, logger *zap.Logger) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = DefaultConfig().UserTimeout
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config: cfg,
		store:  store,
		locker: locker,
		tracer: tracer,
		logger: logger,
	}
}

// Subscribe registers a listener for applied credits.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// SetPlan swaps the commission plan used by subsequent passes.
func (e *Engine) SetPlan(p domain.CommissionPlan) {
	e.mu.Lock()
	e.config.Plan = p
	e.mu.Unlock()
}

// Plan returns the current commission plan.
func (e *Engine) Plan() domain.CommissionPlan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Plan
}

// ─── Reports ────────────────────────────────────────────────────────────────

// UserReport is the outcome of evaluating one user.
type UserReport struct {
	Email     string               `json:"email"`
	Tier      int                  `json:"tier"`
	Results   []eligibility.Result `json:"results"`
	Credits   []domain.Activity    `json:"credits,omitempty"` // would-be payouts on dry runs
	Conflicts int                  `json:"conflicts,omitempty"`
}

// Report summarizes one evaluation pass.
type Report struct {
	TraceID    string            `json:"trace_id,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	DryRun     bool              `json:"dry_run"`
	Users      int               `json:"users"`
	Credits    []domain.Activity `json:"credits"`
	Total      decimal.Decimal   `json:"total"`
	Conflicts  int               `json:"conflicts"`
	Failures   map[string]string `json:"failures,omitempty"` // email → error
}

func (r *Report) add(ur UserReport) {
	r.Users++
	r.Conflicts += ur.Conflicts
	for _, c := range ur.Credits {
		r.Credits = append(r.Credits, c)
		r.Total = r.Total.Add(c.Amount)
	}
}

// ─── Pass ───────────────────────────────────────────────────────────────────

// pass is the immutable input shared by every worker in one evaluation.
type pass struct {
	now    time.Time
	snap   *domain.Snapshot
	levels domain.LevelTable
	rules  domain.RuleSet
	plan   domain.CommissionPlan
	tiers  map[string]int
}

// load takes the snapshot for a pass. Completions at or after now are left
// for the next window.
func (e *Engine) load(ctx context.Context, now time.Time) (*pass, error) {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	balances, err := e.store.ListBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	completions, err := e.store.ListCompletions(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	for email, log := range completions {
		completions[email] = before(log, now)
	}
	purchased, err := e.store.PurchasedReferrals(ctx)
	if err != nil {
		return nil, fmt.Errorf("purchased referrals: %w", err)
	}
	levels, err := e.store.ListLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	snap := domain.NewSnapshot(users, balances, completions, purchased)
	snap.TakenAt = now
	return &pass{
		now:    now,
		snap:   snap,
		levels: levels,
		rules:  rules.Enabled(),
		plan:   e.Plan(),
		tiers:  tier.ResolveAll(snap, levels),
	}, nil
}

func before(log []domain.TaskCompletion, now time.Time) []domain.TaskCompletion {
	out := log[:0]
	for _, c := range log {
		if c.CompletedAt.Before(now) {
			out = append(out, c)
		}
	}
	return out
}

// ─── Evaluate ───────────────────────────────────────────────────────────────

// Evaluate runs one full pass at now and credits every eligible payout.
// Per-user failures are reported, not fatal. Cancelling ctx stops
// scheduling further users.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) (Report, error) {
	return e.run(ctx, now, "", false)
}

// DryRun runs a full pass without crediting anything. The report lists the
// payouts an applied pass at the same instant would make.
func (e *Engine) DryRun(ctx context.Context, now time.Time) (Report, error) {
	return e.run(ctx, now, "", true)
}

// EvaluateUser runs a pass restricted to one user. The email is matched
// case-insensitively.
func (e *Engine) EvaluateUser(ctx context.Context, email string, now time.Time, dryRun bool) (Report, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Report{}, fmt.Errorf("email: %w", domain.ErrUserNotFound)
	}
	return e.run(ctx, now, email, dryRun)
}

func (e *Engine) run(ctx context.Context, now time.Time, only string, dryRun bool) (Report, error) {
	start := time.Now()
	trigger := TriggerFrom(ctx)
	ctx, span := e.tracer.StartSpan(ctx, "evaluate", map[string]string{
		"trigger": trigger,
		"dry_run": fmt.Sprint(dryRun),
	})

	report, err := e.runPass(ctx, now, only, dryRun)
	report.TraceID = span.TraceID
	report.StartedAt = now
	report.FinishedAt = now.Add(time.Since(start))

	if span.Attrs != nil {
		span.Attrs["users"] = fmt.Sprint(report.Users)
		span.Attrs["credits"] = fmt.Sprint(len(report.Credits))
		span.Attrs["total"] = report.Total.String()
	}
	e.tracer.EndSpan(span, err)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.EvaluationPasses.WithLabelValues(trigger, outcome).Inc()
	observability.EvaluationDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	e.passes++
	e.lastPass = now
	e.mu.Unlock()

	e.logger.Info("evaluation pass finished",
		zap.String("trigger", trigger),
		zap.Bool("dry_run", dryRun),
		zap.Int("users", report.Users),
		zap.Int("credits", len(report.Credits)),
		zap.String("total", report.Total.String()),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return report, err
}

func (e *Engine) runPass(ctx context.Context, now time.Time, only string, dryRun bool) (Report, error) {
	report := Report{DryRun: dryRun, Total: decimal.Zero}

	p, err := e.load(ctx, now)
	if err != nil {
		return report, err
	}

	var targets []domain.User
	if only != "" {
		u, ok := p.snap.User(only)
		if !ok {
			return report, fmt.Errorf("%s: %w", only, domain.ErrUserNotFound)
		}
		targets = []domain.User{u}
	} else {
		targets = p.snap.Users()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrent)

	for _, u := range targets {
		if u.Status == domain.StatusDisabled {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		u := u
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(gctx, e.config.UserTimeout)
			defer cancel()

			ur, err := e.evaluateUser(uctx, p, u, !dryRun)
			observability.UsersEvaluated.Inc()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if report.Failures == nil {
					report.Failures = make(map[string]string)
				}
				report.Failures[u.Email] = err.Error()
				e.logger.Warn("user evaluation failed", zap.String("email", u.Email), zap.Error(err))
				return nil
			}
			report.add(ur)
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(report.Credits, func(i, j int) bool {
		return report.Credits[i].Email < report.Credits[j].Email
	})
	return report, ctx.Err()
}

// Preview evaluates one user against live data without crediting. Credits
// holds the payouts that would be made.
func (e *Engine) Preview(ctx context.Context, email string, now time.Time) (UserReport, error) {
	p, err := e.load(ctx, now)
	if err != nil {
		return UserReport{}, err
	}
	u, ok := p.snap.User(normalizeEmail(email))
	if !ok {
		return UserReport{}, fmt.Errorf("%s: %w", email, domain.ErrUserNotFound)
	}
	return e.evaluateUser(ctx, p, u, false)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ─── Per-User Evaluation ────────────────────────────────────────────────────

// evaluateUser holds the user's lock for the whole read-evaluate-credit
// sequence so no other evaluator can pay the same window concurrently.
func (e *Engine) evaluateUser(ctx context.Context, p *pass, u domain.User, apply bool) (UserReport, error) {
	if apply {
		waitStart := time.Now()
		unlock, err := e.locker.Lock(ctx, "user:"+u.Email)
		if err != nil {
			return UserReport{}, fmt.Errorf("lock: %w", err)
		}
		defer unlock()
		observability.LockWait.Observe(time.Since(waitStart).Seconds())
	}

	markers, err := e.store.ListMarkers(ctx, u.Email)
	if err != nil {
		return UserReport{}, fmt.Errorf("markers: %w", err)
	}

	c := p.context(u, markers)
	ur := UserReport{
		Email:   u.Email,
		Tier:    c.Tier,
		Results: eligibility.All(p.rules, p.plan, c),
	}

	for _, r := range ur.Results {
		observability.RecordDecision(string(r.Kind), r.Eligible)
		if !r.Eligible || !r.Amount.IsPositive() {
			continue
		}

		payout := payoutFor(u.Email, r, p.now)
		if !apply {
			ur.Credits = append(ur.Credits, planned(payout))
			continue
		}
		payout.Expected = markers[payout.Marker]

		act, err := e.store.Credit(ctx, payout)
		switch {
		case errors.Is(err, domain.ErrMarkerMoved):
			ur.Conflicts++
			observability.MarkerConflicts.WithLabelValues(string(payout.Category)).Inc()
			e.mu.Lock()
			e.conflicts++
			e.mu.Unlock()
			e.logger.Info("credit skipped, marker moved",
				zap.String("email", u.Email), zap.String("marker", payout.Marker))
			continue
		case err != nil:
			return ur, fmt.Errorf("credit %s: %w", payout.Marker, err)
		}

		markers[payout.Marker] = payout.At
		ur.Credits = append(ur.Credits, act)
		e.mu.Lock()
		e.credits++
		e.mu.Unlock()
		observability.RecordCredit(string(act.Category), act.Amount)
		e.notify(act)
	}
	return ur, nil
}

// planned is the activity a payout would produce. It has no ID because
// nothing was written.
func planned(p domain.Payout) domain.Activity {
	return domain.Activity{
		Email:       p.Email,
		Category:    p.Category,
		Amount:      p.Amount,
		Description: p.Description,
		CreatedAt:   p.At,
	}
}

// context assembles the evaluator input for u from the pass snapshot and
// the user's freshly read markers.
func (p *pass) context(u domain.User, markers map[string]time.Time) eligibility.Context {
	tree := downline.Build(u, p.snap)

	c := eligibility.Context{
		Email:             u.Email,
		Tier:              p.tiers[u.Email],
		Now:               p.now,
		Team:              aggregate.Rollup(tree, p.snap, markers[domain.CheckpointMarker(domain.CategoryTeam)]),
		CommunityEarnings: aggregate.Summarize(tree.Tail, p.snap, markers[domain.CheckpointMarker(domain.CategoryCommunity)]).EarningsSinceCutoff,
		Claims:            make(map[string]time.Time),
	}

	if up, ok := p.snap.Upline(u); ok {
		cutoff := markers[domain.CheckpointMarker(domain.CategoryUpline)]
		c.Upline = &eligibility.Upline{
			Email:    up.Email,
			Active:   up.IsActive(),
			Earnings: aggregate.Earnings(p.snap.CompletionsOf(up.Email), cutoff),
		}
	}

	for k, at := range markers {
		if strings.HasPrefix(k, "claim:") {
			c.Claims[k] = at
		}
	}
	return c
}

// payoutFor maps an eligible result to its category and marker.
func payoutFor(email string, r eligibility.Result, now time.Time) domain.Payout {
	p := domain.Payout{Email: email, Amount: r.Amount, At: now}
	switch r.Kind {
	case domain.KindTeamCommission:
		p.Category = domain.CategoryTeam
		p.Marker = domain.CheckpointMarker(domain.CategoryTeam)
		p.Description = "team commission L1-L3"
	case domain.KindCommunity:
		p.Category = domain.CategoryCommunity
		p.Marker = domain.CheckpointMarker(domain.CategoryCommunity)
		p.Description = "community commission (" + r.RuleID + ")"
	case domain.KindUplineCommission:
		p.Category = domain.CategoryUpline
		p.Marker = domain.CheckpointMarker(domain.CategoryUpline)
		p.Description = "upline commission"
	case domain.KindTeamReward:
		p.Category = domain.CategoryTeamReward
		p.Marker = domain.ClaimMarker(r.Kind, r.RuleID)
		p.Description = "team reward (" + r.RuleID + ")"
	case domain.KindTeamSizeReward:
		p.Category = domain.CategoryTeamSizeReward
		p.Marker = domain.ClaimMarker(r.Kind, r.RuleID)
		p.Description = "team size reward (" + r.RuleID + ")"
	case domain.KindSalary:
		p.Category = domain.CategorySalary
		p.Marker = domain.ClaimMarker(r.Kind, r.RuleID)
		p.Description = "salary (" + r.RuleID + ")"
	}
	return p
}

func (e *Engine) notify(a domain.Activity) {
	e.mu.RLock()
	ls := e.listeners
	e.mu.RUnlock()
	for _, l := range ls {
		l(a)
	}
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats returns engine counters since start.
type Stats struct {
	Passes    int64     `json:"passes"`
	Credits   int64     `json:"credits"`
	Conflicts int64     `json:"conflicts"`
	LastPass  time.Time `json:"last_pass,omitempty"`
}

// Stats returns current engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Passes:    e.passes,
		Credits:   e.credits,
		Conflicts: e.conflicts,
		LastPass:  e.lastPass,
	}
}

// ─── Trigger ────────────────────────────────────────────────────────────────

type triggerKey struct{}

// WithTrigger labels passes started from ctx (cron, api, cli).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger label on ctx, "manual" if unset.
func TriggerFrom(ctx context.Context) string {
	if v, ok := ctx.Value(triggerKey{}).(string); ok && v != "" {
		return v
	}
	return "manual"
}
