// Package wallet moves funds between a user's sub-balances and keeps the
// activation lifecycle in step with the committed balance.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/taskyield/taskyield/internal/app/tier"
	"github.com/taskyield/taskyield/internal/domain"
	"github.com/taskyield/taskyield/internal/infra/lock"
	"github.com/taskyield/taskyield/internal/infra/observability"
)

var hundred = decimal.NewFromInt(100)

// Store is what the wallet reads and writes.
type Store interface {
	domain.UserDirectory
	domain.LevelProvider
	domain.BalanceStore
	domain.Ledger
}

// Wallet performs user fund movements.
type Wallet struct {
	store  Store
	locker lock.Locker
	logger *zap.Logger
	now    func() time.Time
}

// New creates a wallet. Movements for one user are serialized through locker.
func New(store Store, locker lock.Locker, logger *zap.Logger) *Wallet {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{store: store, locker: locker, logger: logger, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (w *Wallet) SetClock(now func() time.Time) { w.now = now }

// ─── Deposit / Commit ───────────────────────────────────────────────────────

// Deposit adds amount to the main balance.
func (w *Wallet) Deposit(ctx context.Context, email string, amount decimal.Decimal) (domain.Balances, error) {
	if !amount.IsPositive() {
		return domain.Balances{}, domain.ErrNonPositiveAmount
	}
	unlock, u, err := w.begin(ctx, email)
	if err != nil {
		return domain.Balances{}, err
	}
	defer unlock()

	b, err := w.move(ctx, domain.Movement{
		Email:       u.Email,
		Main:        amount,
		Category:    domain.CategoryDeposit,
		Amount:      amount,
		Description: "deposit",
		At:          w.now(),
	})
	if err != nil {
		return domain.Balances{}, err
	}
	return b, nil
}

// Commit moves amount from main into the interest sub-balance, then
// activates the user if the committed balance reached tier 1.
func (w *Wallet) Commit(ctx context.Context, email string, amount decimal.Decimal) (domain.Balances, error) {
	if !amount.IsPositive() {
		return domain.Balances{}, domain.ErrNonPositiveAmount
	}
	unlock, u, err := w.begin(ctx, email)
	if err != nil {
		return domain.Balances{}, err
	}
	defer unlock()

	now := w.now()
	b, err := w.move(ctx, domain.Movement{
		Email:       u.Email,
		Main:        amount.Neg(),
		Interest:    amount,
		Category:    domain.CategoryCommit,
		Amount:      amount,
		Description: "commit to interest balance",
		At:          now,
	})
	if err != nil {
		return domain.Balances{}, err
	}
	if err := w.activate(ctx, u, b, now); err != nil {
		return b, err
	}
	return b, nil
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TaskResult is the outcome of one completed task.
type TaskResult struct {
	Completion domain.TaskCompletion `json:"completion"`
	Balances   domain.Balances       `json:"balances"`
	Tier       int                   `json:"tier"`
	Remaining  int                   `json:"remaining"` // tasks left today
}

// CompleteTask credits one task reward to the task sub-balance and logs the
// completion. The reward is committed × DailyRate% spread over the tier's
// daily quota. A tier with quota 0 earns nothing and always reports
// ErrTaskQuotaReached.
func (w *Wallet) CompleteTask(ctx context.Context, email string) (TaskResult, error) {
	unlock, u, err := w.begin(ctx, email)
	if err != nil {
		return TaskResult{}, err
	}
	defer unlock()

	now := w.now()
	b, err := w.store.GetBalances(ctx, u.Email)
	if err != nil {
		return TaskResult{}, err
	}
	n, levels, err := w.tierOf(ctx, u, b)
	if err != nil {
		return TaskResult{}, err
	}
	lvl, err := tier.Lookup(levels, n)
	if err != nil {
		return TaskResult{}, err
	}

	done, err := w.store.CountCompletionsSince(ctx, u.Email, startOfDay(now))
	if err != nil {
		return TaskResult{}, err
	}
	if lvl.TaskQuota <= 0 || done >= lvl.TaskQuota {
		return TaskResult{Tier: n}, domain.ErrTaskQuotaReached
	}

	reward := TaskReward(b.Committed(), lvl)
	completion := domain.TaskCompletion{Email: u.Email, Earned: reward, CompletedAt: now}
	after, err := w.move(ctx, domain.Movement{
		Email:       u.Email,
		Task:        reward,
		Category:    domain.CategoryTask,
		Amount:      reward,
		Description: fmt.Sprintf("task %d/%d at tier %d", done+1, lvl.TaskQuota, n),
		Completion:  &completion,
		At:          now,
	})
	if err != nil {
		return TaskResult{}, err
	}
	if err := w.activate(ctx, u, after, now); err != nil {
		return TaskResult{}, err
	}

	return TaskResult{
		Completion: completion,
		Balances:   after,
		Tier:       n,
		Remaining:  lvl.TaskQuota - done - 1,
	}, nil
}

// TaskReward returns the per-task reward for a committed balance at lvl.
func TaskReward(committed decimal.Decimal, lvl domain.Level) decimal.Decimal {
	if lvl.TaskQuota <= 0 {
		return decimal.Zero
	}
	return committed.Mul(lvl.DailyRate).Div(hundred).Div(decimal.NewFromInt(int64(lvl.TaskQuota))).Round(8)
}

// ─── Withdrawals ────────────────────────────────────────────────────────────

// Quote prices a withdrawal without moving funds.
type Quote struct {
	Tier      int             `json:"tier"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Net       decimal.Decimal `json:"net"`
	Remaining int             `json:"remaining"` // withdrawals left this month after this one
}

// QuoteWithdrawal checks amount against the user's tier limits.
func (w *Wallet) QuoteWithdrawal(ctx context.Context, email string, amount decimal.Decimal) (Quote, error) {
	u, err := w.store.GetUser(ctx, email)
	if err != nil {
		return Quote{}, err
	}
	return w.quote(ctx, u, amount, w.now())
}

func (w *Wallet) quote(ctx context.Context, u domain.User, amount decimal.Decimal, now time.Time) (Quote, error) {
	if !amount.IsPositive() {
		return Quote{}, domain.ErrNonPositiveAmount
	}
	b, err := w.store.GetBalances(ctx, u.Email)
	if err != nil {
		return Quote{}, err
	}
	n, levels, err := w.tierOf(ctx, u, b)
	if err != nil {
		return Quote{}, err
	}
	lvl, err := tier.Lookup(levels, n)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Tier: n, Amount: amount}
	if amount.LessThan(lvl.MinWithdrawal) {
		return q, domain.ErrBelowMinWithdrawal
	}
	if lvl.MaxWithdrawal.IsPositive() && amount.GreaterThan(lvl.MaxWithdrawal) {
		return q, domain.ErrAboveMaxWithdrawal
	}
	used, err := w.store.CountActivitySince(ctx, u.Email, domain.CategoryWithdrawal, startOfMonth(now))
	if err != nil {
		return q, err
	}
	if used >= lvl.MonthlyWithdrawals {
		return q, domain.ErrWithdrawalLimit
	}
	if amount.GreaterThan(b.Main) {
		return q, domain.ErrInsufficientFunds
	}

	q.Fee = amount.Mul(lvl.WithdrawalFee).Div(hundred).Round(8)
	q.Net = amount.Sub(q.Fee)
	q.Remaining = lvl.MonthlyWithdrawals - used - 1
	return q, nil
}

// Withdraw debits amount from the main balance after the tier checks pass.
func (w *Wallet) Withdraw(ctx context.Context, email string, amount decimal.Decimal) (Quote, domain.Balances, error) {
	unlock, u, err := w.begin(ctx, email)
	if err != nil {
		return Quote{}, domain.Balances{}, err
	}
	defer unlock()

	now := w.now()
	q, err := w.quote(ctx, u, amount, now)
	if err != nil {
		return q, domain.Balances{}, err
	}
	b, err := w.move(ctx, domain.Movement{
		Email:       u.Email,
		Main:        amount.Neg(),
		Category:    domain.CategoryWithdrawal,
		Amount:      amount,
		Description: fmt.Sprintf("withdrawal, fee %s, net %s", q.Fee, q.Net),
		At:          now,
	})
	if err != nil {
		return q, domain.Balances{}, err
	}
	w.logger.Info("withdrawal",
		zap.String("email", u.Email),
		zap.String("amount", amount.String()),
		zap.String("fee", q.Fee.String()),
	)
	return q, b, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// begin locks the user's wallet and loads a fresh record.
// Disabled accounts cannot move funds.
func (w *Wallet) begin(ctx context.Context, email string) (func(), domain.User, error) {
	unlock, err := w.locker.Lock(ctx, "wallet:"+email)
	if err != nil {
		return nil, domain.User{}, err
	}
	u, err := w.store.GetUser(ctx, email)
	if err != nil {
		unlock()
		return nil, domain.User{}, err
	}
	if u.Status == domain.StatusDisabled {
		unlock()
		return nil, domain.User{}, domain.ErrUserDisabled
	}
	return unlock, u, nil
}

func (w *Wallet) move(ctx context.Context, m domain.Movement) (domain.Balances, error) {
	b, err := w.store.Move(ctx, m)
	if err != nil {
		return domain.Balances{}, err
	}
	observability.FundMovements.WithLabelValues(string(m.Category)).Inc()
	return b, nil
}

// tierOf resolves the user's tier against current balances.
func (w *Wallet) tierOf(ctx context.Context, u domain.User, b domain.Balances) (int, domain.LevelTable, error) {
	levels, err := w.store.ListLevels(ctx)
	if err != nil {
		return 0, nil, err
	}
	users, err := w.store.ListUsers(ctx)
	if err != nil {
		return 0, nil, err
	}
	purchased, err := w.store.PurchasedReferrals(ctx)
	if err != nil {
		return 0, nil, err
	}
	snap := domain.NewSnapshot(users, map[string]domain.Balances{u.Email: b}, nil, purchased)
	return tier.Resolve(u, snap, levels), levels, nil
}

// activate flips an inactive user to active once the committed balance
// reaches the tier 1 minimum. ActivatedAt is set on first activation only.
func (w *Wallet) activate(ctx context.Context, u domain.User, b domain.Balances, now time.Time) error {
	if u.Status != domain.StatusInactive {
		return nil
	}
	levels, err := w.store.ListLevels(ctx)
	if err != nil {
		return err
	}
	first, ok := levels.Lookup(1)
	if !ok || b.Committed().LessThan(first.MinAmount) {
		return nil
	}

	u.Status = domain.StatusActive
	u.Activated = true
	if u.ActivatedAt == nil {
		u.ActivatedAt = &now
	}
	if err := w.store.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("activate %s: %w", u.Email, err)
	}
	w.logger.Info("user activated", zap.String("email", u.Email), zap.String("committed", b.Committed().String()))
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
