package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/domain"
	"github.com/taskyield/taskyield/internal/infra/sqlite"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestWallet(t *testing.T) (*Wallet, *sqlite.DB, *clock) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := &clock{now: t0}
	w := New(db, nil, nil)
	w.SetClock(c.Now)
	return w, db, c
}

func seed(t *testing.T, db *sqlite.DB, email string) {
	t.Helper()
	err := db.InsertUser(context.Background(), domain.User{
		ID: "id-" + email, Email: email, ReferralCode: "code-" + email,
		Status: domain.StatusInactive, CreatedAt: t0.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertUser(%s) error: %v", email, err)
	}
}

// fund deposits and commits, leaving deposit-commit in main.
func fund(t *testing.T, w *Wallet, email, deposit, commit string) {
	t.Helper()
	ctx := context.Background()
	if _, err := w.Deposit(ctx, email, dec(deposit)); err != nil {
		t.Fatalf("Deposit() error: %v", err)
	}
	if commit == "" {
		return
	}
	if _, err := w.Commit(ctx, email, dec(commit)); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Deposit / Commit
// ═══════════════════════════════════════════════════════════════════════════

func TestDeposit(t *testing.T) {
	w, db, _ := newTestWallet(t)
	ctx := context.Background()
	seed(t, db, "a@x")

	b, err := w.Deposit(ctx, "a@x", dec("150"))
	if err != nil {
		t.Fatalf("Deposit() error: %v", err)
	}
	if !b.Main.Equal(dec("150")) || !b.Committed().IsZero() {
		t.Errorf("Deposit() balances = %+v", b)
	}

	for _, amount := range []string{"0", "-5"} {
		if _, err := w.Deposit(ctx, "a@x", dec(amount)); !errors.Is(err, domain.ErrNonPositiveAmount) {
			t.Errorf("Deposit(%s) error = %v, want ErrNonPositiveAmount", amount, err)
		}
	}
	if _, err := w.Deposit(ctx, "ghost@x", dec("1")); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Deposit(ghost) error = %v, want ErrUserNotFound", err)
	}
}

func TestCommit_ActivatesAtTierOne(t *testing.T) {
	w, db, _ := newTestWallet(t)
	ctx := context.Background()
	seed(t, db, "a@x")

	fund(t, w, "a@x", "200", "50")
	u, _ := db.GetUser(ctx, "a@x")
	if u.Status != domain.StatusInactive {
		t.Fatalf("status after committing 50 = %s, want inactive", u.Status)
	}

	b, err := w.Commit(ctx, "a@x", dec("50"))
	if err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if !b.Interest.Equal(dec("100")) || !b.Main.Equal(dec("100")) {
		t.Errorf("Commit() balances = %+v", b)
	}

	u, _ = db.GetUser(ctx, "a@x")
	if u.Status != domain.StatusActive || !u.Activated {
		t.Errorf("status = %s activated = %v, want active/true", u.Status, u.Activated)
	}
	if u.ActivatedAt == nil || !u.ActivatedAt.Equal(t0) {
		t.Errorf("ActivatedAt = %v, want %v", u.ActivatedAt, t0)
	}
}

func TestCommit_InsufficientFunds(t *testing.T) {
	w, db, _ := newTestWallet(t)
	seed(t, db, "a@x")
	fund(t, w, "a@x", "10", "")

	if _, err := w.Commit(context.Background(), "a@x", dec("11")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Commit(11) error = %v, want ErrInsufficientFunds", err)
	}
	b, _ := db.GetBalances(context.Background(), "a@x")
	if !b.Main.Equal(dec("10")) || !b.Interest.IsZero() {
		t.Errorf("balances after failed commit = %+v", b)
	}
}

func TestDisabledUserCannotMoveFunds(t *testing.T) {
	w, db, _ := newTestWallet(t)
	ctx := context.Background()
	seed(t, db, "a@x")

	u, _ := db.GetUser(ctx, "a@x")
	u.Status = domain.StatusDisabled
	if err := db.UpdateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Deposit(ctx, "a@x", dec("1")); !errors.Is(err, domain.ErrUserDisabled) {
		t.Errorf("Deposit(disabled) error = %v, want ErrUserDisabled", err)
	}
	if _, err := w.CompleteTask(ctx, "a@x"); !errors.Is(err, domain.ErrUserDisabled) {
		t.Errorf("CompleteTask(disabled) error = %v, want ErrUserDisabled", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tasks
// ═══════════════════════════════════════════════════════════════════════════

func TestTaskReward(t *testing.T) {
	tests := []struct {
		name      string
		committed string
		rate      string
		quota     int
		want      string
	}{
		{"tier 2", "1000", "2", 5, "4"},
		{"tier 1", "100", "1.5", 3, "0.5"},
		{"zero quota", "1000", "2", 0, "0"},
		{"nothing committed", "0", "2", 5, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TaskReward(dec(tt.committed), domain.Level{DailyRate: dec(tt.rate), TaskQuota: tt.quota})
			if !got.Equal(dec(tt.want)) {
				t.Errorf("TaskReward() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCompleteTask_QuotaPerDay(t *testing.T) {
	w, db, c := newTestWallet(t)
	ctx := context.Background()
	seed(t, db, "a@x")
	fund(t, w, "a@x", "1000", "1000")

	for i := 0; i < 5; i++ {
		res, err := w.CompleteTask(ctx, "a@x")
		if err != nil {
			t.Fatalf("CompleteTask(%d) error: %v", i, err)
		}
		if res.Tier != 2 {
			t.Errorf("Tier = %d, want 2", res.Tier)
		}
		if res.Remaining != 4-i {
			t.Errorf("Remaining = %d, want %d", res.Remaining, 4-i)
		}
		c.now = c.now.Add(time.Minute)
	}
	if _, err := w.CompleteTask(ctx, "a@x"); !errors.Is(err, domain.ErrTaskQuotaReached) {
		t.Errorf("CompleteTask(6th) error = %v, want ErrTaskQuotaReached", err)
	}

	b, _ := db.GetBalances(ctx, "a@x")
	// Each reward compounds into the committed balance.
	if !b.Task.GreaterThan(dec("20")) {
		t.Errorf("Task = %s, want > 20 after five compounding rewards", b.Task)
	}
	log, _ := db.ListCompletions(ctx, time.Time{})
	if len(log["a@x"]) != 5 {
		t.Errorf("len(completions) = %d, want 5", len(log["a@x"]))
	}

	c.now = t0.Add(24 * time.Hour)
	if _, err := w.CompleteTask(ctx, "a@x"); err != nil {
		t.Errorf("CompleteTask(next day) error: %v", err)
	}
}

func TestCompleteTask_FirstRewardAmount(t *testing.T) {
	w, db, _ := newTestWallet(t)
	seed(t, db, "a@x")
	fund(t, w, "a@x", "1000", "1000")

	res, err := w.CompleteTask(context.Background(), "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completion.Earned.Equal(dec("4")) {
		t.Errorf("Earned = %s, want 4", res.Completion.Earned)
	}
	if !res.Balances.Task.Equal(dec("4")) {
		t.Errorf("Task = %s, want 4", res.Balances.Task)
	}
}

func TestCompleteTask_TierZeroHasNoQuota(t *testing.T) {
	w, db, _ := newTestWallet(t)
	seed(t, db, "a@x")

	res, err := w.CompleteTask(context.Background(), "a@x")
	if !errors.Is(err, domain.ErrTaskQuotaReached) {
		t.Errorf("CompleteTask(tier 0) error = %v, want ErrTaskQuotaReached", err)
	}
	if res.Tier != 0 || !res.Completion.Earned.IsZero() {
		t.Errorf("CompleteTask(tier 0) = %+v", res)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Withdrawals
// ═══════════════════════════════════════════════════════════════════════════

func TestQuoteWithdrawal_Limits(t *testing.T) {
	w, db, _ := newTestWallet(t)
	ctx := context.Background()
	seed(t, db, "a@x")
	fund(t, w, "a@x", "1000", "200") // tier 1: min 10, max 500, fee 5%

	tests := []struct {
		amount string
		want   error
	}{
		{"5", domain.ErrBelowMinWithdrawal},
		{"600", domain.ErrAboveMaxWithdrawal},
		{"0", domain.ErrNonPositiveAmount},
		{"100", nil},
	}
	for _, tt := range tests {
		_, err := w.QuoteWithdrawal(ctx, "a@x", dec(tt.amount))
		if !errors.Is(err, tt.want) {
			t.Errorf("QuoteWithdrawal(%s) error = %v, want %v", tt.amount, err, tt.want)
		}
	}

	q, _ := w.QuoteWithdrawal(ctx, "a@x", dec("100"))
	if !q.Fee.Equal(dec("5")) || !q.Net.Equal(dec("95")) || q.Tier != 1 || q.Remaining != 1 {
		t.Errorf("QuoteWithdrawal(100) = %+v", q)
	}
}

func TestWithdraw_MonthlyAllowance(t *testing.T) {
	w, db, c := newTestWallet(t)
	ctx := context.Background()
	seed(t, db, "a@x")
	fund(t, w, "a@x", "1000", "200")

	for i := 0; i < 2; i++ {
		if _, _, err := w.Withdraw(ctx, "a@x", dec("100")); err != nil {
			t.Fatalf("Withdraw(%d) error: %v", i, err)
		}
	}
	if _, _, err := w.Withdraw(ctx, "a@x", dec("100")); !errors.Is(err, domain.ErrWithdrawalLimit) {
		t.Errorf("Withdraw(3rd) error = %v, want ErrWithdrawalLimit", err)
	}
	b, _ := db.GetBalances(ctx, "a@x")
	if !b.Main.Equal(dec("600")) {
		t.Errorf("Main = %s, want 600", b.Main)
	}

	c.now = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if _, _, err := w.Withdraw(ctx, "a@x", dec("100")); err != nil {
		t.Errorf("Withdraw(next month) error: %v", err)
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	w, db, _ := newTestWallet(t)
	seed(t, db, "a@x")
	fund(t, w, "a@x", "150", "140")

	if _, _, err := w.Withdraw(context.Background(), "a@x", dec("20")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Withdraw(20) error = %v, want ErrInsufficientFunds", err)
	}
}

func TestWithdraw_TierZeroNotAllowed(t *testing.T) {
	w, db, _ := newTestWallet(t)
	seed(t, db, "a@x")
	fund(t, w, "a@x", "50", "")

	if _, _, err := w.Withdraw(context.Background(), "a@x", dec("10")); !errors.Is(err, domain.ErrWithdrawalLimit) {
		t.Errorf("Withdraw(tier 0) error = %v, want ErrWithdrawalLimit", err)
	}
}
