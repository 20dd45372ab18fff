package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskyield/taskyield/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Fund Movements
// ═══════════════════════════════════════════════════════════════════════════

func TestMove_DepositAndCommit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	b, err := db.Move(ctx, domain.Movement{
		Email: "a@x", Main: dec("250"), Category: domain.CategoryDeposit, Amount: dec("250"), At: t0,
	})
	if err != nil {
		t.Fatalf("Move(deposit) error: %v", err)
	}
	if !b.Main.Equal(dec("250")) {
		t.Errorf("Main = %s, want 250", b.Main)
	}

	b, err = db.Move(ctx, domain.Movement{
		Email: "a@x", Main: dec("-200"), Interest: dec("200"), Category: domain.CategoryCommit, Amount: dec("200"), At: t0,
	})
	if err != nil {
		t.Fatalf("Move(commit) error: %v", err)
	}
	if !b.Main.Equal(dec("50")) || !b.Committed().Equal(dec("200")) {
		t.Errorf("after commit = %+v", b)
	}

	acts, _ := db.ListActivity(ctx, "a@x", 10)
	if len(acts) != 2 {
		t.Errorf("len(activity) = %d, want 2", len(acts))
	}
}

func TestMove_InsufficientFundsWritesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	_, err := db.Move(ctx, domain.Movement{
		Email: "a@x", Main: dec("-1"), Category: domain.CategoryWithdrawal, Amount: dec("1"), At: t0,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	acts, _ := db.ListActivity(ctx, "a@x", 10)
	if len(acts) != 0 {
		t.Errorf("rejected movement logged %d activity rows", len(acts))
	}
}

func TestMove_UnknownUser(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Move(context.Background(), domain.Movement{Email: "ghost@x", Main: dec("1"), At: t0})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestMove_LogsCompletion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	for i, at := range []time.Time{t0, t0.Add(2 * time.Hour)} {
		_, err := db.Move(ctx, domain.Movement{
			Email: "a@x", Task: dec("1.25"), Category: domain.CategoryTask, Amount: dec("1.25"), At: at,
			Completion: &domain.TaskCompletion{Email: "a@x", Earned: dec("1.25"), CompletedAt: at},
		})
		if err != nil {
			t.Fatalf("Move(task %d) error: %v", i, err)
		}
	}

	all, err := db.ListCompletions(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all["a@x"]) != 2 {
		t.Errorf("len(completions) = %d, want 2", len(all["a@x"]))
	}
	recent, _ := db.ListCompletions(ctx, t0.Add(time.Hour))
	if len(recent["a@x"]) != 1 {
		t.Errorf("len(completions since +1h) = %d, want 1", len(recent["a@x"]))
	}
	n, _ := db.CountCompletionsSince(ctx, "a@x", t0)
	if n != 2 {
		t.Errorf("CountCompletionsSince(t0) = %d, want 2 (inclusive)", n)
	}
	b, _ := db.GetBalances(ctx, "a@x")
	if !b.Task.Equal(dec("2.5")) {
		t.Errorf("Task = %s, want 2.5", b.Task)
	}
}

func TestCountActivitySince(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")
	db.Move(ctx, domain.Movement{Email: "a@x", Main: dec("100"), Category: domain.CategoryDeposit, Amount: dec("100"), At: t0})
	db.Move(ctx, domain.Movement{Email: "a@x", Main: dec("-10"), Category: domain.CategoryWithdrawal, Amount: dec("10"), At: t0.Add(time.Hour)})
	db.Move(ctx, domain.Movement{Email: "a@x", Main: dec("-10"), Category: domain.CategoryWithdrawal, Amount: dec("10"), At: t0.Add(-48 * time.Hour)})

	n, err := db.CountActivitySince(ctx, "a@x", domain.CategoryWithdrawal, t0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountActivitySince() = %d, want 1", n)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Credit
// ═══════════════════════════════════════════════════════════════════════════

func communityPayout(amount string, expected, at time.Time) domain.Payout {
	return domain.Payout{
		Email:       "a@x",
		Category:    domain.CategoryCommunity,
		Amount:      dec(amount),
		Description: "community commission",
		Marker:      domain.CheckpointMarker(domain.CategoryCommunity),
		Expected:    expected,
		At:          at,
	}
}

func TestCredit_AppliesAndAdvancesMarker(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	act, err := db.Credit(ctx, communityPayout("20", time.Time{}, t0))
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if act.ID == "" || act.Category != domain.CategoryCommunity || !act.Amount.Equal(dec("20")) {
		t.Errorf("activity = %+v", act)
	}

	b, _ := db.GetBalances(ctx, "a@x")
	if !b.Main.Equal(dec("20")) || !b.Committed().IsZero() {
		t.Errorf("balances = %+v, want 20 in main only", b)
	}
	at, ok, err := db.GetMarker(ctx, "a@x", domain.CheckpointMarker(domain.CategoryCommunity))
	if err != nil || !ok || !at.Equal(t0) {
		t.Errorf("GetMarker() = %v, %v, %v, want %v", at, ok, err, t0)
	}
	total, _ := db.TotalCredited(ctx, "a@x", domain.CategoryCommunity)
	if !total.Equal(dec("20")) {
		t.Errorf("TotalCredited() = %s, want 20", total)
	}
}

func TestCredit_RejectsNonPositive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	for _, amt := range []string{"0", "-5"} {
		if _, err := db.Credit(ctx, communityPayout(amt, time.Time{}, t0)); !errors.Is(err, domain.ErrNonPositiveAmount) {
			t.Errorf("Credit(%s) error = %v, want ErrNonPositiveAmount", amt, err)
		}
	}
	if _, ok, _ := db.GetMarker(ctx, "a@x", domain.CheckpointMarker(domain.CategoryCommunity)); ok {
		t.Error("rejected credit advanced the marker")
	}
}

func TestCredit_StaleMarkerWritesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	if _, err := db.Credit(ctx, communityPayout("20", time.Time{}, t0)); err != nil {
		t.Fatal(err)
	}
	// A second evaluator read the marker before the first credit landed.
	_, err := db.Credit(ctx, communityPayout("20", time.Time{}, t0.Add(time.Minute)))
	if !errors.Is(err, domain.ErrMarkerMoved) {
		t.Fatalf("error = %v, want ErrMarkerMoved", err)
	}
	// Wrong non-zero expectation also fails.
	_, err = db.Credit(ctx, communityPayout("20", t0.Add(-time.Hour), t0.Add(time.Minute)))
	if !errors.Is(err, domain.ErrMarkerMoved) {
		t.Fatalf("error = %v, want ErrMarkerMoved", err)
	}
	// Expecting a marker that was never set.
	_, err = db.Credit(ctx, domain.Payout{
		Email: "a@x", Category: domain.CategoryTeam, Amount: dec("1"),
		Marker: domain.CheckpointMarker(domain.CategoryTeam), Expected: t0, At: t0,
	})
	if !errors.Is(err, domain.ErrMarkerMoved) {
		t.Fatalf("error = %v, want ErrMarkerMoved", err)
	}

	b, _ := db.GetBalances(ctx, "a@x")
	if !b.Main.Equal(dec("20")) {
		t.Errorf("Main = %s, want 20 (only first credit applied)", b.Main)
	}
	acts, _ := db.ListActivity(ctx, "a@x", 10)
	if len(acts) != 1 {
		t.Errorf("len(activity) = %d, want 1", len(acts))
	}
}

func TestCredit_ChainedPayoutsOnOneMarker(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	if _, err := db.Credit(ctx, communityPayout("10", time.Time{}, t0)); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Credit(ctx, communityPayout("5", t0, t0)); err != nil {
		t.Fatalf("chained Credit() error: %v", err)
	}
	b, _ := db.GetBalances(ctx, "a@x")
	if !b.Main.Equal(dec("15")) {
		t.Errorf("Main = %s, want 15", b.Main)
	}
}

func TestCredit_ConcurrentSameWindowPaysOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.Credit(ctx, communityPayout("20", time.Time{}, t0.Add(time.Duration(i)*time.Second)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, domain.ErrMarkerMoved):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful credits = %d, want 1", ok)
	}
	b, _ := db.GetBalances(ctx, "a@x")
	if !b.Main.Equal(dec("20")) {
		t.Errorf("Main = %s, want 20", b.Main)
	}
}

func TestCredit_UnknownUser(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Credit(context.Background(), domain.Payout{Email: "ghost@x", Amount: dec("1"), At: t0})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestListMarkers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "a@x", "A", "")
	db.Credit(ctx, communityPayout("1", time.Time{}, t0))
	db.Credit(ctx, domain.Payout{
		Email: "a@x", Category: domain.CategorySalary, Amount: dec("300"),
		Marker: domain.ClaimMarker(domain.KindSalary, "gold"), At: t0.Add(time.Hour),
	})

	m, err := db.ListMarkers(ctx, "a@x")
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 2 {
		t.Fatalf("len(markers) = %d, want 2", len(m))
	}
	if !m["claim:salary:gold"].Equal(t0.Add(time.Hour)) {
		t.Errorf("salary claim = %v", m["claim:salary:gold"])
	}
}
