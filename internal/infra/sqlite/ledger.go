package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskyield/taskyield/internal/domain"
)

// ─── Balances ───────────────────────────────────────────────────────────────

// GetBalances returns a user's three sub-balances.
func (db *DB) GetBalances(ctx context.Context, email string) (domain.Balances, error) {
	b, err := readBalances(ctx, db.db, email)
	if isNoRows(err) {
		return domain.Balances{}, fmt.Errorf("%s: %w", email, domain.ErrUserNotFound)
	}
	return b, err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBalances(ctx context.Context, q queryRower, email string) (domain.Balances, error) {
	b := domain.Balances{Email: email}
	err := q.QueryRowContext(ctx, `SELECT main, task, interest FROM balances WHERE email = ?`, email).
		Scan(&b.Main, &b.Task, &b.Interest)
	return b, err
}

// ListBalances returns every balance row keyed by email.
func (db *DB) ListBalances(ctx context.Context) (map[string]domain.Balances, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT email, main, task, interest FROM balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Balances)
	for rows.Next() {
		var b domain.Balances
		if err := rows.Scan(&b.Email, &b.Main, &b.Task, &b.Interest); err != nil {
			return nil, err
		}
		out[b.Email] = b
	}
	return out, rows.Err()
}

// ─── Task Completions ───────────────────────────────────────────────────────

// ListCompletions returns completions at or after since, keyed by email,
// oldest first.
func (db *DB) ListCompletions(ctx context.Context, since time.Time) (map[string][]domain.TaskCompletion, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, email, earned, completed_at FROM task_completions
		WHERE completed_at >= ? ORDER BY completed_at, id
	`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.TaskCompletion)
	for rows.Next() {
		var c domain.TaskCompletion
		var at string
		if err := rows.Scan(&c.ID, &c.Email, &c.Earned, &at); err != nil {
			return nil, err
		}
		if c.CompletedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out[c.Email] = append(out[c.Email], c)
	}
	return out, rows.Err()
}

// CountCompletionsSince counts a user's completions at or after since.
func (db *DB) CountCompletionsSince(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_completions WHERE email = ? AND completed_at >= ?
	`, email, formatTime(since)).Scan(&n)
	return n, err
}

// ─── Activity Log ───────────────────────────────────────────────────────────

func insertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activities (id, email, category, amount, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Email, string(a.Category), a.Amount, a.Description, formatTime(a.CreatedAt))
	return err
}

// ListActivity returns a user's most recent activity rows, newest first.
func (db *DB) ListActivity(ctx context.Context, email string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, email, category, amount, description, created_at FROM activities
		WHERE email = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var cat, at string
		if err := rows.Scan(&a.ID, &a.Email, &cat, &a.Amount, &a.Description, &at); err != nil {
			return nil, err
		}
		a.Category = domain.Category(cat)
		if a.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountActivitySince counts a user's activity rows of one category at or
// after since.
func (db *DB) CountActivitySince(ctx context.Context, email string, c domain.Category, since time.Time) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activities WHERE email = ? AND category = ? AND created_at >= ?
	`, email, string(c), formatTime(since)).Scan(&n)
	return n, err
}

// ─── Fund Movements ─────────────────────────────────────────────────────────

// Move applies signed deltas to a user's sub-balances, logs the activity and
// optionally the task completion, all in one transaction.
// A movement that would leave any sub-balance negative is rejected whole.
func (db *DB) Move(ctx context.Context, m domain.Movement) (domain.Balances, error) {
	var after domain.Balances
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		before, err := readBalances(ctx, tx, m.Email)
		if isNoRows(err) {
			return fmt.Errorf("%s: %w", m.Email, domain.ErrUserNotFound)
		}
		if err != nil {
			return err
		}

		after = domain.Balances{
			Email:    m.Email,
			Main:     before.Main.Add(m.Main),
			Task:     before.Task.Add(m.Task),
			Interest: before.Interest.Add(m.Interest),
		}
		if after.Main.IsNegative() || after.Task.IsNegative() || after.Interest.IsNegative() {
			return domain.ErrInsufficientFunds
		}
		if err := writeBalances(ctx, tx, after, m.At); err != nil {
			return err
		}

		if m.Category != "" {
			err := insertActivity(ctx, tx, domain.Activity{
				ID:          uuid.NewString(),
				Email:       m.Email,
				Category:    m.Category,
				Amount:      m.Amount,
				Description: m.Description,
				CreatedAt:   m.At,
			})
			if err != nil {
				return fmt.Errorf("log activity: %w", err)
			}
		}

		if c := m.Completion; c != nil {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO task_completions (id, email, earned, completed_at) VALUES (?, ?, ?, ?)
			`, c.ID, m.Email, c.Earned, formatTime(c.CompletedAt))
			if err != nil {
				return fmt.Errorf("log completion: %w", err)
			}
		}
		return nil
	})
	return after, err
}

func writeBalances(ctx context.Context, tx *sql.Tx, b domain.Balances, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE balances SET main = ?, task = ?, interest = ?, updated_at = ? WHERE email = ?
	`, b.Main, b.Task, b.Interest, formatTime(at), b.Email)
	return err
}

// ─── Commission Credit ──────────────────────────────────────────────────────

// Credit applies a payout to the target's spendable balance, appends the
// activity row and advances the payout's marker, in one transaction.
//
// The marker must still hold p.Expected (zero means never set), otherwise
// another credit for the same window already landed and ErrMarkerMoved is
// returned with nothing written. Non-positive amounts are rejected.
func (db *DB) Credit(ctx context.Context, p domain.Payout) (domain.Activity, error) {
	if !p.Amount.IsPositive() {
		return domain.Activity{}, domain.ErrNonPositiveAmount
	}

	act := domain.Activity{
		ID:          uuid.NewString(),
		Email:       p.Email,
		Category:    p.Category,
		Amount:      p.Amount,
		Description: p.Description,
		CreatedAt:   p.At,
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkMarker(ctx, tx, p); err != nil {
			return err
		}

		b, err := readBalances(ctx, tx, p.Email)
		if isNoRows(err) {
			return fmt.Errorf("%s: %w", p.Email, domain.ErrUserNotFound)
		}
		if err != nil {
			return err
		}
		b.Main = b.Main.Add(p.Amount)
		if err := writeBalances(ctx, tx, b, p.At); err != nil {
			return err
		}

		if err := insertActivity(ctx, tx, act); err != nil {
			return fmt.Errorf("log activity: %w", err)
		}

		if p.Marker != "" {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO credit_markers (email, marker, at) VALUES (?, ?, ?)
				ON CONFLICT(email, marker) DO UPDATE SET at = excluded.at
			`, p.Email, p.Marker, formatTime(p.At))
			if err != nil {
				return fmt.Errorf("advance marker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return act, nil
}

func checkMarker(ctx context.Context, tx *sql.Tx, p domain.Payout) error {
	if p.Marker == "" {
		return nil
	}
	var stored string
	err := tx.QueryRowContext(ctx, `
		SELECT at FROM credit_markers WHERE email = ? AND marker = ?
	`, p.Email, p.Marker).Scan(&stored)
	switch {
	case isNoRows(err):
		if !p.Expected.IsZero() {
			return domain.ErrMarkerMoved
		}
		return nil
	case err != nil:
		return err
	}
	if p.Expected.IsZero() || stored != formatTime(p.Expected) {
		return domain.ErrMarkerMoved
	}
	return nil
}

// ─── Markers ────────────────────────────────────────────────────────────────

// GetMarker returns the stored time for one marker.
func (db *DB) GetMarker(ctx context.Context, email, marker string) (time.Time, bool, error) {
	var stored string
	err := db.db.QueryRowContext(ctx, `
		SELECT at FROM credit_markers WHERE email = ? AND marker = ?
	`, email, marker).Scan(&stored)
	if isNoRows(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := parseTime(stored)
	return at, err == nil, err
}

// ListMarkers returns all markers for a user.
func (db *DB) ListMarkers(ctx context.Context, email string) (map[string]time.Time, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT marker, at FROM credit_markers WHERE email = ?`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var marker, stored string
		if err := rows.Scan(&marker, &stored); err != nil {
			return nil, err
		}
		at, err := parseTime(stored)
		if err != nil {
			return nil, err
		}
		out[marker] = at
	}
	return out, rows.Err()
}

// TotalCredited sums a user's activity amounts for one category.
func (db *DB) TotalCredited(ctx context.Context, email string, c domain.Category) (decimal.Decimal, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT amount FROM activities WHERE email = ? AND category = ?`, email, string(c))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}
