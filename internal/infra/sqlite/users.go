package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/taskyield/taskyield/internal/domain"
)

// ─── User Operations ────────────────────────────────────────────────────────

const userColumns = `id, email, referral_code, referred_by, status, activated, override_level, created_at, activated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u         domain.User
		status    string
		activated int
		override  sql.NullInt64
		created   string
		activeAt  sql.NullString
	)
	if err := r.Scan(&u.ID, &u.Email, &u.ReferralCode, &u.ReferredBy, &status, &activated, &override, &created, &activeAt); err != nil {
		return domain.User{}, err
	}
	u.Status = domain.UserStatus(status)
	u.Activated = activated == 1
	if override.Valid {
		n := int(override.Int64)
		u.OverrideLevel = &n
	}
	var err error
	if u.CreatedAt, err = parseTime(created); err != nil {
		return domain.User{}, err
	}
	if u.ActivatedAt, err = scanNullTime(activeAt); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func nullOverride(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// InsertUser creates a user and an empty balance row.
func (db *DB) InsertUser(ctx context.Context, u domain.User) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, u.ID, u.Email, u.ReferralCode, u.ReferredBy, string(u.Status), boolInt(u.Activated),
			nullOverride(u.OverrideLevel), formatTime(u.CreatedAt), nullTime(u.ActivatedAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("insert user %s: %w", u.Email, domain.ErrUserExists)
			}
			return fmt.Errorf("insert user %s: %w", u.Email, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO balances (email, updated_at) VALUES (?, ?)
			ON CONFLICT(email) DO NOTHING
		`, u.Email, formatTime(u.CreatedAt))
		return err
	})
}

// GetUser retrieves a user by email.
func (db *DB) GetUser(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(db.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if isNoRows(err) {
		return domain.User{}, fmt.Errorf("%s: %w", email, domain.ErrUserNotFound)
	}
	return u, err
}

// GetUserByCode retrieves the owner of a referral code.
func (db *DB) GetUserByCode(ctx context.Context, code string) (domain.User, error) {
	u, err := scanUser(db.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code))
	if isNoRows(err) {
		return domain.User{}, fmt.Errorf("code %s: %w", code, domain.ErrReferrerNotFound)
	}
	return u, err
}

// ListUsers returns every user in signup order.
func (db *DB) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser persists the mutable account fields. Email, code and upline
// never change after signup.
func (db *DB) UpdateUser(ctx context.Context, u domain.User) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE users SET
			status         = ?,
			activated      = ?,
			override_level = ?,
			activated_at   = ?
		WHERE email = ?
	`, string(u.Status), boolInt(u.Activated), nullOverride(u.OverrideLevel), nullTime(u.ActivatedAt), u.Email)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.Email, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", u.Email, domain.ErrUserNotFound)
	}
	return nil
}

// ─── Purchased Referrals ────────────────────────────────────────────────────

// AddPurchasedReferrals adds n referral credits and returns the new total.
func (db *DB) AddPurchasedReferrals(ctx context.Context, email string, n int) (int, error) {
	var total int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET purchased_referrals = purchased_referrals + ? WHERE email = ?
		`, n, email)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%s: %w", email, domain.ErrUserNotFound)
		}
		return tx.QueryRowContext(ctx, `SELECT purchased_referrals FROM users WHERE email = ?`, email).Scan(&total)
	})
	return total, err
}

// PurchasedReferrals returns non-zero purchased credits keyed by email.
func (db *DB) PurchasedReferrals(ctx context.Context) (map[string]int, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT email, purchased_referrals FROM users WHERE purchased_referrals != 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var email string
		var n int
		if err := rows.Scan(&email, &n); err != nil {
			return nil, err
		}
		out[email] = n
	}
	return out, rows.Err()
}
