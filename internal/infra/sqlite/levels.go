package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskyield/taskyield/internal/domain"
)

// ─── Level Table ────────────────────────────────────────────────────────────

// ListLevels returns the tier table ordered by tier number.
func (db *DB) ListLevels(ctx context.Context) (domain.LevelTable, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT number, min_amount, referrals, daily_rate, task_quota,
		       monthly_withdrawals, min_withdrawal, max_withdrawal, withdrawal_fee
		FROM levels ORDER BY number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var table domain.LevelTable
	for rows.Next() {
		var l domain.Level
		if err := rows.Scan(&l.Number, &l.MinAmount, &l.Referrals, &l.DailyRate, &l.TaskQuota,
			&l.MonthlyWithdrawals, &l.MinWithdrawal, &l.MaxWithdrawal, &l.WithdrawalFee); err != nil {
			return nil, err
		}
		table = append(table, l)
	}
	return table, rows.Err()
}

// ReplaceLevels swaps the whole tier table in one transaction.
// Changes apply from the next evaluation; nothing is recomputed.
func (db *DB) ReplaceLevels(ctx context.Context, levels domain.LevelTable) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM levels`); err != nil {
			return err
		}
		for _, l := range levels {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO levels (number, min_amount, referrals, daily_rate, task_quota,
				                    monthly_withdrawals, min_withdrawal, max_withdrawal, withdrawal_fee)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, l.Number, l.MinAmount, l.Referrals, l.DailyRate, l.TaskQuota,
				l.MonthlyWithdrawals, l.MinWithdrawal, l.MaxWithdrawal, l.WithdrawalFee)
			if err != nil {
				return fmt.Errorf("insert level %d: %w", l.Number, err)
			}
		}
		return nil
	})
}
