package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskyield/taskyield/internal/domain"
)

// ─── Reward Rules ───────────────────────────────────────────────────────────
// Four independent tables. Position preserves admin ordering.

// ListRules returns all four collections, including disabled rules.
func (db *DB) ListRules(ctx context.Context) (domain.RuleSet, error) {
	var rs domain.RuleSet
	var err error
	if rs.TeamRewards, err = db.listTeamRewards(ctx); err != nil {
		return rs, fmt.Errorf("team rewards: %w", err)
	}
	if rs.TeamSizeRewards, err = db.listTeamSizeRewards(ctx); err != nil {
		return rs, fmt.Errorf("team size rewards: %w", err)
	}
	if rs.Salaries, err = db.listSalaries(ctx); err != nil {
		return rs, fmt.Errorf("salary packages: %w", err)
	}
	if rs.Community, err = db.listCommunity(ctx); err != nil {
		return rs, fmt.Errorf("community rules: %w", err)
	}
	return rs, nil
}

func (db *DB) listTeamRewards(ctx context.Context) ([]domain.TeamReward, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, required_amount, level, reward_amount, starts_at, duration_days, enabled
		FROM team_rewards ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TeamReward
	for rows.Next() {
		var (
			r       domain.TeamReward
			starts  sql.NullString
			enabled int
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.RequiredAmount, &r.Level, &r.RewardAmount, &starts, &r.DurationDays, &enabled); err != nil {
			return nil, err
		}
		at, err := scanNullTime(starts)
		if err != nil {
			return nil, err
		}
		if at != nil {
			r.StartsAt = *at
		}
		r.Enabled = enabled == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) listTeamSizeRewards(ctx context.Context) ([]domain.TeamSizeReward, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, required_active_members, level, user_email, reward_amount, enabled
		FROM team_size_rewards ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TeamSizeReward
	for rows.Next() {
		var r domain.TeamSizeReward
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.RequiredActiveMembers, &r.Level, &r.UserEmail, &r.RewardAmount, &enabled); err != nil {
			return nil, err
		}
		r.Enabled = enabled == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) listSalaries(ctx context.Context) ([]domain.SalaryPackage, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, level, user_email, amount, period_days, enabled
		FROM salary_packages ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SalaryPackage
	for rows.Next() {
		var r domain.SalaryPackage
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.Level, &r.UserEmail, &r.Amount, &r.PeriodDays, &enabled); err != nil {
			return nil, err
		}
		r.Enabled = enabled == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) listCommunity(ctx context.Context) ([]domain.CommunityRule, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, required_level, required_direct_referrals, required_team_size, commission_rate, enabled
		FROM community_rules ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CommunityRule
	for rows.Next() {
		var r domain.CommunityRule
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.RequiredLevel, &r.RequiredDirectReferrals, &r.RequiredTeamSize, &r.CommissionRate, &enabled); err != nil {
			return nil, err
		}
		r.Enabled = enabled == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceRules swaps all four collections in one transaction.
// Claim markers are keyed by rule ID, so keeping an ID keeps its claims.
func (db *DB) ReplaceRules(ctx context.Context, rs domain.RuleSet) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"team_rewards", "team_size_rewards", "salary_packages", "community_rules"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return err
			}
		}
		for i, r := range rs.TeamRewards {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO team_rewards (id, position, name, required_amount, level, reward_amount, starts_at, duration_days, enabled)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.ID, i, r.Name, r.RequiredAmount, r.Level, r.RewardAmount, nullTime(&r.StartsAt), r.DurationDays, boolInt(r.Enabled)); err != nil {
				return fmt.Errorf("team reward %s: %w", r.ID, err)
			}
		}
		for i, r := range rs.TeamSizeRewards {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO team_size_rewards (id, position, name, required_active_members, level, user_email, reward_amount, enabled)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, r.ID, i, r.Name, r.RequiredActiveMembers, r.Level, r.UserEmail, r.RewardAmount, boolInt(r.Enabled)); err != nil {
				return fmt.Errorf("team size reward %s: %w", r.ID, err)
			}
		}
		for i, r := range rs.Salaries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO salary_packages (id, position, name, level, user_email, amount, period_days, enabled)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, r.ID, i, r.Name, r.Level, r.UserEmail, r.Amount, r.PeriodDays, boolInt(r.Enabled)); err != nil {
				return fmt.Errorf("salary package %s: %w", r.ID, err)
			}
		}
		for i, r := range rs.Community {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO community_rules (id, position, name, required_level, required_direct_referrals, required_team_size, commission_rate, enabled)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, r.ID, i, r.Name, r.RequiredLevel, r.RequiredDirectReferrals, r.RequiredTeamSize, r.CommissionRate, boolInt(r.Enabled)); err != nil {
				return fmt.Errorf("community rule %s: %w", r.ID, err)
			}
		}
		return nil
	})
}
