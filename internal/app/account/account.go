// Package account handles signup and the admin-side account controls.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskyield/taskyield/internal/domain"
)

const codeAttempts = 5

// Service manages user accounts.
type Service struct {
	store  domain.UserDirectory
	logger *zap.Logger
	now    func() time.Time
}

// New creates an account service.
func New(store domain.UserDirectory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Register creates an inactive user. A non-empty referredBy must name an
// existing referral code; since the referrer exists before the new user,
// signup can never close a cycle.
func (s *Service) Register(ctx context.Context, email, referredBy string) (domain.User, error) {
	email = normalizeEmail(email)
	referredBy = strings.TrimSpace(referredBy)

	if referredBy != "" {
		if _, err := s.store.GetUserByCode(ctx, referredBy); err != nil {
			return domain.User{}, err
		}
	}

	code, err := s.newCode(ctx)
	if err != nil {
		return domain.User{}, err
	}

	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		ReferralCode: code,
		ReferredBy:   referredBy,
		Status:       domain.StatusInactive,
		CreatedAt:    s.now(),
	}
	if err := s.store.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user registered",
		zap.String("email", u.Email),
		zap.String("code", u.ReferralCode),
		zap.String("referred_by", u.ReferredBy),
	)
	return u, nil
}

// newCode returns a referral code not yet taken.
func (s *Service) newCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
		_, err := s.store.GetUserByCode(ctx, code)
		if errors.Is(err, domain.ErrReferrerNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free referral code after %d attempts", codeAttempts)
}

// SetOverride pins the user's tier. A nil level clears the override.
func (s *Service) SetOverride(ctx context.Context, email string, level *int) (domain.User, error) {
	if level != nil && *level < 0 {
		return domain.User{}, domain.ErrInvalidOverride
	}
	u, err := s.store.GetUser(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, err
	}
	u.OverrideLevel = level
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("tier override changed", zap.String("email", u.Email), zap.Intp("level", level))
	return u, nil
}

// SetStatus changes the soft account state. The first move to active
// stamps ActivatedAt.
func (s *Service) SetStatus(ctx context.Context, email string, status domain.UserStatus) (domain.User, error) {
	if !status.Valid() {
		return domain.User{}, fmt.Errorf("%q: %w", status, domain.ErrInvalidStatus)
	}
	u, err := s.store.GetUser(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, err
	}
	u.Status = status
	if status == domain.StatusActive {
		u.Activated = true
		if u.ActivatedAt == nil {
			now := s.now()
			u.ActivatedAt = &now
		}
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	s.logger.Info("status changed", zap.String("email", u.Email), zap.String("status", string(status)))
	return u, nil
}

// AddPurchasedReferrals credits n non-organic referrals and returns the
// new total.
func (s *Service) AddPurchasedReferrals(ctx context.Context, email string, n int) (int, error) {
	if n <= 0 {
		return 0, domain.ErrInvalidCount
	}
	total, err := s.store.AddPurchasedReferrals(ctx, normalizeEmail(email), n)
	if err != nil {
		return 0, err
	}
	s.logger.Info("purchased referrals added", zap.String("email", email), zap.Int("n", n), zap.Int("total", total))
	return total, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
