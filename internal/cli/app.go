package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/taskyield/taskyield/internal/app/account"
	"github.com/taskyield/taskyield/internal/app/commission"
	"github.com/taskyield/taskyield/internal/app/wallet"
	"github.com/taskyield/taskyield/internal/daemon"
	"github.com/taskyield/taskyield/internal/domain"
	"github.com/taskyield/taskyield/internal/infra/lock"
	"github.com/taskyield/taskyield/internal/infra/logging"
	"github.com/taskyield/taskyield/internal/infra/observability"
	"github.com/taskyield/taskyield/internal/infra/sqlite"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg      daemon.Config
	logger   *zap.Logger
	db       *sqlite.DB
	locker   lock.Locker
	tracer   *observability.Tracer
	engine   *commission.Engine
	wallet   *wallet.Wallet
	accounts *account.Service
	closers  []func() error
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.db, err = sqlite.Open(cfg.DataDir(), sqlite.WithLogger(logging.Named(logger, "migrate")))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)

	if err := a.openLocker(); err != nil {
		a.Close()
		return nil, err
	}

	a.tracer = observability.NewTracer(observability.TracerConfig{
		Enabled:  cfg.Tracing.Enabled,
		MaxSpans: cfg.Tracing.MaxSpans,
	})
	a.engine = commission.New(commission.Config{
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		UserTimeout:   cfg.UserTimeout(),
		Plan:          cfg.Commission,
	}, a.db, a.locker, a.tracer, logging.Named(logger, "engine"))
	a.wallet = wallet.New(a.db, a.locker, logging.Named(logger, "wallet"))
	a.accounts = account.New(a.db, logging.Named(logger, "account"))
	return a, nil
}

func (a *app) openLocker() error {
	if a.cfg.Engine.LockBackend != "redis" {
		a.locker = lock.NewLocal()
		return nil
	}
	client, err := lock.Dial(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	a.locker = lock.NewRedis(client, lock.RedisConfig{
		Prefix: a.cfg.Redis.Prefix,
		TTL:    a.cfg.LockTTL(),
	})
	a.logger.Info("using redis lock", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.logger.Sync()
}

// snapshot reads the population for the inspection commands.
func (a *app) snapshot(ctx context.Context) (*domain.Snapshot, domain.LevelTable, error) {
	users, err := a.db.ListUsers(ctx)
	if err != nil {
		return nil, nil, err
	}
	balances, err := a.db.ListBalances(ctx)
	if err != nil {
		return nil, nil, err
	}
	purchased, err := a.db.PurchasedReferrals(ctx)
	if err != nil {
		return nil, nil, err
	}
	levels, err := a.db.ListLevels(ctx)
	if err != nil {
		return nil, nil, err
	}
	return domain.NewSnapshot(users, balances, nil, purchased), levels, nil
}
