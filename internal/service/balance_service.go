package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/repository"
)

// LimitsCommand updates the pay-per-use spending controls.
type LimitsCommand struct {
	MonthlyLimit       int64
	ChargeLimitEnabled bool
	WarningEnabled     bool
}

// BalanceView is a balance with the budget it leaves in the current period.
type BalanceView struct {
	Balance *model.Balance
	Budget  *Budget
}

type BalanceService struct {
	db       *gorm.DB
	balances *repository.BalanceRepository
	txns     *repository.TransactionRepository
	subs     *repository.SubscriptionRepository
	packages *repository.PackageRepository
	usage    *UsageService
	quota    *QuotaService
	cfg      config.BillingConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewBalanceService(db *gorm.DB, usage *UsageService, quota *QuotaService, cfg config.BillingConfig, logger *zap.Logger) *BalanceService {
	return &BalanceService{
		db:       db,
		balances: repository.NewBalanceRepository(db),
		txns:     repository.NewTransactionRepository(db),
		subs:     repository.NewSubscriptionRepository(db),
		packages: repository.NewPackageRepository(db),
		usage:    usage,
		quota:    quota,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *BalanceService) Get(ctx context.Context, userID int64) (*BalanceView, error) {
	balance, err := s.balances.WithTx(s.db.WithContext(ctx)).GetOrCreate(userID, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	budget, err := s.usage.Budget(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{Balance: balance, Budget: budget}, nil
}

// Refill credits a paid top-up. A repeated provider transaction id is a no-op.
func (s *BalanceService) Refill(ctx context.Context, userID int64, amount int64, providerTxnID string) (*model.Balance, error) {
	if amount <= 0 {
		return nil, xerrors.Validation("amount", "must be positive")
	}

	var (
		balance *model.Balance
		change  GateChange
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balances := s.balances.WithTx(tx)
		if _, err := balances.GetOrCreate(userID, s.cfg.Currency); err != nil {
			return err
		}
		locked, err := balances.GetForUpdate(userID)
		if err != nil {
			return err
		}

		txns := s.txns.WithTx(tx)
		seen, err := txns.ExistsByProviderTxn(model.ProviderCard, providerTxnID)
		if err != nil {
			return err
		}
		if seen {
			balance = locked
			return xerrors.ErrIdempotentNoop
		}

		balanceID := locked.ID
		if err := txns.Create(&model.Transaction{
			UserID:                userID,
			BalanceID:             &balanceID,
			Provider:              model.ProviderCard,
			Type:                  model.TransactionBalance,
			Amount:                amount,
			Currency:              locked.Currency,
			ProviderTransactionID: providerTxnID,
		}); err != nil {
			return err
		}
		if err := balances.Refill(locked.ID, amount, s.now()); err != nil {
			return err
		}

		if change, err = s.restoreTx(tx, userID); err != nil {
			return err
		}
		balance, err = balances.GetByUserID(userID)
		return err
	})
	if errors.Is(err, xerrors.ErrIdempotentNoop) {
		s.logger.Info("refill already applied", zap.Int64("user_id", userID), zap.String("provider_transaction_id", providerTxnID))
		return balance, nil
	}
	if err != nil {
		return nil, err
	}

	s.quota.publish(ctx, change)
	s.logger.Info("balance refilled", zap.Int64("user_id", userID), zap.Int64("amount", amount))
	return balance, nil
}

// UpdateLimits changes the spending controls. Raising the limit may restore experiences.
func (s *BalanceService) UpdateLimits(ctx context.Context, userID int64, cmd LimitsCommand) (*model.Balance, error) {
	if cmd.MonthlyLimit < 0 {
		return nil, xerrors.Validation("monthly_limit", "must not be negative")
	}
	if cmd.ChargeLimitEnabled && cmd.MonthlyLimit == 0 {
		return nil, xerrors.Validation("monthly_limit", "is required when the charge limit is enabled")
	}

	var (
		balance *model.Balance
		change  GateChange
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balances := s.balances.WithTx(tx)
		current, err := balances.GetOrCreate(userID, s.cfg.Currency)
		if err != nil {
			return err
		}
		if err := balances.UpdateLimits(current.ID, cmd.MonthlyLimit, cmd.ChargeLimitEnabled, cmd.WarningEnabled); err != nil {
			return err
		}
		if change, err = s.restoreTx(tx, userID); err != nil {
			return err
		}
		balance, err = balances.GetByUserID(userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.quota.publish(ctx, change)
	return balance, nil
}

func (s *BalanceService) restoreTx(tx *gorm.DB, userID int64) (GateChange, error) {
	sub, pkg, err := currentLive(s.subs.WithTx(tx), s.packages.WithTx(tx), userID, s.now())
	if err != nil || sub == nil {
		return GateChange{UserID: userID}, err
	}
	return s.usage.restoreTx(tx, sub, pkg, pkg.ExperiencesNumber)
}
