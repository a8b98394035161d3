package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/repository"
	"github.com/qs3c/experience_billing/internal/usage"
)

// UsageReport is what one recognition report changed.
type UsageReport struct {
	ExperienceID int64
	Outcome      usage.Outcome
	Currency     string
}

// Budget is the user's remaining view budget in the current period.
type Budget struct {
	FreeLeft  int64
	PaidLeft  int64
	Currency  string
	IsTrial   bool
	Exhausted bool
}

type UsageService struct {
	db          *gorm.DB
	experiences *repository.ExperienceRepository
	subs        *repository.SubscriptionRepository
	packages    *repository.PackageRepository
	balances    *repository.BalanceRepository
	charges     *repository.ChargeRepository
	txns        *repository.TransactionRepository
	views       *repository.TargetViewRepository
	quota       *QuotaService
	notifier    Notifier
	cfg         config.BillingConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewUsageService(db *gorm.DB, quota *QuotaService, notifier Notifier, cfg config.BillingConfig, logger *zap.Logger) *UsageService {
	return &UsageService{
		db:          db,
		experiences: repository.NewExperienceRepository(db),
		subs:        repository.NewSubscriptionRepository(db),
		packages:    repository.NewPackageRepository(db),
		balances:    repository.NewBalanceRepository(db),
		charges:     repository.NewChargeRepository(db),
		txns:        repository.NewTransactionRepository(db),
		views:       repository.NewTargetViewRepository(db),
		quota:       quota,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ReportRecognitions applies a cumulative recognition count for one experience.
func (s *UsageService) ReportRecognitions(ctx context.Context, experienceID int64, total int64) (*UsageReport, error) {
	if total < 0 {
		return nil, xerrors.Validation("total", "must not be negative")
	}

	var (
		report  *UsageReport
		change  GateChange
		notices []Notice
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exp, err := s.experiences.WithTx(tx).GetByID(experienceID)
		if err != nil {
			return notFound(err)
		}
		userID := exp.UserID

		balances := s.balances.WithTx(tx)
		if _, err := balances.GetOrCreate(userID, s.cfg.Currency); err != nil {
			return err
		}
		balance, err := balances.GetForUpdate(userID)
		if err != nil {
			return err
		}

		sub, pkg, err := currentLive(s.subs.WithTx(tx), s.packages.WithTx(tx), userID, s.now())
		if err != nil {
			return err
		}
		if sub == nil {
			return xerrors.Validation("subscription", "user %d has no active subscription", userID)
		}

		in, err := s.inputTx(tx, balance, sub, pkg)
		if err != nil {
			return err
		}

		today := s.now()
		views := s.views.WithTx(tx)
		in.Total = total
		if in.PreviousViews, err = views.SumPrevious(exp.ID, today, pkg.IsTrial); err != nil {
			return err
		}
		row, err := views.GetDay(exp.ID, today, pkg.IsTrial)
		switch {
		case err == nil:
			in.TodayViews, in.HasToday = row.Views, true
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		out := usage.Compute(in)
		report = &UsageReport{ExperienceID: exp.ID, Outcome: out, Currency: balance.Currency}
		if out.Duplicate {
			return nil
		}

		if out.Increment != 0 {
			if err := views.AddViews(exp.ID, userID, today, pkg.IsTrial, out.Increment); err != nil {
				return err
			}
		}
		if out.Amount > 0 {
			if err := s.chargeTx(tx, balance, sub, exp, out); err != nil {
				return err
			}
		}
		if out.DisableAll {
			if change, err = s.quota.disableAllTx(tx, userID); err != nil {
				return err
			}
		}

		params := map[string]string{
			"experience_id": strconv.FormatInt(exp.ID, 10),
			"free_left":     strconv.FormatInt(out.FreeLeftAfter, 10),
			"paid_left":     strconv.FormatInt(out.PaidLeftAfter, 10),
			"currency":      balance.Currency,
		}
		for _, n := range out.Notifications {
			notices = append(notices, Notice{UserID: userID, Type: n, Params: params})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if report.Outcome.Duplicate {
		s.logger.Debug("duplicate recognition report", zap.Int64("experience_id", experienceID), zap.Int64("total", total))
		return report, nil
	}
	s.quota.publish(ctx, change)
	deliver(ctx, s.notifier, s.logger, notices)
	s.logger.Info("recognitions reported",
		zap.Int64("experience_id", experienceID),
		zap.Int64("delta", report.Outcome.Delta),
		zap.Int64("billed", report.Outcome.Billed),
		zap.Int64("amount", report.Outcome.Amount))
	return report, nil
}

// chargeTx debits the balance for the billed recognitions.
func (s *UsageService) chargeTx(tx *gorm.DB, balance *model.Balance, sub *model.Subscription, exp *model.Experience, out usage.Outcome) error {
	charge := &model.Charge{
		BalanceID:      balance.ID,
		ExperienceID:   exp.ID,
		SubscriptionID: sub.ID,
		Recognitions:   out.Billed,
		Amount:         out.Amount,
		Currency:       balance.Currency,
	}
	if err := s.charges.WithTx(tx).Create(charge); err != nil {
		return err
	}
	subID, balanceID := sub.ID, balance.ID
	txn := &model.Transaction{
		UserID:         exp.UserID,
		SubscriptionID: &subID,
		BalanceID:      &balanceID,
		Provider:       model.ProviderInternal,
		Type:           model.TransactionBalance,
		Amount:         -out.Amount,
		Currency:       balance.Currency,
		Metadata: datatypes.JSONMap{
			"charge_reference": charge.Reference,
			"experience_id":    exp.ID,
			"recognitions":     out.Billed,
		},
	}
	if err := s.txns.WithTx(tx).Create(txn); err != nil {
		return err
	}
	return s.balances.WithTx(tx).AddAmount(balance.ID, -out.Amount)
}

// inputTx snapshots the period and balance figures a report or budget check reads.
func (s *UsageService) inputTx(tx *gorm.DB, balance *model.Balance, sub *model.Subscription, pkg *model.Package) (usage.Input, error) {
	periodViews, err := s.views.WithTx(tx).SumUserSince(sub.UserID, sub.PeriodStartedAt, pkg.IsTrial)
	if err != nil {
		return usage.Input{}, err
	}
	// rows are per day; views from before the period began that day belong to the old period
	if !pkg.IsTrial {
		periodViews -= sub.PeriodStartViews
		if periodViews < 0 {
			periodViews = 0
		}
	}
	periodCharges, err := s.charges.WithTx(tx).SumSince(balance.ID, sub.PeriodStartedAt)
	if err != nil {
		return usage.Input{}, err
	}
	return usage.Input{
		PeriodViews:         periodViews,
		FreeAllowance:       pkg.RecognitionsNumber,
		IsTrial:             pkg.IsTrial,
		BalanceAmount:       balance.Amount,
		ChargeLimitEnabled:  balance.IsChargeLimitEnabled,
		MonthlyLimit:        balance.MonthlyLimit,
		PeriodCharges:       periodCharges,
		LimitWarningEnabled: balance.IsLimitWarningEnabled,
		LastRefillAmount:    balance.LastRefillAmount,
		RecognitionPrice:    s.cfg.RecognitionPrice,
	}, nil
}

// budgetTx reports the remaining budget of sub in the current period.
func (s *UsageService) budgetTx(tx *gorm.DB, sub *model.Subscription, pkg *model.Package) (Budget, error) {
	balance, err := s.balances.WithTx(tx).GetOrCreate(sub.UserID, s.cfg.Currency)
	if err != nil {
		return Budget{}, err
	}
	in, err := s.inputTx(tx, balance, sub, pkg)
	if err != nil {
		return Budget{}, err
	}
	free, paid := usage.Remaining(in)
	return Budget{
		FreeLeft:  free,
		PaidLeft:  paid,
		Currency:  balance.Currency,
		IsTrial:   pkg.IsTrial,
		Exhausted: free <= 0 && paid <= 0,
	}, nil
}

// restoreTx trims the user's experiences to capacity and re-enables into free slots when the
// period budget is not exhausted.
func (s *UsageService) restoreTx(tx *gorm.DB, sub *model.Subscription, pkg *model.Package, capacity int) (GateChange, error) {
	budget, err := s.budgetTx(tx, sub, pkg)
	if err != nil {
		return GateChange{}, err
	}
	return s.quota.restoreTx(tx, sub.UserID, capacity, !budget.Exhausted)
}

// Budget reports the user's remaining free and paid budget.
func (s *UsageService) Budget(ctx context.Context, userID int64) (*Budget, error) {
	db := s.db.WithContext(ctx)
	sub, pkg, err := currentLive(s.subs.WithTx(db), s.packages.WithTx(db), userID, s.now())
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &Budget{Currency: s.cfg.Currency, Exhausted: true}, nil
	}
	budget, err := s.budgetTx(db, sub, pkg)
	if err != nil {
		return nil, err
	}
	return &budget, nil
}
