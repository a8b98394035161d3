package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/repository"
	"github.com/qs3c/experience_billing/internal/statemachine"
)

type AssignCommand struct {
	PackageID    int64
	Provider     model.ProviderType
	PaymentNonce string
	Receipt      string
}

type ChangeCommand struct {
	PackageID    int64
	PaymentNonce string
}

// CurrentSubscription is the user's subscription with the packages it refers to.
type CurrentSubscription struct {
	Subscription *model.Subscription
	Package      *model.Package
	NextPlan     *model.Package
}

// Providers are the payment provider ports the engine calls.
type Providers struct {
	Card     cardbilling.Adapter
	Platform appstore.Adapter
	// PlatformPassword authenticates store server notifications.
	PlatformPassword string
}

// SubscriptionService runs subscription transitions: it loads a snapshot, calls the provider,
// asks the state machine for a result and persists it with its side effects.
type SubscriptionService struct {
	db        *gorm.DB
	users     *repository.UserRepository
	packages  *repository.PackageRepository
	subs      *repository.SubscriptionRepository
	balances  *repository.BalanceRepository
	txns      *repository.TransactionRepository
	views     *repository.TargetViewRepository
	scheduler *Scheduler
	quota     *QuotaService
	usage     *UsageService
	notifier  Notifier
	providers Providers
	cfg       config.BillingConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubscriptionService(
	db *gorm.DB,
	scheduler *Scheduler,
	quota *QuotaService,
	usage *UsageService,
	notifier Notifier,
	providers Providers,
	cfg config.BillingConfig,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		db:        db,
		users:     repository.NewUserRepository(db),
		packages:  repository.NewPackageRepository(db),
		subs:      repository.NewSubscriptionRepository(db),
		balances:  repository.NewBalanceRepository(db),
		txns:      repository.NewTransactionRepository(db),
		views:     repository.NewTargetViewRepository(db),
		scheduler: scheduler,
		quota:     quota,
		usage:     usage,
		notifier:  notifier,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *SubscriptionService) settings() statemachine.Settings {
	return statemachine.Settings{
		Period:             s.cfg.Period(),
		TrialPeriods:       s.cfg.TrialPeriods,
		ChargeNoticeLead:   time.Duration(s.cfg.ChargeNoticeLeadHours) * time.Hour,
		PlanChangeCooldown: time.Duration(s.cfg.PlanChangeCooldownMinutes) * time.Minute,
		PollRetry:          time.Duration(s.cfg.PollRetryHours) * time.Hour,
	}
}

// Assign subscribes the user to a package: the trial, a card plan or a store purchase.
func (s *SubscriptionService) Assign(ctx context.Context, userID int64, cmd AssignCommand) (*model.Subscription, error) {
	pkg, err := s.packages.GetByID(cmd.PackageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Validation("package_id", "package %d does not exist", cmd.PackageID)
		}
		return nil, err
	}

	ev := statemachine.Event{Source: statemachine.SourceUserAssign, Package: pkg, Provider: cmd.Provider}
	if pkg.IsTrial {
		ev.Provider = model.ProviderInternal
	}
	if ev.Provider == model.ProviderPlatform {
		ev.Platform = &statemachine.PlatformPayload{Receipt: cmd.Receipt}
	}

	st, err := s.assignState(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Validate(st, ev); err != nil {
		return nil, err
	}

	var user *model.User
	switch ev.Provider {
	case model.ProviderCard:
		if user, err = s.users.GetByID(userID); err != nil {
			return nil, notFound(err)
		}
		ps, err := s.providers.Card.CreateSubscription(ctx, cardbilling.CreateRequest{
			CustomerID:   user.CardCustomerID,
			Email:        user.Email,
			PaymentNonce: cmd.PaymentNonce,
			PlanID:       pkg.PlanID,
		})
		if err != nil {
			s.logger.Warn("card subscription rejected", zap.Int64("user_id", userID), zap.Int64("package_id", pkg.ID), zap.Error(err))
			return nil, err
		}
		ev.Card = cardPayload(ps)

	case model.ProviderPlatform:
		prior, err := s.preparePlatformAssign(ctx, userID, pkg, &ev)
		if err != nil || prior != nil {
			return prior, err
		}
	}

	out, err := s.execute(ctx, userID, func(tx *gorm.DB) (statemachine.State, statemachine.Event, error) {
		st, err := s.assignState(tx, userID)
		return st, ev, err
	})
	if err != nil {
		if ev.Card != nil {
			s.logger.Error("card subscription created but not recorded",
				zap.Int64("user_id", userID),
				zap.String("provider_subscription_id", ev.Card.SubscriptionID),
				zap.Error(err))
		}
		return nil, err
	}

	if user != nil && ev.Card.CustomerID != "" && ev.Card.CustomerID != user.CardCustomerID {
		if err := s.users.SetCardCustomer(userID, ev.Card.CustomerID); err != nil {
			s.logger.Error("failed to store card customer", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	s.logger.Info("subscription assigned",
		zap.Int64("user_id", userID),
		zap.Int64("subscription_id", out.Subscription.ID),
		zap.Int64("package_id", pkg.ID),
		zap.String("provider", string(ev.Provider)),
		zap.String("status", string(out.Subscription.Status)))
	return out.Subscription, nil
}

// preparePlatformAssign validates the receipt before anything is stored. A receipt that was
// already assigned to this user returns the existing subscription.
func (s *SubscriptionService) preparePlatformAssign(ctx context.Context, userID int64, pkg *model.Package, ev *statemachine.Event) (*model.Subscription, error) {
	result, err := s.providers.Platform.ValidateReceipt(ctx, ev.Platform.Receipt)
	if err != nil {
		s.logger.Warn("receipt rejected", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}
	item := result.Latest("")
	if item == nil {
		return nil, xerrors.Validation("receipt", "receipt holds no subscription purchase")
	}
	if pkg.PlatformProductID == nil || item.ProductID != *pkg.PlatformProductID {
		return nil, xerrors.Validation("receipt", "receipt is for product %s", item.ProductID)
	}

	prior, err := s.subs.GetByOriginalTransactionID(item.OriginalTransactionID)
	switch {
	case err == nil && prior.UserID != userID:
		return nil, xerrors.Validation("receipt", "receipt belongs to another account")
	case err == nil:
		return prior, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	ev.Platform.OriginalTransactionID = item.OriginalTransactionID
	if result.LatestReceipt != "" {
		ev.Platform.Receipt = result.LatestReceipt
	}
	return nil, nil
}

// ChangePlan moves a live paid subscription to another package.
func (s *SubscriptionService) ChangePlan(ctx context.Context, userID int64, cmd ChangeCommand) (*model.Subscription, error) {
	target, err := s.packages.GetByID(cmd.PackageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Validation("package_id", "package %d does not exist", cmd.PackageID)
		}
		return nil, err
	}
	ev := statemachine.Event{Source: statemachine.SourceUserChange, Package: target}

	st, err := s.currentState(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if err := statemachine.Validate(st, ev); err != nil {
		return nil, err
	}
	sub := st.Subscription
	ev.Provider = sub.ProviderType

	if sub.ProviderType == model.ProviderCard {
		ps, err := s.providers.Card.UpdateSubscription(ctx, cardbilling.UpdateRequest{
			SubscriptionID: sub.ProviderSubscriptionID,
			PaymentNonce:   cmd.PaymentNonce,
			PlanID:         target.PlanID,
			Price:          target.Price(),
		})
		if err != nil {
			s.logger.Warn("card plan change rejected", zap.Int64("subscription_id", sub.ID), zap.Error(err))
			return nil, err
		}
		ev.Card = cardPayload(ps)
	}

	out, err := s.execute(ctx, userID, func(tx *gorm.DB) (statemachine.State, statemachine.Event, error) {
		st, err := s.currentState(tx, userID)
		return st, ev, err
	})
	if err != nil {
		if ev.Card != nil {
			s.logger.Error("card plan changed but not recorded",
				zap.Int64("subscription_id", sub.ID),
				zap.Int64("package_id", target.ID),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("plan changed",
		zap.Int64("subscription_id", out.Subscription.ID),
		zap.Int64("from_package_id", sub.PackageID),
		zap.Int64("to_package_id", target.ID),
		zap.Bool("deferred", sub.ProviderType == model.ProviderPlatform))
	return out.Subscription, nil
}

// Cancel stops renewal of the live subscription; a trial ends immediately.
func (s *SubscriptionService) Cancel(ctx context.Context, userID int64) (*model.Subscription, error) {
	ev := statemachine.Event{Source: statemachine.SourceUserCancel}

	st, err := s.currentState(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	res, err := statemachine.Transition(st, ev)
	if err != nil {
		return nil, err
	}
	if res.Noop {
		return st.Subscription, nil
	}
	sub := st.Subscription
	if sub.ProviderType == model.ProviderCard {
		if err := s.providers.Card.CancelSubscription(ctx, sub.ProviderSubscriptionID); err != nil {
			s.logger.Warn("card cancel rejected", zap.Int64("subscription_id", sub.ID), zap.Error(err))
			return nil, err
		}
	}

	out, err := s.execute(ctx, userID, func(tx *gorm.DB) (statemachine.State, statemachine.Event, error) {
		st, err := s.currentState(tx, userID)
		return st, ev, err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription canceled", zap.Int64("subscription_id", out.Subscription.ID), zap.String("status", string(out.Subscription.Status)))
	return out.Subscription, nil
}

// RetryPayment asks the card provider to charge a lapsed subscription again. The outcome
// arrives as a webhook.
func (s *SubscriptionService) RetryPayment(ctx context.Context, userID int64) error {
	sub, err := s.subs.LatestByUserAndStatus(userID, []model.SubscriptionStatus{
		model.SubscriptionPastDue,
		model.SubscriptionChargedUnsuccessfully,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xerrors.Validation("subscription", "no subscription is awaiting payment")
		}
		return err
	}
	if sub.ProviderType != model.ProviderCard {
		return xerrors.Validation("subscription", "store subscriptions are retried by the store")
	}
	pkg, err := s.packages.GetByID(sub.PackageID)
	if err != nil {
		return notFound(err)
	}

	txn, err := s.providers.Card.RetryCharge(ctx, sub.ProviderSubscriptionID, pkg.Price())
	if err != nil {
		s.logger.Warn("payment retry failed", zap.Int64("subscription_id", sub.ID), zap.Error(err))
		return err
	}
	fields := []zap.Field{zap.Int64("subscription_id", sub.ID)}
	if txn != nil {
		fields = append(fields, zap.String("provider_transaction_id", txn.ID))
	}
	s.logger.Info("payment retried", fields...)
	return nil
}

// HandleCardWebhook verifies and applies one card provider webhook.
func (s *SubscriptionService) HandleCardWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.providers.Card.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if evt.Kind == cardbilling.KindCheck {
		s.logger.Debug("card webhook ignored", zap.String("provider_subscription_id", evt.SubscriptionID))
		return nil
	}

	sub, err := s.subs.GetByProviderSubscriptionID(evt.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("card webhook for unknown subscription",
				zap.String("kind", string(evt.Kind)),
				zap.String("provider_subscription_id", evt.SubscriptionID))
			return xerrors.ErrNotFound
		}
		return err
	}

	card := &statemachine.CardPayload{
		SubscriptionID:   evt.SubscriptionID,
		BillingPeriodEnd: evt.BillingPeriodEndDate,
		BillingReason:    evt.BillingReason,
	}
	if evt.Transaction != nil {
		card.TransactionID = evt.Transaction.ID
		card.Amount = evt.Transaction.Amount.Amount
		card.Currency = evt.Transaction.Amount.Currency
	}
	ev := statemachine.Event{
		Source:   statemachine.SourceCardWebhook,
		Kind:     string(evt.Kind),
		Provider: model.ProviderCard,
		Card:     card,
	}

	out, err := s.execute(ctx, sub.UserID, s.reload(sub.ID, ev))
	if err != nil {
		return err
	}
	s.logApplied("card webhook applied", ev, out)
	return nil
}

// HandlePlatformNotification authenticates and applies one store server notification.
func (s *SubscriptionService) HandlePlatformNotification(ctx context.Context, body []byte) error {
	n, err := appstore.ParseNotification(body, s.providers.PlatformPassword)
	if err != nil {
		return err
	}
	if n.NotificationType == appstore.NotificationDidChangeRenewalPref {
		s.logger.Debug("platform notification ignored", zap.String("type", string(n.NotificationType)))
		return nil
	}
	info := n.ReceiptInfo()
	if info == nil || info.OriginalTransactionID == "" {
		return xerrors.Validation("latest_receipt_info", "notification carries no receipt info")
	}

	sub, err := s.subs.GetByOriginalTransactionID(info.OriginalTransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("platform notification for unknown subscription",
				zap.String("type", string(n.NotificationType)),
				zap.String("original_transaction_id", info.OriginalTransactionID))
			return xerrors.ErrNotFound
		}
		return err
	}

	productID := n.ProductID()
	pkg, err := s.packageForProduct(productID)
	if err != nil {
		return err
	}
	ev := statemachine.Event{
		Source:   statemachine.SourcePlatformNotification,
		Kind:     string(n.NotificationType),
		Package:  pkg,
		Provider: model.ProviderPlatform,
		Platform: &statemachine.PlatformPayload{
			OriginalTransactionID: info.OriginalTransactionID,
			TransactionID:         info.TransactionID,
			WebOrderLineItemID:    info.WebOrderLineItemID,
			ProductID:             productID,
			ExpiresAt:             info.ExpiresDate.Time,
			AutoRenewStatus:       n.AutoRenew(),
			Receipt:               n.LatestReceipt,
			Found:                 true,
		},
	}

	out, err := s.execute(ctx, sub.UserID, s.reload(sub.ID, ev))
	if err != nil {
		if errors.Is(err, xerrors.ErrUnmappedProduct) {
			s.logger.Warn("platform product has no package",
				zap.String("product_id", productID),
				zap.Int64("subscription_id", sub.ID))
		}
		return err
	}
	s.logApplied("platform notification applied", ev, out)
	return nil
}

// ReconcilePlatform re-reads a store subscription's receipt and applies what it says.
func (s *SubscriptionService) ReconcilePlatform(ctx context.Context, subscriptionID int64) error {
	sub, err := s.subs.GetByID(subscriptionID)
	if err != nil {
		return notFound(err)
	}
	if sub.ProviderType != model.ProviderPlatform {
		return xerrors.Validation("subscription", "subscription %d is not store-billed", subscriptionID)
	}

	otid := sub.ProviderOriginalTransactionID
	payload := &statemachine.PlatformPayload{OriginalTransactionID: otid}
	var pkg *model.Package

	result, err := s.providers.Platform.ValidateReceipt(ctx, sub.ProviderReceipt)
	switch {
	case err == nil:
		if item := result.Latest(otid); item != nil {
			intent, inRetry, autoRenew := result.RenewalState(otid)
			payload.TransactionID = item.TransactionID
			payload.WebOrderLineItemID = item.WebOrderLineItemID
			payload.ProductID = item.ProductID
			payload.ExpiresAt = item.ExpiresDate.Time
			payload.ExpirationIntent = intent
			payload.IsInBillingRetry = inRetry
			payload.AutoRenewStatus = autoRenew
			payload.Receipt = result.LatestReceipt
			payload.Found = true
			if pkg, err = s.packageForProduct(item.ProductID); err != nil {
				return err
			}
		}
	case xerrors.IsRetryable(err):
		return err
	case xerrors.IsProvider(err):
		s.logger.Warn("stored receipt rejected", zap.Int64("subscription_id", sub.ID), zap.Error(err))
	default:
		return err
	}

	ev := statemachine.Event{
		Source:   statemachine.SourcePlatformPoll,
		Kind:     model.CommandPlatformPollReconcile,
		Package:  pkg,
		Provider: model.ProviderPlatform,
		Platform: payload,
	}
	out, err := s.execute(ctx, sub.UserID, s.reload(sub.ID, ev))
	if err != nil {
		if errors.Is(err, xerrors.ErrUnmappedProduct) {
			s.logger.Warn("platform product has no package",
				zap.String("product_id", payload.ProductID),
				zap.Int64("subscription_id", sub.ID))
		}
		return err
	}
	s.logApplied("platform subscription reconciled", ev, out)
	return nil
}

// RunJob executes a due scheduled job. A job whose subscription is gone succeeds as a no-op.
func (s *SubscriptionService) RunJob(ctx context.Context, job *model.ScheduledJob) error {
	switch job.CommandName {
	case model.CommandPlatformPollReconcile:
		err := s.ReconcilePlatform(ctx, job.RelatedEntityID)
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil
		}
		return err
	case model.CommandAutoCancelTrial, model.CommandChargeNotification, model.CommandDisableAtExpiration:
	default:
		return fmt.Errorf("unknown job command %q", job.CommandName)
	}

	sub, err := s.subs.GetByID(job.RelatedEntityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Info("job subscription is gone", zap.Int64("job_id", job.ID), zap.Int64("subscription_id", job.RelatedEntityID))
			return nil
		}
		return err
	}

	ev := statemachine.Event{Source: statemachine.SourceJob, Kind: job.CommandName}
	out, err := s.execute(ctx, sub.UserID, s.reload(sub.ID, ev))
	if err != nil {
		return err
	}
	s.logApplied("job applied", ev, out)
	return nil
}

// Current returns the live subscription, or the latest one when nothing is live.
func (s *SubscriptionService) Current(ctx context.Context, userID int64) (*CurrentSubscription, error) {
	db := s.db.WithContext(ctx)
	subs := s.subs.WithTx(db)
	paid, trial, err := liveSubscriptions(subs, userID, s.now())
	if err != nil {
		return nil, err
	}
	sub := paid
	if sub == nil {
		sub = trial
	}
	if sub == nil {
		if sub, err = subs.LatestByUser(userID); err != nil {
			return nil, notFound(err)
		}
	}

	pkgs := s.packages.WithTx(db)
	view := &CurrentSubscription{Subscription: sub}
	if view.Package, err = pkgs.GetByID(sub.PackageID); err != nil {
		return nil, notFound(err)
	}
	if sub.NextPlanID != nil {
		if view.NextPlan, err = pkgs.GetByID(*sub.NextPlanID); err != nil {
			return nil, notFound(err)
		}
	}
	return view, nil
}

// Packages lists the packages a user can subscribe to.
func (s *SubscriptionService) Packages(ctx context.Context) ([]model.Package, error) {
	return s.packages.WithTx(s.db.WithContext(ctx)).ListPublic()
}

func (s *SubscriptionService) packageForProduct(productID string) (*model.Package, error) {
	if productID == "" {
		return nil, nil
	}
	pkg, err := s.packages.GetByPlatformProductID(productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return pkg, err
}

func (s *SubscriptionService) logApplied(msg string, ev statemachine.Event, out *applied) {
	fields := []zap.Field{
		zap.String("source", string(ev.Source)),
		zap.String("event", ev.Kind),
		zap.Bool("noop", out.Result.Noop),
	}
	if out.Subscription != nil {
		fields = append(fields,
			zap.Int64("subscription_id", out.Subscription.ID),
			zap.String("status", string(out.Subscription.Status)))
	}
	s.logger.Info(msg, fields...)
}

func cardPayload(ps *cardbilling.ProviderSubscription) *statemachine.CardPayload {
	c := &statemachine.CardPayload{
		SubscriptionID:   ps.ID,
		CustomerID:       ps.CustomerID,
		BillingPeriodEnd: ps.BillingPeriodEnd,
	}
	if t := ps.LatestTransaction; t != nil {
		c.TransactionID = t.ID
		c.Amount = t.Amount.Amount
		c.Currency = t.Amount.Currency
	}
	return c
}

// recordTx stores a money movement once per provider transaction id.
func (s *SubscriptionService) recordTx(tx *gorm.DB, sub *model.Subscription, t *statemachine.TransactionEffect) error {
	txns := s.txns.WithTx(tx)
	seen, err := txns.ExistsByProviderTxn(t.Provider, t.ProviderTransactionID)
	if err != nil {
		return err
	}
	if seen {
		s.logger.Debug("transaction already recorded", zap.String("provider_transaction_id", t.ProviderTransactionID))
		return nil
	}
	subID := sub.ID
	return txns.Create(&model.Transaction{
		UserID:                sub.UserID,
		SubscriptionID:        &subID,
		Provider:              t.Provider,
		Type:                  t.Type,
		Amount:                t.Amount,
		Currency:              t.Currency,
		ProviderTransactionID: t.ProviderTransactionID,
		Metadata:              datatypes.JSONMap(t.Metadata),
	})
}
