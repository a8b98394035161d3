package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
	"github.com/qs3c/experience_billing/internal/pkg/money"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/repository"
	"github.com/qs3c/experience_billing/internal/testutil"
)

func TestSubscriptionService_SingleActiveInvariant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	trialPkg := testutil.TestPackage(t, h.db, testutil.AsTrial())
	paidPkg := testutil.TestPackage(t, h.db, testutil.WithCapacity(2, 1000))
	user := testutil.TestUser(t, h.db)

	trial, err := h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: trialPkg.ID})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, trial.Status)
	assert.Equal(t, 1, h.openJobs(t, trial.ID)[model.CommandAutoCancelTrial])

	paid, err := h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: paidPkg.ID, Provider: model.ProviderCard, PaymentNonce: "pm_card"})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, paid.Status)

	live, err := repository.NewSubscriptionRepository(h.db).CountLive(user.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
	assert.Equal(t, model.SubscriptionCanceled, h.reload(t, trial.ID).Status)
	assert.Zero(t, h.openJobs(t, trial.ID)[model.CommandAutoCancelTrial])
	assert.Equal(t, 1, h.openJobs(t, paid.ID)[model.CommandChargeNotification])

	_, err = h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: paidPkg.ID, Provider: model.ProviderCard})
	assert.True(t, xerrors.IsValidation(err))
	assert.Equal(t, 1, h.card.count("create"), "rejected assign never reaches the provider")
}

func TestSubscriptionService_SingleActiveInvariant_RollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db)
	user := testutil.TestUser(t, h.db)
	first := testutil.TestSubscription(t, h.db, user.ID, pkg.ID)
	testutil.TestSubscription(t, h.db, user.ID, pkg.ID)
	job := testutil.TestJob(t, h.db, model.CommandChargeNotification, first.ID, time.Now().UTC(), model.JobDispatched)

	err := h.subs.RunJob(ctx, job)
	assert.True(t, xerrors.IsInvariant(err))
	assert.Empty(t, h.notifier.types(), "notices of a rolled back transition are dropped")
}

func TestSubscriptionService_TrialSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	trialPkg := testutil.TestPackage(t, h.db, testutil.AsTrial())
	user := testutil.TestUser(t, h.db)

	trial, err := h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: trialPkg.ID})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(30*24*time.Hour), trial.ExpiresAt, time.Minute)

	stored, err := repository.NewUserRepository(h.db).GetByID(user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsTrialUsed)

	canceled, err := h.subs.Cancel(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCanceled, canceled.Status)

	_, err = h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: trialPkg.ID})
	assert.True(t, xerrors.IsValidation(err))

	other := testutil.TestUser(t, h.db)
	var wg sync.WaitGroup
	var granted int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.subs.Assign(ctx, other.ID, AssignCommand{PackageID: trialPkg.ID}); err == nil {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted)
	var count int64
	require.NoError(t, h.db.Model(&model.Subscription{}).Where("user_id = ?", other.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubscriptionService_CardWebhookReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db)
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pkg.ID, testutil.WithLineItem("", "in_first"))

	newEnd := sub.ExpiresAt.Add(30 * 24 * time.Hour)
	h.card.webhooks["evt_renew"] = &cardbilling.WebhookEvent{
		Kind:                 cardbilling.KindChargedSuccessfully,
		SubscriptionID:       sub.ProviderSubscriptionID,
		BillingPeriodEndDate: newEnd,
		Transaction:          &cardbilling.Transaction{ID: "in_renew", Amount: money.New(2000, "usd")},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, h.subs.HandleCardWebhook(ctx, []byte("evt_renew"), "valid"))
	}

	got := h.reload(t, sub.ID)
	assert.WithinDuration(t, newEnd, got.ExpiresAt, time.Second)
	assert.Equal(t, "in_renew", got.ProviderLastTransactionID)
	assert.Equal(t, sub.Version+1, got.Version, "replays do not write the row")

	txns := h.transactions(t, sub.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, "in_renew", txns[0].ProviderTransactionID)
	assert.Equal(t, int64(2000), txns[0].Amount)
	assert.Equal(t, 1, h.openJobs(t, sub.ID)[model.CommandChargeNotification])
}

func TestSubscriptionService_CardWebhookRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.card.webhooks["evt_unknown"] = &cardbilling.WebhookEvent{Kind: cardbilling.KindWentPastDue, SubscriptionID: "sub_missing"}

	err := h.subs.HandleCardWebhook(ctx, []byte("evt_unknown"), "valid")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	err = h.subs.HandleCardWebhook(ctx, []byte("evt_unknown"), "forged")
	assert.True(t, xerrors.IsProvider(err))

	assert.NoError(t, h.subs.HandleCardWebhook(ctx, []byte("ping"), "valid"), "check events are acknowledged")
}

func TestSubscriptionService_CardPastDueDisablesExperiences(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db, testutil.WithCapacity(2, 1000))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pkg.ID)
	exp := testutil.TestExperience(t, h.db, user.ID)

	h.card.webhooks["evt_past_due"] = &cardbilling.WebhookEvent{Kind: cardbilling.KindWentPastDue, SubscriptionID: sub.ProviderSubscriptionID}
	require.NoError(t, h.subs.HandleCardWebhook(ctx, []byte("evt_past_due"), "valid"))

	assert.Equal(t, model.SubscriptionPastDue, h.reload(t, sub.ID).Status)
	assert.Equal(t, []int64{exp.ID}, h.activator.deactivated)
	assert.Contains(t, h.notifier.types(), model.NotifySubscriptionPastDue)

	require.NoError(t, h.subs.RetryPayment(ctx, user.ID))
	assert.Equal(t, 1, h.card.count("retry"))
}

func TestSubscriptionService_PlatformNotificationReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db, testutil.WithProductID("com.example.basic"))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pkg.ID, testutil.AsPlatform("otid-1"), testutil.WithLineItem("li-1", "t-1"))

	newEnd := sub.ExpiresAt.Add(30 * 24 * time.Hour)
	body := notificationBody(t, appstore.NotificationRenewal, "com.example.basic", appstore.NotificationReceiptInfo{
		OriginalTransactionID: "otid-1",
		TransactionID:         "t-2",
		WebOrderLineItemID:    "li-2",
		ProductID:             "com.example.basic",
		ExpiresDate:           appstore.EpochMillis{Time: newEnd},
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, h.subs.HandlePlatformNotification(ctx, body))
	}

	got := h.reload(t, sub.ID)
	assert.Equal(t, "li-2", got.ProviderOrderLineItemID)
	assert.WithinDuration(t, newEnd, got.ExpiresAt, time.Second)
	assert.Equal(t, sub.Version+1, got.Version)

	txns := h.transactions(t, sub.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, "t-2", txns[0].ProviderTransactionID)
	assert.Equal(t, pkg.PriceAmount, txns[0].Amount)
	assert.Equal(t, 1, h.openJobs(t, sub.ID)[model.CommandPlatformPollReconcile])

	forged := []byte(strings.Replace(string(body), testPlatformPassword, "wrong", 1))
	assert.ErrorIs(t, h.subs.HandlePlatformNotification(ctx, forged), xerrors.ErrSharedSecretMismatch)
}

func TestSubscriptionService_CardUpgradeProration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	basic := testutil.TestPackage(t, h.db, testutil.WithPrice(2000), testutil.WithCapacity(1, 1000))
	pro := testutil.TestPackage(t, h.db, testutil.WithPrice(5000), testutil.WithCapacity(3, 5000))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, basic.ID, testutil.WithCreatedAt(now.Add(-48*time.Hour)))

	testutil.TestExperience(t, h.db, user.ID, testutil.WithExperienceCreatedAt(now.Add(-3*time.Hour)))
	second := testutil.TestExperience(t, h.db, user.ID,
		testutil.WithExperienceStatus(model.ExperienceDisabled), testutil.WithLastUsed(),
		testutil.WithExperienceCreatedAt(now.Add(-2*time.Hour)))
	third := testutil.TestExperience(t, h.db, user.ID,
		testutil.WithExperienceStatus(model.ExperienceDisabled), testutil.WithLastUsed(),
		testutil.WithExperienceCreatedAt(now.Add(-time.Hour)))

	h.card.updated = &cardbilling.ProviderSubscription{
		ID:                sub.ProviderSubscriptionID,
		BillingPeriodEnd:  sub.ExpiresAt,
		LatestTransaction: &cardbilling.Transaction{ID: "in_proration", Amount: money.New(3000, "usd")},
	}

	got, err := h.subs.ChangePlan(ctx, user.ID, ChangeCommand{PackageID: pro.ID})
	require.NoError(t, err)
	assert.Equal(t, pro.ID, got.PackageID)
	require.NotNil(t, got.ChangedPlanAt)

	txns := h.transactions(t, sub.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(3000), txns[0].Amount)
	assert.Equal(t, "in_proration", txns[0].ProviderTransactionID)
	assert.Equal(t, "proration", txns[0].Metadata["reason"])
	assert.ElementsMatch(t, []int64{second.ID, third.ID}, h.activator.activated)

	_, err = h.subs.ChangePlan(ctx, user.ID, ChangeCommand{PackageID: basic.ID})
	assert.True(t, xerrors.IsThrottled(err))
	assert.Equal(t, 1, h.card.count("update"))
}

func TestSubscriptionService_CardProrationWebhookKeepsPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	started := now.Add(-10 * 24 * time.Hour)

	basic := testutil.TestPackage(t, h.db, testutil.WithPrice(2000), testutil.WithCapacity(1, 1000))
	pro := testutil.TestPackage(t, h.db, testutil.WithPrice(5000), testutil.WithCapacity(3, 5000))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, basic.ID,
		testutil.WithCreatedAt(now.Add(-10*24*time.Hour)), testutil.WithPeriodStartedAt(started))

	h.card.updated = &cardbilling.ProviderSubscription{
		ID:                sub.ProviderSubscriptionID,
		BillingPeriodEnd:  sub.ExpiresAt,
		LatestTransaction: &cardbilling.Transaction{ID: "in_proration", Amount: money.New(3000, "usd")},
	}
	h.card.webhooks["evt_proration"] = &cardbilling.WebhookEvent{
		Kind:                 cardbilling.KindChargedSuccessfully,
		SubscriptionID:       sub.ProviderSubscriptionID,
		BillingPeriodEndDate: sub.ExpiresAt,
		Transaction:          &cardbilling.Transaction{ID: "in_proration", Amount: money.New(3000, "usd")},
		BillingReason:        "subscription_update",
	}

	_, err := h.subs.ChangePlan(ctx, user.ID, ChangeCommand{PackageID: pro.ID})
	require.NoError(t, err)
	jobsBefore := h.openJobs(t, sub.ID)

	require.NoError(t, h.subs.HandleCardWebhook(ctx, []byte("evt_proration"), "valid"))

	got := h.reload(t, sub.ID)
	assert.WithinDuration(t, started, got.PeriodStartedAt, time.Second)
	assert.WithinDuration(t, sub.ExpiresAt, got.ExpiresAt, time.Second)
	assert.Equal(t, "in_proration", got.ProviderLastTransactionID)
	assert.Len(t, h.transactions(t, sub.ID), 1)
	assert.Equal(t, jobsBefore, h.openJobs(t, sub.ID))
}

func TestSubscriptionService_CardUnpaidProrationRecordedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	started := now.Add(-10 * 24 * time.Hour)

	basic := testutil.TestPackage(t, h.db, testutil.WithPrice(2000), testutil.WithCapacity(1, 1000))
	pro := testutil.TestPackage(t, h.db, testutil.WithPrice(6000), testutil.WithCapacity(3, 5000))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, basic.ID,
		testutil.WithCreatedAt(now.Add(-10*24*time.Hour)), testutil.WithPeriodStartedAt(started))

	h.card.updated = &cardbilling.ProviderSubscription{ID: sub.ProviderSubscriptionID, BillingPeriodEnd: sub.ExpiresAt}
	h.card.webhooks["evt_proration"] = &cardbilling.WebhookEvent{
		Kind:                 cardbilling.KindChargedSuccessfully,
		SubscriptionID:       sub.ProviderSubscriptionID,
		BillingPeriodEndDate: sub.ExpiresAt,
		Transaction:          &cardbilling.Transaction{ID: "in_proration", Amount: money.New(4000, "usd")},
		BillingReason:        "subscription_update",
	}

	_, err := h.subs.ChangePlan(ctx, user.ID, ChangeCommand{PackageID: pro.ID})
	require.NoError(t, err)
	assert.Empty(t, h.transactions(t, sub.ID), "nothing is recorded before the invoice is paid")

	for i := 0; i < 2; i++ {
		require.NoError(t, h.subs.HandleCardWebhook(ctx, []byte("evt_proration"), "valid"))
	}

	txns := h.transactions(t, sub.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(4000), txns[0].Amount)
	assert.Equal(t, "in_proration", txns[0].ProviderTransactionID)

	got := h.reload(t, sub.ID)
	assert.Equal(t, pro.ID, got.PackageID)
	assert.WithinDuration(t, started, got.PeriodStartedAt, time.Second)
}

func TestSubscriptionService_CardDowngradeTrimsExperiences(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pro := testutil.TestPackage(t, h.db, testutil.WithPrice(5000), testutil.WithCapacity(2, 5000))
	basic := testutil.TestPackage(t, h.db, testutil.WithPrice(2000), testutil.WithCapacity(1, 1000))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pro.ID, testutil.WithCreatedAt(now.Add(-48*time.Hour)))

	testutil.TestExperience(t, h.db, user.ID, testutil.WithExperienceCreatedAt(now.Add(-2*time.Hour)))
	newest := testutil.TestExperience(t, h.db, user.ID, testutil.WithExperienceCreatedAt(now.Add(-time.Hour)))

	got, err := h.subs.ChangePlan(ctx, user.ID, ChangeCommand{PackageID: basic.ID})
	require.NoError(t, err)
	assert.Equal(t, basic.ID, got.PackageID)
	assert.Empty(t, h.transactions(t, sub.ID), "downgrades are not charged")
	assert.Equal(t, []int64{newest.ID}, h.activator.deactivated)
}

func TestSubscriptionService_PlatformDeferredDowngrade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pro := testutil.TestPackage(t, h.db, testutil.WithPrice(5000), testutil.WithCapacity(3, 5000), testutil.WithProductID("com.example.pro"))
	basic := testutil.TestPackage(t, h.db, testutil.WithPrice(2000), testutil.WithCapacity(1, 1000), testutil.WithProductID("com.example.basic"))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pro.ID, testutil.AsPlatform("otid-9"), testutil.WithLineItem("li-1", "t-1"))
	for i := 3; i > 0; i-- {
		testutil.TestExperience(t, h.db, user.ID, testutil.WithExperienceCreatedAt(now.Add(-time.Duration(i)*time.Hour)))
	}

	got, err := h.subs.ChangePlan(ctx, user.ID, ChangeCommand{PackageID: basic.ID})
	require.NoError(t, err)
	assert.Equal(t, pro.ID, got.PackageID, "store plan changes wait for the renewal")
	require.NotNil(t, got.NextPlanID)
	assert.Equal(t, basic.ID, *got.NextPlanID)
	assert.True(t, got.AppleDowngradeEnabled)
	assert.Empty(t, h.activator.deactivated)
	assert.Zero(t, h.platform.calls)

	body := notificationBody(t, appstore.NotificationRenewal, "com.example.basic", appstore.NotificationReceiptInfo{
		OriginalTransactionID: "otid-9",
		TransactionID:         "t-2",
		WebOrderLineItemID:    "li-2",
		ProductID:             "com.example.basic",
		ExpiresDate:           appstore.EpochMillis{Time: sub.ExpiresAt.Add(30 * 24 * time.Hour)},
	})
	require.NoError(t, h.subs.HandlePlatformNotification(ctx, body))

	renewed := h.reload(t, sub.ID)
	assert.Equal(t, basic.ID, renewed.PackageID)
	assert.Nil(t, renewed.NextPlanID)
	assert.False(t, renewed.AppleDowngradeEnabled)
	assert.Len(t, h.activator.deactivated, 2)
	assert.Contains(t, h.notifier.types(), model.NotifySubscriptionDeferred)

	txns := h.transactions(t, sub.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, basic.PriceAmount, txns[0].Amount)
}

func TestSubscriptionService_PlatformAssignAndReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db, testutil.WithProductID("com.example.basic"))
	user := testutil.TestUser(t, h.db)
	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	receipt := &appstore.ReceiptResult{
		LatestReceipt:     "rcpt-latest",
		LatestReceiptInfo: []appstore.PurchaseItem{purchase("otid-5", "t-1", "li-1", "com.example.basic", expires)},
	}
	h.platform.receipts["rcpt"] = receipt
	h.platform.receipts["rcpt-latest"] = receipt

	sub, err := h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: pkg.ID, Provider: model.ProviderPlatform, Receipt: "rcpt"})
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPending, sub.Status)
	assert.Equal(t, "otid-5", sub.ProviderOriginalTransactionID)
	assert.Equal(t, 1, h.openJobs(t, sub.ID)[model.CommandPlatformPollReconcile])

	again, err := h.subs.Assign(ctx, user.ID, AssignCommand{PackageID: pkg.ID, Provider: model.ProviderPlatform, Receipt: "rcpt"})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID, "a replayed receipt returns the existing subscription")

	other := testutil.TestUser(t, h.db)
	_, err = h.subs.Assign(ctx, other.ID, AssignCommand{PackageID: pkg.ID, Provider: model.ProviderPlatform, Receipt: "rcpt"})
	assert.True(t, xerrors.IsValidation(err))

	require.NoError(t, h.subs.ReconcilePlatform(ctx, sub.ID))
	active := h.reload(t, sub.ID)
	assert.Equal(t, model.SubscriptionActive, active.Status)
	assert.Equal(t, "li-1", active.ProviderOrderLineItemID)
	assert.Len(t, h.transactions(t, sub.ID), 1)
	assert.Equal(t, 1, h.openJobs(t, sub.ID)[model.CommandPlatformPollReconcile])
}

func TestSubscriptionService_ReconcileRetryableFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db, testutil.WithProductID("com.example.basic"))
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pkg.ID, testutil.AsPlatform("otid-7"))
	h.platform.err = &xerrors.ProviderError{Provider: "platform", Op: "validate", Retryable: true, Message: "status 21005"}

	err := h.subs.ReconcilePlatform(ctx, sub.ID)
	assert.True(t, xerrors.IsRetryable(err))
	assert.Equal(t, sub.Version, h.reload(t, sub.ID).Version)
}

func TestSubscriptionService_CancelCard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db)
	user := testutil.TestUser(t, h.db)
	sub := testutil.TestSubscription(t, h.db, user.ID, pkg.ID)

	got, err := h.subs.Cancel(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAutorenew)
	assert.Equal(t, model.SubscriptionActive, got.Status, "card subscriptions run to the end of the paid period")
	assert.Equal(t, 1, h.openJobs(t, sub.ID)[model.CommandDisableAtExpiration])

	_, err = h.subs.Cancel(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.card.count("cancel"))
}

func TestSubscriptionService_RunJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	trialPkg := testutil.TestPackage(t, h.db, testutil.AsTrial())
	user := testutil.TestUser(t, h.db, testutil.WithTrialUsed())
	sub := testutil.TestSubscription(t, h.db, user.ID, trialPkg.ID,
		testutil.AsTrialSubscription(), testutil.WithExpiresAt(time.Now().UTC().Add(-time.Minute)))
	exp := testutil.TestExperience(t, h.db, user.ID)

	job := testutil.TestJob(t, h.db, model.CommandAutoCancelTrial, sub.ID, time.Now().UTC(), model.JobDispatched)
	require.NoError(t, h.subs.RunJob(ctx, job))

	assert.Equal(t, model.SubscriptionExpired, h.reload(t, sub.ID).Status)
	assert.Equal(t, []int64{exp.ID}, h.activator.deactivated)
	assert.Contains(t, h.notifier.types(), model.NotifyTrialExpired)

	gone := &model.ScheduledJob{ID: 999, CommandName: model.CommandDisableAtExpiration, RelatedEntityID: 424242}
	assert.NoError(t, h.subs.RunJob(ctx, gone))

	unknown := &model.ScheduledJob{ID: 1000, CommandName: "reticulate", RelatedEntityID: sub.ID}
	assert.Error(t, h.subs.RunJob(ctx, unknown))
}

func TestSubscriptionService_Current(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pkg := testutil.TestPackage(t, h.db)
	user := testutil.TestUser(t, h.db)

	_, err := h.subs.Current(ctx, user.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	sub := testutil.TestSubscription(t, h.db, user.ID, pkg.ID)
	view, err := h.subs.Current(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, view.Subscription.ID)
	assert.Equal(t, pkg.ID, view.Package.ID)
	assert.Nil(t, view.NextPlan)
}
