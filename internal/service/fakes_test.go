package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
	"github.com/qs3c/experience_billing/internal/pkg/money"
	"github.com/qs3c/experience_billing/internal/pkg/queue"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/testutil"
)

const testPlatformPassword = "notify-secret"

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, t model.NotificationType, params map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{UserID: userID, Type: t, Params: params})
	return nil
}

func (n *recordingNotifier) types() []model.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.NotificationType, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Type)
	}
	return out
}

type recordingActivator struct {
	mu          sync.Mutex
	activated   []int64
	deactivated []int64
}

func (a *recordingActivator) Activate(_ context.Context, exp model.Experience) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activated = append(a.activated, exp.ID)
	return nil
}

func (a *recordingActivator) Deactivate(_ context.Context, exp model.Experience) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deactivated = append(a.deactivated, exp.ID)
	return nil
}

// fakeCard answers card calls from canned values and counts them.
type fakeCard struct {
	mu       sync.Mutex
	created  *cardbilling.ProviderSubscription
	updated  *cardbilling.ProviderSubscription
	err      error
	webhooks map[string]*cardbilling.WebhookEvent
	calls    map[string]int
}

func newFakeCard() *fakeCard {
	return &fakeCard{webhooks: map[string]*cardbilling.WebhookEvent{}, calls: map[string]int{}}
}

func (c *fakeCard) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *fakeCard) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.err
}

func (c *fakeCard) CreateSubscription(_ context.Context, req cardbilling.CreateRequest) (*cardbilling.ProviderSubscription, error) {
	if err := c.record("create"); err != nil {
		return nil, err
	}
	if c.created != nil {
		return c.created, nil
	}
	return &cardbilling.ProviderSubscription{
		ID:               "sub_" + req.PlanID,
		CustomerID:       "cus_test",
		Status:           "active",
		BillingPeriodEnd: time.Now().UTC().Add(30 * 24 * time.Hour),
		LatestTransaction: &cardbilling.Transaction{
			ID:     "in_" + req.PlanID,
			Amount: money.New(2000, "usd"),
		},
	}, nil
}

func (c *fakeCard) UpdateSubscription(_ context.Context, req cardbilling.UpdateRequest) (*cardbilling.ProviderSubscription, error) {
	if err := c.record("update"); err != nil {
		return nil, err
	}
	if c.updated != nil {
		return c.updated, nil
	}
	return &cardbilling.ProviderSubscription{ID: req.SubscriptionID, Status: "active"}, nil
}

func (c *fakeCard) CancelSubscription(context.Context, string) error {
	return c.record("cancel")
}

func (c *fakeCard) RetryCharge(_ context.Context, _ string, amount money.Money) (*cardbilling.Transaction, error) {
	if err := c.record("retry"); err != nil {
		return nil, err
	}
	return &cardbilling.Transaction{ID: "in_retry", Amount: amount}, nil
}

func (c *fakeCard) ParseWebhook(payload []byte, signature string) (*cardbilling.WebhookEvent, error) {
	if signature != "valid" {
		return nil, &xerrors.ProviderError{Provider: "card", Op: "webhook", Message: "bad signature"}
	}
	evt, ok := c.webhooks[string(payload)]
	if !ok {
		return &cardbilling.WebhookEvent{Kind: cardbilling.KindCheck}, nil
	}
	return evt, nil
}

// fakePlatform validates receipts from a map.
type fakePlatform struct {
	mu       sync.Mutex
	receipts map[string]*appstore.ReceiptResult
	err      error
	calls    int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{receipts: map[string]*appstore.ReceiptResult{}}
}

func (p *fakePlatform) ValidateReceipt(_ context.Context, receipt string) (*appstore.ReceiptResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	res, ok := p.receipts[receipt]
	if !ok {
		return nil, &xerrors.ProviderError{Provider: "platform", Op: "validate", Message: "status 21003"}
	}
	return res, nil
}

func purchase(otid, txnID, lineItem, productID string, expires time.Time) appstore.PurchaseItem {
	return appstore.PurchaseItem{
		OriginalTransactionID: otid,
		TransactionID:         txnID,
		WebOrderLineItemID:    lineItem,
		ProductID:             productID,
		ExpiresDate:           appstore.EpochMillis{Time: expires},
	}
}

func notificationBody(t *testing.T, kind appstore.NotificationType, autoRenewProduct string, info appstore.NotificationReceiptInfo) []byte {
	t.Helper()
	on := appstore.BoolString(true)
	body, err := json.Marshal(appstore.ServerNotification{
		Password:           testPlatformPassword,
		NotificationType:   kind,
		AutoRenewProductID: autoRenewProduct,
		AutoRenewStatus:    &on,
		LatestReceipt:      "receipt-" + info.OriginalTransactionID,
		LatestReceiptInfo:  &info,
	})
	if err != nil {
		t.Fatalf("Failed to marshal notification: %v", err)
	}
	return body
}

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		Currency:                  "usd",
		PeriodDays:                30,
		TrialPeriods:              1,
		ChargeNoticeLeadHours:     72,
		PlanChangeCooldownMinutes: 60,
		RecognitionPrice:          5,
		PollRetryHours:            6,
		MaxWriteRetries:           3,
	}
}

// harness wires the billing services against sqlite and miniredis.
type harness struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	queue     *queue.Queue
	notifier  *recordingNotifier
	activator *recordingActivator
	card      *fakeCard
	platform  *fakePlatform

	scheduler *Scheduler
	quota     *QuotaService
	usage     *UsageService
	balances  *BalanceService
	subs      *SubscriptionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		testutil.CleanupTestDB(t, db)
	})

	logger := zap.NewNop()
	cfg := testBillingConfig()
	h := &harness{
		db:        db,
		mr:        mr,
		queue:     queue.NewQueue(client, "billing_jobs"),
		notifier:  &recordingNotifier{},
		activator: &recordingActivator{},
		card:      newFakeCard(),
		platform:  newFakePlatform(),
	}
	h.scheduler = NewScheduler(db, h.queue, config.SchedulerConfig{BatchSize: 10, PendingCleanupHours: 24}, logger)
	h.quota = NewQuotaService(db, h.activator, h.notifier, logger)
	h.usage = NewUsageService(db, h.quota, h.notifier, cfg, logger)
	h.balances = NewBalanceService(db, h.usage, h.quota, cfg, logger)
	h.subs = NewSubscriptionService(db, h.scheduler, h.quota, h.usage, h.notifier, Providers{
		Card:             h.card,
		Platform:         h.platform,
		PlatformPassword: testPlatformPassword,
	}, cfg, logger)
	return h
}

func (h *harness) reload(t *testing.T, id int64) *model.Subscription {
	t.Helper()
	var sub model.Subscription
	if err := h.db.First(&sub, id).Error; err != nil {
		t.Fatalf("Failed to reload subscription %d: %v", id, err)
	}
	return &sub
}

func (h *harness) openJobs(t *testing.T, subscriptionID int64) map[string]int {
	t.Helper()
	var jobs []model.ScheduledJob
	if err := h.db.Where("related_entity_id = ? AND status = ?", subscriptionID, model.JobPending).Find(&jobs).Error; err != nil {
		t.Fatalf("Failed to load jobs: %v", err)
	}
	out := map[string]int{}
	for _, j := range jobs {
		out[j.CommandName]++
	}
	return out
}

func (h *harness) transactions(t *testing.T, subscriptionID int64) []model.Transaction {
	t.Helper()
	var txns []model.Transaction
	if err := h.db.Where("subscription_id = ?", subscriptionID).Order("id").Find(&txns).Error; err != nil {
		t.Fatalf("Failed to load transactions: %v", err)
	}
	return txns
}
