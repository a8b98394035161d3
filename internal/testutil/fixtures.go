package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
)

var seq int64

func next() int64 {
	return atomic.AddInt64(&seq, 1)
}

// TestUser creates a user who has not used the trial.
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	user := &model.User{
		Email: fmt.Sprintf("test_%d@example.com", next()),
	}
	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func WithTrialUsed() func(*model.User) {
	return func(u *model.User) {
		u.IsTrialUsed = true
	}
}

func WithCardCustomer(id string) func(*model.User) {
	return func(u *model.User) {
		u.CardCustomerID = id
	}
}

// TestPackage creates a public card-billable package priced 2000 usd with one experience slot.
func TestPackage(t *testing.T, db *gorm.DB, opts ...func(*model.Package)) *model.Package {
	t.Helper()

	n := next()
	pkg := &model.Package{
		Name:               fmt.Sprintf("Package %d", n),
		ExperiencesNumber:  1,
		RecognitionsNumber: 1000,
		PriceAmount:        2000,
		Currency:           "usd",
		IsPublic:           true,
		PlanID:             fmt.Sprintf("price_%d", n),
	}
	for _, opt := range opts {
		opt(pkg)
	}

	if err := db.Create(pkg).Error; err != nil {
		t.Fatalf("Failed to create test package: %v", err)
	}
	return pkg
}

// AsTrial makes the package the non-public free trial.
func AsTrial() func(*model.Package) {
	return func(p *model.Package) {
		p.IsTrial = true
		p.IsPublic = false
		p.PriceAmount = 0
		p.PlanID = ""
	}
}

func WithPrice(amount int64) func(*model.Package) {
	return func(p *model.Package) {
		p.PriceAmount = amount
	}
}

func WithCapacity(experiences int, recognitions int64) func(*model.Package) {
	return func(p *model.Package) {
		p.ExperiencesNumber = experiences
		p.RecognitionsNumber = recognitions
	}
}

func WithProductID(productID string) func(*model.Package) {
	return func(p *model.Package) {
		p.PlatformProductID = &productID
	}
}

// TestSubscription creates an ACTIVE card subscription expiring in 30 days.
func TestSubscription(t *testing.T, db *gorm.DB, userID, packageID int64, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	now := time.Now().UTC()
	sub := &model.Subscription{
		UserID:                 userID,
		PackageID:              packageID,
		Status:                 model.SubscriptionActive,
		ProviderType:           model.ProviderCard,
		ExpiresAt:              now.Add(30 * 24 * time.Hour),
		PeriodStartedAt:        now,
		IsAutorenew:            true,
		ProviderSubscriptionID: fmt.Sprintf("sub_%d", next()),
	}
	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}
	return sub
}

func WithStatus(status model.SubscriptionStatus) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

func WithExpiresAt(at time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.ExpiresAt = at
	}
}

func WithCreatedAt(at time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CreatedAt = at
	}
}

func WithPeriodStartedAt(at time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PeriodStartedAt = at
	}
}

func WithAutorenew(on bool) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.IsAutorenew = on
	}
}

// AsTrialSubscription marks the subscription as an internal trial.
func AsTrialSubscription() func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.ProviderType = model.ProviderInternal
		s.IsAutorenew = false
		s.ProviderSubscriptionID = ""
	}
}

// AsPlatform marks the subscription as store-billed with the given original transaction id.
func AsPlatform(originalTransactionID string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.ProviderType = model.ProviderPlatform
		s.ProviderSubscriptionID = ""
		s.ProviderOriginalTransactionID = originalTransactionID
		s.ProviderReceipt = "receipt-" + originalTransactionID
	}
}

func WithLineItem(lineItemID, transactionID string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.ProviderOrderLineItemID = lineItemID
		s.ProviderLastTransactionID = transactionID
	}
}

// TestBalance creates the user's balance with the given amount in usd.
func TestBalance(t *testing.T, db *gorm.DB, userID, amount int64, opts ...func(*model.Balance)) *model.Balance {
	t.Helper()

	balance := &model.Balance{
		UserID:   userID,
		Amount:   amount,
		Currency: "usd",
	}
	for _, opt := range opts {
		opt(balance)
	}

	if err := db.Create(balance).Error; err != nil {
		t.Fatalf("Failed to create test balance: %v", err)
	}
	return balance
}

func WithChargeLimit(limit int64) func(*model.Balance) {
	return func(b *model.Balance) {
		b.MonthlyLimit = limit
		b.IsChargeLimitEnabled = true
	}
}

func WithLimitWarning(lastRefill int64) func(*model.Balance) {
	return func(b *model.Balance) {
		b.IsLimitWarningEnabled = true
		b.LastRefillAmount = lastRefill
	}
}

// TestExperience creates an ACTIVE experience. Pass WithExperienceAge to control slot ordering.
func TestExperience(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Experience)) *model.Experience {
	t.Helper()

	n := next()
	exp := &model.Experience{
		UserID:   userID,
		Name:     fmt.Sprintf("Experience %d", n),
		TargetID: fmt.Sprintf("target-%d", n),
		Status:   model.ExperienceActive,
	}
	for _, opt := range opts {
		opt(exp)
	}

	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("Failed to create test experience: %v", err)
	}
	return exp
}

func WithExperienceStatus(status model.ExperienceStatus) func(*model.Experience) {
	return func(e *model.Experience) {
		e.Status = status
	}
}

func WithExperienceCreatedAt(at time.Time) func(*model.Experience) {
	return func(e *model.Experience) {
		e.CreatedAt = at
	}
}

func WithLastUsed() func(*model.Experience) {
	return func(e *model.Experience) {
		e.IsLastUsed = true
	}
}

// TestTargetView stores a day row of recognitions.
func TestTargetView(t *testing.T, db *gorm.DB, exp *model.Experience, day time.Time, views int64, isTrial bool) *model.TargetView {
	t.Helper()

	tv := &model.TargetView{
		ExperienceID: exp.ID,
		UserID:       exp.UserID,
		Day:          time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		IsTrial:      isTrial,
		Views:        views,
	}

	if err := db.Create(tv).Error; err != nil {
		t.Fatalf("Failed to create test target view: %v", err)
	}
	return tv
}

// TestJob creates a scheduled job for a subscription.
func TestJob(t *testing.T, db *gorm.DB, command string, subscriptionID int64, executeAfter time.Time, status model.JobStatus) *model.ScheduledJob {
	t.Helper()

	job := &model.ScheduledJob{
		CommandName:     command,
		Parameters:      datatypes.NewJSONType(map[string]string{}),
		ExecuteAfter:    executeAfter,
		RelatedEntityID: subscriptionID,
		Status:          status,
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}
	return job
}
