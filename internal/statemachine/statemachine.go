// Package statemachine decides subscription transitions. It performs no I/O: callers load a
// State, pass an Event and apply the returned Result.
package statemachine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
)

type Source string

const (
	SourceUserAssign           Source = "user_assign"
	SourceUserChange           Source = "user_change"
	SourceUserCancel           Source = "user_cancel"
	SourceCardWebhook          Source = "card_webhook"
	SourcePlatformNotification Source = "platform_notification"
	SourcePlatformPoll         Source = "platform_poll_reconcile"
	SourceJob                  Source = "job"
)

// Settings are the billing constants a transition depends on.
type Settings struct {
	Period             time.Duration
	TrialPeriods       int
	ChargeNoticeLead   time.Duration
	PlanChangeCooldown time.Duration
	PollRetry          time.Duration
}

func (s Settings) trialLength() time.Duration {
	return time.Duration(s.TrialPeriods) * s.Period
}

type UserState struct {
	ID          int64
	IsTrialUsed bool
}

// State is the snapshot a transition reads. Subscription and Trial are never mutated.
type State struct {
	Now          time.Time
	User         UserState
	Subscription *model.Subscription
	// Package belongs to Subscription.
	Package *model.Package
	// NextPlan is the package behind Subscription.NextPlanID, if set.
	NextPlan *model.Package
	// Trial is the user's live trial when it is not Subscription itself.
	Trial         *model.Subscription
	BalanceAmount int64
	// TodayPaidViews are the user's non-trial views recorded so far today.
	TodayPaidViews int64
	Settings       Settings
}

// CardPayload carries the card gateway fields a transition consumes.
type CardPayload struct {
	SubscriptionID   string
	CustomerID       string
	TransactionID    string
	Amount           int64
	Currency         string
	BillingPeriodEnd time.Time
	// BillingReason is empty when the provider did not say why the invoice was raised.
	BillingReason string
}

// opensPeriod reports whether the paid invoice starts a new billing period of sub.
func (c *CardPayload) opensPeriod(sub *model.Subscription) bool {
	if c.BillingReason != "" && c.BillingReason != cardbilling.BillingReasonCycle {
		return false
	}
	return c.BillingPeriodEnd.IsZero() || c.BillingPeriodEnd.After(sub.ExpiresAt)
}

// PlatformPayload is the normalized form of a store notification or a validated receipt.
type PlatformPayload struct {
	OriginalTransactionID string
	TransactionID         string
	WebOrderLineItemID    string
	ProductID             string
	ExpiresAt             time.Time
	AutoRenewStatus       *bool
	ExpirationIntent      appstore.ExpirationIntent
	IsInBillingRetry      bool
	Receipt               string
	// Found is false when a polled receipt held no purchase for the subscription.
	Found bool
}

type Event struct {
	Source Source
	// Kind is the webhook kind, notification type or job command name.
	Kind string
	// Package is the assign/change target, or the local package of a platform product id.
	Package  *model.Package
	Provider model.ProviderType
	Card     *CardPayload
	Platform *PlatformPayload
}

type EffectKind string

const (
	EffectScheduleJob         EffectKind = "schedule_job"
	EffectCancelJob           EffectKind = "cancel_job"
	EffectNotify              EffectKind = "notify"
	EffectDisableAll          EffectKind = "disable_all"
	EffectDisableExcess       EffectKind = "disable_excess"
	EffectRestore             EffectKind = "restore"
	EffectCreateTransaction   EffectKind = "create_transaction"
	EffectMarkTrialUsed       EffectKind = "mark_trial_used"
	EffectCancelSupersededJob EffectKind = "cancel_superseded_job"
)

// Effect is one side effect the executor must apply. Only the fields relevant to Kind are set.
type Effect struct {
	Kind EffectKind

	Command string
	RunAt   time.Time
	Params  map[string]string

	Notification model.NotificationType

	Capacity int

	Transaction *TransactionEffect
}

type TransactionEffect struct {
	Type                  model.TransactionType
	Provider              model.ProviderType
	Amount                int64
	Currency              string
	ProviderTransactionID string
	Metadata              map[string]interface{}
}

func ScheduleJob(command string, runAt time.Time, params map[string]string) Effect {
	return Effect{Kind: EffectScheduleJob, Command: command, RunAt: runAt, Params: params}
}

func CancelJob(command string) Effect {
	return Effect{Kind: EffectCancelJob, Command: command}
}

// CancelSupersededJob cancels a job of Result.Superseded rather than Result.Subscription.
func CancelSupersededJob(command string) Effect {
	return Effect{Kind: EffectCancelSupersededJob, Command: command}
}

func Notify(t model.NotificationType, params map[string]string) Effect {
	return Effect{Kind: EffectNotify, Notification: t, Params: params}
}

func DisableAll() Effect {
	return Effect{Kind: EffectDisableAll}
}

func DisableExcess(capacity int) Effect {
	return Effect{Kind: EffectDisableExcess, Capacity: capacity}
}

// Restore disables anything over capacity, then re-enables up to capacity if budget allows.
func Restore(capacity int) Effect {
	return Effect{Kind: EffectRestore, Capacity: capacity}
}

func CreateTransaction(tx TransactionEffect) Effect {
	return Effect{Kind: EffectCreateTransaction, Transaction: &tx}
}

func MarkTrialUsed() Effect {
	return Effect{Kind: EffectMarkTrialUsed}
}

// Result is the outcome of a transition. When Noop is set the subscription row must not be
// written; Effects may still hold idempotent scheduling or notices.
type Result struct {
	Subscription *model.Subscription
	Superseded   *model.Subscription
	Effects      []Effect
	Noop         bool
	Created      bool
}

func noop(effects ...Effect) Result {
	return Result{Noop: true, Effects: effects}
}

// Has reports whether the result carries an effect of the given kind.
func (r Result) Has(kind EffectKind) bool {
	for _, e := range r.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Transition applies ev to st.
func Transition(st State, ev Event) (Result, error) {
	switch ev.Source {
	case SourceUserAssign:
		return assign(st, ev)
	case SourceUserChange:
		return change(st, ev)
	case SourceUserCancel:
		return cancel(st, ev)
	case SourceCardWebhook:
		return cardWebhook(st, ev)
	case SourcePlatformNotification:
		return platformNotification(st, ev)
	case SourcePlatformPoll:
		return platformPoll(st, ev)
	case SourceJob:
		return job(st, ev)
	}
	return Result{}, fmt.Errorf("statemachine: unknown event source %q", ev.Source)
}

func chargeNoticeAt(st State, expiresAt time.Time) time.Time {
	at := expiresAt.Add(-st.Settings.ChargeNoticeLead)
	if at.Before(st.Now) {
		return st.Now
	}
	return at
}

func expiryParams(sub *model.Subscription) map[string]string {
	return map[string]string{
		"package_id": strconv.FormatInt(sub.PackageID, 10),
		"expires_at": sub.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func capacityOf(pkg *model.Package) int {
	if pkg == nil {
		return 0
	}
	return pkg.ExperiencesNumber
}
