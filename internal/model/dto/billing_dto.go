package dto

import "time"

// PackageItem is a purchasable plan.
type PackageItem struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	ExperiencesNumber  int     `json:"experiences_number"`
	RecognitionsNumber int64   `json:"recognitions_number"`
	Price              int64   `json:"price"`
	Currency           string  `json:"currency"`
	IsTrial            bool    `json:"is_trial"`
	PlatformProductID  *string `json:"platform_product_id,omitempty"`
}

// AssignSubscriptionRequest starts a subscription. Card purchases carry a payment nonce,
// platform purchases a receipt.
type AssignSubscriptionRequest struct {
	PackageID    int64  `json:"package_id" binding:"required,min=1"`
	Provider     string `json:"provider" binding:"required,oneof=card platform internal"`
	PaymentNonce string `json:"payment_nonce"`
	Receipt      string `json:"receipt"`
}

type ChangePlanRequest struct {
	PackageID    int64  `json:"package_id" binding:"required,min=1"`
	PaymentNonce string `json:"payment_nonce"`
}

type SubscriptionInfo struct {
	ID              int64        `json:"id"`
	PackageID       int64        `json:"package_id"`
	Status          string       `json:"status"`
	Provider        string       `json:"provider"`
	Package         *PackageItem `json:"package,omitempty"`
	NextPlan        *PackageItem `json:"next_plan,omitempty"`
	IsAutorenew     bool         `json:"is_autorenew"`
	PeriodStartedAt time.Time    `json:"period_started_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	ChangedPlanAt   *time.Time   `json:"changed_plan_at,omitempty"`
}

type BudgetInfo struct {
	FreeLeft  int64 `json:"free_left"`
	PaidLeft  int64 `json:"paid_left"`
	IsTrial   bool  `json:"is_trial"`
	Exhausted bool  `json:"exhausted"`
}

type BalanceInfo struct {
	Amount                int64       `json:"amount"`
	Currency              string      `json:"currency"`
	Display               string      `json:"display"`
	MonthlyLimit          int64       `json:"monthly_limit"`
	IsChargeLimitEnabled  bool        `json:"is_charge_limit_enabled"`
	IsLimitWarningEnabled bool        `json:"is_limit_warning_enabled"`
	LastRefillAmount      int64       `json:"last_refill_amount"`
	RefillBalanceAt       *time.Time  `json:"refill_balance_at,omitempty"`
	Budget                *BudgetInfo `json:"budget,omitempty"`
}

type RefillRequest struct {
	Amount                int64  `json:"amount" binding:"required,min=1"`
	ProviderTransactionID string `json:"provider_transaction_id" binding:"required"`
}

type UpdateLimitsRequest struct {
	MonthlyLimit       int64 `json:"monthly_limit" binding:"min=0"`
	ChargeLimitEnabled bool  `json:"charge_limit_enabled"`
	WarningEnabled     bool  `json:"warning_enabled"`
}

// RecognitionReportRequest carries the cumulative recognition count of an experience.
type RecognitionReportRequest struct {
	Total *int64 `json:"total" binding:"required"`
}

type RecognitionReportResponse struct {
	ExperienceID int64  `json:"experience_id"`
	Duplicate    bool   `json:"duplicate"`
	Delta        int64  `json:"delta"`
	Billed       int64  `json:"billed"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	FreeLeft     int64  `json:"free_left"`
	PaidLeft     int64  `json:"paid_left"`
	DisabledAll  bool   `json:"disabled_all"`
}
