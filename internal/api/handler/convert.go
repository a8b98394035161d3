package handler

import (
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/model/dto"
	"github.com/qs3c/experience_billing/internal/service"
)

func toPackageItem(p *model.Package) *dto.PackageItem {
	if p == nil {
		return nil
	}
	return &dto.PackageItem{
		ID:                 p.ID,
		Name:               p.Name,
		ExperiencesNumber:  p.ExperiencesNumber,
		RecognitionsNumber: p.RecognitionsNumber,
		Price:              p.PriceAmount,
		Currency:           p.Currency,
		IsTrial:            p.IsTrial,
		PlatformProductID:  p.PlatformProductID,
	}
}

func toSubscriptionInfo(sub *model.Subscription, pkg, next *model.Package) *dto.SubscriptionInfo {
	return &dto.SubscriptionInfo{
		ID:              sub.ID,
		PackageID:       sub.PackageID,
		Status:          string(sub.Status),
		Provider:        string(sub.ProviderType),
		Package:         toPackageItem(pkg),
		NextPlan:        toPackageItem(next),
		IsAutorenew:     sub.IsAutorenew,
		PeriodStartedAt: sub.PeriodStartedAt,
		ExpiresAt:       sub.ExpiresAt,
		ChangedPlanAt:   sub.ChangedPlanAt,
	}
}

func toBalanceInfo(b *model.Balance, budget *service.Budget) *dto.BalanceInfo {
	info := &dto.BalanceInfo{
		Amount:                b.Amount,
		Currency:              b.Currency,
		Display:               b.Money().String(),
		MonthlyLimit:          b.MonthlyLimit,
		IsChargeLimitEnabled:  b.IsChargeLimitEnabled,
		IsLimitWarningEnabled: b.IsLimitWarningEnabled,
		LastRefillAmount:      b.LastRefillAmount,
		RefillBalanceAt:       b.RefillBalanceAt,
	}
	if budget != nil {
		info.Budget = &dto.BudgetInfo{
			FreeLeft:  budget.FreeLeft,
			PaidLeft:  budget.PaidLeft,
			IsTrial:   budget.IsTrial,
			Exhausted: budget.Exhausted,
		}
	}
	return info
}
