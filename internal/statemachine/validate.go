package statemachine

import (
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

// Validate rejects user commands that must not reach a provider. It returns a
// *xerrors.ValidationError or *xerrors.ThrottledError.
func Validate(st State, ev Event) error {
	switch ev.Source {
	case SourceUserAssign:
		return validateAssign(st, ev)
	case SourceUserChange:
		return validateChange(st, ev)
	case SourceUserCancel:
		return validateCancel(st)
	}
	return nil
}

func validateAssign(st State, ev Event) error {
	pkg := ev.Package
	if pkg == nil {
		return xerrors.Validation("package_id", "package is required")
	}
	if !pkg.IsPublic && !pkg.IsTrial {
		return xerrors.Validation("package_id", "package %d is not available", pkg.ID)
	}
	if st.Subscription.IsLive(st.Now) {
		return xerrors.Validation("package_id", "user already has an active subscription, change the plan instead")
	}

	if pkg.IsTrial {
		if st.User.IsTrialUsed {
			return xerrors.Validation("package_id", "trial has already been used")
		}
		if st.Trial.IsLive(st.Now) {
			return xerrors.Validation("package_id", "trial is already active")
		}
		return nil
	}

	switch ev.Provider {
	case model.ProviderCard:
		if pkg.PlanID == "" {
			return xerrors.Validation("package_id", "package %d cannot be billed by card", pkg.ID)
		}
	case model.ProviderPlatform:
		if pkg.PlatformProductID == nil || *pkg.PlatformProductID == "" {
			return xerrors.Validation("package_id", "package %d has no store product", pkg.ID)
		}
		if ev.Platform == nil || ev.Platform.Receipt == "" {
			return xerrors.Validation("receipt", "receipt is required")
		}
	default:
		return xerrors.Validation("provider", "unsupported provider %q", ev.Provider)
	}
	return nil
}

func validateChange(st State, ev Event) error {
	sub := st.Subscription
	if !sub.IsLive(st.Now) || st.Package == nil {
		return xerrors.Validation("subscription", "no active subscription")
	}
	if st.Package.IsTrial {
		return xerrors.Validation("package_id", "a trial is replaced by assigning a paid package")
	}
	target := ev.Package
	if target == nil {
		return xerrors.Validation("package_id", "package is required")
	}
	if target.IsTrial || !target.IsPublic {
		return xerrors.Validation("package_id", "package %d is not available", target.ID)
	}
	if target.ID == sub.PackageID {
		return xerrors.Validation("package_id", "already subscribed to package %d", target.ID)
	}
	if target.Currency != st.Package.Currency {
		return xerrors.Validation("package_id", "package currency %s differs from %s", target.Currency, st.Package.Currency)
	}

	switch sub.ProviderType {
	case model.ProviderCard:
		if target.PlanID == "" {
			return xerrors.Validation("package_id", "package %d cannot be billed by card", target.ID)
		}
		last := sub.CreatedAt
		if sub.ChangedPlanAt != nil && sub.ChangedPlanAt.After(last) {
			last = *sub.ChangedPlanAt
		}
		if elapsed := st.Now.Sub(last); elapsed < st.Settings.PlanChangeCooldown {
			return &xerrors.ThrottledError{RetryAfter: st.Settings.PlanChangeCooldown - elapsed}
		}
	case model.ProviderPlatform:
		if target.PlatformProductID == nil || *target.PlatformProductID == "" {
			return xerrors.Validation("package_id", "package %d has no store product", target.ID)
		}
	default:
		return xerrors.Validation("subscription", "plan of a %s subscription cannot be changed", sub.ProviderType)
	}
	return nil
}

func validateCancel(st State) error {
	sub := st.Subscription
	if !sub.IsLive(st.Now) {
		return xerrors.Validation("subscription", "no active subscription")
	}
	if sub.ProviderType == model.ProviderPlatform {
		return xerrors.Validation("subscription", "store subscriptions are canceled from the store")
	}
	return nil
}
