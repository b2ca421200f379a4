package usage

// Weekly credit allowance per plan tier. Lifetime is modeled as a large
// finite cap rather than true infinity.
const (
	entitlementWeekly   = 15
	entitlementMonthly  = 60
	entitlementAnnual   = 60
	entitlementLifetime = 9999
)

// TotalEntitlement returns the weekly subscription allowance for a tier.
func TotalEntitlement(t SubscriptionType) int {
	switch t {
	case SubscriptionWeekly:
		return entitlementWeekly
	case SubscriptionMonthly:
		return entitlementMonthly
	case SubscriptionAnnual:
		return entitlementAnnual
	case SubscriptionLifetime:
		return entitlementLifetime
	default:
		return 0
	}
}

// CreditsRemaining computes how many credit-consuming actions the record
// still covers. Purchased credits stack on top of the subscription allowance.
func CreditsRemaining(r Record) int {
	if !r.IsSubscribed {
		return r.PurchasedCredits
	}
	left := TotalEntitlement(r.SubscriptionType) - r.WeeklyUsed
	if left < 0 {
		left = 0
	}
	return left + r.PurchasedCredits
}

// CreditsTotal is the display-only gross figure shown to the app.
func CreditsTotal(r Record) int {
	if !r.IsSubscribed {
		return r.PurchasedCredits
	}
	return r.PurchasedCredits + TotalEntitlement(r.SubscriptionType)
}
