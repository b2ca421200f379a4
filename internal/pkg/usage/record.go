package usage

import (
	"strconv"
	"strings"
	"time"
)

// SubscriptionType identifies the plan tier behind an active entitlement.
type SubscriptionType string

const (
	SubscriptionNone     SubscriptionType = "none"
	SubscriptionWeekly   SubscriptionType = "weekly"
	SubscriptionMonthly  SubscriptionType = "monthly"
	SubscriptionAnnual   SubscriptionType = "annual"
	SubscriptionLifetime SubscriptionType = "lifetime"
)

// Attribute keys owned by this engine inside the billing provider's
// per-subscriber attribute store. Entitlement data is read-only for us.
const (
	AttrWeeklyUsed       = "weekly_used"
	AttrWeekStart        = "week_start"
	AttrPurchasedCredits = "purchased_credits"
	AttrDemoUsed         = "demo_used"
)

// Record is the per-user usage state reconciled between the local snapshot
// cache and the remote billing ledger. The four counter fields are owned and
// persisted by this engine; the remaining fields are derived from the remote
// entitlement state on every fetch and never written back.
type Record struct {
	UserID           string
	WeeklyUsed       int
	WeekStart        time.Time
	PurchasedCredits int
	DemoUsed         bool

	// Derived from entitlements, recomputed on every remote fetch.
	IsSubscribed     bool
	SubscriptionType SubscriptionType
	ExpiresAt        *time.Time
}

// NewRecord returns the zero-state record synthesized for a user the remote
// ledger does not know yet.
func NewRecord(userID string, now time.Time) Record {
	return Record{
		UserID:           userID,
		WeeklyUsed:       0,
		WeekStart:        CurrentWeekStart(now),
		PurchasedCredits: 0,
		DemoUsed:         false,
		SubscriptionType: SubscriptionNone,
	}
}

// ParseAttributes builds a Record from the loosely-typed string attributes
// stored at the billing provider. Every field gets a deterministic default so
// no partial state leaks past this boundary.
func ParseAttributes(userID string, attrs map[string]string, now time.Time) Record {
	rec := NewRecord(userID, now)

	if v, ok := attrs[AttrWeeklyUsed]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			rec.WeeklyUsed = n
		}
	}
	if v, ok := attrs[AttrWeekStart]; ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			rec.WeekStart = t.UTC()
		}
	}
	if v, ok := attrs[AttrPurchasedCredits]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			rec.PurchasedCredits = n
		}
	}
	if v, ok := attrs[AttrDemoUsed]; ok {
		rec.DemoUsed = strings.EqualFold(strings.TrimSpace(v), "true")
	}

	return rec
}

// Attributes serializes the mutable counters back into the string shape the
// billing provider stores. Derived fields are intentionally excluded.
func (r Record) Attributes() map[string]string {
	demo := "false"
	if r.DemoUsed {
		demo = "true"
	}
	return map[string]string{
		AttrWeeklyUsed:       strconv.Itoa(r.WeeklyUsed),
		AttrWeekStart:        r.WeekStart.UTC().Format(time.RFC3339),
		AttrPurchasedCredits: strconv.Itoa(r.PurchasedCredits),
		AttrDemoUsed:         demo,
	}
}

// ParseSubscriptionType maps a store product identifier to a plan tier.
// Unrecognized identifiers on an active entitlement fall back to the weekly
// tier, the smallest paid allowance.
func ParseSubscriptionType(productID string) SubscriptionType {
	p := strings.ToLower(strings.TrimSpace(productID))
	switch {
	case strings.Contains(p, "lifetime"):
		return SubscriptionLifetime
	case strings.Contains(p, "annual"), strings.Contains(p, "year"):
		return SubscriptionAnnual
	case strings.Contains(p, "month"):
		return SubscriptionMonthly
	default:
		return SubscriptionWeekly
	}
}

// TierRank orders plan tiers so the best of several active entitlements wins.
func TierRank(t SubscriptionType) int {
	switch t {
	case SubscriptionLifetime:
		return 4
	case SubscriptionAnnual:
		return 3
	case SubscriptionMonthly:
		return 2
	case SubscriptionWeekly:
		return 1
	default:
		return 0
	}
}
