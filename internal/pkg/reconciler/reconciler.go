package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/JonasWeigert/PromptGate/internal/pkg/admission"
	"github.com/JonasWeigert/PromptGate/internal/pkg/usage"
)

// Reconciler consumes asynchronous billing-provider events and brings the
// local view back in line: every recognized event invalidates the snapshot
// cache, purchases and renewals additionally mutate the remote counters.
type Reconciler struct {
	ledger admission.Ledger
	cache  *usage.SnapshotCache
}

func New(ledger admission.Ledger, cache *usage.SnapshotCache) *Reconciler {
	return &Reconciler{ledger: ledger, cache: cache}
}

// Process applies one webhook event. The returned error is for logging and
// event-store bookkeeping only; the HTTP layer acknowledges regardless, to
// avoid retry storms from the billing provider.
func (r *Reconciler) Process(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		// Without a subject user there is nothing to reconcile.
		return err
	}

	// The next read must see provider-side state, whatever the event was.
	r.cache.Invalidate(ev.AppUserID)

	switch ev.Type {
	case EventTypePurchase:
		return r.applyPurchase(ctx, ev)
	case EventTypeRenewal:
		return r.applyRenewal(ctx, ev)
	default:
		log.Printf("reconciler: observed %s event for user %s", ev.Type, ev.AppUserID)
		return nil
	}
}

func (r *Reconciler) applyPurchase(ctx context.Context, ev *Event) error {
	qty := PurchaseCredits(ev.ProductID)

	rec, err := r.ledger.FetchUsageRecord(ctx, ev.AppUserID)
	if err != nil {
		return err
	}
	rec.PurchasedCredits += qty
	if err := r.ledger.SaveUsageRecord(ctx, ev.AppUserID, rec); err != nil {
		return err
	}

	log.Printf("reconciler: credited %d purchased credits to user %s (product %s)", qty, ev.AppUserID, ev.ProductID)
	return nil
}

func (r *Reconciler) applyRenewal(ctx context.Context, ev *Event) error {
	rec, err := r.ledger.FetchUsageRecord(ctx, ev.AppUserID)
	if err != nil {
		return err
	}
	rec.WeeklyUsed = 0
	rec.WeekStart = usage.CurrentWeekStart(time.Now())
	if err := r.ledger.SaveUsageRecord(ctx, ev.AppUserID, rec); err != nil {
		return err
	}

	log.Printf("reconciler: reset weekly usage for user %s on renewal", ev.AppUserID)
	return nil
}
