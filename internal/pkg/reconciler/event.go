package reconciler

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Event kinds the reconciler acts on. Everything else is observed for
// logging only: entitlement-derived fields are recomputed from the ledger on
// the next fetch anyway.
const (
	EventTypePurchase = "NON_RENEWING_PURCHASE"
	EventTypeRenewal  = "RENEWAL"
)

// DefaultPurchaseCredits is granted when a purchase event's product id
// carries no embedded quantity.
const DefaultPurchaseCredits = 10

// Event is the slice of a billing-provider webhook this engine consumes.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	AppUserID string `json:"app_user_id" validate:"required"`
	ProductID string `json:"product_id"`
}

var validate = validator.New()

func (e *Event) Validate() error {
	return validate.Struct(e)
}

// ParseEvent accepts both the provider's enveloped shape ({"event": {...}})
// and a flat payload.
func ParseEvent(payload []byte) (*Event, error) {
	var envelope struct {
		Event *Event `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Event != nil && envelope.Event.Type != "" {
		return envelope.Event, nil
	}

	var flat Event
	if err := json.Unmarshal(payload, &flat); err != nil {
		return nil, err
	}
	return &flat, nil
}

var digitRun = regexp.MustCompile(`\d+`)

// PurchaseCredits extracts the credit quantity from a pack product id: the
// first embedded decimal run, e.g. "credits_25" -> 25. Product ids without a
// quantity fall back to DefaultPurchaseCredits.
func PurchaseCredits(productID string) int {
	m := digitRun.FindString(strings.TrimSpace(productID))
	if m == "" {
		return DefaultPurchaseCredits
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return DefaultPurchaseCredits
	}
	return n
}
